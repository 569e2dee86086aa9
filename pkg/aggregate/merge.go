package aggregate

import (
	"math"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// MergeRow combines batch statistics into an already persisted row:
// counts add up, min takes the lower bound and max the upper one.
// Canonical fields of dst are kept; they are implied by the identity.
//
// Counts are additive on purpose. Writing the same batch twice doubles
// the count while the time range stays put.
func MergeRow(dst *models.AggregateRow, src models.AggregateRow) error {
	if dst.UUID != src.UUID {
		return errors.Errorf("merge identity mismatch: %s vs %s", dst.UUID, src.UUID)
	}
	sum, carry := bits.Add64(dst.Count, src.Count, 0)
	if carry != 0 {
		return errors.Wrapf(models.ErrCountOverflow, "row %s", dst.UUID)
	}
	dst.Count = sum
	widen(dst, src.MinTimestamp, src.MaxTimestamp)
	return nil
}

// widen extends the row's time range to cover [lo, hi]. NaN inputs are
// ignored and NaN bounds are replaced.
func widen(row *models.AggregateRow, lo, hi float64) {
	if lo < row.MinTimestamp || (math.IsNaN(row.MinTimestamp) && !math.IsNaN(lo)) {
		row.MinTimestamp = lo
	}
	if hi > row.MaxTimestamp || (math.IsNaN(row.MaxTimestamp) && !math.IsNaN(hi)) {
		row.MaxTimestamp = hi
	}
}
