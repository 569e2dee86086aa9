package aggregate

import (
	"math"
	"math/bits"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// Aggregator owns the mapping from identity to aggregate row for one run.
// It is not safe for concurrent use; runs that need parallelism use one
// Aggregator each and combine them with Merge.
type Aggregator struct {
	rows map[uuid.UUID]*models.AggregateRow

	// Stats
	observed uint64
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{rows: make(map[uuid.UUID]*models.AggregateRow)}
}

// Add normalizes a raw record and folds it into the mapping.
func (a *Aggregator) Add(rec models.RawRecord) (uuid.UUID, error) {
	key := Normalize(rec)
	id := IdentityOf(key)
	return id, a.Upsert(id, key, rec.Timestamp)
}

// Upsert creates the row for id on first observation, otherwise widens its
// time range and bumps its count. Equal timestamps leave the bounds as they
// are. A NaN timestamp never replaces a bound, and a NaN bound is replaced
// by the next real timestamp.
func (a *Aggregator) Upsert(id uuid.UUID, key models.CanonicalKey, ts float64) error {
	row, ok := a.rows[id]
	if !ok {
		row = newRow(id, key, ts)
		a.rows[id] = row
		a.observed++
		return nil
	}

	if row.Count == math.MaxUint64 {
		return errors.Wrapf(models.ErrCountOverflow, "row %s", row.UUID)
	}
	widen(row, ts, ts)
	row.Count++
	a.observed++
	return nil
}

// Len returns the number of distinct identities seen so far.
func (a *Aggregator) Len() int {
	return len(a.rows)
}

// Observed returns the number of records folded in, including merged ones.
func (a *Aggregator) Observed() uint64 {
	return a.observed
}

// Drain hands over every row and leaves the aggregator empty.
// The order of the returned rows is unspecified.
func (a *Aggregator) Drain() []models.AggregateRow {
	out := make([]models.AggregateRow, 0, len(a.rows))
	for _, row := range a.rows {
		out = append(out, *row)
	}
	a.rows = make(map[uuid.UUID]*models.AggregateRow)
	a.observed = 0
	return out
}

// Merge folds every row of other into a using the cross-run merge rules,
// then drains other. All counts are checked first, so on error neither
// aggregator has been modified.
func (a *Aggregator) Merge(other *Aggregator) error {
	for id, src := range other.rows {
		if dst, ok := a.rows[id]; ok {
			if _, carry := bits.Add64(dst.Count, src.Count, 0); carry != 0 {
				return errors.Wrapf(models.ErrCountOverflow, "row %s", dst.UUID)
			}
		}
	}
	for id, src := range other.rows {
		dst, ok := a.rows[id]
		if !ok {
			cp := *src
			a.rows[id] = &cp
			continue
		}
		if err := MergeRow(dst, *src); err != nil {
			return err
		}
	}
	a.observed += other.observed
	other.Drain()
	return nil
}

func newRow(id uuid.UUID, key models.CanonicalKey, ts float64) *models.AggregateRow {
	d := Derive(key)
	return &models.AggregateRow{
		UUID:         id.String(),
		ElemType:     key.ElemType,
		Prefix:       key.Prefix,
		ASPath:       key.ASPath,
		ASN:          d.ASN,
		NextHop:      key.NextHop,
		PeerIP:       key.PeerIP,
		MinTimestamp: ts,
		MaxTimestamp: ts,
		Count:        1,
		StartIP:      d.StartIP,
		EndIP:        d.EndIP,
	}
}
