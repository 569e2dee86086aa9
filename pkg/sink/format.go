package sink

import (
	"strconv"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// formatFloat renders timestamps with the shortest exact representation.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// rowValues returns the row in models.Columns order.
func rowValues(r *models.AggregateRow) []string {
	return []string{
		r.UUID,
		r.ElemType,
		r.Prefix,
		r.ASPath,
		r.ASN,
		r.NextHop,
		r.PeerIP,
		formatFloat(r.MinTimestamp),
		formatFloat(r.MaxTimestamp),
		strconv.FormatUint(r.Count, 10),
		r.StartIP,
		r.EndIP,
	}
}

// rowFromFields rebuilds a row from column-keyed strings.
func rowFromFields(f map[string]string) (models.AggregateRow, error) {
	row := models.AggregateRow{
		UUID:     f["uuid"],
		ElemType: f["elem_type"],
		Prefix:   f["prefix"],
		ASPath:   f["as_path"],
		ASN:      f["asn"],
		NextHop:  f["next_hop"],
		PeerIP:   f["peer_ip"],
		StartIP:  f["start_ip"],
		EndIP:    f["end_ip"],
	}
	var err error
	if row.MinTimestamp, err = strconv.ParseFloat(f["min_timestamp"], 64); err != nil {
		return row, err
	}
	if row.MaxTimestamp, err = strconv.ParseFloat(f["max_timestamp"], 64); err != nil {
		return row, err
	}
	if row.Count, err = strconv.ParseUint(f["count"], 10, 64); err != nil {
		return row, err
	}
	return row, nil
}
