// Package models defines data structures for BGP elements and their aggregates.
package models

// ElemType is the kind of a BGP element.
type ElemType int

const (
	ElemAnnounce ElemType = iota
	ElemWithdraw
)

// String returns the canonical name used in grouping keys.
// The names match what existing log_table rows were generated with.
func (t ElemType) String() string {
	switch t {
	case ElemAnnounce:
		return "ANNOUNCE"
	case ElemWithdraw:
		return "WITHDRAW"
	default:
		return "UNKNOWN"
	}
}

// RawRecord is a single BGP element as produced by a record source.
type RawRecord struct {
	Type      ElemType
	Prefix    string          // CIDR as given by the source
	ASPath    []ASPathSegment // nil when the element carries no path
	NextHop   string          // "" when absent
	PeerIP    string
	PeerASN   uint32
	Timestamp float64 // seconds since epoch, fractional part preserved
	Collector string  // e.g., "rrc00"
}

// ASPathSegment is one AS_SEQUENCE or AS_SET of an AS path.
// Confederation segments are folded into the matching kind.
type ASPathSegment struct {
	Set  bool
	ASNs []uint32
}

// Sequence builds a path made of a single AS_SEQUENCE.
func Sequence(asns ...uint32) []ASPathSegment {
	if len(asns) == 0 {
		return nil
	}
	return []ASPathSegment{{ASNs: asns}}
}

// CanonicalKey is the grouping unit for a route-event shape.
// Timestamps are deliberately not part of it.
type CanonicalKey struct {
	ElemType string
	Prefix   string
	ASPath   string
	NextHop  string
	PeerIP   string
}

// AggregateRow is the accumulated view of one route-event shape.
type AggregateRow struct {
	UUID         string  `json:"uuid,omitempty" parquet:"uuid"`
	ElemType     string  `json:"elem_type" parquet:"elem_type,dict"`
	Prefix       string  `json:"prefix" parquet:"prefix,zstd"`
	ASPath       string  `json:"as_path" parquet:"as_path,zstd"`
	ASN          string  `json:"asn" parquet:"asn,zstd"`
	NextHop      string  `json:"next_hop" parquet:"next_hop,zstd"`
	PeerIP       string  `json:"peer_ip" parquet:"peer_ip,dict"`
	MinTimestamp float64 `json:"min_timestamp" parquet:"min_timestamp"`
	MaxTimestamp float64 `json:"max_timestamp" parquet:"max_timestamp"`
	Count        uint64  `json:"count" parquet:"count"`
	StartIP      string  `json:"start_ip,omitempty" parquet:"start_ip,zstd"`
	EndIP        string  `json:"end_ip,omitempty" parquet:"end_ip,zstd"`

	// OriginCountry is only filled when an ASN resolver is configured.
	OriginCountry string `json:"origin_country,omitempty" parquet:"-"`
}

// Key returns the canonical key the row was built from.
func (r *AggregateRow) Key() CanonicalKey {
	return CanonicalKey{
		ElemType: r.ElemType,
		Prefix:   r.Prefix,
		ASPath:   r.ASPath,
		NextHop:  r.NextHop,
		PeerIP:   r.PeerIP,
	}
}

// Columns is the fixed column order shared by the tabular sinks.
var Columns = []string{
	"uuid", "elem_type", "prefix", "as_path", "asn", "next_hop", "peer_ip",
	"min_timestamp", "max_timestamp", "count", "start_ip", "end_ip",
}
