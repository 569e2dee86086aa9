// Package aggregate groups BGP elements by route-event shape and keeps
// per-shape time range and occurrence count.
package aggregate

import (
	"strconv"
	"strings"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// Normalize turns a raw record into its canonical key.
// A missing AS path or next hop yields the empty string, so absent and
// empty values fall into the same key class.
func Normalize(rec models.RawRecord) models.CanonicalKey {
	return models.CanonicalKey{
		ElemType: rec.Type.String(),
		Prefix:   rec.Prefix,
		ASPath:   FormatASPath(rec.ASPath),
		NextHop:  rec.NextHop,
		PeerIP:   rec.PeerIP,
	}
}

// FormatASPath renders a path the way route collectors print it:
// sequence members separated by spaces and sets in braces with commas,
// e.g. "174 {3356,65001}". Empty segments are skipped.
func FormatASPath(path []models.ASPathSegment) string {
	if len(path) == 0 {
		return ""
	}
	var b strings.Builder
	for _, seg := range path {
		if len(seg.ASNs) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		if seg.Set {
			b.WriteByte('{')
			for i, asn := range seg.ASNs {
				if i > 0 {
					b.WriteByte(',')
				}
				b.WriteString(strconv.FormatUint(uint64(asn), 10))
			}
			b.WriteByte('}')
			continue
		}
		for i, asn := range seg.ASNs {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.FormatUint(uint64(asn), 10))
		}
	}
	return b.String()
}
