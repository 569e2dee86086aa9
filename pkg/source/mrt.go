package source

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"

	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
	"github.com/osrg/gobgp/v3/pkg/packet/mrt"
	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// maxMRTEntry bounds a single MRT entry; BGP messages are at most 64KiB.
const maxMRTEntry = 1 << 20

// mrtDump reads an MRT update archive (RFC 6396) as published by RIPE RIS
// and RouteViews. Only BGP4MP UPDATE messages produce elements; table
// dumps, state changes and other BGP messages are skipped.
type mrtDump struct {
	name    string
	r       *bufio.Reader
	closers []io.Closer
	pending []models.RawRecord
	entry   int
}

func (d *mrtDump) Next() (models.RawRecord, error) {
	for len(d.pending) == 0 {
		hdr := make([]byte, mrt.MRT_COMMON_HEADER_LEN)
		if _, err := io.ReadFull(d.r, hdr); err != nil {
			if err == io.EOF {
				return models.RawRecord{}, io.EOF
			}
			return models.RawRecord{}, errors.Wrapf(err, "entry %d: reading header", d.entry+1)
		}
		d.entry++

		h := &mrt.MRTHeader{}
		if err := h.DecodeFromBytes(hdr); err != nil {
			return models.RawRecord{}, errors.Wrapf(err, "entry %d", d.entry)
		}
		if h.Len > maxMRTEntry {
			return models.RawRecord{}, errors.Errorf("entry %d: length %d exceeds limit", d.entry, h.Len)
		}
		body := make([]byte, h.Len)
		if _, err := io.ReadFull(d.r, body); err != nil {
			return models.RawRecord{}, errors.Wrapf(err, "entry %d: reading body", d.entry)
		}

		records, err := decodeMRT(h, body)
		if err != nil {
			return models.RawRecord{}, errors.Wrapf(err, "entry %d", d.entry)
		}
		d.pending = records
	}

	rec := d.pending[0]
	d.pending = d.pending[1:]
	return rec, nil
}

func (d *mrtDump) Close() error {
	return closeAll(d.closers)
}

// decodeMRT turns one MRT entry into elements.
func decodeMRT(h *mrt.MRTHeader, body []byte) ([]models.RawRecord, error) {
	ts := float64(h.Timestamp)
	switch h.Type {
	case mrt.BGP4MP:
	case mrt.BGP4MP_ET:
		// Extended timestamp entries carry microseconds ahead of the body.
		if len(body) < 4 {
			return nil, errors.New("truncated extended timestamp")
		}
		ts += float64(binary.BigEndian.Uint32(body[:4])) / 1e6
		plain := *h
		plain.Type = mrt.BGP4MP
		plain.Len -= 4
		h, body = &plain, body[4:]
	default:
		return nil, nil
	}

	msg, err := mrt.ParseMRTBody(h, body)
	if err != nil {
		return nil, errors.Wrap(err, "parsing BGP4MP entry")
	}
	m, ok := msg.Body.(*mrt.BGP4MPMessage)
	if !ok || m.BGPMessage == nil {
		return nil, nil
	}
	update, ok := m.BGPMessage.Body.(*bgp.BGPUpdate)
	if !ok {
		return nil, nil
	}
	return updateRecords(update, ipString(m.PeerIpAddress), m.PeerAS, ts), nil
}

// updateRecords emits one element per announced or withdrawn prefix,
// covering both the IPv4 fields and MP_REACH/MP_UNREACH.
func updateRecords(u *bgp.BGPUpdate, peer string, peerAS uint32, ts float64) []models.RawRecord {
	var (
		path, as4Path []models.ASPathSegment
		nextHop       string
		mpNextHop     string
		mpAnnounced   []string
		withdrawn     []string
	)
	for _, w := range u.WithdrawnRoutes {
		withdrawn = append(withdrawn, w.String())
	}
	for _, attr := range u.PathAttributes {
		switch a := attr.(type) {
		case *bgp.PathAttributeAsPath:
			path = asPathSegments(a.Value)
		case *bgp.PathAttributeAs4Path:
			as4Path = as4PathSegments(a.Value)
		case *bgp.PathAttributeNextHop:
			nextHop = ipString(a.Value)
		case *bgp.PathAttributeMpReachNLRI:
			mpNextHop = ipString(a.Nexthop)
			mpAnnounced = append(mpAnnounced, unicastPrefixes(a.Value)...)
		case *bgp.PathAttributeMpUnreachNLRI:
			withdrawn = append(withdrawn, unicastPrefixes(a.Value)...)
		}
	}
	path = mergeAS4Path(path, as4Path)

	records := make([]models.RawRecord, 0, len(u.NLRI)+len(mpAnnounced)+len(withdrawn))
	announce := func(prefix, hop string) {
		records = append(records, models.RawRecord{
			Type:      models.ElemAnnounce,
			Prefix:    prefix,
			ASPath:    path,
			NextHop:   hop,
			PeerIP:    peer,
			PeerASN:   peerAS,
			Timestamp: ts,
		})
	}
	for _, n := range u.NLRI {
		announce(n.String(), nextHop)
	}
	for _, p := range mpAnnounced {
		announce(p, mpNextHop)
	}
	for _, p := range withdrawn {
		records = append(records, models.RawRecord{
			Type:      models.ElemWithdraw,
			Prefix:    p,
			PeerIP:    peer,
			PeerASN:   peerAS,
			Timestamp: ts,
		})
	}
	return records
}

func unicastPrefixes(nlri []bgp.AddrPrefixInterface) []string {
	var out []string
	for _, p := range nlri {
		switch p.(type) {
		case *bgp.IPAddrPrefix, *bgp.IPv6AddrPrefix:
			out = append(out, p.String())
		}
	}
	return out
}

func isSetSegment(t uint8) bool {
	return t == bgp.BGP_ASPATH_ATTR_TYPE_SET || t == bgp.BGP_ASPATH_ATTR_TYPE_CONFED_SET
}

func asPathSegments(params []bgp.AsPathParamInterface) []models.ASPathSegment {
	var out []models.ASPathSegment
	for _, p := range params {
		out = append(out, models.ASPathSegment{Set: isSetSegment(p.GetType()), ASNs: p.GetAS()})
	}
	return out
}

func as4PathSegments(params []*bgp.As4PathParam) []models.ASPathSegment {
	var out []models.ASPathSegment
	for _, p := range params {
		out = append(out, models.ASPathSegment{Set: isSetSegment(p.Type), ASNs: p.AS})
	}
	return out
}

// pathLength counts a path the way RFC 6793 does: one per sequence
// member, one per set.
func pathLength(path []models.ASPathSegment) int {
	n := 0
	for _, seg := range path {
		if seg.Set {
			n++
		} else {
			n += len(seg.ASNs)
		}
	}
	return n
}

// mergeAS4Path rebuilds the 4-byte path of a 2-byte session: the leading
// part of AS_PATH that AS4_PATH does not cover, followed by AS4_PATH.
func mergeAS4Path(path, as4 []models.ASPathSegment) []models.ASPathSegment {
	n, m := pathLength(path), pathLength(as4)
	if len(as4) == 0 || m > n {
		return path
	}
	keep := n - m
	var out []models.ASPathSegment
	for _, seg := range path {
		if keep == 0 {
			break
		}
		if seg.Set {
			out = append(out, seg)
			keep--
			continue
		}
		take := min(len(seg.ASNs), keep)
		out = append(out, models.ASPathSegment{ASNs: seg.ASNs[:take]})
		keep -= take
	}
	return append(out, as4...)
}

func ipString(ip net.IP) string {
	if ip == nil || ip.IsUnspecified() {
		return ""
	}
	return ip.String()
}
