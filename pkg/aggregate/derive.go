package aggregate

import (
	"math/big"
	"net/netip"
	"strings"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// Derived holds the columns computed from a canonical key.
type Derived struct {
	ASN     string // last AS number of the path, set members included
	StartIP string // network address as a decimal integer
	EndIP   string // broadcast address as a decimal integer
}

// Derive computes asn, start_ip and end_ip. Values that cannot be
// derived (no path, unparsable prefix) are left empty.
func Derive(k models.CanonicalKey) Derived {
	var d Derived
	d.ASN = lastASN(k.ASPath)
	d.StartIP, d.EndIP = PrefixBounds(k.Prefix)
	return d
}

// PrefixBounds returns the first and last address of a CIDR prefix as
// decimal strings. Both address families are supported.
func PrefixBounds(prefix string) (start, end string) {
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		return "", ""
	}
	p = p.Masked()
	addr := p.Addr()

	raw := addr.AsSlice()
	lo := new(big.Int).SetBytes(raw)

	hostBits := uint(addr.BitLen() - p.Bits())
	mask := new(big.Int).Lsh(big.NewInt(1), hostBits)
	mask.Sub(mask, big.NewInt(1))
	hi := new(big.Int).Or(lo, mask)

	return lo.String(), hi.String()
}

// lastASN returns the last AS number printed in a formatted path. For a
// trailing set such as "{3356,65001}" that is its last member.
func lastASN(path string) string {
	if i := strings.LastIndexByte(path, ' '); i >= 0 {
		path = path[i+1:]
	}
	path = strings.TrimSuffix(strings.TrimPrefix(path, "{"), "}")
	if i := strings.LastIndexByte(path, ','); i >= 0 {
		path = path[i+1:]
	}
	return path
}
