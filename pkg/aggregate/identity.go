package aggregate

import (
	"github.com/google/uuid"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// keyDelimiter separates the key fields in the hashed form.
const keyDelimiter = "|"

// Namespace is the fixed UUIDv5 namespace for route-event identities.
// Changing it would break merging with rows written by earlier runs.
var Namespace = uuid.MustParse("40689d13-36ac-4216-9c41-f02b007d46c2")

// KeyString returns the canonical string form that is hashed into the identity:
// elem_type|prefix|as_path|next_hop|peer_ip.
func KeyString(k models.CanonicalKey) string {
	return k.ElemType + keyDelimiter +
		k.Prefix + keyDelimiter +
		k.ASPath + keyDelimiter +
		k.NextHop + keyDelimiter +
		k.PeerIP
}

// IdentityOf returns the version 5 UUID of the key.
func IdentityOf(k models.CanonicalKey) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(KeyString(k)))
}
