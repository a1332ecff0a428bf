package model

import (
	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerID is the opaque, stable identity of a swarm member, derived from
// its long-term Ed25519 public key. It is a thin alias over libp2p's
// peer.ID: the raw bytes already total-order by lexicographic byte
// comparison (ComparePeers below), and libp2p's own host/transport/
// pubsub stack addresses peers by this same type, so no translation
// layer is needed at the swarm boundary.
type PeerID = peer.ID

// ComparePeers returns -1, 0, or 1 using lexicographic byte comparison
// of the two peer IDs' raw bytes, per §3's total order requirement.
func ComparePeers(a, b PeerID) int {
	ab, bb := []byte(a), []byte(b)
	n := len(ab)
	if len(bb) < n {
		n = len(bb)
	}
	for i := 0; i < n; i++ {
		if ab[i] != bb[i] {
			if ab[i] < bb[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ab) < len(bb):
		return -1
	case len(ab) > len(bb):
		return 1
	default:
		return 0
	}
}
