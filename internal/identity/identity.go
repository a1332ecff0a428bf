// Package identity generates and loads the long-term keypair and
// pre-shared network key every meshd node needs before it can join the
// swarm (§6). On first run, when config.json has no secrets section,
// the daemon generates both, has the caller persist them, and exits so
// the operator can propagate the PSK to every other node — membership
// is enforced purely by a matching PSK, so there is no online
// enrollment flow.
package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// PSKSize is the length in bytes of the pre-shared network key (§6).
const PSKSize = 32

// Secrets is the base64-encoded form of a node's long-term keypair and
// the swarm's PSK, as stored under the config file's "secrets" key.
type Secrets struct {
	KeypairB64 string
	PSKB64     string
}

// Generate creates a fresh Ed25519 keypair and a random 32-byte PSK.
// Called on first run, when config.json carries no secrets section.
func Generate() (Secrets, error) {
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return Secrets{}, fmt.Errorf("identity: generate keypair: %w", err)
	}
	raw, err := libp2pcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return Secrets{}, fmt.Errorf("identity: marshal keypair: %w", err)
	}

	psk := make([]byte, PSKSize)
	if _, err := rand.Read(psk); err != nil {
		return Secrets{}, fmt.Errorf("identity: generate psk: %w", err)
	}

	return Secrets{
		KeypairB64: base64.StdEncoding.EncodeToString(raw),
		PSKB64:     base64.StdEncoding.EncodeToString(psk),
	}, nil
}

// PrivateKey decodes the stored keypair into a libp2p private key
// suitable for libp2p.Identity.
func (s Secrets) PrivateKey() (libp2pcrypto.PrivKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s.KeypairB64)
	if err != nil {
		return nil, fmt.Errorf("identity: decode keypair: %w", err)
	}
	priv, err := libp2pcrypto.UnmarshalPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("identity: unmarshal keypair: %w", err)
	}
	return priv, nil
}

// PSK decodes the stored pre-shared network key. Every node's PSK must
// match exactly for their connections to complete the libp2p private
// network handshake (§4.4, §9 Open Question (c): rotation is offline).
func (s Secrets) PSK() ([]byte, error) {
	psk, err := base64.StdEncoding.DecodeString(s.PSKB64)
	if err != nil {
		return nil, fmt.Errorf("identity: decode psk: %w", err)
	}
	if len(psk) != PSKSize {
		return nil, fmt.Errorf("identity: psk must be %d bytes, got %d", PSKSize, len(psk))
	}
	return psk, nil
}

// LocalPeerID derives the PeerID the swarm will know this node by from
// its keypair, without needing a running libp2p host.
func (s Secrets) LocalPeerID() (peer.ID, error) {
	priv, err := s.PrivateKey()
	if err != nil {
		return "", err
	}
	return peer.IDFromPrivateKey(priv)
}

// IsEmpty reports whether s has neither a keypair nor a PSK set — the
// signal used at startup to decide whether first-run bootstrap is
// needed (§6).
func (s Secrets) IsEmpty() bool {
	return s.KeypairB64 == "" && s.PSKB64 == ""
}
