package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
)

// NodeKey is the stable identifier for a peer: the raw Ed25519 public key.
// Two NodeKeys are equal iff their key bytes are equal, which makes the
// type directly usable as a map key.
type NodeKey [ed25519.PublicKeySize]byte

var ErrInvalidNodeKey = errors.New("identity: invalid node key")

func NodeKeyFromPublicKey(publicKey []byte) (NodeKey, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return NodeKey{}, ErrInvalidNodeKey
	}
	var k NodeKey
	copy(k[:], publicKey)
	return k, nil
}

func ParseNodeKeyHex(s string) (NodeKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeKey{}, err
	}
	return NodeKeyFromPublicKey(b)
}

func (k NodeKey) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(k[:])
}

func (k NodeKey) IsZero() bool {
	return k == NodeKey{}
}

func (k NodeKey) String() string {
	return hex.EncodeToString(k[:])
}

// Short returns an abbreviated form for log output.
func (k NodeKey) Short() string {
	return hex.EncodeToString(k[:4])
}
