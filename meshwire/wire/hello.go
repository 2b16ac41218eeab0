package wire

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/meshwire/meshwire/meshwire/identity"
)

var (
	ErrHelloKeyMismatch  = errors.New("wire: hello node key does not match public key")
	ErrHelloBadSignature = errors.New("wire: hello invalid signature")
	ErrHelloMissingKey   = errors.New("wire: hello missing public key")
)

// Hello binds a connection to an Ed25519 identity and declares the
// connect intent. The signature is computed over SigningBytes().
type Hello struct {
	NodeKey      string `json:"node_key"`
	PublicKey    []byte `json:"public_key"`
	Intent       uint8  `json:"intent"`
	TimestampSec int64  `json:"timestamp_sec"`
	Nonce        []byte `json:"nonce"`
	Signature    []byte `json:"signature"`
}

func NewHello(kp identity.KeyPair, intent uint8) (Hello, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return Hello{}, err
	}
	return Hello{
		NodeKey:      kp.NodeKey().String(),
		PublicKey:    append([]byte(nil), kp.PublicKey...),
		Intent:       intent,
		TimestampSec: time.Now().Unix(),
		Nonce:        nonce,
	}, nil
}

func (h Hello) SigningBytes() ([]byte, error) {
	if len(h.PublicKey) != ed25519.PublicKeySize {
		return nil, ErrHelloMissingKey
	}
	key, err := identity.ParseNodeKeyHex(h.NodeKey)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	b.Write(key[:])
	b.Write(h.PublicKey)
	b.WriteByte(h.Intent)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(h.TimestampSec))
	b.Write(ts[:])
	b.Write(h.Nonce)
	return b.Bytes(), nil
}

func (h *Hello) Sign(kp identity.KeyPair) error {
	toSign, err := h.SigningBytes()
	if err != nil {
		return err
	}
	h.Signature = kp.Sign(toSign)
	return nil
}

// Verify checks the key/identity binding and the signature.
func (h Hello) Verify() error {
	if len(h.PublicKey) != ed25519.PublicKeySize {
		return ErrHelloMissingKey
	}
	derived, err := identity.NodeKeyFromPublicKey(h.PublicKey)
	if err != nil {
		return err
	}
	claimed, err := identity.ParseNodeKeyHex(h.NodeKey)
	if err != nil {
		return err
	}
	if derived != claimed {
		return ErrHelloKeyMismatch
	}
	toVerify, err := h.SigningBytes()
	if err != nil {
		return err
	}
	if !identity.Verify(ed25519.PublicKey(h.PublicKey), toVerify, h.Signature) {
		return ErrHelloBadSignature
	}
	return nil
}

// Key returns the verified node key. Call Verify first.
func (h Hello) Key() (identity.NodeKey, error) {
	return identity.ParseNodeKeyHex(h.NodeKey)
}

func EncodeHello(h Hello) ([]byte, error) {
	return json.Marshal(h)
}

func DecodeHello(b []byte) (Hello, error) {
	var h Hello
	if err := json.Unmarshal(b, &h); err != nil {
		return Hello{}, err
	}
	if h.NodeKey == "" {
		return Hello{}, fmt.Errorf("wire: hello missing node_key")
	}
	return h, nil
}
