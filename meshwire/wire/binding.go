package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// BindingTokenSize is the length of a channel-binding token in bytes.
const BindingTokenSize = 16

// BindingToken derives a stable per-connection token from both HELLO
// exchanges via HKDF-SHA256. Both ends compute the same value, so it can
// be used to correlate the two sides of one connection in logs without
// exposing either nonce.
func BindingToken(initiator, responder Hello) ([]byte, error) {
	secret := make([]byte, 0, len(initiator.Nonce)+len(responder.Nonce))
	secret = append(secret, initiator.Nonce...)
	secret = append(secret, responder.Nonce...)

	info := make([]byte, 0, 64+len("meshwire-binding"))
	info = append(info, []byte("meshwire-binding")...)
	info = append(info, initiator.PublicKey...)
	info = append(info, responder.PublicKey...)

	hk := hkdf.New(sha256.New, secret, nil, info)
	token := make([]byte, BindingTokenSize)
	if _, err := io.ReadFull(hk, token); err != nil {
		return nil, err
	}
	return token, nil
}

// BindingTokenString is BindingToken rendered for log fields.
func BindingTokenString(initiator, responder Hello) string {
	token, err := BindingToken(initiator, responder)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(token)
}
