package quic

import (
	"context"
	"errors"

	q "github.com/quic-go/quic-go"

	"github.com/meshwire/meshwire/meshwire/identity"
	"github.com/meshwire/meshwire/meshwire/wire"
)

var (
	ErrHandshakeExpectedHello = errors.New("transport/quic: handshake expected HELLO")
	ErrIdentityMismatch       = errors.New("transport/quic: remote identity does not match dial target")
)

// link is an authenticated control stream on a QUIC connection.
type link struct {
	conn    *q.Conn
	control *q.Stream
	remote  identity.NodeKey
	// binding correlates both sides of this connection in logs.
	binding string
	// intent is the connect intent declared by the initiator.
	intent uint8
}

func sendHello(control *q.Stream, kp identity.KeyPair, intent uint8) (wire.Hello, error) {
	hello, err := wire.NewHello(kp, intent)
	if err != nil {
		return wire.Hello{}, err
	}
	if err := hello.Sign(kp); err != nil {
		return wire.Hello{}, err
	}
	payload, err := wire.EncodeHello(hello)
	if err != nil {
		return wire.Hello{}, err
	}
	return hello, wire.WriteFrame(control, wire.Frame{Type: wire.MessageTypeHello, Payload: payload})
}

func recvHello(control *q.Stream) (wire.Hello, error) {
	frame, err := wire.ReadFrame(control)
	if err != nil {
		return wire.Hello{}, err
	}
	if frame.Type != wire.MessageTypeHello {
		return wire.Hello{}, ErrHandshakeExpectedHello
	}
	hello, err := wire.DecodeHello(frame.Payload)
	if err != nil {
		return wire.Hello{}, err
	}
	if err := hello.Verify(); err != nil {
		return wire.Hello{}, err
	}
	return hello, nil
}

// handshakeClient opens the control stream, sends the local HELLO with the
// declared intent and verifies the remote one.
func handshakeClient(ctx context.Context, conn *q.Conn, kp identity.KeyPair, intent uint8) (*link, error) {
	control, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}

	local, err := sendHello(control, kp, intent)
	if err != nil {
		return nil, err
	}
	remote, err := recvHello(control)
	if err != nil {
		return nil, err
	}
	remoteKey, err := remote.Key()
	if err != nil {
		return nil, err
	}

	return &link{
		conn:    conn,
		control: control,
		remote:  remoteKey,
		binding: wire.BindingTokenString(local, remote),
		intent:  intent,
	}, nil
}

// handshakeServer accepts the control stream, verifies the initiator's
// HELLO and answers with its own.
func handshakeServer(ctx context.Context, conn *q.Conn, kp identity.KeyPair) (*link, error) {
	control, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}

	remote, err := recvHello(control)
	if err != nil {
		return nil, err
	}
	remoteKey, err := remote.Key()
	if err != nil {
		return nil, err
	}

	local, err := sendHello(control, kp, remote.Intent)
	if err != nil {
		return nil, err
	}

	return &link{
		conn:    conn,
		control: control,
		remote:  remoteKey,
		binding: wire.BindingTokenString(remote, local),
		intent:  remote.Intent,
	}, nil
}
