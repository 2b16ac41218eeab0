// Package quic is the QUIC transport for meshwire connections.
//
// Each connection runs a signed HELLO exchange on a dedicated control
// stream, which binds the encrypted QUIC connection to an Ed25519 node
// identity and declares the initiator's intent. The per-intent exchanges
// (address fetch, sync pull) then run on the same control stream.
package quic

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	q "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/meshwire/meshwire/meshwire/conn"
	"github.com/meshwire/meshwire/meshwire/directory"
	"github.com/meshwire/meshwire/meshwire/identity"
	"github.com/meshwire/meshwire/meshwire/wire"
)

const (
	DefaultDialTimeout = 10 * time.Second

	closeCodeDone  q.ApplicationErrorCode = 0
	closeCodeError q.ApplicationErrorCode = 1
)

var ErrClosed = errors.New("transport/quic: transport closed")

// SnapshotSource provides the sync snapshot served to peers that connect
// with the fetch-sync intent.
type SnapshotSource interface {
	Snapshot() ([]byte, error)
}

// SnapshotSink receives snapshots pulled from peers.
type SnapshotSink interface {
	ApplySnapshot(data []byte) error
}

// Option configures a Transport.
type Option func(*Transport)

func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) { t.dialTimeout = d }
}

func WithSnapshotSource(src SnapshotSource) Option {
	return func(t *Transport) { t.snapshots = src }
}

func WithSnapshotSink(sink SnapshotSink) Option {
	return func(t *Transport) { t.syncSink = sink }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(t *Transport) { t.log = log }
}

// Transport dials and accepts identity-bound QUIC connections. It reports
// connection lifecycle into the conn.Events sink (the registry) and feeds
// fetched addresses into the directory.
type Transport struct {
	kp          identity.KeyPair
	dir         directory.Directory
	events      conn.Events
	snapshots   SnapshotSource
	syncSink    SnapshotSink
	log         *zap.SugaredLogger
	dialTimeout time.Duration

	mu       sync.Mutex
	listener *q.Listener
	closed   bool
	wg       sync.WaitGroup
}

func New(kp identity.KeyPair, dir directory.Directory, events conn.Events, opts ...Option) *Transport {
	t := &Transport{
		kp:          kp,
		dir:         dir,
		events:      events,
		log:         zap.NewNop().Sugar(),
		dialTimeout: DefaultDialTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.events == nil {
		t.events = noopEvents{}
	}
	return t
}

type noopEvents struct{}

func (noopEvents) OnConnected(identity.NodeKey)    {}
func (noopEvents) OnDisconnected(identity.NodeKey) {}

// Listen starts accepting inbound connections on addr.
func (t *Transport) Listen(addr string) error {
	tlsConf, err := newServerTLSConfig()
	if err != nil {
		return err
	}
	ln, err := q.ListenAddr(addr, tlsConf, &q.Config{})
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		ln.Close()
		return ErrClosed
	}
	t.listener = ln
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop(ln)
	return nil
}

// Addr returns the bound listen address, or "" before Listen.
func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	ln := t.listener
	t.listener = nil
	t.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	t.wg.Wait()
	return err
}

func (t *Transport) acceptLoop(ln *q.Listener) {
	defer t.wg.Done()
	for {
		qc, err := ln.Accept(context.Background())
		if err != nil {
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleInbound(qc)
		}()
	}
}

func (t *Transport) handleInbound(qc *q.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), t.dialTimeout)
	l, err := handshakeServer(ctx, qc, t.kp)
	cancel()
	if err != nil {
		t.log.Debugw("inbound handshake failed", "err", err)
		_ = qc.CloseWithError(closeCodeError, "handshake failed")
		return
	}

	t.events.OnConnected(l.remote)
	t.log.Debugw("inbound connection", "peer", l.remote.Short(), "binding", l.binding,
		"intent", conn.Intent(l.intent).String())

	t.serve(l)

	t.events.OnDisconnected(l.remote)
	_ = qc.CloseWithError(closeCodeDone, "")
}

// serve answers control-stream requests until the peer closes.
func (t *Transport) serve(l *link) {
	for {
		frame, err := wire.ReadFrame(l.control)
		if err != nil {
			if err != io.EOF {
				t.log.Debugw("control stream ended", "peer", l.remote.Short(), "err", err)
			}
			return
		}

		switch frame.Type {
		case wire.MessageTypeAddrRequest:
			if err := t.serveAddrs(l); err != nil {
				t.log.Debugw("address exchange failed", "peer", l.remote.Short(), "err", err)
				return
			}
		case wire.MessageTypeSyncRequest:
			if err := t.serveSnapshot(l); err != nil {
				t.log.Debugw("snapshot serve failed", "peer", l.remote.Short(), "err", err)
				return
			}
		case wire.MessageTypeClose:
			return
		default:
			t.log.Debugw("unexpected frame", "peer", l.remote.Short(), "type", frame.Type.String())
			return
		}
	}
}

func (t *Transport) serveAddrs(l *link) error {
	recs, err := t.dir.AllRecords()
	if err != nil {
		return err
	}
	// The requester does not need its own record back.
	recs = directory.WithoutKeys(recs, directory.KeySet(l.remote))
	payload, err := wire.EncodeAddrList(recs)
	if err != nil {
		return err
	}
	return wire.WriteFrame(l.control, wire.Frame{Type: wire.MessageTypeAddrList, Payload: payload})
}

func (t *Transport) serveSnapshot(l *link) error {
	var data []byte
	if t.snapshots != nil {
		var err error
		data, err = t.snapshots.Snapshot()
		if err != nil {
			return err
		}
	}
	return wire.WriteFrame(l.control, wire.Frame{Type: wire.MessageTypeSyncSnapshot, Payload: data})
}

// ConnectBlocking dials desc, performs the handshake, runs the intent's
// exchange and tears the connection down. The caller is suspended until
// the outcome is known, bounded by the dial timeout.
func (t *Transport) ConnectBlocking(ctx context.Context, desc conn.Descriptor) error {
	ctx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	tlsConf, err := newClientTLSConfig()
	if err != nil {
		return err
	}
	qc, err := q.DialAddr(ctx, desc.Addr(), tlsConf, &q.Config{})
	if err != nil {
		return err
	}

	l, err := handshakeClient(ctx, qc, t.kp, uint8(desc.Intent))
	if err != nil {
		_ = qc.CloseWithError(closeCodeError, "handshake failed")
		return err
	}
	if l.remote != desc.Key {
		_ = qc.CloseWithError(closeCodeError, "identity mismatch")
		return ErrIdentityMismatch
	}

	t.events.OnConnected(l.remote)
	t.log.Debugw("outbound connection", "peer", l.remote.Short(), "binding", l.binding,
		"intent", desc.Intent.String())

	exchErr := t.runIntent(l, desc.Intent)

	t.events.OnDisconnected(l.remote)
	_ = qc.CloseWithError(closeCodeDone, "")
	return exchErr
}

// ConnectAsync runs ConnectBlocking on its own goroutine. done fires
// exactly once when the attempt terminates.
func (t *Transport) ConnectAsync(desc conn.Descriptor, done func(err error)) {
	go func() {
		done(t.ConnectBlocking(context.Background(), desc))
	}()
}

func (t *Transport) runIntent(l *link, intent conn.Intent) error {
	switch intent {
	case conn.IntentFetchAddrs:
		return t.fetchAddrs(l)
	case conn.IntentFetchSync:
		return t.fetchSnapshot(l)
	default:
		// Misc and open-channel connects have no exchange of their own;
		// the connection existed for its side effects.
		return wire.WriteFrame(l.control, wire.Frame{Type: wire.MessageTypeClose})
	}
}

// fetchAddrs performs the gossip address exchange: request the remote's
// records and announce the new ones into the local directory.
func (t *Transport) fetchAddrs(l *link) error {
	if err := wire.WriteFrame(l.control, wire.Frame{Type: wire.MessageTypeAddrRequest}); err != nil {
		return err
	}
	frame, err := wire.ReadFrame(l.control)
	if err != nil {
		return err
	}
	if frame.Type != wire.MessageTypeAddrList {
		return errors.New("transport/quic: expected ADDR_LIST")
	}
	recs, err := wire.DecodeAddrList(frame.Payload)
	if err != nil {
		return err
	}

	self := t.kp.NodeKey()
	added := 0
	for _, rec := range recs {
		if rec.Key == self {
			continue
		}
		if err := t.dir.Announce(rec); err != nil {
			t.log.Debugw("announce gossiped record failed", "peer", rec.Key.Short(), "err", err)
			continue
		}
		added++
	}
	t.log.Debugw("address exchange complete", "peer", l.remote.Short(), "received", len(recs), "announced", added)
	return nil
}

func (t *Transport) fetchSnapshot(l *link) error {
	if err := wire.WriteFrame(l.control, wire.Frame{Type: wire.MessageTypeSyncRequest}); err != nil {
		return err
	}
	frame, err := wire.ReadFrame(l.control)
	if err != nil {
		return err
	}
	if frame.Type != wire.MessageTypeSyncSnapshot {
		return errors.New("transport/quic: expected SYNC_SNAPSHOT")
	}
	if t.syncSink == nil || len(frame.Payload) == 0 {
		return nil
	}
	return t.syncSink.ApplySnapshot(frame.Payload)
}
