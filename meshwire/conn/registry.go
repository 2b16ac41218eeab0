package conn

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/meshwire/meshwire/meshwire/directory"
	"github.com/meshwire/meshwire/meshwire/identity"
)

var (
	// ErrNoKnownAddress means the directory has no record for the peer,
	// so a connect request cannot even be attempted.
	ErrNoKnownAddress = errors.New("conn: no known address for peer")

	// ErrAttemptEnded means the underlying connection closed before the
	// pending connect request completed.
	ErrAttemptEnded = errors.New("conn: connection attempt ended")
)

// Listener is a single-shot connect completion callback. A nil error
// means the peer is connected.
type Listener func(err error)

// RecordSource is the directory lookup the registry needs to resolve a
// peer's most recent address.
type RecordSource interface {
	RecordFor(key identity.NodeKey) (directory.Record, error)
}

// Dialer starts an asynchronous transport attempt. done is invoked exactly
// once, when the attempt terminates: with an error if dialing or the
// handshake failed, with nil once an established connection has closed.
// Successful establishment is reported separately through the Events sink.
type Dialer interface {
	ConnectAsync(desc Descriptor, done func(err error))
}

// Events is the sink the transport reports connection lifecycle into.
// The Registry implements it.
type Events interface {
	OnConnected(key identity.NodeKey)
	OnDisconnected(key identity.NodeKey)
}

type entryState int

const (
	stateUntracked entryState = iota
	stateConnecting
	stateConnected
)

// entry holds the per-key state. All transitions happen under entry.mu,
// so operations on different keys never serialize against each other.
type entry struct {
	mu        sync.Mutex
	state     entryState
	listeners []Listener
	// gone marks an entry that has been removed from the map; a caller
	// that raced the removal must retry with a fresh entry.
	gone bool
}

// Registry is the authoritative volatile state of which node identities
// are connected or connecting. At most one transport attempt is in flight
// per identity; concurrent connect requests for the same identity share
// that attempt and are all notified on completion, in arrival order.
type Registry struct {
	records RecordSource
	dialer  Dialer
	log     *zap.SugaredLogger

	entries sync.Map // identity.NodeKey -> *entry
}

func NewRegistry(records RecordSource, dialer Dialer, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{records: records, dialer: dialer, log: log}
}

// lockedEntry returns the entry for key with its lock held, creating it
// if absent. LoadOrStore is the insert-if-absent step that makes the
// single-in-flight-attempt invariant hold.
func (r *Registry) lockedEntry(key identity.NodeKey) *entry {
	for {
		v, _ := r.entries.LoadOrStore(key, &entry{})
		e := v.(*entry)
		e.mu.Lock()
		if e.gone {
			e.mu.Unlock()
			continue
		}
		return e
	}
}

// remove deletes the entry from the map. Caller holds e.mu.
func (r *Registry) remove(key identity.NodeKey, e *entry) {
	e.gone = true
	e.state = stateUntracked
	r.entries.Delete(key)
}

func (r *Registry) IsConnected(key identity.NodeKey) bool {
	v, ok := r.entries.Load(key)
	if !ok {
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.gone && e.state == stateConnected
}

// OnConnected records a transport-level connection to key and fires any
// pending connect listeners with success. Idempotent.
func (r *Registry) OnConnected(key identity.NodeKey) {
	e := r.lockedEntry(key)
	e.state = stateConnected
	pending := e.listeners
	e.listeners = nil
	e.mu.Unlock()

	for _, l := range pending {
		l(nil)
	}
}

// OnDisconnected forgets all volatile state for key. Disconnection is not
// a connect completion, so no listener is notified here; a still-pending
// attempt is failed by the dial completion handler instead. Idempotent.
func (r *Registry) OnDisconnected(key identity.NodeKey) {
	v, ok := r.entries.Load(key)
	if !ok {
		return
	}
	e := v.(*entry)
	e.mu.Lock()
	if !e.gone {
		r.remove(key, e)
	}
	e.mu.Unlock()
}

// Connect requests a connection to key and reports the outcome through
// listener, exactly once.
//
//   - already connected: listener fires synchronously with success, no
//     transport attempt is made
//   - currently connecting: listener joins the pending list for the
//     in-flight attempt
//   - untracked: the caller claims the connecting slot and a single
//     transport attempt is started with IntentMisc
func (r *Registry) Connect(key identity.NodeKey, listener Listener) {
	if listener == nil {
		listener = func(error) {}
	}

	e := r.lockedEntry(key)
	switch e.state {
	case stateConnected:
		e.mu.Unlock()
		listener(nil)
		return
	case stateConnecting:
		e.listeners = append(e.listeners, listener)
		e.mu.Unlock()
		return
	}

	e.state = stateConnecting
	e.listeners = append(e.listeners, listener)
	e.mu.Unlock()

	rec, err := r.records.RecordFor(key)
	if err != nil {
		r.log.Debugw("connect: no address record", "peer", key.Short(), "err", err)
		r.failConnecting(key, e, ErrNoKnownAddress)
		return
	}
	desc, err := Resolve(rec, IntentMisc)
	if err != nil {
		r.failConnecting(key, e, err)
		return
	}

	r.dialer.ConnectAsync(desc, func(dialErr error) {
		// The opportunistic connection is torn down once its attempt
		// terminates, whatever the outcome. Listeners that were never
		// answered by OnConnected are failed, not dropped.
		if dialErr == nil {
			dialErr = ErrAttemptEnded
		}
		r.attemptEnded(key, e, dialErr)
	})
}

// failConnecting releases key back to untracked if e still holds the
// connecting claim and fires its pending listeners with err. Bound to the
// entry that claimed the attempt: once the key has moved on (connected,
// removed, or claimed by a later attempt) it is a no-op. A key that made
// it to connected state is left alone.
func (r *Registry) failConnecting(key identity.NodeKey, e *entry, err error) {
	e.mu.Lock()
	if e.gone || e.state != stateConnecting {
		e.mu.Unlock()
		return
	}
	pending := e.listeners
	e.listeners = nil
	r.remove(key, e)
	e.mu.Unlock()

	for _, l := range pending {
		l(err)
	}
}

// attemptEnded is the dial completion for the attempt that claimed e.
// A completion arriving after OnDisconnected already retired e — and a
// fresh attempt may own the key by then — must not touch the newer
// attempt's state, so everything here keys off e, never off a map lookup.
func (r *Registry) attemptEnded(key identity.NodeKey, e *entry, err error) {
	e.mu.Lock()
	if e.gone {
		e.mu.Unlock()
		return
	}
	wasConnecting := e.state == stateConnecting
	pending := e.listeners
	e.listeners = nil
	r.remove(key, e)
	e.mu.Unlock()

	if !wasConnecting {
		// Connected attempt whose close was never reported: just retire
		// the state, success listeners already fired.
		return
	}
	for _, l := range pending {
		l(err)
	}
}
