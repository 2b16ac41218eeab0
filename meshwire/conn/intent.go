// Package conn tracks connection state per node identity.
//
// Connections are keyed by NodeKey, never by network address: a peer that
// moves keeps its logical connection slot. The Registry is the single
// synchronization point shared by the bootstrap loops and by callers.
package conn

// Intent describes why a connection is being made. It is carried through
// to the transport so the remote end can serve the matching exchange; it
// has no effect on registry bookkeeping.
type Intent uint8

const (
	IntentMisc Intent = iota
	IntentFetchAddrs
	IntentOpenChannel
	IntentFetchSync
)

func (i Intent) String() string {
	switch i {
	case IntentMisc:
		return "misc"
	case IntentFetchAddrs:
		return "fetch-addrs"
	case IntentOpenChannel:
		return "open-channel"
	case IntentFetchSync:
		return "fetch-sync"
	default:
		return "unknown"
	}
}

func (i Intent) Valid() bool {
	return i <= IntentFetchSync
}
