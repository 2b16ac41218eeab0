// Package meshwire implements identity-keyed connection management for a
// peer-to-peer overlay.
//
// Peers are identified by a persistent Ed25519 node key, not by network
// address. The package tracks one logical connection state per identity,
// coalesces concurrent connect requests into a single transport attempt,
// and runs the bootstrap processes that grow the peer directory, open
// outbound channels and pull a first data snapshot.
package meshwire
