// Package directory stores the peer address records a node knows about.
//
// The directory is durable peer knowledge: it survives restarts (sqlite
// implementation) and is grown at runtime by the gossip address exchange.
// Volatile connection state never lives here.
package directory

import (
	"errors"
	"time"

	"github.com/meshwire/meshwire/meshwire/identity"
)

var (
	ErrNotFound      = errors.New("directory: record not found")
	ErrInvalidRecord = errors.New("directory: invalid record")
)

// Record is a known peer address: who (node key) plus where (host, port).
type Record struct {
	Key      identity.NodeKey
	Host     string
	Port     uint16
	LastSeen time.Time
}

func (r Record) Validate() error {
	if r.Key.IsZero() || r.Host == "" || r.Port == 0 {
		return ErrInvalidRecord
	}
	return nil
}

// Directory is the durable store of peer address records.
// Implementations must be safe for concurrent use; the bootstrap loops and
// the connection registry all read it without coordination.
type Directory interface {
	// AllRecords returns every known record.
	AllRecords() ([]Record, error)

	// ChannelRecords returns the records of peers with an open channel.
	ChannelRecords() ([]Record, error)

	// RecordFor returns the most recent record for key, or ErrNotFound.
	RecordFor(key identity.NodeKey) (Record, error)

	// Announce upserts a record, refreshing LastSeen.
	Announce(rec Record) error

	// SetChannelOpen marks whether a channel is open with the given peer.
	SetChannelOpen(key identity.NodeKey, open bool) error

	Close() error
}

// WithoutKeys filters out records whose key is in the exclusion sets.
// Loops use it to drop self, already-tried and already-channeled peers
// from a candidate pool.
func WithoutKeys(recs []Record, exclude ...map[identity.NodeKey]struct{}) []Record {
	out := recs[:0:0]
	for _, rec := range recs {
		skip := false
		for _, set := range exclude {
			if _, ok := set[rec.Key]; ok {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, rec)
		}
	}
	return out
}

// KeySet builds an exclusion set from node keys.
func KeySet(keys ...identity.NodeKey) map[identity.NodeKey]struct{} {
	set := make(map[identity.NodeKey]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// RecordKeySet builds an exclusion set from the keys of records.
func RecordKeySet(recs []Record) map[identity.NodeKey]struct{} {
	set := make(map[identity.NodeKey]struct{}, len(recs))
	for _, rec := range recs {
		set[rec.Key] = struct{}{}
	}
	return set
}
