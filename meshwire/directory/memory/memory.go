package memory

import (
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/meshwire/meshwire/meshwire/directory"
	"github.com/meshwire/meshwire/meshwire/identity"
)

// Store is an in-memory directory.
// It is useful for tests, examples and nodes that do not need durable
// peer knowledge.
type Store struct {
	mu       sync.RWMutex
	records  map[identity.NodeKey]directory.Record
	channels map[identity.NodeKey]struct{}
	clock    clock.Clock
}

func New() *Store {
	return NewWithClock(clock.New())
}

func NewWithClock(clk clock.Clock) *Store {
	return &Store{
		records:  map[identity.NodeKey]directory.Record{},
		channels: map[identity.NodeKey]struct{}{},
		clock:    clk,
	}
}

func (s *Store) AllRecords() ([]directory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]directory.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) ChannelRecords() ([]directory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]directory.Record, 0, len(s.channels))
	for key := range s.channels {
		if rec, ok := s.records[key]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) RecordFor(key identity.NodeKey) (directory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return directory.Record{}, directory.ErrNotFound
	}
	return rec, nil
}

func (s *Store) Announce(rec directory.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.LastSeen = s.clock.Now()
	s.records[rec.Key] = rec
	return nil
}

func (s *Store) SetChannelOpen(key identity.NodeKey, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if open {
		s.channels[key] = struct{}{}
	} else {
		delete(s.channels, key)
	}
	return nil
}

func (s *Store) Close() error { return nil }
