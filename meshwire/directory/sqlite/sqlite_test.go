package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/meshwire/meshwire/meshwire/directory"
	"github.com/meshwire/meshwire/meshwire/identity"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "directory.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(t *testing.T, host string) directory.Record {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return directory.Record{Key: kp.NodeKey(), Host: host, Port: 9000}
}

func TestStoreAnnounceUpsert(t *testing.T) {
	s := openTestStore(t)
	rec := testRecord(t, "peer-a.example")

	if err := s.Announce(rec); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	// Announcing the same key with a new address must replace, not duplicate.
	rec.Host = "peer-a-moved.example"
	rec.Port = 9001
	if err := s.Announce(rec); err != nil {
		t.Fatalf("Announce update: %v", err)
	}

	all, err := s.AllRecords()
	if err != nil {
		t.Fatalf("AllRecords: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record, got %d", len(all))
	}
	if all[0].Host != "peer-a-moved.example" || all[0].Port != 9001 {
		t.Fatalf("unexpected record after upsert: %+v", all[0])
	}
}

func TestStoreRecordForUsesCacheAfterMiss(t *testing.T) {
	s := openTestStore(t)
	rec := testRecord(t, "peer-a.example")
	if err := s.Announce(rec); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	got, err := s.RecordFor(rec.Key)
	if err != nil {
		t.Fatalf("RecordFor: %v", err)
	}
	if got.Host != rec.Host {
		t.Fatalf("unexpected host: %s", got.Host)
	}

	// Second lookup is served from cache; must still agree with the db.
	again, err := s.RecordFor(rec.Key)
	if err != nil {
		t.Fatalf("RecordFor cached: %v", err)
	}
	if again != got {
		t.Fatalf("cached record diverged: %+v vs %+v", again, got)
	}
}

func TestStoreRecordForNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.RecordFor(testRecord(t, "x.example").Key); err != directory.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreChannelFlagSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "directory.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec := testRecord(t, "peer-a.example")
	if err := s.Announce(rec); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if err := s.SetChannelOpen(rec.Key, true); err != nil {
		t.Fatalf("SetChannelOpen: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	recs, err := reopened.ChannelRecords()
	if err != nil {
		t.Fatalf("ChannelRecords: %v", err)
	}
	if len(recs) != 1 || recs[0].Key != rec.Key {
		t.Fatalf("expected channel flag to survive reopen, got %+v", recs)
	}
}
