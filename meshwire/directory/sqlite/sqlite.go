// Package sqlite implements the directory on a local SQLite database.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/meshwire/meshwire/meshwire/directory"
	"github.com/meshwire/meshwire/meshwire/identity"
)

const recordCacheSize = 512

// Store is a durable directory backed by SQLite.
// RecordFor lookups are served from an LRU cache in front of the database;
// every write path invalidates or refreshes the cached entry.
type Store struct {
	db    *sql.DB
	cache *lru.Cache[identity.NodeKey, directory.Record]
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("directory/sqlite: open: %w", err)
	}

	cache, err := lru.New[identity.NodeKey, directory.Record](recordCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, cache: cache}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("directory/sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS peer_records (
		key TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		channel_open INTEGER NOT NULL DEFAULT 0,
		last_seen DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_peer_records_channel ON peer_records(channel_open);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) AllRecords() ([]directory.Record, error) {
	return s.queryRecords(`SELECT key, host, port, last_seen FROM peer_records`)
}

func (s *Store) ChannelRecords() ([]directory.Record, error) {
	return s.queryRecords(`SELECT key, host, port, last_seen FROM peer_records WHERE channel_open = 1`)
}

func (s *Store) queryRecords(query string) ([]directory.Record, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("directory/sqlite: query records: %w", err)
	}
	defer rows.Close()

	var out []directory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) RecordFor(key identity.NodeKey) (directory.Record, error) {
	if rec, ok := s.cache.Get(key); ok {
		return rec, nil
	}

	row := s.db.QueryRow(`SELECT key, host, port, last_seen FROM peer_records WHERE key = ?`, key.String())
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return directory.Record{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Record{}, err
	}
	s.cache.Add(key, rec)
	return rec, nil
}

func (s *Store) Announce(rec directory.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO peer_records (key, host, port, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			last_seen = excluded.last_seen
	`, rec.Key.String(), rec.Host, rec.Port, rec.LastSeen)
	if err != nil {
		return fmt.Errorf("directory/sqlite: announce: %w", err)
	}
	s.cache.Add(rec.Key, rec)
	return nil
}

func (s *Store) SetChannelOpen(key identity.NodeKey, open bool) error {
	flag := 0
	if open {
		flag = 1
	}
	_, err := s.db.Exec(`UPDATE peer_records SET channel_open = ? WHERE key = ?`, flag, key.String())
	if err != nil {
		return fmt.Errorf("directory/sqlite: set channel open: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.cache.Purge()
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (directory.Record, error) {
	var (
		keyHex, host string
		port         int
		lastSeen     time.Time
	)
	if err := row.Scan(&keyHex, &host, &port, &lastSeen); err != nil {
		return directory.Record{}, err
	}
	key, err := identity.ParseNodeKeyHex(keyHex)
	if err != nil {
		return directory.Record{}, err
	}
	return directory.Record{Key: key, Host: host, Port: uint16(port), LastSeen: lastSeen}, nil
}
