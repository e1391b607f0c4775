// Package credstore persists the resolved credential bundle.
//
// The store is a single mutable slot: each successful authorization
// overwrites the whole record, and readers get either a complete usable
// bundle or nothing. A BLAKE3 checksum over the serialized record guards
// against torn or tampered rows; a record that fails the checksum, the
// schema version, or the required-field check is treated as absent
// rather than partially trusted.
package credstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/corechat/ig-relay/internal/graph"
)

// schemaVersion tags persisted records. Bump when the record layout
// changes; older records then read as absent and force a re-auth.
const schemaVersion = 1

// Store is the single-slot credential store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// mu serializes writers. Concurrent authorization callbacks racing
	// to overwrite the slot must not interleave their read-modify-write.
	mu sync.Mutex
}

// New creates a credential store over an opened database.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Save overwrites the stored bundle wholesale.
func (s *Store) Save(ctx context.Context, creds *graph.Credentials) error {
	if !creds.Usable() {
		return fmt.Errorf("refusing to store unusable credential bundle")
	}

	record, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credential record: %w", err)
	}
	sum := blake3.Sum256(record)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
INSERT INTO credentials(slot, version, record, checksum, updated_at)
VALUES(1, ?, ?, ?, ?)
ON CONFLICT(slot) DO UPDATE SET
  version = excluded.version,
  record = excluded.record,
  checksum = excluded.checksum,
  updated_at = excluded.updated_at;
`, schemaVersion, string(record), hex.EncodeToString(sum[:]), now)
	if err != nil {
		return fmt.Errorf("upsert credentials: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Load returns the stored bundle, or (nil, nil) when no usable bundle
// exists. Corrupt records are logged and reported as absent.
func (s *Store) Load(ctx context.Context) (*graph.Credentials, error) {
	var (
		version  int
		record   string
		checksum string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT version, record, checksum FROM credentials WHERE slot = 1;",
	).Scan(&version, &record, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	if version != schemaVersion {
		s.logger.Warn("stored credentials use an unsupported schema version, treating as absent",
			"version", version)
		return nil, nil
	}

	sum := blake3.Sum256([]byte(record))
	if hex.EncodeToString(sum[:]) != checksum {
		s.logger.Warn("stored credentials failed checksum, treating as absent")
		return nil, nil
	}

	var creds graph.Credentials
	if err := json.Unmarshal([]byte(record), &creds); err != nil {
		s.logger.Warn("stored credentials are not valid JSON, treating as absent", "error", err)
		return nil, nil
	}
	if !creds.Usable() {
		return nil, nil
	}
	return &creds, nil
}
