// Package store provides the embedded, single-file relational store for
// securities, trades, interests, dividends, pairings, and annual rates.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// CurrentVersion is the schema version this build knows how to read.
// Opening a store whose recorded version is greater is a fatal error.
const CurrentVersion = 1

var (
	ErrNoDatabaseOpen = errors.New("no database open")
	ErrSchemaTooNew   = errors.New("database schema version is newer than supported")
)

// Store wraps a single SQLite file holding the whole ledger.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	closed bool
}

// Config holds store configuration.
type Config struct {
	// Path is the full path to the database file.
	Path string
	// RateMode is recorded once at creation time ("daily" or "annual").
	// Ignored when opening an existing file.
	RateMode string
}

// New opens (creating if absent) the database at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	path := expandPath(cfg.Path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	isNew := true
	if _, err := os.Stat(path); err == nil {
		isNew = false
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite supports exactly one writer; serialize through a single
	// connection so cross-statement transactions never interleave.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: path}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if isNew {
		mode := cfg.RateMode
		if mode == "" {
			mode = "daily"
		}
		if err := s.createInitial(mode); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		if err := s.checkVersion(); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) createInitial(rateMode string) error {
	if err := s.SetSettingOnce("exchange_rate_mode", rateMode); err != nil {
		return err
	}
	return s.recordVersion(CurrentVersion, "Initial schema: versions, securities, trades, interests, dividends, pairings")
}

func (s *Store) checkVersion() error {
	version, err := s.getVersion()
	if err != nil {
		return err
	}
	if version > CurrentVersion {
		return fmt.Errorf("%w: database is version %d, supported version is %d", ErrSchemaTooNew, version, CurrentVersion)
	}
	return nil
}

// Close closes the database handle. The in-memory rate cache, if any, is
// owned by the caller and is not affected: it has process lifetime, not
// database lifetime.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// DB returns the underlying connection for callers that need raw queries.
// It bypasses the store's lock and closed-state check.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) checkOpen() error {
	if s.closed {
		return ErrNoDatabaseOpen
	}
	return nil
}

// Path returns the file path backing this store.
func (s *Store) Path() string {
	return s.dbPath
}

// SaveAs clones the current store to a new file using SQLite's backup API,
// then switches the active handle to point at the clone. The clone is a
// consistent snapshot; in-process readers observe the switch atomically
// because it happens under the store's write lock.
func (s *Store) SaveAs(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrNoDatabaseOpen
	}

	destPath := expandPath(path)
	if dir := filepath.Dir(destPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create destination directory: %w", err)
		}
	}

	srcConn, err := s.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("failed to acquire source connection: %w", err)
	}
	defer srcConn.Close()

	destDB, err := sql.Open("sqlite3", destPath)
	if err != nil {
		return fmt.Errorf("failed to open destination database: %w", err)
	}

	if err := backupTo(srcConn, destDB); err != nil {
		destDB.Close()
		return fmt.Errorf("failed to back up database: %w", err)
	}
	destDB.Close()

	newDB, err := sql.Open("sqlite3", destPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return fmt.Errorf("failed to reopen cloned database: %w", err)
	}
	if err := newDB.Ping(); err != nil {
		newDB.Close()
		return fmt.Errorf("failed to ping cloned database: %w", err)
	}
	newDB.SetMaxOpenConns(1)
	newDB.SetMaxIdleConns(1)
	newDB.SetConnMaxLifetime(time.Hour)

	old := s.db
	s.db = newDB
	s.dbPath = destPath
	return old.Close()
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
