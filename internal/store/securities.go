package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Security is a traded instrument identified by ISIN.
type Security struct {
	ID     int64
	ISIN   string
	Ticker string
	Name   string
}

// ErrInvalidInput is returned for empty natural keys, negative timestamps,
// unknown methods, and non-positive quantities.
var ErrInvalidInput = errors.New("invalid input")

// GetOrCreateSecurity resolves isin to a security id, creating the row on
// first appearance. isin is case-normalized to upper case.
func (s *Store) GetOrCreateSecurity(isin, ticker, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	isin = strings.ToUpper(strings.TrimSpace(isin))
	if isin == "" {
		return 0, fmt.Errorf("%w: empty ISIN", ErrInvalidInput)
	}

	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO securities (isin, ticker, name) VALUES (?, ?, ?)`,
		isin, ticker, name,
	); err != nil {
		return 0, fmt.Errorf("failed to insert security: %w", err)
	}

	var id int64
	err := s.db.QueryRow(`SELECT id FROM securities WHERE isin = ?`, isin).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve security id for %q: %w", isin, err)
	}
	return id, nil
}

// GetSecurity returns the security by id.
func (s *Store) GetSecurity(id int64) (*Security, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var sec Security
	var ticker, name sql.NullString
	err := s.db.QueryRow(`SELECT id, isin, ticker, name FROM securities WHERE id = ?`, id).
		Scan(&sec.ID, &sec.ISIN, &ticker, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("security %d: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get security: %w", err)
	}
	sec.Ticker = ticker.String
	sec.Name = name.String
	return &sec, nil
}

// GetSecurityByISIN looks up a security by its natural key, without
// creating one if absent.
func (s *Store) GetSecurityByISIN(isin string) (*Security, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	isin = strings.ToUpper(strings.TrimSpace(isin))
	var sec Security
	var ticker, name sql.NullString
	err := s.db.QueryRow(`SELECT id, isin, ticker, name FROM securities WHERE isin = ?`, isin).
		Scan(&sec.ID, &sec.ISIN, &ticker, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get security: %w", err)
	}
	sec.Ticker = ticker.String
	sec.Name = name.String
	return &sec, nil
}
