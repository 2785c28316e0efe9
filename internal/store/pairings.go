package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jnovotny/ledgertool/internal/calendar"
)

var (
	ErrLockedPairing   = errors.New("pairing is locked")
	ErrPairingNotFound = errors.New("pairing not found")
)

// Pairing records that quantity units of purchaseTradeID have been matched
// against saleTradeID.
type Pairing struct {
	ID                int64
	SaleTradeID       int64
	PurchaseTradeID   int64
	Quantity          float64
	Method            string
	TimeTestQualified bool
	HoldingPeriodDays int64
	Locked            bool
	LockedReason      string
	Notes             string
}

// CreatePairing inserts a pairing and adjusts both trades' remaining
// quantities inside a single transaction: readers never observe one
// mutation without the other.
func (s *Store) CreatePairing(p *Pairing) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if p.Quantity <= quantityEpsilon {
		return 0, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if !isKnownMethod(p.Method) {
		return 0, fmt.Errorf("%w: unknown method %q", ErrInvalidInput, p.Method)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO pairings (
			sale_trade_id, purchase_trade_id, quantity, method,
			time_test_qualified, holding_period_days, locked, locked_reason, notes
		) VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?)`,
		p.SaleTradeID, p.PurchaseTradeID, p.Quantity, p.Method,
		boolToInt(p.TimeTestQualified), p.HoldingPeriodDays, p.Notes,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert pairing: %w", err)
	}

	// Conservation law: purchase remaining moves toward zero from above,
	// sale remaining moves toward zero from below. Both are `+= delta`
	// with the sign baked into the call site, never a type switch.
	if err := updateRemainingQuantityTx(tx, p.PurchaseTradeID, -p.Quantity); err != nil {
		return 0, err
	}
	if err := updateRemainingQuantityTx(tx, p.SaleTradeID, p.Quantity); err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit pairing: %w", err)
	}
	return id, nil
}

// DeletePairing removes an unlocked pairing and restores both trades'
// remaining quantities by the exact pairing quantity, inside a single
// transaction. A locked pairing is refused without mutating anything.
func (s *Store) DeletePairing(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked bool
	var lockedInt int
	var quantity float64
	var saleID, purchaseID int64
	err = tx.QueryRow(
		`SELECT locked, quantity, sale_trade_id, purchase_trade_id FROM pairings WHERE id = ?`, id,
	).Scan(&lockedInt, &quantity, &saleID, &purchaseID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPairingNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read pairing: %w", err)
	}
	locked = lockedInt != 0
	if locked {
		return ErrLockedPairing
	}

	if _, err := tx.Exec(`DELETE FROM pairings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete pairing: %w", err)
	}
	if err := updateRemainingQuantityTx(tx, purchaseID, quantity); err != nil {
		return err
	}
	if err := updateRemainingQuantityTx(tx, saleID, -quantity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pairing deletion: %w", err)
	}
	return nil
}

// LockPairing marks a pairing locked with reason. Locking an
// already-locked pairing overwrites the reason.
func (s *Store) LockPairing(id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	result, err := s.db.Exec(`UPDATE pairings SET locked = 1, locked_reason = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("failed to lock pairing: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrPairingNotFound
	}
	return nil
}

// UnlockPairing clears the locked flag and reason.
func (s *Store) UnlockPairing(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	result, err := s.db.Exec(`UPDATE pairings SET locked = 0, locked_reason = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to unlock pairing: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrPairingNotFound
	}
	return nil
}

// LockPairingsInYear locks every currently unlocked pairing whose sale
// trade's timestamp falls inside calendar year year (local time). It
// considers only the sale side, matching the original tool's policy of
// ignoring the purchase side entirely when grouping by year.
func (s *Store) LockPairingsInYear(year int, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	start, end := calendar.YearBounds(year)
	result, err := s.db.Exec(`
		UPDATE pairings SET locked = 1, locked_reason = ?
		WHERE locked = 0 AND sale_trade_id IN (
			SELECT id FROM trades WHERE timestamp BETWEEN ? AND ?
		)`, reason, start, end,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to lock pairings for year %d: %w", year, err)
	}
	return result.RowsAffected()
}

// GetPairing returns a pairing by id.
func (s *Store) GetPairing(id int64) (*Pairing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.scanPairingRow(s.db.QueryRow(`
		SELECT id, sale_trade_id, purchase_trade_id, quantity, method,
		       time_test_qualified, holding_period_days, locked, COALESCE(locked_reason, ''), COALESCE(notes, '')
		FROM pairings WHERE id = ?`, id))
}

func (s *Store) scanPairingRow(row *sql.Row) (*Pairing, error) {
	var p Pairing
	var timeTestInt, lockedInt int
	err := row.Scan(
		&p.ID, &p.SaleTradeID, &p.PurchaseTradeID, &p.Quantity, &p.Method,
		&timeTestInt, &p.HoldingPeriodDays, &lockedInt, &p.LockedReason, &p.Notes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPairingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pairing: %w", err)
	}
	p.TimeTestQualified = timeTestInt != 0
	p.Locked = lockedInt != 0
	return &p, nil
}

// PairingsForSale returns every pairing touching saleTradeID.
func (s *Store) PairingsForSale(saleTradeID int64) ([]*Pairing, error) {
	return s.queryPairings(`
		SELECT id, sale_trade_id, purchase_trade_id, quantity, method,
		       time_test_qualified, holding_period_days, locked, COALESCE(locked_reason, ''), COALESCE(notes, '')
		FROM pairings WHERE sale_trade_id = ? ORDER BY id ASC`, saleTradeID)
}

// PairingsForPurchase returns every pairing touching purchaseTradeID.
func (s *Store) PairingsForPurchase(purchaseTradeID int64) ([]*Pairing, error) {
	return s.queryPairings(`
		SELECT id, sale_trade_id, purchase_trade_id, quantity, method,
		       time_test_qualified, holding_period_days, locked, COALESCE(locked_reason, ''), COALESCE(notes, '')
		FROM pairings WHERE purchase_trade_id = ? ORDER BY id ASC`, purchaseTradeID)
}

// PairingsInYear returns every pairing whose sale trade falls in the given
// calendar year (local time).
func (s *Store) PairingsInYear(year int) ([]*Pairing, error) {
	start, end := calendar.YearBounds(year)
	return s.queryPairings(`
		SELECT p.id, p.sale_trade_id, p.purchase_trade_id, p.quantity, p.method,
		       p.time_test_qualified, p.holding_period_days, p.locked, COALESCE(p.locked_reason, ''), COALESCE(p.notes, '')
		FROM pairings p
		JOIN trades t ON t.id = p.sale_trade_id
		WHERE t.timestamp BETWEEN ? AND ?
		ORDER BY p.id ASC`, start, end)
}

func (s *Store) queryPairings(query string, args ...any) ([]*Pairing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairings: %w", err)
	}
	defer rows.Close()

	var out []*Pairing
	for rows.Next() {
		var p Pairing
		var timeTestInt, lockedInt int
		if err := rows.Scan(
			&p.ID, &p.SaleTradeID, &p.PurchaseTradeID, &p.Quantity, &p.Method,
			&timeTestInt, &p.HoldingPeriodDays, &lockedInt, &p.LockedReason, &p.Notes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pairing: %w", err)
		}
		p.TimeTestQualified = timeTestInt != 0
		p.Locked = lockedInt != 0
		out = append(out, &p)
	}
	return out, rows.Err()
}

const quantityEpsilon = 1e-10

func isKnownMethod(method string) bool {
	switch method {
	case "FIFO", "LIFO", "MaxLose", "MaxProfit", "Manual":
		return true
	default:
		return false
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
