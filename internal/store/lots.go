package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// CandidateLot is a purchase trade available to be consumed by a sale,
// annotated with the holding-period facts the pairing engine needs to
// record on the resulting pairing.
type CandidateLot struct {
	PurchaseTradeID   int64
	Timestamp         int64
	RemainingQuantity float64
	PriceForShare     float64
}

// Ordering is a whitelisted ORDER BY clause for the candidate-lot query.
// Policies differ only by this clause plus an optional time-test filter:
// one parameterized query serves all four non-Manual methods.
type Ordering string

const (
	OrderTimestampAsc  Ordering = "t.timestamp ASC, t.id ASC"
	OrderTimestampDesc Ordering = "t.timestamp DESC, t.id ASC"
	OrderPriceDesc     Ordering = "t.price_for_share DESC, t.id ASC"
	OrderPriceAsc      Ordering = "t.price_for_share ASC, t.id ASC"
)

// NextAvailableLot returns the single best candidate BUY lot of security
// isinID available before saleTimestamp, ordered by ordering. When
// timeTestThreshold is non-nil, only lots purchased strictly before that
// threshold are considered (used to restrict a pass to time-test-qualifying
// lots only).
func (s *Store) NextAvailableLot(isinID int64, saleTimestamp int64, ordering Ordering, timeTestThreshold *int64) (*CandidateLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT t.id, t.timestamp, t.remaining_quantity, t.price_for_share
		FROM trades t
		WHERE t.isin_id = ? AND t.trade_type = ? AND t.timestamp < ? AND t.remaining_quantity > ?`
	args := []any{isinID, int(TradeTypeBuy), saleTimestamp, quantityEpsilon}

	if timeTestThreshold != nil {
		query += " AND t.timestamp < ?"
		args = append(args, *timeTestThreshold)
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT 1", ordering)

	var lot CandidateLot
	err := s.db.QueryRow(query, args...).Scan(&lot.PurchaseTradeID, &lot.Timestamp, &lot.RemainingQuantity, &lot.PriceForShare)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query next available lot: %w", err)
	}
	return &lot, nil
}
