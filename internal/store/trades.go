package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// TradeType distinguishes a purchase lot from a disposal.
type TradeType int

const (
	TradeTypeBuy  TradeType = 1
	TradeTypeSell TradeType = 2
)

var ErrTradeNotFound = errors.New("trade not found")

// Trade is a single buy or sell execution.
type Trade struct {
	ID                      int64
	Timestamp               int64
	ISINID                  int64
	IDString                string
	TradeType               TradeType
	NumberOfShares          float64
	RemainingQuantity       float64
	PriceForShare           float64
	CurrencyOfPrice         string
	TotalCZK                float64
	StampTaxCZK             float64
	ConversionFeeCZK        float64
	FrenchTransactionTaxCZK float64
}

// InsertTrade inserts a trade using insert-or-ignore semantics keyed by
// IDString. Returns the row id and whether a new row was actually
// inserted (false means the natural key already existed).
func (s *Store) InsertTrade(t *Trade) (id int64, inserted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, false, err
	}
	if t.Timestamp < 0 {
		return 0, false, fmt.Errorf("%w: negative timestamp", ErrInvalidInput)
	}
	if t.IDString == "" {
		return 0, false, fmt.Errorf("%w: empty id_string", ErrInvalidInput)
	}

	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO trades (
			timestamp, isin_id, id_string, trade_type, number_of_shares,
			remaining_quantity, price_for_share, currency_of_price, total_czk,
			stamp_tax_czk, conversion_fee_czk, french_transaction_tax_czk
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Timestamp, t.ISINID, t.IDString, int(t.TradeType), t.NumberOfShares,
		t.NumberOfShares, t.PriceForShare, t.CurrencyOfPrice, t.TotalCZK,
		t.StampTaxCZK, t.ConversionFeeCZK, t.FrenchTransactionTaxCZK,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert trade: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		var existingID int64
		if err := s.db.QueryRow(`SELECT id FROM trades WHERE id_string = ?`, t.IDString).Scan(&existingID); err != nil {
			return 0, false, fmt.Errorf("failed to resolve existing trade: %w", err)
		}
		return existingID, false, nil
	}

	newID, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read last insert id: %w", err)
	}
	return newID, true, nil
}

// GetTrade returns a trade by id.
func (s *Store) GetTrade(id int64) (*Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.scanTradeRow(s.db.QueryRow(`
		SELECT id, timestamp, isin_id, id_string, trade_type, number_of_shares,
		       remaining_quantity, price_for_share, currency_of_price, total_czk,
		       stamp_tax_czk, conversion_fee_czk, french_transaction_tax_czk
		FROM trades WHERE id = ?`, id))
}

func (s *Store) scanTradeRow(row *sql.Row) (*Trade, error) {
	var t Trade
	var tradeType int
	err := row.Scan(
		&t.ID, &t.Timestamp, &t.ISINID, &t.IDString, &tradeType, &t.NumberOfShares,
		&t.RemainingQuantity, &t.PriceForShare, &t.CurrencyOfPrice, &t.TotalCZK,
		&t.StampTaxCZK, &t.ConversionFeeCZK, &t.FrenchTransactionTaxCZK,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan trade: %w", err)
	}
	t.TradeType = TradeType(tradeType)
	return &t, nil
}

// updateRemainingQuantityTx adds delta to a trade's remaining_quantity. It
// is called only by CreatePairing and DeletePairing, inside the same
// transaction as the pairing row mutation, to preserve the conservation
// law.
func updateRemainingQuantityTx(tx *sql.Tx, tradeID int64, delta float64) error {
	_, err := tx.Exec(`UPDATE trades SET remaining_quantity = remaining_quantity + ? WHERE id = ?`, delta, tradeID)
	if err != nil {
		return fmt.Errorf("failed to update remaining quantity: %w", err)
	}
	return nil
}

// TradesBySecurity returns all trades of a security ordered by timestamp.
func (s *Store) TradesBySecurity(isinID int64) ([]*Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, timestamp, isin_id, id_string, trade_type, number_of_shares,
		       remaining_quantity, price_for_share, currency_of_price, total_czk,
		       stamp_tax_czk, conversion_fee_czk, french_transaction_tax_czk
		FROM trades WHERE isin_id = ? ORDER BY timestamp ASC`, isinID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []*Trade
	for rows.Next() {
		var t Trade
		var tradeType int
		if err := rows.Scan(
			&t.ID, &t.Timestamp, &t.ISINID, &t.IDString, &tradeType, &t.NumberOfShares,
			&t.RemainingQuantity, &t.PriceForShare, &t.CurrencyOfPrice, &t.TotalCZK,
			&t.StampTaxCZK, &t.ConversionFeeCZK, &t.FrenchTransactionTaxCZK,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.TradeType = TradeType(tradeType)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// SecuritiesWithSellsInYear returns the distinct security ids with at least
// one SELL in the given calendar year (local time), used to decide which
// securities need a realized-gains computation for that year.
func (s *Store) SecuritiesWithSellsInYear(year int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT DISTINCT isin_id FROM trades
		WHERE trade_type = ? AND CAST(strftime('%Y', timestamp, 'unixepoch', 'localtime') AS INTEGER) = ?`,
		int(TradeTypeSell), year,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query securities with sells: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
