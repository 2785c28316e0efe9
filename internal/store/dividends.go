package store

import "fmt"

// Dividend is an append-only dividend payment, keyed by (timestamp, isin_id).
type Dividend struct {
	ID                int64
	Timestamp         int64
	ISINID            int64
	NumberOfShares    float64
	PriceForShare     float64
	CurrencyOfPrice   string
	TotalCZK          float64
	WithholdingTaxCZK float64
}

// NetCZK returns the dividend net of withholding tax.
func (d *Dividend) NetCZK() float64 {
	return d.TotalCZK - d.WithholdingTaxCZK
}

// InsertDividend inserts a dividend using insert-or-ignore semantics keyed
// by (timestamp, isin_id).
func (s *Store) InsertDividend(d *Dividend) (id int64, inserted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, false, err
	}
	if d.Timestamp < 0 {
		return 0, false, fmt.Errorf("%w: negative timestamp", ErrInvalidInput)
	}
	if d.NumberOfShares < 0 || d.PriceForShare < 0 || d.TotalCZK < 0 || d.WithholdingTaxCZK < 0 {
		return 0, false, fmt.Errorf("%w: negative monetary field", ErrInvalidInput)
	}

	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO dividends (
			timestamp, isin_id, number_of_shares, price_for_share,
			currency_of_price, total_czk, withholding_tax_czk
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.Timestamp, d.ISINID, d.NumberOfShares, d.PriceForShare,
		d.CurrencyOfPrice, d.TotalCZK, d.WithholdingTaxCZK,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert dividend: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var existingID int64
		if err := s.db.QueryRow(
			`SELECT id FROM dividends WHERE timestamp = ? AND isin_id = ?`, d.Timestamp, d.ISINID,
		).Scan(&existingID); err != nil {
			return 0, false, fmt.Errorf("failed to resolve existing dividend: %w", err)
		}
		return existingID, false, nil
	}

	newID, _ := result.LastInsertId()
	return newID, true, nil
}

// DividendYearSummary is the per-year dividend totals.
type DividendYearSummary struct {
	GrossCZK float64
	TaxCZK   float64
	NetCZK   float64
}

// DividendSummaryByDateRange sums gross, tax, and net dividends across all
// securities in [start, end].
func (s *Store) DividendSummaryByDateRange(start, end int64) (*DividendYearSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var sum DividendYearSummary
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(total_czk), 0.0),
		       COALESCE(SUM(withholding_tax_czk), 0.0),
		       COALESCE(SUM(total_czk - withholding_tax_czk), 0.0)
		FROM dividends WHERE timestamp BETWEEN ? AND ?`, start, end,
	).Scan(&sum.GrossCZK, &sum.TaxCZK, &sum.NetCZK)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize dividends: %w", err)
	}
	return &sum, nil
}

// SecurityDividendSummary is a per-security dividend rollup row.
type SecurityDividendSummary struct {
	ISINID   int64
	ISIN     string
	Ticker   string
	Name     string
	GrossCZK float64
	TaxCZK   float64
}

// DividendSummaryBySecurity groups dividend totals by security for
// [start, end], ordered by security name.
func (s *Store) DividendSummaryBySecurity(start, end int64) ([]SecurityDividendSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT sec.id, sec.isin, COALESCE(sec.ticker, ''), COALESCE(sec.name, ''),
		       COALESCE(SUM(d.total_czk), 0.0), COALESCE(SUM(d.withholding_tax_czk), 0.0)
		FROM dividends d
		JOIN securities sec ON sec.id = d.isin_id
		WHERE d.timestamp BETWEEN ? AND ?
		GROUP BY sec.id, sec.isin, sec.ticker, sec.name
		ORDER BY sec.name COLLATE NOCASE`, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize dividends by security: %w", err)
	}
	defer rows.Close()

	var out []SecurityDividendSummary
	for rows.Next() {
		var row SecurityDividendSummary
		if err := rows.Scan(&row.ISINID, &row.ISIN, &row.Ticker, &row.Name, &row.GrossCZK, &row.TaxCZK); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
