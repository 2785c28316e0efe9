package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// AnnualRate is one persisted (year, currency) -> CZK-per-unit rate row.
type AnnualRate struct {
	Year        int
	Currency    string
	Amount      int
	Rate        float64
	Description string
}

// UpsertAnnualRate inserts or replaces the rate for (year, currency): a
// re-import of the same year/currency pair always wins with the latest
// value rather than being ignored, unlike the insert-or-ignore natural-key
// tables.
func (s *Store) UpsertAnnualRate(r *AnnualRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	_, err := s.db.Exec(`
		INSERT INTO annual_rates (year, currency, amount, rate, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(year, currency) DO UPDATE SET
			amount = excluded.amount, rate = excluded.rate, description = excluded.description`,
		r.Year, r.Currency, r.Amount, r.Rate, r.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert annual rate: %w", err)
	}
	return nil
}

// AnnualRatePerUnit looks up the per-unit CZK rate for currency in year.
// Found is false when no row exists for that (year, currency).
func (s *Store) AnnualRatePerUnit(year int, currency string) (rate float64, found bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, false, err
	}

	var amount int
	err = s.db.QueryRow(`SELECT amount, rate FROM annual_rates WHERE year = ? AND currency = ?`, year, currency).
		Scan(&amount, &rate)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up annual rate: %w", err)
	}
	return rate / float64(amount), true, nil
}

// AvailableYears returns the distinct years with at least one stored annual
// rate, ascending.
func (s *Store) AvailableYears() ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT DISTINCT year FROM annual_rates ORDER BY year ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query available rate years: %w", err)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, err
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// RatesForYear returns every stored annual rate row for year, ordered by
// currency.
func (s *Store) RatesForYear(year int) ([]AnnualRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT year, currency, amount, rate, COALESCE(description, '')
		FROM annual_rates WHERE year = ? ORDER BY currency ASC`, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query rates for year %d: %w", year, err)
	}
	defer rows.Close()

	var out []AnnualRate
	for rows.Next() {
		var r AnnualRate
		if err := rows.Scan(&r.Year, &r.Currency, &r.Amount, &r.Rate, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RateMode returns the exchange_rate_mode setting recorded at store
// creation ("daily" or "annual").
func (s *Store) RateMode() (string, error) {
	mode, ok, err := s.GetSetting("exchange_rate_mode")
	if err != nil {
		return "", err
	}
	if !ok {
		return "daily", nil
	}
	return mode, nil
}
