package store

import "fmt"

// InterestType classifies an interest payment.
type InterestType int

const (
	InterestUnknown InterestType = 0
	InterestCash    InterestType = 1
	InterestLending InterestType = 2
)

// Interest is an append-only cash or share-lending interest payment.
type Interest struct {
	ID              int64
	Timestamp       int64
	Type            InterestType
	IDString        string
	CurrencyOfTotal string
	TotalCZK        float64
}

// InsertInterest inserts an interest row using insert-or-ignore semantics
// keyed by IDString.
func (s *Store) InsertInterest(in *Interest) (id int64, inserted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, false, err
	}
	if in.Timestamp < 0 {
		return 0, false, fmt.Errorf("%w: negative timestamp", ErrInvalidInput)
	}
	if in.IDString == "" {
		return 0, false, fmt.Errorf("%w: empty id_string", ErrInvalidInput)
	}

	currencyOfTotal := in.CurrencyOfTotal
	if currencyOfTotal == "" {
		currencyOfTotal = "CZK"
	}

	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO interests (timestamp, type, id_string, currency_of_total, total_czk) VALUES (?, ?, ?, ?, ?)`,
		in.Timestamp, int(in.Type), in.IDString, currencyOfTotal, in.TotalCZK,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert interest: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var existingID int64
		if err := s.db.QueryRow(`SELECT id FROM interests WHERE id_string = ?`, in.IDString).Scan(&existingID); err != nil {
			return 0, false, fmt.Errorf("failed to resolve existing interest: %w", err)
		}
		return existingID, false, nil
	}

	newID, _ := result.LastInsertId()
	return newID, true, nil
}

// InterestTotalsByType sums total_czk grouped by type for timestamps in
// [start, end]. All three known types are present in the result even when
// zero.
func (s *Store) InterestTotalsByType(start, end int64) (map[InterestType]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	totals := map[InterestType]float64{
		InterestUnknown: 0,
		InterestCash:    0,
		InterestLending: 0,
	}

	rows, err := s.db.Query(
		`SELECT type, COALESCE(SUM(total_czk), 0.0) FROM interests
		 WHERE timestamp BETWEEN ? AND ? GROUP BY type`, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query interest totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t int
		var sum float64
		if err := rows.Scan(&t, &sum); err != nil {
			return nil, err
		}
		totals[InterestType(t)] = sum
	}
	return totals, rows.Err()
}
