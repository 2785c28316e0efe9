package store

import (
	"fmt"
	"sort"
)

// Years returns every calendar year (local time) in which a trade,
// dividend, or interest record exists, sorted ascending.
func (s *Store) Years() ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	yearSet := make(map[int]struct{})
	queries := []string{
		`SELECT DISTINCT CAST(strftime('%Y', timestamp, 'unixepoch', 'localtime') AS INTEGER) FROM trades`,
		`SELECT DISTINCT CAST(strftime('%Y', timestamp, 'unixepoch', 'localtime') AS INTEGER) FROM dividends`,
		`SELECT DISTINCT CAST(strftime('%Y', timestamp, 'unixepoch', 'localtime') AS INTEGER) FROM interests`,
	}

	for _, q := range queries {
		rows, err := s.db.Query(q)
		if err != nil {
			return nil, fmt.Errorf("failed to query years: %w", err)
		}
		for rows.Next() {
			var year int
			if err := rows.Scan(&year); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan year: %w", err)
			}
			yearSet[year] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	years := make([]int, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}
