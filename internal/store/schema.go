package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// initSchema creates all tables and indexes. Every statement is idempotent
// so opening an existing database is safe.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		description TEXT
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS securities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		isin TEXT NOT NULL UNIQUE,
		ticker TEXT,
		name TEXT
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		isin_id INTEGER NOT NULL,
		id_string TEXT NOT NULL UNIQUE,
		trade_type INTEGER NOT NULL,
		number_of_shares REAL NOT NULL,
		remaining_quantity REAL NOT NULL,
		price_for_share REAL NOT NULL,
		currency_of_price TEXT NOT NULL,
		total_czk REAL NOT NULL,
		stamp_tax_czk REAL NOT NULL DEFAULT 0,
		conversion_fee_czk REAL NOT NULL DEFAULT 0,
		french_transaction_tax_czk REAL NOT NULL DEFAULT 0,
		FOREIGN KEY (isin_id) REFERENCES securities(id) ON DELETE RESTRICT
	);

	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_isin ON trades(isin_id);
	CREATE INDEX IF NOT EXISTS idx_trades_remaining ON trades(remaining_quantity);

	CREATE TABLE IF NOT EXISTS interests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		type INTEGER NOT NULL CHECK (type IN (0, 1, 2)),
		id_string TEXT NOT NULL UNIQUE,
		currency_of_total TEXT NOT NULL DEFAULT 'CZK',
		total_czk REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_interests_timestamp ON interests(timestamp);

	CREATE TABLE IF NOT EXISTS dividends (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		isin_id INTEGER NOT NULL,
		number_of_shares REAL NOT NULL,
		price_for_share REAL NOT NULL,
		currency_of_price TEXT NOT NULL,
		total_czk REAL NOT NULL,
		withholding_tax_czk REAL NOT NULL DEFAULT 0,
		UNIQUE(timestamp, isin_id),
		FOREIGN KEY (isin_id) REFERENCES securities(id) ON DELETE RESTRICT
	);

	CREATE INDEX IF NOT EXISTS idx_dividends_timestamp ON dividends(timestamp);
	CREATE INDEX IF NOT EXISTS idx_dividends_isin ON dividends(isin_id);

	CREATE TABLE IF NOT EXISTS pairings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_trade_id INTEGER NOT NULL,
		purchase_trade_id INTEGER NOT NULL,
		quantity REAL NOT NULL,
		method TEXT NOT NULL,
		time_test_qualified INTEGER NOT NULL DEFAULT 0,
		holding_period_days INTEGER NOT NULL,
		locked INTEGER NOT NULL DEFAULT 0,
		locked_reason TEXT,
		notes TEXT,
		FOREIGN KEY (sale_trade_id) REFERENCES trades(id) ON DELETE RESTRICT,
		FOREIGN KEY (purchase_trade_id) REFERENCES trades(id) ON DELETE RESTRICT
	);

	CREATE INDEX IF NOT EXISTS idx_pairings_sale ON pairings(sale_trade_id);
	CREATE INDEX IF NOT EXISTS idx_pairings_purchase ON pairings(purchase_trade_id);
	CREATE INDEX IF NOT EXISTS idx_pairings_time_test ON pairings(time_test_qualified);
	CREATE INDEX IF NOT EXISTS idx_pairings_method ON pairings(method);

	CREATE TABLE IF NOT EXISTS annual_rates (
		year INTEGER NOT NULL,
		currency TEXT NOT NULL,
		amount INTEGER NOT NULL,
		rate REAL NOT NULL,
		description TEXT,
		PRIMARY KEY (year, currency)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// recordVersion appends a row to the version log.
func (s *Store) recordVersion(version int, description string) error {
	_, err := s.db.Exec(
		`INSERT INTO versions (version, timestamp, description) VALUES (?, ?, ?)`,
		version, nowUnix(), description,
	)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// getVersion returns the most recently recorded schema version, or 0 if
// the versions table is empty (a freshly created database before its
// first recordVersion call).
func (s *Store) getVersion() (int, error) {
	var version int
	err := s.db.QueryRow(`SELECT version FROM versions ORDER BY id DESC LIMIT 1`).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
