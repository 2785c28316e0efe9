package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// backupTo clones every page from srcConn's underlying connection into
// destDB using SQLite's online backup API, one step at a time until done.
// This is the Go analogue of Python's sqlite3.Connection.backup used by
// the original tool's "save as" feature.
func backupTo(srcConn *sql.Conn, destDB *sql.DB) error {
	var backupErr error
	err := srcConn.Raw(func(srcDriverConn any) error {
		srcSQLiteConn, ok := srcDriverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("source connection is not a sqlite3 connection")
		}

		destConn, err := destDB.Conn(context.Background())
		if err != nil {
			return err
		}
		defer destConn.Close()

		return destConn.Raw(func(destDriverConn any) error {
			destSQLiteConn, ok := destDriverConn.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("destination connection is not a sqlite3 connection")
			}

			backup, err := destSQLiteConn.Backup("main", srcSQLiteConn, "main")
			if err != nil {
				return fmt.Errorf("failed to start backup: %w", err)
			}
			defer backup.Close()

			for {
				done, stepErr := backup.Step(-1)
				if stepErr != nil {
					backupErr = stepErr
					return stepErr
				}
				if done {
					return nil
				}
			}
		})
	})
	if err != nil {
		return err
	}
	return backupErr
}
