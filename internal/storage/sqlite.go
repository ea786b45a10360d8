package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:riskpulse.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite has a single writer
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db, placeholder: func(int) string { return "?" }}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seq INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			ts DATETIME NOT NULL,
			signal_json TEXT NOT NULL,
			risks_json TEXT NOT NULL,
			memory_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_session_seq ON ticks(session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			ts DATETIME NOT NULL,
			severity TEXT NOT NULL,
			rule TEXT NOT NULL,
			message TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_session_ts ON alerts(session_id, ts)`,
	})
}
