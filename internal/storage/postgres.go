package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/riskpulse?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, placeholder: func(n int) string { return "$" + strconv.Itoa(n) }}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			id BIGSERIAL PRIMARY KEY,
			seq BIGINT NOT NULL,
			session_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			signal_json JSONB NOT NULL,
			risks_json JSONB NOT NULL,
			memory_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_session_seq ON ticks(session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			alert_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			severity TEXT NOT NULL,
			rule TEXT NOT NULL,
			message TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_session_ts ON alerts(session_id, ts)`,
	})
}
