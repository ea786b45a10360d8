// Package storage journals processed ticks and alerts to SQL.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"riskpulse/internal/config"
	"riskpulse/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveTick(ctx context.Context, tick model.Tick) error
	SaveAlerts(ctx context.Context, sessionID string, alerts []model.Alert) error
	Clear(ctx context.Context) error
	CountTicks(ctx context.Context, sessionID string) (int, error)
	RecentAlerts(ctx context.Context, sessionID string, limit int) ([]model.Alert, error)
}

// NewStore returns nil when the journal is disabled.
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) binds(from, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = b.placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) SaveTick(ctx context.Context, tick model.Tick) error {
	if b.db == nil {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO ticks (seq, session_id, ts, signal_json, risks_json, memory_json)
		VALUES (`+b.binds(1, 6)+`)`,
		int64(tick.Seq),
		tick.SessionID,
		tick.Timestamp.UTC(),
		encodeJSON(tick.Signal),
		encodeJSON(tick.Risks),
		encodeJSON(tick.Memory),
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert tick %d: %w", tick.Seq, err)
	}
	if err := b.insertAlerts(ctx, tx, tick.SessionID, tick.Alerts); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (b *baseStore) SaveAlerts(ctx context.Context, sessionID string, alerts []model.Alert) error {
	if b.db == nil || len(alerts) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := b.insertAlerts(ctx, tx, sessionID, alerts); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (b *baseStore) insertAlerts(ctx context.Context, tx *sql.Tx, sessionID string, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO alerts (alert_id, session_id, ts, severity, rule, message)
		VALUES (`+b.binds(1, 6)+`)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, a := range alerts {
		if _, err := stmt.ExecContext(ctx,
			a.ID,
			sessionID,
			a.Timestamp.UTC(),
			string(a.Severity),
			a.Rule,
			a.Message,
		); err != nil {
			return fmt.Errorf("insert alert %s: %w", a.ID, err)
		}
	}
	return nil
}

// Clear drops every journaled row; a session reset starts a fresh journal.
func (b *baseStore) Clear(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	return b.exec(ctx, []string{`DELETE FROM alerts`, `DELETE FROM ticks`})
}

func (b *baseStore) CountTicks(ctx context.Context, sessionID string) (int, error) {
	if b.db == nil {
		return 0, nil
	}
	var n int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ticks WHERE session_id = `+b.placeholder(1), sessionID).Scan(&n)
	return n, err
}

// RecentAlerts returns up to limit journaled alerts, most recent first.
func (b *baseStore) RecentAlerts(ctx context.Context, sessionID string, limit int) ([]model.Alert, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT alert_id, ts, severity, rule, message FROM alerts
		WHERE session_id = `+b.placeholder(1)+`
		ORDER BY id DESC LIMIT `+b.placeholder(2), sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		var (
			a        model.Alert
			ts       time.Time
			severity string
		)
		if err := rows.Scan(&a.ID, &ts, &severity, &a.Rule, &a.Message); err != nil {
			return nil, err
		}
		a.Timestamp = ts.UTC()
		a.Severity = model.Severity(severity)
		out = append(out, a)
	}
	return out, rows.Err()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
