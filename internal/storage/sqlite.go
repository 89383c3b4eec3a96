package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"approvalmailer/internal/domain"
	logx "approvalmailer/pkg/logx"
)

//go:embed sqlite_migrations.sql
var sqliteMigrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, persistErr("open", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, persistErr("open", err)
	}
	// One connection serializes writers and keeps reads linearizable with them.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, persistErr("migrate", err)
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return persistErr("ping", s.db.PingContext(ctx))
}

func (s *sqliteStore) List(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, minute, hour, day_of_month, month, day_of_week, endpoint_url, username, secret, created_at
		 FROM schedules ORDER BY id`)
	if err != nil {
		return nil, persistErr("list", err)
	}
	defer rows.Close()

	var out []domain.Schedule
	for rows.Next() {
		var (
			sc      domain.Schedule
			created string
		)
		if err := rows.Scan(&sc.ID, &sc.Cron.Minute, &sc.Cron.Hour, &sc.Cron.DayOfMonth, &sc.Cron.Month, &sc.Cron.DayOfWeek,
			&sc.Credential.EndpointURL, &sc.Credential.Username, &sc.Credential.Secret, &created); err != nil {
			return nil, persistErr("list", err)
		}
		ts, err := parseCreatedAt(created)
		if err != nil {
			s.log.Warn("schedule has unreadable created_at", logx.Int64("schedule_id", sc.ID), logx.Err(err))
		}
		sc.CreatedAt = ts
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list", err)
	}
	return out, nil
}

func (s *sqliteStore) Insert(ctx context.Context, f domain.CronFields, c domain.Credential) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(minute, hour, day_of_month, month, day_of_week, endpoint_url, username, secret, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		f.Minute, f.Hour, f.DayOfMonth, f.Month, f.DayOfWeek, c.EndpointURL, c.Username, c.Secret,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, persistErr("insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, persistErr("insert", err)
	}
	return id, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return persistErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("delete", err)
	}
	if n == 0 {
		return persistErr("delete", fmt.Errorf("schedule %d: %w", id, domain.ErrNotFound))
	}
	return nil
}

// parseCreatedAt reads timestamps written by Insert (RFC 3339) and by
// SQLite's CURRENT_TIMESTAMP for rows added outside the service.
func parseCreatedAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation(time.DateTime, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("created_at %q: unrecognized timestamp", raw)
	}
	return ts, nil
}
