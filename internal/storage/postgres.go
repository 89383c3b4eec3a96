package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"approvalmailer/internal/domain"
	logx "approvalmailer/pkg/logx"
)

//go:embed postgres_migrations.sql
var postgresMigrations string

type postgresStore struct {
	db  *pgxpool.Pool
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, persistErr("open", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, persistErr("open", err)
	}
	if _, err := pool.Exec(ctx, postgresMigrations); err != nil {
		pool.Close()
		return nil, persistErr("migrate", err)
	}
	log.Debug("postgres store ready", logx.String("host", pcfg.ConnConfig.Host))
	return &postgresStore{db: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s != nil && s.db != nil {
		s.db.Close()
	}
	return nil
}

func (s *postgresStore) Ping(ctx context.Context) error {
	return persistErr("ping", s.db.Ping(ctx))
}

func (s *postgresStore) List(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, minute, hour, day_of_month, month, day_of_week, endpoint_url, username, secret, created_at
		 FROM schedules ORDER BY id`)
	if err != nil {
		return nil, persistErr("list", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Schedule, error) {
		var sc domain.Schedule
		err := row.Scan(&sc.ID, &sc.Cron.Minute, &sc.Cron.Hour, &sc.Cron.DayOfMonth, &sc.Cron.Month, &sc.Cron.DayOfWeek,
			&sc.Credential.EndpointURL, &sc.Credential.Username, &sc.Credential.Secret, &sc.CreatedAt)
		return sc, err
	})
	if err != nil {
		return nil, persistErr("list", err)
	}
	return out, nil
}

func (s *postgresStore) Insert(ctx context.Context, f domain.CronFields, c domain.Credential) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO schedules(minute, hour, day_of_month, month, day_of_week, endpoint_url, username, secret)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		f.Minute, f.Hour, f.DayOfMonth, f.Month, f.DayOfWeek, c.EndpointURL, c.Username, c.Secret,
	).Scan(&id)
	if err != nil {
		return 0, persistErr("insert", err)
	}
	return id, nil
}

func (s *postgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return persistErr("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return persistErr("delete", fmt.Errorf("schedule %d: %w", id, domain.ErrNotFound))
	}
	return nil
}
