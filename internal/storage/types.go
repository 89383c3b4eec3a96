package storage

import (
	"context"
	"time"

	"approvalmailer/internal/domain"
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string        // sqlite database file or JSON snapshot file
	DSN         string        // postgres connection string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgx default
}

// Store is the schedule repository.
//
// Implementations serialize writes against List so a reconciliation read always
// observes every committed insert/delete.
type Store interface {
	List(ctx context.Context) ([]domain.Schedule, error)
	Insert(ctx context.Context, fields domain.CronFields, cred domain.Credential) (int64, error)
	Delete(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
	Close() error
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.PersistenceError{Op: op, Err: err}
}
