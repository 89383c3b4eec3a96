package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"approvalmailer/internal/domain"
	logx "approvalmailer/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// The whole schedule set lives in one JSON snapshot that is rewritten
// (tmp file + rename) on every insert/delete.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	nextID int64
	rows   []fileRecord
	closed bool
}

type fileSnapshot struct {
	NextID    int64        `json:"next_id"`
	Schedules []fileRecord `json:"schedules"`
}

type fileRecord struct {
	ID          int64     `json:"id"`
	Minute      string    `json:"minute"`
	Hour        string    `json:"hour"`
	DayOfMonth  string    `json:"day_of_month"`
	Month       string    `json:"month"`
	DayOfWeek   string    `json:"day_of_week"`
	EndpointURL string    `json:"endpoint_url"`
	Username    string    `json:"username"`
	Secret      string    `json:"secret"`
	CreatedAt   time.Time `json:"created_at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, persistErr("open", err)
	}

	s := &fileStore{log: log, path: path, nextID: 1}
	snap, err := loadSnapshot(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// fresh store
	case err != nil:
		return nil, persistErr("open", err)
	default:
		s.rows = snap.Schedules
		s.nextID = snap.NextID
		for _, r := range s.rows {
			if r.ID >= s.nextID {
				s.nextID = r.ID + 1
			}
		}
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return persistErr("ping", errors.New("store closed"))
	}
	return nil
}

func (s *fileStore) List(_ context.Context) ([]domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, persistErr("list", errors.New("store closed"))
	}
	out := make([]domain.Schedule, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *fileStore) Insert(_ context.Context, f domain.CronFields, c domain.Credential) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, persistErr("insert", errors.New("store closed"))
	}
	rec := fileRecord{
		ID:          s.nextID,
		Minute:      f.Minute,
		Hour:        f.Hour,
		DayOfMonth:  f.DayOfMonth,
		Month:       f.Month,
		DayOfWeek:   f.DayOfWeek,
		EndpointURL: c.EndpointURL,
		Username:    c.Username,
		Secret:      c.Secret,
		CreatedAt:   time.Now().UTC(),
	}
	rows := append(append([]fileRecord(nil), s.rows...), rec)
	if err := s.writeLocked(s.nextID+1, rows); err != nil {
		return 0, persistErr("insert", err)
	}
	s.rows = rows
	s.nextID++
	return rec.ID, nil
}

func (s *fileStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return persistErr("delete", errors.New("store closed"))
	}
	idx := -1
	for i, r := range s.rows {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return persistErr("delete", fmt.Errorf("schedule %d: %w", id, domain.ErrNotFound))
	}
	rows := make([]fileRecord, 0, len(s.rows)-1)
	rows = append(rows, s.rows[:idx]...)
	rows = append(rows, s.rows[idx+1:]...)
	if err := s.writeLocked(s.nextID, rows); err != nil {
		return persistErr("delete", err)
	}
	s.rows = rows
	return nil
}

// writeLocked commits a new snapshot; memory state changes only after it succeeds.
func (s *fileStore) writeLocked(nextID int64, rows []fileRecord) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fileSnapshot{NextID: nextID, Schedules: rows}); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func loadSnapshot(path string) (fileSnapshot, error) {
	var snap fileSnapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode %s: %w", path, err)
	}
	return snap, nil
}

func (r fileRecord) toDomain() domain.Schedule {
	return domain.Schedule{
		ID: r.ID,
		Cron: domain.CronFields{
			Minute:     r.Minute,
			Hour:       r.Hour,
			DayOfMonth: r.DayOfMonth,
			Month:      r.Month,
			DayOfWeek:  r.DayOfWeek,
		},
		Credential: domain.Credential{
			EndpointURL: r.EndpointURL,
			Username:    r.Username,
			Secret:      r.Secret,
		},
		CreatedAt: r.CreatedAt,
	}
}
