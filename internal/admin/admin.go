// Package admin exposes the administrative operations on schedules and
// on-demand runs. Transports call into Service; it has no HTTP knowledge.
package admin

import (
	"context"
	"fmt"

	"approvalmailer/internal/cronspec"
	"approvalmailer/internal/domain"
	"approvalmailer/internal/pipeline"
	logx "approvalmailer/pkg/logx"
)

type Store interface {
	List(ctx context.Context) ([]domain.Schedule, error)
	Insert(ctx context.Context, fields domain.CronFields, cred domain.Credential) (int64, error)
	Delete(ctx context.Context, id int64) error
}

type Scheduler interface {
	Reconfigure(ctx context.Context) error
	TriggerNow(ctx context.Context, cred domain.Credential) (pipeline.Report, error)
}

type Previewer interface {
	Preview(ctx context.Context, cred domain.Credential) ([]domain.FeedRecord, error)
}

// ReconfigureError reports a schedule change that was persisted but not yet
// reflected in the live trigger set.
type ReconfigureError struct {
	ScheduleID int64
	Err        error
}

func (e *ReconfigureError) Error() string {
	return fmt.Sprintf("schedule %d saved but triggers not reloaded: %v", e.ScheduleID, e.Err)
}

func (e *ReconfigureError) Unwrap() error { return e.Err }

type Service struct {
	store   Store
	sched   Scheduler
	preview Previewer
	log     logx.Logger
}

func New(store Store, sched Scheduler, preview Previewer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, sched: sched, preview: preview, log: log}
}

func (s *Service) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	return s.store.List(ctx)
}

// AddSchedule validates and stores a schedule, then reloads the triggers.
//
// Validation failures return before anything is written. When the insert
// succeeds but the reload fails, the id is returned together with a
// *ReconfigureError.
func (s *Service) AddSchedule(ctx context.Context, fields domain.CronFields, cred domain.Credential) (int64, error) {
	if err := cred.Validate(); err != nil {
		return 0, err
	}
	spec, err := cronspec.Parse(fields)
	if err != nil {
		return 0, err
	}
	id, err := s.store.Insert(ctx, spec.Fields(), cred)
	if err != nil {
		s.log.Error("add schedule failed", logx.String("pattern", spec.String()), logx.Err(err))
		return 0, err
	}
	s.log.Info("schedule added",
		logx.Int64("schedule_id", id),
		logx.String("pattern", spec.String()),
		logx.String("endpoint", cred.EndpointURL),
	)
	if err := s.sched.Reconfigure(ctx); err != nil {
		return id, &ReconfigureError{ScheduleID: id, Err: err}
	}
	return id, nil
}

// DeleteSchedule removes a schedule and reloads the triggers.
func (s *Service) DeleteSchedule(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		s.log.Warn("delete schedule failed", logx.Int64("schedule_id", id), logx.Err(err))
		return err
	}
	s.log.Info("schedule deleted", logx.Int64("schedule_id", id))
	if err := s.sched.Reconfigure(ctx); err != nil {
		return &ReconfigureError{ScheduleID: id, Err: err}
	}
	return nil
}

// FetchNow returns the feed records for cred without dispatching.
func (s *Service) FetchNow(ctx context.Context, cred domain.Credential) ([]domain.FeedRecord, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	return s.preview.Preview(ctx, cred)
}

// SendNow runs the full pipeline for cred and waits for it to finish.
func (s *Service) SendNow(ctx context.Context, cred domain.Credential) (pipeline.Report, error) {
	return s.sched.TriggerNow(ctx, cred)
}
