package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"approvalmailer/internal/cronspec"
	"approvalmailer/internal/domain"
	"approvalmailer/internal/metrics"
	"approvalmailer/internal/pipeline"
	logx "approvalmailer/pkg/logx"
)

func New(cfg Config, repo Repository, runner Runner, m metrics.Sink, log logx.Logger) *Service {
	if m == nil {
		m = metrics.NoopSink{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		repo:    repo,
		runner:  runner,
		metrics: m,
		log:     log,
		baseCtx: context.Background(),
	}
}

// Start loads the timezone and installs the trigger set from the repository.
//
// Only a scheduling facility that cannot be built is an error. A repository
// failure is logged and leaves the controller idle until the next Reconfigure.
func (s *Service) Start(ctx context.Context) error {
	s.reconf.Lock()
	defer s.reconf.Unlock()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.loc = loc
	s.started = true
	// Firings outlive the caller's ctx; only its values are kept.
	s.baseCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	if err := s.reconfigureLocked(ctx); err != nil {
		s.log.Warn("initial reconfigure failed; scheduler idle", logx.Err(err))
	}
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("triggers", s.Triggers()))
	return nil
}

// Stop cancels future firings and waits for runs in progress, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.reconf.Lock()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entries = nil
	s.started = false
	if c != nil {
		s.draining = append(s.draining, c.Stop())
	}
	draining := s.draining
	s.draining = nil
	s.mu.Unlock()
	s.metrics.TriggersActive(0)
	s.reconf.Unlock()

	for _, d := range draining {
		select {
		case <-d.Done():
		case <-ctx.Done():
			s.log.Warn("stop deadline reached; runs still in progress", logx.Err(ctx.Err()))
			return
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Reconfigure replaces the live trigger set with one built from the repository.
// On a repository error the previous set stays in place and the error is returned.
func (s *Service) Reconfigure(ctx context.Context) error {
	s.reconf.Lock()
	defer s.reconf.Unlock()
	return s.reconfigureLocked(ctx)
}

func (s *Service) reconfigureLocked(ctx context.Context) error {
	schedules, err := s.repo.List(ctx)
	if err != nil {
		s.metrics.Reconfigured(metrics.OutcomeFailed)
		s.log.Error("reconfigure: list schedules failed; keeping current triggers", logx.Err(err))
		return err
	}

	s.mu.Lock()
	loc := s.loc
	started := s.started
	s.mu.Unlock()
	if loc == nil {
		loc = time.Local
	}

	next := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
	)
	entries := make([]entry, 0, len(schedules))
	skipped := 0
	for _, sc := range schedules {
		spec, err := cronspec.Parse(sc.Cron)
		if err != nil {
			var se *domain.ScheduleSpecError
			if errors.As(err, &se) {
				se.ScheduleID = sc.ID
			}
			skipped++
			s.log.Warn("schedule skipped", logx.Int64("schedule_id", sc.ID), logx.String("pattern", sc.Cron.String()), logx.Err(err))
			continue
		}
		e := entry{schedule: sc, spec: spec, running: new(atomic.Int32)}
		e.entryID = next.Schedule(spec.Schedule(), s.job(e))
		entries = append(entries, e)
	}

	s.mu.Lock()
	old := s.c
	if len(entries) > 0 && started {
		s.c = next
	} else {
		s.c = nil
	}
	s.entries = entries
	// The old set stops before the new one starts so a boundary minute fires once.
	// Stop only prevents future firings; runs already in progress continue.
	if old != nil {
		s.draining = append(pruneDone(s.draining), old.Stop())
	}
	if s.c != nil {
		s.c.Start()
	}
	s.mu.Unlock()

	s.metrics.TriggersActive(len(entries))
	if skipped > 0 {
		s.metrics.Reconfigured(metrics.OutcomePartial)
	} else {
		s.metrics.Reconfigured(metrics.OutcomeSuccess)
	}
	s.log.Info("triggers reconfigured", logx.Int("triggers", len(entries)), logx.Int("skipped", skipped), logx.Bool("active", started && len(entries) > 0))
	return nil
}

// job binds one schedule's credential to a cron firing.
func (s *Service) job(e entry) cron.Job {
	return cron.FuncJob(func() {
		e.running.Add(1)
		defer e.running.Add(-1)

		s.mu.Lock()
		base := s.baseCtx
		timeout := s.runTimeoutLocked()
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(base, timeout)
		defer cancel()
		log := s.log.With(logx.Int64("schedule_id", e.schedule.ID))
		log.Debug("trigger fired", logx.String("pattern", e.spec.String()))
		if _, err := s.runner.Run(ctx, metrics.TriggerScheduled, e.schedule.Credential); err != nil {
			log.Warn("scheduled run failed", logx.Err(err))
		}
	})
}

// TriggerNow runs the pipeline synchronously for an ad-hoc credential,
// bypassing the trigger set.
func (s *Service) TriggerNow(ctx context.Context, cred domain.Credential) (pipeline.Report, error) {
	if err := cred.Validate(); err != nil {
		return pipeline.Report{}, err
	}
	s.mu.Lock()
	timeout := s.runTimeoutLocked()
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.runner.Run(ctx, metrics.TriggerManual, cred)
}

// Apply updates the run timeout immediately. A timezone change takes effect
// by rebuilding the trigger set.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.reconf.Lock()
	defer s.reconf.Unlock()

	s.mu.Lock()
	tzChanged := strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	started := s.started
	if !tzChanged {
		s.cfg = cfg
		s.mu.Unlock()
		return nil
	}
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg = cfg
	s.loc = loc
	s.mu.Unlock()

	if !started {
		return nil
	}
	return s.reconfigureLocked(ctx)
}

// Triggers returns the number of registered triggers.
func (s *Service) Triggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	entries := make([]entry, len(s.entries))
	copy(entries, s.entries)
	c := s.c
	loc := s.loc
	started := s.started
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	out := Snapshot{Started: started, Active: c != nil, Timezone: loc.String()}
	out.Entries = make([]EntryInfo, 0, len(entries))
	for _, e := range entries {
		info := EntryInfo{
			ScheduleID: e.schedule.ID,
			Pattern:    e.spec.String(),
			Endpoint:   e.schedule.Credential.EndpointURL,
			Running:    e.running.Load() > 0,
		}
		if c != nil {
			ce := c.Entry(e.entryID)
			info.Next = ce.Next
			info.Prev = ce.Prev
		}
		out.Entries = append(out.Entries, info)
	}
	return out
}

func (s *Service) runTimeoutLocked() time.Duration {
	if s.cfg.RunTimeout > 0 {
		return s.cfg.RunTimeout
	}
	return DefaultRunTimeout
}

func pruneDone(ctxs []context.Context) []context.Context {
	out := ctxs[:0]
	for _, c := range ctxs {
		if c.Err() == nil {
			out = append(out, c)
		}
	}
	return out
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler: timezone %q: %w", tz, err)
	}
	return loc, nil
}

// cronLogger routes robfig/cron's internal logging (panic recovery) to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
