// Package pipeline runs one fetch, build and dispatch cycle for a credential.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"approvalmailer/internal/domain"
	"approvalmailer/internal/metrics"
	logx "approvalmailer/pkg/logx"
)

type Fetcher interface {
	Fetch(ctx context.Context, cred domain.Credential) ([]domain.FeedRecord, error)
}

type Builder interface {
	Build(records []domain.FeedRecord) []domain.Digest
}

type Sender interface {
	Send(ctx context.Context, d domain.Digest) error
}

type Config struct {
	// Concurrency bounds parallel sends within one run; <= 1 sends sequentially.
	Concurrency int
}

// Failure is one recipient whose digest could not be delivered.
type Failure struct {
	Recipient string
	Err       error
}

// Report summarizes one run.
type Report struct {
	RunID     string
	Trigger   string
	StartedAt time.Time
	Duration  time.Duration

	Fetched int
	// Skipped counts fetched records without a recipient email.
	Skipped int
	Digests int
	Sent    []string
	Failed  []Failure
}

type Runner struct {
	cfg     atomic.Pointer[Config]
	fetcher Fetcher
	builder Builder
	sender  Sender
	metrics metrics.Sink
	log     logx.Logger
}

func New(cfg Config, f Fetcher, b Builder, s Sender, m metrics.Sink, log logx.Logger) *Runner {
	if m == nil {
		m = metrics.NoopSink{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{fetcher: f, builder: b, sender: s, metrics: m, log: log}
	r.Apply(cfg)
	return r
}

// Apply replaces the config used by runs that start afterwards.
func (r *Runner) Apply(cfg Config) {
	r.cfg.Store(&cfg)
}

// Preview fetches the feed without dispatching anything.
func (r *Runner) Preview(ctx context.Context, cred domain.Credential) ([]domain.FeedRecord, error) {
	start := time.Now()
	records, err := r.fetcher.Fetch(ctx, cred)
	r.metrics.FetchCompleted(time.Since(start), len(records), err)
	return records, err
}

// Run executes the pipeline once.
//
// A fetch failure ends the run before anything is sent. A failed send does not
// stop the remaining recipients; the returned error then joins every
// *domain.DispatchError of the run.
func (r *Runner) Run(ctx context.Context, trigger string, cred domain.Credential) (Report, error) {
	rep := Report{RunID: uuid.NewString(), Trigger: trigger, StartedAt: time.Now()}
	log := r.log.With(
		logx.String("run_id", rep.RunID),
		logx.String("trigger", trigger),
		logx.String("endpoint", cred.EndpointURL),
		logx.String("user", cred.Username),
	)
	finish := func(outcome string) {
		rep.Duration = time.Since(rep.StartedAt)
		r.metrics.RunCompleted(trigger, outcome, rep.Duration)
	}

	records, err := r.Preview(ctx, cred)
	if err != nil {
		log.Error("fetch failed; nothing dispatched", logx.Err(err))
		finish(metrics.OutcomeFetchError)
		return rep, err
	}
	rep.Fetched = len(records)
	for _, rec := range records {
		if !rec.Dispatchable() {
			rep.Skipped++
		}
	}
	if rep.Skipped > 0 {
		log.Warn("records without recipient email dropped", logx.Int("count", rep.Skipped))
	}

	digests := r.builder.Build(records)
	rep.Digests = len(digests)
	if len(digests) == 0 {
		log.Info("no pending documents to dispatch", logx.Int("fetched", rep.Fetched))
		finish(metrics.OutcomeSuccess)
		return rep, nil
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	limit := r.cfg.Load().Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, d := range digests {
		d := d
		g.Go(func() error {
			err := r.sender.Send(ctx, d)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.metrics.MailSent(metrics.OutcomeFailed)
				rep.Failed = append(rep.Failed, Failure{Recipient: d.Recipient, Err: err})
				errs = append(errs, err)
				return nil
			}
			r.metrics.MailSent(metrics.OutcomeSuccess)
			rep.Sent = append(rep.Sent, d.Recipient)
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case len(errs) == 0:
		finish(metrics.OutcomeSuccess)
	case len(rep.Sent) == 0:
		finish(metrics.OutcomeFailed)
	default:
		finish(metrics.OutcomePartial)
	}
	log.Info("run complete",
		logx.Int("fetched", rep.Fetched),
		logx.Int("digests", rep.Digests),
		logx.Int("sent", len(rep.Sent)),
		logx.Int("failed", len(rep.Failed)),
		logx.Duration("took", rep.Duration),
	)
	return rep, errors.Join(errs...)
}
