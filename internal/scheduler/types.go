package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"approvalmailer/internal/cronspec"
	"approvalmailer/internal/domain"
	"approvalmailer/internal/metrics"
	"approvalmailer/internal/pipeline"
	logx "approvalmailer/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Timezone   string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
	RunTimeout time.Duration
}

const DefaultRunTimeout = 5 * time.Minute

// Repository is the read side of the schedule store.
type Repository interface {
	List(ctx context.Context) ([]domain.Schedule, error)
}

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, trigger string, cred domain.Credential) (pipeline.Report, error)
}

type entry struct {
	schedule domain.Schedule
	spec     cronspec.Spec
	entryID  cron.EntryID
	running  *atomic.Int32
}

type Service struct {
	// reconf serializes Reconfigure, Start and Stop.
	reconf sync.Mutex

	// mu guards the fields below; never held across a repository call or a run.
	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	c       *cron.Cron
	entries []entry
	started bool
	baseCtx context.Context

	repo    Repository
	runner  Runner
	metrics metrics.Sink
	log     logx.Logger

	// draining holds the Stop contexts of replaced trigger sets whose runs may
	// still be in progress.
	draining []context.Context
}

// EntryInfo describes one registered trigger.
type EntryInfo struct {
	ScheduleID int64
	Pattern    string
	Endpoint   string
	Next       time.Time
	Prev       time.Time
	Running    bool
}

type Snapshot struct {
	Started  bool
	Active   bool // a non-empty trigger set is running
	Timezone string
	Entries  []EntryInfo
}
