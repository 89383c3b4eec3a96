package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"approvalmailer/internal/admin"
	"approvalmailer/internal/config"
	"approvalmailer/internal/digest"
	"approvalmailer/internal/feed"
	"approvalmailer/internal/httpapi"
	"approvalmailer/internal/mailer"
	"approvalmailer/internal/metrics"
	"approvalmailer/internal/pipeline"
	"approvalmailer/internal/runtime/supervisor"
	"approvalmailer/internal/scheduler"
	"approvalmailer/internal/storage"
	logx "approvalmailer/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	reg  *prometheus.Registry
	sink metrics.Sink

	fetcher *feed.Fetcher
	builder *digest.Builder
	sender  *mailer.Sender
	runner  *pipeline.Runner

	sched *scheduler.Service
	admin *admin.Service
	http  *httpapi.Server
}

func NewApp(cfgPath string) (*App, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	fc, err := mapFeed(cfg)
	if err != nil {
		return nil, err
	}
	mc, err := mapMail(cfg)
	if err != nil {
		return nil, err
	}
	schedCfg, err := mapScheduler(cfg)
	if err != nil {
		return nil, err
	}
	hc, err := mapHTTP(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	reg := prometheus.NewRegistry()
	var sink metrics.Sink = metrics.NoopSink{}
	if cfg.Metrics.Enabled {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		sink = metrics.NewPrometheusSink(reg, log.With(logx.String("comp", "metrics")))
	}

	fetcher := feed.New(fc, nil, log.With(logx.String("comp", "feed")))
	builder := digest.New(mapDigest(cfg))
	sender := mailer.New(mc, log.With(logx.String("comp", "mailer")))
	runner := pipeline.New(mapPipeline(cfg), fetcher, builder, sender, sink, log.With(logx.String("comp", "pipeline")))

	schedSvc := scheduler.New(schedCfg, store, runner, sink, log.With(logx.String("comp", "scheduler")))
	adminSvc := admin.New(store, schedSvc, runner, log.With(logx.String("comp", "admin")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		reg:     reg,
		sink:    sink,
		fetcher: fetcher,
		builder: builder,
		sender:  sender,
		runner:  runner,
		sched:   schedSvc,
		admin:   adminSvc,
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}
	routerDeps := httpapi.Deps{
		Admin:     adminSvc,
		Scheduler: schedSvc,
		Health:    a.health,
		Metrics:   metricsHandler,
		Log:       log.With(logx.String("comp", "http")),
	}
	a.http = httpapi.NewServer(hc, func(c httpapi.Config) http.Handler {
		return httpapi.NewRouter(c, routerDeps)
	}, log.With(logx.String("comp", "http")))

	return a, nil
}

func (a *App) health(ctx context.Context) error {
	return a.store.Ping(ctx)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorage(cfg); err != nil {
			return err
		}
		if _, err := mapFeed(cfg); err != nil {
			return err
		}
		if _, err := mapMail(cfg); err != nil {
			return err
		}
		if _, err := mapScheduler(cfg); err != nil {
			return err
		}
		_, err := mapHTTP(cfg)
		return err
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := a.http.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.RestartPolicy{
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
	})

	a.log.Info("app started",
		logx.Int("triggers", a.sched.Triggers()),
		logx.String("http", a.http.Addr()),
	)
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogging(newCfg))

	if mc, err := mapMail(newCfg); err != nil {
		a.log.Warn("invalid mail config; keeping previous", logx.Err(err))
	} else {
		a.sender.Apply(mc)
	}
	a.runner.Apply(mapPipeline(newCfg))
	a.builder.Apply(mapDigest(newCfg))

	if sc, err := mapScheduler(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else if err := a.sched.Apply(ctx, sc); err != nil {
		a.log.Warn("scheduler reconfigure failed", logx.Err(err))
	}

	if hc, err := mapHTTP(newCfg); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else if err := a.http.Reconfigure(ctx, hc); err != nil {
		a.log.Warn("http reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// step bounds one shutdown phase so a stuck component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("http", 3*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	// in-flight runs finish against their own timeout; wait for them here
	step("scheduler", 30*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
