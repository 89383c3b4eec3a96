package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"approvalmailer/internal/domain"
	"approvalmailer/internal/pipeline"
	"approvalmailer/internal/scheduler"
	logx "approvalmailer/pkg/logx"
)

type Admin interface {
	ListSchedules(ctx context.Context) ([]domain.Schedule, error)
	AddSchedule(ctx context.Context, fields domain.CronFields, cred domain.Credential) (int64, error)
	DeleteSchedule(ctx context.Context, id int64) error
	FetchNow(ctx context.Context, cred domain.Credential) ([]domain.FeedRecord, error)
	SendNow(ctx context.Context, cred domain.Credential) (pipeline.Report, error)
}

type Snapshotter interface {
	Snapshot() scheduler.Snapshot
}

// Deps are the collaborators behind the routes. Health and Metrics are optional.
type Deps struct {
	Admin     Admin
	Scheduler Snapshotter
	Health    func(ctx context.Context) error
	Metrics   http.Handler
	Log       logx.Logger
}

// NewRouter builds the handler for cfg.
func NewRouter(cfg Config, d Deps) http.Handler {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	h := &handlers{admin: d.Admin, sched: d.Scheduler, health: d.Health, log: d.Log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if cfg.Pprof {
		r.Mount("/debug", bearerAuth(cfg.Token)(middleware.Profiler()))
	}

	r.Route("/api", func(r chi.Router) {
		if len(cfg.CORSOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: cfg.CORSOrigins,
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
				MaxAge:         300,
			}))
		}
		r.Use(bearerAuth(cfg.Token))
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/schedules", h.listSchedules)
		r.Post("/schedules", h.addSchedule)
		r.Delete("/schedules/{id}", h.deleteSchedule)
		r.Post("/fetch", h.fetchNow)
		r.Post("/send", h.sendNow)
	})
	return r
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("http request",
					logx.String("request_id", middleware.GetReqID(r.Context())),
					logx.String("method", r.Method),
					logx.String("path", r.URL.Path),
					logx.Int("status", ww.Status()),
					logx.Int("bytes", ww.BytesWritten()),
					logx.Duration("took", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// bearerAuth accepts "Authorization: Bearer <token>"; an empty token disables it.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			ah := r.Header.Get("Authorization")
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, errorResponse{Error: "unauthorized"})
		})
	}
}
