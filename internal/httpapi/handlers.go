package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"approvalmailer/internal/admin"
	"approvalmailer/internal/domain"
	"approvalmailer/internal/pipeline"
	logx "approvalmailer/pkg/logx"
)

type handlers struct {
	admin  Admin
	sched  Snapshotter
	health func(ctx context.Context) error
	log    logx.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type credentialRequest struct {
	EndpointURL string `json:"endpoint_url"`
	Username    string `json:"username"`
	Secret      string `json:"secret"`
}

func (c credentialRequest) credential() domain.Credential {
	return domain.Credential{EndpointURL: c.EndpointURL, Username: c.Username, Secret: c.Secret}
}

type addScheduleRequest struct {
	Minute     string `json:"minute"`
	Hour       string `json:"hour"`
	DayOfMonth string `json:"day_of_month"`
	Month      string `json:"month"`
	DayOfWeek  string `json:"day_of_week"`
	credentialRequest
}

type addScheduleResponse struct {
	ID      int64  `json:"id"`
	Warning string `json:"warning,omitempty"`
}

type scheduleResponse struct {
	ID          int64      `json:"id"`
	Minute      string     `json:"minute"`
	Hour        string     `json:"hour"`
	DayOfMonth  string     `json:"day_of_month"`
	Month       string     `json:"month"`
	DayOfWeek   string     `json:"day_of_week"`
	Pattern     string     `json:"pattern"`
	EndpointURL string     `json:"endpoint_url"`
	Username    string     `json:"username"`
	SecretSet   bool       `json:"secret_set"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	Active      bool       `json:"active"`
	Running     bool       `json:"running"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	PrevRun     *time.Time `json:"prev_run,omitempty"`
}

type recordResponse struct {
	DocumentType   string            `json:"document_type,omitempty"`
	DocumentNumber string            `json:"document_number,omitempty"`
	Email          string            `json:"email,omitempty"`
	FirstName      string            `json:"first_name,omitempty"`
	LastName       string            `json:"last_name,omitempty"`
	Properties     map[string]string `json:"properties,omitempty"`
}

type fetchResponse struct {
	Count   int              `json:"count"`
	Records []recordResponse `json:"records"`
}

type failureResponse struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

type reportResponse struct {
	RunID      string            `json:"run_id"`
	Fetched    int               `json:"fetched"`
	Skipped    int               `json:"skipped"`
	Digests    int               `json:"digests"`
	Sent       []string          `json:"sent"`
	Failed     []failureResponse `json:"failed,omitempty"`
	DurationMS int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, errorResponse{Error: err.Error()})
			return
		}
	}
	render.PlainText(w, r, "ok")
}

func (h *handlers) listSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := h.admin.ListSchedules(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries := map[int64]struct {
		next, prev time.Time
		running    bool
	}{}
	if h.sched != nil {
		for _, e := range h.sched.Snapshot().Entries {
			entries[e.ScheduleID] = struct {
				next, prev time.Time
				running    bool
			}{e.Next, e.Prev, e.Running}
		}
	}

	out := make([]scheduleResponse, 0, len(list))
	for _, s := range list {
		e, active := entries[s.ID]
		out = append(out, scheduleResponse{
			ID:          s.ID,
			Minute:      s.Cron.Minute,
			Hour:        s.Cron.Hour,
			DayOfMonth:  s.Cron.DayOfMonth,
			Month:       s.Cron.Month,
			DayOfWeek:   s.Cron.DayOfWeek,
			Pattern:     s.Cron.String(),
			EndpointURL: s.Credential.EndpointURL,
			Username:    s.Credential.Username,
			SecretSet:   s.Credential.Secret != "",
			CreatedAt:   timePtr(s.CreatedAt),
			Active:      active,
			Running:     e.running,
			NextRun:     timePtr(e.next),
			PrevRun:     timePtr(e.prev),
		})
	}
	render.JSON(w, r, out)
}

func (h *handlers) addSchedule(w http.ResponseWriter, r *http.Request) {
	var req addScheduleRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "invalid JSON body")
		return
	}
	fields := domain.CronFields{
		Minute:     req.Minute,
		Hour:       req.Hour,
		DayOfMonth: req.DayOfMonth,
		Month:      req.Month,
		DayOfWeek:  req.DayOfWeek,
	}
	id, err := h.admin.AddSchedule(r.Context(), fields, req.credential())
	var re *admin.ReconfigureError
	if err != nil && !(errors.As(err, &re) && id != 0) {
		h.fail(w, r, err)
		return
	}
	resp := addScheduleResponse{ID: id}
	if re != nil {
		resp.Warning = re.Error()
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

func (h *handlers) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(w, r, "invalid schedule id")
		return
	}
	err = h.admin.DeleteSchedule(r.Context(), id)
	var re *admin.ReconfigureError
	if err != nil && !errors.As(err, &re) {
		h.fail(w, r, err)
		return
	}
	if re != nil {
		h.log.Warn("schedule deleted but triggers not reloaded", logx.Int64("schedule_id", id), logx.Err(re.Err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) fetchNow(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "invalid JSON body")
		return
	}
	records, err := h.admin.FetchNow(r.Context(), req.credential())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := fetchResponse{Count: len(records), Records: make([]recordResponse, 0, len(records))}
	for _, rec := range records {
		out.Records = append(out.Records, recordResponse{
			DocumentType:   rec.DocumentType,
			DocumentNumber: rec.DocumentNumber,
			Email:          rec.Email,
			FirstName:      rec.FirstName,
			LastName:       rec.LastName,
			Properties:     rec.Properties,
		})
	}
	render.JSON(w, r, out)
}

func (h *handlers) sendNow(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.badRequest(w, r, "invalid JSON body")
		return
	}
	rep, err := h.admin.SendNow(r.Context(), req.credential())
	if err != nil && !errors.Is(err, domain.ErrDispatch) {
		h.fail(w, r, err)
		return
	}

	out := toReport(rep)
	switch {
	case err == nil:
		render.Status(r, http.StatusOK)
	case len(rep.Sent) > 0:
		out.Error = err.Error()
		render.Status(r, http.StatusMultiStatus)
	default:
		out.Error = err.Error()
		render.Status(r, http.StatusBadGateway)
	}
	render.JSON(w, r, out)
}

func toReport(rep pipeline.Report) reportResponse {
	out := reportResponse{
		RunID:      rep.RunID,
		Fetched:    rep.Fetched,
		Skipped:    rep.Skipped,
		Digests:    rep.Digests,
		Sent:       rep.Sent,
		DurationMS: rep.Duration.Milliseconds(),
	}
	if out.Sent == nil {
		out.Sent = []string{}
	}
	for _, f := range rep.Failed {
		out.Failed = append(out.Failed, failureResponse{Recipient: f.Recipient, Error: f.Err.Error()})
	}
	return out
}

func (h *handlers) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, errorResponse{Error: msg})
}

// fail maps the error taxonomy onto status codes.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("admin request failed", logx.String("path", r.URL.Path), logx.Int("status", status), logx.Err(err))
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrCredential), errors.Is(err, domain.ErrScheduleSpec):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrFetch), errors.Is(err, domain.ErrDispatch):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
