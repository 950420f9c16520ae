// Package api exposes the hooks the host calls: one before each automatic
// update, and one to send the weekly report on demand.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mordilloSan/go-logger/logger"
	"golang.org/x/time/rate"

	"github.com/gwest/autoupdate-report/internal/recorder"
	"github.com/gwest/autoupdate-report/internal/schedule"
	"github.com/gwest/autoupdate-report/internal/updatelog"
)

// maxHookBody caps the size of a hook payload.
const maxHookBody = 64 << 10

// Recorder records a pending update.
type Recorder interface {
	Record(kind updatelog.Kind, item recorder.Item, contextPath string) (bool, error)
}

// Jobs is the scheduler surface the router uses.
type Jobs interface {
	Trigger(name string) error
	Status(name string) (*schedule.JobStatus, error)
}

// PreUpdateRequest is the body of POST /hooks/pre-update.
type PreUpdateRequest struct {
	Type    string        `json:"type"`
	Item    recorder.Item `json:"item"`
	Context string        `json:"context"`
}

// Router serves the hook endpoints.
type Router struct {
	recorder Recorder
	auth     Authenticator
	jobs     Jobs
	jobName  string
	limiter  *rate.Limiter
}

// NewRouter creates a router. A nil auth allows every request.
func NewRouter(rec Recorder, auth Authenticator) *Router {
	if auth == nil {
		auth = NoAuth{}
	}
	return &Router{recorder: rec, auth: auth}
}

// SetJobs wires the scheduler used by the report and status endpoints.
func (r *Router) SetJobs(jobs Jobs, name string) {
	r.jobs = jobs
	r.jobName = name
}

// SetRateLimit limits hook requests to rps per second with the given
// burst. rps <= 0 disables limiting.
func (r *Router) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		r.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		logger.Debugf("%s %s %d %v", req.Method, req.URL.Path, wrapped.status, time.Since(start))
	}()

	if req.URL.Path == "/healthz" || req.URL.Path == "/health" {
		writeJSON(wrapped, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}

	if r.auth.Required() {
		if _, ok := r.auth.Authenticate(req); !ok {
			wrapped.Header().Set("WWW-Authenticate", `Basic realm="autoupdate-report"`)
			writeError(wrapped, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	switch req.URL.Path {
	case "/hooks/pre-update":
		if !r.allow(wrapped) || !requireMethod(wrapped, req, http.MethodPost) {
			return
		}
		r.handlePreUpdate(wrapped, req)

	case "/hooks/weekly-report":
		if !r.allow(wrapped) || !requireMethod(wrapped, req, http.MethodPost) {
			return
		}
		r.handleWeeklyReport(wrapped)

	case "/status":
		if !requireMethod(wrapped, req, http.MethodGet) {
			return
		}
		r.handleStatus(wrapped)

	default:
		writeError(wrapped, http.StatusNotFound, "not found")
	}
}

func (r *Router) allow(w http.ResponseWriter) bool {
	if r.limiter == nil || r.limiter.Allow() {
		return true
	}
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

func (r *Router) handlePreUpdate(w http.ResponseWriter, req *http.Request) {
	var body PreUpdateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxHookBody))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	recorded, err := r.recorder.Record(updatelog.Kind(body.Type), body.Item, body.Context)
	if err != nil {
		logger.Errorf("pre-update hook: %v", err)
		writeError(w, http.StatusInternalServerError, "could not record update")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"recorded": recorded})
}

func (r *Router) handleWeeklyReport(w http.ResponseWriter) {
	if r.jobs == nil {
		writeError(w, http.StatusNotFound, "scheduler not configured")
		return
	}
	switch err := r.jobs.Trigger(r.jobName); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "weekly report triggered"})
	case errors.Is(err, schedule.ErrJobRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (r *Router) handleStatus(w http.ResponseWriter) {
	if r.jobs == nil {
		writeError(w, http.StatusNotFound, "scheduler not configured")
		return
	}
	status, err := r.jobs.Status(r.jobName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func requireMethod(w http.ResponseWriter, req *http.Request, method string) bool {
	if req.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
