package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"schoolbell/internal/bell"
	"schoolbell/internal/config"
	appLog "schoolbell/internal/log"
	"schoolbell/internal/model"
	"schoolbell/internal/ring"
	"schoolbell/internal/schedule"
	"schoolbell/internal/trigger"
)

// Ringer rings a bell on demand.
type Ringer interface {
	Ring(ctx context.Context, key string) (model.RingEvent, error)
}

// Holidays answers holiday questions for the status page.
type Holidays interface {
	IsHoliday(ctx context.Context, region string, date time.Time) bool
	Holiday(region string, date time.Time) (model.Holiday, bool)
}

// Targets lists the active trigger hosts.
type Targets interface {
	Targets() []trigger.Target
}

// Deps are the components the API reads from. Holidays and Targets are
// optional.
type Deps struct {
	Table    *schedule.Table
	Ringer   Ringer
	History  *ring.History
	Holidays Holidays
	Targets  Targets
}

// Options configure the Server.
type Options struct {
	Listen    string
	Region    string
	Location  *time.Location
	BasicAuth *config.BasicAuthConfig
}

// Server provides the status and control API of the bell.
type Server struct {
	deps Deps
	opts Options
	mux  *http.ServeMux
	log  *appLog.Logger
	now  func() time.Time
}

// NewServer constructs a new Server.
func NewServer(deps Deps, opts Options, logger *appLog.Logger) *Server {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	s := &Server{
		deps: deps,
		opts: opts,
		mux:  http.NewServeMux(),
		log:  logger,
		now:  time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		s.log.Info("HTTP basic auth enabled", "listen", "http://"+s.opts.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	a := s.opts.BasicAuth
	return a != nil && a.Username != "" && a.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.opts.BasicAuth.Username
	password := s.opts.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schoolbell", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on opts.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", "listen", "http://"+s.opts.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/schedule", s.handleSchedule)
	s.mux.HandleFunc("/api/holiday", s.handleHoliday)
	s.mux.HandleFunc("/api/rings", s.handleRings)
	s.mux.HandleFunc("/api/ring", s.handleRing)
	s.mux.HandleFunc("/api/targets", s.handleTargets)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// scheduleResponse is the JSON response shape for /api/schedule.
type scheduleResponse struct {
	Entries  []schedule.Entry     `json:"entries"`
	Next     *schedule.Occurrence `json:"next,omitempty"`
	Timezone string               `json:"timezone"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	resp := scheduleResponse{
		Entries:  s.deps.Table.Entries(),
		Timezone: s.opts.Location.String(),
	}
	if next, ok := s.deps.Table.Next(s.now().In(s.opts.Location)); ok {
		resp.Next = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// holidayResponse is the JSON response shape for /api/holiday.
type holidayResponse struct {
	Region  string         `json:"region"`
	Date    string         `json:"date"`
	Holiday bool           `json:"holiday"`
	Detail  *model.Holiday `json:"detail,omitempty"`
}

// handleHoliday reports whether a day is a holiday.
//
// GET /api/holiday?date=2026-12-25 (default: today)
func (s *Server) handleHoliday(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	date := s.now().In(s.opts.Location)
	if q := r.URL.Query().Get("date"); q != "" {
		d, err := time.ParseInLocation(time.DateOnly, q, s.opts.Location)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date should be YYYY-MM-DD")
			return
		}
		date = d
	}

	resp := holidayResponse{Region: s.opts.Region, Date: date.Format(time.DateOnly)}
	if s.deps.Holidays != nil {
		resp.Holiday = s.deps.Holidays.IsHoliday(r.Context(), s.opts.Region, date)
		if h, ok := s.deps.Holidays.Holiday(s.opts.Region, date); ok && resp.Holiday {
			resp.Detail = &h
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRings returns recent ring events, newest first.
//
// GET /api/rings?limit=20
func (s *Server) handleRings(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	events := []model.RingEvent{}
	if s.deps.History != nil {
		events = append(events, s.deps.History.Recent(limit)...)
	}
	writeJSON(w, http.StatusOK, events)
}

// handleRing rings a bell now.
//
// POST /api/ring?key=bellA
func (s *Server) handleRing(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	s.log.Info("manual ring requested", "key", key, "remote", r.RemoteAddr)
	ev, err := s.deps.Ringer.Ring(r.Context(), key)
	if err != nil {
		if errors.Is(err, bell.ErrUnknownKey) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.log.Error("manual ring failed", err, "key", key)
		writeError(w, http.StatusInternalServerError, "ring failed")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	targets := []trigger.Target{}
	if s.deps.Targets != nil {
		targets = append(targets, s.deps.Targets.Targets()...)
	}
	writeJSON(w, http.StatusOK, targets)
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
