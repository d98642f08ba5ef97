// Package server exposes the player's read-only status API on localhost.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pi-signage/internal/journal"
	"pi-signage/internal/models"
	"pi-signage/internal/network"
)

// PlaybackSource reports what is on screen.
type PlaybackSource interface {
	State() models.PlaybackState
}

// ScheduleSource returns the cached schedule.
type ScheduleSource interface {
	Current() models.Schedule
}

// MediaSource lists the files in the media directory.
type MediaSource interface {
	ListMedia() []models.MediaFile
	Lookup(name string) (models.MediaFile, bool)
	TotalBytes() int64
}

// AiredSource reports how long the current file has been on screen.
type AiredSource interface {
	AiredFor() time.Duration
}

// EventSource exposes the lifecycle journal.
type EventSource interface {
	Phase() journal.Phase
	Recent(n int) []journal.Event
	LastError() (journal.Event, bool)
}

// PollSource reports the poll loop's view of the server.
type PollSource interface {
	ServerActive() bool
	State() network.State
}

// ClockSource reports the server clock estimate.
type ClockSource interface {
	Deviation() time.Duration
	CurrentServerTime() models.ClockTime
}

// TokenValidator determines whether a supplied token is authorized.
type TokenValidator interface {
	IsValidToken(token string) bool
}

// Deps wires the handler to the running components. Tokens may be nil to
// leave the API open.
type Deps struct {
	Playback PlaybackSource
	Schedule ScheduleSource
	Media    MediaSource
	Journal  EventSource
	Poller   PollSource
	Clock    ClockSource
	Aired    AiredSource
	Tokens   TokenValidator
	MediaDir string
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Phase            journal.Phase        `json:"phase"`
	Playback         models.PlaybackState `json:"playback"`
	ServerActive     bool                 `json:"server_active"`
	PollState        network.State        `json:"poll_state"`
	ServerTime       string               `json:"server_time"`
	DeviationSeconds float64              `json:"deviation_seconds"`
	AiredSeconds     float64              `json:"aired_seconds"`
	MediaBytes       int64                `json:"media_bytes"`
	LastError        *journal.Event       `json:"last_error,omitempty"`
}

const defaultEventLimit = 50

type handler struct {
	deps     Deps
	mediaDir string
	logger   zerolog.Logger
}

// New creates the HTTP handler that exposes the status API.
func New(deps Deps, logger zerolog.Logger) http.Handler {
	logger = logger.With().Str("component", "status_api").Logger()

	mediaDir := filepath.Clean(deps.MediaDir)
	if abs, err := filepath.Abs(mediaDir); err == nil {
		mediaDir = abs
	} else {
		logger.Warn().Err(err).Str("dir", deps.MediaDir).Msg("unable to resolve absolute media dir")
	}

	h := &handler{deps: deps, mediaDir: mediaDir, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", h.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(h.requireToken)
		r.Use(rateLimit(apiRequestLimit, time.Minute))
		r.Get("/status", h.handleStatus)
		r.Get("/schedule", h.handleSchedule)
		r.Get("/media", h.handleMedia)
		r.Get("/media/{name}", h.handleMediaFile)
		r.Get("/events", h.handleEvents)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	})

	return r
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"})
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := StatusResponse{
		Phase:    h.deps.Journal.Phase(),
		Playback: h.deps.Playback.State(),
	}
	if h.deps.Poller != nil {
		status.ServerActive = h.deps.Poller.ServerActive()
		status.PollState = h.deps.Poller.State()
	}
	if h.deps.Clock != nil {
		status.ServerTime = h.deps.Clock.CurrentServerTime().String()
		status.DeviationSeconds = h.deps.Clock.Deviation().Seconds()
	}
	if h.deps.Aired != nil {
		status.AiredSeconds = h.deps.Aired.AiredFor().Seconds()
	}
	if h.deps.Media != nil {
		status.MediaBytes = h.deps.Media.TotalBytes()
	}
	if ev, ok := h.deps.Journal.LastError(); ok {
		status.LastError = &ev
	}
	h.writeJSON(w, status)
}

func (h *handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.deps.Schedule.Current())
}

func (h *handler) handleMedia(w http.ResponseWriter, r *http.Request) {
	files := h.deps.Media.ListMedia()
	if files == nil {
		files = []models.MediaFile{}
	}
	h.writeJSON(w, files)
}

func (h *handler) handleMediaFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, ok := h.deps.Media.Lookup(name); !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	target := filepath.Join(h.mediaDir, name)
	if !pathWithinRoot(h.mediaDir, target) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("file", target).Msg("stat media file")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if info.IsDir() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	http.ServeFile(w, r, target)
}

func (h *handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events := h.deps.Journal.Recent(limit)
	if events == nil {
		events = []journal.Event{}
	}
	h.writeJSON(w, events)
}

func (h *handler) writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		h.logger.Warn().Err(err).Msg("failed to encode response")
	}
}

func (h *handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.Tokens != nil {
			token := extractToken(r)
			if token == "" || !h.deps.Tokens.IsValidToken(token) {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Int("bytes", sw.size).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func extractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}

	if header := strings.TrimSpace(r.Header.Get("X-Signage-Token")); header != "" {
		return header
	}

	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

func pathWithinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." && !strings.HasPrefix(rel, "../")
}
