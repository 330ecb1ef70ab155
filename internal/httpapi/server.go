// Package httpapi exposes rendering, read-aloud and copy lookup over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/murmur/internal/copytarget"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/resilience"
	"github.com/MrWong99/murmur/internal/store"
	"github.com/MrWong99/murmur/pkg/message"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	"github.com/MrWong99/murmur/pkg/speech"
)

// ErrUnavailable marks an operation whose backing subsystem is not
// configured. Handlers answer it with 503.
var ErrUnavailable = errors.New("httpapi: unavailable")

// maxBodyBytes caps request bodies. Inline attachments make messages large.
const maxBodyBytes = 8 << 20

// defaultRecentLimit is used by GET /v1/messages without a limit.
const defaultRecentLimit = 20

var errEmptyBody = errors.New("empty request body")

// RenderResult is the response of the render endpoints.
type RenderResult struct {
	ID      string              `json:"id"`
	Locale  string              `json:"locale"`
	Markup  string              `json:"markup"`
	Targets []copytarget.Target `json:"targets"`

	// Changed is false when the message was already rendered with the same
	// inputs and the existing copy binding was kept.
	Changed bool `json:"changed"`
}

// SpeakOptions overrides the configured speech defaults for one request.
type SpeakOptions struct {
	Voice     string `json:"voice,omitempty"`
	Locale    string `json:"locale,omitempty"`
	TTSLocale string `json:"tts_locale,omitempty"`
	// Priority lets this message's audio overtake audio queued for others.
	Priority  int    `json:"priority,omitempty"`
}

// Service is the application surface the API serves.
type Service interface {
	Render(ctx context.Context, msg message.Message) (RenderResult, error)
	RenderStored(ctx context.Context, id string) (RenderResult, error)
	RecentMessages(ctx context.Context, limit int) ([]string, error)
	Release(ctx context.Context, id string) bool
	ResolveCopy(triggerID string) (string, bool)

	Speak(ctx context.Context, msg message.Message, opts SpeakOptions) (key string, done <-chan error, err error)
	StopSpeech(key string) bool
	Chunks(text, locale string, minLength int) ([]string, error)
	Voices(ctx context.Context) ([]tts.VoiceProfile, error)
	ProviderStatus() []resilience.EntryStatus
}

// Server holds the handlers of the API.
type Server struct {
	svc     Service
	metrics *observe.Metrics
	health  *health.Handler
}

// New returns the API router. Requests under /v1 are traced and timed with
// observe.Middleware; /healthz, /readyz and /metrics are mounted at the root.
func New(svc Service, metrics *observe.Metrics, h *health.Handler) http.Handler {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if h == nil {
		h = health.New()
	}
	s := &Server{svc: svc, metrics: metrics, health: h}
	return s.Router()
}

// Router builds the chi route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	s.health.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(observe.Middleware(s.metrics))

		r.Post("/render", s.handleRender)
		r.Delete("/render/{id}", s.handleRelease)
		r.Get("/messages", s.handleRecent)
		r.Get("/messages/{id}/markup", s.handleStoredMarkup)
		r.Get("/copy/{trigger}", s.handleCopy)

		r.Post("/speak", s.handleSpeak)
		r.Delete("/speak/{id}", s.handleStopSpeak)
		r.Post("/chunks", s.handleChunks)
		r.Get("/voices", s.handleVoices)
		r.Get("/providers", s.handleProviders)
	})
	return r
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var msg message.Message
	if err := decodeJSON(w, r, &msg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.svc.Render(r.Context(), msg)
	if err != nil {
		s.fail(w, r, "render_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Release(r.Context(), chi.URLParam(r, "id")) {
		respondError(w, http.StatusNotFound, "not_rendered", "no live rendering for this message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	ids, err := s.svc.RecentMessages(r.Context(), limit)
	if err != nil {
		s.fail(w, r, "store_failed", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

func (s *Server) handleStoredMarkup(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.RenderStored(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "render_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	text, ok := s.svc.ResolveCopy(chi.URLParam(r, "trigger"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_trigger", "copy trigger is not bound")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

// speakRequest is the body of POST /v1/speak.
type speakRequest struct {
	Message message.Message `json:"message"`
	SpeakOptions
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	key, done, err := s.svc.Speak(r.Context(), req.Message, req.SpeakOptions)
	if err != nil {
		s.fail(w, r, "speak_failed", err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		respondJSON(w, http.StatusAccepted, map[string]any{"key": key, "status": "started"})
		return
	}
	select {
	case err := <-done:
		switch {
		case err == nil:
			respondJSON(w, http.StatusOK, map[string]any{"key": key, "status": "done"})
		case speech.IsCancelled(err):
			respondJSON(w, http.StatusOK, map[string]any{"key": key, "status": "cancelled"})
		default:
			s.fail(w, r, "speak_failed", err)
		}
	case <-r.Context().Done():
	}
}

func (s *Server) handleStopSpeak(w http.ResponseWriter, r *http.Request) {
	if !s.svc.StopSpeech(chi.URLParam(r, "id")) {
		respondError(w, http.StatusNotFound, "not_speaking", "no speech running for this message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// chunksRequest is the body of POST /v1/chunks.
type chunksRequest struct {
	Text      string `json:"text"`
	Locale    string `json:"locale"`
	MinLength int    `json:"min_length"`
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	var req chunksRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	chunks, err := s.svc.Chunks(req.Text, req.Locale, req.MinLength)
	if err != nil {
		s.fail(w, r, "chunk_failed", err)
		return
	}
	if chunks == nil {
		chunks = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.svc.Voices(r.Context())
	if err != nil {
		s.fail(w, r, "voices_failed", err)
		return
	}
	if voices == nil {
		voices = []tts.VoiceProfile{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	status := s.svc.ProviderStatus()
	if status == nil {
		status = []resilience.EntryStatus{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"tts": status})
}

// fail maps err to a status code, logs server-side failures and writes the
// error body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, code string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrUnavailable):
		status = http.StatusServiceUnavailable
		code = "unavailable"
	case errors.Is(err, resilience.ErrAllFailed):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "code", code, "err", err)
	}
	respondError(w, status, code, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": strings.TrimSpace(message),
		},
	})
}
