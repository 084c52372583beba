// Package api wires the HTTP surface: job submission, status polling, audio
// retrieval, and the internal synchronous synthesis endpoint used by the
// worker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tts-pipeline/internal/apierror"
	"tts-pipeline/internal/config"
	"tts-pipeline/internal/models"
	"tts-pipeline/internal/store"
	"tts-pipeline/internal/synth"
	"tts-pipeline/internal/telemetry"
)

// jobIDPrefix is the stable prefix of caller-visible job identifiers.
const jobIDPrefix = "tts-"

// JobStore is the slice of the store the API needs. The concrete Postgres
// store satisfies it; tests inject fakes.
type JobStore interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, error)
	GetJob(ctx context.Context, jobID string) (models.Job, error)
	MarkCompleted(ctx context.Context, jobID, resultURL string, synthSection *models.SynthesisSection) error
	MarkFailed(ctx context.Context, jobID, message string, synthSection *models.SynthesisSection) error
}

// Publisher hands a job message to the durable queue.
type Publisher interface {
	Publish(ctx context.Context, msg models.JobMessage) error
	Name() string
}

// Synthesizer is the synthesis client boundary.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (synth.Result, error)
	Mock() bool
}

// Limiter gates job submissions per client.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Server wires HTTP handlers for the TTS API.
type Server struct {
	cfg     config.Config
	log     zerolog.Logger
	store   JobStore
	queue   Publisher
	synth   Synthesizer
	limiter Limiter
}

// New constructs the API server. limiter may be nil to disable throttling.
func New(cfg config.Config, log zerolog.Logger, st JobStore, q Publisher, sy Synthesizer, limiter Limiter) *Server {
	return &Server{
		cfg:     cfg,
		log:     log,
		store:   st,
		queue:   q,
		synth:   sy,
		limiter: limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/generate", s.handleGenerate)
	r.Get("/status/{jobID}", s.handleStatus)
	r.Get("/audio/{filename}", s.handleAudio)
	r.Post("/internal/generate-sync", s.handleGenerateSync)
	return r
}

type generateRequest struct {
	Text      string `json:"text"`
	VoiceID   string `json:"voice_id"`
	WorkoutID string `json:"workout_id"`
}

type generateResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Queue  string `json:"queue"`
	Queued bool   `json:"queued"`
}

// handleGenerate accepts a synthesis request, persists a pending row, then
// publishes to the queue. The row is written first so a queue outage
// degrades to delayed processing instead of a lost request.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, r, http.StatusBadRequest, apierror.TypeValidation, "invalid json body", nil)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		apierror.Write(w, r, http.StatusBadRequest, apierror.TypeValidation, "text is required", nil)
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), clientKey(r))
		if err != nil {
			apierror.Write(w, r, http.StatusInternalServerError, apierror.TypeInternal, "rate limiter unavailable", nil)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			apierror.Write(w, r, http.StatusTooManyRequests, apierror.TypeRateLimited, "too many submissions", nil)
			return
		}
	}

	jobID := jobIDPrefix + uuid.NewString()
	now := time.Now().UTC()

	job, err := s.store.CreateJob(r.Context(), store.CreateJobParams{
		JobID:        jobID,
		WorkoutID:    req.WorkoutID,
		VoiceProfile: req.VoiceID,
		Request: &models.RequestSection{
			TextLength:  len(text),
			VoiceID:     req.VoiceID,
			WorkoutID:   req.WorkoutID,
			SubmittedAt: now,
		},
	})
	if err != nil {
		s.log.Error().Err(err).Msg("create job")
		apierror.Write(w, r, http.StatusInternalServerError, apierror.TypeStore, "could not persist job", nil)
		return
	}

	queued := true
	err = s.queue.Publish(r.Context(), models.JobMessage{
		JobID:     job.JobID,
		Text:      text,
		VoiceID:   req.VoiceID,
		WorkoutID: req.WorkoutID,
		Timestamp: now,
	})
	if err != nil {
		// The pending row is already durable; a reconciler or manual
		// replay can still pick it up, so report degraded success.
		queued = false
		telemetry.PublishFailures.Inc()
		s.log.Warn().Err(err).Str("job_id", job.JobID).Msg("queue publish failed, job left pending")
	}

	telemetry.JobsSubmitted.Inc()
	writeJSON(w, http.StatusAccepted, generateResponse{
		JobID:  job.JobID,
		Status: job.Status,
		Queue:  s.queue.Name(),
		Queued: queued,
	})
}

// handleStatus is the read-only lookup for polling clients.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.store.GetJob(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		apierror.Write(w, r, http.StatusNotFound, apierror.TypeNotFound, "no job with id "+jobID, nil)
		return
	}
	if err != nil {
		apierror.Write(w, r, http.StatusInternalServerError, apierror.TypeStore, "could not load job", nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

var audioFilenamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// handleAudio serves stored audio files. Filenames are restricted to a
// strict safe pattern so the handler can never leave the audio directory.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if !audioFilenamePattern.MatchString(filename) || strings.Contains(filename, "..") {
		apierror.Write(w, r, http.StatusBadRequest, apierror.TypeValidation, "invalid filename", nil)
		return
	}
	path := filepath.Join(s.cfg.AudioDir, filename)
	if _, err := os.Stat(path); err != nil {
		apierror.Write(w, r, http.StatusNotFound, apierror.TypeNotFound, "no such audio file", nil)
		return
	}
	http.ServeFile(w, r, path)
}

type generateSyncRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	JobID   string `json:"job_id"`
}

type generateSyncResponse struct {
	Success  bool   `json:"success"`
	JobID    string `json:"job_id"`
	AudioURL string `json:"audio_url,omitempty"`
	Mock     bool   `json:"mock"`
	Error    string `json:"error,omitempty"`
}

// handleGenerateSync performs the actual backend call and owns the terminal
// DB write, decoupling business sequencing (the worker) from synthesis. A
// business failure still answers 200 with success=false: the terminal state
// is persisted and the caller should acknowledge. Only a failed store write
// answers 5xx, signalling the caller to retry later.
func (s *Server) handleGenerateSync(w http.ResponseWriter, r *http.Request) {
	var req generateSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, r, http.StatusBadRequest, apierror.TypeValidation, "invalid json body", nil)
		return
	}
	if req.JobID == "" {
		apierror.Write(w, r, http.StatusBadRequest, apierror.TypeValidation, "job_id is required", nil)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		apierror.Write(w, r, http.StatusBadRequest, apierror.TypeValidation, "text is required", nil)
		return
	}

	// Terminal jobs replay their stored outcome instead of hitting the
	// backend again.
	if job, err := s.store.GetJob(r.Context(), req.JobID); err == nil && models.IsTerminal(job.Status) {
		resp := generateSyncResponse{Success: job.Status == models.StatusCompleted, JobID: job.JobID}
		if job.ResultURL != nil {
			resp.AudioURL = *job.ResultURL
		}
		if job.ErrorMessage != nil {
			resp.Error = *job.ErrorMessage
		}
		if job.Payload.Synthesis != nil {
			resp.Mock = job.Payload.Synthesis.Mock
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	result, err := s.synth.Synthesize(r.Context(), req.Text, req.VoiceID)
	if err != nil {
		var backendErr *synth.BackendError
		if !errors.As(err, &backendErr) {
			if errors.Is(err, synth.ErrEmptyText) {
				apierror.Write(w, r, http.StatusBadRequest, apierror.TypeValidation, err.Error(), nil)
				return
			}
			apierror.Write(w, r, http.StatusInternalServerError, apierror.TypeSynthesis, err.Error(), nil)
			return
		}

		section := &models.SynthesisSection{ProcessedAt: time.Now().UTC()}
		if err := s.store.MarkFailed(r.Context(), req.JobID, backendErr.Error(), section); err != nil {
			s.log.Error().Err(err).Str("job_id", req.JobID).Msg("persist failed state")
			apierror.Write(w, r, http.StatusInternalServerError, apierror.TypeStore, "could not persist failure", nil)
			return
		}
		telemetry.JobsFailed.Inc()
		writeJSON(w, http.StatusOK, generateSyncResponse{
			Success: false,
			JobID:   req.JobID,
			Error:   backendErr.Error(),
		})
		return
	}

	section := &models.SynthesisSection{
		Mock:        result.Mock,
		Truncated:   result.Truncated,
		Stored:      result.Stored,
		BackendBody: result.Raw,
		ProcessedAt: time.Now().UTC(),
	}
	if err := s.store.MarkCompleted(r.Context(), req.JobID, result.AudioURL, section); err != nil {
		s.log.Error().Err(err).Str("job_id", req.JobID).Msg("persist completed state")
		apierror.Write(w, r, http.StatusInternalServerError, apierror.TypeStore, "could not persist result", nil)
		return
	}
	telemetry.JobsCompleted.Inc()
	if result.Mock {
		telemetry.MockSyntheses.Inc()
	}
	writeJSON(w, http.StatusOK, generateSyncResponse{
		Success:  true,
		JobID:    req.JobID,
		AudioURL: result.AudioURL,
		Mock:     result.Mock,
	})
}

func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func requestLogger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("elapsed", time.Since(start)).
				Msg("http request")
		})
	}
}
