// Package worker drives the queue consumer: one message at a time, manual
// acknowledgement, and an idempotency guard so at-least-once delivery never
// triggers a duplicate synthesis call.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"tts-pipeline/internal/config"
	"tts-pipeline/internal/models"
	"tts-pipeline/internal/script"
	"tts-pipeline/internal/telemetry"
)

// Disposition is the first-class outcome of handling one message. The run
// loop owns acknowledgement; handlers only decide.
type Disposition int

const (
	// Ack removes the message: its outcome is durably recorded (or it can
	// never be retried meaningfully).
	Ack Disposition = iota
	// Requeue leaves the message in flight so the broker redelivers it
	// after the visibility timeout. Used for transient failures only.
	Requeue
)

// JobStore is the slice of the store the worker needs.
type JobStore interface {
	UpsertFromMessage(ctx context.Context, msg models.JobMessage) (models.Job, error)
	MarkProcessing(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID, message string, synthSection *models.SynthesisSection) error
	MergeScriptSection(ctx context.Context, jobID string, section *models.ScriptSection) error
	ArchiveMessage(ctx context.Context, jobID string, raw []byte) error
	CountByStatus(ctx context.Context, status string) (int64, error)
}

// Queue is the consumer side of the work queue.
type Queue interface {
	Dequeue(ctx context.Context) ([]byte, error)
	Ack(ctx context.Context, body []byte) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) (int, error)
	Depth(ctx context.Context) (int64, error)
}

// SyncResult is the answer of the internal synchronous synthesis endpoint.
// Success or not, the terminal state is already persisted by the endpoint.
type SyncResult struct {
	Success  bool   `json:"success"`
	JobID    string `json:"job_id"`
	AudioURL string `json:"audio_url,omitempty"`
	Mock     bool   `json:"mock"`
	Error    string `json:"error,omitempty"`
}

// SynthesisInvoker performs the synthesis call that owns the terminal DB
// write. A returned error means the endpoint was not reached or did not
// persist anything, so the message must be redelivered.
type SynthesisInvoker interface {
	GenerateSync(ctx context.Context, jobID, text, voiceID string) (SyncResult, error)
}

// Processor is the long-running consumer.
type Processor struct {
	cfg     config.Config
	log     zerolog.Logger
	queue   Queue
	store   JobStore
	invoker SynthesisInvoker
}

// NewProcessor wires the consumer with its collaborators.
func NewProcessor(cfg config.Config, log zerolog.Logger, q Queue, st JobStore, invoker SynthesisInvoker) *Processor {
	return &Processor{
		cfg:     cfg,
		log:     log,
		queue:   q,
		store:   st,
		invoker: invoker,
	}
}

// Run blocks on the receive loop until context cancellation. At most one
// message is in flight per processor; horizontal scale-out means running
// more worker instances against the same queue.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if redelivered, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); redelivered > 0 {
			telemetry.MessagesRequeued.Add(float64(redelivered))
			p.log.Info().Int("count", redelivered).Msg("reclaimed expired leases")
		}
		if depth, err := p.queue.Depth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}
		if backlog, err := p.store.CountByStatus(ctx, models.StatusPending); err == nil {
			telemetry.PendingBacklog.Set(float64(backlog))
		}

		body, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.log.Warn().Err(err).Msg("dequeue failed")
			p.sleep(ctx)
			continue
		}
		if body == nil {
			p.sleep(ctx)
			continue
		}

		telemetry.InFlightGauge.Inc()
		disposition := p.Handle(ctx, body)
		telemetry.InFlightGauge.Dec()

		if disposition == Ack {
			if err := p.queue.Ack(ctx, body); err != nil {
				p.log.Warn().Err(err).Msg("ack failed, message will be redelivered")
			}
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	interval := p.cfg.WorkerPollInterval
	if interval == 0 {
		interval = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(interval):
	}
}

// Handle processes one raw message body and decides its acknowledgement.
func (p *Processor) Handle(ctx context.Context, body []byte) Disposition {
	var msg models.JobMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.JobID == "" {
		// Without a job id the message can never be retried meaningfully.
		telemetry.MessagesDropped.Inc()
		p.log.Error().Err(err).Str("body", truncateForLog(body)).Msg("dropping malformed message")
		return Ack
	}
	log := p.log.With().Str("job_id", msg.JobID).Logger()

	// Upsert-first: unknown job ids (archival replays, test traffic) get a
	// fresh pending row instead of crashing, and a duplicate delivery of a
	// known job refreshes updated_at rather than silently skipping it.
	job, err := p.store.UpsertFromMessage(ctx, msg)
	if err != nil {
		log.Warn().Err(err).Msg("store unavailable, leaving message for redelivery")
		return Requeue
	}

	// Idempotency guard: a terminal job was already handled, and a
	// processing job means another delivery is or was in flight. Either
	// way the backend must not be called again.
	if models.IsTerminal(job.Status) || job.Status == models.StatusProcessing {
		telemetry.MessagesNoop.Inc()
		log.Info().Str("status", job.Status).Msg("redelivery resolved by idempotency guard")
		p.archive(ctx, msg.JobID, body, log)
		return Ack
	}

	if err := p.store.MarkProcessing(ctx, msg.JobID); err != nil {
		log.Warn().Err(err).Msg("could not mark processing, leaving message for redelivery")
		return Requeue
	}

	text := msg.Text
	if text == "" && msg.Workout != nil {
		text = script.Render(*msg.Workout)
		section := &models.ScriptSection{
			Rendered:     true,
			WorkoutName:  msg.Workout.Name,
			Exercises:    len(msg.Workout.Exercises),
			ScriptLength: len(text),
		}
		if err := p.store.MergeScriptSection(ctx, msg.JobID, section); err != nil {
			log.Warn().Err(err).Msg("could not record script section")
		}
	}
	if text == "" {
		// No text and nothing to render from: terminal business failure.
		if err := p.store.MarkFailed(ctx, msg.JobID, "message contained no text and no workout data", nil); err != nil {
			log.Warn().Err(err).Msg("could not mark failed, leaving message for redelivery")
			return Requeue
		}
		telemetry.JobsFailed.Inc()
		p.archive(ctx, msg.JobID, body, log)
		return Ack
	}

	result, err := p.invoker.GenerateSync(ctx, msg.JobID, text, msg.VoiceID)
	if err != nil {
		// The synthesis service was unreachable or did not persist an
		// outcome; that may be transient, so force redelivery.
		log.Warn().Err(err).Msg("synthesis invocation failed, leaving message for redelivery")
		return Requeue
	}

	if result.Success {
		log.Info().Str("audio_url", result.AudioURL).Bool("mock", result.Mock).Msg("job completed")
	} else {
		log.Info().Str("error", result.Error).Msg("job failed terminally")
	}

	// Terminal state is persisted; archive, then let the loop ack last so
	// a crash here only causes a redelivery the guard will absorb.
	p.archive(ctx, msg.JobID, body, log)
	return Ack
}

func (p *Processor) archive(ctx context.Context, jobID string, body []byte, log zerolog.Logger) {
	if err := p.store.ArchiveMessage(ctx, jobID, body); err != nil {
		log.Warn().Err(err).Msg("could not archive message")
	}
}

func truncateForLog(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
