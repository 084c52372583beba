// Package store owns all writes to the job table. The submitter creates
// rows, the worker and the synchronous synthesis endpoint transition them,
// and the status reader only reads. Every transition is a single atomic
// update keyed by job_id.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"tts-pipeline/internal/models"
)

// ErrNotFound distinguishes "never submitted" from any in-progress state.
var ErrNotFound = errors.New("job not found")

// DefaultLanguage is applied when the caller does not pick a locale.
const DefaultLanguage = "en-US"

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJobParams collects inputs required to insert a pending job. JobID is
// generated by the submitter before any queue I/O so the row exists even if
// the publish later fails.
type CreateJobParams struct {
	JobID        string
	WorkoutID    string
	VoiceProfile string
	Language     string
	Request      *models.RequestSection
}

// CreateJob inserts a pending row.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
	payload := models.JobPayload{Request: p.Request}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tts_jobs (job_id, workout_id, voice_profile, language, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, p.JobID, emptyToNil(p.WorkoutID), p.VoiceProfile, p.Language, payloadJSON, models.StatusPending, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return models.Job{
		JobID:        p.JobID,
		WorkoutID:    emptyToNil(p.WorkoutID),
		VoiceProfile: p.VoiceProfile,
		Language:     p.Language,
		Payload:      payload,
		Status:       models.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetJob fetches a job by its caller-visible id.
func (s *Store) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, job_id, workout_id, voice_profile, language, payload, status, result_url, error_message, created_at, updated_at
		FROM tts_jobs WHERE job_id = $1
	`, jobID)
	return scanJob(row)
}

// UpsertFromMessage ensures a row exists for a dequeued message. Unknown job
// ids (archival replays, test traffic) get a fresh pending row; known rows
// only have updated_at refreshed so duplicate deliveries never create a
// second row or silently skip the bookkeeping.
func (s *Store) UpsertFromMessage(ctx context.Context, msg models.JobMessage) (models.Job, error) {
	payload := models.JobPayload{Request: &models.RequestSection{
		TextLength:  len(msg.Text),
		VoiceID:     msg.VoiceID,
		WorkoutID:   msg.WorkoutID,
		SubmittedAt: msg.Timestamp,
	}}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tts_jobs (job_id, workout_id, voice_profile, language, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (job_id) DO UPDATE SET updated_at = NOW()
	`, msg.JobID, emptyToNil(msg.WorkoutID), msg.VoiceID, DefaultLanguage, payloadJSON, models.StatusPending)
	if err != nil {
		return models.Job{}, fmt.Errorf("upsert job: %w", err)
	}
	return s.GetJob(ctx, msg.JobID)
}

// MarkProcessing transitions pending -> processing. The status guard in the
// WHERE clause makes a terminal-to-processing downgrade impossible.
func (s *Store) MarkProcessing(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tts_jobs SET status = $2, updated_at = NOW()
		WHERE job_id = $1 AND status = $3
	`, jobID, models.StatusProcessing, models.StatusPending)
	return err
}

// MarkCompleted records the terminal success state: result_url set,
// error_message cleared, synthesis section merged into the payload.
func (s *Store) MarkCompleted(ctx context.Context, jobID, resultURL string, synth *models.SynthesisSection) error {
	return s.markTerminal(ctx, jobID, models.StatusCompleted, &resultURL, nil, synth)
}

// MarkFailed records the terminal failure state with a human-readable cause.
func (s *Store) MarkFailed(ctx context.Context, jobID, message string, synth *models.SynthesisSection) error {
	return s.markTerminal(ctx, jobID, models.StatusFailed, nil, &message, synth)
}

func (s *Store) markTerminal(ctx context.Context, jobID, status string, resultURL, errMsg *string, synth *models.SynthesisSection) error {
	synthJSON, err := json.Marshal(synth)
	if err != nil {
		return fmt.Errorf("marshal synthesis section: %w", err)
	}
	// Payload merge is append-only: only the synthesis key is set.
	_, err = s.pool.Exec(ctx, `
		UPDATE tts_jobs
		SET status = $2,
		    result_url = $3,
		    error_message = $4,
		    payload = jsonb_set(payload, '{synthesis}', $5::jsonb, true),
		    updated_at = NOW()
		WHERE job_id = $1 AND status NOT IN ($6, $7)
	`, jobID, status, resultURL, errMsg, synthJSON, models.StatusCompleted, models.StatusFailed)
	return err
}

// MergeScriptSection records that the spoken text was rendered from workout
// data. Best-effort bookkeeping alongside MarkProcessing.
func (s *Store) MergeScriptSection(ctx context.Context, jobID string, script *models.ScriptSection) error {
	scriptJSON, err := json.Marshal(script)
	if err != nil {
		return fmt.Errorf("marshal script section: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE tts_jobs
		SET payload = jsonb_set(payload, '{script}', $2::jsonb, true), updated_at = NOW()
		WHERE job_id = $1
	`, jobID, scriptJSON)
	return err
}

// ArchiveMessage appends the forensic audit row for a processed queue
// message. Write-once; the pipeline never reads these back.
func (s *Store) ArchiveMessage(ctx context.Context, jobID string, raw []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tts_job_archive (job_id, message, processed_at)
		VALUES ($1, $2, NOW())
	`, jobID, raw)
	return err
}

// CountByStatus reports backlog sizes for the telemetry gauges.
func (s *Store) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tts_jobs WHERE status = $1
	`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var workoutID, resultURL, errMsg pgtype.Text
	var payloadJSON []byte

	err := row.Scan(&job.ID, &job.JobID, &workoutID, &job.VoiceProfile, &job.Language,
		&payloadJSON, &job.Status, &resultURL, &errMsg, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	job.WorkoutID = textPtr(workoutID)
	job.ResultURL = textPtr(resultURL)
	job.ErrorMessage = textPtr(errMsg)
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
