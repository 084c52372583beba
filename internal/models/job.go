package models

import (
	"encoding/json"
	"time"
)

// JobStatus values persisted in Postgres. Completed and failed are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// IsTerminal reports whether a status permits no further transition.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Job is one text-to-speech request tracked through its lifecycle.
// JobID is the caller-visible identifier; the storage primary key stays
// internal so duplicate deliveries are detected by business key.
type Job struct {
	ID           int64      `json:"-"`
	JobID        string     `json:"job_id"`
	WorkoutID    *string    `json:"workout_id,omitempty"`
	VoiceProfile string     `json:"voice_profile"`
	Language     string     `json:"language"`
	Payload      JobPayload `json:"payload"`
	Status       string     `json:"status"`
	ResultURL    *string    `json:"result_url,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// JobPayload is the blob column content. Each pipeline stage owns one
// section and merges are append-only: a writer sets its own section and
// never touches the others.
type JobPayload struct {
	Request   *RequestSection   `json:"request,omitempty"`
	Script    *ScriptSection    `json:"script,omitempty"`
	Synthesis *SynthesisSection `json:"synthesis,omitempty"`
}

// RequestSection captures the original submission.
type RequestSection struct {
	TextLength  int       `json:"text_length"`
	VoiceID     string    `json:"voice_id"`
	WorkoutID   string    `json:"workout_id,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ScriptSection records provenance when the spoken text was rendered
// from structured workout data rather than supplied inline.
type ScriptSection struct {
	Rendered     bool   `json:"rendered"`
	WorkoutName  string `json:"workout_name,omitempty"`
	Exercises    int    `json:"exercises"`
	ScriptLength int    `json:"script_length"`
}

// SynthesisSection holds the raw backend response plus processing metadata.
type SynthesisSection struct {
	Mock        bool            `json:"mock"`
	Truncated   bool            `json:"truncated"`
	Stored      bool            `json:"stored"`
	BackendBody json.RawMessage `json:"backend_body,omitempty"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// JobMessage is the JSON body published to the work queue.
type JobMessage struct {
	JobID     string    `json:"job_id"`
	Text      string    `json:"text"`
	VoiceID   string    `json:"voice_id"`
	WorkoutID string    `json:"workout_id,omitempty"`
	Workout   *Workout  `json:"workout,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Workout is the structured exercise data a message may carry instead of
// inline text; the worker renders a spoken script from it.
type Workout struct {
	Name      string     `json:"name"`
	Exercises []Exercise `json:"exercises"`
}

// Exercise is one entry of a workout in list order.
type Exercise struct {
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	RestSeconds     int    `json:"rest_seconds,omitempty"`
}

// ArchiveRecord is the write-once audit row kept for every processed
// queue message. The pipeline never reads it back.
type ArchiveRecord struct {
	JobID       string    `json:"job_id"`
	Message     []byte    `json:"message"`
	ProcessedAt time.Time `json:"processed_at"`
}
