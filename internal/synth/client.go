// Package synth wraps the speech-synthesis backend. The client converts
// text plus a voice id into either a playable audio URL or a typed failure;
// it never lets a transport or backend problem escape as anything other
// than an error value.
package synth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"tts-pipeline/internal/config"
	"tts-pipeline/internal/storage"
)

// TruncationMarker is appended when input exceeds the configured maximum.
const TruncationMarker = " [truncated]"

const (
	defaultVoice    = "default"
	defaultLanguage = "en-US"
)

// ErrEmptyText rejects blank input before any backend traffic.
var ErrEmptyText = errors.New("text cannot be empty")

// BackendError reports a non-success response from the synthesis backend.
// A zero StatusCode means the backend was never reached.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("synthesis backend: %s", e.Message)
	}
	return fmt.Sprintf("synthesis backend returned %d: %s", e.StatusCode, e.Message)
}

// Result is the outcome of a successful synthesis.
type Result struct {
	AudioURL  string          `json:"audio_url"`
	Mock      bool            `json:"mock"`
	Truncated bool            `json:"truncated"`
	Stored    bool            `json:"stored"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Client talks to the speech-synthesis backend and persists the produced
// audio. With no API key configured it runs in deterministic mock mode so
// the pipeline stays fully testable without external dependencies.
type Client struct {
	backendURL    string
	apiKey        string
	language      string
	maxTextLength int
	maxAudioBytes int64
	publicBaseURL string
	httpClient    *http.Client
	uploader      storage.Uploader
}

// New builds a client from config with the given artifact uploader.
func New(cfg config.Config, uploader storage.Uploader) *Client {
	timeout := cfg.SynthTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxLen := cfg.MaxTextLength
	if maxLen == 0 {
		maxLen = 3000
	}
	maxBytes := cfg.MaxAudioBytes
	if maxBytes == 0 {
		maxBytes = 25 * 1024 * 1024
	}
	return &Client{
		backendURL:    cfg.SynthBackendURL,
		apiKey:        cfg.SynthAPIKey,
		language:      defaultLanguage,
		maxTextLength: maxLen,
		maxAudioBytes: maxBytes,
		publicBaseURL: strings.TrimRight(cfg.AudioPublicURL, "/"),
		httpClient:    &http.Client{Timeout: timeout},
		uploader:      uploader,
	}
}

// Mock reports whether the client runs without a backend credential.
func (c *Client) Mock() bool {
	return c.apiKey == ""
}

type backendRequest struct {
	Text     string `json:"text"`
	VoiceID  string `json:"voice_id"`
	Language string `json:"language"`
}

type backendResponse struct {
	AudioURL string `json:"audio_url"`
}

// Synthesize converts text into an audio URL. Oversized text is truncated
// with a marker rather than rejected; the only hard validation failure is
// empty input. All backend problems come back as *BackendError.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrEmptyText
	}
	if voiceID == "" {
		voiceID = defaultVoice
	}

	truncated := false
	if len(text) > c.maxTextLength {
		text = text[:c.maxTextLength] + TruncationMarker
		truncated = true
	}

	if c.Mock() {
		return c.synthesizeMock(ctx, text, voiceID, truncated)
	}
	return c.synthesizeBackend(ctx, text, voiceID, truncated)
}

// synthesizeMock produces a deterministic placeholder artifact keyed by a
// digest of the input, so redeliveries map to the same URL.
func (c *Client) synthesizeMock(ctx context.Context, text, voiceID string, truncated bool) (Result, error) {
	name := fmt.Sprintf("mock-%s.wav", digest(text, voiceID))
	stored := false
	if c.uploader != nil {
		if _, err := c.uploader.Upload(ctx, name, placeholderWAV(), "audio/wav"); err == nil {
			stored = true
		}
	}
	return Result{
		AudioURL:  c.publicBaseURL + "/audio/" + name,
		Mock:      true,
		Truncated: truncated,
		Stored:    stored,
	}, nil
}

func (c *Client) synthesizeBackend(ctx context.Context, text, voiceID string, truncated bool) (Result, error) {
	body, err := json.Marshal(backendRequest{
		Text:     text,
		VoiceID:  voiceID,
		Language: c.language,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal backend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, &BackendError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, &BackendError{StatusCode: resp.StatusCode, Message: "read backend response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &BackendError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var decoded backendResponse
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded.AudioURL == "" {
		return Result{}, &BackendError{StatusCode: resp.StatusCode, Message: "malformed backend response"}
	}

	result := Result{
		AudioURL:  decoded.AudioURL,
		Truncated: truncated,
		Raw:       json.RawMessage(raw),
	}

	// Persist the audio under a stable gateway-routable path. If the
	// download fails we keep the backend's original URL: audio generation
	// itself succeeded, and partial success beats failing the job.
	if name, err := c.persistAudio(ctx, decoded.AudioURL, text, voiceID); err == nil {
		result.AudioURL = c.publicBaseURL + "/audio/" + name
		result.Stored = true
	}
	return result, nil
}

func (c *Client) persistAudio(ctx context.Context, audioURL, text, voiceID string) (string, error) {
	if c.uploader == nil {
		return "", errors.New("no uploader configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("download audio: status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, c.maxAudioBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if int64(len(data)) > c.maxAudioBytes {
		return "", fmt.Errorf("audio too large (>%d bytes)", c.maxAudioBytes)
	}

	ext := strings.ToLower(path.Ext(audioURL))
	if ext == "" || len(ext) > 5 {
		ext = ".wav"
	}
	name := digest(text, voiceID) + ext
	if _, err := c.uploader.Upload(ctx, name, data, resp.Header.Get("Content-Type")); err != nil {
		return "", err
	}
	return name, nil
}

func digest(text, voiceID string) string {
	sum := sha256.Sum256([]byte(voiceID + "\x00" + text))
	return hex.EncodeToString(sum[:])[:16]
}

// placeholderWAV returns a minimal valid WAV header with no samples.
func placeholderWAV() []byte {
	return []byte{
		'R', 'I', 'F', 'F', 36, 0, 0, 0, 'W', 'A', 'V', 'E',
		'f', 'm', 't', ' ', 16, 0, 0, 0, 1, 0, 1, 0,
		0x22, 0x56, 0, 0, 0x44, 0xac, 0, 0, 2, 0, 16, 0,
		'd', 'a', 't', 'a', 0, 0, 0, 0,
	}
}
