package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPInvoker calls the API service's internal synchronous synthesis
// endpoint, which performs the backend call and owns the terminal DB write.
type HTTPInvoker struct {
	url        string
	httpClient *http.Client
}

// NewHTTPInvoker builds an invoker for the given endpoint URL.
func NewHTTPInvoker(url string, timeout time.Duration) *HTTPInvoker {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &HTTPInvoker{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generateSyncRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	JobID   string `json:"job_id"`
}

// GenerateSync posts the job to the internal endpoint. Any transport error
// or non-2xx answer is returned as an error: nothing was durably persisted,
// so the caller must leave the message for redelivery.
func (i *HTTPInvoker) GenerateSync(ctx context.Context, jobID, text, voiceID string) (SyncResult, error) {
	body, err := json.Marshal(generateSyncRequest{Text: text, VoiceID: voiceID, JobID: jobID})
	if err != nil {
		return SyncResult{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(body))
	if err != nil {
		return SyncResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return SyncResult{}, fmt.Errorf("call synthesis endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SyncResult{}, fmt.Errorf("read synthesis response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SyncResult{}, fmt.Errorf("synthesis endpoint returned %d: %s", resp.StatusCode, raw)
	}

	var result SyncResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return SyncResult{}, fmt.Errorf("decode synthesis response: %w", err)
	}
	return result, nil
}
