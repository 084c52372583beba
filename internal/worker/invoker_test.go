package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPInvokerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateSyncRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tts-1", req.JobID)
		assert.Equal(t, "hello", req.Text)

		_ = json.NewEncoder(w).Encode(SyncResult{
			Success:  true,
			JobID:    req.JobID,
			AudioURL: "http://gateway.local/audio/x.wav",
			Mock:     true,
		})
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, time.Second)
	result, err := inv.GenerateSync(context.Background(), "tts-1", "hello", "coach")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Mock)
	assert.Equal(t, "http://gateway.local/audio/x.wav", result.AudioURL)
}

func TestHTTPInvokerBusinessFailureIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(SyncResult{Success: false, JobID: "tts-1", Error: "synthesis backend returned 500: boom"})
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, time.Second)
	result, err := inv.GenerateSync(context.Background(), "tts-1", "hello", "coach")
	require.NoError(t, err, "a persisted terminal failure is a valid answer")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "500")
}

func TestHTTPInvokerServerErrorIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "store unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, time.Second)
	_, err := inv.GenerateSync(context.Background(), "tts-1", "hello", "coach")
	require.Error(t, err, "5xx means nothing was persisted, the caller must requeue")
}

func TestHTTPInvokerUnreachable(t *testing.T) {
	inv := NewHTTPInvoker("http://127.0.0.1:1/internal/generate-sync", 200*time.Millisecond)
	_, err := inv.GenerateSync(context.Background(), "tts-1", "hello", "coach")
	require.Error(t, err)
}
