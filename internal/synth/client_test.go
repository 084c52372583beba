package synth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tts-pipeline/internal/config"
	"tts-pipeline/internal/storage"
)

func testConfig(t *testing.T) (config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		SynthTimeout:   2 * time.Second,
		MaxTextLength:  3000,
		MaxAudioBytes:  1 << 20,
		AudioDir:       dir,
		AudioPublicURL: "http://gateway.local",
	}, dir
}

func newTestClient(t *testing.T, cfg config.Config, dir string) *Client {
	t.Helper()
	uploader, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	return New(cfg, uploader)
}

func TestSynthesizeMockModeDeterministic(t *testing.T) {
	cfg, dir := testConfig(t)
	client := newTestClient(t, cfg, dir)
	require.True(t, client.Mock())

	first, err := client.Synthesize(context.Background(), "Squat. 30 seconds.", "coach")
	require.NoError(t, err)
	second, err := client.Synthesize(context.Background(), "Squat. 30 seconds.", "coach")
	require.NoError(t, err)

	assert.True(t, first.Mock)
	assert.True(t, first.Stored)
	assert.Equal(t, first.AudioURL, second.AudioURL)
	assert.Regexp(t, regexp.MustCompile(`^http://gateway\.local/audio/mock-[0-9a-f]{16}\.wav$`), first.AudioURL)

	name := first.AudioURL[strings.LastIndex(first.AudioURL, "/")+1:]
	_, statErr := os.Stat(filepath.Join(dir, name))
	assert.NoError(t, statErr, "mock artifact should be written through the store")
}

func TestSynthesizeEmptyText(t *testing.T) {
	cfg, dir := testConfig(t)
	client := newTestClient(t, cfg, dir)

	_, err := client.Synthesize(context.Background(), "   ", "coach")
	require.ErrorIs(t, err, ErrEmptyText)
}

func TestSynthesizeTruncatesOversizedText(t *testing.T) {
	cfg, dir := testConfig(t)
	cfg.MaxTextLength = 10
	client := newTestClient(t, cfg, dir)

	result, err := client.Synthesize(context.Background(), strings.Repeat("a", 50), "coach")
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.NotEmpty(t, result.AudioURL, "oversized text must still yield a terminal result")
}

func TestSynthesizeBackendFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "voice model exploded", http.StatusInternalServerError)
	}))
	defer backend.Close()

	cfg, dir := testConfig(t)
	cfg.SynthBackendURL = backend.URL
	cfg.SynthAPIKey = "key"
	client := newTestClient(t, cfg, dir)
	require.False(t, client.Mock())

	_, err := client.Synthesize(context.Background(), "hello", "coach")
	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, http.StatusInternalServerError, backendErr.StatusCode)
	assert.Contains(t, backendErr.Error(), "500")
	assert.Contains(t, backendErr.Message, "voice model exploded")
}

func TestSynthesizeMalformedBackendResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json at all"))
	}))
	defer backend.Close()

	cfg, dir := testConfig(t)
	cfg.SynthBackendURL = backend.URL
	cfg.SynthAPIKey = "key"
	client := newTestClient(t, cfg, dir)

	_, err := client.Synthesize(context.Background(), "hello", "coach")
	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Contains(t, backendErr.Message, "malformed")
}

func TestSynthesizeStoresAndRewritesURL(t *testing.T) {
	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF fake audio"))
	}))
	defer audio.Close()

	var received struct {
		Text     string `json:"text"`
		VoiceID  string `json:"voice_id"`
		Language string `json:"language"`
	}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(map[string]string{"audio_url": audio.URL + "/clip.wav"})
	}))
	defer backend.Close()

	cfg, dir := testConfig(t)
	cfg.SynthBackendURL = backend.URL
	cfg.SynthAPIKey = "key"
	client := newTestClient(t, cfg, dir)

	result, err := client.Synthesize(context.Background(), "Push up. 20 seconds.", "coach")
	require.NoError(t, err)

	assert.Equal(t, "Push up. 20 seconds.", received.Text)
	assert.Equal(t, "coach", received.VoiceID)
	assert.Equal(t, "en-US", received.Language)

	assert.False(t, result.Mock)
	assert.True(t, result.Stored)
	assert.True(t, strings.HasPrefix(result.AudioURL, "http://gateway.local/audio/"), result.AudioURL)
	assert.NotEmpty(t, result.Raw)

	name := result.AudioURL[strings.LastIndex(result.AudioURL, "/")+1:]
	data, readErr := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, readErr)
	assert.Equal(t, "RIFF fake audio", string(data))
}

func TestSynthesizeDownloadFailureFallsBack(t *testing.T) {
	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer audio.Close()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"audio_url": audio.URL + "/clip.wav"})
	}))
	defer backend.Close()

	cfg, dir := testConfig(t)
	cfg.SynthBackendURL = backend.URL
	cfg.SynthAPIKey = "key"
	client := newTestClient(t, cfg, dir)

	result, err := client.Synthesize(context.Background(), "hello", "coach")
	require.NoError(t, err, "audio generation succeeded, download failure must not fail the job")
	assert.False(t, result.Stored)
	assert.Equal(t, audio.URL+"/clip.wav", result.AudioURL)
}

func TestSynthesizeUnreachableBackend(t *testing.T) {
	cfg, dir := testConfig(t)
	cfg.SynthBackendURL = "http://127.0.0.1:1/api/tts"
	cfg.SynthAPIKey = "key"
	client := newTestClient(t, cfg, dir)

	_, err := client.Synthesize(context.Background(), "hello", "coach")
	var backendErr *BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Zero(t, backendErr.StatusCode)
}
