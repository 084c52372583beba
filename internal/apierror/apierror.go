// Package apierror renders the uniform JSON error body returned by every
// non-2xx response across the system.
package apierror

import (
	"encoding/json"
	"net/http"
	"time"
)

// Stable type tags API clients can branch on.
const (
	TypeValidation  = "validation"
	TypeNotFound    = "not_found"
	TypeRateLimited = "rate_limited"
	TypeStore       = "store"
	TypeQueue       = "queue"
	TypeSynthesis   = "synthesis"
	TypeInternal    = "internal"
)

const aboutURL = "https://example.com/docs/errors"

// Body is the wire shape of a structured error.
type Body struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Path      string         `json:"path"`
	Status    int            `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
	Links     Links          `json:"links"`
}

// Links carries documentation pointers.
type Links struct {
	About string `json:"about"`
}

// Write sends a structured error response. Details may be nil.
func Write(w http.ResponseWriter, r *http.Request, status int, errType, message string, details map[string]any) {
	body := Body{
		Type:      errType,
		Message:   message,
		Path:      r.URL.Path,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Details:   details,
		Links:     Links{About: aboutURL},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
