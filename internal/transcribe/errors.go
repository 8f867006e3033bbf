package transcribe

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures for user-facing handling.
type Kind string

const (
	// KindConfiguration is a missing or blank API key; no network call is made.
	KindConfiguration Kind = "configuration"
	// KindAuth is a 401 from the provider.
	KindAuth Kind = "auth"
	// KindEndpoint is a 404 from the provider.
	KindEndpoint Kind = "endpoint"
	// KindProvider covers transport failures and other non-2xx responses.
	KindProvider Kind = "provider"
	// KindEmptyResult is a 2xx response with no recognized speech. It is a
	// distinct terminal outcome, not an alarming failure.
	KindEmptyResult Kind = "empty_result"
)

// PipelineError is a stage-aware error carrying provider response context.
type PipelineError struct {
	Stage      string `json:"stage"`
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Body       string `json:"body,omitempty"`
	Err        error  `json:"-"`
}

// Error formats pipeline failures for logs and UI.
func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s (status=%d)", e.Stage, e.Message, e.StatusCode)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf extracts the failure kind, or KindProvider for untyped errors.
func KindOf(err error) Kind {
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.Kind
	}
	return KindProvider
}

// IsEmptyResult reports whether err is the no-speech-detected outcome.
func IsEmptyResult(err error) bool {
	return KindOf(err) == KindEmptyResult
}
