package verification

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyBody is returned when the backend answers 2xx without a body,
// which points at a proxy or transport anomaly rather than an application error.
var ErrEmptyBody = errors.New("request was successful but the response body was empty")

// TransportError covers connection, timeout and IO failures
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError is returned for every non-2xx response
type ServerError struct {
	StatusCode int
	Message    string // "message" from a JSON body, the raw body otherwise
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request failed with code %d and an empty error body", e.StatusCode)
	}
	return fmt.Sprintf("request failed: %s (code: %d)", e.Message, e.StatusCode)
}

// EnvelopeError is returned when a 2xx body does not lead to
// result.response.capture_liveness.probability
type EnvelopeError struct {
	Path string
	Err  error
}

func (e *EnvelopeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid verification response at %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("invalid verification response: %s is missing", e.Path)
}

func (e *EnvelopeError) Unwrap() error {
	return e.Err
}

func newServerError(statusCode int, body []byte) *ServerError {
	raw := string(body)
	return &ServerError{
		StatusCode: statusCode,
		Message:    extractMessage(raw),
		Body:       raw,
	}
}

// extractMessage never fails: anything but a JSON object with a string
// "message" degrades to the raw text
func extractMessage(raw string) string {
	var payload struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload.Message == nil {
		return raw
	}
	return *payload.Message
}
