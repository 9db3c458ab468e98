package contentstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrStatus matches any non-2xx response from the API.
var ErrStatus = errors.New("contentstore: unexpected status")

// StatusError carries the status and Contentful error body of a failed request.
type StatusError struct {
	StatusCode int
	ID         string // Contentful error id, e.g. AccessTokenInvalid
	Message    string
	RequestID  string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("contentful status %d", e.StatusCode)
	if e.ID != "" {
		msg += " " + e.ID
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// LogAttrs exposes the response details as separate log fields.
func (e *StatusError) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{slog.Int("contentful.status", e.StatusCode)}
	if e.ID != "" {
		attrs = append(attrs, slog.String("contentful.error_id", e.ID))
	}
	if e.RequestID != "" {
		attrs = append(attrs, slog.String("contentful.request_id", e.RequestID))
	}
	return attrs
}

func newStatusError(resp *http.Response, body []byte) *StatusError {
	se := &StatusError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get("X-Contentful-Request-Id")}
	var payload struct {
		Sys struct {
			ID string `json:"id"`
		} `json:"sys"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	}
	if json.Unmarshal(body, &payload) == nil {
		se.ID = payload.Sys.ID
		se.Message = payload.Message
		if payload.RequestID != "" {
			se.RequestID = payload.RequestID
		}
	}
	return se
}
