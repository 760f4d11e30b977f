package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TransportError is returned for every failed request. StatusCode is zero
// when the request never produced a response. Message holds only what the
// server said in the response body and is empty otherwise.
type TransportError struct {
	StatusCode int
	Message    string
	Method     string
	Path       string
	RequestID  string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transport: %s %s: %v", e.Method, e.Path, e.Err)
	}
	msg := e.Message
	if msg == "" {
		msg = statusText(e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("transport: %s %s: %d %s: %v", e.Method, e.Path, e.StatusCode, msg, e.Err)
	}
	return fmt.Sprintf("transport: %s %s: %d %s", e.Method, e.Path, e.StatusCode, msg)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerMessage returns the message decoded from the response body, or ""
// when the server sent none.
func (e *TransportError) ServerMessage() string {
	return e.Message
}

// IsUnauthorized reports a 401 or 403 response.
func (e *TransportError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// StatusCode returns the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

// IsNotFound reports a 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

type errorBody struct {
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

// messageFromBody extracts the user-facing message from an error response.
// It understands {"message": "..."}, {"error": "..."} and
// {"error": {"message": "..."}}. Anything else yields "".
func messageFromBody(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(eb.Message); msg != "" {
		return msg
	}
	if len(eb.Error) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(eb.Error, &s) == nil {
		return strings.TrimSpace(s)
	}
	var nested struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(eb.Error, &nested) == nil {
		return strings.TrimSpace(nested.Message)
	}
	return ""
}

func statusText(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}
