// Package notify delivers user-visible success and failure messages.
package notify

import (
	"errors"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultFallback is shown when a failure carries no server message.
const DefaultFallback = "Something went wrong. Please try again."

// Notifier surfaces messages to the user, typically as toasts.
type Notifier interface {
	Success(message string)
	Error(message string)
}

// ServerMessager is implemented by errors carrying a message meant for the
// user, such as a transport error decoded from the response body.
type ServerMessager interface {
	ServerMessage() string
}

// MessageFrom returns the server message carried by err, or fallback.
func MessageFrom(err error, fallback string) string {
	if fallback == "" {
		fallback = DefaultFallback
	}
	if err == nil {
		return fallback
	}

	var sm ServerMessager
	if errors.As(err, &sm) {
		if msg := strings.TrimSpace(sm.ServerMessage()); msg != "" {
			return msg
		}
	}
	return fallback
}

// LogNotifier writes notifications to a logrus logger.
type LogNotifier struct {
	logger logrus.FieldLogger
}

// NewLogNotifier creates a notifier logging through logger.
func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Success(message string) {
	n.logger.WithField("notification", "success").Info(message)
}

func (n *LogNotifier) Error(message string) {
	n.logger.WithField("notification", "error").Error(message)
}

// Level is the kind of a recorded notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Note is one recorded notification.
type Note struct {
	Level   Level
	Message string
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	notes []Note
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Success(message string) {
	r.record(LevelSuccess, message)
}

func (r *Recorder) Error(message string) {
	r.record(LevelError, message)
}

func (r *Recorder) record(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, Note{Level: level, Message: message})
}

// Notes returns a copy of every recorded notification in order.
func (r *Recorder) Notes() []Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Note(nil), r.notes...)
}

// Errors returns the recorded error messages.
func (r *Recorder) Errors() []string {
	return r.messages(LevelError)
}

// Successes returns the recorded success messages.
func (r *Recorder) Successes() []string {
	return r.messages(LevelSuccess)
}

func (r *Recorder) messages(level Level) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, n := range r.notes {
		if n.Level == level {
			out = append(out, n.Message)
		}
	}
	return out
}

// Reset forgets every recorded notification.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = nil
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Success(string) {}
func (Nop) Error(string)   {}
