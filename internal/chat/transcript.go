// Package chat provides the user-facing chat transports: the websocket
// endpoint and the NDJSON conversation transcript log.
package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// TranscriptEvent is one NDJSON line in a session transcript.
type TranscriptEvent struct {
	Timestamp  string         `json:"timestamp"`
	Username   string         `json:"username"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// TranscriptSink receives conversation events. Log must never block the
// request path; implementations drop events when overloaded.
type TranscriptSink interface {
	Log(event TranscriptEvent)
	Close() error
}

// NopTranscript discards all events.
type NopTranscript struct{}

func (NopTranscript) Log(TranscriptEvent) {}
func (NopTranscript) Close() error        { return nil }

// TranscriptConfig configures the file-backed transcript logger.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// TranscriptLogger appends conversation events to per-session NDJSON files
// under <dir>/<username>/<session_id>.ndjson. Writes happen on a single
// background goroutine fed by a bounded queue; when the queue is full the
// event is dropped and counted, never blocking a dialog turn.
type TranscriptLogger struct {
	dir    string
	queue  chan TranscriptEvent
	done   chan struct{}
	logger *slog.Logger
}

// NewTranscriptLogger creates the logger and starts its writer goroutine.
// Returns a NopTranscript when disabled.
func NewTranscriptLogger(cfg TranscriptConfig, logger *slog.Logger) (TranscriptSink, error) {
	if !cfg.Enabled {
		return NopTranscript{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	t := &TranscriptLogger{
		dir:    cfg.Dir,
		queue:  make(chan TranscriptEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go t.writeLoop()
	return t, nil
}

// Log enqueues an event, filling in timestamp and cleaned content when the
// caller left them empty. Drops the event if the queue is full.
func (t *TranscriptLogger) Log(event TranscriptEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	select {
	case t.queue <- event:
	default:
		t.logger.Warn("transcript queue full, dropping event",
			"session_id", event.SessionID, "event_type", event.EventType)
	}
}

// Close stops the writer after draining queued events.
func (t *TranscriptLogger) Close() error {
	close(t.queue)
	<-t.done
	return nil
}

func (t *TranscriptLogger) writeLoop() {
	defer close(t.done)
	for event := range t.queue {
		if err := t.append(event); err != nil {
			t.logger.Warn("transcript write failed",
				"session_id", event.SessionID, "error", err)
		}
	}
}

func (t *TranscriptLogger) append(event TranscriptEvent) error {
	userDir := filepath.Join(t.dir, sanitizePathComponent(event.Username))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return fmt.Errorf("create user directory: %w", err)
	}

	path := filepath.Join(userDir, sanitizePathComponent(event.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			t.logger.Warn("failed to close transcript file", "path", path, "error", closeErr)
		}
	}()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transcript event: %w", err)
	}
	line = append(line, '\n')

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append transcript line: %w", err)
	}
	return nil
}

var (
	ansiEscapes   = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)
	unsafePathRun = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

// cleanForReadability strips ANSI escape sequences and raw control
// characters so the transcript stays greppable.
func cleanForReadability(raw string) string {
	clean := ansiEscapes.ReplaceAllString(raw, "")
	clean = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, clean)
	return clean
}

func sanitizePathComponent(s string) string {
	s = unsafePathRun.ReplaceAllString(s, "_")
	if s == "" {
		return "_"
	}
	return s
}
