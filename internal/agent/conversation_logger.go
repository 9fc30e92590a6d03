package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ConversationLogConfig controls the per-session transcript log.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
	// MaxOpenFiles bounds how many learner logs stay open at once.
	MaxOpenFiles int
}

// ConversationLogEvent is one NDJSON line in a transcript log.
type ConversationLogEvent struct {
	Timestamp  time.Time      `json:"ts"`
	LearnerID  string         `json:"learner_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ConversationLogger writes transcript events asynchronously to
// <dir>/<learner>/<session>.ndjson. A nil logger is a no-op.
type ConversationLogger struct {
	dir     string
	events  chan ConversationLogEvent
	logger  *slog.Logger
	maxOpen int

	// files holds the open log of each learner's current session. It is
	// guarded by filesMu and written only by the run goroutine.
	filesMu sync.Mutex
	files   map[string]*sessionLog
	tick    uint64
	done    chan struct{}
	once    sync.Once

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewConversationLogger starts the writer goroutine. It returns nil when
// logging is disabled.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (*ConversationLogger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("conversation log dir cannot be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = 64
	}

	l := &ConversationLogger{
		dir:     cfg.Dir,
		events:  make(chan ConversationLogEvent, cfg.QueueSize),
		logger:  logger,
		maxOpen: cfg.MaxOpenFiles,
		files:   make(map[string]*sessionLog),
		done:    make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues an event. Events are dropped when the queue is full.
func (l *ConversationLogger) Log(event ConversationLogEvent) {
	if l == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.events <- event:
	default:
		l.dropped.Add(1)
		l.logger.Warn("conversation log queue full, dropping event",
			"learner_id", event.LearnerID,
			"session_id", event.SessionID,
			"event_type", event.EventType)
	}
}

// Dropped returns how many events were discarded on a full queue.
func (l *ConversationLogger) Dropped() int64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close flushes pending events and closes all files.
func (l *ConversationLogger) Close() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.events)
		l.mu.Unlock()
	})
	<-l.done
	return nil
}

func (l *ConversationLogger) run() {
	defer close(l.done)
	for event := range l.events {
		if err := l.write(event); err != nil {
			l.logger.Warn("failed to write conversation log", "learner_id", event.LearnerID, "error", err)
		}
	}
	l.filesMu.Lock()
	defer l.filesMu.Unlock()
	for learner := range l.files {
		l.closeLocked(learner)
	}
}

// sessionLog is an open transcript file.
type sessionLog struct {
	path string
	f    *os.File
	used uint64
}

// openFiles reports how many transcript files are currently open.
func (l *ConversationLogger) openFiles() int {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()
	return len(l.files)
}

func (l *ConversationLogger) write(event ConversationLogEvent) error {
	learner := safeName(event.LearnerID)
	path := filepath.Join(l.dir, learner, safeName(event.SessionID)+".ndjson")

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}

	l.filesMu.Lock()
	defer l.filesMu.Unlock()

	sl, err := l.openLocked(learner, path)
	if err != nil {
		return err
	}
	l.tick++
	sl.used = l.tick
	_, err = sl.f.Write(append(line, '\n'))
	return err
}

// openLocked returns the learner's log for path. A learner has one active
// session, so a new session ID closes the previous file. The least recently
// used learner is evicted when the open-file budget is spent.
func (l *ConversationLogger) openLocked(learner, path string) (*sessionLog, error) {
	if sl, ok := l.files[learner]; ok {
		if sl.path == path {
			return sl, nil
		}
		l.closeLocked(learner)
	}
	if len(l.files) >= l.maxOpen {
		l.evictLocked()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}
	sl := &sessionLog{path: path, f: f}
	l.files[learner] = sl
	return sl, nil
}

func (l *ConversationLogger) evictLocked() {
	var oldest string
	var oldestUse uint64
	for learner, sl := range l.files {
		if oldest == "" || sl.used < oldestUse {
			oldest, oldestUse = learner, sl.used
		}
	}
	if oldest != "" {
		l.closeLocked(oldest)
	}
}

func (l *ConversationLogger) closeLocked(learner string) {
	sl := l.files[learner]
	delete(l.files, learner)
	if err := sl.f.Close(); err != nil {
		l.logger.Warn("failed to close conversation log", "path", sl.path, "error", err)
	}
}

var (
	unsafeInName  = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	spaceSequence = regexp.MustCompile(`[ \t]+`)
)

// cleanForReadability normalizes line endings and collapses runs of blanks.
func cleanForReadability(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = spaceSequence.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func safeName(s string) string {
	s = unsafeInName.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}
