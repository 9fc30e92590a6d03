package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConversationLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(ConversationLogEvent{
		LearnerID:  "learner-1",
		SessionID:  "sess-1",
		Channel:    "practice_http",
		Direction:  "inbound",
		EventType:  "learner_utterance",
		ContentRaw: "a   red ball",
	})

	path := filepath.Join(dir, "learner-1", "sess-1.ndjson")
	line := waitForLogLine(t, path)
	var got ConversationLogEvent
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.ContentRaw != "a   red ball" {
		t.Fatalf("unexpected ContentRaw: %q", got.ContentRaw)
	}
	if got.Content != "a red ball" {
		t.Fatalf("expected cleaned content, got %q", got.Content)
	}
	if got.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
}

func TestConversationLoggerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	if logger != nil {
		t.Fatal("expected nil logger when disabled")
	}
	logger.Log(ConversationLogEvent{ContentRaw: "ignored"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close on nil logger returned %v", err)
	}
}

func TestConversationLoggerSanitizesPathSegments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	logger.Log(ConversationLogEvent{LearnerID: "../escape", SessionID: "s/1", ContentRaw: "hi"})
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, ".._escape", "s_1.ndjson")); err != nil {
		t.Fatalf("expected sanitized log path: %v", err)
	}
}

func TestCleanForReadabilityNormalizesWhitespace(t *testing.T) {
	t.Parallel()

	clean := cleanForReadability("  the dog\r\nis   on the\tbench  ")
	if clean != "the dog\nis on the bench" {
		t.Fatalf("unexpected cleaned text: %q", clean)
	}
}

func TestConversationLoggerClosesFinishedSessions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir, QueueSize: 512}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	for i := 0; i < 200; i++ {
		logger.Log(ConversationLogEvent{
			LearnerID:  "learner-1",
			SessionID:  fmt.Sprintf("sess-%d", i),
			ContentRaw: "a dog",
		})
	}
	waitForLogLine(t, filepath.Join(dir, "learner-1", "sess-199.ndjson"))

	if n := logger.openFiles(); n != 1 {
		t.Fatalf("expected only the current session log to stay open, got %d", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "learner-1", "sess-0.ndjson")); err != nil {
		t.Fatalf("expected earlier session log on disk: %v", err)
	}
}

func TestConversationLoggerBoundsOpenFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir, MaxOpenFiles: 4}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	for i := 0; i < 10; i++ {
		logger.Log(ConversationLogEvent{
			LearnerID:  fmt.Sprintf("learner-%d", i),
			SessionID:  "sess",
			ContentRaw: "hello",
		})
	}
	waitForLogLine(t, filepath.Join(dir, "learner-9", "sess.ndjson"))

	if n := logger.openFiles(); n > 4 {
		t.Fatalf("expected at most 4 open logs, got %d", n)
	}

	// An evicted learner reopens in append mode.
	logger.Log(ConversationLogEvent{LearnerID: "learner-0", SessionID: "sess", ContentRaw: "again"})
	path := filepath.Join(dir, "learner-0", "sess.ndjson")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, _ := os.ReadFile(path)
		if strings.Count(string(data), "\n") == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected the reopened log to keep its earlier line")
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
