// Package export writes practice history to disk: session images and a
// redacted JSON session log.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ashureev/viso-labs/internal/domain"
)

const (
	timestampLayout = "20060102_150405"
	// ImageRedacted replaces image payloads in session logs.
	ImageRedacted = "[IMAGE_DATA_REMOVED]"
)

// ItemError records one session that could not be exported.
type ItemError struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

// ImageReport summarizes an image export.
type ImageReport struct {
	Dir     string      `json:"dir"`
	Files   []string    `json:"files"`
	Saved   int         `json:"saved"`
	Failed  []ItemError `json:"failed,omitempty"`
	Message string      `json:"message"`
}

// ImageExporter saves every session image into a timestamped folder.
type ImageExporter struct {
	baseDir string
	now     func() time.Time
	logger  *slog.Logger
}

// NewImageExporter creates an exporter rooted at baseDir.
func NewImageExporter(baseDir string, now func() time.Time, logger *slog.Logger) *ImageExporter {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageExporter{baseDir: baseDir, now: now, logger: logger}
}

// Export writes archive images as session_<i>_<ts> and the active image as
// active_session_<ts>. One failed file never stops the rest.
func (e *ImageExporter) Export(archive domain.Archive, active *domain.Session) ImageReport {
	ts := e.now().Format(timestampLayout)
	report := ImageReport{Dir: filepath.Join(e.baseDir, "saved_images_"+ts)}

	if err := os.MkdirAll(report.Dir, 0o750); err != nil {
		e.logger.Error("failed to create image export dir", "dir", report.Dir, "error", err)
		report.Failed = append(report.Failed, ItemError{Error: err.Error()})
		report.Message = fmt.Sprintf("Error creating directory %s: %v", report.Dir, err)
		return report
	}

	save := func(s *domain.Session, name string) {
		if !s.HasImage() {
			return
		}
		path := filepath.Join(report.Dir, name+s.Image.Extension())
		if err := os.WriteFile(path, s.Image.Data, 0o640); err != nil {
			e.logger.Warn("failed to save session image", "session_id", s.ID, "path", path, "error", err)
			report.Failed = append(report.Failed, ItemError{SessionID: s.ID, Error: err.Error()})
			return
		}
		report.Files = append(report.Files, path)
		report.Saved++
	}

	for i, s := range archive.Sessions() {
		save(s, fmt.Sprintf("session_%d_%s", i, ts))
	}
	if active != nil {
		save(active, "active_session_"+ts)
	}

	report.Message = fmt.Sprintf("Successfully saved %d images to folder: %s", report.Saved, report.Dir)
	e.logger.Info("exported session images", "dir", report.Dir, "saved", report.Saved, "failed", len(report.Failed))
	return report
}

// LogReport summarizes a session log export.
type LogReport struct {
	Path     string      `json:"path"`
	Sessions int         `json:"sessions"`
	Skipped  []ItemError `json:"skipped,omitempty"`
	Message  string      `json:"message"`
}

// LogExporter writes the archive plus the active session as a JSON array.
type LogExporter struct {
	baseDir string
	now     func() time.Time
	logger  *slog.Logger
}

// NewLogExporter creates an exporter rooted at baseDir.
func NewLogExporter(baseDir string, now func() time.Time, logger *slog.Logger) *LogExporter {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{baseDir: baseDir, now: now, logger: logger}
}

// Export writes session_log_<ts>.json. Image payloads are replaced by
// ImageRedacted; sessions that fail to encode are skipped and reported.
func (e *LogExporter) Export(archive domain.Archive, active *domain.Session) (LogReport, error) {
	ts := e.now().Format(timestampLayout)
	report := LogReport{Path: filepath.Join(e.baseDir, "session_log_"+ts+".json")}

	entries := make([]json.RawMessage, 0, archive.Len()+1)
	for _, s := range archive.WithActive(active) {
		raw, err := redact(s)
		if err != nil {
			e.logger.Warn("skipping session in log export", "session_id", s.ID, "error", err)
			report.Skipped = append(report.Skipped, ItemError{SessionID: s.ID, Error: err.Error()})
			continue
		}
		entries = append(entries, raw)
	}
	report.Sessions = len(entries)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		report.Message = fmt.Sprintf("Error saving session log: %v", err)
		return report, fmt.Errorf("encode session log: %w", err)
	}
	if err := os.MkdirAll(e.baseDir, 0o750); err != nil {
		report.Message = fmt.Sprintf("Error saving session log: %v", err)
		return report, fmt.Errorf("create export dir: %w", err)
	}
	if err := os.WriteFile(report.Path, data, 0o640); err != nil {
		report.Message = fmt.Sprintf("Error saving session log: %v", err)
		return report, fmt.Errorf("write session log: %w", err)
	}

	report.Message = "Session log saved to: " + report.Path
	e.logger.Info("exported session log", "path", report.Path, "sessions", report.Sessions, "skipped", len(report.Skipped))
	return report, nil
}

// redact encodes s with its image payload swapped for the sentinel. Keys
// keep the Session field order.
func redact(s *domain.Session) (json.RawMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := 0; dec.More(); i++ {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		if key == "image" {
			value = json.RawMessage(strconv.Quote(ImageRedacted))
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(key))
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
