// Package log archives incidents and sim audit entries as hourly zstd JSONL files.
package log

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"dupeguard.ai/internal/engine/incidents"
	"dupeguard.ai/internal/sim/world"
)

const (
	hourLayout = "2006-01-02-15"
	fileSuffix = ".jsonl.zst"
)

// segment is one open hour file. Reopening an hour appends a new zstd frame;
// the reader decodes concatenated frames.
type segment struct {
	hour string
	file *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
}

func openSegment(path, hour string) (*segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &segment{hour: hour, file: file, zw: zw, buf: bufio.NewWriterSize(zw, 32*1024)}, nil
}

// appendLine writes one record and flushes it through the encoder so a crash
// loses at most the line being written.
func (s *segment) appendLine(line []byte) error {
	if _, err := s.buf.Write(line); err != nil {
		return err
	}
	if err := s.buf.WriteByte('\n'); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.zw.Flush()
}

func (s *segment) close() error {
	flushErr := s.buf.Flush()
	encErr := s.zw.Close()
	fileErr := s.file.Close()
	for _, err := range []error{flushErr, encErr, fileErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// HourlyWriter appends records of type T to dir/prefix-YYYY-MM-DD-HH.jsonl.zst,
// switching files on the UTC hour. Safe for concurrent use.
type HourlyWriter[T any] struct {
	dir    string
	prefix string

	mu  sync.Mutex
	now func() time.Time
	cur *segment
}

func NewHourlyWriter[T any](dir, prefix string) *HourlyWriter[T] {
	return &HourlyWriter[T]{dir: dir, prefix: prefix, now: time.Now}
}

// SetClock replaces the rotation clock. Tests only.
func (h *HourlyWriter[T]) SetClock(now func() time.Time) {
	h.mu.Lock()
	h.now = now
	h.mu.Unlock()
}

func (h *HourlyWriter[T]) path(hour string) string {
	return filepath.Join(h.dir, h.prefix+"-"+hour+fileSuffix)
}

func (h *HourlyWriter[T]) Write(rec T) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	hour := h.now().UTC().Format(hourLayout)
	if h.cur == nil || h.cur.hour != hour {
		if h.cur != nil {
			old := h.cur
			h.cur = nil
			if err := old.close(); err != nil {
				return err
			}
		}
		seg, err := openSegment(h.path(hour), hour)
		if err != nil {
			return err
		}
		h.cur = seg
	}
	return h.cur.appendLine(line)
}

func (h *HourlyWriter[T]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur == nil {
		return nil
	}
	err := h.cur.close()
	h.cur = nil
	return err
}

const (
	IncidentPrefix = "incidents"
	AuditPrefix    = "audit"
)

// IncidentArchive keeps every incident, unlike the bounded in-store ring.
type IncidentArchive struct {
	w *HourlyWriter[incidents.Entry]
}

func NewIncidentArchive(dir string) *IncidentArchive {
	return &IncidentArchive{w: NewHourlyWriter[incidents.Entry](dir, IncidentPrefix)}
}

func (a *IncidentArchive) WriteIncident(e incidents.Entry) error { return a.w.Write(e) }
func (a *IncidentArchive) Close() error                          { return a.w.Close() }

// AuditLogger records sim world mutations.
type AuditLogger struct {
	w *HourlyWriter[world.AuditEntry]
}

func NewAuditLogger(dir string) *AuditLogger {
	return &AuditLogger{w: NewHourlyWriter[world.AuditEntry](dir, AuditPrefix)}
}

func (l *AuditLogger) WriteAudit(e world.AuditEntry) error { return l.w.Write(e) }
func (l *AuditLogger) Close() error                        { return l.w.Close() }
