// Package log writes append-only operational records as zstd-compressed
// JSONL, rotated hourly.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"dreamfield.world/internal/admin"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// auditRecord is one line of the admin audit trail.
type auditRecord struct {
	Time string `json:"time"`
	admin.AuditEntry
}

// AuditLogger records every admin mutation (compressed JSONL). It satisfies
// the resolver's Audit interface; write failures are logged and dropped so a
// full disk never blocks an admin operation.
type AuditLogger struct {
	w      *JSONLZstdWriter
	logger *stdlog.Logger
}

func NewAuditLogger(dataDir string, logger *stdlog.Logger) *AuditLogger {
	if logger == nil {
		logger = stdlog.Default()
	}
	return &AuditLogger{
		w:      NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit"),
		logger: logger,
	}
}

func (l *AuditLogger) Record(e admin.AuditEntry) {
	rec := auditRecord{
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		AuditEntry: e,
	}
	if err := l.w.Write(rec); err != nil {
		l.logger.Printf("[audit] write: %v", err)
	}
}

func (l *AuditLogger) Close() error { return l.w.Close() }
