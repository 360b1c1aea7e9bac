package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"dreamfield.world/internal/admin"
)

func TestAuditLoggerWritesReadableJSONL(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir, nil)

	l.Record(admin.AuditEntry{Verb: "edit", Path: "locations.cafe.name", Old: "Cafe", New: "Dream Cafe"})
	l.Record(admin.AuditEntry{Verb: "delete", Path: "players.u_9", BackupID: 7})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "audit", "audit-*.jsonl.zst"))
	if err != nil || len(files) != 1 {
		t.Fatalf("audit files = %v, %v", files, err)
	}
	f, err := os.Open(files[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %d: %v", len(lines), err)
		}
		lines = append(lines, m)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	if lines[0]["verb"] != "edit" || lines[0]["new"] != "Dream Cafe" {
		t.Fatalf("line 0 = %#v", lines[0])
	}
	if lines[1]["verb"] != "delete" || lines[1]["backup_id"] != float64(7) {
		t.Fatalf("line 1 = %#v", lines[1])
	}
	if lines[0]["time"] == "" {
		t.Fatalf("missing time")
	}
}
