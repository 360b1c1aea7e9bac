package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteReadRoundtrip(t *testing.T) {
	s, err := Open(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	value := map[string]any{
		"instance_id": "bottle_2",
		"template_id": "bottle_joy",
		"state":       map[string]any{"glowing": true},
	}
	b, err := s.Write("locations.cafe.areas.spawn_zone_1.items[instance_id=bottle_2]", value)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if b.ID == 0 || b.File == "" {
		t.Fatalf("incomplete backup record: %+v", b)
	}

	path, got, err := s.Read(b.ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if path != b.Path {
		t.Fatalf("path = %q, want %q", path, b.Path)
	}
	m, ok := got.(map[string]any)
	if !ok || m["instance_id"] != "bottle_2" {
		t.Fatalf("value = %#v", got)
	}
	st, ok := m["state"].(map[string]any)
	if !ok || st["glowing"] != true {
		t.Fatalf("state = %#v", m["state"])
	}
}

func TestListMostRecentFirst(t *testing.T) {
	s, err := Open(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	for i := 0; i < 3; i++ {
		if _, err := s.Write(fmt.Sprintf("players.u_%d", i), map[string]any{"n": i}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	list, err := s.List(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].Path != "players.u_2" || list[2].Path != "players.u_0" {
		t.Fatalf("order wrong: %+v", list)
	}
}

func TestRetentionPrunesOldest(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 2, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	var first Backup
	for i := 0; i < 4; i++ {
		b, err := s.Write(fmt.Sprintf("p%d", i), i)
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if i == 0 {
			first = b
		}
	}

	list, err := s.List(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("retained %d backups, want 2", len(list))
	}
	if list[0].Path != "p3" || list[1].Path != "p2" {
		t.Fatalf("kept wrong backups: %+v", list)
	}

	// The pruned file is gone from disk too.
	if _, err := os.Stat(filepath.Join(dir, first.File)); !os.IsNotExist(err) {
		t.Fatalf("pruned file still present: %v", err)
	}
	if _, _, err := s.Read(first.ID); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("read pruned: %v", err)
	}
}
