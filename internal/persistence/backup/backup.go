// Package backup persists recoverable snapshots of state subtrees before
// destructive admin operations. Each backup is a zstd-compressed JSON file on
// disk plus a row in a small sqlite index so tooling can list and prune
// without scanning the filesystem.
package backup

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"
)

// Backup is one recoverable snapshot.
type Backup struct {
	ID      int64
	Path    string // state-tree path the subtree was removed from
	Created time.Time
	File    string // on-disk file, relative to the store dir
}

// envelope is the on-disk payload.
type envelope struct {
	Path    string `json:"path"`
	Created string `json:"created"`
	Value   any    `json:"value"`
}

type Store struct {
	dir    string
	db     *sql.DB
	retain int
	logger *log.Logger
}

// Open creates the backup directory and index if needed. retain is the number
// of backups kept; older ones are pruned after each write. retain <= 0 means
// keep everything.
func Open(dir string, retain int, logger *log.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty backup dir")
	}
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS backups (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			path    TEXT NOT NULL,
			created TEXT NOT NULL,
			file    TEXT NOT NULL
		);`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &Store{dir: dir, db: db, retain: retain, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Write persists value (the subtree about to be removed at treePath) and
// records it in the index, then prunes beyond the retention count.
func (s *Store) Write(treePath string, value any) (Backup, error) {
	created := time.Now().UTC()
	name := fmt.Sprintf("backup_%d.json.zst", created.UnixNano())

	if err := s.writeFile(name, envelope{
		Path:    treePath,
		Created: created.Format(time.RFC3339Nano),
		Value:   value,
	}); err != nil {
		return Backup{}, err
	}

	res, err := s.db.Exec(
		"INSERT INTO backups (path, created, file) VALUES (?, ?, ?)",
		treePath, created.Format(time.RFC3339Nano), name)
	if err != nil {
		return Backup{}, err
	}
	id, _ := res.LastInsertId()

	if err := s.prune(); err != nil {
		s.logger.Printf("[backup] prune: %v", err)
	}
	return Backup{ID: id, Path: treePath, Created: created, File: name}, nil
}

func (s *Store) writeFile(name string, env envelope) error {
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := json.NewEncoder(enc).Encode(env); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// List returns backups, most recent first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Backup, error) {
	q := "SELECT id, path, created, file FROM backups ORDER BY id DESC"
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Backup
	for rows.Next() {
		var b Backup
		var created string
		if err := rows.Scan(&b.ID, &b.Path, &created, &b.File); err != nil {
			return nil, err
		}
		b.Created, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Read loads a backup's subtree back from disk.
func (s *Store) Read(id int64) (treePath string, value any, err error) {
	var file string
	err = s.db.QueryRow("SELECT file FROM backups WHERE id = ?", id).Scan(&file)
	if err == sql.ErrNoRows {
		return "", nil, fmt.Errorf("backup %d not found", id)
	}
	if err != nil {
		return "", nil, err
	}

	f, err := os.Open(filepath.Join(s.dir, file))
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return "", nil, err
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return "", nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	return env.Path, env.Value, nil
}

func (s *Store) prune() error {
	if s.retain <= 0 {
		return nil
	}
	rows, err := s.db.Query(
		"SELECT id, file FROM backups ORDER BY id DESC LIMIT -1 OFFSET ?", s.retain)
	if err != nil {
		return err
	}
	type victim struct {
		id   int64
		file string
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.file); err != nil {
			rows.Close()
			return err
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, v := range victims {
		if _, err := s.db.Exec("DELETE FROM backups WHERE id = ?", v.id); err != nil {
			return err
		}
		if err := os.Remove(filepath.Join(s.dir, v.file)); err != nil && !os.IsNotExist(err) {
			s.logger.Printf("[backup] remove %s: %v", v.file, err)
		}
	}
	return nil
}
