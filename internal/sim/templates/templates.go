package templates

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
)

// Template is an immutable shared definition for a class of entity. Many
// instances may reference one template; templates are never mutated at
// runtime, only replaced wholesale on hot-reload.
type Template struct {
	ID          string         `json:"template_id"`
	Kind        string         `json:"kind,omitempty"` // "ITEM" or "NPC"
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Visible     *bool          `json:"visible,omitempty"`
	Collectible *bool          `json:"collectible,omitempty"`
	State       map[string]any `json:"state,omitempty"`
}

type Catalog struct {
	ByID   map[string]Template
	IDs    []string // sorted
	Digest string
}

func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var defs []Template
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("templates: %w", err)
	}

	c := &Catalog{
		ByID:   make(map[string]Template, len(defs)),
		Digest: sha256Hex(raw),
	}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("templates: empty template_id")
		}
		if _, dup := c.ByID[d.ID]; dup {
			return nil, fmt.Errorf("templates: duplicate template_id %q", d.ID)
		}
		c.ByID[d.ID] = d
	}

	c.IDs = make([]string, 0, len(c.ByID))
	for id := range c.ByID {
		c.IDs = append(c.IDs, id)
	}
	sort.Strings(c.IDs)
	return c, nil
}

// Store holds the current catalog behind an atomic pointer. Hot-reload loads
// a complete new table and publishes the pointer in one step, so concurrent
// readers never observe a half-updated catalog.
type Store struct {
	cur atomic.Pointer[Catalog]
}

func NewStore(c *Catalog) *Store {
	s := &Store{}
	if c == nil {
		c = &Catalog{ByID: map[string]Template{}, Digest: sha256Hex(nil)}
	}
	s.cur.Store(c)
	return s
}

func (s *Store) Current() *Catalog { return s.cur.Load() }

func (s *Store) Reload(path string) error {
	c, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	s.cur.Store(c)
	return nil
}

func (s *Store) Lookup(id string) (Template, bool) {
	t, ok := s.cur.Load().ByID[id]
	return t, ok
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
