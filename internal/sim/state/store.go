package state

import (
	"fmt"
	"log"
	"sync"
	"time"

	"dreamfield.world/internal/protocol"
)

// DeltaSink receives the versioned change event produced by a committed
// mutation. Implementations must never fail or stall the mutation; the
// committed state is the source of truth, not the bus message.
type DeltaSink interface {
	PublishUpdate(ev protocol.WorldUpdateEvent)
}

// Store owns the authoritative tree of one experience. All mutation goes
// through Mutate, which serializes writers and bumps the snapshot version;
// reads serialize behind any in-flight mutation so they see fully-old or
// fully-new state, never a partial write.
type Store struct {
	experience string
	logger     *log.Logger
	sink       DeltaSink

	mu      sync.Mutex
	tree    *Tree
	version uint64
	index   map[string]string // instance_id -> containing list path
}

func NewStore(tree *Tree, sink DeltaSink, logger *log.Logger) (*Store, error) {
	if tree == nil {
		return nil, fmt.Errorf("nil tree")
	}
	if tree.Locations == nil {
		tree.Locations = map[string]*Location{}
	}
	if tree.Players == nil {
		tree.Players = map[string]*PlayerView{}
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Store{
		experience: tree.Experience,
		logger:     logger,
		sink:       sink,
		tree:       tree,
		version:    1,
		index:      map[string]string{},
	}
	if err := s.buildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Experience() string { return s.experience }

func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Read runs fn with a consistent view of the tree. fn must not retain
// references past its return; copy what you need.
func (s *Store) Read(fn func(t *Tree, version uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.tree, s.version)
}

// MutationResult describes one committed mutation cycle.
type MutationResult struct {
	BaseVersion     uint64
	SnapshotVersion uint64
	Changes         []protocol.Change
	Scope           string
}

// Mutate is the only sanctioned mutation entry point. fn gets an exclusive
// transaction over a private copy of the tree; if it returns nil and recorded
// changes, the copy is committed, the version bumps by exactly one and a delta
// event is handed to the sink. An error return discards the copy, so a
// callback that fails halfway leaves the committed tree exactly as it was.
func (s *Store) Mutate(fn func(tx *Tx) error) (MutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{tree: s.tree.Clone(), index: cloneIndex(s.index)}
	if err := fn(tx); err != nil {
		return MutationResult{}, err
	}
	if len(tx.changes) == 0 {
		return MutationResult{BaseVersion: s.version, SnapshotVersion: s.version}, nil
	}

	s.tree = tx.tree
	s.index = tx.index
	base := s.version
	s.version++

	res := MutationResult{
		BaseVersion:     base,
		SnapshotVersion: s.version,
		Changes:         tx.changes,
		Scope:           tx.scope(),
	}
	if s.sink != nil {
		s.sink.PublishUpdate(protocol.WorldUpdateEvent{
			Type:            protocol.TypeWorldUpdate,
			Version:         protocol.Version,
			Experience:      s.experience,
			UserID:          res.Scope,
			BaseVersion:     res.BaseVersion,
			SnapshotVersion: res.SnapshotVersion,
			Changes:         res.Changes,
			Timestamp:       time.Now().UnixMilli(),
		})
	}
	return res, nil
}

// Get resolves a path against the tree. Instances come back as copies so the
// caller can never alias live state.
func (s *Store) Get(path string) (any, error) {
	segs, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := resolve(s.tree, segs)
	if err != nil {
		return nil, err
	}
	return detach(v), nil
}

// Set writes one leaf through an ordinary mutation.
func (s *Store) Set(path string, value any) error {
	_, err := s.Mutate(func(tx *Tx) error {
		_, err := tx.Set(path, value)
		return err
	})
	return err
}

func cloneIndex(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func detach(v any) any {
	switch t := v.(type) {
	case *Instance:
		return t.Clone()
	case []*Instance:
		out := make([]*Instance, len(t))
		for i, in := range t {
			out[i] = in.Clone()
		}
		return out
	case map[string]any:
		return cloneMap(t)
	default:
		return v
	}
}

func (s *Store) buildIndex() error {
	add := func(id, containerPath string) error {
		if prev, dup := s.index[id]; dup {
			return &ConflictError{InstanceID: id, ExistingPath: prev}
		}
		s.index[id] = containerPath
		return nil
	}
	for lid, l := range s.tree.Locations {
		for _, in := range l.Items {
			if err := add(in.InstanceID, fmt.Sprintf("locations.%s.items", lid)); err != nil {
				return err
			}
		}
		for aid, a := range l.Areas {
			for _, in := range a.Items {
				if err := add(in.InstanceID, fmt.Sprintf("locations.%s.areas.%s.items", lid, aid)); err != nil {
					return err
				}
			}
			for _, in := range a.NPCs {
				if err := add(in.InstanceID, fmt.Sprintf("locations.%s.areas.%s.npcs", lid, aid)); err != nil {
					return err
				}
			}
		}
	}
	for uid, p := range s.tree.Players {
		for _, in := range p.Inventory {
			if err := add(in.InstanceID, fmt.Sprintf("players.%s.inventory", uid)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ContainerOf reports the list path currently holding the given instance.
func (s *Store) ContainerOf(instanceID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.index[instanceID]
	return p, ok
}
