package state

import (
	"errors"
	"sync"
	"testing"
	"time"

	"dreamfield.world/internal/protocol"
)

type captureSink struct {
	mu     sync.Mutex
	events []protocol.WorldUpdateEvent
}

func (c *captureSink) PublishUpdate(ev protocol.WorldUpdateEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureSink) all() []protocol.WorldUpdateEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.WorldUpdateEvent, len(c.events))
	copy(out, c.events)
	return out
}

const testWorld = `{
  "experience": "dream_cafe",
  "locations": {
    "cafe": {
      "name": "The Dream Cafe",
      "items": ["lost_umbrella"],
      "areas": {
        "spawn_zone_1": {
          "name": "Entrance",
          "items": [
            "bottle_joy",
            {"instance_id":"bottle_2","template_id":"bottle_joy","collectible":true,
             "state":{"glowing":true,"dream_type":"calm"}}
          ],
          "npcs": [{"instance_id":"barista_1","template_id":"barista"}]
        },
        "counter": {
          "name": "Counter",
          "items": [{"instance_id":"mug_1","template_id":"mug","visible":false}]
        }
      }
    }
  },
  "players": {
    "u_1": {"current_location":"cafe","current_area":"spawn_zone_1"}
  }
}`

func newTestStore(t *testing.T, sink DeltaSink) *Store {
	t.Helper()
	tree, err := ParseTree([]byte(testWorld))
	if err != nil {
		t.Fatalf("parse world: %v", err)
	}
	s, err := NewStore(tree, sink, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return s
}

func TestParseTree_NormalizesBareStringInstances(t *testing.T) {
	tree, err := ParseTree([]byte(testWorld))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	items := tree.Locations["cafe"].Areas["spawn_zone_1"].Items
	if items[0].InstanceID != "bottle_joy" || items[0].TemplateID != "bottle_joy" {
		t.Fatalf("bare string not normalized: %+v", items[0])
	}
	if items[1].InstanceID != "bottle_2" || items[1].TemplateID != "bottle_joy" {
		t.Fatalf("object form mangled: %+v", items[1])
	}
}

func TestStore_RejectsDuplicateInstanceIDsAtLoad(t *testing.T) {
	tree, err := ParseTree([]byte(`{
	  "experience":"dup",
	  "locations":{
	    "a":{"areas":{"x":{"items":["thing"]},"y":{"items":["thing"]}}}
	  }}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = NewStore(tree, nil, nil)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.InstanceID != "thing" {
		t.Fatalf("conflict id: %q", conflict.InstanceID)
	}
}

func TestStore_GetWithSelector(t *testing.T) {
	s := newTestStore(t, nil)
	v, err := s.Get("locations.cafe.areas.spawn_zone_1.items[instance_id=bottle_2].state.dream_type")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "calm" {
		t.Fatalf("dream_type: %v", v)
	}

	_, err = s.Get("locations.cafe.areas.spawn_zone_1.items[instance_id=nope]")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SetTypeMismatchLeavesValue(t *testing.T) {
	s := newTestStore(t, nil)
	path := "locations.cafe.areas.spawn_zone_1.items[instance_id=bottle_2].state.glowing"

	err := s.Set(path, "very")
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Fatalf("expected TypeMismatchError, got %v", err)
	}
	v, err := s.Get(path)
	if err != nil || v != true {
		t.Fatalf("original value changed: %v %v", v, err)
	}

	if err := s.Set(path, false); err != nil {
		t.Fatalf("typed set: %v", err)
	}
	if v, _ := s.Get(path); v != false {
		t.Fatalf("set did not apply: %v", v)
	}
}

func TestStore_EditLeafLeavesSiblingsUntouched(t *testing.T) {
	s := newTestStore(t, nil)
	base := "locations.cafe.areas.spawn_zone_1.items[instance_id=bottle_2].state"
	if err := s.Set(base+".glowing", false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, _ := s.Get(base + ".dream_type"); v != "calm" {
		t.Fatalf("sibling leaf changed: %v", v)
	}
}

func TestMutate_VersionIncreasesByOnePerMutation(t *testing.T) {
	sink := &captureSink{}
	s := newTestStore(t, sink)
	v0 := s.Version()

	res1, err := s.Mutate(func(tx *Tx) error { return tx.MovePlayer("u_1", "counter") })
	if err != nil {
		t.Fatalf("mutate 1: %v", err)
	}
	res2, err := s.Mutate(func(tx *Tx) error { return tx.MovePlayer("u_1", "spawn_zone_1") })
	if err != nil {
		t.Fatalf("mutate 2: %v", err)
	}

	if res1.BaseVersion != v0 || res1.SnapshotVersion != v0+1 {
		t.Fatalf("mutation 1 versions: %+v", res1)
	}
	if res2.BaseVersion != v0+1 || res2.SnapshotVersion != v0+2 {
		t.Fatalf("mutation 2 versions: %+v", res2)
	}

	evs := sink.all()
	if len(evs) != 2 {
		t.Fatalf("published events: %d want 2", len(evs))
	}
	if evs[0].SnapshotVersion != v0+1 || evs[1].BaseVersion != v0+1 {
		t.Fatalf("event versions: %+v %+v", evs[0], evs[1])
	}
	if evs[0].UserID != "u_1" {
		t.Fatalf("player move should scope to user: %q", evs[0].UserID)
	}
}

func TestMutate_NoOpDoesNotBumpOrPublish(t *testing.T) {
	sink := &captureSink{}
	s := newTestStore(t, sink)
	v0 := s.Version()
	res, err := s.Mutate(func(tx *Tx) error { return nil })
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if res.SnapshotVersion != v0 || s.Version() != v0 {
		t.Fatalf("no-op bumped version: %+v", res)
	}
	if len(sink.all()) != 0 {
		t.Fatalf("no-op published an event")
	}
}

func TestMutate_FailedCallbackDiscardsEarlierWrites(t *testing.T) {
	sink := &captureSink{}
	s := newTestStore(t, sink)
	v0 := s.Version()
	base := "locations.cafe.areas.spawn_zone_1.items[instance_id=bottle_2].state"

	// The first write succeeds, the second hits a kind mismatch. Neither may
	// reach the committed tree.
	_, err := s.Mutate(func(tx *Tx) error {
		if _, err := tx.Set(base+".dream_type", "stormy"); err != nil {
			return err
		}
		_, err := tx.Set(base+".glowing", "very")
		return err
	})
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Fatalf("expected TypeMismatchError, got %v", err)
	}

	if v, _ := s.Get(base + ".dream_type"); v != "calm" {
		t.Fatalf("earlier write leaked into committed tree: %v", v)
	}
	if v, _ := s.Get(base + ".glowing"); v != true {
		t.Fatalf("failed write changed value: %v", v)
	}
	if s.Version() != v0 {
		t.Fatalf("version moved on failed mutation: %d -> %d", v0, s.Version())
	}
	if len(sink.all()) != 0 {
		t.Fatalf("failed mutation published an event")
	}
}

func TestMutate_FailedRemoveKeepsInstanceAndIndex(t *testing.T) {
	s := newTestStore(t, nil)
	boom := errors.New("boom")
	_, err := s.Mutate(func(tx *Tx) error {
		if _, err := tx.Remove("locations.cafe.areas.spawn_zone_1.items[instance_id=bottle_2]"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("mutate: %v", err)
	}
	if _, err := s.Get("locations.cafe.areas.spawn_zone_1.items[instance_id=bottle_2]"); err != nil {
		t.Fatalf("instance gone after failed mutation: %v", err)
	}
	if p, ok := s.ContainerOf("bottle_2"); !ok || p != "locations.cafe.areas.spawn_zone_1.items" {
		t.Fatalf("index diverged after failed mutation: %q %v", p, ok)
	}
}

func TestTx_MovePlayerUnknownDestinationListsAlternatives(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.Mutate(func(tx *Tx) error { return tx.MovePlayer("u_1", "attic") })
	var unknown *UnknownDestinationError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownDestinationError, got %v", err)
	}
	if len(unknown.Valid) != 2 || unknown.Valid[0] != "counter" || unknown.Valid[1] != "spawn_zone_1" {
		t.Fatalf("valid areas: %v", unknown.Valid)
	}
	// Nothing changed and no version was burned.
	if v, _ := s.Get("players.u_1.current_area"); v != "spawn_zone_1" {
		t.Fatalf("state changed on invalid move: %v", v)
	}
}

func TestTx_CollectItemMovesInstanceAndMirrorsRemoval(t *testing.T) {
	sink := &captureSink{}
	s := newTestStore(t, sink)

	res, err := s.Mutate(func(tx *Tx) error {
		_, err := tx.CollectItem("u_1", "bottle_2")
		return err
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.Changes) != 2 {
		t.Fatalf("changes: %d want 2 (remove + add)", len(res.Changes))
	}
	if res.Changes[0].Operation != protocol.OpRemove || res.Changes[1].Operation != protocol.OpAdd {
		t.Fatalf("operations: %+v", res.Changes)
	}
	if res.Scope != protocol.BroadcastScope {
		t.Fatalf("area removal must broadcast, got scope %q", res.Scope)
	}

	if _, err := s.Get("locations.cafe.areas.spawn_zone_1.items[instance_id=bottle_2]"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("item still in area: %v", err)
	}
	inv, err := s.Get("players.u_1.inventory[instance_id=bottle_2]")
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if inv.(*Instance).TemplateID != "bottle_joy" {
		t.Fatalf("inventory item: %+v", inv)
	}
	if p, ok := s.ContainerOf("bottle_2"); !ok || p != "players.u_1.inventory" {
		t.Fatalf("index not updated: %q %v", p, ok)
	}
}

func TestTx_AddInstanceRejectsDuplicateID(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.Mutate(func(tx *Tx) error {
		_, err := tx.AddInstance("locations.cafe.areas.counter.items", "bottle_joy")
		return err
	})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestTx_RemoveDropsIndexForSubtree(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.Mutate(func(tx *Tx) error {
		_, err := tx.Remove("locations.cafe.areas.spawn_zone_1")
		return err
	})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := s.ContainerOf("bottle_joy"); ok {
		t.Fatalf("index kept instance of removed subtree")
	}
	// Freed ids can be reused afterwards.
	_, err = s.Mutate(func(tx *Tx) error {
		_, err := tx.AddInstance("locations.cafe.areas.counter.items", "bottle_joy")
		return err
	})
	if err != nil {
		t.Fatalf("re-add after remove: %v", err)
	}
}

func TestMutate_SerializesConcurrentWriters(t *testing.T) {
	s := newTestStore(t, nil)
	if err := s.Set("locations.cafe.areas.counter.items[instance_id=mug_1].state", map[string]any{}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	// One slow mutation writes two leaves with a delay in between; a
	// concurrent reader must observe either both writes or neither.
	start := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-start
		_, _ = s.Mutate(func(tx *Tx) error {
			if _, err := tx.Set("locations.cafe.areas.counter.items[instance_id=mug_1].state.a", 1); err != nil {
				return err
			}
			time.Sleep(20 * time.Millisecond)
			_, err := tx.Set("locations.cafe.areas.counter.items[instance_id=mug_1].state.b", 2)
			return err
		})
	}()

	close(start)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var a, b bool
		s.Read(func(tr *Tree, _ uint64) {
			st := tr.Locations["cafe"].Areas["counter"].Items[0].State
			_, a = st["a"]
			_, b = st["b"]
		})
		if a != b {
			t.Fatalf("observed torn write: a=%v b=%v", a, b)
		}
		if a && b {
			break
		}
	}
	<-done
}
