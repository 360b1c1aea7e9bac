package command

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"dreamfield.world/internal/protocol"
	"dreamfield.world/internal/sim/aoi"
	"dreamfield.world/internal/sim/state"
	"dreamfield.world/internal/sim/templates"
)

const worldJSON = `{
  "experience": "dream_cafe",
  "locations": {
    "cafe": {
      "areas": {
        "spawn_zone_1": {
          "items": [
            "bottle_joy",
            {"instance_id":"statue_1","template_id":"statue"}
          ]
        },
        "counter": {"items": []}
      }
    }
  },
  "players": {
    "u_1": {"current_location":"cafe","current_area":"spawn_zone_1"}
  }
}`

func newProcessor(t *testing.T) (*Processor, *state.Store) {
	t.Helper()
	tree, err := state.ParseTree([]byte(worldJSON))
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	store, err := state.NewStore(tree, nil, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	collectible := true
	notCollectible := false
	cat := &templates.Catalog{ByID: map[string]templates.Template{
		"bottle_joy": {
			ID: "bottle_joy", Kind: "ITEM", Name: "Bottle of Joy",
			Collectible: &collectible,
		},
		"statue": {ID: "statue", Kind: "ITEM", Name: "Marble Statue",
			Collectible: &notCollectible},
	}}
	builder := aoi.NewBuilder(store, templates.NewStore(cat))
	return NewProcessor(store, builder, nil), store
}

func envelope(t *testing.T, raw string) protocol.CommandEnvelope {
	t.Helper()
	var env protocol.CommandEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return env
}

func TestProcess_GoValidDestination(t *testing.T) {
	p, store := newProcessor(t)
	res := p.Process(context.Background(), "u_1",
		envelope(t, `{"type":"action","action":"go","destination":"counter"}`))
	if !res.Success {
		t.Fatalf("go failed: %+v", res)
	}
	store.Read(func(tr *state.Tree, _ uint64) {
		if got := tr.Players["u_1"].CurrentArea; got != "counter" {
			t.Fatalf("current_area = %q, want counter", got)
		}
	})
}

func TestProcess_GoAliasParam(t *testing.T) {
	p, _ := newProcessor(t)
	// "to" is an accepted alias for destination.
	res := p.Process(context.Background(), "u_1",
		envelope(t, `{"type":"action","action":"go","to":"counter"}`))
	if !res.Success {
		t.Fatalf("go with alias failed: %+v", res)
	}
}

func TestProcess_GoToCurrentAreaReportsNoChange(t *testing.T) {
	p, store := newProcessor(t)
	before := store.Version()
	res := p.Process(context.Background(), "u_1",
		envelope(t, `{"type":"action","action":"go","destination":"spawn_zone_1"}`))
	if !res.Success {
		t.Fatalf("go to current area failed: %+v", res)
	}
	if !strings.Contains(res.MessageToPlayer, "already") {
		t.Fatalf("message = %q", res.MessageToPlayer)
	}
	// Nothing moved, so no delta exists for clients to wait on; the result
	// must not advertise a state change either.
	if len(res.StateChanges) != 0 {
		t.Fatalf("no-op move reported state changes: %+v", res.StateChanges)
	}
	if store.Version() != before {
		t.Fatalf("no-op move bumped version")
	}
}

func TestProcess_GoInvalidDestinationListsAlternatives(t *testing.T) {
	p, store := newProcessor(t)
	before := store.Version()
	res := p.Process(context.Background(), "u_1",
		envelope(t, `{"type":"action","action":"go","destination":"kitchen"}`))
	if res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.ErrorCode != protocol.ErrBadRequest {
		t.Fatalf("error_code = %q", res.ErrorCode)
	}
	for _, area := range []string{"counter", "spawn_zone_1"} {
		if !strings.Contains(res.MessageToPlayer, area) {
			t.Fatalf("message %q does not list %s", res.MessageToPlayer, area)
		}
	}
	if store.Version() != before {
		t.Fatalf("failed command bumped version")
	}
}

func TestProcess_CollectMovesToInventory(t *testing.T) {
	p, store := newProcessor(t)
	res := p.Process(context.Background(), "u_1",
		envelope(t, `{"type":"action","action":"collect","item":"bottle_joy"}`))
	if !res.Success {
		t.Fatalf("collect failed: %+v", res)
	}
	store.Read(func(tr *state.Tree, _ uint64) {
		inv := tr.Players["u_1"].Inventory
		if len(inv) != 1 || inv[0].InstanceID != "bottle_joy" {
			t.Fatalf("inventory = %+v", inv)
		}
		if len(tr.Locations["cafe"].Areas["spawn_zone_1"].Items) != 1 {
			t.Fatalf("item not removed from area")
		}
	})
}

func TestProcess_CollectNotCollectible(t *testing.T) {
	p, _ := newProcessor(t)
	res := p.Process(context.Background(), "u_1",
		envelope(t, `{"type":"action","action":"take","item":"statue_1"}`))
	if res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.ErrorCode != protocol.ErrBadRequest {
		t.Fatalf("error_code = %q", res.ErrorCode)
	}
}

func TestProcess_CollectMissingItem(t *testing.T) {
	p, _ := newProcessor(t)
	res := p.Process(context.Background(), "u_1",
		envelope(t, `{"type":"action","action":"collect","item":"unicorn"}`))
	if res.Success || res.ErrorCode != protocol.ErrNotFound {
		t.Fatalf("got %+v", res)
	}
}

func TestProcess_UnknownActionWithoutFallback(t *testing.T) {
	p, _ := newProcessor(t)
	res := p.Process(context.Background(), "u_1",
		envelope(t, `{"type":"action","action":"dance"}`))
	if res.Success || res.ErrorCode != protocol.ErrNotSupported {
		t.Fatalf("got %+v", res)
	}
}

func TestProcess_WrongMessageType(t *testing.T) {
	p, _ := newProcessor(t)
	res := p.Process(context.Background(), "u_1",
		envelope(t, `{"type":"chat","action":"go","destination":"counter"}`))
	if res.Success || res.ErrorCode != protocol.ErrProtoBadRequest {
		t.Fatalf("got %+v", res)
	}
}

func TestProcess_FlexibleAppliesWrites(t *testing.T) {
	p, store := newProcessor(t)
	var seenArea string
	p.SetFlexible(FlexibleFunc(func(ctx context.Context, userID string, env protocol.CommandEnvelope, view aoi.View) (Interpretation, error) {
		seenArea = view.Area
		return Interpretation{
			Message: "The bottle shimmers.",
			Writes: []Write{{
				Path:  "locations.cafe.areas.spawn_zone_1.items[instance_id=bottle_joy].state.shimmer",
				Value: true,
			}},
		}, nil
	}), time.Second)

	res := p.Process(context.Background(), "u_1",
		envelope(t, `{"type":"action","action":"polish","item":"bottle_joy"}`))
	if !res.Success {
		t.Fatalf("flexible failed: %+v", res)
	}
	if res.MessageToPlayer != "The bottle shimmers." {
		t.Fatalf("message = %q", res.MessageToPlayer)
	}
	if seenArea != "spawn_zone_1" {
		t.Fatalf("interpreter saw area %q", seenArea)
	}
	got, err := store.Get("locations.cafe.areas.spawn_zone_1.items[instance_id=bottle_joy].state.shimmer")
	if err != nil || got != true {
		t.Fatalf("shimmer = %v, %v", got, err)
	}
}

func TestProcess_FlexibleRejectedWriteDiscardsWholeInterpretation(t *testing.T) {
	p, store := newProcessor(t)
	seed := "locations.cafe.areas.spawn_zone_1.items[instance_id=bottle_joy].state.glowing"
	if err := store.Set(seed, true); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before := store.Version()

	p.SetFlexible(FlexibleFunc(func(ctx context.Context, userID string, env protocol.CommandEnvelope, view aoi.View) (Interpretation, error) {
		return Interpretation{
			Message: "The bottle hums.",
			Writes: []Write{
				{Path: "locations.cafe.areas.spawn_zone_1.items[instance_id=bottle_joy].state.mood", Value: "calm"},
				{Path: seed, Value: "very"}, // string into a bool leaf
			},
		}, nil
	}), time.Second)

	res := p.Process(context.Background(), "u_1",
		envelope(t, `{"type":"action","action":"hum"}`))
	if res.Success || res.ErrorCode != protocol.ErrTypeMismatch {
		t.Fatalf("got %+v", res)
	}
	// The accepted first write must not survive the rejected second one.
	if _, err := store.Get("locations.cafe.areas.spawn_zone_1.items[instance_id=bottle_joy].state.mood"); err == nil {
		t.Fatalf("partial interpretation committed")
	}
	if v, _ := store.Get(seed); v != true {
		t.Fatalf("glowing = %v", v)
	}
	if store.Version() != before {
		t.Fatalf("rejected interpretation bumped version")
	}
}

func TestProcess_FlexibleTimeout(t *testing.T) {
	p, store := newProcessor(t)
	p.SetFlexible(FlexibleFunc(func(ctx context.Context, userID string, env protocol.CommandEnvelope, view aoi.View) (Interpretation, error) {
		<-ctx.Done()
		return Interpretation{}, ctx.Err()
	}), 20*time.Millisecond)

	before := store.Version()
	start := time.Now()
	res := p.Process(context.Background(), "u_1",
		envelope(t, `{"type":"action","action":"ponder"}`))
	if res.Success || res.ErrorCode != protocol.ErrTimeout {
		t.Fatalf("got %+v", res)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced")
	}
	// The interpreter never got to write anything.
	if store.Version() != before {
		t.Fatalf("timed-out command mutated state")
	}
}

func TestProcess_FlexibleNoWrites(t *testing.T) {
	p, store := newProcessor(t)
	p.SetFlexible(FlexibleFunc(func(ctx context.Context, userID string, env protocol.CommandEnvelope, view aoi.View) (Interpretation, error) {
		return Interpretation{Message: "Nothing happens."}, nil
	}), time.Second)

	before := store.Version()
	res := p.Process(context.Background(), "u_1",
		envelope(t, `{"type":"action","action":"hum"}`))
	if !res.Success || res.MessageToPlayer != "Nothing happens." {
		t.Fatalf("got %+v", res)
	}
	if store.Version() != before {
		t.Fatalf("no-write command bumped version")
	}
}

func TestProcess_LookListsVisibleEntities(t *testing.T) {
	p, _ := newProcessor(t)
	res := p.Process(context.Background(), "u_1",
		envelope(t, `{"type":"action","action":"look"}`))
	if !res.Success {
		t.Fatalf("look failed: %+v", res)
	}
	if !strings.Contains(res.MessageToPlayer, "Bottle of Joy") {
		t.Fatalf("message = %q", res.MessageToPlayer)
	}
}
