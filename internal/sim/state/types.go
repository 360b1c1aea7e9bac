package state

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Instance is a concrete in-world occurrence of a template. Fields left nil
// fall through to the template defaults when a view is built; present fields
// win. The degenerate bare-string form ("bottle_joy") is accepted anywhere an
// instance is ingested and normalizes to instance_id == template_id == value.
type Instance struct {
	InstanceID  string         `json:"instance_id"`
	TemplateID  string         `json:"template_id"`
	Visible     *bool          `json:"visible,omitempty"`
	Collectible *bool          `json:"collectible,omitempty"`
	State       map[string]any `json:"state,omitempty"`
}

func (in *Instance) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*in = Instance{InstanceID: s, TemplateID: s}
		return nil
	}
	type alias Instance
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*in = Instance(a)
	in.normalizeIDs()
	return nil
}

func (in *Instance) normalizeIDs() {
	if in.TemplateID == "" {
		in.TemplateID = in.InstanceID
	}
	if in.InstanceID == "" {
		in.InstanceID = in.TemplateID
	}
}

// Normalize converts any accepted instance representation (bare identifier
// string, decoded JSON object, or *Instance) into a typed *Instance. All
// ingestion boundaries go through this; downstream consumers only ever see
// the typed shape.
func Normalize(v any) (*Instance, error) {
	switch t := v.(type) {
	case *Instance:
		cp := *t
		cp.normalizeIDs()
		if cp.InstanceID == "" {
			return nil, fmt.Errorf("instance missing instance_id")
		}
		return &cp, nil
	case Instance:
		return Normalize(&t)
	case string:
		if t == "" {
			return nil, fmt.Errorf("empty instance identifier")
		}
		return &Instance{InstanceID: t, TemplateID: t}, nil
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		var in Instance
		if err := json.Unmarshal(b, &in); err != nil {
			return nil, err
		}
		if in.InstanceID == "" {
			return nil, fmt.Errorf("instance missing instance_id")
		}
		return &in, nil
	default:
		return nil, fmt.Errorf("unsupported instance form %T", v)
	}
}

// Clone returns a deep copy; views hand out copies so readers can never
// alias live store state.
func (in *Instance) Clone() *Instance {
	if in == nil {
		return nil
	}
	cp := *in
	if in.Visible != nil {
		v := *in.Visible
		cp.Visible = &v
	}
	if in.Collectible != nil {
		c := *in.Collectible
		cp.Collectible = &c
	}
	cp.State = cloneMap(in.State)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = cloneMap(sub)
			continue
		}
		out[k] = v
	}
	return out
}

func cloneInstances(list []*Instance) []*Instance {
	if list == nil {
		return nil
	}
	out := make([]*Instance, len(list))
	for i, in := range list {
		out[i] = in.Clone()
	}
	return out
}

// Area is the unit of player presence within a location.
type Area struct {
	ID    string      `json:"area_id"`
	Name  string      `json:"name,omitempty"`
	Items []*Instance `json:"items,omitempty"`
	NPCs  []*Instance `json:"npcs,omitempty"`
}

func (a *Area) Clone() *Area {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Items = cloneInstances(a.Items)
	cp.NPCs = cloneInstances(a.NPCs)
	return &cp
}

type Location struct {
	ID    string           `json:"location_id"`
	Name  string           `json:"name,omitempty"`
	Items []*Instance      `json:"items,omitempty"`
	Areas map[string]*Area `json:"areas"`
}

func (l *Location) Clone() *Location {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Items = cloneInstances(l.Items)
	if l.Areas != nil {
		cp.Areas = make(map[string]*Area, len(l.Areas))
		for id, a := range l.Areas {
			cp.Areas[id] = a.Clone()
		}
	}
	return &cp
}

// AreaIDs returns the location's area ids in stable order, for "valid
// destinations" messages.
func (l *Location) AreaIDs() []string {
	ids := make([]string, 0, len(l.Areas))
	for id := range l.Areas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PlayerView is per-user derived state, always synchronized from the global
// tree by the same mutation that touches it.
type PlayerView struct {
	UserID          string      `json:"user_id"`
	CurrentLocation string      `json:"current_location"`
	CurrentArea     string      `json:"current_area"`
	Inventory       []*Instance `json:"inventory,omitempty"`
}

func (p *PlayerView) Clone() *PlayerView {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Inventory = cloneInstances(p.Inventory)
	return &cp
}

// Tree is the authoritative state of one experience. There is exactly one
// Tree per experience and it is only reachable through Store.Mutate/Read.
type Tree struct {
	Experience string                 `json:"experience"`
	Locations  map[string]*Location   `json:"locations"`
	Players    map[string]*PlayerView `json:"players"`
}

func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Locations != nil {
		cp.Locations = make(map[string]*Location, len(t.Locations))
		for id, l := range t.Locations {
			cp.Locations[id] = l.Clone()
		}
	}
	if t.Players != nil {
		cp.Players = make(map[string]*PlayerView, len(t.Players))
		for id, p := range t.Players {
			cp.Players[id] = p.Clone()
		}
	}
	return &cp
}

func findInstance(list []*Instance, id string) int {
	for i, in := range list {
		if in != nil && in.InstanceID == id {
			return i
		}
	}
	return -1
}

func removeInstance(list []*Instance, idx int) []*Instance {
	return append(list[:idx], list[idx+1:]...)
}
