package state

import (
	"fmt"
	"sort"
	"strings"

	"dreamfield.world/internal/protocol"
)

// Tx is the exclusive, serialized view of the store handed to Mutate
// callbacks. Helpers write into a private copy of the tree that only commits
// when the callback returns nil, so a callback that fails after a successful
// write leaves the published state untouched. Every write records a protocol
// change for the delta event.
type Tx struct {
	tree    *Tree
	index   map[string]string
	changes []protocol.Change
	scopes  []string
}

func (tx *Tx) Tree() *Tree { return tx.tree }

func (tx *Tx) record(c protocol.Change, scope string) {
	tx.changes = append(tx.changes, c)
	tx.scopes = append(tx.scopes, scope)
}

// scope collapses per-change scopes: a mutation touching exactly one player's
// view targets that user, anything else broadcasts.
func (tx *Tx) scope() string {
	out := ""
	for _, sc := range tx.scopes {
		if sc == protocol.BroadcastScope {
			return protocol.BroadcastScope
		}
		if out == "" {
			out = sc
			continue
		}
		if out != sc {
			return protocol.BroadcastScope
		}
	}
	if out == "" {
		return protocol.BroadcastScope
	}
	return out
}

func scopeForPath(segs []Seg) string {
	if len(segs) >= 2 && segs[0].Key == "players" {
		return segs[1].Key
	}
	return protocol.BroadcastScope
}

// Set writes one leaf value, enforcing kind compatibility with any existing
// value at the path.
func (tx *Tx) Set(path string, value any) (old any, err error) {
	segs, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	old, err = setAt(tx.tree, segs, value)
	if err != nil {
		return nil, err
	}
	tx.record(protocol.Change{Path: path, Operation: protocol.OpUpdate, Entity: value}, scopeForPath(segs))
	return old, nil
}

// Remove deletes the entity addressed by the path and returns it. Index
// entries for any instances inside the removed subtree are dropped.
func (tx *Tx) Remove(path string) (removed any, err error) {
	segs, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	removed, err = removeAt(tx.tree, segs)
	if err != nil {
		return nil, err
	}
	for _, id := range instanceIDsIn(removed) {
		delete(tx.index, id)
	}
	tx.record(protocol.Change{Path: path, Operation: protocol.OpRemove}, scopeForPath(segs))
	return removed, nil
}

// AddInstance normalizes v (bare string or object form) and appends it to the
// instance list at containerPath. Duplicate instance_ids anywhere in the
// experience are rejected before anything is written.
func (tx *Tx) AddInstance(containerPath string, v any) (*Instance, error) {
	in, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	if prev, dup := tx.index[in.InstanceID]; dup {
		return nil, &ConflictError{InstanceID: in.InstanceID, ExistingPath: prev}
	}
	segs, err := ParsePath(containerPath)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 || segs[len(segs)-1].SelField != "" {
		return nil, fmt.Errorf("container path %q must address an instance list", containerPath)
	}
	parent, err := resolve(tx.tree, segs[:len(segs)-1])
	if err != nil {
		return nil, err
	}
	list, err := childByKey(parent, segs[len(segs)-1].Key)
	if err != nil {
		return nil, err
	}
	insts, ok := list.([]*Instance)
	if !ok {
		return nil, fmt.Errorf("%q is not an instance list", containerPath)
	}
	if err := putInstanceList(parent, segs[len(segs)-1].Key, append(insts, in)); err != nil {
		return nil, err
	}
	tx.index[in.InstanceID] = containerPath
	tx.record(protocol.Change{
		Path:      fmt.Sprintf("%s[instance_id=%s]", containerPath, in.InstanceID),
		Operation: protocol.OpAdd,
		Entity:    in.Clone(),
	}, scopeForPath(segs))
	return in, nil
}

// MovePlayer updates the player's current area after validating the
// destination against the player's current location. On an unknown
// destination the error lists the valid alternatives and nothing changes.
func (tx *Tx) MovePlayer(userID, destArea string) error {
	p, ok := tx.tree.Players[userID]
	if !ok {
		return notFoundf("player %q", userID)
	}
	loc, ok := tx.tree.Locations[p.CurrentLocation]
	if !ok {
		return notFoundf("location %q", p.CurrentLocation)
	}
	if _, ok := loc.Areas[destArea]; !ok {
		return &UnknownDestinationError{Destination: destArea, Valid: loc.AreaIDs()}
	}
	old := p.CurrentArea
	if old == destArea {
		return nil
	}
	p.CurrentArea = destArea
	tx.record(protocol.Change{
		Path:      fmt.Sprintf("players.%s.current_area", userID),
		Operation: protocol.OpUpdate,
		Entity:    destArea,
	}, userID)
	return nil
}

// CollectItem moves an instance from the player's current area into their
// inventory. The global removal and the inventory addition are two changes of
// the same mutation, so clients always see them together.
func (tx *Tx) CollectItem(userID, instanceID string) (*Instance, error) {
	p, ok := tx.tree.Players[userID]
	if !ok {
		return nil, notFoundf("player %q", userID)
	}
	loc, ok := tx.tree.Locations[p.CurrentLocation]
	if !ok {
		return nil, notFoundf("location %q", p.CurrentLocation)
	}
	area, ok := loc.Areas[p.CurrentArea]
	if !ok {
		return nil, notFoundf("area %q", p.CurrentArea)
	}
	idx := findInstance(area.Items, instanceID)
	if idx < 0 {
		return nil, notFoundf("instance %q in area %q", instanceID, p.CurrentArea)
	}
	in := area.Items[idx]
	area.Items = removeInstance(area.Items, idx)

	invPath := fmt.Sprintf("players.%s.inventory", userID)
	p.Inventory = append(p.Inventory, in)
	tx.index[instanceID] = invPath

	areaItems := fmt.Sprintf("locations.%s.areas.%s.items", loc.ID, area.ID)
	tx.record(protocol.Change{
		Path:      fmt.Sprintf("%s[instance_id=%s]", areaItems, instanceID),
		Operation: protocol.OpRemove,
	}, protocol.BroadcastScope)
	tx.record(protocol.Change{
		Path:      fmt.Sprintf("%s[instance_id=%s]", invPath, instanceID),
		Operation: protocol.OpAdd,
		Entity:    in.Clone(),
	}, userID)
	return in, nil
}

// EnsurePlayer creates an empty view for a first-time user at the given
// spawn point.
func (tx *Tx) EnsurePlayer(userID, locationID, areaID string) (*PlayerView, error) {
	if p, ok := tx.tree.Players[userID]; ok {
		return p, nil
	}
	loc, ok := tx.tree.Locations[locationID]
	if !ok {
		return nil, notFoundf("location %q", locationID)
	}
	if _, ok := loc.Areas[areaID]; !ok {
		return nil, &UnknownDestinationError{Destination: areaID, Valid: loc.AreaIDs()}
	}
	p := &PlayerView{UserID: userID, CurrentLocation: locationID, CurrentArea: areaID}
	tx.tree.Players[userID] = p
	tx.record(protocol.Change{
		Path:      fmt.Sprintf("players.%s", userID),
		Operation: protocol.OpAdd,
		Entity:    p,
	}, userID)
	return p, nil
}

// UnknownDestinationError carries the valid alternatives so handlers can
// surface an actionable message instead of a bare failure.
type UnknownDestinationError struct {
	Destination string
	Valid       []string
}

func (e *UnknownDestinationError) Error() string {
	return fmt.Sprintf("unknown destination %q; valid areas: %s",
		e.Destination, strings.Join(e.Valid, ", "))
}

func instanceIDsIn(v any) []string {
	var out []string
	switch t := v.(type) {
	case *Instance:
		out = append(out, t.InstanceID)
	case []*Instance:
		for _, in := range t {
			if in != nil {
				out = append(out, in.InstanceID)
			}
		}
	case *Area:
		out = append(out, instanceIDsIn(t.Items)...)
		out = append(out, instanceIDsIn(t.NPCs)...)
	case *Location:
		out = append(out, instanceIDsIn(t.Items)...)
		keys := make([]string, 0, len(t.Areas))
		for k := range t.Areas {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, instanceIDsIn(t.Areas[k])...)
		}
	case *PlayerView:
		out = append(out, instanceIDsIn(t.Inventory)...)
	}
	return out
}
