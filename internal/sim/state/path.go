package state

import (
	"fmt"
	"strings"
)

// Seg is one segment of a dotted path. A segment may carry a predicate
// selector ("items[instance_id=bottle_1]") that picks an instance out of a
// list without knowing its positional index.
type Seg struct {
	Key      string
	SelField string
	SelValue string
}

func (s Seg) String() string {
	if s.SelField == "" {
		return s.Key
	}
	return fmt.Sprintf("%s[%s=%s]", s.Key, s.SelField, s.SelValue)
}

// ParsePath splits a dotted path into segments. Dots inside selector brackets
// do not split.
func ParsePath(p string) ([]Seg, error) {
	if strings.TrimSpace(p) == "" {
		return nil, fmt.Errorf("empty path")
	}
	var segs []Seg
	var cur strings.Builder
	depth := 0
	flush := func() error {
		raw := cur.String()
		cur.Reset()
		if raw == "" {
			return fmt.Errorf("path %q: empty segment", p)
		}
		seg, err := parseSeg(raw)
		if err != nil {
			return fmt.Errorf("path %q: %w", p, err)
		}
		segs = append(segs, seg)
		return nil
	}
	for _, r := range p {
		switch r {
		case '[':
			depth++
			cur.WriteRune(r)
		case ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("path %q: unbalanced ]", p)
			}
			cur.WriteRune(r)
		case '.':
			if depth > 0 {
				cur.WriteRune(r)
				continue
			}
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			cur.WriteRune(r)
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("path %q: unbalanced [", p)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return segs, nil
}

func parseSeg(raw string) (Seg, error) {
	open := strings.IndexByte(raw, '[')
	if open < 0 {
		return Seg{Key: raw}, nil
	}
	if !strings.HasSuffix(raw, "]") {
		return Seg{}, fmt.Errorf("segment %q: malformed selector", raw)
	}
	inner := raw[open+1 : len(raw)-1]
	eq := strings.IndexByte(inner, '=')
	if eq <= 0 {
		return Seg{}, fmt.Errorf("segment %q: selector must be field=value", raw)
	}
	return Seg{
		Key:      raw[:open],
		SelField: inner[:eq],
		SelValue: inner[eq+1:],
	}, nil
}

func joinSegs(segs []Seg) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// child resolves one segment against a node of the tree.
func child(v any, seg Seg) (any, error) {
	next, err := childByKey(v, seg.Key)
	if err != nil {
		return nil, err
	}
	if seg.SelField == "" {
		return next, nil
	}
	list, ok := next.([]*Instance)
	if !ok {
		return nil, notFoundf("selector %s on non-list %T", seg.String(), next)
	}
	for _, in := range list {
		if in == nil {
			continue
		}
		switch seg.SelField {
		case "instance_id":
			if in.InstanceID == seg.SelValue {
				return in, nil
			}
		case "template_id":
			if in.TemplateID == seg.SelValue {
				return in, nil
			}
		default:
			return nil, fmt.Errorf("unsupported selector field %q", seg.SelField)
		}
	}
	return nil, notFoundf("no instance matching %s", seg.String())
}

func childByKey(v any, key string) (any, error) {
	switch t := v.(type) {
	case *Tree:
		switch key {
		case "experience":
			return t.Experience, nil
		case "locations":
			return t.Locations, nil
		case "players":
			return t.Players, nil
		}
		return nil, notFoundf("tree has no %q", key)
	case map[string]*Location:
		if l, ok := t[key]; ok {
			return l, nil
		}
		return nil, notFoundf("location %q", key)
	case *Location:
		switch key {
		case "name":
			return t.Name, nil
		case "items":
			return t.Items, nil
		case "areas":
			return t.Areas, nil
		}
		return nil, notFoundf("location has no %q", key)
	case map[string]*Area:
		if a, ok := t[key]; ok {
			return a, nil
		}
		return nil, notFoundf("area %q", key)
	case *Area:
		switch key {
		case "name":
			return t.Name, nil
		case "items":
			return t.Items, nil
		case "npcs":
			return t.NPCs, nil
		}
		return nil, notFoundf("area has no %q", key)
	case map[string]*PlayerView:
		if p, ok := t[key]; ok {
			return p, nil
		}
		return nil, notFoundf("player %q", key)
	case *PlayerView:
		switch key {
		case "user_id":
			return t.UserID, nil
		case "current_location":
			return t.CurrentLocation, nil
		case "current_area":
			return t.CurrentArea, nil
		case "inventory":
			return t.Inventory, nil
		}
		return nil, notFoundf("player has no %q", key)
	case *Instance:
		switch key {
		case "instance_id":
			return t.InstanceID, nil
		case "template_id":
			return t.TemplateID, nil
		case "visible":
			if t.Visible == nil {
				return nil, notFoundf("visible unset on %q", t.InstanceID)
			}
			return *t.Visible, nil
		case "collectible":
			if t.Collectible == nil {
				return nil, notFoundf("collectible unset on %q", t.InstanceID)
			}
			return *t.Collectible, nil
		case "state":
			if t.State == nil {
				return nil, notFoundf("state unset on %q", t.InstanceID)
			}
			return t.State, nil
		}
		return nil, notFoundf("instance has no %q", key)
	case map[string]any:
		if sub, ok := t[key]; ok {
			return sub, nil
		}
		return nil, notFoundf("key %q", key)
	default:
		return nil, notFoundf("cannot descend into %T via %q", v, key)
	}
}

func resolve(root any, segs []Seg) (any, error) {
	cur := root
	for _, seg := range segs {
		next, err := child(cur, seg)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// kindOf buckets a value into the primitive kinds used for write-time type
// inference: boolean, number, string, object, array, null.
func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, float32, int, int64, int32, uint64:
		return "number"
	case map[string]any:
		return "object"
	case []any, []*Instance, []string:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// setAt writes value at the path, enforcing kind compatibility with any
// existing value. Missing intermediate state maps on instances are allocated.
func setAt(root any, segs []Seg, value any) (old any, err error) {
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	parentSegs, last := segs[:len(segs)-1], segs[len(segs)-1]
	cur := root
	for i, seg := range parentSegs {
		// Allocate instance state maps on demand so the first write to
		// state.X does not fail with NotFound.
		if in, ok := cur.(*Instance); ok && seg.Key == "state" && seg.SelField == "" {
			if in.State == nil {
				in.State = map[string]any{}
			}
			cur = in.State
			continue
		}
		next, err := child(cur, seg)
		if err != nil {
			return nil, fmt.Errorf("at %s: %w", joinSegs(segs[:i+1]), err)
		}
		cur = next
	}
	return setLeaf(cur, last, joinSegs(segs), value)
}

func setLeaf(parent any, seg Seg, fullPath string, value any) (old any, err error) {
	if seg.SelField != "" {
		return nil, fmt.Errorf("cannot assign to selector path %s", fullPath)
	}
	switch t := parent.(type) {
	case map[string]any:
		existing, had := t[seg.Key]
		if had && kindOf(existing) != kindOf(value) {
			return nil, &TypeMismatchError{Path: fullPath, Current: existing, Given: value}
		}
		t[seg.Key] = value
		return existing, nil
	case *Instance:
		switch seg.Key {
		case "visible", "collectible":
			b, ok := value.(bool)
			if !ok {
				var cur any
				if seg.Key == "visible" && t.Visible != nil {
					cur = *t.Visible
				}
				if seg.Key == "collectible" && t.Collectible != nil {
					cur = *t.Collectible
				}
				return nil, &TypeMismatchError{Path: fullPath, Current: cur, Given: value}
			}
			if seg.Key == "visible" {
				if t.Visible != nil {
					old = *t.Visible
				}
				t.Visible = &b
			} else {
				if t.Collectible != nil {
					old = *t.Collectible
				}
				t.Collectible = &b
			}
			return old, nil
		case "state":
			m, ok := value.(map[string]any)
			if !ok {
				return nil, &TypeMismatchError{Path: fullPath, Current: t.State, Given: value}
			}
			old = t.State
			t.State = m
			return old, nil
		}
		return nil, fmt.Errorf("instance field %q is not assignable", seg.Key)
	case *PlayerView:
		s, ok := value.(string)
		if !ok {
			return nil, &TypeMismatchError{Path: fullPath, Current: "", Given: value}
		}
		switch seg.Key {
		case "current_location":
			old = t.CurrentLocation
			t.CurrentLocation = s
			return old, nil
		case "current_area":
			old = t.CurrentArea
			t.CurrentArea = s
			return old, nil
		}
		return nil, fmt.Errorf("player field %q is not assignable", seg.Key)
	case *Area:
		if seg.Key == "name" {
			s, ok := value.(string)
			if !ok {
				return nil, &TypeMismatchError{Path: fullPath, Current: t.Name, Given: value}
			}
			old = t.Name
			t.Name = s
			return old, nil
		}
		return nil, fmt.Errorf("area field %q is not assignable", seg.Key)
	case *Location:
		if seg.Key == "name" {
			s, ok := value.(string)
			if !ok {
				return nil, &TypeMismatchError{Path: fullPath, Current: t.Name, Given: value}
			}
			old = t.Name
			t.Name = s
			return old, nil
		}
		return nil, fmt.Errorf("location field %q is not assignable", seg.Key)
	default:
		return nil, fmt.Errorf("cannot assign %s on %T", fullPath, parent)
	}
}

// removeAt deletes the entity addressed by the path and returns it.
func removeAt(root any, segs []Seg) (removed any, err error) {
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	parentSegs, last := segs[:len(segs)-1], segs[len(segs)-1]
	parent, err := resolve(root, parentSegs)
	if err != nil {
		return nil, err
	}

	if last.SelField != "" {
		list, err := childByKey(parent, last.Key)
		if err != nil {
			return nil, err
		}
		insts, ok := list.([]*Instance)
		if !ok {
			return nil, notFoundf("selector %s on non-list %T", last.String(), list)
		}
		idx := -1
		for i, in := range insts {
			if in == nil {
				continue
			}
			if last.SelField == "instance_id" && in.InstanceID == last.SelValue {
				idx = i
				break
			}
			if last.SelField == "template_id" && in.TemplateID == last.SelValue {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, notFoundf("no instance matching %s", last.String())
		}
		removed = insts[idx]
		trimmed := removeInstance(insts, idx)
		return removed, putInstanceList(parent, last.Key, trimmed)
	}

	switch t := parent.(type) {
	case map[string]*Location:
		l, ok := t[last.Key]
		if !ok {
			return nil, notFoundf("location %q", last.Key)
		}
		delete(t, last.Key)
		return l, nil
	case map[string]*Area:
		a, ok := t[last.Key]
		if !ok {
			return nil, notFoundf("area %q", last.Key)
		}
		delete(t, last.Key)
		return a, nil
	case map[string]*PlayerView:
		p, ok := t[last.Key]
		if !ok {
			return nil, notFoundf("player %q", last.Key)
		}
		delete(t, last.Key)
		return p, nil
	case map[string]any:
		v, ok := t[last.Key]
		if !ok {
			return nil, notFoundf("key %q", last.Key)
		}
		delete(t, last.Key)
		return v, nil
	default:
		return nil, fmt.Errorf("cannot remove %s from %T", last.String(), parent)
	}
}

func putInstanceList(parent any, key string, list []*Instance) error {
	switch t := parent.(type) {
	case *Area:
		switch key {
		case "items":
			t.Items = list
		case "npcs":
			t.NPCs = list
		default:
			return fmt.Errorf("area has no instance list %q", key)
		}
	case *Location:
		if key != "items" {
			return fmt.Errorf("location has no instance list %q", key)
		}
		t.Items = list
	case *PlayerView:
		if key != "inventory" {
			return fmt.Errorf("player has no instance list %q", key)
		}
		t.Inventory = list
	default:
		return fmt.Errorf("cannot hold instance list: %T", parent)
	}
	return nil
}
