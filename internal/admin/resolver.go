package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"dreamfield.world/internal/persistence/backup"
	"dreamfield.world/internal/sim/state"
	"dreamfield.world/internal/sim/templates"
)

// Audit receives a record of every admin mutation. Reads are not audited.
type Audit interface {
	Record(entry AuditEntry)
}

type AuditEntry struct {
	Verb     string `json:"verb"`
	Path     string `json:"path"`
	Old      any    `json:"old,omitempty"`
	New      any    `json:"new,omitempty"`
	BackupID int64  `json:"backup_id,omitempty"`
}

// Resolver locates and mutates entities anywhere in the state tree by
// identifier, independent of nesting depth. All mutations go through the
// store's ordinary mutation entry point, so version bumps and delta
// publishing apply to admin edits exactly as to player commands.
type Resolver struct {
	store     *state.Store
	templates *templates.Store
	backups   *backup.Store
	audit     Audit
	logger    *log.Logger
}

func NewResolver(store *state.Store, tpl *templates.Store, backups *backup.Store, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{store: store, templates: tpl, backups: backups, logger: logger}
}

func (r *Resolver) SetAudit(a Audit) { r.audit = a }

func (r *Resolver) record(e AuditEntry) {
	if r.audit != nil {
		r.audit.Record(e)
	}
}

// Find locates an entity by type and identifier. Instance search order:
// location-level items, then area items and NPCs across all locations, then
// player inventories; first match wins. Write-time uniqueness of instance_id
// means the order only decides how fast we find it, never which one.
func (r *Resolver) Find(typ, id string) (path string, entity any, err error) {
	switch typ {
	case "player":
		r.store.Read(func(t *state.Tree, _ uint64) {
			if p, ok := t.Players[id]; ok {
				path = "players." + id
				entity = detachJSON(p)
			}
		})
	case "location":
		r.store.Read(func(t *state.Tree, _ uint64) {
			if loc, ok := t.Locations[id]; ok {
				path = "locations." + id
				entity = detachJSON(loc)
			}
		})
	case "area":
		r.store.Read(func(t *state.Tree, _ uint64) {
			for _, lid := range sortedKeys(t.Locations) {
				if a, ok := t.Locations[lid].Areas[id]; ok {
					path = fmt.Sprintf("locations.%s.areas.%s", lid, id)
					entity = detachJSON(a)
					return
				}
			}
		})
	case "item", "npc", "instance", "":
		path, entity = r.findInstance(typ, id)
	default:
		return "", nil, fmt.Errorf("unknown entity type %q", typ)
	}
	if path == "" {
		return "", nil, fmt.Errorf("%s %q: %w", orInstance(typ), id, state.ErrNotFound)
	}
	return path, entity, nil
}

func orInstance(typ string) string {
	if typ == "" {
		return "instance"
	}
	return typ
}

func (r *Resolver) findInstance(typ, id string) (path string, entity any) {
	match := func(list []*state.Instance, base string) bool {
		for _, in := range list {
			if in.InstanceID == id {
				path = fmt.Sprintf("%s[instance_id=%s]", base, id)
				entity = in.Clone()
				return true
			}
		}
		return false
	}
	r.store.Read(func(t *state.Tree, _ uint64) {
		lids := sortedKeys(t.Locations)
		if typ != "npc" {
			for _, lid := range lids {
				if match(t.Locations[lid].Items, fmt.Sprintf("locations.%s.items", lid)) {
					return
				}
			}
		}
		for _, lid := range lids {
			loc := t.Locations[lid]
			for _, aid := range loc.AreaIDs() {
				base := fmt.Sprintf("locations.%s.areas.%s", lid, aid)
				if typ != "npc" && match(loc.Areas[aid].Items, base+".items") {
					return
				}
				if typ != "item" && match(loc.Areas[aid].NPCs, base+".npcs") {
					return
				}
			}
		}
		if typ != "npc" {
			for _, uid := range sortedKeys(t.Players) {
				if match(t.Players[uid].Inventory, fmt.Sprintf("players.%s.inventory", uid)) {
					return
				}
			}
		}
	})
	return path, entity
}

// Where reports the container path that holds an instance.
func (r *Resolver) Where(instanceID string) (string, bool) {
	return r.store.ContainerOf(instanceID)
}

// Edit sets one property under path. The write is rejected with a
// TypeMismatchError (original value unchanged) when the value's kind differs
// from the existing one.
func (r *Resolver) Edit(path, property string, value any) (old any, err error) {
	full := path
	if property != "" {
		full = path + "." + property
	}
	_, err = r.store.Mutate(func(tx *state.Tx) error {
		var serr error
		old, serr = tx.Set(full, value)
		return serr
	})
	if err != nil {
		return nil, err
	}
	r.record(AuditEntry{Verb: "edit", Path: full, Old: old, New: value})
	return old, nil
}

// DeleteResult is what Delete reports. Without confirmation the call is
// side-effect-free and NeedsConfirmation carries a preview of what would be
// removed.
type DeleteResult struct {
	NeedsConfirmation bool
	Path              string
	Container         string
	Value             any
	Backup            backup.Backup
}

// Delete removes the subtree at path. Unconfirmed calls mutate nothing and
// return a preview; confirmed calls write a recoverable backup first.
func (r *Resolver) Delete(path string, confirm bool) (DeleteResult, error) {
	value, err := r.store.Get(path)
	if err != nil {
		return DeleteResult{}, err
	}
	container, err := ContainerPath(path)
	if err != nil {
		return DeleteResult{}, err
	}
	res := DeleteResult{Path: path, Container: container, Value: value}

	if !confirm {
		res.NeedsConfirmation = true
		return res, nil
	}
	if r.backups == nil {
		// No backup, no delete.
		return DeleteResult{}, fmt.Errorf("delete %s: no backup store configured", path)
	}

	// Backing up inside the removing mutation means the backup always holds
	// exactly what is removed, even if another writer touched the path after
	// the preview. A failed backup write aborts the mutation.
	_, err = r.store.Mutate(func(tx *state.Tx) error {
		removed, rerr := tx.Remove(path)
		if rerr != nil {
			return rerr
		}
		b, werr := r.backups.Write(path, removed)
		if werr != nil {
			return fmt.Errorf("backup before delete: %w", werr)
		}
		res.Value = removed
		res.Backup = b
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	r.record(AuditEntry{Verb: "delete", Path: path, Old: res.Value, BackupID: res.Backup.ID})
	return res, nil
}

// Create adds a new instance of an existing template to a container list
// (for example "locations.cafe.areas.counter.items").
func (r *Resolver) Create(templateID, instanceID, container string) (string, error) {
	if container == "" {
		return "", fmt.Errorf("@create needs a container, e.g. in locations.cafe.areas.counter.items")
	}
	if r.templates != nil {
		if _, ok := r.templates.Lookup(templateID); !ok {
			return "", fmt.Errorf("template %q: %w", templateID, state.ErrNotFound)
		}
	}
	in := &state.Instance{InstanceID: instanceID, TemplateID: templateID}
	_, err := r.store.Mutate(func(tx *state.Tx) error {
		_, aerr := tx.AddInstance(container, in)
		return aerr
	})
	if err != nil {
		return "", err
	}
	path := fmt.Sprintf("%s[instance_id=%s]", container, instanceID)
	r.record(AuditEntry{Verb: "create", Path: path, New: in.Clone()})
	return path, nil
}

// List enumerates identifiers of one entity type.
func (r *Resolver) List(typ string) ([]string, error) {
	var out []string
	switch typ {
	case "locations":
		r.store.Read(func(t *state.Tree, _ uint64) { out = sortedKeys(t.Locations) })
	case "players":
		r.store.Read(func(t *state.Tree, _ uint64) { out = sortedKeys(t.Players) })
	case "areas":
		r.store.Read(func(t *state.Tree, _ uint64) {
			for _, lid := range sortedKeys(t.Locations) {
				for _, aid := range t.Locations[lid].AreaIDs() {
					out = append(out, lid+"."+aid)
				}
			}
		})
	case "items", "npcs":
		r.store.Read(func(t *state.Tree, _ uint64) {
			collect := func(list []*state.Instance) {
				for _, in := range list {
					out = append(out, in.InstanceID)
				}
			}
			for _, lid := range sortedKeys(t.Locations) {
				loc := t.Locations[lid]
				if typ == "items" {
					collect(loc.Items)
				}
				for _, aid := range loc.AreaIDs() {
					if typ == "items" {
						collect(loc.Areas[aid].Items)
					} else {
						collect(loc.Areas[aid].NPCs)
					}
				}
			}
			if typ == "items" {
				for _, uid := range sortedKeys(t.Players) {
					collect(t.Players[uid].Inventory)
				}
			}
		})
		sort.Strings(out)
	case "templates":
		if r.templates == nil {
			return nil, fmt.Errorf("no template catalog loaded")
		}
		out = append(out, r.templates.Current().IDs...)
	default:
		return nil, fmt.Errorf("unknown list type %q", typ)
	}
	return out, nil
}

// Execute parses and runs one admin line, returning an operator-readable
// reply.
func (r *Resolver) Execute(line string) (string, error) {
	cmd, err := Parse(line)
	if err != nil {
		return "", err
	}

	switch cmd.Verb {
	case VerbExamine:
		path, entity, err := r.Find(cmd.Type, cmd.ID)
		if err != nil {
			return "", err
		}
		body, _ := json.MarshalIndent(entity, "", "  ")
		return fmt.Sprintf("%s\n%s", path, body), nil

	case VerbWhere:
		container, ok := r.Where(cmd.ID)
		if !ok {
			return "", fmt.Errorf("instance %q: %w", cmd.ID, state.ErrNotFound)
		}
		return container, nil

	case VerbEdit:
		path, _, err := r.Find(cmd.Type, cmd.ID)
		if err != nil {
			return "", err
		}
		old, err := r.Edit(path, cmd.Property, cmd.Value)
		if err != nil {
			var tm *state.TypeMismatchError
			if errors.As(err, &tm) {
				return "", fmt.Errorf("%w\n%s", err, TypeMismatchHelp(cmd, tm))
			}
			return "", err
		}
		return fmt.Sprintf("%s.%s: %v -> %v", path, cmd.Property, old, cmd.Value), nil

	case VerbCreate:
		path, err := r.Create(cmd.Type, cmd.ID, cmd.Container)
		if err != nil {
			return "", err
		}
		return "created " + path, nil

	case VerbDelete:
		path, _, err := r.Find(cmd.Type, cmd.ID)
		if err != nil {
			return "", err
		}
		res, err := r.Delete(path, cmd.Confirm)
		if err != nil {
			return "", err
		}
		if res.NeedsConfirmation {
			body, _ := json.Marshal(res.Value)
			return fmt.Sprintf("would delete %s (in %s): %s\nre-run with CONFIRM to apply",
				res.Path, res.Container, body), nil
		}
		return fmt.Sprintf("deleted %s (backup %d)", res.Path, res.Backup.ID), nil

	case VerbList:
		ids, err := r.List(cmd.Type)
		if err != nil {
			return "", err
		}
		return strings.Join(ids, "\n"), nil
	}
	return "", fmt.Errorf("unhandled verb %v", cmd.Verb)
}

// TypeMismatchHelp shows an example of a correctly typed call for a rejected
// edit.
func TypeMismatchHelp(cmd Command, tm *state.TypeMismatchError) string {
	example := exampleLiteral(tm.Current)
	return fmt.Sprintf("current value is %v; try: @edit %s %s %s %s",
		tm.Current, cmd.Type, cmd.ID, cmd.Property, example)
}

func exampleLiteral(current any) string {
	switch current.(type) {
	case bool:
		return "true"
	case string:
		return `"text"`
	case float64, int, int64:
		return "42"
	case map[string]any:
		return `{"key":"value"}`
	}
	return `"value"`
}

// ContainerPath strips the final selector or segment: the container of
// "a.b.items[instance_id=x]" is "a.b.items"; of "a.b.c" it is "a.b".
func ContainerPath(path string) (string, error) {
	segs, err := state.ParsePath(path)
	if err != nil {
		return "", err
	}
	last := segs[len(segs)-1]
	parts := make([]string, 0, len(segs))
	for _, s := range segs[:len(segs)-1] {
		parts = append(parts, s.String())
	}
	if last.SelField != "" {
		parts = append(parts, last.Key)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("path %q has no container", path)
	}
	return strings.Join(parts, "."), nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// detachJSON deep-copies an entity through its JSON form so callers never
// hold a pointer into the live tree.
func detachJSON(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if json.Unmarshal(b, &out) != nil {
		return nil
	}
	return out
}
