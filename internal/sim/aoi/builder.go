package aoi

import (
	"dreamfield.world/internal/sim/state"
	"dreamfield.world/internal/sim/templates"
)

// Entity is a template/instance merge: template defaults underneath,
// instance overrides on top. This is the only shape clients ever see.
type Entity struct {
	InstanceID  string         `json:"instance_id"`
	TemplateID  string         `json:"template_id"`
	Kind        string         `json:"kind,omitempty"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Visible     bool           `json:"visible"`
	Collectible bool           `json:"collectible"`
	State       map[string]any `json:"state,omitempty"`
}

// View is the player-scoped visible-state snapshot. Version seeds the
// client's base_version for subsequent deltas.
type View struct {
	UserID     string   `json:"user_id"`
	Experience string   `json:"experience"`
	Location   string   `json:"current_location"`
	Area       string   `json:"current_area"`
	Version    uint64   `json:"snapshot_version"`
	Entities   []Entity `json:"entities"`
	Inventory  []Entity `json:"inventory"`
}

type Builder struct {
	store     *state.Store
	templates *templates.Store
}

func NewBuilder(store *state.Store, tpl *templates.Store) *Builder {
	return &Builder{store: store, templates: tpl}
}

// Build derives the area-of-interest snapshot for one player. It never
// mutates state; it reads under the store lock so it sees either fully-old or
// fully-new state relative to any in-flight mutation. Instances with
// visible=false are dropped unless the caller holds admin capability.
func (b *Builder) Build(userID string, admin bool) (View, error) {
	var view View
	var buildErr error

	b.store.Read(func(t *state.Tree, version uint64) {
		p, ok := t.Players[userID]
		if !ok {
			buildErr = state.ErrNotFound
			return
		}
		view = View{
			UserID:     userID,
			Experience: t.Experience,
			Location:   p.CurrentLocation,
			Area:       p.CurrentArea,
			Version:    version,
			Entities:   []Entity{},
			Inventory:  []Entity{},
		}

		if loc := t.Locations[p.CurrentLocation]; loc != nil {
			if area := loc.Areas[p.CurrentArea]; area != nil {
				for _, in := range area.Items {
					if e, ok := b.merge(in, admin); ok {
						view.Entities = append(view.Entities, e)
					}
				}
				for _, in := range area.NPCs {
					if e, ok := b.merge(in, admin); ok {
						view.Entities = append(view.Entities, e)
					}
				}
			}
		}
		for _, in := range p.Inventory {
			// The owner always sees their own inventory.
			if e, ok := b.merge(in, true); ok {
				view.Inventory = append(view.Inventory, e)
			}
		}
	})

	if buildErr != nil {
		return View{}, buildErr
	}
	return view, nil
}

// merge layers instance overrides over template defaults, normalizing first
// so a degenerate bare-identifier instance merges identically to the
// equivalent full object.
func (b *Builder) merge(raw any, includeHidden bool) (Entity, bool) {
	in, err := state.Normalize(raw)
	if err != nil {
		return Entity{}, false
	}

	e := Entity{
		InstanceID: in.InstanceID,
		TemplateID: in.TemplateID,
		Visible:    true,
	}
	if tpl, ok := b.templates.Lookup(in.TemplateID); ok {
		e.Kind = tpl.Kind
		e.Name = tpl.Name
		e.Description = tpl.Description
		if tpl.Visible != nil {
			e.Visible = *tpl.Visible
		}
		if tpl.Collectible != nil {
			e.Collectible = *tpl.Collectible
		}
		if tpl.State != nil {
			e.State = map[string]any{}
			for k, v := range tpl.State {
				e.State[k] = v
			}
		}
	}

	if in.Visible != nil {
		e.Visible = *in.Visible
	}
	if in.Collectible != nil {
		e.Collectible = *in.Collectible
	}
	for k, v := range in.State {
		if e.State == nil {
			e.State = map[string]any{}
		}
		e.State[k] = v
	}

	if !e.Visible && !includeHidden {
		return Entity{}, false
	}
	return e, true
}
