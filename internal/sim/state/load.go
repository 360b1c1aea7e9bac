package state

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadTree reads a world content file. Instance entries may be bare strings
// or full objects; both come out normalized. Map keys are authoritative for
// location/area ids and are copied onto the structs.
func LoadTree(path string) (*Tree, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTree(raw)
}

func ParseTree(raw []byte) (*Tree, error) {
	var t Tree
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	if t.Experience == "" {
		return nil, fmt.Errorf("world: missing experience id")
	}
	if t.Locations == nil {
		t.Locations = map[string]*Location{}
	}
	if t.Players == nil {
		t.Players = map[string]*PlayerView{}
	}
	for lid, l := range t.Locations {
		if l == nil {
			return nil, fmt.Errorf("world: null location %q", lid)
		}
		l.ID = lid
		if l.Areas == nil {
			l.Areas = map[string]*Area{}
		}
		for aid, a := range l.Areas {
			if a == nil {
				return nil, fmt.Errorf("world: null area %q in %q", aid, lid)
			}
			a.ID = aid
		}
	}
	for uid, p := range t.Players {
		if p == nil {
			return nil, fmt.Errorf("world: null player %q", uid)
		}
		p.UserID = uid
	}
	return &t, nil
}
