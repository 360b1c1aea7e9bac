package command

import "strings"

// Clients name the same parameter differently depending on which client (or
// which model) produced the command, so each logical parameter accepts a
// small set of aliases, checked in order.
var (
	destinationAliases = []string{"destination", "to", "area", "dest", "target_area"}
	itemAliases        = []string{"instance_id", "item", "object", "target", "item_id"}
)

// firstString returns the first alias present in params whose value is a
// non-empty string.
func firstString(params map[string]any, aliases []string) (string, bool) {
	for _, key := range aliases {
		v, ok := params[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s != "" {
			return s, true
		}
	}
	return "", false
}

func destinationParam(params map[string]any) (string, bool) {
	return firstString(params, destinationAliases)
}

func itemParam(params map[string]any) (string, bool) {
	return firstString(params, itemAliases)
}
