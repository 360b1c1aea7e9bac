// Package admin is the operator surface: a small textual command language
// (@examine, @edit, @where, @create, @delete, @list-*) parsed into a typed
// AST, and a resolver that locates and mutates entities anywhere in the
// state tree by identifier.
package admin

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Verb int

const (
	VerbExamine Verb = iota + 1
	VerbEdit
	VerbWhere
	VerbCreate
	VerbDelete
	VerbList
)

func (v Verb) String() string {
	switch v {
	case VerbExamine:
		return "examine"
	case VerbEdit:
		return "edit"
	case VerbWhere:
		return "where"
	case VerbCreate:
		return "create"
	case VerbDelete:
		return "delete"
	case VerbList:
		return "list"
	}
	return "unknown"
}

// Command is the parsed form of one admin line. Which fields are set depends
// on the verb; Parse guarantees the required ones are present.
type Command struct {
	Verb      Verb
	Type      string // entity type (examine/delete/list) or template id (create)
	ID        string
	Property  string // edit: dotted property path relative to the entity
	Value     any    // edit: type-inferred literal
	Container string // create: optional "in <container.path>"
	Confirm   bool   // delete: trailing CONFIRM
}

// Parse recognizes one admin line. Unknown verbs and missing arguments are
// errors; execution problems (entity not found etc.) are the resolver's job.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "@") {
		return Command{}, fmt.Errorf("admin commands start with @")
	}
	fields := strings.Fields(line)
	verb := fields[0]

	if rest, ok := strings.CutPrefix(verb, "@list-"); ok {
		if rest == "" {
			return Command{}, fmt.Errorf("@list- needs a type, e.g. @list-items")
		}
		if len(fields) > 1 {
			return Command{}, fmt.Errorf("@list-%s takes no arguments", rest)
		}
		return Command{Verb: VerbList, Type: strings.TrimSuffix(rest, "s") + "s"}, nil
	}

	switch verb {
	case "@examine":
		if len(fields) != 3 {
			return Command{}, fmt.Errorf("usage: @examine <type> <id>")
		}
		return Command{Verb: VerbExamine, Type: fields[1], ID: fields[2]}, nil

	case "@where":
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("usage: @where <instance_id>")
		}
		return Command{Verb: VerbWhere, ID: fields[1]}, nil

	case "@edit":
		if len(fields) < 5 {
			return Command{}, fmt.Errorf("usage: @edit <type> <id> <dotted.property> <value>")
		}
		// The value is the remainder of the line so JSON object literals may
		// contain spaces.
		rest := line
		for i := 0; i < 4; i++ {
			rest = strings.TrimSpace(rest)
			if cut := strings.IndexAny(rest, " \t"); cut >= 0 {
				rest = rest[cut:]
			}
		}
		return Command{
			Verb:     VerbEdit,
			Type:     fields[1],
			ID:       fields[2],
			Property: fields[3],
			Value:    InferLiteral(strings.TrimSpace(rest)),
		}, nil

	case "@create":
		// @create <template> <instance_id> [in <container.path>]
		if len(fields) < 3 {
			return Command{}, fmt.Errorf("usage: @create <template> <instance_id> [in <container.path>]")
		}
		cmd := Command{Verb: VerbCreate, Type: fields[1], ID: fields[2]}
		rest := fields[3:]
		if len(rest) > 0 {
			if len(rest) != 2 || rest[0] != "in" {
				return Command{}, fmt.Errorf("usage: @create <template> <instance_id> [in <container.path>]")
			}
			cmd.Container = rest[1]
		}
		return cmd, nil

	case "@delete":
		if len(fields) < 3 || len(fields) > 4 {
			return Command{}, fmt.Errorf("usage: @delete <type> <id> [CONFIRM]")
		}
		cmd := Command{Verb: VerbDelete, Type: fields[1], ID: fields[2]}
		if len(fields) == 4 {
			if fields[3] != "CONFIRM" {
				return Command{}, fmt.Errorf("trailing argument must be CONFIRM")
			}
			cmd.Confirm = true
		}
		return cmd, nil
	}
	return Command{}, fmt.Errorf("unknown admin verb %q", verb)
}

// InferLiteral maps a textual literal onto its typed value: true/false to
// bool, numeric literals to int64/float64, a JSON object literal to a map,
// anything else (optionally double-quoted) to a string.
func InferLiteral(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if strings.HasPrefix(raw, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			return m
		}
	}
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return s
		}
	}
	return raw
}
