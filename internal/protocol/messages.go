package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	UserID          string `json:"user_id"`
	Experience      string `json:"experience"`
	Admin           bool   `json:"admin,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	UserID          string `json:"user_id"`
	Experience      string `json:"experience"`
	SnapshotVersion uint64 `json:"snapshot_version"`
	TemplatesDigest string `json:"templates_digest,omitempty"`
}

// RESYNC (client -> server): the client's stream looks stale and it wants a
// full snapshot.
type ResyncMsg struct {
	Type        string `json:"type"`
	BaseVersion uint64 `json:"base_version"`
}

// ADMIN (client -> server): one line of the operator mini-language. Only
// accepted on connections that declared admin in HELLO.
type AdminMsg struct {
	Type string `json:"type"`
	Line string `json:"line"`
}

type AdminResultMsg struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Output    string `json:"output,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// CommandEnvelope is the inbound player command:
//
//	{"type":"action","action":"go","destination":"counter"}
//
// Everything besides type/action is an open parameter mapping; handlers
// resolve their own aliases out of Params.
type CommandEnvelope struct {
	Type   string
	Action string
	Params map[string]any
}

func (e *CommandEnvelope) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.Type, _ = raw["type"].(string)
	e.Action, _ = raw["action"].(string)
	delete(raw, "type")
	delete(raw, "action")
	e.Params = raw
	return nil
}

func (e CommandEnvelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Params)+2)
	for k, v := range e.Params {
		out[k] = v
	}
	out["type"] = e.Type
	out["action"] = e.Action
	return json.Marshal(out)
}

// CommandResult is the uniform handler output for both the fast and the
// flexible command paths.
type CommandResult struct {
	Success         bool           `json:"success"`
	MessageToPlayer string         `json:"message_to_player"`
	StateChanges    map[string]any `json:"state_changes,omitempty"`
	ErrorCode       string         `json:"error_code,omitempty"`
}

func Failure(code, msg string) CommandResult {
	return CommandResult{Success: false, MessageToPlayer: msg, ErrorCode: code}
}
