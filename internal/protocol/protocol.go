package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello       = "HELLO"
	TypeWelcome     = "WELCOME"
	TypeAction      = "action"
	TypeResult      = "RESULT"
	TypeWorldUpdate = "world_update"
	TypeSnapshot    = "aoi_snapshot"
	TypeResync      = "resync"
	TypeAdmin       = "admin"
	TypeAdminResult = "admin_result"
)

// Change operations inside a WorldUpdateEvent.
const (
	OpAdd    = "add"
	OpRemove = "remove"
	OpUpdate = "update"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
