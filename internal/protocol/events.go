package protocol

// BroadcastScope addresses every connected client of an experience instead of
// a single user.
const BroadcastScope = "all"

// Change is one entry of a WorldUpdateEvent change list.
type Change struct {
	Path      string `json:"path"`
	Operation string `json:"operation"` // add | remove | update
	Entity    any    `json:"entity,omitempty"`
}

// WorldUpdateEvent is the versioned delta published on the bus after every
// successful mutation. BaseVersion is the version the diff was computed
// against; SnapshotVersion is the version it produces. A client whose last
// seen version does not match BaseVersion has missed a delta and must request
// a fresh AOI snapshot; partial catch-up is not supported.
type WorldUpdateEvent struct {
	Type            string   `json:"type"`
	Version         string   `json:"version"`
	Experience      string   `json:"experience"`
	UserID          string   `json:"user_id"`
	BaseVersion     uint64   `json:"base_version"`
	SnapshotVersion uint64   `json:"snapshot_version"`
	Changes         []Change `json:"changes"`
	Timestamp       int64    `json:"timestamp"` // epoch millis
}
