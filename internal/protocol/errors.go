package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Command layer.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrNotFound     = "E_NOT_FOUND"
	ErrNotSupported = "E_NOT_SUPPORTED"
	ErrTimeout      = "E_TIMEOUT"

	// Admin/state layer.
	ErrTypeMismatch      = "E_TYPE_MISMATCH"
	ErrConflict          = "E_CONFLICT"
	ErrNeedsConfirmation = "E_NEEDS_CONFIRMATION"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrBadRequest:        {},
	ErrNotFound:          {},
	ErrNotSupported:      {},
	ErrTimeout:           {},
	ErrTypeMismatch:      {},
	ErrConflict:          {},
	ErrNeedsConfirmation: {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
