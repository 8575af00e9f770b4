package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// World routing/state.
	ErrWorldBusy     = "E_WORLD_BUSY"
	ErrWorldNotFound = "E_WORLD_NOT_FOUND"
	ErrWorldDenied   = "E_WORLD_DENIED"
	ErrWorldCooldown = "E_WORLD_COOLDOWN"

	// Rule/action layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrConflict      = "E_CONFLICT"
	ErrBlocked       = "E_BLOCKED"
	ErrStale         = "E_STALE"
	ErrInternal      = "E_INTERNAL"
)

// codeClass groups codes by whether resending the same request can succeed.
var codeClass = map[string]bool{
	ErrProtoBadRequest: false,
	ErrWorldBusy:       true,
	ErrWorldNotFound:   false,
	ErrWorldDenied:     false,
	ErrWorldCooldown:   true,
	ErrBadRequest:      false,
	ErrNoPermission:    false,
	ErrNoResource:      false,
	ErrInvalidTarget:   false,
	ErrRateLimit:       true,
	ErrConflict:        true,
	ErrBlocked:         false,
	ErrStale:           true,
	ErrInternal:        false,
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := codeClass[code]
	return ok
}

// IsRetryable reports whether a rejected request may succeed when resent
// against a newer observation tick.
func IsRetryable(code string) bool {
	return codeClass[code]
}
