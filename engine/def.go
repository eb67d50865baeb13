package engine

import "errors"

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004

var (
	ErrEngineNotLoaded     = errors.New("onnxruntime environment not initialized")
	ErrNotRegistered       = errors.New("session not registered")
	ErrModelNotLoaded      = errors.New("model not loaded")
	ErrModelNotFound       = errors.New("model file not found")
	ErrProviderUnavailable = errors.New("execution provider unavailable")
	ErrBadModel            = errors.New("unsupported model signature")
)

// Options controls how a Session is built. Execution providers are tried in
// a fixed order; see providerTable.
type Options struct {
	Threads     int
	DeviceID    int
	UseTensorRT bool
	UseCUDA     bool
	UseDirectML bool
	UseCoreML   bool
	// Strict turns a provider that fails to attach into a hard error
	// instead of a fallback.
	Strict bool
}

func StateName(state int) string {
	switch state {
	case UNREGISTERED:
		return "unregistered"
	case REGISTERED:
		return "registered"
	case IDLE:
		return "idle"
	case BUSY:
		return "busy"
	default:
		return "unknown"
	}
}
