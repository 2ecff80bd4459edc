package stream

import "errors"

var (
	// Binding errors. Endpoint construction fails as a whole on any of these.
	ErrBadPattern       = errors.New("stream: invalid command pattern")
	ErrMissingMember    = errors.New("stream: member not found on device or interface")
	ErrDuplicatePattern = errors.New("stream: pattern bound to multiple commands")
	ErrArityMismatch    = errors.New("stream: argument mapping count does not match capture groups")
	ErrNoPatterns       = errors.New("stream: property command defines neither read nor write pattern")

	// Dispatch errors. Routed to the endpoint error hook, never past it.
	ErrNoCommandMatched = errors.New("stream: no command matched")
	ErrCommandPanic     = errors.New("stream: command invocation panicked")

	// Configuration errors.
	ErrUnknownOption    = errors.New("stream: unknown endpoint option")
	ErrBadOptionValue   = errors.New("stream: invalid endpoint option value")
	ErrEndpointStopped  = errors.New("stream: endpoint is not running")
	ErrAlreadyListening = errors.New("stream: endpoint is already running")
)
