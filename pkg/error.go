package pkg

import "errors"

// Function binding errors.
var (
	// ErrResourceUnavailable indicates the controller has no free endpoint
	// matching a requested template.
	ErrResourceUnavailable = errors.New("endpoint resource unavailable")

	// ErrInterfaceIDExhausted indicates the configuration has no free
	// interface number.
	ErrInterfaceIDExhausted = errors.New("interface id exhausted")

	// ErrStringIDExhausted indicates the composite device has no free
	// string descriptor index.
	ErrStringIDExhausted = errors.New("string id exhausted")

	// ErrSpeedConfigMismatch indicates no descriptor exists for an endpoint
	// at the negotiated link speed.
	ErrSpeedConfigMismatch = errors.New("no descriptor for negotiated speed")
)

// Endpoint errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrEndpointBusy indicates the endpoint is already enabled.
	ErrEndpointBusy = errors.New("endpoint already enabled")

	// ErrEndpointDisabled indicates the endpoint is not enabled.
	ErrEndpointDisabled = errors.New("endpoint not enabled")

	// ErrInvalidEndpoint indicates an invalid or released endpoint.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)

// Request and state errors.
var (
	// ErrNotConfigured indicates the device is not configured.
	ErrNotConfigured = errors.New("device not configured")

	// ErrInvalidState indicates an invalid state for the operation.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidRequest indicates an invalid request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotSupported indicates an unsupported request or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrNoMemory indicates a fixed-size table is full.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// Control pipe errors.
var (
	// ErrAlreadyRunning indicates the stack is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the stack is not running.
	ErrNotRunning = errors.New("not running")

	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")
)

// Descriptor parsing errors.
var (
	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")
)

// Outcome is the result of offering a control request to a function.
type Outcome int

// Control request outcomes.
const (
	OutcomeHandled     Outcome = iota // Request accepted, data stage follows
	OutcomeUnsupported                // Not handled; the composite stalls EP0
	OutcomeError                      // Handler failed
)

// String returns a string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeHandled:
		return "handled"
	case OutcomeUnsupported:
		return "unsupported"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// OutcomeOf classifies the error returned by a setup handler.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeHandled
	case errors.Is(err, ErrNotSupported):
		return OutcomeUnsupported
	default:
		return OutcomeError
	}
}
