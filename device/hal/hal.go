package hal

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ardnew/softgadget/pkg"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants.
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
	SpeedSuper                // SuperSpeed (5 Gbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	case SpeedSuper:
		return "Super Speed"
	default:
		return "Unknown"
	}
}

// ParseSpeed parses a speed name as used in gadget configuration files
// ("low", "full", "high", "super").
func ParseSpeed(s string) (Speed, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "low-speed":
		return SpeedLow, nil
	case "full", "full-speed":
		return SpeedFull, nil
	case "high", "high-speed":
		return SpeedHigh, nil
	case "super", "super-speed":
		return SpeedSuper, nil
	default:
		return SpeedUnknown, fmt.Errorf("speed %q: %w", s, pkg.ErrInvalidParameter)
	}
}

// EndpointConfig describes an endpoint configuration for the HAL.
// It is the flattened form of an endpoint descriptor plus its SuperSpeed
// companion, handed to the controller when an endpoint is enabled.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size (0 = controller default)
	Interval      uint8  // Polling interval for interrupt/isochronous

	// SuperSpeed companion
	MaxBurst         uint8
	CompAttributes   uint8
	BytesPerInterval uint16
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type (control, bulk, interrupt, isochronous).
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// Transfer type capability bits for EndpointCaps.Types.
const (
	TypeControl     uint8 = 1 << 0
	TypeIsochronous uint8 = 1 << 1
	TypeBulk        uint8 = 1 << 2
	TypeInterrupt   uint8 = 1 << 3

	TypeAll = TypeIsochronous | TypeBulk | TypeInterrupt
)

// TypeBit returns the capability bit for a transfer type (bmAttributes & 0x03).
func TypeBit(transferType uint8) uint8 {
	return 1 << (transferType & 0x03)
}

// EndpointCaps describes a physical endpoint offered by a controller.
type EndpointCaps struct {
	Name           string // Controller name, e.g. "ep1in-bulk"
	Number         uint8  // Endpoint number (1-15)
	In             bool   // Supports device-to-host
	Out            bool   // Supports host-to-device
	Types          uint8  // Supported transfer types (Type* bits)
	MaxPacketLimit uint16 // Largest packet the hardware FIFO accepts
}

// Supports reports whether the endpoint can serve the given direction and
// transfer type.
func (c *EndpointCaps) Supports(in bool, transferType uint8) bool {
	if in && !c.In || !in && !c.Out {
		return false
	}
	return c.Types&TypeBit(transferType) != 0
}

// ParseEndpointName parses a controller endpoint name in the form used by
// Linux device controllers: "ep<N>[in|out][-bulk|-iso|-int]". An endpoint
// with no direction suffix supports both directions; one with no type suffix
// supports every non-control type. The packet limit is left at zero.
func ParseEndpointName(name string) (EndpointCaps, error) {
	caps := EndpointCaps{Name: name}
	rest, ok := strings.CutPrefix(name, "ep")
	if !ok {
		return caps, fmt.Errorf("endpoint %q: %w", name, pkg.ErrInvalidParameter)
	}

	typ := ""
	if i := strings.IndexByte(rest, '-'); i >= 0 {
		rest, typ = rest[:i], rest[i+1:]
	}

	switch {
	case strings.HasSuffix(rest, "in"):
		caps.In, rest = true, strings.TrimSuffix(rest, "in")
	case strings.HasSuffix(rest, "out"):
		caps.Out, rest = true, strings.TrimSuffix(rest, "out")
	default:
		caps.In, caps.Out = true, true
	}

	num, err := strconv.ParseUint(rest, 10, 8)
	if err != nil || num == 0 || num > 15 {
		return caps, fmt.Errorf("endpoint %q: number: %w", name, pkg.ErrInvalidParameter)
	}
	caps.Number = uint8(num)

	switch typ {
	case "":
		caps.Types = TypeAll
	case "bulk":
		caps.Types = TypeBulk
	case "iso":
		caps.Types = TypeIsochronous
	case "int":
		caps.Types = TypeInterrupt
	default:
		return caps, fmt.Errorf("endpoint %q: type %q: %w", name, typ, pkg.ErrInvalidParameter)
	}
	return caps, nil
}

// UDC is the USB device controller interface consumed by the composite
// device.
//
// It covers what a function needs from hardware during its lifecycle:
// discovering the physical endpoints, activating and deactivating them, and
// reporting the negotiated link speed. Enable and disable run from
// composite callbacks and must not block.
type UDC interface {
	// Name returns the controller name.
	Name() string

	// Endpoints returns the physical data endpoints (EP0 excluded).
	Endpoints() []EndpointCaps

	// EnableEndpoint activates an endpoint with the given configuration.
	EnableEndpoint(cfg EndpointConfig) error

	// DisableEndpoint deactivates an endpoint, dropping any queued transfers
	// and resetting its data toggle.
	DisableEndpoint(address uint8) error

	// Speed returns the negotiated link speed.
	Speed() Speed

	// MaxSpeed returns the fastest speed the controller supports.
	MaxSpeed() Speed
}

// SetupPacket represents a USB SETUP packet in the HAL layer.
// This is a fixed-size, zero-allocation structure for SETUP transactions.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// ControlPipe is the control endpoint (EP0) of a device controller.
//
// A controller that exposes it can be driven by device.Stack, which reads
// SETUP packets and completes each control transfer.
type ControlPipe interface {
	// ReadSetup reads a SETUP packet from EP0.
	// Blocks until a SETUP packet is available or the context is cancelled.
	// Returns pkg.ErrReset when the host resets the bus instead.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// WriteEP0 writes data to EP0 (control IN phase).
	WriteEP0(ctx context.Context, data []byte) error

	// ReadEP0 reads data from EP0 (control OUT phase, or the status stage
	// of an IN transfer when buf is empty).
	// Returns the number of bytes read into buf.
	ReadEP0(ctx context.Context, buf []byte) (int, error)

	// StallEP0 stalls the control endpoint to indicate an error.
	StallEP0() error

	// AckEP0 sends a zero-length packet to acknowledge a successful
	// control OUT transfer.
	AckEP0() error
}
