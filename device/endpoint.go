package device

import (
	"fmt"
	"sync"

	"github.com/ardnew/softgadget/device/hal"
	"github.com/ardnew/softgadget/pkg"
)

// Endpoint transfer types (USB 2.0 Spec Table 9-13).
const (
	EndpointTypeControl     = 0x00 // Control transfer
	EndpointTypeIsochronous = 0x01 // Isochronous transfer
	EndpointTypeBulk        = 0x02 // Bulk transfer
	EndpointTypeInterrupt   = 0x03 // Interrupt transfer
)

// Endpoint directions.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// EndpointState is the lifecycle state of an endpoint handle.
type EndpointState uint8

// Endpoint states.
const (
	EndpointUnbound  EndpointState = iota // Not claimed, or released to the pool
	EndpointDisabled                      // Claimed, hardware inactive
	EndpointEnabled                       // Hardware active
)

// String returns a human-readable state name.
func (s EndpointState) String() string {
	switch s {
	case EndpointUnbound:
		return "Unbound"
	case EndpointDisabled:
		return "Bound-Disabled"
	case EndpointEnabled:
		return "Enabled"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Endpoint is a handle to a physical controller endpoint claimed from an
// EndpointPool.
//
// A handle is created by EndpointPool.Autoconfig in the Bound-Disabled
// state. Before it can be enabled, the composite selects the descriptor for
// the negotiated speed (Configuration.ConfigEndpointBySpeed). Releasing the
// handle to the pool moves it to Unbound permanently; a later claim of the
// same physical endpoint yields a new handle.
type Endpoint struct {
	caps    hal.EndpointCaps
	udc     hal.UDC
	address uint8
	xfer    uint8

	state EndpointState
	desc  *EndpointDescriptor
	comp  *SSEndpointCompanionDescriptor

	// Runtime state
	stalled    bool
	dataToggle bool

	mutex sync.Mutex
}

// Name returns the controller's name for the physical endpoint.
func (e *Endpoint) Name() string {
	return e.caps.Name
}

// Address returns the endpoint address including direction.
func (e *Endpoint) Address() uint8 {
	return e.address
}

// Number returns the endpoint number (0-15).
func (e *Endpoint) Number() uint8 {
	return e.address & 0x0F
}

// Direction returns the endpoint direction (EndpointDirectionIn or EndpointDirectionOut).
func (e *Endpoint) Direction() uint8 {
	return e.address & 0x80
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *Endpoint) IsIn() bool {
	return e.Direction() == EndpointDirectionIn
}

// IsOut returns true if this is an OUT endpoint (host to device).
func (e *Endpoint) IsOut() bool {
	return e.Direction() == EndpointDirectionOut
}

// TransferType returns the transfer type the endpoint was claimed for.
func (e *Endpoint) TransferType() uint8 {
	return e.xfer
}

// IsBulk returns true if this is a bulk endpoint.
func (e *Endpoint) IsBulk() bool {
	return e.xfer == EndpointTypeBulk
}

// State returns the lifecycle state of the handle.
func (e *Endpoint) State() EndpointState {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.state
}

// IsEnabled returns true if the endpoint is enabled.
func (e *Endpoint) IsEnabled() bool {
	return e.State() == EndpointEnabled
}

// Descriptor returns a copy of the descriptor selected for the current
// speed, or nil if none was selected.
func (e *Endpoint) Descriptor() *EndpointDescriptor {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.desc == nil {
		return nil
	}
	d := *e.desc
	return &d
}

// Companion returns a copy of the selected SuperSpeed companion, or nil.
func (e *Endpoint) Companion() *SSEndpointCompanionDescriptor {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.comp == nil {
		return nil
	}
	c := *e.comp
	return &c
}

// MaxPacketSize returns wMaxPacketSize of the selected descriptor.
func (e *Endpoint) MaxPacketSize() uint16 {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.desc == nil {
		return 0
	}
	return e.desc.MaxPacketSize
}

// configure selects the descriptor and companion used by the next Enable.
func (e *Endpoint) configure(desc *EndpointDescriptor, comp *SSEndpointCompanionDescriptor) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.state == EndpointUnbound {
		return pkg.ErrInvalidEndpoint
	}
	if desc.EndpointAddress != e.address {
		return fmt.Errorf("descriptor 0x%02X for endpoint 0x%02X: %w",
			desc.EndpointAddress, e.address, pkg.ErrInvalidParameter)
	}
	d := *desc
	e.desc = &d
	e.comp = nil
	if comp != nil {
		c := *comp
		e.comp = &c
	}
	return nil
}

// Enable activates the endpoint in hardware using the selected descriptor.
// Stall and data toggle are reset.
func (e *Endpoint) Enable() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	switch e.state {
	case EndpointUnbound:
		return pkg.ErrInvalidEndpoint
	case EndpointEnabled:
		return fmt.Errorf("%s: %w", e.caps.Name, pkg.ErrEndpointBusy)
	}
	if e.desc == nil {
		return fmt.Errorf("%s: %w", e.caps.Name, pkg.ErrSpeedConfigMismatch)
	}

	cfg := hal.EndpointConfig{
		Address:       e.desc.EndpointAddress,
		Attributes:    e.desc.Attributes,
		MaxPacketSize: e.desc.MaxPacketSize,
		Interval:      e.desc.Interval,
	}
	if e.comp != nil {
		cfg.MaxBurst = e.comp.MaxBurst
		cfg.CompAttributes = e.comp.Attributes
		cfg.BytesPerInterval = e.comp.BytesPerInterval
	}
	if err := e.udc.EnableEndpoint(cfg); err != nil {
		return fmt.Errorf("%s: %w", e.caps.Name, err)
	}

	e.state = EndpointEnabled
	e.stalled = false
	e.dataToggle = false

	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint enabled",
		"name", e.caps.Name,
		"address", fmt.Sprintf("0x%02X", e.address),
		"maxPacket", cfg.MaxPacketSize)
	return nil
}

// Disable deactivates the endpoint. Disabling an endpoint that is not
// enabled does nothing. The handle is Bound-Disabled afterwards even if the
// hardware reported an error, which is returned for the caller to log.
func (e *Endpoint) Disable() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	switch e.state {
	case EndpointUnbound:
		return pkg.ErrInvalidEndpoint
	case EndpointDisabled:
		return nil
	}

	e.state = EndpointDisabled
	e.stalled = false
	e.dataToggle = false

	if err := e.udc.DisableEndpoint(e.address); err != nil {
		return fmt.Errorf("%s: %w", e.caps.Name, err)
	}

	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint disabled",
		"name", e.caps.Name,
		"address", fmt.Sprintf("0x%02X", e.address))
	return nil
}

// unbind invalidates the handle. Called by the pool on release.
func (e *Endpoint) unbind() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.state = EndpointUnbound
	e.desc = nil
	e.comp = nil
	e.udc = nil
}

// SetStall sets or clears the halt condition.
func (e *Endpoint) SetStall(stalled bool) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.state != EndpointEnabled {
		return pkg.ErrEndpointDisabled
	}
	e.stalled = stalled
	if !stalled {
		// CLEAR_FEATURE(ENDPOINT_HALT) always resets the toggle.
		e.dataToggle = false
	}
	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint halt changed",
		"address", fmt.Sprintf("0x%02X", e.address),
		"stalled", stalled)
	return nil
}

// IsStalled returns true if the endpoint is halted.
func (e *Endpoint) IsStalled() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.stalled
}

// DataToggle returns the current data toggle state.
func (e *Endpoint) DataToggle() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.dataToggle
}

// ToggleData flips the data toggle state.
func (e *Endpoint) ToggleData() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.dataToggle = !e.dataToggle
}

// TransferTypeName returns a human-readable transfer type name.
func TransferTypeName(t uint8) string {
	switch t & 0x03 {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	default:
		return "Interrupt"
	}
}

// DirectionName returns a human-readable direction name.
func DirectionName(dir uint8) string {
	if dir&EndpointDirectionIn != 0 {
		return "IN"
	}
	return "OUT"
}
