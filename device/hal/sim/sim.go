package sim

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ardnew/softgadget/device/hal"
	"github.com/ardnew/softgadget/pkg"
)

// DefaultEndpoints is the endpoint layout used when none is configured.
// It resembles a small dual-role controller: two bulk pairs, an interrupt
// pair and two endpoints of either direction.
var DefaultEndpoints = []string{
	"ep1in-bulk",
	"ep2out-bulk",
	"ep3in-int",
	"ep4out-int",
	"ep5in-bulk",
	"ep6out-bulk",
	"ep7",
	"ep8",
}

// DefaultPacketLimit is the FIFO size of every simulated endpoint.
const DefaultPacketLimit = 1024

// UDC implements hal.UDC and hal.ControlPipe entirely in memory.
// It records every enable and disable so tests can observe the endpoint
// lifecycle, and lets tests inject hardware failures per endpoint.
type UDC struct {
	name string
	id   string

	caps []hal.EndpointCaps

	speed    hal.Speed
	maxSpeed hal.Speed

	enabled      map[uint8]hal.EndpointConfig
	enableCount  map[uint8]int
	disableCount map[uint8]int
	enableErr    map[uint8]error
	disableErr   map[uint8]error

	mutex sync.RWMutex

	// Control pipe
	setupCh chan *transaction
	resetCh chan struct{}
	current *transaction
	txMutex sync.Mutex
}

// Option configures a simulated controller.
type Option func(*options)

type options struct {
	name        string
	endpoints   []string
	speed       hal.Speed
	maxSpeed    hal.Speed
	packetLimit uint16
}

// WithName sets the controller name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithEndpoints sets the physical endpoint layout using controller endpoint
// names (see hal.ParseEndpointName).
func WithEndpoints(names ...string) Option {
	return func(o *options) { o.endpoints = names }
}

// WithSpeed sets the negotiated link speed.
func WithSpeed(s hal.Speed) Option {
	return func(o *options) { o.speed = s }
}

// WithMaxSpeed sets the fastest speed the controller supports.
func WithMaxSpeed(s hal.Speed) Option {
	return func(o *options) { o.maxSpeed = s }
}

// WithPacketLimit sets the FIFO size of every endpoint.
func WithPacketLimit(limit uint16) Option {
	return func(o *options) { o.packetLimit = limit }
}

// New creates a simulated controller.
// By default it negotiates full speed, supports super speed, and offers
// DefaultEndpoints.
func New(opts ...Option) (*UDC, error) {
	o := options{
		name:        "sim",
		endpoints:   DefaultEndpoints,
		speed:       hal.SpeedFull,
		maxSpeed:    hal.SpeedSuper,
		packetLimit: DefaultPacketLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.speed > o.maxSpeed {
		return nil, fmt.Errorf("speed %s above controller maximum %s: %w",
			o.speed, o.maxSpeed, pkg.ErrInvalidParameter)
	}

	u := &UDC{
		name:         o.name,
		id:           uuid.New().String(),
		speed:        o.speed,
		maxSpeed:     o.maxSpeed,
		enabled:      make(map[uint8]hal.EndpointConfig),
		enableCount:  make(map[uint8]int),
		disableCount: make(map[uint8]int),
		enableErr:    make(map[uint8]error),
		disableErr:   make(map[uint8]error),
		setupCh:      make(chan *transaction),
		resetCh:      make(chan struct{}),
	}

	seen := make(map[uint8]bool, len(o.endpoints))
	for _, name := range o.endpoints {
		caps, err := hal.ParseEndpointName(name)
		if err != nil {
			return nil, err
		}
		if seen[caps.Number] {
			return nil, fmt.Errorf("endpoint %q: duplicate number %d: %w",
				name, caps.Number, pkg.ErrInvalidParameter)
		}
		seen[caps.Number] = true
		caps.MaxPacketLimit = o.packetLimit
		u.caps = append(u.caps, caps)
	}

	pkg.LogDebug(pkg.ComponentHAL, "simulated controller created",
		"name", u.name,
		"id", u.id,
		"endpoints", len(u.caps),
		"speed", u.speed.String())

	return u, nil
}

// Name returns the controller name.
func (u *UDC) Name() string {
	return u.name
}

// ID returns the unique instance identifier of this controller.
func (u *UDC) ID() string {
	return u.id
}

// Endpoints returns the physical endpoints.
func (u *UDC) Endpoints() []hal.EndpointCaps {
	out := make([]hal.EndpointCaps, len(u.caps))
	copy(out, u.caps)
	return out
}

// lookup returns the physical endpoint for address, or nil.
func (u *UDC) lookup(address uint8) *hal.EndpointCaps {
	num := address & 0x0F
	for i := range u.caps {
		if u.caps[i].Number == num {
			return &u.caps[i]
		}
	}
	return nil
}

// EnableEndpoint activates an endpoint.
func (u *UDC) EnableEndpoint(cfg hal.EndpointConfig) error {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	caps := u.lookup(cfg.Address)
	if caps == nil || !caps.Supports(cfg.IsIn(), cfg.TransferType()) {
		return fmt.Errorf("enable 0x%02X: %w", cfg.Address, pkg.ErrInvalidEndpoint)
	}
	if err := u.enableErr[cfg.Address]; err != nil {
		return err
	}
	if _, ok := u.enabled[cfg.Address]; ok {
		return fmt.Errorf("enable 0x%02X: %w", cfg.Address, pkg.ErrEndpointBusy)
	}
	if cfg.MaxPacketSize > caps.MaxPacketLimit {
		return fmt.Errorf("enable 0x%02X: max packet %d above limit %d: %w",
			cfg.Address, cfg.MaxPacketSize, caps.MaxPacketLimit, pkg.ErrInvalidParameter)
	}

	// A zero max packet size means the controller default for the link.
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = defaultPacketSize(u.speed, cfg.TransferType())
	}

	u.enabled[cfg.Address] = cfg
	u.enableCount[cfg.Address]++

	pkg.LogDebug(pkg.ComponentHAL, "endpoint enabled",
		"udc", u.name,
		"address", fmt.Sprintf("0x%02X", cfg.Address),
		"maxPacket", cfg.MaxPacketSize,
		"maxBurst", cfg.MaxBurst)
	return nil
}

// DisableEndpoint deactivates an endpoint.
func (u *UDC) DisableEndpoint(address uint8) error {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if u.lookup(address) == nil {
		return fmt.Errorf("disable 0x%02X: %w", address, pkg.ErrInvalidEndpoint)
	}
	if err := u.disableErr[address]; err != nil {
		// The hardware still stops the endpoint, it just reports trouble.
		delete(u.enabled, address)
		return err
	}
	if _, ok := u.enabled[address]; !ok {
		return fmt.Errorf("disable 0x%02X: %w", address, pkg.ErrEndpointDisabled)
	}
	delete(u.enabled, address)
	u.disableCount[address]++

	pkg.LogDebug(pkg.ComponentHAL, "endpoint disabled",
		"udc", u.name,
		"address", fmt.Sprintf("0x%02X", address))
	return nil
}

// Speed returns the negotiated link speed.
func (u *UDC) Speed() hal.Speed {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.speed
}

// MaxSpeed returns the fastest supported speed.
func (u *UDC) MaxSpeed() hal.Speed {
	return u.maxSpeed
}

// SetSpeed changes the negotiated link speed, as after a bus reset.
func (u *UDC) SetSpeed(s hal.Speed) error {
	if s > u.maxSpeed {
		return fmt.Errorf("speed %s: %w", s, pkg.ErrInvalidParameter)
	}
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.speed = s
	return nil
}

// Enabled returns the configuration an endpoint is currently enabled with.
func (u *UDC) Enabled(address uint8) (hal.EndpointConfig, bool) {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	cfg, ok := u.enabled[address]
	return cfg, ok
}

// NumEnabled returns the number of currently enabled endpoints.
func (u *UDC) NumEnabled() int {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return len(u.enabled)
}

// EnableCount returns how many times an endpoint was successfully enabled.
func (u *UDC) EnableCount(address uint8) int {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.enableCount[address]
}

// DisableCount returns how many times an enabled endpoint was successfully
// disabled.
func (u *UDC) DisableCount(address uint8) int {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.disableCount[address]
}

// FailEnable makes every EnableEndpoint call for address fail with err.
// Pass a nil error to clear the failure.
func (u *UDC) FailEnable(address uint8, err error) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	if err == nil {
		delete(u.enableErr, address)
		return
	}
	u.enableErr[address] = err
}

// FailDisable makes every DisableEndpoint call for address fail with err.
// Pass a nil error to clear the failure.
func (u *UDC) FailDisable(address uint8, err error) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	if err == nil {
		delete(u.disableErr, address)
		return
	}
	u.disableErr[address] = err
}

// defaultPacketSize returns the packet size the controller picks when the
// descriptor leaves wMaxPacketSize at zero.
func defaultPacketSize(s hal.Speed, transferType uint8) uint16 {
	switch s {
	case hal.SpeedSuper:
		return 1024
	case hal.SpeedHigh:
		if transferType == 0x02 {
			return 512
		}
		return 1024
	default:
		return 64
	}
}
