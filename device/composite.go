package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/softgadget/device/hal"
	"github.com/ardnew/softgadget/pkg"
)

// State represents the USB device state (USB 2.0 Spec Section 9.1).
type State uint8

// Device states.
const (
	StateDefault    State = iota // After bus reset, address 0
	StateAddress                 // Address assigned, not configured
	StateConfigured              // Configuration selected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// DeviceStatus represents the device status bits.
type DeviceStatus uint16

// Device status bits.
const (
	DeviceStatusSelfPowered  DeviceStatus = 1 << 0 // Device is self-powered
	DeviceStatusRemoteWakeup DeviceStatus = 1 << 1 // Remote wakeup enabled
)

// Composite is a USB device made of functions bound into configurations.
//
// It owns the device controller's endpoint pool and the string table, and
// drives the lifecycle callbacks of its functions in response to control
// traffic from the host. Function callbacks are never invoked while the
// composite's state lock is held.
type Composite struct {
	// Device descriptor
	Descriptor *DeviceDescriptor

	udc  hal.UDC
	pool *EndpointPool

	// Configurations - fixed-size array for zero allocation
	configurations     [MaxConfigurations]*Configuration
	configurationCount int
	activeConfig       *Configuration

	// String descriptors, index 0 is the language table
	strings     [MaxStrings][]byte
	stringCount int

	state               State
	address             uint8
	remoteWakeupEnabled bool
	closed              bool

	mutex sync.RWMutex

	// EP0 request state, serialized by setupMutex
	setupMutex sync.Mutex
	req        ControlRequest
	std        *StandardRequestHandler

	onSetConfiguration func(config uint8)
}

// NewComposite creates a composite device on top of udc.
func NewComposite(desc *DeviceDescriptor, udc hal.UDC) *Composite {
	d := &Composite{
		Descriptor: desc,
		udc:        udc,
		pool:       NewEndpointPool(udc),
		state:      StateDefault,
	}
	var lang [4]byte
	n := LanguageDescriptorTo(lang[:], LangIDUSEnglish)
	d.strings[0] = lang[:n]
	d.stringCount = 1
	d.std = NewStandardRequestHandler(d)

	pkg.LogDebug(pkg.ComponentComposite, "composite device created",
		"udc", udc.Name(),
		"endpoints", d.pool.Len(),
		"maxSpeed", udc.MaxSpeed().String())
	return d
}

// UDC returns the device controller.
func (d *Composite) UDC() hal.UDC {
	return d.udc
}

// Pool returns the endpoint pool shared by all functions.
func (d *Composite) Pool() *EndpointPool {
	return d.pool
}

// Speed returns the negotiated link speed.
func (d *Composite) Speed() Speed {
	return speedFromHAL(d.udc.Speed())
}

// MaxSpeed returns the fastest speed the controller supports.
func (d *Composite) MaxSpeed() Speed {
	return speedFromHAL(d.udc.MaxSpeed())
}

// AddString encodes s as a string descriptor and returns its index.
// Returns pkg.ErrStringIDExhausted when the string table is full.
func (d *Composite) AddString(s string) (uint8, error) {
	var buf [MaxStringDescriptorSize]byte
	n := StringDescriptorTo(buf[:], s)
	if n == 0 {
		return 0, fmt.Errorf("string %q: %w", s, pkg.ErrInvalidParameter)
	}
	data := make([]byte, n)
	copy(data, buf[:n])

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.stringCount >= MaxStrings {
		return 0, fmt.Errorf("string %q: %w", s, pkg.ErrStringIDExhausted)
	}
	id := uint8(d.stringCount)
	d.strings[id] = data
	d.stringCount++

	pkg.LogDebug(pkg.ComponentComposite, "string id allocated",
		"index", id,
		"value", s)
	return id, nil
}

// SetStrings allocates the manufacturer, product and serial number strings
// and records their indices in the device descriptor. Empty strings are
// skipped.
func (d *Composite) SetStrings(manufacturer, product, serial string) error {
	set := func(s string, index *uint8) error {
		if s == "" {
			return nil
		}
		id, err := d.AddString(s)
		if err != nil {
			return err
		}
		*index = id
		return nil
	}
	if err := set(manufacturer, &d.Descriptor.ManufacturerIndex); err != nil {
		return err
	}
	if err := set(product, &d.Descriptor.ProductIndex); err != nil {
		return err
	}
	return set(serial, &d.Descriptor.SerialNumberIndex)
}

// GetString returns the encoded string descriptor at index, or nil.
func (d *Composite) GetString(index uint8) []byte {
	if index >= MaxStrings {
		return nil
	}
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.strings[index]
}

// AddConfiguration adds a configuration to the device.
func (d *Composite) AddConfiguration(config *Configuration) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.configurationCount >= MaxConfigurations {
		return pkg.ErrNoMemory
	}
	if config.Value == 0 {
		return fmt.Errorf("configuration value 0: %w", pkg.ErrInvalidParameter)
	}
	for idx := 0; idx < d.configurationCount; idx++ {
		if d.configurations[idx].Value == config.Value {
			return pkg.ErrBusy
		}
	}

	config.mutex.Lock()
	config.composite = d
	config.mutex.Unlock()

	d.configurations[d.configurationCount] = config
	d.configurationCount++
	d.Descriptor.NumConfigurations = uint8(d.configurationCount)

	pkg.LogDebug(pkg.ComponentComposite, "configuration added",
		"value", config.Value)
	return nil
}

// GetConfiguration returns the configuration with the given value.
func (d *Composite) GetConfiguration(value uint8) *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	for idx := 0; idx < d.configurationCount; idx++ {
		if d.configurations[idx].Value == value {
			return d.configurations[idx]
		}
	}
	return nil
}

// configurationAt returns the configuration at descriptor index idx.
func (d *Composite) configurationAt(idx uint8) *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	if int(idx) >= d.configurationCount {
		return nil
	}
	return d.configurations[idx]
}

// ActiveConfiguration returns the currently selected configuration, or nil.
func (d *Composite) ActiveConfiguration() *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.activeConfig
}

// AddFunction adds f to config and binds it. If Bind fails, f is removed
// again and the error is returned; the configuration cannot be activated
// with a function that failed to bind.
func (d *Composite) AddFunction(config *Configuration, f Function) error {
	if config.Composite() != d {
		return fmt.Errorf("configuration %d: %w", config.Value, pkg.ErrInvalidParameter)
	}
	if err := config.addFunction(f); err != nil {
		return err
	}

	if err := f.Bind(config); err != nil {
		config.removeFunction(f)
		pkg.LogWarn(pkg.ComponentComposite, "function bind failed",
			"config", config.Value,
			"function", f.Name(),
			"error", err)
		return fmt.Errorf("bind %q: %w", f.Name(), err)
	}

	pkg.LogInfo(pkg.ComponentComposite, "function bound",
		"config", config.Value,
		"function", f.Name(),
		"interfaces", config.InterfacesOf(f))
	return nil
}

// RemoveFunction disables and frees f and removes it from config.
func (d *Composite) RemoveFunction(config *Configuration, f Function) {
	if config.indexOf(f) < 0 {
		return
	}
	if d.ActiveConfiguration() == config {
		f.Disable()
	}
	f.Free()
	config.removeFunction(f)

	pkg.LogDebug(pkg.ComponentComposite, "function removed",
		"config", config.Value,
		"function", f.Name())
}

// State returns the current device state.
func (d *Composite) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

// Address returns the device address.
func (d *Composite) Address() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.address
}

// IsConfigured returns true if a configuration is selected.
func (d *Composite) IsConfigured() bool {
	return d.State() == StateConfigured
}

// SetAddress handles SET_ADDRESS request.
func (d *Composite) SetAddress(address uint8) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.state == StateConfigured {
		return pkg.ErrInvalidState
	}
	d.address = address
	if address == 0 {
		d.state = StateDefault
	} else {
		d.state = StateAddress
	}
	pkg.LogDebug(pkg.ComponentComposite, "device address set",
		"address", address)
	return nil
}

// SetConfiguration handles SET_CONFIGURATION request.
//
// Every function of the current configuration is disabled first. For a
// non-zero value, each interface of the new configuration is then put in
// alternate setting 0. If a function fails to start, the new configuration
// is torn down again and the error is returned.
func (d *Composite) SetConfiguration(value uint8) error {
	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}
	if value != 0 && d.state == StateDefault {
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}

	var config *Configuration
	if value != 0 {
		for idx := 0; idx < d.configurationCount; idx++ {
			if d.configurations[idx].Value == value {
				config = d.configurations[idx]
				break
			}
		}
		if config == nil {
			d.mutex.Unlock()
			return pkg.ErrInvalidRequest
		}
	}
	previous := d.activeConfig
	d.activeConfig = nil
	if d.state == StateConfigured {
		d.state = StateAddress
	}
	d.mutex.Unlock()

	if previous != nil {
		disableFunctions(previous)
	}
	if config == nil {
		pkg.LogInfo(pkg.ComponentComposite, "device unconfigured")
		return nil
	}

	speed := d.Speed()
	pkg.LogInfo(pkg.ComponentComposite, "activating configuration",
		"value", value,
		"speed", speed.String())

	for intf := 0; intf < config.NumInterfaces(); intf++ {
		f := config.Function(uint8(intf))
		if f == nil {
			continue
		}
		if err := f.SetAlt(uint8(intf), 0); err != nil {
			pkg.LogError(pkg.ComponentComposite, "function failed to start",
				"config", value,
				"function", f.Name(),
				"interface", intf,
				"error", err)
			disableFunctions(config)
			return fmt.Errorf("configuration %d interface %d: %w", value, intf, err)
		}
	}

	d.mutex.Lock()
	d.activeConfig = config
	d.state = StateConfigured
	callback := d.onSetConfiguration
	d.mutex.Unlock()

	if callback != nil {
		callback(value)
	}

	pkg.LogDebug(pkg.ComponentComposite, "device configured",
		"configuration", value)
	return nil
}

// SetOnSetConfiguration sets the set configuration callback.
func (d *Composite) SetOnSetConfiguration(cb func(config uint8)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSetConfiguration = cb
}

// SetInterface handles SET_INTERFACE by routing it to the function that
// owns interface intf in the active configuration.
func (d *Composite) SetInterface(intf, alt uint8) error {
	config := d.ActiveConfiguration()
	if config == nil {
		return pkg.ErrNotConfigured
	}
	f := config.Function(intf)
	if f == nil {
		return fmt.Errorf("interface %d: %w", intf, pkg.ErrInvalidRequest)
	}
	pkg.LogDebug(pkg.ComponentComposite, "set interface",
		"interface", intf,
		"alt", alt,
		"function", f.Name())
	return f.SetAlt(intf, alt)
}

// GetInterface handles GET_INTERFACE by asking the owning function.
func (d *Composite) GetInterface(intf uint8) (uint8, error) {
	config := d.ActiveConfiguration()
	if config == nil {
		return 0, pkg.ErrNotConfigured
	}
	f := config.Function(intf)
	if f == nil {
		return 0, fmt.Errorf("interface %d: %w", intf, pkg.ErrInvalidRequest)
	}
	return f.GetAlt(intf)
}

// Setup processes a SETUP packet and returns the data stage response.
//
// Standard requests are handled by the device. Class and vendor requests
// are offered to the function that owns the addressed interface or
// endpoint; a device-recipient request goes to the only function of the
// active configuration, if there is exactly one. A pkg.ErrNotSupported
// result is reported to the host as a stall. The returned slice is only
// valid until the next call. OUT data beyond wLength is dropped.
func (d *Composite) Setup(setup *SetupPacket, data []byte) ([]byte, error) {
	d.setupMutex.Lock()
	defer d.setupMutex.Unlock()

	pkg.LogDebug(pkg.ComponentComposite, "setup",
		"packet", setup.String())

	if setup.IsStandard() {
		return d.std.HandleSetup(setup, data)
	}

	f := d.functionFor(setup)
	if f == nil {
		return nil, fmt.Errorf("%s: %w", setup, pkg.ErrNotSupported)
	}

	d.req.Reset()
	if setup.IsHostToDevice() {
		d.req.setReceived(data[:min(len(data), int(setup.Length))])
	}
	n, err := f.Setup(setup, &d.req)
	if err != nil {
		if errors.Is(err, pkg.ErrNotSupported) {
			pkg.LogDebug(pkg.ComponentComposite, "request not handled",
				"function", f.Name(),
				"request", fmt.Sprintf("0x%02X", setup.Request))
		}
		return nil, err
	}
	if setup.IsHostToDevice() {
		return nil, nil
	}
	d.req.Length = n
	return d.req.Data(setup), nil
}

// functionFor returns the function a class or vendor request is meant for.
func (d *Composite) functionFor(setup *SetupPacket) Function {
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	switch setup.Recipient() {
	case RequestRecipientInterface:
		if setup.Index > 0xFF {
			return nil
		}
		return config.Function(setup.InterfaceNumber())
	case RequestRecipientEndpoint:
		return config.FunctionForEndpoint(setup.EndpointAddress(), d.Speed())
	}
	if config.NumFunctions() == 1 {
		return config.Functions()[0]
	}
	return nil
}

// SetEndpointStall sets or clears the halt condition of a claimed endpoint.
func (d *Composite) SetEndpointStall(address uint8, stalled bool) error {
	ep := d.pool.Lookup(address)
	if ep == nil {
		return pkg.ErrInvalidEndpoint
	}
	return ep.SetStall(stalled)
}

// EnableRemoteWakeup enables remote wakeup capability.
func (d *Composite) EnableRemoteWakeup(enabled bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.remoteWakeupEnabled = enabled
}

// IsRemoteWakeupEnabled returns true if remote wakeup is enabled.
func (d *Composite) IsRemoteWakeupEnabled() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.remoteWakeupEnabled
}

// GetStatus returns the device status.
func (d *Composite) GetStatus() DeviceStatus {
	d.mutex.RLock()
	config := d.activeConfig
	wakeup := d.remoteWakeupEnabled
	d.mutex.RUnlock()

	var status DeviceStatus
	if config != nil && config.IsSelfPowered() {
		status |= DeviceStatusSelfPowered
	}
	if wakeup {
		status |= DeviceStatusRemoteWakeup
	}
	return status
}

// Reset handles a bus reset: every function of the active configuration is
// disabled and the device returns to the default state.
func (d *Composite) Reset() {
	d.mutex.Lock()
	config := d.activeConfig
	d.activeConfig = nil
	d.address = 0
	d.state = StateDefault
	d.remoteWakeupEnabled = false
	d.mutex.Unlock()

	if config != nil {
		disableFunctions(config)
	}
	pkg.LogDebug(pkg.ComponentComposite, "device reset")
}

// Close disables and frees every function of every configuration.
// Subsequent calls do nothing.
func (d *Composite) Close() error {
	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return nil
	}
	d.closed = true
	active := d.activeConfig
	d.activeConfig = nil
	d.state = StateDefault
	configs := make([]*Configuration, d.configurationCount)
	copy(configs, d.configurations[:d.configurationCount])
	d.mutex.Unlock()

	if active != nil {
		disableFunctions(active)
	}
	for _, config := range configs {
		for _, f := range config.Functions() {
			f.Free()
			config.removeFunction(f)
		}
	}

	pkg.LogDebug(pkg.ComponentComposite, "composite device closed",
		"freeEndpoints", d.pool.Free())
	return nil
}

// disableFunctions calls Disable on every function of config.
func disableFunctions(config *Configuration) {
	for _, f := range config.Functions() {
		f.Disable()
	}
}
