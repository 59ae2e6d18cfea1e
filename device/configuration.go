package device

import (
	"fmt"
	"sync"

	"github.com/ardnew/softgadget/pkg"
)

// Configuration is one configuration of a composite device: an ordered set
// of functions and the interface numbers they were given at bind time.
type Configuration struct {
	// Descriptor data
	Value       uint8 // Configuration value for SET_CONFIGURATION
	Attributes  uint8 // Configuration attributes (bus/self powered, remote wakeup)
	MaxPower    uint8 // Maximum power consumption (2mA units)
	StringIndex uint8 // String descriptor index

	composite *Composite

	// Functions and their descriptor tables, in bind order
	functions     [MaxFunctionsPerConfiguration]Function
	descriptors   [MaxFunctionsPerConfiguration]*DescriptorSet
	functionCount int

	// Interface number to owning function
	interfaces     [MaxInterfacesPerConfiguration]Function
	interfaceCount int

	mutex sync.RWMutex
}

// NewConfiguration creates a new configuration.
func NewConfiguration(value uint8) *Configuration {
	return &Configuration{
		Value:      value,
		Attributes: ConfigAttrBusPowered,
		MaxPower:   50, // 100mA default
	}
}

// Composite returns the device the configuration was added to, or nil.
func (c *Configuration) Composite() *Composite {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.composite
}

// AllocateInterfaceID reserves the next free interface number for f.
// Returns pkg.ErrInterfaceIDExhausted when every number is taken.
func (c *Configuration) AllocateInterfaceID(f Function) (uint8, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.indexOfLocked(f) < 0 {
		return 0, fmt.Errorf("function %q not in configuration %d: %w",
			f.Name(), c.Value, pkg.ErrInvalidParameter)
	}
	if c.interfaceCount >= MaxInterfacesPerConfiguration {
		return 0, fmt.Errorf("configuration %d: %w", c.Value, pkg.ErrInterfaceIDExhausted)
	}

	id := uint8(c.interfaceCount)
	c.interfaces[id] = f
	c.interfaceCount++

	pkg.LogDebug(pkg.ComponentComposite, "interface id allocated",
		"config", c.Value,
		"function", f.Name(),
		"interface", id)
	return id, nil
}

// AllocateStringID stores s in the device string table and returns its
// index.
func (c *Configuration) AllocateStringID(s string) (uint8, error) {
	cd := c.Composite()
	if cd == nil {
		return 0, fmt.Errorf("configuration %d not added to a device: %w",
			c.Value, pkg.ErrInvalidState)
	}
	return cd.AddString(s)
}

// Autoconfig claims a physical endpoint matching tmpl from the device's
// endpoint pool. See EndpointPool.Autoconfig.
func (c *Configuration) Autoconfig(tmpl *EndpointDescriptor) (*Endpoint, error) {
	cd := c.Composite()
	if cd == nil {
		return nil, fmt.Errorf("configuration %d not added to a device: %w",
			c.Value, pkg.ErrInvalidState)
	}
	return cd.pool.Autoconfig(tmpl)
}

// ReleaseEndpoint returns ep to the device's endpoint pool.
func (c *Configuration) ReleaseEndpoint(ep *Endpoint) {
	if cd := c.Composite(); cd != nil {
		cd.pool.Release(ep)
	}
}

// AssignDescriptors installs the descriptor tables f advertises. The tables
// are copied; later changes to set are not seen by the device.
func (c *Configuration) AssignDescriptors(f Function, set *DescriptorSet) error {
	if set == nil || len(set.Full) == 0 {
		return fmt.Errorf("function %q: empty full-speed table: %w",
			f.Name(), pkg.ErrInvalidParameter)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	idx := c.indexOfLocked(f)
	if idx < 0 {
		return fmt.Errorf("function %q not in configuration %d: %w",
			f.Name(), c.Value, pkg.ErrInvalidParameter)
	}
	clone := set.Clone()
	c.descriptors[idx] = &clone

	pkg.LogDebug(pkg.ComponentComposite, "descriptors assigned",
		"config", c.Value,
		"function", f.Name(),
		"full", clone.Full.Len(),
		"high", clone.High.Len(),
		"super", clone.Super.Len())
	return nil
}

// FreeDescriptors drops the descriptor tables installed for f.
func (c *Configuration) FreeDescriptors(f Function) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if idx := c.indexOfLocked(f); idx >= 0 {
		c.descriptors[idx] = nil
	}
}

// Descriptors returns the table f advertises at speed, or nil.
func (c *Configuration) Descriptors(f Function, speed Speed) DescriptorTable {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	idx := c.indexOfLocked(f)
	if idx < 0 || c.descriptors[idx] == nil {
		return nil
	}
	table, _ := c.descriptors[idx].ForSpeed(speed)
	return table
}

// Speed returns the negotiated link speed of the device.
func (c *Configuration) Speed() Speed {
	if cd := c.Composite(); cd != nil {
		return cd.Speed()
	}
	return SpeedUnknown
}

// ConfigEndpointBySpeed selects the descriptor (and SuperSpeed companion)
// that f advertises for ep at the negotiated speed, so that ep can be
// enabled. Returns pkg.ErrSpeedConfigMismatch if f has no such descriptor.
func (c *Configuration) ConfigEndpointBySpeed(f Function, ep *Endpoint) error {
	if ep == nil {
		return pkg.ErrInvalidEndpoint
	}
	speed := c.Speed()

	c.mutex.RLock()
	idx := c.indexOfLocked(f)
	var set *DescriptorSet
	if idx >= 0 {
		set = c.descriptors[idx]
	}
	c.mutex.RUnlock()

	if set == nil {
		return fmt.Errorf("function %q has no descriptors: %w",
			f.Name(), pkg.ErrSpeedConfigMismatch)
	}
	table, ok := set.ForSpeed(speed)
	if !ok {
		return fmt.Errorf("function %q at %s: %w", f.Name(), speed, pkg.ErrSpeedConfigMismatch)
	}
	desc, comp := table.Endpoint(ep.Address())
	if desc == nil {
		return fmt.Errorf("endpoint 0x%02X at %s: %w", ep.Address(), speed, pkg.ErrSpeedConfigMismatch)
	}
	// A SuperSpeed table must describe every endpoint with a companion.
	if speed == SpeedSuper && len(set.Super) > 0 && comp == nil {
		return fmt.Errorf("endpoint 0x%02X at %s: missing companion: %w",
			ep.Address(), speed, pkg.ErrSpeedConfigMismatch)
	}
	return ep.configure(desc, comp)
}

// Functions returns the functions of the configuration in bind order.
func (c *Configuration) Functions() []Function {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make([]Function, c.functionCount)
	copy(out, c.functions[:c.functionCount])
	return out
}

// Function returns the function owning interface intf, or nil.
func (c *Configuration) Function(intf uint8) Function {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if int(intf) >= c.interfaceCount {
		return nil
	}
	return c.interfaces[intf]
}

// InterfacesOf returns the interface numbers owned by f in ascending order.
func (c *Configuration) InterfacesOf(f Function) []uint8 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	var out []uint8
	for i := 0; i < c.interfaceCount; i++ {
		if c.interfaces[i] == f {
			out = append(out, uint8(i))
		}
	}
	return out
}

// FunctionForEndpoint returns the function whose descriptors at speed name
// the endpoint address, or nil.
func (c *Configuration) FunctionForEndpoint(address uint8, speed Speed) Function {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for i := 0; i < c.functionCount; i++ {
		if c.descriptors[i] == nil {
			continue
		}
		table, ok := c.descriptors[i].ForSpeed(speed)
		if !ok {
			continue
		}
		if desc, _ := table.Endpoint(address); desc != nil {
			return c.functions[i]
		}
	}
	return nil
}

// NumInterfaces returns the number of allocated interface numbers.
func (c *Configuration) NumInterfaces() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interfaceCount
}

// NumFunctions returns the number of functions.
func (c *Configuration) NumFunctions() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.functionCount
}

// addFunction appends f. Called by the composite before Bind.
func (c *Configuration) addFunction(f Function) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.indexOfLocked(f) >= 0 {
		return fmt.Errorf("function %q: %w", f.Name(), pkg.ErrBusy)
	}
	if c.functionCount >= MaxFunctionsPerConfiguration {
		return fmt.Errorf("configuration %d: %w", c.Value, pkg.ErrNoMemory)
	}
	c.functions[c.functionCount] = f
	c.descriptors[c.functionCount] = nil
	c.functionCount++
	return nil
}

// removeFunction drops f, its descriptors and its interface numbers.
// Interface numbers owned by later functions are not renumbered, so only
// trailing numbers are reclaimed.
func (c *Configuration) removeFunction(f Function) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	idx := c.indexOfLocked(f)
	if idx < 0 {
		return
	}
	copy(c.functions[idx:], c.functions[idx+1:c.functionCount])
	copy(c.descriptors[idx:], c.descriptors[idx+1:c.functionCount])
	c.functionCount--
	c.functions[c.functionCount] = nil
	c.descriptors[c.functionCount] = nil

	for i := 0; i < c.interfaceCount; i++ {
		if c.interfaces[i] == f {
			c.interfaces[i] = nil
		}
	}
	for c.interfaceCount > 0 && c.interfaces[c.interfaceCount-1] == nil {
		c.interfaceCount--
	}
}

func (c *Configuration) indexOf(f Function) int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.indexOfLocked(f)
}

func (c *Configuration) indexOfLocked(f Function) int {
	for i := 0; i < c.functionCount; i++ {
		if c.functions[i] == f {
			return i
		}
	}
	return -1
}

// Descriptor returns the configuration descriptor for speed.
func (c *Configuration) Descriptor(speed Speed) *ConfigurationDescriptor {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.descriptorLocked(speed)
}

func (c *Configuration) descriptorLocked(speed Speed) *ConfigurationDescriptor {
	total := ConfigurationDescriptorSize
	for i := 0; i < c.functionCount; i++ {
		if c.descriptors[i] == nil {
			continue
		}
		if table, ok := c.descriptors[i].ForSpeed(speed); ok {
			total += table.Size()
		}
	}
	return &ConfigurationDescriptor{
		TotalLength:        uint16(total),
		NumInterfaces:      uint8(c.interfaceCount),
		ConfigurationValue: c.Value,
		ConfigurationIndex: c.StringIndex,
		Attributes:         c.Attributes,
		MaxPower:           c.MaxPower,
	}
}

// MarshalTo writes the configuration descriptor followed by each function's
// table for speed to buf. Returns the number of bytes written, or 0 if buf
// is too small.
func (c *Configuration) MarshalTo(buf []byte, speed Speed) int {
	return c.marshalAs(buf, speed, DescriptorTypeConfiguration)
}

// MarshalOtherSpeedTo writes the OTHER_SPEED_CONFIGURATION form of the
// configuration at speed.
func (c *Configuration) MarshalOtherSpeedTo(buf []byte, speed Speed) int {
	return c.marshalAs(buf, speed, DescriptorTypeOtherSpeedConfig)
}

func (c *Configuration) marshalAs(buf []byte, speed Speed, descType uint8) int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	desc := c.descriptorLocked(speed)
	if len(buf) < int(desc.TotalLength) {
		return 0
	}
	offset := desc.marshalAs(buf, descType)
	for i := 0; i < c.functionCount; i++ {
		if c.descriptors[i] == nil {
			continue
		}
		if table, ok := c.descriptors[i].ForSpeed(speed); ok {
			offset += table.MarshalTo(buf[offset:])
		}
	}
	return offset
}

// SetSelfPowered sets or clears the self-powered attribute.
func (c *Configuration) SetSelfPowered(selfPowered bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if selfPowered {
		c.Attributes |= ConfigAttrSelfPowered
	} else {
		c.Attributes &^= ConfigAttrSelfPowered
	}
}

// IsSelfPowered returns true if the configuration is self-powered.
func (c *Configuration) IsSelfPowered() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.Attributes&ConfigAttrSelfPowered != 0
}

// SetRemoteWakeup sets or clears the remote wakeup capability.
func (c *Configuration) SetRemoteWakeup(enabled bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if enabled {
		c.Attributes |= ConfigAttrRemoteWakeup
	} else {
		c.Attributes &^= ConfigAttrRemoteWakeup
	}
}

// SupportsRemoteWakeup returns true if remote wakeup is supported.
func (c *Configuration) SupportsRemoteWakeup() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.Attributes&ConfigAttrRemoteWakeup != 0
}
