package trans

import (
	"fmt"
	"sync"

	"github.com/ardnew/softgadget/device"
	"github.com/ardnew/softgadget/pkg"
)

// VendorHandler answers vendor and class control requests addressed to the
// transport interface. It has the same contract as device.Function.Setup:
// fill req.Buf, return the data stage length, or return
// pkg.ErrNotSupported to stall.
type VendorHandler interface {
	HandleSetup(setup *device.SetupPacket, req *device.ControlRequest) (int, error)
}

// VendorHandlerFunc adapts a function to VendorHandler.
type VendorHandlerFunc func(setup *device.SetupPacket, req *device.ControlRequest) (int, error)

// HandleSetup calls f(setup, req).
func (f VendorHandlerFunc) HandleSetup(setup *device.SetupPacket, req *device.ControlRequest) (int, error) {
	return f(setup, req)
}

// Trans is the vendor bulk transport function: one vendor-specific
// interface with a bulk IN source and a bulk OUT sink endpoint.
type Trans struct {
	// Data path parameters
	queueLength  int
	bufferLength int

	// Control collaborator
	vendor VendorHandler

	// Resources claimed at bind
	config      *device.Configuration
	intf        uint8
	stringIndex uint8
	source      *device.Endpoint // bulk IN
	sink        *device.Endpoint // bulk OUT
	descriptors device.DescriptorSet

	// State
	alt      uint8
	altValid bool
	bound    bool
	mutex    sync.RWMutex
}

var _ device.Function = (*Trans)(nil)

// New creates an unbound transport function with default data path
// parameters.
func New() *Trans {
	return &Trans{
		queueLength:  DefaultQueueLength,
		bufferLength: DefaultBufferLength,
	}
}

// SetQueueLength sets the number of requests the data path keeps queued
// per endpoint.
func (t *Trans) SetQueueLength(n int) error {
	if n <= 0 {
		return fmt.Errorf("queue length %d: %w", n, pkg.ErrInvalidParameter)
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.queueLength = n
	return nil
}

// SetBufferLength sets the size of each data path request buffer.
func (t *Trans) SetBufferLength(n int) error {
	if n <= 0 {
		return fmt.Errorf("buffer length %d: %w", n, pkg.ErrInvalidParameter)
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.bufferLength = n
	return nil
}

// SetVendorHandler installs h to answer control requests addressed to the
// interface. A nil h restores the default of stalling every request.
func (t *Trans) SetVendorHandler(h VendorHandler) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.vendor = h
}

// Name returns FunctionName.
func (t *Trans) Name() string { return FunctionName }

// QueueLength returns the data path queue length.
func (t *Trans) QueueLength() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.queueLength
}

// BufferLength returns the data path buffer length.
func (t *Trans) BufferLength() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.bufferLength
}

// Bound reports whether the function holds its interface and endpoints.
func (t *Trans) Bound() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.bound
}

// InterfaceNumber returns the interface number allocated at bind.
func (t *Trans) InterfaceNumber() uint8 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.intf
}

// StringIndex returns the string index of InterfaceString.
func (t *Trans) StringIndex() uint8 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.stringIndex
}

// Source returns the bulk IN endpoint, or nil when unbound.
func (t *Trans) Source() *device.Endpoint {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.source
}

// Sink returns the bulk OUT endpoint, or nil when unbound.
func (t *Trans) Sink() *device.Endpoint {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.sink
}

// Descriptors returns a copy of the descriptor tables built at bind.
func (t *Trans) Descriptors() device.DescriptorSet {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.descriptors.Clone()
}

// Enabled reports whether both endpoints are enabled.
func (t *Trans) Enabled() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.bound && t.source.IsEnabled() && t.sink.IsEnabled()
}

// Alternate returns the alternate setting recorded by the last successful
// SetAlt. ok is false until then.
func (t *Trans) Alternate() (alt uint8, ok bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.alt, t.altValid
}

// Bind claims an interface number, the interface string and a bulk IN and
// bulk OUT endpoint from c, and installs the descriptor tables for every
// speed. On error nothing claimed by Bind is kept.
func (t *Trans) Bind(c *device.Configuration) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.bound {
		return fmt.Errorf("%s: already bound: %w", FunctionName, pkg.ErrInvalidState)
	}

	intf, err := c.AllocateInterfaceID(t)
	if err != nil {
		pkg.LogError(pkg.ComponentFunction, "interface allocation failed",
			"function", FunctionName,
			"error", err)
		return err
	}

	str, err := c.AllocateStringID(InterfaceString)
	if err != nil {
		return err
	}

	fsSource := fsSourceTemplate
	fsSink := fsSinkTemplate
	source, sink, err := allocEndpoints(c, &fsSource, &fsSink)
	if err != nil {
		speed := "unknown"
		if cd := c.Composite(); cd != nil {
			speed = cd.MaxSpeed().String()
		}
		pkg.LogError(pkg.ComponentFunction, "can't autoconfigure endpoints",
			"function", FunctionName,
			"max_speed", speed,
			"error", err)
		return err
	}

	set := buildDescriptors(intf, str, &fsSource, &fsSink)
	if err := c.AssignDescriptors(t, &set); err != nil {
		c.ReleaseEndpoint(sink)
		c.ReleaseEndpoint(source)
		return err
	}

	t.config = c
	t.intf = intf
	t.stringIndex = str
	t.source = source
	t.sink = sink
	t.descriptors = set
	t.alt, t.altValid = 0, false
	t.bound = true

	pkg.LogDebug(pkg.ComponentFunction, "bound",
		"function", FunctionName,
		"interface", intf,
		"in", source.Name(),
		"in_address", fmt.Sprintf("0x%02X", source.Address()),
		"out", sink.Name(),
		"out_address", fmt.Sprintf("0x%02X", sink.Address()))

	return nil
}

// allocEndpoints claims the source and then the sink endpoint, patching the
// addresses into the templates. If the sink cannot be claimed the source is
// released again.
func allocEndpoints(c *device.Configuration, source, sink *device.EndpointDescriptor) (in, out *device.Endpoint, err error) {
	in, err = c.Autoconfig(source)
	if err != nil {
		return nil, nil, fmt.Errorf("source endpoint: %w", err)
	}
	out, err = c.Autoconfig(sink)
	if err != nil {
		c.ReleaseEndpoint(in)
		return nil, nil, fmt.Errorf("sink endpoint: %w", err)
	}
	return in, out, nil
}

// Free releases both endpoints and the descriptor tables. The function can
// be bound again afterwards. Calling Free on an unbound function does
// nothing.
func (t *Trans) Free() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.bound {
		return
	}

	t.disableEndpoints()
	t.config.ReleaseEndpoint(t.source)
	t.config.ReleaseEndpoint(t.sink)
	t.config.FreeDescriptors(t)

	t.config = nil
	t.source = nil
	t.sink = nil
	t.descriptors = device.DescriptorSet{}
	t.alt, t.altValid = 0, false
	t.bound = false

	pkg.LogDebug(pkg.ComponentFunction, "freed", "function", FunctionName)
}
