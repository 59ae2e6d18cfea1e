package trans

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softgadget/device"
	"github.com/ardnew/softgadget/device/hal"
	"github.com/ardnew/softgadget/device/hal/sim"
	"github.com/ardnew/softgadget/pkg"
)

type testGadget struct {
	dev    *device.Composite
	udc    *sim.UDC
	config *device.Configuration
}

func newTestGadget(t *testing.T, opts ...sim.Option) *testGadget {
	t.Helper()
	udc, err := sim.New(opts...)
	require.NoError(t, err)

	dev := device.NewComposite(&device.DeviceDescriptor{
		USBVersion:     0x0200,
		VendorID:       0x1d6b,
		ProductID:      0x0104,
		MaxPacketSize0: 64,
	}, udc)
	config := device.NewConfiguration(1)
	require.NoError(t, dev.AddConfiguration(config))

	return &testGadget{dev: dev, udc: udc, config: config}
}

func (g *testGadget) bind(t *testing.T) *Trans {
	t.Helper()
	tr := New()
	require.NoError(t, g.dev.AddFunction(g.config, tr))
	return tr
}

func endpointAddresses(table device.DescriptorTable) (source, sink uint8) {
	for _, ep := range table.Endpoints() {
		if ep.IsIn() {
			source = ep.EndpointAddress
		} else {
			sink = ep.EndpointAddress
		}
	}
	return source, sink
}

func TestBind(t *testing.T) {
	g := newTestGadget(t)
	tr := g.bind(t)

	assert.True(t, tr.Bound())
	assert.Equal(t, uint8(0), tr.InterfaceNumber())
	assert.Equal(t, FunctionName, tr.Name())
	assert.Same(t, tr, g.config.Function(0))

	source, sink := tr.Source(), tr.Sink()
	require.NotNil(t, source)
	require.NotNil(t, sink)
	assert.Equal(t, uint8(0x81), source.Address())
	assert.Equal(t, uint8(0x02), sink.Address())
	assert.True(t, source.IsBulk() && source.IsIn())
	assert.True(t, sink.IsBulk() && sink.IsOut())

	// Claimed, not yet active.
	assert.Equal(t, device.EndpointDisabled, source.State())
	assert.Equal(t, device.EndpointDisabled, sink.State())
	assert.Equal(t, 0, g.udc.NumEnabled())

	_, ok := tr.Alternate()
	assert.False(t, ok)

	str := g.dev.GetString(tr.StringIndex())
	var want [64]byte
	n := device.StringDescriptorTo(want[:], InterfaceString)
	assert.Equal(t, want[:n], str)
}

func TestBind_Twice(t *testing.T) {
	g := newTestGadget(t)
	tr := g.bind(t)

	err := tr.Bind(g.config)
	assert.ErrorIs(t, err, pkg.ErrInvalidState)
	assert.Equal(t, uint8(0x81), tr.Source().Address())
}

func TestBuildDescriptors(t *testing.T) {
	g := newTestGadget(t)
	tr := g.bind(t)
	set := tr.Descriptors()

	tests := []struct {
		name      string
		table     device.DescriptorTable
		length    int
		packet    uint16
		companion bool
	}{
		{"full", set.Full, 3, 64, false},
		{"high", set.High, 3, HighSpeedMaxPacketSize, false},
		{"super", set.Super, 5, SuperSpeedMaxPacketSize, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.length, tt.table.Len())

			intfs := tt.table.Interfaces()
			require.Len(t, intfs, 1)
			assert.Equal(t, tr.InterfaceNumber(), intfs[0].InterfaceNumber)
			assert.Equal(t, uint8(NumEndpoints), intfs[0].NumEndpoints)
			assert.Equal(t, uint8(InterfaceClass), intfs[0].InterfaceClass)
			assert.Equal(t, tr.StringIndex(), intfs[0].InterfaceIndex)

			source, sink := endpointAddresses(tt.table)
			assert.Equal(t, tr.Source().Address(), source)
			assert.Equal(t, tr.Sink().Address(), sink)
			assert.NotEqual(t, source, sink)

			for _, ep := range tt.table.Endpoints() {
				assert.Equal(t, tt.packet, ep.MaxPacketSize)
				assert.Equal(t, uint8(device.EndpointTypeBulk), ep.TransferType())

				_, comp := tt.table.Endpoint(ep.EndpointAddress)
				if !tt.companion {
					assert.Nil(t, comp)
					continue
				}
				require.NotNil(t, comp)
				assert.Zero(t, comp.MaxBurst)
				assert.Zero(t, comp.Attributes)
				assert.Zero(t, comp.BytesPerInterval)
			}
		})
	}
}

func TestBuildDescriptors_Order(t *testing.T) {
	fsSource := device.EndpointDescriptor{EndpointAddress: 0x83, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64}
	fsSink := device.EndpointDescriptor{EndpointAddress: 0x04, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64}
	set := buildDescriptors(2, 5, &fsSource, &fsSink)

	var buf [64]byte

	n := set.Full.MarshalTo(buf[:])
	assert.Equal(t, []byte{
		0x09, 0x04, 0x02, 0x00, 0x02, 0xFF, 0x00, 0x00, 0x05,
		0x07, 0x05, 0x04, 0x02, 0x40, 0x00, 0x00,
		0x07, 0x05, 0x83, 0x02, 0x40, 0x00, 0x00,
	}, buf[:n])

	n = set.High.MarshalTo(buf[:])
	assert.Equal(t, []byte{
		0x09, 0x04, 0x02, 0x00, 0x02, 0xFF, 0x00, 0x00, 0x05,
		0x07, 0x05, 0x83, 0x02, 0x00, 0x02, 0x00,
		0x07, 0x05, 0x04, 0x02, 0x00, 0x02, 0x00,
	}, buf[:n])

	n = set.Super.MarshalTo(buf[:])
	assert.Equal(t, []byte{
		0x09, 0x04, 0x02, 0x00, 0x02, 0xFF, 0x00, 0x00, 0x05,
		0x07, 0x05, 0x83, 0x02, 0x00, 0x04, 0x00,
		0x06, 0x30, 0x00, 0x00, 0x00, 0x00,
		0x07, 0x05, 0x04, 0x02, 0x00, 0x04, 0x00,
		0x06, 0x30, 0x00, 0x00, 0x00, 0x00,
	}, buf[:n])

	// The inputs are copied, not referenced.
	fsSink.EndpointAddress = 0x06
	_, sink := endpointAddresses(set.Full)
	assert.Equal(t, uint8(0x04), sink)
}

func TestBuildDescriptors_TemplatesUnchanged(t *testing.T) {
	g := newTestGadget(t)
	first := g.bind(t)
	second := g.bind(t)

	assert.Equal(t, uint8(device.EndpointDirectionIn), fsSourceTemplate.EndpointAddress)
	assert.Equal(t, uint8(device.EndpointDirectionOut), fsSinkTemplate.EndpointAddress)
	assert.Zero(t, fsSourceTemplate.MaxPacketSize)
	assert.Zero(t, hsSourceTemplate.EndpointAddress)
	assert.Zero(t, ssSinkTemplate.EndpointAddress)
	assert.Zero(t, interfaceTemplate.InterfaceNumber)

	// Each instance describes its own interface and endpoints.
	a, b := first.Descriptors(), second.Descriptors()
	assert.Equal(t, uint8(0), a.Super.Interfaces()[0].InterfaceNumber)
	assert.Equal(t, uint8(1), b.Super.Interfaces()[0].InterfaceNumber)
	aSource, aSink := endpointAddresses(a.Super)
	bSource, bSink := endpointAddresses(b.Super)
	assert.NotEqual(t, aSource, bSource)
	assert.NotEqual(t, aSink, bSink)
	assert.Equal(t, second.Source().Address(), bSource)
	assert.Equal(t, second.Sink().Address(), bSink)
}

func TestBind_ResourceUnavailable(t *testing.T) {
	tests := []struct {
		name      string
		endpoints []string
	}{
		{"no bulk in", []string{"ep2out-bulk", "ep3in-int"}},
		{"no bulk out", []string{"ep1in-bulk", "ep3in-int"}},
		{"none", []string{"ep3in-int"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGadget(t, sim.WithEndpoints(tt.endpoints...))
			pool := g.dev.Pool()
			before := pool.Free()

			tr := New()
			err := g.dev.AddFunction(g.config, tr)
			require.ErrorIs(t, err, pkg.ErrResourceUnavailable)

			assert.Equal(t, before, pool.Free())
			assert.False(t, tr.Bound())
			assert.Nil(t, tr.Source())
			assert.Nil(t, tr.Sink())
			assert.Zero(t, g.config.NumFunctions())
			assert.Zero(t, g.config.NumInterfaces())
		})
	}
}

// hog claims every remaining interface number of its configuration.
type hog struct{}

func (h *hog) Name() string { return "hog" }

func (h *hog) Bind(c *device.Configuration) error {
	for {
		if _, err := c.AllocateInterfaceID(h); err != nil {
			if errors.Is(err, pkg.ErrInterfaceIDExhausted) {
				return nil
			}
			return err
		}
	}
}

func (h *hog) SetAlt(intf, alt uint8) error { return nil }
func (h *hog) GetAlt(intf uint8) (uint8, error) { return 0, nil }
func (h *hog) Disable() {}
func (h *hog) Free() {}

func (h *hog) Setup(*device.SetupPacket, *device.ControlRequest) (int, error) {
	return 0, pkg.ErrNotSupported
}

func TestBind_InterfaceIDExhausted(t *testing.T) {
	g := newTestGadget(t)
	require.NoError(t, g.dev.AddFunction(g.config, &hog{}))
	require.Equal(t, device.MaxInterfacesPerConfiguration, g.config.NumInterfaces())

	before := g.dev.Pool().Free()
	tr := New()
	err := g.dev.AddFunction(g.config, tr)
	require.ErrorIs(t, err, pkg.ErrInterfaceIDExhausted)
	assert.Equal(t, before, g.dev.Pool().Free())
	assert.False(t, tr.Bound())
}

func TestBindFree(t *testing.T) {
	g := newTestGadget(t)
	pool := g.dev.Pool()
	before := pool.Free()

	tr := g.bind(t)
	source, sink := tr.Source(), tr.Sink()
	assert.Equal(t, before-2, pool.Free())

	tr.Free()
	assert.Equal(t, before, pool.Free())
	assert.False(t, tr.Bound())
	assert.Equal(t, device.EndpointUnbound, source.State())
	assert.Equal(t, device.EndpointUnbound, sink.State())
	assert.Nil(t, g.config.Descriptors(tr, device.SpeedFull))
	assert.Zero(t, tr.Descriptors().Full.Len())

	// Released exactly once.
	tr.Free()
	assert.Equal(t, before, pool.Free())
	assert.Zero(t, g.udc.DisableCount(source.Address()))
}

func TestSetAlt_HighSpeedScenario(t *testing.T) {
	g := newTestGadget(t, sim.WithSpeed(hal.SpeedHigh))
	pool := g.dev.Pool()
	before := pool.Free()

	tr := g.bind(t)
	source, sink := tr.Source(), tr.Sink()

	require.NoError(t, tr.SetAlt(0, 1))
	assert.True(t, tr.Enabled())
	assert.Equal(t, uint16(512), source.MaxPacketSize())
	assert.Equal(t, uint16(512), sink.MaxPacketSize())
	for _, ep := range []*device.Endpoint{source, sink} {
		cfg, ok := g.udc.Enabled(ep.Address())
		require.True(t, ok)
		assert.Equal(t, uint16(512), cfg.MaxPacketSize)
	}
	alt, err := tr.GetAlt(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), alt)

	// Re-selecting restarts both endpoints.
	require.NoError(t, tr.SetAlt(0, 1))
	assert.True(t, tr.Enabled())
	assert.Equal(t, 2, g.udc.EnableCount(source.Address()))
	assert.Equal(t, 2, g.udc.EnableCount(sink.Address()))
	assert.Equal(t, 1, g.udc.DisableCount(source.Address()))
	assert.Equal(t, 1, g.udc.DisableCount(sink.Address()))
	alt, err = tr.GetAlt(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), alt)
	assert.Equal(t, before-2, pool.Free())

	tr.Disable()
	assert.Equal(t, device.EndpointDisabled, source.State())
	assert.Equal(t, device.EndpointDisabled, sink.State())
	assert.Equal(t, 0, g.udc.NumEnabled())

	tr.Free()
	assert.Equal(t, before, pool.Free())
}

func TestSetAlt_Speeds(t *testing.T) {
	tests := []struct {
		speed  hal.Speed
		packet uint16
		burst  bool
	}{
		{hal.SpeedFull, 64, false},
		{hal.SpeedHigh, 512, false},
		{hal.SpeedSuper, 1024, true},
	}
	for _, tt := range tests {
		t.Run(tt.speed.String(), func(t *testing.T) {
			g := newTestGadget(t, sim.WithSpeed(tt.speed))
			tr := g.bind(t)
			require.NoError(t, tr.SetAlt(0, 0))

			for _, ep := range []*device.Endpoint{tr.Source(), tr.Sink()} {
				assert.Equal(t, tt.packet, ep.MaxPacketSize())
				if tt.burst {
					require.NotNil(t, ep.Companion())
					assert.Zero(t, ep.Companion().MaxBurst)
				} else {
					assert.Nil(t, ep.Companion())
				}
			}
		})
	}
}

func TestSetAlt_WrongInterface(t *testing.T) {
	g := newTestGadget(t)
	tr := g.bind(t)

	err := tr.SetAlt(1, 0)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
	assert.Equal(t, 0, g.udc.NumEnabled())
	_, ok := tr.Alternate()
	assert.False(t, ok)

	_, err = tr.GetAlt(3)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestSetAlt_Unbound(t *testing.T) {
	tr := New()
	assert.ErrorIs(t, tr.SetAlt(0, 0), pkg.ErrInvalidState)
	_, err := tr.GetAlt(0)
	assert.ErrorIs(t, err, pkg.ErrInvalidState)
	assert.False(t, tr.Enabled())

	// No-ops before bind.
	tr.Disable()
	tr.Free()
}

func TestSetAlt_SpeedConfigMismatch(t *testing.T) {
	g := newTestGadget(t, sim.WithSpeed(hal.SpeedHigh))
	tr := g.bind(t)
	require.NoError(t, tr.SetAlt(0, 2))

	require.NoError(t, g.udc.SetSpeed(hal.SpeedUnknown))
	err := tr.SetAlt(0, 3)
	require.ErrorIs(t, err, pkg.ErrSpeedConfigMismatch)

	assert.False(t, tr.Enabled())
	assert.Equal(t, device.EndpointDisabled, tr.Source().State())
	assert.Equal(t, device.EndpointDisabled, tr.Sink().State())
	alt, ok := tr.Alternate()
	assert.True(t, ok)
	assert.Equal(t, uint8(2), alt)
}

func TestSetAlt_EnableFailure(t *testing.T) {
	g := newTestGadget(t, sim.WithSpeed(hal.SpeedHigh))
	tr := g.bind(t)

	hwErr := errors.New("fifo allocation failed")
	g.udc.FailEnable(tr.Sink().Address(), hwErr)

	err := tr.SetAlt(0, 1)
	require.ErrorIs(t, err, hwErr)

	// The source was enabled first and is stopped again.
	assert.Equal(t, 1, g.udc.EnableCount(tr.Source().Address()))
	assert.Equal(t, device.EndpointDisabled, tr.Source().State())
	assert.Equal(t, device.EndpointDisabled, tr.Sink().State())
	assert.Equal(t, 0, g.udc.NumEnabled())
	_, ok := tr.Alternate()
	assert.False(t, ok)

	g.udc.FailEnable(tr.Sink().Address(), nil)
	require.NoError(t, tr.SetAlt(0, 1))
	assert.True(t, tr.Enabled())
}

func TestDisable(t *testing.T) {
	g := newTestGadget(t, sim.WithSpeed(hal.SpeedHigh))
	tr := g.bind(t)

	// Already Bound-Disabled.
	tr.Disable()
	_, ok := tr.Alternate()
	assert.False(t, ok)
	assert.Zero(t, g.udc.DisableCount(tr.Source().Address()))

	require.NoError(t, tr.SetAlt(0, 1))
	tr.Disable()
	tr.Disable()
	alt, err := tr.GetAlt(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), alt)
	assert.Equal(t, 1, g.udc.DisableCount(tr.Source().Address()))
	assert.Equal(t, 1, g.udc.DisableCount(tr.Sink().Address()))
}

func TestDisable_HardwareError(t *testing.T) {
	g := newTestGadget(t, sim.WithSpeed(hal.SpeedHigh))
	tr := g.bind(t)
	require.NoError(t, tr.SetAlt(0, 0))

	g.udc.FailDisable(tr.Source().Address(), errors.New("controller busy"))
	tr.Disable()

	// The sink is disabled regardless of the source's failure.
	assert.Equal(t, device.EndpointDisabled, tr.Source().State())
	assert.Equal(t, device.EndpointDisabled, tr.Sink().State())
	_, sinkEnabled := g.udc.Enabled(tr.Sink().Address())
	assert.False(t, sinkEnabled)

	before := g.dev.Pool().Free()
	tr.Free()
	assert.Equal(t, before+2, g.dev.Pool().Free())
}

func TestComposite_Configuration(t *testing.T) {
	g := newTestGadget(t, sim.WithSpeed(hal.SpeedSuper))
	tr := g.bind(t)

	require.NoError(t, g.dev.SetAddress(3))
	require.NoError(t, g.dev.SetConfiguration(1))
	assert.True(t, tr.Enabled())
	assert.Equal(t, uint16(1024), tr.Source().MaxPacketSize())

	require.NoError(t, g.dev.SetInterface(0, 1))
	alt, err := g.dev.GetInterface(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), alt)

	var buf [128]byte
	n := g.config.MarshalTo(buf[:], device.SpeedSuper)
	assert.Equal(t, device.ConfigurationDescriptorSize+tr.Descriptors().Super.Size(), n)
	assert.Equal(t, uint8(1), buf[4]) // bNumInterfaces

	require.NoError(t, g.dev.SetConfiguration(0))
	assert.False(t, tr.Enabled())

	before := g.dev.Pool().Free()
	require.NoError(t, g.dev.Close())
	assert.False(t, tr.Bound())
	assert.Equal(t, before+2, g.dev.Pool().Free())
}
