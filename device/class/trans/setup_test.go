package trans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softgadget/device"
	"github.com/ardnew/softgadget/device/hal"
	"github.com/ardnew/softgadget/device/hal/sim"
	"github.com/ardnew/softgadget/pkg"
)

const vendorIn = device.RequestDirectionDeviceToHost | device.RequestTypeVendor

func TestSetup_Gate(t *testing.T) {
	g := newTestGadget(t, sim.WithSpeed(hal.SpeedHigh))
	tr := g.bind(t)
	require.NoError(t, tr.SetAlt(0, 1))

	tests := []struct {
		name      string
		setup     device.SetupPacket
		addressed bool
	}{
		{
			"own interface",
			device.SetupPacket{RequestType: vendorIn | device.RequestRecipientInterface, Request: 0x01, Index: 0, Length: 64},
			true,
		},
		{
			"other interface",
			device.SetupPacket{RequestType: vendorIn | device.RequestRecipientInterface, Request: 0x01, Index: 7, Length: 64},
			false,
		},
		{
			"interface number in high byte",
			device.SetupPacket{RequestType: vendorIn | device.RequestRecipientInterface, Index: 0x0100, Length: 8},
			false,
		},
		{
			"source endpoint",
			device.SetupPacket{RequestType: vendorIn | device.RequestRecipientEndpoint, Index: 0x81, Length: 2},
			true,
		},
		{
			"sink endpoint",
			device.SetupPacket{RequestType: vendorIn | device.RequestRecipientEndpoint, Index: 0x02, Length: 2},
			true,
		},
		{
			"foreign endpoint",
			device.SetupPacket{RequestType: vendorIn | device.RequestRecipientEndpoint, Index: 0x85, Length: 2},
			false,
		},
		{
			"other recipient",
			device.SetupPacket{RequestType: vendorIn | device.RequestRecipientOther, Length: 2},
			false,
		},
		{
			"unrecognized fields",
			device.SetupPacket{RequestType: vendorIn | device.RequestRecipientInterface, Request: 0xFF, Value: 0xFFFF, Index: 0, Length: 0xFFFF},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req device.ControlRequest
			req.Length = 7
			descriptors := tr.Descriptors()

			n, err := tr.Setup(&tt.setup, &req)
			assert.ErrorIs(t, err, pkg.ErrNotSupported)
			assert.Zero(t, n)
			if tt.addressed {
				assert.Equal(t, device.MaxControlDataSize, req.Length)
			} else {
				assert.Equal(t, 7, req.Length)
			}

			// The function record is untouched either way.
			alt, ok := tr.Alternate()
			assert.True(t, ok)
			assert.Equal(t, uint8(1), alt)
			assert.Equal(t, uint8(0), tr.InterfaceNumber())
			assert.True(t, tr.Enabled())
			assert.Equal(t, descriptors, tr.Descriptors())
		})
	}
}

func TestSetup_Unbound(t *testing.T) {
	tr := New()
	var req device.ControlRequest
	setup := device.SetupPacket{RequestType: vendorIn | device.RequestRecipientInterface, Length: 4}

	_, err := tr.Setup(&setup, &req)
	assert.ErrorIs(t, err, pkg.ErrNotSupported)
	assert.Zero(t, req.Length)
}

func TestSetup_VendorHandler(t *testing.T) {
	g := newTestGadget(t)
	tr := g.bind(t)

	var calls int
	tr.SetVendorHandler(VendorHandlerFunc(func(setup *device.SetupPacket, req *device.ControlRequest) (int, error) {
		calls++
		assert.Equal(t, device.MaxControlDataSize, req.Length)
		switch setup.Request {
		case 0x01:
			return copy(req.Buf[:], "trans-v1"), nil
		case 0x02:
			return len(req.Received()), nil
		}
		return 0, pkg.ErrNotSupported
	}))

	var req device.ControlRequest
	setup := device.SetupPacket{RequestType: vendorIn | device.RequestRecipientInterface, Request: 0x01, Length: 64}
	n, err := tr.Setup(&setup, &req)
	require.NoError(t, err)
	assert.Equal(t, "trans-v1", string(req.Buf[:n]))

	setup.Request = 0x09
	_, err = tr.Setup(&setup, &req)
	assert.ErrorIs(t, err, pkg.ErrNotSupported)

	setup.Index = 4
	_, err = tr.Setup(&setup, &req)
	assert.ErrorIs(t, err, pkg.ErrNotSupported)
	assert.Equal(t, 2, calls)

	tr.SetVendorHandler(nil)
	setup.Index = 0
	setup.Request = 0x01
	_, err = tr.Setup(&setup, &req)
	assert.ErrorIs(t, err, pkg.ErrNotSupported)
	assert.Equal(t, 2, calls)
}

func TestSetup_ThroughComposite(t *testing.T) {
	g := newTestGadget(t)
	tr := g.bind(t)
	tr.SetVendorHandler(VendorHandlerFunc(func(setup *device.SetupPacket, req *device.ControlRequest) (int, error) {
		if setup.IsHostToDevice() {
			return 0, nil
		}
		return copy(req.Buf[:], "0123456789"), nil
	}))
	require.NoError(t, g.dev.SetAddress(1))
	require.NoError(t, g.dev.SetConfiguration(1))

	// The response never exceeds wLength.
	setup := device.SetupPacket{RequestType: vendorIn | device.RequestRecipientInterface, Request: 0x01, Length: 4}
	data, err := g.dev.Setup(&setup, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123"), data)

	out := device.SetupPacket{
		RequestType: device.RequestDirectionHostToDevice | device.RequestTypeVendor | device.RequestRecipientInterface,
		Request:     0x02,
		Length:      3,
	}
	_, err = g.dev.Setup(&out, []byte{1, 2, 3})
	require.NoError(t, err)

	// OUT data past wLength never reaches the function.
	var received []byte
	tr.SetVendorHandler(VendorHandlerFunc(func(setup *device.SetupPacket, req *device.ControlRequest) (int, error) {
		received = append([]byte(nil), req.Received()...)
		return 0, nil
	}))
	out.Length = 2
	_, err = g.dev.Setup(&out, []byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, received)

	// Requests for an interface nobody owns stall.
	setup.Index = 3
	_, err = g.dev.Setup(&setup, nil)
	assert.ErrorIs(t, err, pkg.ErrNotSupported)
}
