package trans

import (
	"github.com/ardnew/softgadget/device"
	"github.com/ardnew/softgadget/pkg"
)

// Setup handles class and vendor control requests.
//
// Requests for another interface or endpoint are declined with
// pkg.ErrNotSupported before anything is touched. For requests addressed
// to this function the response length is preset to the full control
// buffer and the request is offered to the VendorHandler; without one it
// is declined.
//
// Only req.Received is read for OUT requests, which never holds more than
// wLength bytes.
func (t *Trans) Setup(setup *device.SetupPacket, req *device.ControlRequest) (int, error) {
	t.mutex.RLock()
	addressed := t.bound && t.addressedLocked(setup)
	vendor := t.vendor
	t.mutex.RUnlock()

	if !addressed {
		return 0, pkg.ErrNotSupported
	}

	req.Length = device.MaxControlDataSize

	pkg.LogDebug(pkg.ComponentFunction, "control request",
		"function", FunctionName,
		"setup", setup.String())

	if vendor == nil {
		return 0, pkg.ErrNotSupported
	}
	return vendor.HandleSetup(setup, req)
}

// addressedLocked reports whether setup targets this function.
func (t *Trans) addressedLocked(setup *device.SetupPacket) bool {
	switch {
	case setup.IsInterfaceRecipient():
		return setup.Index == uint16(t.intf)
	case setup.IsEndpointRecipient():
		addr := setup.EndpointAddress()
		return setup.Index>>8 == 0 &&
			(addr == t.source.Address() || addr == t.sink.Address())
	case setup.IsDeviceRecipient():
		// Routed here only when this is the single function.
		return true
	}
	return false
}
