// Package trans implements the vendor bulk transport function ("gadget
// trans") for the softgadget composite device.
//
// The function exposes one vendor-specific interface (class 0xFF) with two
// bulk endpoints: a source (IN, device to host) and a sink (OUT, host to
// device). It does not move data itself; it claims the endpoints, describes
// them for every speed and starts or stops them as the host configures the
// device.
//
// # Descriptors
//
// Tables are built per bind from fixed templates:
//
//   - Full speed: interface, sink, source (packet size from autoconfig)
//   - High speed: interface, source, sink (512 bytes)
//   - SuperSpeed: interface, source, companion, sink, companion (1024
//     bytes, no bursting)
//
// # Lifecycle
//
//   - Bind claims the interface number, the "gadget trans data" string and
//     the two endpoints, then installs the tables
//   - SetAlt disables both endpoints and enables source then sink with the
//     descriptors for the negotiated speed
//   - Disable stops both endpoints and logs hardware errors
//   - Free releases everything Bind claimed
//
// # Control Requests
//
// Setup declines requests for other interfaces untouched. Requests for the
// transport interface are handed to an optional [VendorHandler]; without
// one they stall.
//
// # Usage
//
//	t := trans.New()
//	t.SetVendorHandler(trans.VendorHandlerFunc(
//	    func(setup *device.SetupPacket, req *device.ControlRequest) (int, error) {
//	        if setup.Request != 0x01 {
//	            return 0, pkg.ErrNotSupported
//	        }
//	        return copy(req.Buf[:], "ok"), nil
//	    }))
//
//	config := device.NewConfiguration(1)
//	dev.AddConfiguration(config)
//	if err := dev.AddFunction(config, t); err != nil {
//	    return err
//	}
package trans
