// Package device implements the device side of a composite USB gadget.
//
// It interacts with hardware via the [hal.UDC] interface defined in the
// [github.com/ardnew/softgadget/device/hal] package, which exposes the
// physical endpoints of a device controller and lets the stack enable and
// disable them.
//
// # Architecture
//
//   - [Composite] owns the device descriptor, the string table, the
//     configurations and the controller's [EndpointPool]
//   - [Configuration] groups [Function] implementations and hands out
//     interface numbers, strings and endpoints while they bind
//   - [Endpoint] is a claimed hardware endpoint with an explicit lifecycle
//   - [DescriptorTable] and [DescriptorSet] hold the per-speed descriptors a
//     function advertises
//   - [Stack] runs the control endpoint over a [hal.ControlPipe]
//
// # Function Lifecycle
//
// A function is added with [Composite.AddFunction], which calls Bind. When
// the host selects a configuration, every interface is put in alternate
// setting 0 through SetAlt; SET_INTERFACE calls SetAlt again. Changing or
// leaving the configuration and bus resets call Disable. [Composite.Close]
// calls Free once for every bound function.
//
// Endpoint handles move through three states:
//
//	Unbound → Bound-Disabled → Enabled → Bound-Disabled → Unbound
//
// A handle is created Bound-Disabled by [EndpointPool.Autoconfig] and becomes
// Unbound for good when released, so a stale handle can never be enabled or
// released twice.
//
// # Speeds
//
// Functions supply descriptor tables for full, high and SuperSpeed. The
// composite picks the table for the negotiated speed when it answers
// GET_DESCRIPTOR, and [Configuration.ConfigEndpointBySpeed] picks the
// descriptor an endpoint is enabled with.
//
// # Zero-Allocation Design
//
// Descriptors serialize via MarshalTo(buf) and parse via functions with
// output parameters. Configurations and string tables use fixed-size arrays.
//
// # Example
//
//	udc, _ := sim.New(sim.WithSpeed(hal.SpeedHigh))
//	dev := device.NewComposite(&device.DeviceDescriptor{
//	    USBVersion:     0x0200,
//	    VendorID:       0x1d6b,
//	    ProductID:      0x0104,
//	    MaxPacketSize0: 64,
//	}, udc)
//	config := device.NewConfiguration(1)
//	dev.AddConfiguration(config)
//	dev.AddFunction(config, trans.New())
//	stack := device.NewStack(dev, udc)
//	stack.Start(ctx)
//
// A simulated controller for testing is available in
// [github.com/ardnew/softgadget/device/hal/sim].
package device
