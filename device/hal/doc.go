// Package hal defines the hardware abstraction consumed by the softgadget
// composite device.
//
// A USB device controller (UDC) owns a fixed set of physical endpoints. The
// composite device claims some of them for its functions at bind time and
// enables or disables them as the host selects configurations and alternate
// settings. The HAL is limited to exactly those operations; the bulk data
// path and EP0 signalling live outside of it.
//
// # Interface Overview
//
// The [UDC] interface defines the contract:
//
//   - [UDC.Endpoints] lists the physical endpoints and their capabilities
//   - [UDC.EnableEndpoint] activates an endpoint with a speed-specific [EndpointConfig]
//   - [UDC.DisableEndpoint] deactivates it again
//   - [UDC.Speed] and [UDC.MaxSpeed] report the negotiated and supported link speed
//
// Enable and disable are called from composite callbacks that must not
// block. Implementations should complete them synchronously and report
// failure through the returned error.
//
// # Endpoint Names
//
// Endpoints are described using the naming convention of Linux device
// controllers, parsed by [ParseEndpointName]:
//
//	ep1in-bulk   endpoint 1, IN only, bulk only
//	ep2out       endpoint 2, OUT only, any non-control type
//	ep3          endpoint 3, either direction, any non-control type
//
// A simulated controller for testing is available in
// [github.com/ardnew/softgadget/device/hal/sim].
package hal
