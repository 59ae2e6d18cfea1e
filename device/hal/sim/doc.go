// Package sim implements an in-memory USB device controller.
//
// The simulated controller satisfies [hal.UDC] without any hardware. It is
// intended for tests and examples that exercise the composite device and its
// functions: endpoint claims, enable/disable sequencing, and speed-dependent
// descriptor selection.
//
// # Endpoint Layout
//
// Physical endpoints are declared by controller name:
//
//	udc, err := sim.New(
//	    sim.WithEndpoints("ep1in-bulk", "ep2out-bulk"),
//	    sim.WithSpeed(hal.SpeedHigh),
//	)
//
// # Observing the Lifecycle
//
// Every successful enable and disable is counted per endpoint address, and
// the configuration an endpoint was last enabled with is retained until it
// is disabled:
//
//	cfg, ok := udc.Enabled(0x81)
//	n := udc.EnableCount(0x81)
//
// # Failure Injection
//
// [UDC.FailEnable] and [UDC.FailDisable] make the controller reject requests
// for one endpoint, which lets tests drive the error paths of a function.
//
// Each controller carries a random instance identifier ([UDC.ID]) that is
// attached to its log records so several simulated controllers can be told
// apart in one process.
package sim
