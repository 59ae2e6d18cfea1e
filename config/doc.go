// Package config loads and saves the layout of a softgadget gadget from an
// INI file.
//
// A file has up to five sections; keys that are missing keep their
// [Default] values and unknown keys are ignored:
//
//	[device]
//	vendor-id    = 0x1d6b
//	product-id   = 0x0104
//	release      = 0x0100
//	manufacturer = softgadget
//	product      = Gadget Transport
//	serial       = 0001
//
//	[configuration]
//	value         = 1
//	max-power     = 250    ; mA
//	self-powered  = false
//	remote-wakeup = false
//
//	[udc]
//	name         = sim0
//	speed        = high   ; negotiated: low|full|high|super
//	max-speed    = super
//	endpoints    = ep1in-bulk ep2out-bulk ep3in-int ep4in ep4out
//	packet-limit = 1024
//
//	[trans]
//	qlen   = 32
//	buflen = 4096
//
//	[log]
//	level  = warn   ; debug|info|warn|error
//	format = text   ; text|json
//
// Malformed numbers, booleans, speeds and log settings are reported as errors wrapping
// pkg.ErrInvalidParameter.
package config
