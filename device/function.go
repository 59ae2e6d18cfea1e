package device

// Function is a logical capability bound into a configuration of a
// composite device.
//
// The composite calls these methods serially for a given function and never
// while holding its own locks. Bind happens before any other call, and Free
// after all others have returned. None of the methods may block.
type Function interface {
	// Name returns a short name used in logs.
	Name() string

	// Bind allocates the function's interface numbers, strings and
	// endpoints from c and installs its descriptor tables. On error the
	// function must release the endpoints it claimed; the composite
	// reclaims its interface numbers. Strings are never reclaimed.
	Bind(c *Configuration) error

	// SetAlt selects alternate setting alt of interface intf and
	// (re)starts the endpoints of that interface.
	SetAlt(intf, alt uint8) error

	// GetAlt returns the current alternate setting of interface intf.
	GetAlt(intf uint8) (uint8, error)

	// Disable stops every endpoint of the function. It must be safe to
	// call on a function whose endpoints are already disabled.
	Disable()

	// Setup handles a class or vendor control request addressed to one of
	// the function's interfaces. It returns the number of bytes to send in
	// the data stage, or pkg.ErrNotSupported if the request is not handled.
	Setup(setup *SetupPacket, req *ControlRequest) (int, error)

	// Free returns every resource acquired by Bind. Calling Free on a
	// function that is not bound does nothing.
	Free()
}

// ControlRequest is the EP0 request buffer shared by all functions of a
// composite device.
type ControlRequest struct {
	// Buf holds the data stage payload. For host-to-device requests it
	// contains the received data; for device-to-host requests the function
	// writes its response here.
	Buf [MaxControlDataSize]byte

	// Length is the data stage size the function prepared.
	Length int

	received int
}

// Reset clears the request before it is offered to a function.
func (r *ControlRequest) Reset() {
	r.Length = 0
	r.received = 0
}

// Received returns the host-to-device data stage payload.
func (r *ControlRequest) Received() []byte {
	return r.Buf[:r.received]
}

// setReceived copies the OUT data stage into the buffer.
func (r *ControlRequest) setReceived(data []byte) {
	r.received = copy(r.Buf[:], data)
}

// Data returns the device-to-host payload to send for setup: at most
// Length bytes, and never more than the host asked for in wLength.
func (r *ControlRequest) Data(setup *SetupPacket) []byte {
	n := r.Length
	if n < 0 {
		n = 0
	}
	if n > len(r.Buf) {
		n = len(r.Buf)
	}
	if n > int(setup.Length) {
		n = int(setup.Length)
	}
	return r.Buf[:n]
}
