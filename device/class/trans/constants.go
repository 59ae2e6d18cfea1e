package trans

// Function identity.
const (
	// FunctionName is the name the function reports to the composite.
	FunctionName = "gadget trans"

	// InterfaceString describes the data interface (iInterface).
	InterfaceString = "gadget trans data"
)

// Interface class codes.
const (
	InterfaceClass    = 0xFF // vendor specific
	InterfaceSubClass = 0x00
	InterfaceProtocol = 0x00
)

// NumEndpoints is the number of endpoints of the data interface.
const NumEndpoints = 2

// Bulk max packet sizes per speed.
const (
	HighSpeedMaxPacketSize  = 512
	SuperSpeedMaxPacketSize = 1024
)

// Data path defaults, kept for the transfer collaborator.
const (
	DefaultQueueLength  = 32
	DefaultBufferLength = 4096
)
