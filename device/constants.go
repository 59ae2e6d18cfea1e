package device

import (
	"fmt"

	"github.com/ardnew/softgadget/device/hal"
)

// Maximum limits for fixed-size arrays (zero-allocation support).
const (
	// MaxInterfacesPerConfiguration is the maximum number of interfaces per
	// configuration, matching the Linux composite framework.
	MaxInterfacesPerConfiguration = 16

	// MaxFunctionsPerConfiguration is the maximum number of functions bound
	// into one configuration.
	MaxFunctionsPerConfiguration = MaxInterfacesPerConfiguration

	// MaxConfigurations is the maximum number of configurations per device.
	MaxConfigurations = 4

	// MaxStrings is the maximum number of string descriptors per device.
	MaxStrings = 32

	// MaxStringDescriptorSize is the largest encoded string descriptor.
	MaxStringDescriptorSize = 255

	// MaxControlDataSize is the capacity of the EP0 request buffer shared by
	// all functions of a composite device.
	MaxControlDataSize = 4096
)

// Speed is the negotiated link speed as the device layer sees it. Values
// match hal.Speed.
type Speed uint8

const (
	SpeedUnknown Speed = iota
	SpeedLow           // 1.5 Mbps
	SpeedFull          // 12 Mbps
	SpeedHigh          // 480 Mbps
	SpeedSuper         // 5 Gbps
)

// speedTraits holds per-speed packet limits.
var speedTraits = [...]struct {
	name string
	ep0  uint16 // bMaxPacketSize0
	bulk uint16 // bulk wMaxPacketSize; full speed: the largest allowed
}{
	SpeedUnknown: {"", 8, 64},
	SpeedLow:     {"Low Speed (1.5 Mbps)", 8, 64},
	SpeedFull:    {"Full Speed (12 Mbps)", 64, 64},
	SpeedHigh:    {"High Speed (480 Mbps)", 64, 512},
	SpeedSuper:   {"Super Speed (5 Gbps)", 512, 1024},
}

func (s Speed) known() bool { return s > SpeedUnknown && int(s) < len(speedTraits) }

func (s Speed) String() string {
	if !s.known() {
		return fmt.Sprintf("Unknown Speed (%d)", s)
	}
	return speedTraits[s].name
}

// MaxPacketSize0 returns the EP0 packet size used at s.
func (s Speed) MaxPacketSize0() uint16 {
	if !s.known() {
		return speedTraits[SpeedUnknown].ep0
	}
	return speedTraits[s].ep0
}

// BulkMaxPacketSize returns the bulk packet size required at high and super
// speed, and the largest one allowed at full speed.
func (s Speed) BulkMaxPacketSize() uint16 {
	if !s.known() {
		return speedTraits[SpeedUnknown].bulk
	}
	return speedTraits[s].bulk
}

func speedFromHAL(s hal.Speed) Speed {
	if v := Speed(s); v.known() {
		return v
	}
	return SpeedUnknown
}
