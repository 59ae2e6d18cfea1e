package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softgadget/device/hal"
	"github.com/ardnew/softgadget/pkg"
)

// Standard request codes (USB 2.0 Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Feature selectors (USB 2.0 Table 9-6).
const (
	FeatureEndpointHalt       = 0x00
	FeatureDeviceRemoteWakeup = 0x01
	FeatureTestMode           = 0x02
)

// bmRequestType fields (USB 2.0 Table 9-2).
const (
	RequestTypeDirectionMask = 0x80
	RequestTypeTypeMask      = 0x60
	RequestTypeRecipientMask = 0x1F

	RequestDirectionHostToDevice = 0x00
	RequestDirectionDeviceToHost = 0x80

	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40

	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02
	RequestRecipientOther     = 0x03
)

var requestNames = [...]string{
	RequestGetStatus:        "GET_STATUS",
	RequestClearFeature:     "CLEAR_FEATURE",
	RequestSetFeature:       "SET_FEATURE",
	RequestSetAddress:       "SET_ADDRESS",
	RequestGetDescriptor:    "GET_DESCRIPTOR",
	RequestSetDescriptor:    "SET_DESCRIPTOR",
	RequestGetConfiguration: "GET_CONFIGURATION",
	RequestSetConfiguration: "SET_CONFIGURATION",
	RequestGetInterface:     "GET_INTERFACE",
	RequestSetInterface:     "SET_INTERFACE",
	RequestSynchFrame:       "SYNCH_FRAME",
}

// SetupPacket is the 8-byte SETUP stage of a control transfer.
type SetupPacket struct {
	RequestType uint8  // bmRequestType
	Request     uint8  // bRequest
	Value       uint16 // wValue
	Index       uint16 // wIndex
	Length      uint16 // wLength: data stage size limit
}

// SetupPacketSize is the size of a SETUP packet on the wire.
const SetupPacketSize = 8

// ParseSetupPacket decodes a little-endian SETUP packet into out.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if len(data) < SetupPacketSize {
		return pkg.ErrSetupPacketTooShort
	}
	*out = SetupPacket{
		RequestType: data[0],
		Request:     data[1],
		Value:       binary.LittleEndian.Uint16(data[2:]),
		Index:       binary.LittleEndian.Uint16(data[4:]),
		Length:      binary.LittleEndian.Uint16(data[6:]),
	}
	return nil
}

// MarshalTo encodes the packet into buf and returns SetupPacketSize, or 0
// if buf is too short.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:], s.Value)
	binary.LittleEndian.PutUint16(buf[4:], s.Index)
	binary.LittleEndian.PutUint16(buf[6:], s.Length)
	return SetupPacketSize
}

// setupFromHAL converts a packet read from a control pipe.
func setupFromHAL(p *hal.SetupPacket) SetupPacket {
	return SetupPacket{
		RequestType: p.RequestType,
		Request:     p.Request,
		Value:       p.Value,
		Index:       p.Index,
		Length:      p.Length,
	}
}

// HAL returns the packet in the form a hal.ControlPipe carries.
func (s SetupPacket) HAL() hal.SetupPacket {
	return hal.SetupPacket{
		RequestType: s.RequestType,
		Request:     s.Request,
		Value:       s.Value,
		Index:       s.Index,
		Length:      s.Length,
	}
}

// Direction returns the direction bit of bmRequestType.
func (s *SetupPacket) Direction() uint8 { return s.RequestType & RequestTypeDirectionMask }

// IsDeviceToHost reports an IN data stage.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.Direction() == RequestDirectionDeviceToHost
}

// IsHostToDevice reports an OUT data stage (or none).
func (s *SetupPacket) IsHostToDevice() bool {
	return s.Direction() == RequestDirectionHostToDevice
}

// Type returns the request type bits of bmRequestType.
func (s *SetupPacket) Type() uint8 { return s.RequestType & RequestTypeTypeMask }

func (s *SetupPacket) IsStandard() bool { return s.Type() == RequestTypeStandard }
func (s *SetupPacket) IsClass() bool    { return s.Type() == RequestTypeClass }
func (s *SetupPacket) IsVendor() bool   { return s.Type() == RequestTypeVendor }

// Recipient returns the recipient bits of bmRequestType.
func (s *SetupPacket) Recipient() uint8 { return s.RequestType & RequestTypeRecipientMask }

func (s *SetupPacket) IsDeviceRecipient() bool {
	return s.Recipient() == RequestRecipientDevice
}

func (s *SetupPacket) IsInterfaceRecipient() bool {
	return s.Recipient() == RequestRecipientInterface
}

func (s *SetupPacket) IsEndpointRecipient() bool {
	return s.Recipient() == RequestRecipientEndpoint
}

// DescriptorType returns the GET_DESCRIPTOR type (wValue high byte).
func (s *SetupPacket) DescriptorType() uint8 { return uint8(s.Value >> 8) }

// DescriptorIndex returns the GET_DESCRIPTOR index (wValue low byte).
func (s *SetupPacket) DescriptorIndex() uint8 { return uint8(s.Value) }

// InterfaceNumber returns the interface an interface-recipient request
// addresses (wIndex low byte).
func (s *SetupPacket) InterfaceNumber() uint8 { return uint8(s.Index) }

// EndpointAddress returns the endpoint an endpoint-recipient request
// addresses (wIndex low byte).
func (s *SetupPacket) EndpointAddress() uint8 { return uint8(s.Index) }

// RequestName returns the name of a standard request code.
func RequestName(request uint8) string {
	if int(request) < len(requestNames) && requestNames[request] != "" {
		return requestNames[request]
	}
	return fmt.Sprintf("0x%02X", request)
}

// String formats the packet for logs, e.g.
// "IN vendor interface req=0x01 value=0x0000 index=0x0000 len=64".
func (s *SetupPacket) String() string {
	dir := "OUT"
	if s.IsDeviceToHost() {
		dir = "IN"
	}
	var typ string
	switch s.Type() {
	case RequestTypeStandard:
		typ = "standard"
	case RequestTypeClass:
		typ = "class"
	case RequestTypeVendor:
		typ = "vendor"
	default:
		typ = "reserved"
	}
	var recipient string
	switch s.Recipient() {
	case RequestRecipientDevice:
		recipient = "device"
	case RequestRecipientInterface:
		recipient = "interface"
	case RequestRecipientEndpoint:
		recipient = "endpoint"
	default:
		recipient = "other"
	}
	req := fmt.Sprintf("req=0x%02X", s.Request)
	if s.IsStandard() {
		req = RequestName(s.Request)
	}
	return fmt.Sprintf("%s %s %s %s value=0x%04X index=0x%04X len=%d",
		dir, typ, recipient, req, s.Value, s.Index, s.Length)
}

// Request builders for host-side scripts and tests.

func standardRequest(dir, recipient, request uint8, value, index, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: dir | RequestTypeStandard | recipient,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	}
}

// GetDescriptorRequest asks for descriptor descType/descIndex.
func GetDescriptorRequest(descType, descIndex uint8, length uint16) SetupPacket {
	return standardRequest(RequestDirectionDeviceToHost, RequestRecipientDevice,
		RequestGetDescriptor, uint16(descType)<<8|uint16(descIndex), 0, length)
}

// GetStringRequest asks for string descIndex in US English.
func GetStringRequest(descIndex uint8, length uint16) SetupPacket {
	s := GetDescriptorRequest(DescriptorTypeString, descIndex, length)
	if descIndex != 0 {
		s.Index = LangIDUSEnglish
	}
	return s
}

// SetAddressRequest assigns the device address.
func SetAddressRequest(address uint8) SetupPacket {
	return standardRequest(RequestDirectionHostToDevice, RequestRecipientDevice,
		RequestSetAddress, uint16(address), 0, 0)
}

// SetConfigurationRequest selects configuration value; 0 unconfigures.
func SetConfigurationRequest(value uint8) SetupPacket {
	return standardRequest(RequestDirectionHostToDevice, RequestRecipientDevice,
		RequestSetConfiguration, uint16(value), 0, 0)
}

// GetConfigurationRequest reads the active configuration value.
func GetConfigurationRequest() SetupPacket {
	return standardRequest(RequestDirectionDeviceToHost, RequestRecipientDevice,
		RequestGetConfiguration, 0, 0, 1)
}

// GetStatusRequest reads the status word of a device, interface or
// endpoint.
func GetStatusRequest(recipient uint8, index uint16) SetupPacket {
	return standardRequest(RequestDirectionDeviceToHost, recipient,
		RequestGetStatus, 0, index, 2)
}

// FeatureRequest sets (or clears when set is false) a feature.
func FeatureRequest(set bool, recipient uint8, feature, index uint16) SetupPacket {
	request := uint8(RequestClearFeature)
	if set {
		request = RequestSetFeature
	}
	return standardRequest(RequestDirectionHostToDevice, recipient,
		request, feature, index, 0)
}

// SetInterfaceRequest selects alternate setting alt of interface intf.
func SetInterfaceRequest(intf, alt uint8) SetupPacket {
	return standardRequest(RequestDirectionHostToDevice, RequestRecipientInterface,
		RequestSetInterface, uint16(alt), uint16(intf), 0)
}

// GetInterfaceRequest reads the alternate setting of interface intf.
func GetInterfaceRequest(intf uint8) SetupPacket {
	return standardRequest(RequestDirectionDeviceToHost, RequestRecipientInterface,
		RequestGetInterface, 0, uint16(intf), 1)
}

// VendorRequest builds a vendor-specific request. in selects an IN data
// stage of up to length bytes.
func VendorRequest(in bool, recipient, request uint8, value, index, length uint16) SetupPacket {
	dir := uint8(RequestDirectionHostToDevice)
	if in {
		dir = RequestDirectionDeviceToHost
	}
	return SetupPacket{
		RequestType: dir | RequestTypeVendor | recipient,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	}
}
