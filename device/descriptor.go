package device

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/ardnew/softgadget/pkg"
)

// Descriptor types (USB 3.2 Table 9-6).
const (
	DescriptorTypeDevice               = 0x01
	DescriptorTypeConfiguration        = 0x02
	DescriptorTypeString               = 0x03
	DescriptorTypeInterface            = 0x04
	DescriptorTypeEndpoint             = 0x05
	DescriptorTypeDeviceQualifier      = 0x06
	DescriptorTypeOtherSpeedConfig     = 0x07
	DescriptorTypeInterfaceAssociation = 0x0B
	DescriptorTypeBOS                  = 0x0F
	DescriptorTypeSSEndpointCompanion  = 0x30
)

// Encoded descriptor sizes (bLength).
const (
	DeviceDescriptorSize              = 18
	ConfigurationDescriptorSize       = 9
	InterfaceDescriptorSize           = 9
	EndpointDescriptorSize            = 7
	SSEndpointCompanionDescriptorSize = 6
	DeviceQualifierDescriptorSize     = 10
)

// Class codes used in device and interface descriptors.
const (
	ClassPerInterface = 0x00
	ClassVendor       = 0xFF
)

// Configuration bmAttributes bits.
const (
	ConfigAttrBusPowered   = 0x80 // reserved, always set
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// LangIDUSEnglish is the language ID for US English.
const LangIDUSEnglish = 0x0409

// Descriptor is a single record of a descriptor table.
type Descriptor interface {
	// Type returns bDescriptorType.
	Type() uint8

	// Size returns bLength, the encoded size in bytes.
	Size() int

	// MarshalTo serializes the descriptor to buf.
	// Returns the number of bytes written, or 0 if buf is too small.
	MarshalTo(buf []byte) int

	// Clone returns an independent copy of the descriptor.
	Clone() Descriptor
}

// encoder writes little-endian fields after a descriptor header.
type encoder struct {
	buf []byte
	off int
}

// newEncoder writes the bLength/bDescriptorType header. It returns false if
// buf cannot hold size bytes.
func newEncoder(buf []byte, size int, descType uint8) (encoder, bool) {
	if len(buf) < size {
		return encoder{}, false
	}
	buf[0] = uint8(size)
	buf[1] = descType
	return encoder{buf: buf, off: 2}, true
}

func (e *encoder) u8(v uint8) {
	e.buf[e.off] = v
	e.off++
}

func (e *encoder) u16(v uint16) {
	binary.LittleEndian.PutUint16(e.buf[e.off:], v)
	e.off += 2
}

// decoder reads little-endian fields after a descriptor header.
type decoder struct {
	data []byte
	off  int
}

// newDecoder validates the header of data against size and descType.
func newDecoder(data []byte, size int, descType uint8) (decoder, error) {
	if len(data) < size {
		return decoder{}, pkg.ErrDescriptorTooShort
	}
	if data[1] != descType {
		return decoder{}, pkg.ErrDescriptorTypeMismatch
	}
	return decoder{data: data, off: 2}, nil
}

func (d *decoder) u8() uint8 {
	v := d.data[d.off]
	d.off++
	return v
}

func (d *decoder) u16() uint16 {
	v := binary.LittleEndian.Uint16(d.data[d.off:])
	d.off += 2
	return v
}

// DeviceDescriptor is the 18-byte device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16 // bcdUSB
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // bcdDevice
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// MarshalTo serializes the descriptor to buf.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	e, ok := newEncoder(buf, DeviceDescriptorSize, DescriptorTypeDevice)
	if !ok {
		return 0
	}
	e.u16(d.USBVersion)
	e.u8(d.DeviceClass)
	e.u8(d.DeviceSubClass)
	e.u8(d.DeviceProtocol)
	e.u8(d.MaxPacketSize0)
	e.u16(d.VendorID)
	e.u16(d.ProductID)
	e.u16(d.DeviceVersion)
	e.u8(d.ManufacturerIndex)
	e.u8(d.ProductIndex)
	e.u8(d.SerialNumberIndex)
	e.u8(d.NumConfigurations)
	return e.off
}

// ParseDeviceDescriptor decodes a device descriptor into out.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	d, err := newDecoder(data, DeviceDescriptorSize, DescriptorTypeDevice)
	if err != nil {
		return err
	}
	*out = DeviceDescriptor{
		USBVersion:        d.u16(),
		DeviceClass:       d.u8(),
		DeviceSubClass:    d.u8(),
		DeviceProtocol:    d.u8(),
		MaxPacketSize0:    d.u8(),
		VendorID:          d.u16(),
		ProductID:         d.u16(),
		DeviceVersion:     d.u16(),
		ManufacturerIndex: d.u8(),
		ProductIndex:      d.u8(),
		SerialNumberIndex: d.u8(),
		NumConfigurations: d.u8(),
	}
	return nil
}

// MarshalQualifierTo writes the DEVICE_QUALIFIER form of the descriptor:
// the fields that stay the same at the other operating speed.
func (d *DeviceDescriptor) MarshalQualifierTo(buf []byte) int {
	e, ok := newEncoder(buf, DeviceQualifierDescriptorSize, DescriptorTypeDeviceQualifier)
	if !ok {
		return 0
	}
	e.u16(d.USBVersion)
	e.u8(d.DeviceClass)
	e.u8(d.DeviceSubClass)
	e.u8(d.DeviceProtocol)
	e.u8(d.MaxPacketSize0)
	e.u8(d.NumConfigurations)
	e.u8(0) // bReserved
	return e.off
}

// ConfigurationDescriptor is the 9-byte header of a configuration.
type ConfigurationDescriptor struct {
	TotalLength        uint16 // header plus every function table
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8 // 2 mA units
}

// MarshalTo serializes the descriptor to buf.
func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	return c.marshalAs(buf, DescriptorTypeConfiguration)
}

// marshalAs also serves OTHER_SPEED_CONFIGURATION, which shares the layout.
func (c *ConfigurationDescriptor) marshalAs(buf []byte, descType uint8) int {
	e, ok := newEncoder(buf, ConfigurationDescriptorSize, descType)
	if !ok {
		return 0
	}
	e.u16(c.TotalLength)
	e.u8(c.NumInterfaces)
	e.u8(c.ConfigurationValue)
	e.u8(c.ConfigurationIndex)
	e.u8(c.Attributes)
	e.u8(c.MaxPower)
	return e.off
}

// ParseConfigurationDescriptor decodes a configuration header into out.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) error {
	d, err := newDecoder(data, ConfigurationDescriptorSize, DescriptorTypeConfiguration)
	if err != nil {
		return err
	}
	*out = ConfigurationDescriptor{
		TotalLength:        d.u16(),
		NumInterfaces:      d.u8(),
		ConfigurationValue: d.u8(),
		ConfigurationIndex: d.u8(),
		Attributes:         d.u8(),
		MaxPower:           d.u8(),
	}
	return nil
}

// InterfaceDescriptor is the 9-byte interface descriptor.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8 // excluding EP0
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8 // iInterface
}

func (i *InterfaceDescriptor) Type() uint8 { return DescriptorTypeInterface }
func (i *InterfaceDescriptor) Size() int   { return InterfaceDescriptorSize }

func (i *InterfaceDescriptor) Clone() Descriptor {
	c := *i
	return &c
}

// MarshalTo serializes the descriptor to buf.
func (i *InterfaceDescriptor) MarshalTo(buf []byte) int {
	e, ok := newEncoder(buf, InterfaceDescriptorSize, DescriptorTypeInterface)
	if !ok {
		return 0
	}
	e.u8(i.InterfaceNumber)
	e.u8(i.AlternateSetting)
	e.u8(i.NumEndpoints)
	e.u8(i.InterfaceClass)
	e.u8(i.InterfaceSubClass)
	e.u8(i.InterfaceProtocol)
	e.u8(i.InterfaceIndex)
	return e.off
}

// ParseInterfaceDescriptor decodes an interface descriptor into out.
func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) error {
	d, err := newDecoder(data, InterfaceDescriptorSize, DescriptorTypeInterface)
	if err != nil {
		return err
	}
	*out = InterfaceDescriptor{
		InterfaceNumber:   d.u8(),
		AlternateSetting:  d.u8(),
		NumEndpoints:      d.u8(),
		InterfaceClass:    d.u8(),
		InterfaceSubClass: d.u8(),
		InterfaceProtocol: d.u8(),
		InterfaceIndex:    d.u8(),
	}
	return nil
}

// EndpointDescriptor is the 7-byte endpoint descriptor.
type EndpointDescriptor struct {
	EndpointAddress uint8 // number and direction bit
	Attributes      uint8 // transfer type in bits 1:0
	MaxPacketSize   uint16
	Interval        uint8
}

func (e *EndpointDescriptor) Type() uint8 { return DescriptorTypeEndpoint }
func (e *EndpointDescriptor) Size() int   { return EndpointDescriptorSize }

func (e *EndpointDescriptor) Clone() Descriptor {
	c := *e
	return &c
}

// IsIn reports a device-to-host endpoint.
func (e *EndpointDescriptor) IsIn() bool {
	return e.EndpointAddress&EndpointDirectionIn != 0
}

// TransferType returns the EndpointType* value in Attributes.
func (e *EndpointDescriptor) TransferType() uint8 {
	return e.Attributes & 0x03
}

// MarshalTo serializes the descriptor to buf.
func (e *EndpointDescriptor) MarshalTo(buf []byte) int {
	enc, ok := newEncoder(buf, EndpointDescriptorSize, DescriptorTypeEndpoint)
	if !ok {
		return 0
	}
	enc.u8(e.EndpointAddress)
	enc.u8(e.Attributes)
	enc.u16(e.MaxPacketSize)
	enc.u8(e.Interval)
	return enc.off
}

// ParseEndpointDescriptor decodes an endpoint descriptor into out.
func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) error {
	d, err := newDecoder(data, EndpointDescriptorSize, DescriptorTypeEndpoint)
	if err != nil {
		return err
	}
	*out = EndpointDescriptor{
		EndpointAddress: d.u8(),
		Attributes:      d.u8(),
		MaxPacketSize:   d.u16(),
		Interval:        d.u8(),
	}
	return nil
}

// SSEndpointCompanionDescriptor follows each endpoint descriptor of a
// super-speed table.
type SSEndpointCompanionDescriptor struct {
	MaxBurst         uint8 // packets per burst minus one
	Attributes       uint8 // bulk: MaxStreams exponent
	BytesPerInterval uint16
}

func (s *SSEndpointCompanionDescriptor) Type() uint8 { return DescriptorTypeSSEndpointCompanion }
func (s *SSEndpointCompanionDescriptor) Size() int   { return SSEndpointCompanionDescriptorSize }

func (s *SSEndpointCompanionDescriptor) Clone() Descriptor {
	c := *s
	return &c
}

// MaxStreams returns the bulk stream exponent; 0 means no streams.
func (s *SSEndpointCompanionDescriptor) MaxStreams() uint8 {
	return s.Attributes & 0x1F
}

// MarshalTo serializes the descriptor to buf.
func (s *SSEndpointCompanionDescriptor) MarshalTo(buf []byte) int {
	e, ok := newEncoder(buf, SSEndpointCompanionDescriptorSize, DescriptorTypeSSEndpointCompanion)
	if !ok {
		return 0
	}
	e.u8(s.MaxBurst)
	e.u8(s.Attributes)
	e.u16(s.BytesPerInterval)
	return e.off
}

// ParseSSEndpointCompanionDescriptor decodes a companion descriptor into out.
func ParseSSEndpointCompanionDescriptor(data []byte, out *SSEndpointCompanionDescriptor) error {
	d, err := newDecoder(data, SSEndpointCompanionDescriptorSize, DescriptorTypeSSEndpointCompanion)
	if err != nil {
		return err
	}
	*out = SSEndpointCompanionDescriptor{
		MaxBurst:         d.u8(),
		Attributes:       d.u8(),
		BytesPerInterval: d.u16(),
	}
	return nil
}

// StringDescriptorTo writes s as a UTF-16LE string descriptor to buf,
// truncated to MaxStringDescriptorSize. Returns 0 if buf is too small.
func StringDescriptorTo(buf []byte, s string) int {
	units := utf16.Encode([]rune(s))
	if limit := (MaxStringDescriptorSize - 2) / 2; len(units) > limit {
		units = units[:limit]
	}
	return codeUnitsTo(buf, units)
}

// LanguageDescriptorTo writes string descriptor zero, the LANGID table.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	return codeUnitsTo(buf, langIDs)
}

func codeUnitsTo(buf []byte, units []uint16) int {
	e, ok := newEncoder(buf, 2+2*len(units), DescriptorTypeString)
	if !ok {
		return 0
	}
	for _, u := range units {
		e.u16(u)
	}
	return e.off
}
