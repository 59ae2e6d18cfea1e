package device

import (
	"encoding/binary"

	"github.com/ardnew/softgadget/pkg"
)

// MaxDescriptorResponseSize is the maximum size for descriptor responses.
const MaxDescriptorResponseSize = MaxControlDataSize

// standardKey selects a handler by recipient and bRequest.
type standardKey struct {
	recipient uint8
	request   uint8
}

// standardFunc serves one standard request. It writes any IN data to
// h.response and returns its length.
type standardFunc func(h *StandardRequestHandler, setup *SetupPacket) (int, error)

var standardRequests = map[standardKey]standardFunc{
	{RequestRecipientDevice, RequestGetStatus}:        (*StandardRequestHandler).deviceStatus,
	{RequestRecipientDevice, RequestClearFeature}:     (*StandardRequestHandler).deviceFeature,
	{RequestRecipientDevice, RequestSetFeature}:       (*StandardRequestHandler).deviceFeature,
	{RequestRecipientDevice, RequestSetAddress}:       (*StandardRequestHandler).setAddress,
	{RequestRecipientDevice, RequestGetDescriptor}:    (*StandardRequestHandler).descriptor,
	{RequestRecipientDevice, RequestGetConfiguration}: (*StandardRequestHandler).configuration,
	{RequestRecipientDevice, RequestSetConfiguration}: (*StandardRequestHandler).setConfiguration,

	{RequestRecipientInterface, RequestGetStatus}:    (*StandardRequestHandler).interfaceStatus,
	{RequestRecipientInterface, RequestClearFeature}: (*StandardRequestHandler).interfaceFeature,
	{RequestRecipientInterface, RequestSetFeature}:   (*StandardRequestHandler).interfaceFeature,
	{RequestRecipientInterface, RequestGetInterface}: (*StandardRequestHandler).alternate,
	{RequestRecipientInterface, RequestSetInterface}: (*StandardRequestHandler).setAlternate,

	{RequestRecipientEndpoint, RequestGetStatus}:    (*StandardRequestHandler).endpointStatus,
	{RequestRecipientEndpoint, RequestClearFeature}: (*StandardRequestHandler).endpointHalt,
	{RequestRecipientEndpoint, RequestSetFeature}:   (*StandardRequestHandler).endpointHalt,
}

// StandardRequestHandler answers chapter 9 requests on behalf of a
// Composite. Slices it returns alias an internal buffer and are valid until
// the next call.
type StandardRequestHandler struct {
	device   *Composite
	response [MaxDescriptorResponseSize]byte
}

// NewStandardRequestHandler creates a handler for dev.
func NewStandardRequestHandler(dev *Composite) *StandardRequestHandler {
	return &StandardRequestHandler{device: dev}
}

// HandleSetup processes a standard SETUP request. The response is
// truncated to wLength.
func (h *StandardRequestHandler) HandleSetup(setup *SetupPacket, _ []byte) ([]byte, error) {
	if !setup.IsStandard() {
		return nil, pkg.ErrInvalidRequest
	}
	if setup.Request == RequestSetDescriptor {
		return nil, pkg.ErrNotSupported
	}
	fn, ok := standardRequests[standardKey{setup.Recipient(), setup.Request}]
	if !ok {
		return nil, pkg.ErrInvalidRequest
	}
	n, err := fn(h, setup)
	if err != nil || n == 0 {
		return nil, err
	}
	if n > int(setup.Length) {
		n = int(setup.Length)
	}
	return h.response[:n], nil
}

// status writes a GET_STATUS word.
func (h *StandardRequestHandler) status(setup *SetupPacket, v uint16) (int, error) {
	if setup.Length < 2 {
		return 0, pkg.ErrInvalidRequest
	}
	binary.LittleEndian.PutUint16(h.response[:2], v)
	return 2, nil
}

func (h *StandardRequestHandler) deviceStatus(setup *SetupPacket) (int, error) {
	return h.status(setup, uint16(h.device.GetStatus()))
}

func (h *StandardRequestHandler) deviceFeature(setup *SetupPacket) (int, error) {
	set := setup.Request == RequestSetFeature
	switch setup.Value {
	case FeatureDeviceRemoteWakeup:
		h.device.EnableRemoteWakeup(set)
		return 0, nil
	case FeatureTestMode:
		if set {
			return 0, pkg.ErrNotSupported
		}
	}
	return 0, pkg.ErrInvalidRequest
}

func (h *StandardRequestHandler) setAddress(setup *SetupPacket) (int, error) {
	return 0, h.device.SetAddress(uint8(setup.Value & 0x7F))
}

func (h *StandardRequestHandler) configuration(*SetupPacket) (int, error) {
	h.response[0] = 0
	if config := h.device.ActiveConfiguration(); config != nil {
		h.response[0] = config.Value
	}
	return 1, nil
}

func (h *StandardRequestHandler) setConfiguration(setup *SetupPacket) (int, error) {
	return 0, h.device.SetConfiguration(uint8(setup.Value))
}

func (h *StandardRequestHandler) descriptor(setup *SetupPacket) (int, error) {
	index := setup.DescriptorIndex()
	buf := h.response[:]
	var n int

	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		n = h.device.Descriptor.MarshalTo(buf)

	case DescriptorTypeConfiguration:
		config := h.device.configurationAt(index)
		if config == nil {
			return 0, pkg.ErrInvalidRequest
		}
		n = config.MarshalTo(buf, h.device.Speed())

	case DescriptorTypeOtherSpeedConfig:
		other, ok := h.otherSpeed()
		config := h.device.configurationAt(index)
		if !ok || config == nil {
			return 0, pkg.ErrNotSupported
		}
		n = config.MarshalOtherSpeedTo(buf, other)

	case DescriptorTypeString:
		data := h.device.GetString(index)
		if data == nil {
			return 0, pkg.ErrInvalidRequest
		}
		n = copy(buf, data)

	case DescriptorTypeDeviceQualifier:
		if _, ok := h.otherSpeed(); !ok {
			return 0, pkg.ErrNotSupported
		}
		n = h.device.Descriptor.MarshalQualifierTo(buf)

	default:
		return 0, pkg.ErrInvalidRequest
	}

	if n == 0 {
		return 0, pkg.ErrBufferTooSmall
	}
	return n, nil
}

// otherSpeed returns the speed a dual-speed device would run at if the
// link were negotiated differently. Only full and high speed have one.
func (h *StandardRequestHandler) otherSpeed() (Speed, bool) {
	if h.device.MaxSpeed() < SpeedHigh {
		return SpeedUnknown, false
	}
	switch h.device.Speed() {
	case SpeedFull:
		return SpeedHigh, true
	case SpeedHigh:
		return SpeedFull, true
	}
	return SpeedUnknown, false
}

func (h *StandardRequestHandler) interfaceStatus(setup *SetupPacket) (int, error) {
	config := h.device.ActiveConfiguration()
	if config == nil {
		return 0, pkg.ErrNotConfigured
	}
	if config.Function(setup.InterfaceNumber()) == nil {
		return 0, pkg.ErrInvalidRequest
	}
	return h.status(setup, 0)
}

// No interface features are defined; the request is accepted and ignored.
func (h *StandardRequestHandler) interfaceFeature(*SetupPacket) (int, error) {
	return 0, nil
}

func (h *StandardRequestHandler) alternate(setup *SetupPacket) (int, error) {
	alt, err := h.device.GetInterface(setup.InterfaceNumber())
	if err != nil {
		return 0, err
	}
	h.response[0] = alt
	return 1, nil
}

func (h *StandardRequestHandler) setAlternate(setup *SetupPacket) (int, error) {
	return 0, h.device.SetInterface(setup.InterfaceNumber(), uint8(setup.Value))
}

func (h *StandardRequestHandler) endpointStatus(setup *SetupPacket) (int, error) {
	ep := h.device.Pool().Lookup(setup.EndpointAddress())
	if ep == nil {
		return 0, pkg.ErrInvalidEndpoint
	}
	var halt uint16
	if ep.IsStalled() {
		halt = 1
	}
	return h.status(setup, halt)
}

func (h *StandardRequestHandler) endpointHalt(setup *SetupPacket) (int, error) {
	if setup.Value != FeatureEndpointHalt {
		return 0, pkg.ErrInvalidRequest
	}
	return 0, h.device.SetEndpointStall(setup.EndpointAddress(), setup.Request == RequestSetFeature)
}
