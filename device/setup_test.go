package device

import (
	"errors"
	"testing"

	"github.com/ardnew/softgadget/device/hal"
	"github.com/ardnew/softgadget/pkg"
)

// Request builders against the bytes a bus analyzer shows for them.
func TestRequestBuilders_Wire(t *testing.T) {
	tests := []struct {
		name  string
		setup SetupPacket
		wire  [SetupPacketSize]byte
	}{
		{"GET_DESCRIPTOR device", GetDescriptorRequest(DescriptorTypeDevice, 0, 18),
			[8]byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00}},
		{"GET_DESCRIPTOR configuration", GetDescriptorRequest(DescriptorTypeConfiguration, 0, 0x0109),
			[8]byte{0x80, 0x06, 0x00, 0x02, 0x00, 0x00, 0x09, 0x01}},
		{"GET_DESCRIPTOR languages", GetStringRequest(0, 255),
			[8]byte{0x80, 0x06, 0x00, 0x03, 0x00, 0x00, 0xFF, 0x00}},
		{"GET_DESCRIPTOR string", GetStringRequest(4, 255),
			[8]byte{0x80, 0x06, 0x04, 0x03, 0x09, 0x04, 0xFF, 0x00}},
		{"SET_ADDRESS", SetAddressRequest(7),
			[8]byte{0x00, 0x05, 0x07, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"SET_CONFIGURATION", SetConfigurationRequest(1),
			[8]byte{0x00, 0x09, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"GET_CONFIGURATION", GetConfigurationRequest(),
			[8]byte{0x80, 0x08, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00}},
		{"GET_STATUS endpoint", GetStatusRequest(RequestRecipientEndpoint, 0x81),
			[8]byte{0x82, 0x00, 0x00, 0x00, 0x81, 0x00, 0x02, 0x00}},
		{"SET_FEATURE halt", FeatureRequest(true, RequestRecipientEndpoint, FeatureEndpointHalt, 0x02),
			[8]byte{0x02, 0x03, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}},
		{"CLEAR_FEATURE remote wakeup", FeatureRequest(false, RequestRecipientDevice, FeatureDeviceRemoteWakeup, 0),
			[8]byte{0x00, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"SET_INTERFACE", SetInterfaceRequest(2, 1),
			[8]byte{0x01, 0x0B, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00}},
		{"GET_INTERFACE", GetInterfaceRequest(2),
			[8]byte{0x81, 0x0A, 0x00, 0x00, 0x02, 0x00, 0x01, 0x00}},
		{"vendor IN", VendorRequest(true, RequestRecipientInterface, 0x01, 0x1234, 3, 64),
			[8]byte{0xC1, 0x01, 0x34, 0x12, 0x03, 0x00, 0x40, 0x00}},
		{"vendor OUT", VendorRequest(false, RequestRecipientDevice, 0x02, 0, 0, 3),
			[8]byte{0x40, 0x02, 0x00, 0x00, 0x00, 0x00, 0x03, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf [SetupPacketSize]byte
			if n := tt.setup.MarshalTo(buf[:]); n != SetupPacketSize {
				t.Fatalf("MarshalTo() = %d, want %d", n, SetupPacketSize)
			}
			if buf != tt.wire {
				t.Errorf("wire = % X, want % X", buf, tt.wire)
			}

			var parsed SetupPacket
			if err := ParseSetupPacket(tt.wire[:], &parsed); err != nil {
				t.Fatalf("ParseSetupPacket() error = %v", err)
			}
			if parsed != tt.setup {
				t.Errorf("ParseSetupPacket() = %+v, want %+v", parsed, tt.setup)
			}
		})
	}
}

func TestSetupPacket_ShortBuffers(t *testing.T) {
	var s SetupPacket
	err := ParseSetupPacket([]byte{0x80, 0x06, 0x00}, &s)
	if !errors.Is(err, pkg.ErrSetupPacketTooShort) {
		t.Errorf("ParseSetupPacket(3 bytes) error = %v, want %v", err, pkg.ErrSetupPacketTooShort)
	}

	setup := SetAddressRequest(1)
	if n := setup.MarshalTo(make([]byte, SetupPacketSize-1)); n != 0 {
		t.Errorf("MarshalTo(7 bytes) = %d, want 0", n)
	}
}

func TestSetupPacket_Classification(t *testing.T) {
	in := VendorRequest(true, RequestRecipientEndpoint, 0x10, 0, 0x0081, 8)
	if !in.IsDeviceToHost() || in.IsHostToDevice() {
		t.Error("vendor IN request not device-to-host")
	}
	if !in.IsVendor() || in.IsStandard() || in.IsClass() {
		t.Errorf("Type() = 0x%02X, want vendor", in.Type())
	}
	if !in.IsEndpointRecipient() || in.IsInterfaceRecipient() || in.IsDeviceRecipient() {
		t.Errorf("Recipient() = %d, want endpoint", in.Recipient())
	}
	if in.EndpointAddress() != 0x81 {
		t.Errorf("EndpointAddress() = 0x%02X, want 0x81", in.EndpointAddress())
	}

	intf := SetInterfaceRequest(3, 0)
	if !intf.IsStandard() || !intf.IsInterfaceRecipient() || !intf.IsHostToDevice() {
		t.Errorf("SET_INTERFACE classified as %s", intf.String())
	}
	if intf.InterfaceNumber() != 3 {
		t.Errorf("InterfaceNumber() = %d, want 3", intf.InterfaceNumber())
	}

	class := SetupPacket{RequestType: RequestTypeClass | RequestRecipientInterface}
	if !class.IsClass() {
		t.Error("class request not classified as class")
	}

	desc := GetStringRequest(5, 255)
	if desc.DescriptorType() != DescriptorTypeString || desc.DescriptorIndex() != 5 {
		t.Errorf("descriptor = type %d index %d, want 3/5", desc.DescriptorType(), desc.DescriptorIndex())
	}
}

func TestSetupPacket_HAL(t *testing.T) {
	setup := VendorRequest(true, RequestRecipientInterface, 0x01, 0xBEEF, 0x0102, 64)
	p := setup.HAL()
	want := hal.SetupPacket{RequestType: 0xC1, Request: 0x01, Value: 0xBEEF, Index: 0x0102, Length: 64}
	if p != want {
		t.Errorf("HAL() = %+v, want %+v", p, want)
	}
	if back := setupFromHAL(&p); back != setup {
		t.Errorf("setupFromHAL() = %+v, want %+v", back, setup)
	}
}

func TestSetupPacket_String(t *testing.T) {
	tests := []struct {
		setup SetupPacket
		want  string
	}{
		{GetDescriptorRequest(DescriptorTypeDevice, 0, 18),
			"IN standard device GET_DESCRIPTOR value=0x0100 index=0x0000 len=18"},
		{SetInterfaceRequest(1, 0),
			"OUT standard interface SET_INTERFACE value=0x0000 index=0x0001 len=0"},
		{VendorRequest(true, RequestRecipientInterface, 0x01, 0, 0, 64),
			"IN vendor interface req=0x01 value=0x0000 index=0x0000 len=64"},
		{SetupPacket{RequestType: 0x63, Request: 0x0D},
			"OUT reserved other req=0x0D value=0x0000 index=0x0000 len=0"},
		{SetupPacket{Request: 0x0D},
			"OUT standard device 0x0D value=0x0000 index=0x0000 len=0"},
	}
	for _, tt := range tests {
		if got := tt.setup.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestRequestName(t *testing.T) {
	for request, want := range map[uint8]string{
		RequestGetStatus:  "GET_STATUS",
		RequestSetAddress: "SET_ADDRESS",
		RequestSynchFrame: "SYNCH_FRAME",
		0x02:              "0x02",
		0x04:              "0x04",
		0xFF:              "0xFF",
	} {
		if got := RequestName(request); got != want {
			t.Errorf("RequestName(0x%02X) = %q, want %q", request, got, want)
		}
	}
}
