package trans

import (
	"github.com/ardnew/softgadget/device"
)

// Descriptor templates. They are never handed out or modified; every bind
// works on copies.
var (
	interfaceTemplate = device.InterfaceDescriptor{
		AlternateSetting:  0,
		NumEndpoints:      NumEndpoints,
		InterfaceClass:    InterfaceClass,
		InterfaceSubClass: InterfaceSubClass,
		InterfaceProtocol: InterfaceProtocol,
	}

	// Full speed leaves wMaxPacketSize to endpoint autoconfiguration.
	fsSourceTemplate = device.EndpointDescriptor{
		EndpointAddress: device.EndpointDirectionIn,
		Attributes:      device.EndpointTypeBulk,
	}
	fsSinkTemplate = device.EndpointDescriptor{
		EndpointAddress: device.EndpointDirectionOut,
		Attributes:      device.EndpointTypeBulk,
	}

	hsSourceTemplate = device.EndpointDescriptor{
		Attributes:    device.EndpointTypeBulk,
		MaxPacketSize: HighSpeedMaxPacketSize,
	}
	hsSinkTemplate = device.EndpointDescriptor{
		Attributes:    device.EndpointTypeBulk,
		MaxPacketSize: HighSpeedMaxPacketSize,
	}

	ssSourceTemplate = device.EndpointDescriptor{
		Attributes:    device.EndpointTypeBulk,
		MaxPacketSize: SuperSpeedMaxPacketSize,
	}
	ssSinkTemplate = device.EndpointDescriptor{
		Attributes:    device.EndpointTypeBulk,
		MaxPacketSize: SuperSpeedMaxPacketSize,
	}

	// No bursting, no streams.
	ssCompanionTemplate = device.SSEndpointCompanionDescriptor{}
)

// buildDescriptors produces the per-speed descriptor tables for an interface
// number, interface string index and the two full-speed endpoint descriptors
// patched by autoconfiguration.
//
// Every table owns its records. The high and super speed endpoint addresses
// are copied from the matching full-speed descriptor: source from source,
// sink from sink.
func buildDescriptors(intfNum, strIndex uint8, fsSource, fsSink *device.EndpointDescriptor) device.DescriptorSet {
	newInterface := func() *device.InterfaceDescriptor {
		intf := interfaceTemplate
		intf.InterfaceNumber = intfNum
		intf.InterfaceIndex = strIndex
		return &intf
	}
	newEndpoint := func(tmpl device.EndpointDescriptor, address uint8) *device.EndpointDescriptor {
		tmpl.EndpointAddress = address
		return &tmpl
	}
	newCompanion := func() *device.SSEndpointCompanionDescriptor {
		comp := ssCompanionTemplate
		return &comp
	}

	fsSourceDesc := *fsSource
	fsSinkDesc := *fsSink

	return device.DescriptorSet{
		Full: device.DescriptorTable{
			newInterface(),
			&fsSinkDesc,
			&fsSourceDesc,
		},
		High: device.DescriptorTable{
			newInterface(),
			newEndpoint(hsSourceTemplate, fsSource.EndpointAddress),
			newEndpoint(hsSinkTemplate, fsSink.EndpointAddress),
		},
		Super: device.DescriptorTable{
			newInterface(),
			newEndpoint(ssSourceTemplate, fsSource.EndpointAddress),
			newCompanion(),
			newEndpoint(ssSinkTemplate, fsSink.EndpointAddress),
			newCompanion(),
		},
	}
}
