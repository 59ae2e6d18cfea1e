package device

import (
	"fmt"
	"sync"

	"github.com/ardnew/softgadget/device/hal"
	"github.com/ardnew/softgadget/pkg"
)

// EndpointPool hands out the physical endpoints of a device controller to
// the functions of a composite device.
//
// Each physical endpoint is claimed by at most one handle at a time. A
// claimed endpoint returns to the pool only through Release, which also
// invalidates the handle, so a released handle can neither be enabled nor
// released a second time.
type EndpointPool struct {
	udc     hal.UDC
	caps    []hal.EndpointCaps
	claimed []*Endpoint // Indexed like caps; nil when free
	mutex   sync.Mutex
}

// NewEndpointPool creates a pool over the data endpoints of udc.
func NewEndpointPool(udc hal.UDC) *EndpointPool {
	caps := udc.Endpoints()
	return &EndpointPool{
		udc:     udc,
		caps:    caps,
		claimed: make([]*Endpoint, len(caps)),
	}
}

// Autoconfig claims the first free physical endpoint that can serve the
// direction and transfer type of tmpl.
//
// On success tmpl.EndpointAddress is patched with the endpoint number and
// direction of the claimed endpoint. A bulk template with no max packet size
// gets the largest full-speed size the endpoint supports. The returned
// handle is Bound-Disabled.
//
// Returns pkg.ErrResourceUnavailable when no free endpoint matches; tmpl is
// left untouched in that case.
func (p *EndpointPool) Autoconfig(tmpl *EndpointDescriptor) (*Endpoint, error) {
	if tmpl == nil {
		return nil, pkg.ErrInvalidParameter
	}
	in := tmpl.IsIn()
	xfer := tmpl.TransferType()

	p.mutex.Lock()
	defer p.mutex.Unlock()

	for i := range p.caps {
		caps := &p.caps[i]
		if p.claimed[i] != nil || !caps.Supports(in, xfer) {
			continue
		}

		address := caps.Number
		if in {
			address |= EndpointDirectionIn
		}
		ep := &Endpoint{
			caps:    *caps,
			udc:     p.udc,
			address: address,
			xfer:    xfer,
			state:   EndpointDisabled,
		}
		p.claimed[i] = ep

		tmpl.EndpointAddress = address
		if xfer == EndpointTypeBulk && tmpl.MaxPacketSize == 0 {
			tmpl.MaxPacketSize = SpeedFull.BulkMaxPacketSize()
			if caps.MaxPacketLimit != 0 {
				tmpl.MaxPacketSize = min(caps.MaxPacketLimit, tmpl.MaxPacketSize)
			}
		}

		pkg.LogDebug(pkg.ComponentEndpoint, "endpoint claimed",
			"name", caps.Name,
			"address", fmt.Sprintf("0x%02X", address),
			"type", TransferTypeName(xfer),
			"free", p.freeLocked())
		return ep, nil
	}

	pkg.LogDebug(pkg.ComponentEndpoint, "no endpoint matches template",
		"direction", DirectionName(tmpl.EndpointAddress&EndpointDirectionIn),
		"type", TransferTypeName(xfer))
	return nil, fmt.Errorf("%s %s endpoint: %w",
		TransferTypeName(xfer), DirectionName(tmpl.EndpointAddress&EndpointDirectionIn),
		pkg.ErrResourceUnavailable)
}

// Release disables ep if needed and returns its physical endpoint to the
// pool. The handle becomes Unbound and stays unusable. Releasing nil or an
// already released handle does nothing.
func (p *EndpointPool) Release(ep *Endpoint) {
	if ep == nil {
		return
	}

	p.mutex.Lock()
	idx := -1
	for i, claimed := range p.claimed {
		if claimed == ep {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mutex.Unlock()
		return
	}
	p.claimed[idx] = nil
	free := p.freeLocked()
	p.mutex.Unlock()

	if ep.State() == EndpointEnabled {
		if err := ep.Disable(); err != nil {
			pkg.LogWarn(pkg.ComponentEndpoint, "disable on release failed",
				"name", ep.Name(),
				"error", err)
		}
	}
	ep.unbind()

	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint released",
		"name", ep.Name(),
		"address", fmt.Sprintf("0x%02X", ep.Address()),
		"free", free)
}

// Owns reports whether ep is a live handle claimed from this pool.
func (p *EndpointPool) Owns(ep *Endpoint) bool {
	if ep == nil {
		return false
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, claimed := range p.claimed {
		if claimed == ep {
			return true
		}
	}
	return false
}

// Lookup returns the claimed handle with the given address, or nil.
func (p *EndpointPool) Lookup(address uint8) *Endpoint {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, claimed := range p.claimed {
		if claimed != nil && claimed.address == address {
			return claimed
		}
	}
	return nil
}

// Len returns the number of physical endpoints managed by the pool.
func (p *EndpointPool) Len() int {
	return len(p.caps)
}

// Free returns the number of unclaimed physical endpoints.
func (p *EndpointPool) Free() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.freeLocked()
}

// FreeMatching returns the number of unclaimed physical endpoints that can
// serve the given direction and transfer type.
func (p *EndpointPool) FreeMatching(in bool, transferType uint8) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	n := 0
	for i := range p.caps {
		if p.claimed[i] == nil && p.caps[i].Supports(in, transferType) {
			n++
		}
	}
	return n
}

func (p *EndpointPool) freeLocked() int {
	n := 0
	for _, claimed := range p.claimed {
		if claimed == nil {
			n++
		}
	}
	return n
}
