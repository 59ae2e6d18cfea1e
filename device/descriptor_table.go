package device

// DescriptorTable is the ordered descriptor sequence a function advertises
// for one link speed: its interface descriptor followed by endpoint
// descriptors, each optionally followed by a SuperSpeed companion.
//
// The slice length terminates the table; there is no sentinel record on the
// wire.
type DescriptorTable []Descriptor

// Len returns the number of records in the table.
func (t DescriptorTable) Len() int {
	return len(t)
}

// Size returns the encoded size of the table in bytes.
func (t DescriptorTable) Size() int {
	n := 0
	for _, d := range t {
		n += d.Size()
	}
	return n
}

// MarshalTo writes every record of the table to buf back to back.
// Returns the number of bytes written, or 0 if buf is too small.
func (t DescriptorTable) MarshalTo(buf []byte) int {
	if len(buf) < t.Size() {
		return 0
	}
	offset := 0
	for _, d := range t {
		offset += d.MarshalTo(buf[offset:])
	}
	return offset
}

// Clone returns a deep copy of the table.
func (t DescriptorTable) Clone() DescriptorTable {
	if t == nil {
		return nil
	}
	out := make(DescriptorTable, len(t))
	for i, d := range t {
		out[i] = d.Clone()
	}
	return out
}

// Interfaces returns the interface descriptors of the table in order.
func (t DescriptorTable) Interfaces() []*InterfaceDescriptor {
	var out []*InterfaceDescriptor
	for _, d := range t {
		if iface, ok := d.(*InterfaceDescriptor); ok {
			out = append(out, iface)
		}
	}
	return out
}

// Endpoints returns the endpoint descriptors of the table in order.
func (t DescriptorTable) Endpoints() []*EndpointDescriptor {
	var out []*EndpointDescriptor
	for _, d := range t {
		if ep, ok := d.(*EndpointDescriptor); ok {
			out = append(out, ep)
		}
	}
	return out
}

// Endpoint returns the endpoint descriptor with the given address and the
// companion descriptor that directly follows it, if any. Both are nil when
// the table has no such endpoint.
func (t DescriptorTable) Endpoint(address uint8) (*EndpointDescriptor, *SSEndpointCompanionDescriptor) {
	for i, d := range t {
		ep, ok := d.(*EndpointDescriptor)
		if !ok || ep.EndpointAddress != address {
			continue
		}
		if i+1 < len(t) {
			if comp, ok := t[i+1].(*SSEndpointCompanionDescriptor); ok {
				return ep, comp
			}
		}
		return ep, nil
	}
	return nil, nil
}

// DescriptorSet holds a function's descriptor tables for each link speed.
type DescriptorSet struct {
	Full  DescriptorTable // Low and full speed
	High  DescriptorTable // High speed
	Super DescriptorTable // SuperSpeed
}

// ForSpeed returns the table to advertise at the given link speed.
// A super-speed link without a super-speed table falls back to the
// high-speed table, and a high-speed link without one falls back to
// full speed. ok is false when no table applies.
func (s *DescriptorSet) ForSpeed(speed Speed) (table DescriptorTable, ok bool) {
	switch speed {
	case SpeedSuper:
		if len(s.Super) > 0 {
			return s.Super, true
		}
		fallthrough
	case SpeedHigh:
		if len(s.High) > 0 {
			return s.High, true
		}
		fallthrough
	case SpeedLow, SpeedFull:
		if len(s.Full) > 0 {
			return s.Full, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of all tables.
func (s *DescriptorSet) Clone() DescriptorSet {
	return DescriptorSet{
		Full:  s.Full.Clone(),
		High:  s.High.Clone(),
		Super: s.Super.Clone(),
	}
}
