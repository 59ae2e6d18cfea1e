package trans

import (
	"fmt"

	"github.com/ardnew/softgadget/device"
	"github.com/ardnew/softgadget/pkg"
)

// SetAlt restarts the endpoints for alternate setting alt: both endpoints
// are disabled, then source and sink are configured for the negotiated
// speed and enabled in that order.
//
// If an endpoint cannot be enabled both are left disabled and the recorded
// alternate setting is not changed.
func (t *Trans) SetAlt(intf, alt uint8) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.bound {
		return fmt.Errorf("%s: not bound: %w", FunctionName, pkg.ErrInvalidState)
	}
	if intf != t.intf {
		return fmt.Errorf("%s: interface %d: %w", FunctionName, intf, pkg.ErrInvalidParameter)
	}

	t.disableEndpoints()
	if err := t.enableEndpoints(); err != nil {
		t.disableEndpoints()
		pkg.LogWarn(pkg.ComponentFunction, "enable failed",
			"function", FunctionName,
			"alt", alt,
			"error", err)
		return err
	}

	t.alt, t.altValid = alt, true

	pkg.LogDebug(pkg.ComponentFunction, "enabled",
		"function", FunctionName,
		"interface", intf,
		"alt", alt,
		"speed", t.config.Speed().String())
	return nil
}

// GetAlt returns the alternate setting recorded by the last successful
// SetAlt, or 0 before the first one.
func (t *Trans) GetAlt(intf uint8) (uint8, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if !t.bound {
		return 0, fmt.Errorf("%s: not bound: %w", FunctionName, pkg.ErrInvalidState)
	}
	if intf != t.intf {
		return 0, fmt.Errorf("%s: interface %d: %w", FunctionName, intf, pkg.ErrInvalidParameter)
	}
	return t.alt, nil
}

// Disable stops both endpoints. Hardware errors are logged and do not stop
// the second endpoint from being disabled.
func (t *Trans) Disable() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.bound {
		return
	}
	t.disableEndpoints()
	pkg.LogDebug(pkg.ComponentFunction, "disabled", "function", FunctionName)
}

// enableEndpoints must be called with the mutex held.
func (t *Trans) enableEndpoints() error {
	for _, ep := range [...]*device.Endpoint{t.source, t.sink} {
		if err := t.config.ConfigEndpointBySpeed(t, ep); err != nil {
			return fmt.Errorf("%s: %w", ep.Name(), err)
		}
		if err := ep.Enable(); err != nil {
			return fmt.Errorf("%s: %w", ep.Name(), err)
		}
	}
	return nil
}

// disableEndpoints must be called with the mutex held.
func (t *Trans) disableEndpoints() {
	for _, ep := range [...]*device.Endpoint{t.source, t.sink} {
		if err := ep.Disable(); err != nil {
			pkg.LogDebug(pkg.ComponentEndpoint, "disable failed",
				"function", FunctionName,
				"endpoint", ep.Name(),
				"error", err)
		}
	}
}
