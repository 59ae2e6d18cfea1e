package device

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/softgadget/device/hal"
	"github.com/ardnew/softgadget/pkg"
)

func TestStack_Enumeration(t *testing.T) {
	dev, udc, config := newTestComposite(t)
	f := &loopback{}
	if err := dev.AddFunction(config, f); err != nil {
		t.Fatalf("AddFunction() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stack := NewStack(dev, udc)
	if err := stack.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stack.Stop()
	if err := stack.Start(ctx); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want %v", err, pkg.ErrAlreadyRunning)
	}

	data, err := udc.Control(ctx, GetDescriptorRequest(DescriptorTypeDevice, 0, 18).HAL(), nil)
	if err != nil || len(data) != 18 || data[1] != DescriptorTypeDevice {
		t.Fatalf("GET_DESCRIPTOR(device) = % X, %v", data, err)
	}

	if _, err := udc.Control(ctx, SetAddressRequest(9).HAL(), nil); err != nil {
		t.Fatalf("SET_ADDRESS error = %v", err)
	}
	if dev.Address() != 9 {
		t.Errorf("Address() = %d, want 9", dev.Address())
	}

	if _, err := udc.Control(ctx, SetConfigurationRequest(1).HAL(), nil); err != nil {
		t.Fatalf("SET_CONFIGURATION error = %v", err)
	}
	if !f.ep.IsEnabled() {
		t.Error("endpoint not enabled after SET_CONFIGURATION")
	}

	vendor := VendorRequest(true, RequestRecipientInterface, 0x42, 0, 0, 64)
	data, err = udc.Control(ctx, vendor.HAL(), nil)
	if err != nil || !bytes.Equal(data, []byte("pong")) {
		t.Errorf("vendor request = %q, %v", data, err)
	}

	vendor.Request = 0x43
	if _, err := udc.Control(ctx, vendor.HAL(), nil); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("unsupported request error = %v, want %v", err, pkg.ErrStall)
	}

	if err := udc.BusReset(ctx, hal.SpeedUnknown); err != nil {
		t.Fatalf("BusReset() error = %v", err)
	}
	// The next transfer is served after the reset was processed.
	data, err = udc.Control(ctx, GetConfigurationRequest().HAL(), nil)
	if err != nil || !bytes.Equal(data, []byte{0}) {
		t.Errorf("GET_CONFIGURATION after reset = % X, %v", data, err)
	}
	if f.ep.IsEnabled() {
		t.Error("endpoint enabled after bus reset")
	}

	if err := stack.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if stack.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	stats := stack.Stats()
	if stats.Handled.Load() != 5 || stats.Stalled.Load() != 1 || stats.Failed.Load() != 0 || stats.Resets.Load() != 1 {
		t.Errorf("stats = handled %d, stalled %d, failed %d, resets %d, want 5, 1, 0, 1",
			stats.Handled.Load(), stats.Stalled.Load(), stats.Failed.Load(), stats.Resets.Load())
	}
	if err := stack.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestStack_ControlOut(t *testing.T) {
	dev, udc, config := newTestComposite(t)
	rx := &loopback{}
	if err := dev.AddFunction(config, rx); err != nil {
		t.Fatalf("AddFunction() error = %v", err)
	}
	_ = dev.SetAddress(1)
	if err := dev.SetConfiguration(1); err != nil {
		t.Fatalf("SetConfiguration() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stack := NewStack(dev, udc)
	if err := stack.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stack.Stop()

	out := VendorRequest(false, RequestRecipientInterface, 0x10, 0, 0, 3)
	if _, err := udc.Control(ctx, out.HAL(), []byte{0xAA, 0xBB, 0xCC}); err != nil {
		t.Fatalf("control OUT error = %v", err)
	}
	if !bytes.Equal(rx.received, []byte{0xAA, 0xBB, 0xCC}) {
		t.Errorf("function received % X", rx.received)
	}
}
