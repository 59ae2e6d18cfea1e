package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeHandled, "handled"},
		{OutcomeUnsupported, "unsupported"},
		{OutcomeError, "error"},
		{Outcome(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.outcome.String(); got != tt.want {
				t.Errorf("Outcome.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeHandled},
		{"not supported", ErrNotSupported, OutcomeUnsupported},
		{"wrapped not supported", fmt.Errorf("vendor: %w", ErrNotSupported), OutcomeUnsupported},
		{"other", ErrBufferTooSmall, OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutcomeOf(tt.err); got != tt.want {
				t.Errorf("OutcomeOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrResourceUnavailable,
		ErrInterfaceIDExhausted,
		ErrStringIDExhausted,
		ErrSpeedConfigMismatch,
		ErrStall,
		ErrEndpointBusy,
		ErrEndpointDisabled,
		ErrInvalidEndpoint,
		ErrNotConfigured,
		ErrInvalidState,
		ErrInvalidRequest,
		ErrNotSupported,
		ErrInvalidParameter,
		ErrBusy,
		ErrNoMemory,
		ErrBufferTooSmall,
		ErrDescriptorTooShort,
		ErrDescriptorTypeMismatch,
		ErrSetupPacketTooShort,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}
