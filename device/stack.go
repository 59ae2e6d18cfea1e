package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softgadget/device/hal"
	"github.com/ardnew/softgadget/pkg"
)

// Stack serves EP0 for a composite device. A single goroutine reads SETUP
// packets from the controller's control pipe, passes them to the composite
// and completes the data and status stages, stalling requests that fail.
type Stack struct {
	device *Composite
	pipe   hal.ControlPipe

	mutex  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	stats StackStats

	// Owned by the control goroutine.
	raw hal.SetupPacket
	out [MaxControlDataSize]byte
}

// StackStats counts control transfers by outcome.
type StackStats struct {
	Handled atomic.Uint64
	Stalled atomic.Uint64 // unsupported requests
	Failed  atomic.Uint64 // handler or pipe errors, also stalled
	Resets  atomic.Uint64
}

// NewStack creates a control stack for dev on pipe.
func NewStack(dev *Composite, pipe hal.ControlPipe) *Stack {
	return &Stack{device: dev, pipe: pipe}
}

// Device returns the composite the stack serves.
func (s *Stack) Device() *Composite { return s.device }

// Stats returns the transfer counters.
func (s *Stack) Stats() *StackStats { return &s.stats }

// Start launches the control goroutine. It stops when ctx is done or Stop
// is called.
func (s *Stack) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.done != nil {
		return pkg.ErrAlreadyRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	pkg.LogDebug(pkg.ComponentStack, "control stack started")
	return nil
}

// Stop cancels the control goroutine and waits for it to exit.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mutex.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	<-done

	pkg.LogDebug(pkg.ComponentStack, "control stack stopped",
		"handled", s.stats.Handled.Load(),
		"stalled", s.stats.Stalled.Load(),
		"failed", s.stats.Failed.Load())
	return nil
}

// IsRunning reports whether the control goroutine is active.
func (s *Stack) IsRunning() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.done != nil
}

func (s *Stack) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for {
		err := s.pipe.ReadSetup(ctx, &s.raw)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, pkg.ErrReset):
			s.stats.Resets.Add(1)
			s.device.Reset()
			continue
		case err != nil:
			pkg.LogWarn(pkg.ComponentStack, "error reading setup", "error", err)
			continue
		}

		setup := setupFromHAL(&s.raw)
		err = s.transfer(ctx, &setup)

		switch pkg.OutcomeOf(err) {
		case pkg.OutcomeHandled:
			s.stats.Handled.Add(1)
			continue
		case pkg.OutcomeUnsupported:
			s.stats.Stalled.Add(1)
			pkg.LogDebug(pkg.ComponentStack, "request stalled", "request", setup.String())
		default:
			s.stats.Failed.Add(1)
			pkg.LogWarn(pkg.ComponentStack, "request failed",
				"error", err,
				"request", setup.String())
		}
		if err := s.pipe.StallEP0(); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "stall failed", "error", err)
		}
	}
}

// transfer runs the data and status stages of one control transfer.
func (s *Stack) transfer(ctx context.Context, setup *SetupPacket) error {
	if setup.IsDeviceToHost() {
		data, err := s.device.Setup(setup, nil)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			if err := s.pipe.WriteEP0(ctx, data); err != nil {
				return err
			}
		}
		// zero-length OUT status stage
		_, err = s.pipe.ReadEP0(ctx, s.out[:0])
		return err
	}

	var data []byte
	if setup.Length > 0 {
		n, err := s.pipe.ReadEP0(ctx, s.out[:min(int(setup.Length), len(s.out))])
		if err != nil {
			return err
		}
		data = s.out[:n]
	}
	if _, err := s.device.Setup(setup, data); err != nil {
		return err
	}
	return s.pipe.AckEP0()
}
