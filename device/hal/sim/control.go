package sim

import (
	"context"
	"fmt"

	"github.com/ardnew/softgadget/device/hal"
	"github.com/ardnew/softgadget/pkg"
)

// transaction is one control transfer in flight between the simulated host
// and the device side of the control pipe.
type transaction struct {
	setup    hal.SetupPacket
	data     []byte // OUT data stage from the host
	response []byte // IN data stage from the device
	reply    chan result
}

type result struct {
	data []byte
	err  error
}

// Control performs a control transfer as the host would: it delivers setup
// (and data for a host-to-device transfer) to the device side and waits for
// the device to complete the status stage. A stalled transfer returns
// pkg.ErrStall. For device-to-host transfers the returned data is the IN
// data stage.
func (u *UDC) Control(ctx context.Context, setup hal.SetupPacket, data []byte) ([]byte, error) {
	tx := &transaction{
		setup: setup,
		data:  data,
		reply: make(chan result, 1),
	}
	select {
	case u.setupCh <- tx:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-tx.reply:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BusReset signals a bus reset to the device side. If speed is not
// hal.SpeedUnknown, the link renegotiates to it.
func (u *UDC) BusReset(ctx context.Context, speed hal.Speed) error {
	if speed != hal.SpeedUnknown {
		if err := u.SetSpeed(speed); err != nil {
			return err
		}
	}
	select {
	case u.resetCh <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadSetup implements hal.ControlPipe.
func (u *UDC) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-u.resetCh:
		u.complete(pkg.ErrReset)
		return pkg.ErrReset
	case tx := <-u.setupCh:
		u.complete(pkg.ErrReset)
		u.txMutex.Lock()
		u.current = tx
		u.txMutex.Unlock()
		*out = tx.setup
		return nil
	}
}

// WriteEP0 implements hal.ControlPipe.
func (u *UDC) WriteEP0(ctx context.Context, data []byte) error {
	u.txMutex.Lock()
	defer u.txMutex.Unlock()
	if u.current == nil {
		return fmt.Errorf("write ep0: %w", pkg.ErrInvalidState)
	}
	u.current.response = append(u.current.response, data...)
	return nil
}

// ReadEP0 implements hal.ControlPipe. For a device-to-host transfer it
// is the status stage and completes the transfer.
func (u *UDC) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	u.txMutex.Lock()
	tx := u.current
	if tx == nil {
		u.txMutex.Unlock()
		return 0, fmt.Errorf("read ep0: %w", pkg.ErrInvalidState)
	}
	if tx.setup.RequestType&0x80 != 0 {
		u.current = nil
		u.txMutex.Unlock()
		tx.reply <- result{data: tx.response}
		return 0, nil
	}
	n := copy(buf, tx.data)
	u.txMutex.Unlock()
	return n, nil
}

// StallEP0 implements hal.ControlPipe.
func (u *UDC) StallEP0() error {
	u.complete(pkg.ErrStall)
	return nil
}

// AckEP0 implements hal.ControlPipe.
func (u *UDC) AckEP0() error {
	u.complete(nil)
	return nil
}

// complete finishes the current transfer with err.
func (u *UDC) complete(err error) {
	u.txMutex.Lock()
	tx := u.current
	u.current = nil
	u.txMutex.Unlock()
	if tx != nil {
		tx.reply <- result{err: err}
	}
}
