package gnss

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/gnss/device"
)

// PowerOn drives the session's power pin to its active level. The
// session must have been added with a power pin.
func (d *Driver) PowerOn(ctx context.Context, h device.Handle) error {
	return d.setPower(ctx, h, true)
}

// PowerOff drives the session's power pin to its inactive level. On a
// shared open-drain rail this releases our pull rather than forcing the
// receiver off.
func (d *Driver) PowerOff(ctx context.Context, h device.Handle) error {
	return d.setPower(ctx, h, false)
}

func (d *Driver) setPower(ctx context.Context, h device.Handle, on bool) error {
	d.mu.Lock()
	s, err := d.get(h)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	pin, onHigh := s.powerPin, s.powerOnHigh
	d.mu.Unlock()

	if pin < 0 {
		return errors.Wrap(ErrInvalidParameter, "no power pin configured")
	}
	level := onHigh == on
	if err := d.gpioCtrl.Set(ctx, pin, level); err != nil {
		return errors.Wrapf(ErrPlatform, "set power pin %d: %s", pin, err)
	}
	return nil
}
