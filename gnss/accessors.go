package gnss

import (
	"time"

	"github.com/pkg/errors"

	"go.viam.com/gnss/device"
	"go.viam.com/gnss/transport"
)

// I2CAddress returns the device address used on the session's I2C bus.
func (d *Driver) I2CAddress(h device.Handle) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.get(h)
	if err != nil {
		return 0, err
	}
	return s.i2cAddress, nil
}

// SetI2CAddress overrides the default device address for the session.
// Zero and negative addresses are rejected and the configured address is
// left unchanged.
func (d *Driver) SetI2CAddress(h device.Handle, addr int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.get(h)
	if err != nil {
		return err
	}
	if addr <= 0 || addr > 0x7F {
		return errors.Wrapf(ErrInvalidParameter, "i2c address %d", addr)
	}
	s.i2cAddress = byte(addr)
	return nil
}

// Timeout returns the session's response timeout.
func (d *Driver) Timeout(h device.Handle) (time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.get(h)
	if err != nil {
		return 0, err
	}
	return s.timeout, nil
}

// SetTimeout changes how long protocol exchanges on the session wait for
// a response.
func (d *Driver) SetTimeout(h device.Handle, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.get(h)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		return errors.Wrapf(ErrInvalidParameter, "timeout %v", timeout)
	}
	s.timeout = timeout
	return nil
}

// MessageTrace reports whether raw frame tracing is on for the session.
func (d *Driver) MessageTrace(h device.Handle) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.get(h)
	if err != nil {
		return false, err
	}
	return s.traceMessages, nil
}

// SetMessageTrace switches debug logging of raw frames on or off.
func (d *Driver) SetMessageTrace(h device.Handle, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.get(h)
	if err != nil {
		return err
	}
	s.traceMessages = on
	return nil
}

// SetATPinPower records which pin of the cellular module enables power
// to the receiver. Only meaningful for the AT transport.
func (d *Driver) SetATPinPower(h device.Handle, pin int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.get(h)
	if err != nil {
		return err
	}
	s.atPinPower = pin
	return nil
}

// ATPinPower returns the modem-side power pin, NoPin if never set.
func (d *Driver) ATPinPower(h device.Handle) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.get(h)
	if err != nil {
		return NoPin, err
	}
	return s.atPinPower, nil
}

// SetATPinDataReady records which pin of the cellular module is wired to
// the receiver's data-ready line. Only meaningful for the AT transport.
func (d *Driver) SetATPinDataReady(h device.Handle, pin int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.get(h)
	if err != nil {
		return err
	}
	s.atPinDataReady = pin
	return nil
}

// ATPinDataReady returns the modem-side data-ready pin, NoPin if never
// set.
func (d *Driver) ATPinDataReady(h device.Handle) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.get(h)
	if err != nil {
		return NoPin, err
	}
	return s.atPinDataReady, nil
}

// Transport returns the transport type and handle the session uses.
func (d *Driver) Transport(h device.Handle) (transport.Type, transport.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.get(h)
	if err != nil {
		return transport.TypeNone, nil, err
	}
	return s.transportType, s.transportHandle, nil
}
