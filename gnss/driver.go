// Package gnss manages sessions with u-blox GNSS receivers reached over
// UART, I2C or an AT-command tunnel, and moves binary protocol messages
// across them: framing, acknowledgements, timeouts and a per-session
// background position task.
package gnss

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/gnss/device"
	"go.viam.com/gnss/gpio"
	"go.viam.com/gnss/transport"
)

// Driver owns the registry of receiver sessions. One Driver serves a
// whole process; sessions are created with Add and identified by the
// opaque handles it returns.
type Driver struct {
	logger   golog.Logger
	gpioCtrl gpio.Controller
	clk      clock.Clock

	// mu guards session list membership and the per-session fields read
	// during add/remove/get/set. It is never held across a transport
	// exchange. sessions is nil whenever the driver is uninitialized.
	mu       sync.Mutex
	sessions map[device.Handle]*session
}

// Option configures a Driver.
type Option func(*Driver)

// WithGPIO supplies the pin controller used for power sequencing. Without
// one, sessions may still be added as long as they have no power pin.
func WithGPIO(c gpio.Controller) Option {
	return func(d *Driver) { d.gpioCtrl = c }
}

// WithClock substitutes the clock used for response deadlines.
func WithClock(c clock.Clock) Option {
	return func(d *Driver) { d.clk = c }
}

// NewDriver returns an uninitialized Driver; call Init before use.
func NewDriver(logger golog.Logger, opts ...Option) *Driver {
	d := &Driver{logger: logger, clk: clock.New()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Init prepares the session registry. It is idempotent and safe to call
// again after Deinit.
func (d *Driver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sessions == nil {
		d.sessions = map[device.Handle]*session{}
	}
	return nil
}

// Deinit destroys every session, stopping any background position tasks,
// and shuts the registry down. A Driver that was never initialized is a
// no-op. Init may be called again afterwards.
func (d *Driver) Deinit() error {
	d.mu.Lock()
	if d.sessions == nil {
		d.mu.Unlock()
		return nil
	}
	detached := make([]*session, 0, len(d.sessions))
	for _, s := range d.sessions {
		detached = append(detached, s)
	}
	d.sessions = nil
	d.mu.Unlock()

	// Per-session teardown waits on position workers, so it must happen
	// outside the registry lock.
	for _, s := range detached {
		d.teardownSession(s)
	}
	return nil
}

// Add creates a session for a receiver of the given module type behind
// the given transport and returns its handle. powerPin is the MCU pin
// enabling power to the receiver (NoPin if none; OR in PinInverted for
// active-low wiring); leavePowerAlone keeps the pin's current level
// untouched, for rails shared with other devices.
func (d *Driver) Add(
	ctx context.Context,
	moduleType ModuleType,
	transportType transport.Type,
	transportHandle transport.Handle,
	powerPin int,
	leavePowerAlone bool,
) (device.Handle, error) {
	var none device.Handle

	powerOnHigh := true
	if powerPin >= 0 && powerPin&PinInverted != 0 {
		powerOnHigh = false
		powerPin &^= PinInverted
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sessions == nil {
		return none, ErrNotInitialized
	}

	module := moduleForType(moduleType)
	if module == nil {
		return none, errors.Wrapf(ErrInvalidParameter, "unknown module type %d", moduleType)
	}
	if !transportType.Valid() {
		return none, errors.Wrapf(ErrInvalidParameter, "unknown transport type %d", transportType)
	}
	if transportHandle == nil || !transportType.Matches(transportHandle) {
		return none, errors.Wrapf(ErrInvalidParameter,
			"transport handle does not fit transport type %s", transportType)
	}
	// Several sessions may share one I2C bus at different device
	// addresses; every other transport admits one session per handle.
	if transportType.StreamKind() != transport.StreamI2C &&
		d.findByTransport(transportType, transportHandle) != nil {
		return none, errors.Wrapf(ErrTransportInUse, "transport type %s", transportType)
	}
	if powerPin >= 0 && d.gpioCtrl == nil {
		return none, errors.Wrap(ErrInvalidParameter, "power pin given but no gpio controller configured")
	}

	handle := device.Create(device.KindGNSS)
	s := &session{
		handle:          handle,
		module:          module,
		transportType:   transportType,
		transportHandle: transportHandle,
		i2cAddress:      DefaultI2CAddress,
		timeout:         DefaultTimeout,
		powerPin:        powerPin,
		powerOnHigh:     powerOnHigh,
		atPinPower:      NoPin,
		atPinDataReady:  NoPin,
	}
	if transportType.StreamKind() == transport.StreamUART {
		s.portNumber = 1
	}

	if powerPin >= 0 {
		d.logger.Infof("initialising with ENABLE_POWER pin %d (high=%t powers on), transport type %s",
			powerPin, powerOnHigh, transportType)
	} else {
		d.logger.Infof("initialising with ENABLE_POWER not connected, transport type %s", transportType)
	}

	if err := d.sequencePowerPin(ctx, s, leavePowerAlone); err != nil {
		// Unwind everything acquired so far.
		device.Destroy(handle)
		return none, err
	}

	d.sessions[handle] = s
	return handle, nil
}

// sequencePowerPin drives the power pin to its inactive level (unless
// asked to leave it alone) and then configures it as an output. The
// drive mode is open drain so a shared rail can be pulled low by anyone
// holding it; a logical-high on-state implies an external inverting
// buffer and plain push-pull.
func (d *Driver) sequencePowerPin(ctx context.Context, s *session, leavePowerAlone bool) error {
	if s.powerPin < 0 {
		return nil
	}
	if !leavePowerAlone {
		if err := d.gpioCtrl.Set(ctx, s.powerPin, !s.powerOnHigh); err != nil {
			d.logger.Errorf("gpio set for ENABLE_POWER pin %d failed: %s", s.powerPin, err)
			return errors.Wrapf(ErrPlatform, "set power pin %d: %s", s.powerPin, err)
		}
	}
	drive := gpio.DriveOpenDrain
	if s.powerOnHigh {
		drive = gpio.DrivePushPull
	}
	cfg := gpio.Config{Direction: gpio.DirectionOutput, Drive: drive, Pull: gpio.PullNone}
	if err := d.gpioCtrl.Configure(ctx, s.powerPin, cfg); err != nil {
		d.logger.Errorf("gpio config for ENABLE_POWER pin %d failed: %s", s.powerPin, err)
		return errors.Wrapf(ErrPlatform, "configure power pin %d: %s", s.powerPin, err)
	}
	return nil
}

// Remove destroys the session. Removing a handle that is not a live
// session is a successful no-op so callers can clean up idempotently.
func (d *Driver) Remove(ctx context.Context, h device.Handle) error {
	d.mu.Lock()
	if d.sessions == nil {
		d.mu.Unlock()
		return ErrNotInitialized
	}
	s, ok := d.sessions[h]
	if ok {
		delete(d.sessions, h)
	}
	d.mu.Unlock()

	if ok {
		d.teardownSession(s)
	}
	return nil
}

// teardownSession runs the destruction sequence: stop the position
// worker and wait for it, mark the session dead under its transport
// mutex (waiting out any in-flight exchange), then retire the handle.
// Callers must not hold the registry lock.
func (d *Driver) teardownSession(s *session) {
	d.stopPosTask(s)
	s.transportMu.Lock()
	s.closed = true
	s.transportMu.Unlock()
	device.Destroy(s.handle)
}

// findByTransport scans for a session whose transport matches; the
// registry lock must be held. Comparison is per-variant: UART handles
// compare streams, I2C handles compare buses, AT handles compare
// clients, and only sessions of the identical transport type can match.
func (d *Driver) findByTransport(t transport.Type, h transport.Handle) *session {
	for _, s := range d.sessions {
		if s.transportType != t {
			continue
		}
		switch want := h.(type) {
		case transport.UART:
			if got, ok := s.transportHandle.(transport.UART); ok && got.Stream == want.Stream {
				return s
			}
		case transport.I2C:
			if got, ok := s.transportHandle.(transport.I2C); ok && got.Bus == want.Bus {
				return s
			}
		case transport.AT:
			if got, ok := s.transportHandle.(transport.AT); ok && got.Client == want.Client {
				return s
			}
		}
	}
	return nil
}

// get resolves a handle; the registry lock must be held.
func (d *Driver) get(h device.Handle) (*session, error) {
	if d.sessions == nil {
		return nil, ErrNotInitialized
	}
	s, ok := d.sessions[h]
	if !ok {
		return nil, errors.Wrap(ErrInvalidParameter, "no session for handle")
	}
	return s, nil
}

// lookup resolves a handle, taking and releasing the registry lock.
func (d *Driver) lookup(h device.Handle) (*session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.get(h)
}
