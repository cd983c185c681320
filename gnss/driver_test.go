package gnss

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"go.viam.com/gnss/device"
	"go.viam.com/gnss/gpio"
	"go.viam.com/gnss/transport"
)

func newTestDriver(t *testing.T, opts ...Option) *Driver {
	t.Helper()
	d := NewDriver(golog.NewTestLogger(t), opts...)
	test.That(t, d.Init(), test.ShouldBeNil)
	return d
}

func uartHandle() transport.Handle {
	return transport.UART{Stream: &fakeStream{}}
}

func TestDriverLifecycle(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ctx := context.Background()

	d := NewDriver(logger)
	_, err := d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, uartHandle(), NoPin, false)
	test.That(t, err, test.ShouldBeError, ErrNotInitialized)
	test.That(t, d.Remove(ctx, device.Handle{}), test.ShouldBeError, ErrNotInitialized)
	_, err = d.Timeout(device.Handle{})
	test.That(t, err, test.ShouldBeError, ErrNotInitialized)

	// Init is idempotent, Deinit on an uninitialized driver is a no-op.
	test.That(t, d.Init(), test.ShouldBeNil)
	test.That(t, d.Init(), test.ShouldBeNil)

	h, err := d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, uartHandle(), NoPin, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.Valid(), test.ShouldBeTrue)

	test.That(t, d.Deinit(), test.ShouldBeNil)
	_, err = d.Timeout(h)
	test.That(t, err, test.ShouldBeError, ErrNotInitialized)
	test.That(t, d.Deinit(), test.ShouldBeNil)

	// The registry comes back after a Deinit/Init cycle.
	test.That(t, d.Init(), test.ShouldBeNil)
	h, err = d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, uartHandle(), NoPin, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Remove(ctx, h), test.ShouldBeNil)
}

func TestAddValidation(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	_, err := d.Add(ctx, ModuleType(42), transport.TypeUBXUART, uartHandle(), NoPin, false)
	test.That(t, err, test.ShouldBeError)
	test.That(t, errors.Is(err, ErrInvalidParameter), test.ShouldBeTrue)

	_, err = d.Add(ctx, ModuleTypeM8, transport.TypeNone, uartHandle(), NoPin, false)
	test.That(t, errors.Is(err, ErrInvalidParameter), test.ShouldBeTrue)

	_, err = d.Add(ctx, ModuleTypeM8, transport.Type(99), uartHandle(), NoPin, false)
	test.That(t, errors.Is(err, ErrInvalidParameter), test.ShouldBeTrue)

	// Handle variant must fit the transport type.
	_, err = d.Add(ctx, ModuleTypeM8, transport.TypeUBXI2C, uartHandle(), NoPin, false)
	test.That(t, errors.Is(err, ErrInvalidParameter), test.ShouldBeTrue)

	_, err = d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, nil, NoPin, false)
	test.That(t, errors.Is(err, ErrInvalidParameter), test.ShouldBeTrue)

	// A power pin without a pin controller cannot be sequenced.
	_, err = d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, uartHandle(), 4, false)
	test.That(t, errors.Is(err, ErrInvalidParameter), test.ShouldBeTrue)
}

func TestAddTransportUniqueness(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	uart := uartHandle()
	_, err := d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, uart, NoPin, false)
	test.That(t, err, test.ShouldBeNil)
	_, err = d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, uart, NoPin, false)
	test.That(t, errors.Is(err, ErrTransportInUse), test.ShouldBeTrue)

	at := transport.AT{Client: &fakeAT{}}
	_, err = d.Add(ctx, ModuleTypeM9, transport.TypeUBXAT, at, NoPin, false)
	test.That(t, err, test.ShouldBeNil)
	_, err = d.Add(ctx, ModuleTypeM9, transport.TypeUBXAT, at, NoPin, false)
	test.That(t, errors.Is(err, ErrTransportInUse), test.ShouldBeTrue)

	// One I2C bus can carry several receivers at different addresses.
	bus := transport.I2C{Bus: &fakeBus{stream: &fakeStream{}}}
	first, err := d.Add(ctx, ModuleTypeM8, transport.TypeUBXI2C, bus, NoPin, false)
	test.That(t, err, test.ShouldBeNil)
	second, err := d.Add(ctx, ModuleTypeM8, transport.TypeUBXI2C, bus, NoPin, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first == second, test.ShouldBeFalse)
}

func TestRemoveIdempotent(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	// Removing something that was never a session succeeds.
	test.That(t, d.Remove(ctx, device.Handle{}), test.ShouldBeNil)

	h, err := d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, uartHandle(), NoPin, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Remove(ctx, h), test.ShouldBeNil)
	test.That(t, d.Remove(ctx, h), test.ShouldBeNil)

	_, err = d.Timeout(h)
	test.That(t, errors.Is(err, ErrInvalidParameter), test.ShouldBeTrue)
}

func TestPowerPinSequencing(t *testing.T) {
	ctx := context.Background()

	t.Run("active high", func(t *testing.T) {
		pins := &fakeGPIO{}
		d := newTestDriver(t, WithGPIO(pins))
		_, err := d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, uartHandle(), 17, false)
		test.That(t, err, test.ShouldBeNil)

		calls := pins.snapshot()
		test.That(t, len(calls), test.ShouldEqual, 2)
		// Driven to the inactive level (low) before being configured.
		test.That(t, calls[0], test.ShouldResemble, gpioCall{op: "set", pin: 17, high: false})
		test.That(t, calls[1].op, test.ShouldEqual, "configure")
		test.That(t, calls[1].pin, test.ShouldEqual, 17)
		test.That(t, calls[1].cfg.Direction, test.ShouldEqual, gpio.DirectionOutput)
		test.That(t, calls[1].cfg.Drive, test.ShouldEqual, gpio.DrivePushPull)
	})

	t.Run("inverted", func(t *testing.T) {
		pins := &fakeGPIO{}
		d := newTestDriver(t, WithGPIO(pins))
		_, err := d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, uartHandle(), 5|PinInverted, false)
		test.That(t, err, test.ShouldBeNil)

		calls := pins.snapshot()
		test.That(t, len(calls), test.ShouldEqual, 2)
		// Inactive means high for an inverted pin, and the drive must be
		// open drain.
		test.That(t, calls[0], test.ShouldResemble, gpioCall{op: "set", pin: 5, high: true})
		test.That(t, calls[1].cfg.Drive, test.ShouldEqual, gpio.DriveOpenDrain)
	})

	t.Run("leave power alone", func(t *testing.T) {
		pins := &fakeGPIO{}
		d := newTestDriver(t, WithGPIO(pins))
		_, err := d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, uartHandle(), 17, true)
		test.That(t, err, test.ShouldBeNil)

		calls := pins.snapshot()
		test.That(t, len(calls), test.ShouldEqual, 1)
		test.That(t, calls[0].op, test.ShouldEqual, "configure")
	})

	t.Run("gpio failure unwinds", func(t *testing.T) {
		pins := &fakeGPIO{failSet: true}
		d := newTestDriver(t, WithGPIO(pins))
		uart := uartHandle()
		_, err := d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, uart, 17, false)
		test.That(t, errors.Is(err, ErrPlatform), test.ShouldBeTrue)

		// The failed add left nothing behind: the same transport is
		// still free.
		pins.failSet = false
		_, err = d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, uart, 17, false)
		test.That(t, err, test.ShouldBeNil)
	})
}

func TestPowerOnOff(t *testing.T) {
	ctx := context.Background()
	pins := &fakeGPIO{}
	d := newTestDriver(t, WithGPIO(pins))

	h, err := d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, uartHandle(), 9|PinInverted, false)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, d.PowerOn(ctx, h), test.ShouldBeNil)
	test.That(t, d.PowerOff(ctx, h), test.ShouldBeNil)
	calls := pins.snapshot()
	// Inverted pin: on drives low, off drives high.
	test.That(t, calls[len(calls)-2], test.ShouldResemble, gpioCall{op: "set", pin: 9, high: false})
	test.That(t, calls[len(calls)-1], test.ShouldResemble, gpioCall{op: "set", pin: 9, high: true})

	unpowered, err := d.Add(ctx, ModuleTypeM8, transport.TypeUBXUART, uartHandle(), NoPin, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errors.Is(d.PowerOn(ctx, unpowered), ErrInvalidParameter), test.ShouldBeTrue)
}

func TestAccessors(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	bus := transport.I2C{Bus: &fakeBus{stream: &fakeStream{}}}
	h, err := d.Add(ctx, ModuleTypeM10, transport.TypeUBXI2C, bus, NoPin, false)
	test.That(t, err, test.ShouldBeNil)

	addr, err := d.I2CAddress(h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, addr, test.ShouldEqual, DefaultI2CAddress)
	test.That(t, d.SetI2CAddress(h, 0x43), test.ShouldBeNil)
	addr, err = d.I2CAddress(h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, addr, test.ShouldEqual, byte(0x43))

	// Rejected addresses leave the configured one untouched.
	test.That(t, errors.Is(d.SetI2CAddress(h, 0), ErrInvalidParameter), test.ShouldBeTrue)
	test.That(t, errors.Is(d.SetI2CAddress(h, -2), ErrInvalidParameter), test.ShouldBeTrue)
	test.That(t, errors.Is(d.SetI2CAddress(h, 0x80), ErrInvalidParameter), test.ShouldBeTrue)
	addr, err = d.I2CAddress(h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, addr, test.ShouldEqual, byte(0x43))

	timeout, err := d.Timeout(h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, timeout, test.ShouldEqual, DefaultTimeout)
	test.That(t, d.SetTimeout(h, 2*time.Second), test.ShouldBeNil)
	timeout, err = d.Timeout(h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, timeout, test.ShouldEqual, 2*time.Second)
	test.That(t, errors.Is(d.SetTimeout(h, 0), ErrInvalidParameter), test.ShouldBeTrue)

	trace, err := d.MessageTrace(h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, trace, test.ShouldBeFalse)
	test.That(t, d.SetMessageTrace(h, true), test.ShouldBeNil)
	trace, err = d.MessageTrace(h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, trace, test.ShouldBeTrue)

	pin, err := d.ATPinPower(h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pin, test.ShouldEqual, NoPin)
	test.That(t, d.SetATPinPower(h, 23), test.ShouldBeNil)
	test.That(t, d.SetATPinDataReady(h, 24), test.ShouldBeNil)
	pin, err = d.ATPinPower(h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pin, test.ShouldEqual, 23)
	pin, err = d.ATPinDataReady(h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pin, test.ShouldEqual, 24)

	tType, tHandle, err := d.Transport(h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tType, test.ShouldEqual, transport.TypeUBXI2C)
	test.That(t, tHandle, test.ShouldResemble, bus)
}
