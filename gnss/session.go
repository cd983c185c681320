package gnss

import (
	"sync"
	"time"

	"go.viam.com/gnss/device"
	"go.viam.com/gnss/transport"
)

// DefaultI2CAddress is the receiver's fixed default DDC address.
const DefaultI2CAddress byte = 0x42

// DefaultTimeout is the default wait for a response from the receiver.
const DefaultTimeout = 10 * time.Second

// PinInverted may be ORed into the power pin number passed to Add to
// indicate the pin's sense is inverted (low means powered).
const PinInverted = 0x8000

// NoPin indicates the receiver's power is not under our control.
const NoPin = -1

// session is the private state of one managed receiver. The position
// worker reads only immutable fields plus whatever it reaches through
// the protocol engine, and is always stopped before the session goes
// away; mutable registry fields are guarded by Driver.mu.
type session struct {
	handle          device.Handle
	module          *Module
	transportType   transport.Type
	transportHandle transport.Handle

	// portNumber is the port inside the receiver our transport lands on:
	// 0 for DDC (I2C), 1 for UART.
	portNumber int

	// Mutable under Driver.mu.
	i2cAddress     byte
	timeout        time.Duration
	traceMessages  bool
	powerPin       int
	powerOnHigh    bool
	atPinPower     int
	atPinDataReady int

	// transportMu serializes all protocol exchanges on this session;
	// closed marks the session dead and is only touched under it.
	transportMu sync.Mutex
	closed      bool

	posMu sync.Mutex
	pos   *posTask
}
