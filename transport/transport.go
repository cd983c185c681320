// Package transport defines the channels over which a GNSS receiver can
// be reached (a UART byte stream, a shared I2C bus, or a tunnel through
// an AT-command cellular module) and concrete implementations of the
// streaming ones.
package transport

import "context"

// Type tags which transport a session uses and which protocol flavor is
// expected on it.
type Type int

// The transport types.
const (
	TypeNone Type = iota
	TypeUBXUART
	TypeUBXAT
	TypeNMEAUART
	TypeUBXI2C
	TypeNMEAI2C
	typeMax
)

var typeText = map[Type]string{
	TypeNone:     "none",
	TypeUBXUART:  "ubx UART",
	TypeUBXAT:    "ubx AT",
	TypeNMEAUART: "NMEA UART",
	TypeUBXI2C:   "ubx I2C",
	TypeNMEAI2C:  "NMEA I2C",
}

func (t Type) String() string {
	if s, ok := typeText[t]; ok {
		return s
	}
	return "unknown"
}

// Valid reports whether t names a real transport (TypeNone is not one).
func (t Type) Valid() bool { return t > TypeNone && t < typeMax }

// StreamKind describes the byte-level nature of a transport type.
type StreamKind int

// The stream kinds. An AT tunnel is not a byte stream: the modem frames
// whole exchanges for us.
const (
	StreamNone StreamKind = iota
	StreamUART
	StreamI2C
)

// StreamKind returns the byte-level kind for the transport type.
func (t Type) StreamKind() StreamKind {
	switch t {
	case TypeUBXUART, TypeNMEAUART:
		return StreamUART
	case TypeUBXI2C, TypeNMEAI2C:
		return StreamI2C
	case TypeNone, TypeUBXAT, typeMax:
		fallthrough
	default:
		return StreamNone
	}
}

// Stream is a byte-oriented link to the receiver. Implementations buffer
// internally so that ReceiveSize and Receive never block on the wire.
type Stream interface {
	// ReceiveSize returns the number of bytes that can be read right now.
	ReceiveSize(ctx context.Context) (int, error)
	// Receive copies up to len(p) already-available bytes into p.
	Receive(ctx context.Context, p []byte) (int, error)
	// Send writes p to the receiver and returns the bytes written.
	Send(ctx context.Context, p []byte) (int, error)
	Close() error
}

// Bus is a shareable I2C bus. Sessions hold the bus, not an address: the
// device address is a per-session, runtime-settable property, so a fresh
// addressed stream is opened around each protocol exchange.
type Bus interface {
	Open(ctx context.Context, addr byte) (Stream, error)
}

// ATClient tunnels one command/response exchange through a cellular
// module. The modem link carries its own integrity protection, so no
// sync bytes or checksum travel over it.
type ATClient interface {
	Request(ctx context.Context, cmd string) (string, error)
}

// Handle identifies the concrete transport a session is attached to. It
// is a closed set: exactly one of the types below.
type Handle interface {
	isTransportHandle()
}

// UART wraps an open byte stream, typically from OpenUART.
type UART struct {
	Stream Stream
}

// I2C wraps a shared bus, typically from NewI2CBus.
type I2C struct {
	Bus Bus
}

// AT wraps a client for the cellular module the receiver hangs off.
type AT struct {
	Client ATClient
}

func (UART) isTransportHandle() {}
func (I2C) isTransportHandle()  {}
func (AT) isTransportHandle()   {}

// Matches reports whether the handle variant is the one the transport
// type calls for.
func (t Type) Matches(h Handle) bool {
	switch t.StreamKind() {
	case StreamUART:
		_, ok := h.(UART)
		return ok
	case StreamI2C:
		_, ok := h.(I2C)
		return ok
	case StreamNone:
		fallthrough
	default:
		if t == TypeUBXAT {
			_, ok := h.(AT)
			return ok
		}
		return false
	}
}
