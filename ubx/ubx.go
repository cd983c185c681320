// Package ubx implements the binary framing used by u-blox GNSS receivers:
// two sync bytes, a class/id pair, a little-endian 16-bit body length, the
// body itself and a two-byte Fletcher checksum computed over everything
// except the sync bytes.
package ubx

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// The two bytes that introduce every frame on a streaming transport.
const (
	Sync1 = 0xB5
	Sync2 = 0x62
)

// Overhead is the number of framing bytes added around a message body:
// two sync bytes, class, id, two length bytes and two checksum bytes.
const Overhead = 8

// headerLength is the number of bytes before the body starts.
const headerLength = 6

// MaxBodyLength bounds the body of any message we will encode or decode.
// The governing factor is the longest RRLP message (UBX-RXM-MEASX); a
// declared length beyond this is treated as framing noise rather than
// allowed to trigger unbounded buffering.
const MaxBodyLength = 1024

// The acknowledgement messages. An Ack or Nack carries the class and id
// of the message being acknowledged in its two-byte body.
const (
	ClassAck byte = 0x05
	IDAck    byte = 0x01
	IDNack   byte = 0x00
)

var (
	// ErrShortBuffer means the buffer may contain the start of a frame but
	// not yet all of it.
	ErrShortBuffer = errors.New("ubx: incomplete frame")
	// ErrBadFrame means the bytes at the front of the buffer cannot be a
	// valid frame (bad sync, oversize length or checksum mismatch).
	ErrBadFrame = errors.New("ubx: malformed frame")
	// ErrBodyTooLarge means an encode was attempted with a body longer
	// than MaxBodyLength.
	ErrBodyTooLarge = errors.New("ubx: body too large")
)

// Message is one protocol message: a class/id pair and an optional body.
type Message struct {
	Class byte
	ID    byte
	Body  []byte
}

// Ack reports whether m is an acknowledgement (positive or negative) of a
// message with the given class and id.
func (m Message) Ack(class, id byte) bool {
	return m.Class == ClassAck && len(m.Body) >= 2 &&
		m.Body[0] == class && m.Body[1] == id
}

// Checksum computes the two running accumulators over buf. The checksum
// covers class, id, length and body, never the sync bytes.
func Checksum(buf []byte) (ckA, ckB byte) {
	for _, b := range buf {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

// Encode wraps msg in the wire envelope and returns the complete frame.
func Encode(msg Message) ([]byte, error) {
	if len(msg.Body) > MaxBodyLength {
		return nil, errors.Wrapf(ErrBodyTooLarge, "%d bytes", len(msg.Body))
	}
	frame := make([]byte, 0, Overhead+len(msg.Body))
	frame = append(frame, Sync1, Sync2, msg.Class, msg.ID)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(len(msg.Body)))
	frame = append(frame, msg.Body...)
	ckA, ckB := Checksum(frame[2:])
	frame = append(frame, ckA, ckB)
	return frame, nil
}

// Decode validates a buffer that must contain exactly one frame and
// returns the message inside it.
func Decode(frame []byte) (Message, error) {
	msg, advance, err := Scan(frame)
	if err != nil {
		if errors.Is(err, ErrShortBuffer) {
			err = errors.Wrap(ErrBadFrame, "truncated")
		}
		return Message{}, err
	}
	if advance != len(frame) {
		return Message{}, errors.Wrapf(ErrBadFrame, "%d trailing bytes", len(frame)-advance)
	}
	return msg, nil
}

// Scan decodes the frame that must start at buf[0] and returns it along
// with the number of bytes it occupied. It returns ErrShortBuffer when
// more bytes are needed and ErrBadFrame when buf[0] cannot start a valid
// frame; in the latter case the caller should discard one byte and rescan
// to re-synchronize on the next sync pair.
func Scan(buf []byte) (Message, int, error) {
	if len(buf) < 1 {
		return Message{}, 0, ErrShortBuffer
	}
	if buf[0] != Sync1 {
		return Message{}, 0, errors.Wrap(ErrBadFrame, "bad sync")
	}
	if len(buf) < 2 {
		return Message{}, 0, ErrShortBuffer
	}
	if buf[1] != Sync2 {
		return Message{}, 0, errors.Wrap(ErrBadFrame, "bad sync")
	}
	if len(buf) < headerLength {
		return Message{}, 0, ErrShortBuffer
	}
	bodyLen := int(binary.LittleEndian.Uint16(buf[4:6]))
	if bodyLen > MaxBodyLength {
		return Message{}, 0, errors.Wrapf(ErrBadFrame, "declared body length %d", bodyLen)
	}
	total := Overhead + bodyLen
	if len(buf) < total {
		return Message{}, 0, ErrShortBuffer
	}
	ckA, ckB := Checksum(buf[2 : total-2])
	if buf[total-2] != ckA || buf[total-1] != ckB {
		return Message{}, 0, errors.Wrap(ErrBadFrame, "checksum mismatch")
	}
	msg := Message{Class: buf[2], ID: buf[3]}
	if bodyLen > 0 {
		msg.Body = make([]byte, bodyLen)
		copy(msg.Body, buf[headerLength:headerLength+bodyLen])
	}
	return msg, total, nil
}
