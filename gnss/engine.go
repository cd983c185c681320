package gnss

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/gnss/device"
	"go.viam.com/gnss/transport"
	"go.viam.com/gnss/ubx"
)

// How often a blocked receive re-checks the transport for new bytes, and
// the most we pull off it in one go.
const (
	receivePollInterval = 5 * time.Millisecond
	receiveChunkBytes   = 2048
)

// UBX-MON-MSGPP reports per-port counts of messages the receiver has
// parsed; send-with-check uses it to confirm a write actually landed.
const (
	classMon     byte = 0x0A
	idMonMsgPP   byte = 0x06
	msgPPPorts        = 6
	msgPPPerPort      = 8
)

// exchange is a snapshot of the session fields one protocol operation
// needs, captured under the registry lock so the operation itself never
// touches it again.
type exchange struct {
	s             *session
	transportType transport.Type
	handle        transport.Handle
	i2cAddress    byte
	timeout       time.Duration
	portNumber    int
	trace         bool
}

// begin resolves the handle, snapshots the session and takes its
// transport mutex, guaranteeing at most one exchange in flight. The
// returned func releases the mutex and must always be called.
func (d *Driver) begin(h device.Handle) (*exchange, func(), error) {
	d.mu.Lock()
	s, err := d.get(h)
	if err != nil {
		d.mu.Unlock()
		return nil, nil, err
	}
	ex := &exchange{
		s:             s,
		transportType: s.transportType,
		handle:        s.transportHandle,
		i2cAddress:    s.i2cAddress,
		timeout:       s.timeout,
		portNumber:    s.portNumber,
		trace:         s.traceMessages,
	}
	d.mu.Unlock()

	s.transportMu.Lock()
	if s.closed {
		s.transportMu.Unlock()
		return nil, nil, errors.Wrap(ErrInvalidParameter, "session removed")
	}
	return ex, s.transportMu.Unlock, nil
}

// openStream yields the byte stream for a streaming transport. For I2C a
// fresh addressed stream is opened (and must be closed) per exchange, so
// other devices get a chance at the bus in between and address changes
// take effect immediately.
func (d *Driver) openStream(ctx context.Context, ex *exchange) (transport.Stream, func(), error) {
	switch h := ex.handle.(type) {
	case transport.UART:
		return h.Stream, func() {}, nil
	case transport.I2C:
		stream, err := h.Bus.Open(ctx, ex.i2cAddress)
		if err != nil {
			return nil, nil, errors.Wrapf(ErrPlatform, "open i2c stream: %s", err)
		}
		return stream, func() { utils.UncheckedError(stream.Close()) }, nil
	case transport.AT:
		return nil, nil, errors.Wrap(ErrInvalidParameter, "operation requires a streaming transport")
	default:
		return nil, nil, errors.Wrap(ErrInvalidParameter, "unknown transport handle")
	}
}

// SendMessage frames msg and writes it to the receiver without waiting
// for any response. It returns the number of bytes sent including
// framing overhead. Streaming transports only.
func (d *Driver) SendMessage(ctx context.Context, h device.Handle, msg ubx.Message) (int, error) {
	ex, release, err := d.begin(h)
	if err != nil {
		return 0, err
	}
	defer release()
	stream, closeStream, err := d.openStream(ctx, ex)
	if err != nil {
		return 0, err
	}
	defer closeStream()
	return d.sendOnly(ctx, ex, stream, msg)
}

func (d *Driver) sendOnly(ctx context.Context, ex *exchange, stream transport.Stream, msg ubx.Message) (int, error) {
	frame, err := ubx.Encode(msg)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidParameter, "%s", err)
	}
	if ex.trace {
		d.logger.Debugf("tx %s", hex.EncodeToString(frame))
	}
	n, err := stream.Send(ctx, frame)
	if err != nil {
		return 0, errors.Wrapf(ErrPlatform, "send: %s", err)
	}
	if n != len(frame) {
		return 0, errors.Wrapf(ErrPlatform, "short send: %d of %d bytes", n, len(frame))
	}
	return len(frame), nil
}

// SendMessageChecked sends msg and then confirms, via the receiver's
// per-port parsed-message counter, that the receiver actually accepted
// the bytes. This compensates for transports (notably I2C) where a
// dropped write is otherwise invisible. Streaming transports only.
func (d *Driver) SendMessageChecked(ctx context.Context, h device.Handle, msg ubx.Message) (int, error) {
	ex, release, err := d.begin(h)
	if err != nil {
		return 0, err
	}
	defer release()
	stream, closeStream, err := d.openStream(ctx, ex)
	if err != nil {
		return 0, err
	}
	defer closeStream()

	before, err := d.messageCount(ctx, ex, stream)
	if err != nil {
		return 0, err
	}
	n, err := d.sendOnly(ctx, ex, stream, msg)
	if err != nil {
		return 0, err
	}
	// Any change in the total counts as progress. The per-port slots
	// wrap independently at 16 bits, so the summed total is not a
	// free-running counter and an advanced-by-at-least-n comparison is
	// unsound across a wrap; the confirmation polls themselves are also
	// parsed messages on the same port and move the total.
	deadline := d.clk.Now().Add(ex.timeout)
	for {
		after, err := d.messageCount(ctx, ex, stream)
		if err == nil && after != before {
			return n, nil
		}
		if !d.clk.Now().Before(deadline) {
			return 0, errors.Wrap(ErrPlatform, "receiver message count did not advance")
		}
		if err := d.waitQuantum(ctx, receivePollInterval); err != nil {
			return 0, err
		}
	}
}

// messageCount queries UBX-MON-MSGPP and totals the parsed-message
// counters for the port our transport lands on.
func (d *Driver) messageCount(ctx context.Context, ex *exchange, stream transport.Stream) (uint32, error) {
	if _, err := d.sendOnly(ctx, ex, stream, ubx.Message{Class: classMon, ID: idMonMsgPP}); err != nil {
		return 0, err
	}
	resp, err := d.receive(ctx, ex, stream, matchClassID(classMon, idMonMsgPP))
	if err != nil {
		return 0, err
	}
	if len(resp.Body) < msgPPPorts*msgPPPerPort*2 {
		return 0, errors.Wrapf(ErrMalformedResponse, "MON-MSGPP body %d bytes", len(resp.Body))
	}
	var total uint32
	base := ex.portNumber * msgPPPerPort * 2
	for i := 0; i < msgPPPerPort; i++ {
		total += uint32(binary.LittleEndian.Uint16(resp.Body[base+i*2:]))
	}
	return total, nil
}

// ReceiveMessage waits, bounded by the session timeout, for a message
// with the given class and id, discarding malformed frames and anything
// else (NMEA text included) interleaved on the wire. Streaming
// transports only.
func (d *Driver) ReceiveMessage(ctx context.Context, h device.Handle, class, id byte) ([]byte, error) {
	ex, release, err := d.begin(h)
	if err != nil {
		return nil, err
	}
	defer release()
	stream, closeStream, err := d.openStream(ctx, ex)
	if err != nil {
		return nil, err
	}
	defer closeStream()
	msg, err := d.receive(ctx, ex, stream, matchClassID(class, id))
	if err != nil {
		return nil, err
	}
	return msg.Body, nil
}

// SendRequest performs one request/response exchange: msg is sent and
// the response with the same class and id is returned. Valid on every
// transport, including AT.
func (d *Driver) SendRequest(ctx context.Context, h device.Handle, msg ubx.Message) ([]byte, error) {
	ex, release, err := d.begin(h)
	if err != nil {
		return nil, err
	}
	defer release()

	if ex.transportType == transport.TypeUBXAT {
		resp, err := d.atExchange(ctx, ex, msg)
		if err != nil {
			return nil, err
		}
		if resp.Class != msg.Class || resp.ID != msg.ID {
			return nil, errors.Wrapf(ErrMalformedResponse,
				"expected class 0x%02x id 0x%02x, got 0x%02x/0x%02x",
				msg.Class, msg.ID, resp.Class, resp.ID)
		}
		return resp.Body, nil
	}

	stream, closeStream, err := d.openStream(ctx, ex)
	if err != nil {
		return nil, err
	}
	defer closeStream()
	if _, err := d.sendOnly(ctx, ex, stream, msg); err != nil {
		return nil, err
	}
	resp, err := d.receive(ctx, ex, stream, matchClassID(msg.Class, msg.ID))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// SendAcknowledged sends msg and waits for the receiver's Ack or Nack
// correlated to msg's class and id (carried in the acknowledgement's
// body, not its own class/id). Nil on Ack, ErrNacked on Nack. Valid on
// every transport.
func (d *Driver) SendAcknowledged(ctx context.Context, h device.Handle, msg ubx.Message) error {
	ex, release, err := d.begin(h)
	if err != nil {
		return err
	}
	defer release()

	if ex.transportType == transport.TypeUBXAT {
		resp, err := d.atExchange(ctx, ex, msg)
		if err != nil {
			return err
		}
		return ackOutcome(resp, msg)
	}

	stream, closeStream, err := d.openStream(ctx, ex)
	if err != nil {
		return err
	}
	defer closeStream()
	if _, err := d.sendOnly(ctx, ex, stream, msg); err != nil {
		return err
	}
	match := func(m ubx.Message) (bool, error) {
		if m.Class != ubx.ClassAck || !m.Ack(msg.Class, msg.ID) {
			return false, nil
		}
		if err := ackOutcome(m, msg); err != nil {
			return false, err
		}
		return true, nil
	}
	_, err = d.receive(ctx, ex, stream, match)
	return err
}

// ackOutcome maps an acknowledgement message to the operation's result.
func ackOutcome(m ubx.Message, sent ubx.Message) error {
	if !m.Ack(sent.Class, sent.ID) {
		return errors.Wrapf(ErrMalformedResponse,
			"acknowledgement does not correlate to class 0x%02x id 0x%02x", sent.Class, sent.ID)
	}
	switch m.ID {
	case ubx.IDAck:
		return nil
	case ubx.IDNack:
		return errors.Wrapf(ErrNacked, "class 0x%02x id 0x%02x", sent.Class, sent.ID)
	default:
		return errors.Wrapf(ErrMalformedResponse, "acknowledgement id 0x%02x", m.ID)
	}
}

func matchClassID(class, id byte) func(ubx.Message) (bool, error) {
	return func(m ubx.Message) (bool, error) {
		return m.Class == class && m.ID == id, nil
	}
}

// receive polls the stream for bytes until match accepts a well-formed
// frame or the session timeout expires. Malformed data is discarded one
// byte at a time so scanning re-synchronizes on the next sync-byte pair;
// valid but non-matching frames are dropped silently.
func (d *Driver) receive(
	ctx context.Context,
	ex *exchange,
	stream transport.Stream,
	match func(ubx.Message) (bool, error),
) (ubx.Message, error) {
	deadline := d.clk.Now().Add(ex.timeout)
	var buf []byte
	var noise *noiseTracker
	if ex.trace {
		noise = &noiseTracker{logger: d.logger}
	}
	for {
		avail, err := stream.ReceiveSize(ctx)
		if err != nil {
			return ubx.Message{}, errors.Wrapf(ErrPlatform, "receive size: %s", err)
		}
		if avail > 0 {
			chunk := make([]byte, min(avail, receiveChunkBytes))
			n, err := stream.Receive(ctx, chunk)
			if err != nil {
				return ubx.Message{}, errors.Wrapf(ErrPlatform, "receive: %s", err)
			}
			buf = append(buf, chunk[:n]...)
			for len(buf) > 0 {
				msg, advance, err := ubx.Scan(buf)
				if errors.Is(err, ubx.ErrShortBuffer) {
					break
				}
				if err != nil {
					if noise != nil {
						noise.add(buf[0])
					}
					buf = buf[1:]
					continue
				}
				buf = buf[advance:]
				if ex.trace {
					d.logger.Debugf("rx class 0x%02x id 0x%02x len %d", msg.Class, msg.ID, len(msg.Body))
				}
				ok, err := match(msg)
				if err != nil {
					return ubx.Message{}, err
				}
				if ok {
					return msg, nil
				}
			}
		}
		if !d.clk.Now().Before(deadline) {
			return ubx.Message{}, errors.Wrapf(ErrTimeout, "after %v", ex.timeout)
		}
		if err := d.waitQuantum(ctx, receivePollInterval); err != nil {
			return ubx.Message{}, err
		}
	}
}

// atExchange runs one command/response cycle through the cellular
// module. The class/id/length/body quadruple is hex-encoded into the
// command; sync bytes and checksum are omitted since the modem link has
// its own integrity protection.
func (d *Driver) atExchange(ctx context.Context, ex *exchange, msg ubx.Message) (ubx.Message, error) {
	// The tunnel has no framing layer to enforce the body bound, and an
	// oversize body would overflow the 16-bit length field below.
	if len(msg.Body) > ubx.MaxBodyLength {
		return ubx.Message{}, errors.Wrapf(ErrInvalidParameter, "%s: %d bytes", ubx.ErrBodyTooLarge, len(msg.Body))
	}
	client := ex.handle.(transport.AT).Client
	payload := make([]byte, 0, 4+len(msg.Body))
	payload = append(payload, msg.Class, msg.ID)
	payload = binary.LittleEndian.AppendUint16(payload, uint16(len(msg.Body)))
	payload = append(payload, msg.Body...)
	cmd := fmt.Sprintf("AT+UGUBX=%q", strings.ToUpper(hex.EncodeToString(payload)))
	if ex.trace {
		d.logger.Debugf("at tx %s", cmd)
	}

	ctx, cancel := context.WithTimeout(ctx, ex.timeout)
	defer cancel()
	resp, err := client.Request(ctx, cmd)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ubx.Message{}, errors.Wrapf(ErrTimeout, "after %v", ex.timeout)
		}
		return ubx.Message{}, errors.Wrapf(ErrPlatform, "at request: %s", err)
	}
	if ex.trace {
		d.logger.Debugf("at rx %s", resp)
	}
	return parseATResponse(resp)
}

func parseATResponse(resp string) (ubx.Message, error) {
	s := strings.TrimSpace(resp)
	s = strings.TrimPrefix(s, "+UGUBX:")
	s = strings.Trim(strings.TrimSpace(s), `"`)
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ubx.Message{}, errors.Wrapf(ErrMalformedResponse, "at response not hex: %s", err)
	}
	if len(raw) < 4 {
		return ubx.Message{}, errors.Wrapf(ErrMalformedResponse, "at response %d bytes", len(raw))
	}
	bodyLen := int(binary.LittleEndian.Uint16(raw[2:4]))
	if bodyLen > ubx.MaxBodyLength || bodyLen != len(raw)-4 {
		return ubx.Message{}, errors.Wrapf(ErrMalformedResponse,
			"at response declares %d body bytes, carries %d", bodyLen, len(raw)-4)
	}
	msg := ubx.Message{Class: raw[0], ID: raw[1]}
	if bodyLen > 0 {
		msg.Body = raw[4:]
	}
	return msg, nil
}

// waitQuantum sleeps one poll interval on the driver clock, honoring
// context cancellation.
func (d *Driver) waitQuantum(ctx context.Context, dur time.Duration) error {
	t := d.clk.Timer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// noiseTracker identifies what the byte-level resync is throwing away
// when tracing is on. GNSS receivers commonly interleave NMEA text with
// binary frames on the same port.
type noiseTracker struct {
	logger golog.Logger
	line   []byte
}

func (n *noiseTracker) add(b byte) {
	if b == '\n' {
		line := strings.TrimSpace(string(n.line))
		n.line = n.line[:0]
		if strings.HasPrefix(line, "$") {
			if s, err := nmea.Parse(line); err == nil {
				n.logger.Debugf("discarded interleaved NMEA %s sentence", s.DataType())
				return
			}
		}
		if line != "" {
			n.logger.Debugf("discarded %d bytes of noise", len(line))
		}
		return
	}
	if b >= 0x20 && b < 0x7F {
		n.line = append(n.line, b)
	}
}
