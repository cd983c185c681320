package transport

import (
	"context"

	i2c "github.com/d2r2/go-i2c"
	"github.com/pkg/errors"
)

// u-blox DDC (I2C) register layout: 0xFD/0xFE hold the big-endian count
// of bytes waiting in the receiver's transmit buffer and 0xFF is the
// data stream register.
const (
	ddcAvailableReg = 0xFD
	ddcDataReg      = 0xFF
)

// NewI2CBus returns a Bus for the Linux I2C bus with the given number.
func NewI2CBus(number int) Bus {
	return &i2cBus{number: number}
}

type i2cBus struct {
	number int
}

func (b *i2cBus) Open(ctx context.Context, addr byte) (Stream, error) {
	dev, err := i2c.NewI2C(addr, b.number)
	if err != nil {
		return nil, errors.Wrapf(err, "open i2c bus %d addr 0x%02x", b.number, addr)
	}
	return &i2cStream{dev: dev}, nil
}

type i2cStream struct {
	dev *i2c.I2C
}

func (s *i2cStream) ReceiveSize(ctx context.Context) (int, error) {
	count, err := s.dev.ReadRegU16BE(ddcAvailableReg)
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *i2cStream) Receive(ctx context.Context, p []byte) (int, error) {
	// Set the register pointer to the data stream register, then read.
	if _, err := s.dev.WriteBytes([]byte{ddcDataReg}); err != nil {
		return 0, err
	}
	return s.dev.ReadBytes(p)
}

func (s *i2cStream) Send(ctx context.Context, p []byte) (int, error) {
	return s.dev.WriteBytes(p)
}

func (s *i2cStream) Close() error {
	return s.dev.Close()
}
