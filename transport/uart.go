package transport

import (
	"context"
	"io"
	"sync"

	"github.com/edaniels/golog"
	goserial "github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// OpenUART opens the serial device at path and returns a buffered stream
// over it.
func OpenUART(path string, baudRate uint, logger golog.Logger) (Stream, error) {
	if baudRate == 0 {
		baudRate = 9600
		logger.Info("uart: baud_rate using default 9600")
	}
	options := goserial.OpenOptions{
		PortName:        path,
		BaudRate:        baudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}
	port, err := goserial.Open(options)
	if err != nil {
		return nil, errors.Wrapf(err, "open uart %s", path)
	}
	return NewBufferedStream(port, logger), nil
}

// NewBufferedStream pumps rwc into an internal buffer from a background
// goroutine so that ReceiveSize and Receive never block on the wire.
// Closing the stream closes rwc, which unblocks the pump.
func NewBufferedStream(rwc io.ReadWriteCloser, logger golog.Logger) Stream {
	s := &bufferedStream{rwc: rwc, logger: logger}
	s.workers.Add(1)
	utils.ManagedGo(s.pump, s.workers.Done)
	return s
}

type bufferedStream struct {
	rwc     io.ReadWriteCloser
	logger  golog.Logger
	workers sync.WaitGroup

	mu      sync.Mutex
	buf     []byte
	readErr error
	closed  bool
}

func (s *bufferedStream) pump() {
	chunk := make([]byte, 512)
	for {
		n, err := s.rwc.Read(chunk)
		s.mu.Lock()
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			if !s.closed {
				s.readErr = err
			}
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

func (s *bufferedStream) ReceiveSize(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 && s.readErr != nil {
		return 0, s.readErr
	}
	return len(s.buf), nil
}

func (s *bufferedStream) Receive(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		if s.readErr != nil {
			return 0, s.readErr
		}
		return 0, nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *bufferedStream) Send(ctx context.Context, p []byte) (int, error) {
	return s.rwc.Write(p)
}

func (s *bufferedStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	err := s.rwc.Close()
	s.workers.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return multierr.Combine(err, s.readErr)
}
