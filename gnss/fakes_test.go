package gnss

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/gnss/gpio"
	"go.viam.com/gnss/transport"
	"go.viam.com/gnss/ubx"
)

// fakeGPIO records pin operations and can be told to fail them.
type gpioCall struct {
	op   string
	pin  int
	high bool
	cfg  gpio.Config
}

type fakeGPIO struct {
	mu         sync.Mutex
	calls      []gpioCall
	failSet    bool
	failConfig bool
}

func (f *fakeGPIO) Configure(ctx context.Context, pin int, cfg gpio.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failConfig {
		return errors.New("injected gpio config failure")
	}
	f.calls = append(f.calls, gpioCall{op: "configure", pin: pin, cfg: cfg})
	return nil
}

func (f *fakeGPIO) Set(ctx context.Context, pin int, high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return errors.New("injected gpio set failure")
	}
	f.calls = append(f.calls, gpioCall{op: "set", pin: pin, high: high})
	return nil
}

func (f *fakeGPIO) snapshot() []gpioCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gpioCall{}, f.calls...)
}

// fakeStream is an in-memory transport.Stream. Bytes preloaded or
// produced by the respond hook become available to Receive; every frame
// passed to Send is captured.
type fakeStream struct {
	mu      sync.Mutex
	rx      []byte
	tx      [][]byte
	respond func(sent []byte) [][]byte
	closes  int
}

func (f *fakeStream) ReceiveSize(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rx), nil
}

func (f *fakeStream) Receive(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakeStream) Send(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sent := append([]byte{}, p...)
	f.tx = append(f.tx, sent)
	if f.respond != nil {
		for _, chunk := range f.respond(sent) {
			f.rx = append(f.rx, chunk...)
		}
	}
	return len(p), nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeStream) inject(chunks ...[]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range chunks {
		f.rx = append(f.rx, c...)
	}
}

func (f *fakeStream) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte{}, f.tx...)
}

// mustFrame encodes msg, panicking on the impossible.
func mustFrame(msg ubx.Message) []byte {
	frame, err := ubx.Encode(msg)
	if err != nil {
		panic(err)
	}
	return frame
}

// fakeBus hands out its single stream for every address and records the
// addresses asked for.
type fakeBus struct {
	mu     sync.Mutex
	stream *fakeStream
	addrs  []byte
}

func (f *fakeBus) Open(ctx context.Context, addr byte) (transport.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addrs = append(f.addrs, addr)
	return f.stream, nil
}

func (f *fakeBus) addresses() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte{}, f.addrs...)
}

// fakeAT scripts the modem side of the AT tunnel.
type fakeAT struct {
	mu      sync.Mutex
	respond func(cmd string) (string, error)
	cmds    []string
}

func (f *fakeAT) Request(ctx context.Context, cmd string) (string, error) {
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return "", errors.New("no responder scripted")
	}
	return respond(cmd)
}
