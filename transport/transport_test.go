package transport

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"
)

func TestTypeStreamKind(t *testing.T) {
	test.That(t, TypeUBXUART.StreamKind(), test.ShouldEqual, StreamUART)
	test.That(t, TypeNMEAUART.StreamKind(), test.ShouldEqual, StreamUART)
	test.That(t, TypeUBXI2C.StreamKind(), test.ShouldEqual, StreamI2C)
	test.That(t, TypeNMEAI2C.StreamKind(), test.ShouldEqual, StreamI2C)
	test.That(t, TypeUBXAT.StreamKind(), test.ShouldEqual, StreamNone)
	test.That(t, TypeNone.StreamKind(), test.ShouldEqual, StreamNone)
}

func TestTypeValid(t *testing.T) {
	test.That(t, TypeNone.Valid(), test.ShouldBeFalse)
	test.That(t, TypeUBXUART.Valid(), test.ShouldBeTrue)
	test.That(t, TypeNMEAI2C.Valid(), test.ShouldBeTrue)
	test.That(t, Type(99).Valid(), test.ShouldBeFalse)
}

func TestTypeMatchesHandle(t *testing.T) {
	uart := UART{}
	bus := I2C{}
	at := AT{}
	test.That(t, TypeUBXUART.Matches(uart), test.ShouldBeTrue)
	test.That(t, TypeNMEAUART.Matches(uart), test.ShouldBeTrue)
	test.That(t, TypeUBXUART.Matches(bus), test.ShouldBeFalse)
	test.That(t, TypeUBXI2C.Matches(bus), test.ShouldBeTrue)
	test.That(t, TypeUBXAT.Matches(at), test.ShouldBeTrue)
	test.That(t, TypeUBXAT.Matches(uart), test.ShouldBeFalse)
	test.That(t, TypeNone.Matches(uart), test.ShouldBeFalse)
}

func TestBufferedStream(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	devSide, hostSide := io.Pipe()
	stream := NewBufferedStream(&pipeRWC{r: devSide, w: io.Discard}, logger)

	go func() {
		//nolint:errcheck
		hostSide.Write([]byte{1, 2, 3, 4})
	}()

	// The pump runs in the background; poll until the bytes land.
	deadline := time.Now().Add(5 * time.Second)
	var available int
	for time.Now().Before(deadline) {
		var err error
		available, err = stream.ReceiveSize(ctx)
		test.That(t, err, test.ShouldBeNil)
		if available == 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	test.That(t, available, test.ShouldEqual, 4)

	p := make([]byte, 2)
	n, err := stream.Receive(ctx, p)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 2)
	test.That(t, p, test.ShouldResemble, []byte{1, 2})

	n, err = stream.Receive(ctx, make([]byte, 16))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 2)

	test.That(t, stream.Close(), test.ShouldBeNil)
}

func TestBufferedStreamReceiveEmpty(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	devSide, _ := io.Pipe()
	stream := NewBufferedStream(&pipeRWC{r: devSide, w: io.Discard}, logger)

	n, err := stream.Receive(ctx, make([]byte, 8))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 0)

	test.That(t, stream.Close(), test.ShouldBeNil)
}

// pipeRWC glues a pipe reader and a writer into an io.ReadWriteCloser.
type pipeRWC struct {
	r *io.PipeReader
	w io.Writer
}

func (p *pipeRWC) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeRWC) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeRWC) Close() error                { return p.r.Close() }
