//go:build linux

package gpio

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	mkchgpio "github.com/mkch/gpio"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// linuxController drives pins through the Linux GPIO character device,
// indirectly by way of mkch's gpio package. Lines are opened lazily on
// first use and kept open so the configured level persists.
type linuxController struct {
	devicePath string
	logger     golog.Logger

	mu    sync.Mutex
	lines map[int]*mkchgpio.Line
}

// NewLinuxController returns a Controller backed by the character device
// at devicePath (for example "/dev/gpiochip0").
func NewLinuxController(devicePath string, logger golog.Logger) Controller {
	return &linuxController{
		devicePath: devicePath,
		logger:     logger,
		lines:      map[int]*mkchgpio.Line{},
	}
}

// openLine assumes the mutex is held. It opens the pin as an output with
// the given initial value, replacing any line already open for the pin.
func (c *linuxController) openLine(pin int, initial byte) (*mkchgpio.Line, error) {
	chip, err := mkchgpio.OpenChip(c.devicePath)
	if err != nil {
		return nil, errors.Wrapf(err, "open gpio chip %s", c.devicePath)
	}
	defer utils.UncheckedErrorFunc(chip.Close)

	if old, ok := c.lines[pin]; ok {
		utils.UncheckedErrorFunc(old.Close)
		delete(c.lines, pin)
	}

	line, err := chip.OpenLine(uint32(pin), initial, mkchgpio.Output, "viam-gnss")
	if err != nil {
		return nil, errors.Wrapf(err, "open gpio line %d", pin)
	}
	c.lines[pin] = line
	return line, nil
}

func (c *linuxController) Configure(ctx context.Context, pin int, cfg Config) error {
	if cfg.Direction != DirectionOutput {
		return errors.New("only output pins are supported")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// The character device interface has no per-line drive or pull knobs
	// we can reach from here; keep whatever level the line already has
	// (or low if it was never driven) and rely on board wiring for the
	// open-drain cases.
	var initial byte
	if line, ok := c.lines[pin]; ok {
		value, err := line.Value()
		if err == nil && value != 0 {
			initial = 1
		}
	}
	_, err := c.openLine(pin, initial)
	return err
}

func (c *linuxController) Set(ctx context.Context, pin int, high bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var value byte
	if high {
		value = 1
	}
	line, ok := c.lines[pin]
	if !ok {
		_, err := c.openLine(pin, value)
		return err
	}
	return line.SetValue(value)
}
