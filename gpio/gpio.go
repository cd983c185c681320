// Package gpio abstracts the MCU pin primitives the GNSS driver needs to
// sequence a receiver's power rail. Only output drive is required.
package gpio

import "context"

// Direction of a configured pin.
type Direction int

// The pin directions.
const (
	DirectionInput Direction = iota
	DirectionOutput
)

// DriveMode selects the output stage behavior. Open drain matters when
// the power rail is shared: several devices may pull the same enable line
// low while a pull-up holds it high.
type DriveMode int

// The drive modes.
const (
	DrivePushPull DriveMode = iota
	DriveOpenDrain
)

// Pull selects the internal resistor configuration.
type Pull int

// The pull modes.
const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Config describes how a pin should be configured.
type Config struct {
	Direction Direction
	Drive     DriveMode
	Pull      Pull
}

// Controller drives MCU pins by number.
type Controller interface {
	// Configure applies cfg to the pin.
	Configure(ctx context.Context, pin int, cfg Config) error
	// Set drives the pin's output level.
	Set(ctx context.Context, pin int, high bool) error
}
