package gnss

import (
	"context"
	"encoding/binary"
	"time"

	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"

	"go.viam.com/gnss/device"
	"go.viam.com/gnss/ubx"
)

// UBX-NAV-PVT, the navigation position/velocity/time solution.
const (
	classNav         byte = 0x01
	idNavPVT         byte = 0x07
	navPVTBodyLength      = 92
)

// navPVT valid-flags bits.
const (
	validDate = 1 << 0
	validTime = 1 << 1
)

// gnssFixOK bit of the NAV-PVT flags byte.
const flagsGnssFixOK = 1 << 0

// Fix is one position solution from the receiver.
type Fix struct {
	// Location is nil until the receiver has any position at all.
	Location *geo.Point
	// AltitudeM is height above mean sea level in meters.
	AltitudeM float64
	// SpeedMPS is ground speed in meters per second.
	SpeedMPS float64
	// CompassHeading is heading of motion in degrees (0 to 360).
	CompassHeading float64
	// HorizontalAccM and VerticalAccM are the receiver's accuracy
	// estimates in meters.
	HorizontalAccM float64
	VerticalAccM   float64
	// SatsInUse is the number of satellites in the solution.
	SatsInUse int
	// Time is the UTC solution time, zero when the receiver has not
	// resolved date and time yet.
	Time time.Time
	// Valid is the receiver's own within-limits verdict on the fix.
	Valid bool
}

// Position performs one blocking position query over the session's
// transport and returns the decoded fix.
func (d *Driver) Position(ctx context.Context, h device.Handle) (Fix, error) {
	body, err := d.SendRequest(ctx, h, ubx.Message{Class: classNav, ID: idNavPVT})
	if err != nil {
		return Fix{}, err
	}
	return decodeNavPVT(body)
}

func decodeNavPVT(body []byte) (Fix, error) {
	if len(body) < navPVTBodyLength {
		return Fix{}, errors.Wrapf(ErrMalformedResponse, "NAV-PVT body %d bytes", len(body))
	}
	u16 := func(off int) uint16 { return binary.LittleEndian.Uint16(body[off:]) }
	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(body[off:]) }
	i32 := func(off int) int32 { return int32(binary.LittleEndian.Uint32(body[off:])) }

	fix := Fix{
		AltitudeM:      float64(i32(36)) * 1e-3,
		SpeedMPS:       float64(i32(60)) * 1e-3,
		CompassHeading: float64(i32(64)) * 1e-5,
		HorizontalAccM: float64(u32(40)) * 1e-3,
		VerticalAccM:   float64(u32(44)) * 1e-3,
		SatsInUse:      int(body[23]),
		Valid:          body[21]&flagsGnssFixOK != 0,
	}
	lon := float64(i32(24)) * 1e-7
	lat := float64(i32(28)) * 1e-7
	fix.Location = geo.NewPoint(lat, lon)
	if body[11]&(validDate|validTime) == validDate|validTime {
		nano := int(int32(u32(16)))
		fix.Time = time.Date(int(u16(4)), time.Month(body[6]), int(body[7]),
			int(body[8]), int(body[9]), int(body[10]), nano, time.UTC)
	}
	return fix, nil
}
