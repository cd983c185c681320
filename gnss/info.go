package gnss

import (
	"bytes"
	"context"

	"github.com/pkg/errors"

	"go.viam.com/gnss/device"
	"go.viam.com/gnss/ubx"
)

// UBX-MON-VER, receiver and software version.
const idMonVer byte = 0x04

const (
	monVerSWLength  = 30
	monVerHWLength  = 10
	monVerExtLength = 30
)

// Version is what the receiver reports about itself.
type Version struct {
	Software   string
	Hardware   string
	Extensions []string
}

// FirmwareVersion queries the receiver's version strings.
func (d *Driver) FirmwareVersion(ctx context.Context, h device.Handle) (Version, error) {
	body, err := d.SendRequest(ctx, h, ubx.Message{Class: classMon, ID: idMonVer})
	if err != nil {
		return Version{}, err
	}
	if len(body) < monVerSWLength+monVerHWLength {
		return Version{}, errors.Wrapf(ErrMalformedResponse, "MON-VER body %d bytes", len(body))
	}
	v := Version{
		Software: cString(body[:monVerSWLength]),
		Hardware: cString(body[monVerSWLength : monVerSWLength+monVerHWLength]),
	}
	for off := monVerSWLength + monVerHWLength; off+monVerExtLength <= len(body); off += monVerExtLength {
		if ext := cString(body[off : off+monVerExtLength]); ext != "" {
			v.Extensions = append(v.Extensions, ext)
		}
	}
	return v, nil
}

// cString interprets a fixed-width NUL-padded field.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
