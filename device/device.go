// Package device mints the opaque handles by which driver sessions are
// known to application code. A handle is comparable, unique for the life
// of the process, and carries the kind of device it was created for.
package device

import "sync/atomic"

// Kind identifies what sort of device a handle belongs to.
type Kind int

// The known device kinds.
const (
	KindNone Kind = iota
	KindGNSS
	KindCellular
	KindShortRange
)

var lastID atomic.Uint64

// Handle is an opaque device identity. The zero Handle is never issued.
type Handle struct {
	kind Kind
	id   uint64
}

// Create mints a fresh handle of the given kind.
func Create(kind Kind) Handle {
	return Handle{kind: kind, id: lastID.Add(1)}
}

// Destroy retires a handle. Handles are plain values so there is nothing
// to release; ids are never reused, so a destroyed handle simply stops
// resolving in whatever registry held it.
func Destroy(Handle) {}

// Kind returns the device kind the handle was created for.
func (h Handle) Kind() Kind { return h.kind }

// Valid reports whether the handle was issued by Create.
func (h Handle) Valid() bool { return h.kind != KindNone && h.id != 0 }
