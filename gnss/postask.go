package gnss

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/gnss/device"
)

// posTask is the synchronization state of a session's background
// position worker. started is closed by the worker on its first
// iteration so the owner can confirm the task is actually alive; stop is
// closed by the owner to request a graceful exit; done is closed by the
// worker on the way out and is what teardown waits on.
type posTask struct {
	started chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// PositionStart launches a background worker that queries the receiver's
// position every interval and hands each result (or error) to cb. At
// most one worker per session; a second start returns ErrBusy. The
// worker interleaves fairly with foreground exchanges by taking the
// session's transport mutex per cycle, never across cycles.
func (d *Driver) PositionStart(
	ctx context.Context,
	h device.Handle,
	interval time.Duration,
	cb func(Fix, error),
) error {
	if cb == nil {
		return errors.Wrap(ErrInvalidParameter, "nil callback")
	}
	if interval <= 0 {
		return errors.Wrapf(ErrInvalidParameter, "interval %v", interval)
	}
	s, err := d.lookup(h)
	if err != nil {
		return err
	}

	s.posMu.Lock()
	if s.pos != nil {
		s.posMu.Unlock()
		return ErrBusy
	}
	t := &posTask{
		started: make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.pos = t
	s.posMu.Unlock()

	utils.PanicCapturingGo(func() { d.runPosTask(h, t, interval, cb) })
	return d.awaitStart(ctx, h, t)
}

// awaitStart confirms the worker is alive before reporting success, so a
// caller can never race teardown against a task that never started. A
// concurrent removal can stop the worker before its first cycle, in
// which case it exits without ever acknowledging; the done channel is
// the only remaining wake-up then.
func (d *Driver) awaitStart(ctx context.Context, h device.Handle, t *posTask) error {
	select {
	case <-t.started:
		return nil
	case <-t.done:
		// The worker may have acknowledged and exited in between.
		select {
		case <-t.started:
			return nil
		default:
		}
		return errors.Wrap(ErrInvalidParameter, "session removed before position task started")
	case <-ctx.Done():
		d.stopPosTaskFor(h)
		return ctx.Err()
	}
}

// PositionStop asks the session's worker to stop and waits for it to
// exit. A session with no running worker is a no-op.
func (d *Driver) PositionStop(h device.Handle) error {
	s, err := d.lookup(h)
	if err != nil {
		return err
	}
	d.stopPosTask(s)
	return nil
}

func (d *Driver) runPosTask(h device.Handle, t *posTask, interval time.Duration, cb func(Fix, error)) {
	defer close(t.done)
	first := true
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		if first {
			close(t.started)
			first = false
		}
		// Each cycle is bounded by the session timeout, so a stop
		// request is observed within one cycle plus the wait below.
		fix, err := d.Position(context.Background(), h)
		cb(fix, err)
		timer := d.clk.Timer(interval)
		select {
		case <-t.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// stopPosTask detaches and stops the session's worker, blocking until it
// has exited. Must not be called with the registry lock held: the worker
// may be inside a protocol exchange that needs the transport mutex, and
// the exchange path takes the registry lock to snapshot session fields.
func (d *Driver) stopPosTask(s *session) {
	s.posMu.Lock()
	t := s.pos
	s.pos = nil
	s.posMu.Unlock()
	if t == nil {
		return
	}
	close(t.stop)
	<-t.done
}

// stopPosTaskFor is stopPosTask by handle, tolerating a session that has
// already gone away.
func (d *Driver) stopPosTaskFor(h device.Handle) {
	s, err := d.lookup(h)
	if err != nil {
		return
	}
	d.stopPosTask(s)
}
