package coordinator

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// armTimer schedules the occupant's one-shot expiry. The firing is delivered
// as a command into the loop, never applied directly, so it serializes with
// client requests. The seq carried by the command lets handleExpire discard
// firings for occupants that have already moved on; the stop channel lets
// disarm reclaim the waiting goroutine when the occupant transitions early.
func (c *Coordinator) armTimer(ctx context.Context, occ *occupant, eventID string, d time.Duration) {
	occ.timer = c.clock.NewTimer(d)
	occ.stopCh = make(chan struct{})

	go func(t clockwork.Timer, stopCh <-chan struct{}, phase Phase, seq uint64) {
		select {
		case <-t.Chan():
			select {
			case c.cmdCh <- command{kind: cmdExpire, eventID: eventID, phase: phase, seq: seq}:
			case <-ctx.Done():
			}
		case <-stopCh:
		case <-ctx.Done():
			stopAndDrainTimer(t)
		}
	}(occ.timer, occ.stopCh, occ.phase, occ.seq)
}

// disarm cancels the occupant's pending expiry and releases its goroutine.
func disarm(occ *occupant) {
	stopAndDrainTimer(occ.timer)
	if occ.stopCh != nil {
		close(occ.stopCh)
		occ.stopCh = nil
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel, following
// the pattern recommended in the time.Timer.Stop documentation.
func stopAndDrainTimer(t clockwork.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}

func (c *Coordinator) stopAllTimers() {
	for _, occ := range c.occupants {
		disarm(occ)
	}
}
