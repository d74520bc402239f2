package coordinator

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

func (c *Coordinator) handleConnect(cmd command) bool {
	if _, ok := c.online[cmd.sessionID]; ok {
		// Reconnect with a live identity. Still broadcast so the new socket
		// receives the current state instead of waiting for the next change.
		c.reply(cmd, Result{OK: true})
		return true
	}
	c.online[cmd.sessionID] = struct{}{}
	log.Info().
		Str("session_id", cmd.sessionID).
		Int("online", len(c.online)).
		Msg("session connected")
	c.reply(cmd, Result{OK: true})
	return true
}

func (c *Coordinator) handleDisconnect(ctx context.Context, cmd command) bool {
	if _, ok := c.online[cmd.sessionID]; !ok {
		c.reply(cmd, Result{OK: true})
		return false
	}
	delete(c.online, cmd.sessionID)

	for _, eventID := range c.registry.IDs() {
		if q, ok := c.queues[eventID]; ok {
			q.Remove(cmd.sessionID)
		}
		occ := c.occupants[eventID]
		if occ == nil || occ.sessionID != cmd.sessionID {
			continue
		}
		// Implicit cancellation: a vanished hold gives its slot back, a
		// vanished selection never claimed one.
		c.clearOccupant(eventID, occ.phase == PhaseAwaitingConfirmation)
		log.Info().
			Str("session_id", cmd.sessionID).
			Str("event_id", eventID).
			Str("phase", string(occ.phase)).
			Msg("disconnect cancelled active claim")
		c.promote(ctx, eventID)
	}

	log.Info().
		Str("session_id", cmd.sessionID).
		Int("online", len(c.online)).
		Msg("session disconnected")
	c.reply(cmd, Result{OK: true})
	return true
}

func (c *Coordinator) handleJoinQueue(ctx context.Context, cmd command) bool {
	if !c.registry.Contains(cmd.eventID) {
		c.reply(cmd, Result{Message: "unknown event"})
		return false
	}
	if _, ok := c.online[cmd.sessionID]; !ok {
		c.reply(cmd, Result{Message: "session is not connected"})
		return false
	}
	if c.isConfirmed(cmd.eventID, cmd.sessionID) {
		c.reply(cmd, Result{Message: "reservation already confirmed for this event"})
		return false
	}
	if occ := c.occupants[cmd.eventID]; occ != nil && occ.sessionID == cmd.sessionID {
		c.reply(cmd, Result{Message: "already holding the selection for this event"})
		return false
	}
	if !c.queueFor(cmd.eventID).Enqueue(cmd.sessionID) {
		c.reply(cmd, Result{OK: true, Message: "already waiting in queue"})
		return false
	}

	log.Info().
		Str("session_id", cmd.sessionID).
		Str("event_id", cmd.eventID).
		Int("queue_len", c.queueFor(cmd.eventID).Len()).
		Msg("session joined queue")
	// Respond before promoting so the requester sees its acknowledgement
	// ahead of a selection_started notice for the same join.
	c.reply(cmd, Result{OK: true, Message: "joined queue"})
	c.promote(ctx, cmd.eventID)
	return true
}

func (c *Coordinator) handleLeaveQueue(ctx context.Context, cmd command) bool {
	mutated := false
	if q, ok := c.queues[cmd.eventID]; ok && q.Remove(cmd.sessionID) {
		mutated = true
	}

	cancelled := false
	if occ := c.occupants[cmd.eventID]; occ != nil && occ.sessionID == cmd.sessionID {
		// Voluntary cancel of an in-flight claim.
		c.clearOccupant(cmd.eventID, occ.phase == PhaseAwaitingConfirmation)
		cancelled = true
		mutated = true
	}

	if !mutated {
		c.reply(cmd, Result{Message: "not waiting for this event"})
		return false
	}
	log.Info().
		Str("session_id", cmd.sessionID).
		Str("event_id", cmd.eventID).
		Msg("session left queue")
	c.reply(cmd, Result{OK: true, Message: "left queue"})
	if cancelled {
		c.promote(ctx, cmd.eventID)
	}
	return true
}

func (c *Coordinator) handleReserve(ctx context.Context, cmd command) bool {
	occ := c.occupants[cmd.eventID]
	if occ == nil || occ.sessionID != cmd.sessionID || occ.phase != PhaseSelecting {
		c.metrics.ReservationDecided(false)
		c.reply(cmd, Result{Message: "not eligible to reserve this event"})
		return false
	}

	if !c.registry.TryReserve(cmd.eventID) {
		// The session stays SELECTING; it may retry until its window closes.
		c.metrics.ReservationDecided(false)
		c.reply(cmd, Result{Message: "no slots available"})
		return false
	}

	disarm(occ)
	c.seq++
	occ.seq = c.seq
	occ.phase = PhaseAwaitingConfirmation
	occ.expiresAt = c.clock.Now().Add(c.confirmationWindow)
	c.armTimer(ctx, occ, cmd.eventID, c.confirmationWindow)

	log.Info().
		Str("session_id", cmd.sessionID).
		Str("event_id", cmd.eventID).
		Time("expires_at", occ.expiresAt).
		Msg("slot held pending confirmation")
	c.metrics.ReservationDecided(true)
	c.reply(cmd, Result{OK: true, Message: "slot held; confirm to finish"})
	return true
}

func (c *Coordinator) handleConfirm(ctx context.Context, cmd command) bool {
	occ := c.occupants[cmd.eventID]
	if occ == nil || occ.sessionID != cmd.sessionID || occ.phase != PhaseAwaitingConfirmation {
		c.metrics.ConfirmationDecided(false)
		c.reply(cmd, Result{Message: "no pending reservation for this event"})
		return false
	}

	if strings.TrimSpace(cmd.data.Name) == "" || strings.TrimSpace(cmd.data.Phone) == "" {
		// Invalid payload leaves the hold alive; the client may retry until
		// the window closes.
		c.metrics.ConfirmationDecided(false)
		c.reply(cmd, Result{Message: "name and phone are required"})
		return false
	}

	if c.clock.Now().After(occ.expiresAt) {
		// The deadline passed but the timer command has not been processed
		// yet. Resolve it here rather than accepting a late confirm.
		c.clearOccupant(cmd.eventID, true)
		c.metrics.ConfirmationDecided(false)
		c.reply(cmd, Result{Message: "confirmation window expired"})
		c.promote(ctx, cmd.eventID)
		return true
	}

	c.markConfirmed(cmd.eventID, cmd.sessionID)
	c.clearOccupant(cmd.eventID, false)

	log.Info().
		Str("session_id", cmd.sessionID).
		Str("event_id", cmd.eventID).
		Str("name", cmd.data.Name).
		Msg("reservation confirmed")
	c.metrics.ConfirmationDecided(true)
	c.reply(cmd, Result{OK: true, Message: "reservation confirmed"})
	c.promote(ctx, cmd.eventID)
	return true
}

// handleExpire processes a timer firing. A stale expiry - the occupant
// already transitioned, cancelled, or was replaced - is silently discarded.
func (c *Coordinator) handleExpire(ctx context.Context, cmd command) bool {
	occ := c.occupants[cmd.eventID]
	if occ == nil || occ.seq != cmd.seq || occ.phase != cmd.phase {
		log.Debug().
			Str("event_id", cmd.eventID).
			Uint64("seq", cmd.seq).
			Str("phase", string(cmd.phase)).
			Msg("stale timer expiry - ignoring")
		return false
	}

	sessionID := occ.sessionID
	switch occ.phase {
	case PhaseSelecting:
		// No slot was held; the session just loses its turn.
		c.clearOccupant(cmd.eventID, false)
		c.notifier.SelectionExpired(sessionID, cmd.eventID)
	case PhaseAwaitingConfirmation:
		c.clearOccupant(cmd.eventID, true)
		c.notifier.HoldExpired(sessionID, cmd.eventID)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("event_id", cmd.eventID).
		Str("phase", string(cmd.phase)).
		Msg("window expired")
	c.metrics.WindowExpired(cmd.phase)
	c.promote(ctx, cmd.eventID)
	return true
}

// promote hands the event to the next eligible queued session and arms its
// selection timer. It is a no-op while the event has an occupant. Promotion
// always happens synchronously in the same command step that cleared the
// previous occupant.
func (c *Coordinator) promote(ctx context.Context, eventID string) {
	if c.occupants[eventID] != nil {
		return
	}
	q, ok := c.queues[eventID]
	if !ok {
		return
	}
	for {
		head, ok := q.DequeueHead()
		if !ok {
			return
		}
		if _, on := c.online[head]; !on {
			continue
		}
		if c.isConfirmed(eventID, head) {
			continue
		}

		c.seq++
		occ := &occupant{
			sessionID: head,
			phase:     PhaseSelecting,
			seq:       c.seq,
			expiresAt: c.clock.Now().Add(c.selectionWindow),
		}
		c.armTimer(ctx, occ, eventID, c.selectionWindow)
		c.occupants[eventID] = occ

		log.Info().
			Str("session_id", head).
			Str("event_id", eventID).
			Time("expires_at", occ.expiresAt).
			Msg("promoted queue head to selecting")
		c.notifier.SelectionStarted(head, eventID, occ.expiresAt)
		return
	}
}

// clearOccupant cancels the occupant's timer, removes the record, and
// optionally gives back the tentatively held slot.
func (c *Coordinator) clearOccupant(eventID string, release bool) {
	occ := c.occupants[eventID]
	if occ == nil {
		return
	}
	disarm(occ)
	delete(c.occupants, eventID)
	if release {
		c.registry.Release(eventID)
	}
}
