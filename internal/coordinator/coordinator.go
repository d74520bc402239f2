package coordinator

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/slotline/slotline/internal/queue"
	"github.com/slotline/slotline/internal/registry"
)

// Phase identifies which expiring window an event's occupant is in.
type Phase string

const (
	// PhaseSelecting means the session holds the exclusive right to attempt
	// a reservation; no slot has been claimed yet.
	PhaseSelecting Phase = "SELECTING"
	// PhaseAwaitingConfirmation means a slot has been tentatively claimed
	// and the session must confirm before the window closes.
	PhaseAwaitingConfirmation Phase = "AWAITING_CONFIRMATION"
)

const (
	DefaultSelectionWindow    = 30 * time.Second
	DefaultConfirmationWindow = 120 * time.Second
)

// occupant is the single active claimant for an event. At most one exists
// per event at any instant; the seq field guards against stale timer
// expiries firing after the occupant has moved on.
type occupant struct {
	sessionID string
	phase     Phase
	seq       uint64
	expiresAt time.Time
	timer     clockwork.Timer
	stopCh    chan struct{}
}

// UserData is the confirmation payload supplied by the client.
type UserData struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Result is the synchronous outcome of a client-initiated operation.
type Result struct {
	OK      bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Notifier delivers addressed notices to a single session. The gateway
// implements it; a nop is used when none is wired.
type Notifier interface {
	SelectionStarted(sessionID, eventID string, expiresAt time.Time)
	SelectionExpired(sessionID, eventID string)
	HoldExpired(sessionID, eventID string)
}

// Metrics counts coordination outcomes for observability.
type Metrics interface {
	ReservationDecided(accepted bool)
	ConfirmationDecided(accepted bool)
	WindowExpired(phase Phase)
}

type nopNotifier struct{}

func (nopNotifier) SelectionStarted(string, string, time.Time) {}
func (nopNotifier) SelectionExpired(string, string)            {}
func (nopNotifier) HoldExpired(string, string)                 {}

type nopMetrics struct{}

func (nopMetrics) ReservationDecided(bool)  {}
func (nopMetrics) ConfirmationDecided(bool) {}
func (nopMetrics) WindowExpired(Phase)      {}

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdDisconnect
	cmdJoinQueue
	cmdLeaveQueue
	cmdReserve
	cmdConfirm
	cmdExpire
	cmdSnapshot
)

// command is the unit of work for the single-consumer loop. Timer expiries
// and client requests travel through the same channel so they are totally
// ordered; whichever arrives first wins and the loser no-ops.
type command struct {
	kind      cmdKind
	sessionID string
	eventID   string
	phase     Phase
	seq       uint64
	data      UserData
	reply     chan Result
	// respond, when set, takes precedence over reply and is invoked on the
	// loop goroutine before any notice or snapshot the command produces.
	// The gateway uses it to keep per-connection frame order causal.
	respond   func(Result)
	snapReply chan Snapshot
}

// Config tunes the two expiring windows and the clock source.
type Config struct {
	SelectionWindow    time.Duration
	ConfirmationWindow time.Duration
	Clock              clockwork.Clock
}

// Coordinator is the single in-memory authority for slot allocation. All
// mutable state is owned by the goroutine running Run; external entry points
// post commands and wait for the reply.
type Coordinator struct {
	registry  *registry.Registry
	queues    map[string]*queue.Queue
	occupants map[string]*occupant
	confirmed map[string]map[string]struct{}
	online    map[string]struct{}

	clock              clockwork.Clock
	selectionWindow    time.Duration
	confirmationWindow time.Duration

	cmdCh    chan command
	notifier Notifier
	metrics  Metrics
	sinks    []SnapshotSink

	seq uint64
}

// New creates a coordinator over the seeded registry. Zero config fields
// fall back to the defaults (30s selection, 120s confirmation, real clock).
func New(reg *registry.Registry, cfg Config) *Coordinator {
	if cfg.SelectionWindow <= 0 {
		cfg.SelectionWindow = DefaultSelectionWindow
	}
	if cfg.ConfirmationWindow <= 0 {
		cfg.ConfirmationWindow = DefaultConfirmationWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Coordinator{
		registry:           reg,
		queues:             make(map[string]*queue.Queue),
		occupants:          make(map[string]*occupant),
		confirmed:          make(map[string]map[string]struct{}),
		online:             make(map[string]struct{}),
		clock:              cfg.Clock,
		selectionWindow:    cfg.SelectionWindow,
		confirmationWindow: cfg.ConfirmationWindow,
		cmdCh:              make(chan command, 64),
		notifier:           nopNotifier{},
		metrics:            nopMetrics{},
	}
}

// SetNotifier wires the addressed-notice receiver. Must be called before Run.
func (c *Coordinator) SetNotifier(n Notifier) {
	if n != nil {
		c.notifier = n
	}
}

// SetMetrics wires the outcome counters. Must be called before Run.
func (c *Coordinator) SetMetrics(m Metrics) {
	if m != nil {
		c.metrics = m
	}
}

// AddSink registers a snapshot receiver. Must be called before Run.
func (c *Coordinator) AddSink(s SnapshotSink) {
	if s != nil {
		c.sinks = append(c.sinks, s)
	}
}

// Run consumes commands until the context is cancelled. It must be running
// for any of the public entry points to make progress.
func (c *Coordinator) Run(ctx context.Context) error {
	log.Info().
		Dur("selection_window", c.selectionWindow).
		Dur("confirmation_window", c.confirmationWindow).
		Int("events", len(c.registry.IDs())).
		Msg("coordinator started")

	for {
		select {
		case <-ctx.Done():
			c.stopAllTimers()
			log.Info().Msg("coordinator shutting down")
			return nil
		case cmd := <-c.cmdCh:
			if c.dispatch(ctx, cmd) {
				c.broadcast()
			}
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, cmd command) bool {
	switch cmd.kind {
	case cmdConnect:
		return c.handleConnect(cmd)
	case cmdDisconnect:
		return c.handleDisconnect(ctx, cmd)
	case cmdJoinQueue:
		return c.handleJoinQueue(ctx, cmd)
	case cmdLeaveQueue:
		return c.handleLeaveQueue(ctx, cmd)
	case cmdReserve:
		return c.handleReserve(ctx, cmd)
	case cmdConfirm:
		return c.handleConfirm(ctx, cmd)
	case cmdExpire:
		return c.handleExpire(ctx, cmd)
	case cmdSnapshot:
		cmd.snapReply <- c.buildSnapshot()
		return false
	default:
		log.Warn().Int("kind", int(cmd.kind)).Msg("unknown command kind - ignoring")
		return false
	}
}

// Connect marks the session online.
func (c *Coordinator) Connect(ctx context.Context, sessionID string) {
	c.send(ctx, command{kind: cmdConnect, sessionID: sessionID})
}

// Disconnect marks the session offline and cascades cleanup: queue eviction
// everywhere, withdrawal of an active selection, release of a pending hold.
func (c *Coordinator) Disconnect(ctx context.Context, sessionID string) {
	c.send(ctx, command{kind: cmdDisconnect, sessionID: sessionID})
}

// JoinQueue enqueues the session for the event and promotes it immediately
// if the event is idle.
func (c *Coordinator) JoinQueue(ctx context.Context, sessionID, eventID string) Result {
	return c.send(ctx, command{kind: cmdJoinQueue, sessionID: sessionID, eventID: eventID})
}

// LeaveQueue removes the session from the event's queue, or cancels its
// active selection or hold if it had already been promoted.
func (c *Coordinator) LeaveQueue(ctx context.Context, sessionID, eventID string) Result {
	return c.send(ctx, command{kind: cmdLeaveQueue, sessionID: sessionID, eventID: eventID})
}

// Reserve attempts to claim a slot for the currently selecting session,
// starting the confirmation window on success.
func (c *Coordinator) Reserve(ctx context.Context, sessionID, eventID string) Result {
	return c.send(ctx, command{kind: cmdReserve, sessionID: sessionID, eventID: eventID})
}

// Confirm finalizes a pending hold with the supplied user data.
func (c *Coordinator) Confirm(ctx context.Context, sessionID, eventID string, data UserData) Result {
	return c.send(ctx, command{kind: cmdConfirm, sessionID: sessionID, eventID: eventID, data: data})
}

// PostJoinQueue submits a join request without waiting for the outcome.
// respond runs on the coordinator goroutine before any notice or snapshot
// broadcast the request produces. Returns false if the context is done
// before the request is accepted.
func (c *Coordinator) PostJoinQueue(ctx context.Context, sessionID, eventID string, respond func(Result)) bool {
	return c.post(ctx, command{kind: cmdJoinQueue, sessionID: sessionID, eventID: eventID, respond: respond})
}

// PostLeaveQueue is the fire-and-forget form of LeaveQueue.
func (c *Coordinator) PostLeaveQueue(ctx context.Context, sessionID, eventID string, respond func(Result)) bool {
	return c.post(ctx, command{kind: cmdLeaveQueue, sessionID: sessionID, eventID: eventID, respond: respond})
}

// PostReserve is the fire-and-forget form of Reserve.
func (c *Coordinator) PostReserve(ctx context.Context, sessionID, eventID string, respond func(Result)) bool {
	return c.post(ctx, command{kind: cmdReserve, sessionID: sessionID, eventID: eventID, respond: respond})
}

// PostConfirm is the fire-and-forget form of Confirm.
func (c *Coordinator) PostConfirm(ctx context.Context, sessionID, eventID string, data UserData, respond func(Result)) bool {
	return c.post(ctx, command{kind: cmdConfirm, sessionID: sessionID, eventID: eventID, data: data, respond: respond})
}

// Snapshot returns the current full state, serialized through the loop like
// any other command.
func (c *Coordinator) Snapshot(ctx context.Context) Snapshot {
	snapReply := make(chan Snapshot, 1)
	select {
	case c.cmdCh <- command{kind: cmdSnapshot, snapReply: snapReply}:
	case <-ctx.Done():
		return Snapshot{}
	}
	select {
	case snap := <-snapReply:
		return snap
	case <-ctx.Done():
		return Snapshot{}
	}
}

func (c *Coordinator) send(ctx context.Context, cmd command) Result {
	reply := make(chan Result, 1)
	cmd.reply = reply
	select {
	case c.cmdCh <- cmd:
	case <-ctx.Done():
		return Result{Message: "coordinator unavailable"}
	}
	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return Result{Message: "coordinator unavailable"}
	}
}

func (c *Coordinator) post(ctx context.Context, cmd command) bool {
	select {
	case c.cmdCh <- cmd:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) reply(cmd command, res Result) {
	if cmd.respond != nil {
		cmd.respond(res)
		return
	}
	if cmd.reply != nil {
		cmd.reply <- res
	}
}

func (c *Coordinator) queueFor(eventID string) *queue.Queue {
	q, ok := c.queues[eventID]
	if !ok {
		q = queue.New()
		c.queues[eventID] = q
	}
	return q
}

func (c *Coordinator) isConfirmed(eventID, sessionID string) bool {
	_, ok := c.confirmed[eventID][sessionID]
	return ok
}

func (c *Coordinator) markConfirmed(eventID, sessionID string) {
	set, ok := c.confirmed[eventID]
	if !ok {
		set = make(map[string]struct{})
		c.confirmed[eventID] = set
	}
	set[sessionID] = struct{}{}
}
