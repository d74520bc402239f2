package coordinator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotline/slotline/internal/coordinator"
	"github.com/slotline/slotline/internal/registry"
)

const (
	selWindow  = 30 * time.Second
	confWindow = 120 * time.Second

	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type notice struct {
	sessionID string
	eventID   string
}

type recordingNotifier struct {
	mu               sync.Mutex
	started          []notice
	selectionExpired []notice
	holdExpired      []notice
}

func (n *recordingNotifier) SelectionStarted(sessionID, eventID string, _ time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, notice{sessionID, eventID})
}

func (n *recordingNotifier) SelectionExpired(sessionID, eventID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.selectionExpired = append(n.selectionExpired, notice{sessionID, eventID})
}

func (n *recordingNotifier) HoldExpired(sessionID, eventID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.holdExpired = append(n.holdExpired, notice{sessionID, eventID})
}

func (n *recordingNotifier) startedFor(sessionID string) []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notice
	for _, nt := range n.started {
		if nt.sessionID == sessionID {
			out = append(out, nt)
		}
	}
	return out
}

func (n *recordingNotifier) selectionExpiredCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.selectionExpired)
}

func (n *recordingNotifier) holdExpiredCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.holdExpired)
}

type fixture struct {
	t     *testing.T
	coord *coordinator.Coordinator
	clock *clockwork.FakeClock
	notes *recordingNotifier
	ctx   context.Context
}

func newFixture(t *testing.T, seeds ...registry.Event) *fixture {
	t.Helper()
	if len(seeds) == 0 {
		seeds = []registry.Event{{ID: "conf", Name: "Conference", TotalSlots: 2}}
	}

	clock := clockwork.NewFakeClock()
	coord := coordinator.New(registry.New(seeds), coordinator.Config{
		SelectionWindow:    selWindow,
		ConfirmationWindow: confWindow,
		Clock:              clock,
	})
	notes := &recordingNotifier{}
	coord.SetNotifier(notes)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go coord.Run(ctx)

	return &fixture{t: t, coord: coord, clock: clock, notes: notes, ctx: ctx}
}

func (f *fixture) snap() coordinator.Snapshot {
	return f.coord.Snapshot(f.ctx)
}

func (f *fixture) available(eventID string) int {
	for _, ev := range f.snap().Events {
		if ev.ID == eventID {
			return ev.AvailableSlots
		}
	}
	f.t.Fatalf("event %s not in snapshot", eventID)
	return -1
}

func (f *fixture) activeUsers() []string {
	return f.snap().ActiveUsers
}

func (f *fixture) queued(eventID string) []string {
	return f.snap().Queues[eventID]
}

func TestJoinPromotesHeadImmediately(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")

	res := f.coord.JoinQueue(f.ctx, "alice", "conf")
	require.True(t, res.OK)

	assert.Equal(t, []string{"alice"}, f.activeUsers())
	assert.Empty(t, f.queued("conf"))
	assert.Len(t, f.notes.startedFor("alice"), 1)
}

func TestSecondJoinerWaitsBehindOccupant(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")
	f.coord.Connect(f.ctx, "bob")

	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)
	require.True(t, f.coord.JoinQueue(f.ctx, "bob", "conf").OK)

	assert.Equal(t, []string{"alice"}, f.activeUsers())
	assert.Equal(t, []string{"bob"}, f.queued("conf"))
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")
	f.coord.Connect(f.ctx, "bob")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)

	require.True(t, f.coord.JoinQueue(f.ctx, "bob", "conf").OK)
	res := f.coord.JoinQueue(f.ctx, "bob", "conf")
	assert.True(t, res.OK)
	assert.Equal(t, []string{"bob"}, f.queued("conf"))

	// The occupant cannot also wait in the queue.
	res = f.coord.JoinQueue(f.ctx, "alice", "conf")
	assert.False(t, res.OK)
	assert.NotContains(t, f.queued("conf"), "alice")
}

func TestJoinUnknownEvent(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")

	res := f.coord.JoinQueue(f.ctx, "alice", "nope")
	assert.False(t, res.OK)
	assert.Equal(t, "unknown event", res.Message)
}

func TestReserveHoldsSlot(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)

	res := f.coord.Reserve(f.ctx, "alice", "conf")
	require.True(t, res.OK)
	assert.Equal(t, 1, f.available("conf"))
}

func TestReserveRequiresSelectingPhase(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")
	f.coord.Connect(f.ctx, "bob")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)
	require.True(t, f.coord.JoinQueue(f.ctx, "bob", "conf").OK)

	// Bob is queued, not selecting.
	res := f.coord.Reserve(f.ctx, "bob", "conf")
	assert.False(t, res.OK)
	assert.Equal(t, 2, f.available("conf"))

	// A session with no relationship to the event at all.
	res = f.coord.Reserve(f.ctx, "mallory", "conf")
	assert.False(t, res.OK)

	// Reserving twice moves the occupant out of SELECTING, so the second
	// attempt is rejected and the counter only drops once.
	require.True(t, f.coord.Reserve(f.ctx, "alice", "conf").OK)
	res = f.coord.Reserve(f.ctx, "alice", "conf")
	assert.False(t, res.OK)
	assert.Equal(t, 1, f.available("conf"))
}

func TestConfirmFinalizesReservation(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)
	require.True(t, f.coord.Reserve(f.ctx, "alice", "conf").OK)

	res := f.coord.Confirm(f.ctx, "alice", "conf", coordinator.UserData{Name: "Alice", Phone: "555-0100"})
	require.True(t, res.OK)

	// The slot stays consumed and alice is out of the active set.
	assert.Equal(t, 1, f.available("conf"))
	assert.Empty(t, f.activeUsers())

	// Confirmation is irreversible: no further confirm, reserve, or re-queue
	// for this event.
	assert.False(t, f.coord.Confirm(f.ctx, "alice", "conf", coordinator.UserData{Name: "Alice", Phone: "555-0100"}).OK)
	assert.False(t, f.coord.Reserve(f.ctx, "alice", "conf").OK)
	assert.False(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)
	assert.Equal(t, 1, f.available("conf"))
}

func TestMalformedConfirmationKeepsHoldAlive(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)
	require.True(t, f.coord.Reserve(f.ctx, "alice", "conf").OK)

	assert.False(t, f.coord.Confirm(f.ctx, "alice", "conf", coordinator.UserData{Name: "", Phone: "555-0100"}).OK)
	assert.False(t, f.coord.Confirm(f.ctx, "alice", "conf", coordinator.UserData{Name: "Alice", Phone: "  "}).OK)

	// Retry within the window succeeds.
	assert.True(t, f.coord.Confirm(f.ctx, "alice", "conf", coordinator.UserData{Name: "Alice", Phone: "555-0100"}).OK)
}

func TestConfirmWithoutHold(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)

	// Still SELECTING; nothing to confirm yet.
	res := f.coord.Confirm(f.ctx, "alice", "conf", coordinator.UserData{Name: "Alice", Phone: "555-0100"})
	assert.False(t, res.OK)
	assert.Equal(t, 2, f.available("conf"))
}

func TestSingleSlotContention(t *testing.T) {
	f := newFixture(t, registry.Event{ID: "solo", Name: "Solo", TotalSlots: 1})
	f.coord.Connect(f.ctx, "alice")
	f.coord.Connect(f.ctx, "bob")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "solo").OK)
	require.True(t, f.coord.JoinQueue(f.ctx, "bob", "solo").OK)

	require.True(t, f.coord.Reserve(f.ctx, "alice", "solo").OK)
	require.True(t, f.coord.Confirm(f.ctx, "alice", "solo", coordinator.UserData{Name: "Alice", Phone: "555-0100"}).OK)

	// Bob is promoted once alice's hold resolves, but the event is sold out.
	assert.Equal(t, []string{"bob"}, f.activeUsers())
	res := f.coord.Reserve(f.ctx, "bob", "solo")
	assert.False(t, res.OK)
	assert.Equal(t, "no slots available", res.Message)
	assert.Equal(t, 0, f.available("solo"))
}

func TestConcurrentReserveSingleSlot(t *testing.T) {
	f := newFixture(t, registry.Event{ID: "solo", Name: "Solo", TotalSlots: 1})
	f.coord.Connect(f.ctx, "alice")
	f.coord.Connect(f.ctx, "bob")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "solo").OK)
	require.True(t, f.coord.JoinQueue(f.ctx, "bob", "solo").OK)

	var wg sync.WaitGroup
	results := make([]coordinator.Result, 2)
	for i, s := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, s string) {
			defer wg.Done()
			results[i] = f.coord.Reserve(f.ctx, s, "solo")
		}(i, s)
	}
	wg.Wait()

	// Exactly one attempt can succeed: bob is not promoted while alice
	// occupies the event, so his request bounces off the eligibility check.
	successes := 0
	for _, res := range results {
		if res.OK {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, f.available("solo"))
}

func TestSelectionWindowExpires(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")
	f.coord.Connect(f.ctx, "bob")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)
	require.True(t, f.coord.JoinQueue(f.ctx, "bob", "conf").OK)

	f.clock.Advance(selWindow + time.Second)

	require.Eventually(t, func() bool {
		active := f.activeUsers()
		return len(active) == 1 && active[0] == "bob"
	}, waitFor, tick, "bob should be promoted after alice's window expires")

	// No slot was held, so the counter never moved.
	assert.Equal(t, 2, f.available("conf"))
	assert.Equal(t, 1, f.notes.selectionExpiredCount())

	// Alice got no automatic requeue; she must ask again.
	assert.NotContains(t, f.queued("conf"), "alice")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)
	assert.Equal(t, []string{"alice"}, f.queued("conf"))
}

func TestConfirmationWindowExpires(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")
	f.coord.Connect(f.ctx, "bob")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)
	require.True(t, f.coord.JoinQueue(f.ctx, "bob", "conf").OK)
	require.True(t, f.coord.Reserve(f.ctx, "alice", "conf").OK)
	require.Equal(t, 1, f.available("conf"))

	f.clock.Advance(confWindow + time.Second)

	require.Eventually(t, func() bool {
		active := f.activeUsers()
		return len(active) == 1 && active[0] == "bob"
	}, waitFor, tick, "bob should be promoted after alice's hold expires")

	// The tentative decrement was rolled back in the same step.
	assert.Equal(t, 2, f.available("conf"))
	assert.Equal(t, 1, f.notes.holdExpiredCount())

	// The expired hold cannot be confirmed anymore.
	assert.False(t, f.coord.Confirm(f.ctx, "alice", "conf", coordinator.UserData{Name: "Alice", Phone: "555-0100"}).OK)
}

func TestDisconnectWhileSelecting(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")
	f.coord.Connect(f.ctx, "bob")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)
	require.True(t, f.coord.JoinQueue(f.ctx, "bob", "conf").OK)

	f.coord.Disconnect(f.ctx, "alice")

	snap := f.snap()
	assert.Equal(t, []string{"bob"}, snap.ActiveUsers)
	assert.Equal(t, 1, snap.OnlineUsers)
	assert.Equal(t, 2, f.available("conf"))
}

func TestDisconnectWhileHolding(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")
	f.coord.Connect(f.ctx, "bob")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)
	require.True(t, f.coord.JoinQueue(f.ctx, "bob", "conf").OK)
	require.True(t, f.coord.Reserve(f.ctx, "alice", "conf").OK)
	require.Equal(t, 1, f.available("conf"))

	f.coord.Disconnect(f.ctx, "alice")

	// Implicit cancellation: capacity restored, bob promoted immediately.
	assert.Equal(t, 2, f.available("conf"))
	assert.Equal(t, []string{"bob"}, f.activeUsers())
}

func TestDisconnectEvictsFromQueue(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")
	f.coord.Connect(f.ctx, "bob")
	f.coord.Connect(f.ctx, "carol")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)
	require.True(t, f.coord.JoinQueue(f.ctx, "bob", "conf").OK)
	require.True(t, f.coord.JoinQueue(f.ctx, "carol", "conf").OK)

	f.coord.Disconnect(f.ctx, "bob")

	assert.Equal(t, []string{"carol"}, f.queued("conf"))

	// When alice's turn ends, the promotion skips straight to carol.
	f.coord.Disconnect(f.ctx, "alice")
	assert.Equal(t, []string{"carol"}, f.activeUsers())
}

func TestLeaveQueueCancelsHold(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")
	f.coord.Connect(f.ctx, "bob")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)
	require.True(t, f.coord.JoinQueue(f.ctx, "bob", "conf").OK)
	require.True(t, f.coord.Reserve(f.ctx, "alice", "conf").OK)

	res := f.coord.LeaveQueue(f.ctx, "alice", "conf")
	require.True(t, res.OK)

	assert.Equal(t, 2, f.available("conf"))
	assert.Equal(t, []string{"bob"}, f.activeUsers())

	// Leaving again has nothing to do.
	assert.False(t, f.coord.LeaveQueue(f.ctx, "alice", "conf").OK)
}

func TestEventsAreIndependent(t *testing.T) {
	f := newFixture(t,
		registry.Event{ID: "a", Name: "A", TotalSlots: 1},
		registry.Event{ID: "b", Name: "B", TotalSlots: 1},
	)
	f.coord.Connect(f.ctx, "alice")
	f.coord.Connect(f.ctx, "bob")

	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "a").OK)
	require.True(t, f.coord.JoinQueue(f.ctx, "bob", "b").OK)

	// Both hold selections at once; the one-occupant rule is per event.
	assert.ElementsMatch(t, []string{"alice", "bob"}, f.activeUsers())

	require.True(t, f.coord.Reserve(f.ctx, "alice", "a").OK)
	assert.Equal(t, 0, f.available("a"))
	assert.Equal(t, 1, f.available("b"))
}

func TestSnapshotConsistencyAfterEachMutation(t *testing.T) {
	f := newFixture(t)
	f.coord.Connect(f.ctx, "alice")
	f.coord.Connect(f.ctx, "bob")
	require.True(t, f.coord.JoinQueue(f.ctx, "alice", "conf").OK)
	require.True(t, f.coord.JoinQueue(f.ctx, "bob", "conf").OK)

	snap := f.snap()
	assert.Equal(t, 2, snap.OnlineUsers)
	for _, ev := range snap.Events {
		assert.GreaterOrEqual(t, ev.AvailableSlots, 0)
		assert.LessOrEqual(t, ev.AvailableSlots, ev.TotalSlots)
	}
	// A session is never both queued and active for the same event.
	for _, active := range snap.ActiveUsers {
		assert.NotContains(t, snap.Queues["conf"], active)
	}
}
