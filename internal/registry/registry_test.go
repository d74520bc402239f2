package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOne(total int) *Registry {
	return New([]Event{{ID: "conf", Name: "Conference", TotalSlots: total}})
}

func TestTryReserveDecrementsUntilExhausted(t *testing.T) {
	r := seedOne(2)

	assert.True(t, r.TryReserve("conf"))
	assert.True(t, r.TryReserve("conf"))
	assert.False(t, r.TryReserve("conf"))

	avail, err := r.Available("conf")
	require.NoError(t, err)
	assert.Equal(t, 0, avail)
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	r := seedOne(3)

	require.True(t, r.TryReserve("conf"))
	r.Release("conf")

	avail, err := r.Available("conf")
	require.NoError(t, err)
	assert.Equal(t, 3, avail)
}

func TestReleaseIsCappedAtTotal(t *testing.T) {
	r := seedOne(1)

	r.Release("conf")
	r.Release("conf")

	avail, err := r.Available("conf")
	require.NoError(t, err)
	assert.Equal(t, 1, avail)
}

func TestUnknownEvent(t *testing.T) {
	r := seedOne(1)

	assert.False(t, r.TryReserve("nope"))
	r.Release("nope") // no-op

	_, err := r.Available("nope")
	assert.ErrorIs(t, err, ErrUnknownEvent)
	assert.False(t, r.Contains("nope"))
	assert.True(t, r.Contains("conf"))
}

func TestSeedNormalization(t *testing.T) {
	r := New([]Event{
		{ID: "a", TotalSlots: -5},
		{ID: "b", TotalSlots: 2},
		{ID: "a", TotalSlots: 10}, // duplicate keeps the first
	})

	avail, err := r.Available("a")
	require.NoError(t, err)
	assert.Equal(t, 0, avail)
	assert.Equal(t, []string{"a", "b"}, r.IDs())
}

func TestEventsReturnsCopies(t *testing.T) {
	r := seedOne(4)

	events := r.Events()
	require.Len(t, events, 1)
	events[0].AvailableSlots = 0

	avail, err := r.Available("conf")
	require.NoError(t, err)
	assert.Equal(t, 4, avail)
}
