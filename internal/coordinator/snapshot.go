package coordinator

import (
	"sort"
)

// EventState is the client-visible view of one event.
type EventState struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	TotalSlots     int    `json:"total_slots"`
	AvailableSlots int    `json:"available_slots"`
}

// Snapshot is a full point-in-time view of the coordination state. It is
// computed inside the command loop after each mutation and passed to sinks by
// value, so nothing downstream can race the authoritative state. Clients
// apply the latest snapshot wholesale; a missed push heals on the next one.
type Snapshot struct {
	Events      []EventState        `json:"events"`
	Queues      map[string][]string `json:"queue"`
	OnlineUsers int                 `json:"online_users"`
	ActiveUsers []string            `json:"active_users"`
}

// SnapshotSink receives every post-mutation snapshot.
type SnapshotSink interface {
	PublishSnapshot(Snapshot)
}

func (c *Coordinator) buildSnapshot() Snapshot {
	events := c.registry.Events()
	states := make([]EventState, 0, len(events))
	queues := make(map[string][]string, len(events))
	for _, ev := range events {
		states = append(states, EventState{
			ID:             ev.ID,
			Name:           ev.Name,
			TotalSlots:     ev.TotalSlots,
			AvailableSlots: ev.AvailableSlots,
		})
		queues[ev.ID] = c.queueFor(ev.ID).Members()
	}

	active := make([]string, 0, len(c.occupants))
	for _, occ := range c.occupants {
		active = append(active, occ.sessionID)
	}
	sort.Strings(active)

	return Snapshot{
		Events:      states,
		Queues:      queues,
		OnlineUsers: len(c.online),
		ActiveUsers: active,
	}
}

func (c *Coordinator) broadcast() {
	snap := c.buildSnapshot()
	for _, sink := range c.sinks {
		sink.PublishSnapshot(snap)
	}
}
