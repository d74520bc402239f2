package registry

import (
	"errors"
)

// ErrUnknownEvent is returned when an event id is not in the registry.
var ErrUnknownEvent = errors.New("unknown event")

// Event is one reservable happening with a fixed capacity.
type Event struct {
	ID             string
	Name           string
	TotalSlots     int
	AvailableSlots int
}

// Registry tracks per-event slot capacity. Available slots never drop below
// zero and never exceed the total; TryReserve is the only decrement path and
// Release the only increment path.
//
// The registry is not safe for concurrent use on its own. The coordinator
// serializes every mutation through its command loop.
type Registry struct {
	events map[string]*Event
	order  []string
}

// New builds a registry from the seeded event catalog. Seeds with
// non-positive capacity are clamped to zero; duplicate ids keep the first
// occurrence.
func New(seeds []Event) *Registry {
	r := &Registry{
		events: make(map[string]*Event, len(seeds)),
	}
	for _, s := range seeds {
		if _, exists := r.events[s.ID]; exists {
			continue
		}
		total := s.TotalSlots
		if total < 0 {
			total = 0
		}
		r.events[s.ID] = &Event{
			ID:             s.ID,
			Name:           s.Name,
			TotalSlots:     total,
			AvailableSlots: total,
		}
		r.order = append(r.order, s.ID)
	}
	return r
}

// Contains reports whether the event id is registered.
func (r *Registry) Contains(eventID string) bool {
	_, ok := r.events[eventID]
	return ok
}

// TryReserve atomically claims one slot for the event. It returns false
// without mutation when the event is unknown or has no availability.
func (r *Registry) TryReserve(eventID string) bool {
	ev, ok := r.events[eventID]
	if !ok || ev.AvailableSlots <= 0 {
		return false
	}
	ev.AvailableSlots--
	return true
}

// Release returns one previously claimed slot to the event. The count is
// capped at the total so a double release cannot inflate capacity.
func (r *Registry) Release(eventID string) {
	ev, ok := r.events[eventID]
	if !ok {
		return
	}
	if ev.AvailableSlots < ev.TotalSlots {
		ev.AvailableSlots++
	}
}

// Available returns the current availability for the event.
func (r *Registry) Available(eventID string) (int, error) {
	ev, ok := r.events[eventID]
	if !ok {
		return 0, ErrUnknownEvent
	}
	return ev.AvailableSlots, nil
}

// Events returns a copy of every event in seed order.
func (r *Registry) Events() []Event {
	out := make([]Event, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.events[id])
	}
	return out
}

// IDs returns every event id in seed order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
