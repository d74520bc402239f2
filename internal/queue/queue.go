package queue

// Queue is a strict FIFO admission queue of session ids. Membership is
// unique: enqueueing a session that is already waiting is a no-op.
//
// Not safe for concurrent use; the coordinator owns all access.
type Queue struct {
	order   []string
	members map[string]struct{}
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		members: make(map[string]struct{}),
	}
}

// Enqueue appends the session to the tail. It returns false if the session
// was already waiting.
func (q *Queue) Enqueue(sessionID string) bool {
	if _, ok := q.members[sessionID]; ok {
		return false
	}
	q.members[sessionID] = struct{}{}
	q.order = append(q.order, sessionID)
	return true
}

// DequeueHead removes and returns the earliest-enqueued session id.
func (q *Queue) DequeueHead() (string, bool) {
	if len(q.order) == 0 {
		return "", false
	}
	head := q.order[0]
	q.order = q.order[1:]
	delete(q.members, head)
	return head, true
}

// Remove drops an arbitrary member, preserving the order of the rest. It
// returns false if the session was not waiting.
func (q *Queue) Remove(sessionID string) bool {
	if _, ok := q.members[sessionID]; !ok {
		return false
	}
	delete(q.members, sessionID)
	for i, id := range q.order {
		if id == sessionID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether the session is currently waiting.
func (q *Queue) Contains(sessionID string) bool {
	_, ok := q.members[sessionID]
	return ok
}

// Position returns the 1-based queue position of the session, or 0 if it is
// not waiting.
func (q *Queue) Position(sessionID string) int {
	if _, ok := q.members[sessionID]; !ok {
		return 0
	}
	for i, id := range q.order {
		if id == sessionID {
			return i + 1
		}
	}
	return 0
}

// Len returns the number of waiting sessions.
func (q *Queue) Len() int {
	return len(q.order)
}

// Members returns the waiting sessions in FIFO order.
func (q *Queue) Members() []string {
	out := make([]string, len(q.order))
	copy(out, q.order)
	return out
}
