// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vedirect

// PushResult reports what Queue.Push did with a command.
type PushResult int

const (
	PushAppended PushResult = iota
	PushInserted
	PushReplaced
	PushDropped
)

func (r PushResult) String() string {
	switch r {
	case PushAppended:
		return "appended"
	case PushInserted:
		return "inserted"
	case PushReplaced:
		return "replaced"
	case PushDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Entry is one command in the outbound queue.
type Entry struct {
	ID      uint64
	Command Command

	// Sent is set once the command has been written to the transport.
	Sent bool
}

// Queue is the ordered list of pending outbound commands. The head is the
// command in flight. It is not safe for concurrent use.
type Queue struct {
	entries     []*Entry
	compression bool
	nextID      uint64
}

// NewQueue creates an empty queue.
func NewQueue(compression bool) *Queue {
	return &Queue{compression: compression}
}

// Push adds a command. A priority command goes directly behind the head.
// Otherwise a command for the same opcode and register as an unsent tail
// replaces it when compression is enabled, and a byte-identical repeat of
// the tail is dropped.
func (q *Queue) Push(cmd Command, priority bool) PushResult {
	q.nextID++
	item := &Entry{ID: q.nextID, Command: cmd}

	if priority {
		if len(q.entries) == 0 {
			q.entries = append(q.entries, item)
			return PushAppended
		}
		q.entries = append(q.entries, nil)
		copy(q.entries[2:], q.entries[1:])
		q.entries[1] = item
		return PushInserted
	}

	if n := len(q.entries); n > 0 {
		tail := q.entries[n-1]
		if q.compression && !tail.Sent && cmd.key() != "" && tail.Command.key() == cmd.key() {
			q.entries[n-1] = item
			return PushReplaced
		}
		if tail.Command.Frame == cmd.Frame {
			return PushDropped
		}
	}

	q.entries = append(q.entries, item)
	return PushAppended
}

// Head returns the first command without removing it.
func (q *Queue) Head() (*Entry, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	return q.entries[0], true
}

// Pop removes the head.
func (q *Queue) Pop() (*Entry, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	head := q.entries[0]
	q.entries[0] = nil
	q.entries = q.entries[1:]
	return head, true
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Frames returns the queued frames in order.
func (q *Queue) Frames() []string {
	out := make([]string, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.Command.Frame
	}
	return out
}
