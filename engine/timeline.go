package engine

type (
	// Event is one scheduled parameter change. Time is in whatever unit the
	// owning timeline runs on: the audio engine schedules in beats, the
	// mixer in seconds.
	Event struct {
		Module    string
		Parameter string
		Time      float64
		Value     float64
		Source    string
	}

	// Timeline is a time ordered queue of automation events. Events with
	// equal times keep their insertion order, so a performance is applied
	// in exactly the order it was scheduled.
	Timeline struct {
		events []Event
	}
)

// Schedule inserts an event, keeping the queue sorted by time. An event
// scheduled earlier than everything already consumed sorts to the front and
// gets applied at the start of the next block.
func (t *Timeline) Schedule(e Event) {
	i := len(t.events)
	for i > 0 && t.events[i-1].Time > e.Time {
		i--
	}
	t.events = append(t.events, Event{})
	copy(t.events[i+1:], t.events[i:])
	t.events[i] = e
}

// Due removes and returns the events with Time <= upTo, in ascending time
// order.
func (t *Timeline) Due(upTo float64) []Event {
	n := 0
	for n < len(t.events) && t.events[n].Time <= upTo {
		n++
	}
	due := t.events[:n:n]
	t.events = t.events[n:]
	return due
}

// DueBefore removes and returns the events with Time < limit, in ascending
// time order.
func (t *Timeline) DueBefore(limit float64) []Event {
	n := 0
	for n < len(t.events) && t.events[n].Time < limit {
		n++
	}
	due := t.events[:n:n]
	t.events = t.events[n:]
	return due
}

// Len returns the number of events still waiting.
func (t *Timeline) Len() int { return len(t.events) }
