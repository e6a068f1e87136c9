package engine

import (
	"sync"
	"time"

	"github.com/lucretia/decomplicator/internal/manifest"
)

// EventKind names a run notification.
type EventKind string

const (
	StepStarted   EventKind = "StepStarted"
	StepProgress  EventKind = "StepProgress"
	StepOutput    EventKind = "StepOutput"
	StepCompleted EventKind = "StepCompleted"
	StepSkipped   EventKind = "StepSkipped"
	StepFailed    EventKind = "StepFailed"
	RunCompleted  EventKind = "RunCompleted"
	RunFailed     EventKind = "RunFailed"
)

// Event is one notification about a run. Step fields are zero for run
// events, and Index is -1.
type Event struct {
	Kind     EventKind
	Time     time.Time
	Index    int
	StepID   string
	StepKind manifest.Kind
	Label    string

	// Fraction is set on StepProgress, in [0, 1].
	Fraction float64
	// Stream ("stdout" or "stderr") and Line are set on StepOutput.
	Stream string
	Line   string
	// Err is set on StepFailed and RunFailed.
	Err error
}

// Events is an ordered, unbounded event queue. Emitting never blocks; a
// goroutine forwards queued events to the channel returned by C.
//
// The consumer must drain C until it is closed. Close is called once the
// run has returned.
type Events struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	ch     chan Event
}

// NewEvents starts a queue.
func NewEvents() *Events {
	q := &Events{ch: make(chan Event)}
	q.cond = sync.NewCond(&q.mu)
	go q.pump()
	return q
}

// C returns the delivery channel. It is closed after Close once every
// queued event has been delivered.
func (q *Events) C() <-chan Event {
	return q.ch
}

// Close stops accepting events.
func (q *Events) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Events) emit(ev Event) {
	if q == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, ev)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *Events) pump() {
	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.queue) == 0 {
			q.mu.Unlock()
			close(q.ch)
			return
		}
		ev := q.queue[0]
		q.queue[0] = Event{}
		q.queue = q.queue[1:]
		q.mu.Unlock()
		q.ch <- ev
	}
}

func stepEvent(kind EventKind, step manifest.Step) Event {
	return Event{
		Kind:     kind,
		Index:    step.Index,
		StepID:   step.ID,
		StepKind: step.Kind(),
		Label:    step.Label(),
	}
}

func runEvent(kind EventKind, err error) Event {
	return Event{Kind: kind, Index: -1, Err: err}
}

// progress turns byte or entry counts into StepProgress events, emitting
// only when the fraction advances by at least a percent.
type progress struct {
	events *Events
	step   manifest.Step
	last   float64
}

func (p *progress) report(done, total int64) {
	if p.events == nil || total <= 0 {
		return
	}
	f := float64(done) / float64(total)
	if f > 1 {
		f = 1
	}
	if f < 1 && f-p.last < 0.01 {
		return
	}
	if f == p.last {
		return
	}
	p.last = f
	ev := stepEvent(StepProgress, p.step)
	ev.Fraction = f
	p.events.emit(ev)
}
