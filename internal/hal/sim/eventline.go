// internal/hal/sim/eventline.go

package sim

import (
	"sync/atomic"
)

// EventLine latches external events for WFE and counts them atomically.
// Post may be called from any goroutine.
type EventLine struct {
	ch    chan struct{}
	count atomic.Int64
}

func newEventLine() *EventLine {
	return &EventLine{ch: make(chan struct{}, 1)}
}

// Post raises the line. Events posted while one is already pending are
// coalesced, as with the hardware event register.
func (e *EventLine) Post() {
	e.count.Add(1)
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Count returns how many events were posted.
func (e *EventLine) Count() int64 {
	return e.count.Load()
}

// take consumes a pending event without blocking.
func (e *EventLine) take() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}
