// internal/sched/event.go

package sched

import (
	"time"
)

// EventKind represents the type of scheduler event
type EventKind int

const (
	EventCreate   EventKind = iota // descriptor allocated and queued
	EventReject                    // create refused, out of descriptors
	EventDispatch                  // first activation, cold start
	EventResume                    // trap return into a paused syscall
	EventSwitch                    // cooperative resume of a saved context
	EventRequeue                   // control came back, task queued again
	EventSyscall                   // syscall serviced
	EventExit                      // task exited
	EventIdle                      // ready queue empty
)

// Event is emitted on every scheduling decision and serviced syscall.
type Event struct {
	Time     time.Time
	Kind     EventKind
	Round    uint64 // activation count when the event was emitted
	TaskID   TaskID
	Priority uint
	Syscall  uint64
	Result   int8
}

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "Create"
	case EventReject:
		return "Reject"
	case EventDispatch:
		return "Dispatch"
	case EventResume:
		return "Resume"
	case EventSwitch:
		return "Switch"
	case EventRequeue:
		return "Requeue"
	case EventSyscall:
		return "Syscall"
	case EventExit:
		return "Exit"
	case EventIdle:
		return "Idle"
	default:
		return "Unknown"
	}
}

// Activation reports whether the event hands the processor to a task.
func (k EventKind) Activation() bool {
	return k == EventDispatch || k == EventResume || k == EventSwitch
}

// EventSink consumes scheduler events. Record is called on the kernel's
// only execution path and must not call back into the scheduler.
type EventSink interface {
	Record(ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev Event)

func (f EventSinkFunc) Record(ev Event) { f(ev) }

type tee []EventSink

func (t tee) Record(ev Event) {
	for _, s := range t {
		s.Record(ev)
	}
}

// Tee fans events out to every non-nil sink.
func Tee(sinks ...EventSink) EventSink {
	var t tee
	for _, s := range sinks {
		if s != nil {
			t = append(t, s)
		}
	}
	return t
}
