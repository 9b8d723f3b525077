package sched

import "github.com/lunalunaa/lunaris/internal/hal"

// TaskID uniquely identifies a task. Ids start at 1 and are never reused.
type TaskID uint8

const (
	// NoTask is the zero id; it marks a missing parent.
	NoTask TaskID = 0
	// MaxTaskID is the largest id that fits the ABI's signed 8-bit result.
	MaxTaskID TaskID = 127
)

// RunState is the scheduling state of a task.
type RunState int

const (
	Ready RunState = iota
	Active
	Exited
	// Reserved for message passing; nothing transitions into these yet.
	SendBlocked
	ReceiveBlocked
	ReplyBlocked
	EventBlocked
)

func (s RunState) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Active:
		return "Active"
	case Exited:
		return "Exited"
	case SendBlocked:
		return "SendBlocked"
	case ReceiveBlocked:
		return "ReceiveBlocked"
	case ReplyBlocked:
		return "ReplyBlocked"
	case EventBlocked:
		return "EventBlocked"
	default:
		return "Unknown"
	}
}

// Task is the descriptor of one schedulable unit.
type Task struct {
	ID          TaskID
	Priority    uint        // larger is more urgent
	Parent      TaskID      // NoTask for the boot task
	State       RunState
	KernelStack uint64      // top of this task's kernel stack
	UserStack   uint64      // initial SP_EL0
	Entry       hal.FuncPtr // used on first activation only

	seq     uint64       // tie-break among equal priorities, restamped on every push
	frame   hal.FrameRef // live while the task is paused inside a syscall
	trapped bool
	ctx     *hal.Context // allocated on first activation
}

// HasParent reports whether the task was created by another task.
func (t *Task) HasParent() bool { return t.Parent != NoTask }

// Seq returns the sequence value the task was last queued with.
func (t *Task) Seq() uint64 { return t.seq }

// Context returns the saved context, nil before the first activation.
func (t *Task) Context() *hal.Context { return t.ctx }

// Trap records the frame of the syscall the task is paused in.
//
// The syscall tail also saves the task's Context, so after every syscall
// other than Exit the task holds both. Only the frame is a valid resume
// point: Activate returns into it and consumes it, and the Context is used
// again only once no frame is recorded.
func (t *Task) Trap(ref hal.FrameRef) {
	t.frame = ref
	t.trapped = true
}

// TrapFrame returns the live frame reference, if any.
func (t *Task) TrapFrame() (hal.FrameRef, bool) {
	return t.frame, t.trapped
}

// consumeFrame clears the frame reference once the task has been returned
// into it.
func (t *Task) consumeFrame() hal.FrameRef {
	ref := t.frame
	t.frame = hal.FrameRef{}
	t.trapped = false
	return ref
}

// TaskInfo is a read-only snapshot of a descriptor.
type TaskInfo struct {
	ID       TaskID
	Priority uint
	Parent   TaskID
	State    RunState
}

func (t *Task) info() TaskInfo {
	return TaskInfo{ID: t.ID, Priority: t.Priority, Parent: t.Parent, State: t.State}
}
