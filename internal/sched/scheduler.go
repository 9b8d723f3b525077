// internal/sched/scheduler.go

package sched

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"
	"go.uber.org/zap"

	"github.com/lunalunaa/lunaris/internal/hal"
)

// ErrOutOfDescriptors is returned by Create when no descriptor, id or stack
// region is left.
var ErrOutOfDescriptors = errors.New("out of task descriptors")

// Scheduler owns the ready queue and the single active slot.
//
// It is driven from exactly two places, the run loop on the anchor context
// and the syscall path of the active task, and those never execute at the
// same time on a single core. There is no locking.
type Scheduler struct {
	cfg    Config
	cpu    hal.Machine
	anchor *hal.Context // the processor's own context, switched from and back to

	ready  *ReadyQueue
	active *Task
	table  *redblacktree.Tree // every descriptor ever created, by id

	allocated uint64 // descriptors handed out so far
	seq       uint64 // decreases on every push
	rounds    uint64 // activations so far

	log  *zap.Logger
	sink EventSink
}

// New creates a scheduler that switches between anchor and task contexts on
// cpu. sink may be nil.
func New(cfg Config, cpu hal.Machine, anchor *hal.Context, log *zap.Logger, sink EventSink) *Scheduler {
	cfg.clamp()
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cfg:    cfg,
		cpu:    cpu,
		anchor: anchor,
		ready:  NewReadyQueue(cfg.Capacity),
		table:  redblacktree.NewWith(cmpID),
		seq:    math.MaxUint64,
		log:    log,
		sink:   sink,
	}
}

// Create allocates a descriptor and queues it as Ready.
//
// Stack addresses are derived from the allocation count and are never
// reclaimed, so the id space and the two stack regions bound the number of
// tasks a boot can ever create.
func (s *Scheduler) Create(priority uint, parent TaskID, entry hal.FuncPtr) (TaskID, error) {
	live := s.ready.Len()
	if s.active != nil {
		// the active task must always find room when it is queued again
		live++
	}
	if live >= s.cfg.Capacity {
		s.reject(priority)
		return NoTask, fmt.Errorf("%w: %d live descriptors", ErrOutOfDescriptors, live)
	}

	n := s.allocated + 1
	if n > uint64(MaxTaskID) ||
		n*s.cfg.KernelStackStride >= s.cfg.KernelStackBase ||
		n*s.cfg.UserStackStride >= s.cfg.UserStackBase {
		s.reject(priority)
		return NoTask, fmt.Errorf("%w: allocation %d exceeds the id or stack space", ErrOutOfDescriptors, n)
	}
	s.allocated = n

	t := &Task{
		ID:          TaskID(n),
		Priority:    priority,
		Parent:      parent,
		KernelStack: s.cfg.KernelStackBase - n*s.cfg.KernelStackStride,
		UserStack:   s.cfg.UserStackBase - n*s.cfg.UserStackStride,
		Entry:       entry,
	}
	if err := s.push(t); err != nil {
		// unreachable: capacity was checked above
		return NoTask, fmt.Errorf("%w: %v", ErrOutOfDescriptors, err)
	}
	s.table.Put(t.ID, t)

	s.log.Debug("task created",
		zap.Uint8("tid", uint8(t.ID)),
		zap.Uint("priority", priority),
		zap.Uint8("parent", uint8(parent)),
		zap.Uint64("entry", uint64(entry)),
		zap.Uint64("kernel_sp", t.KernelStack),
		zap.Uint64("user_sp", t.UserStack))
	s.Emit(Event{Kind: EventCreate, TaskID: t.ID, Priority: priority})
	return t.ID, nil
}

// Schedule pops the most urgent ready task, or returns nil.
func (s *Scheduler) Schedule() *Task {
	return s.ready.Pop()
}

// Activate hands the processor to t and returns once control is back in
// the kernel, with the previously active task queued again.
func (s *Scheduler) Activate(t *Task) {
	if t == nil || t.State == Exited {
		return
	}
	if s.active != nil {
		s.halt("activate task %d while task %d is active", t.ID, s.active.ID)
		return
	}
	if t.State != Ready {
		s.halt("activate task %d in state %s", t.ID, t.State)
		return
	}
	s.rounds++

	if _, ok := t.TrapFrame(); ok {
		// Paused inside a syscall: return straight into the frame.
		ref := t.consumeFrame()
		frame := s.cpu.Frame(ref)
		if frame == nil {
			s.halt("task %d has no trap frame at %#x", t.ID, ref.Addr())
			return
		}
		t.State = Active
		s.active = t
		s.Emit(Event{Kind: EventResume, TaskID: t.ID, Priority: t.Priority})
		s.cpu.SetReturnState(frame.ELR, ref.Addr())
		s.cpu.TrapReturn()
	} else {
		kind := EventSwitch
		if t.ctx == nil {
			kind = EventDispatch
			s.cpu.SetReturnState(uint64(t.Entry), t.UserStack)
			t.ctx = &hal.Context{}
		}
		t.State = Active
		s.active = t
		s.Emit(Event{Kind: kind, TaskID: t.ID, Priority: t.Priority})
		s.cpu.SwitchContext(s.anchor, t.ctx)
	}

	if s.cpu.Fault() != nil {
		// halted while the task held the processor; leave it where it stopped
		return
	}
	s.reschedule()
}

// reschedule queues whatever task holds the active slot.
func (s *Scheduler) reschedule() {
	t := s.takeActive()
	if t == nil {
		return
	}
	if err := s.push(t); err != nil {
		s.halt("requeue task %d: %v", t.ID, err)
		return
	}
	s.Emit(Event{Kind: EventRequeue, TaskID: t.ID, Priority: t.Priority})
}

// Run is the kernel main loop.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		// 1) check shutdown and faults
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.cpu.Fault(); err != nil {
			return err
		}

		// 2) idle case: wait for an external event
		t := s.Schedule()
		if t == nil {
			s.Emit(Event{Kind: EventIdle})
			if err := s.cpu.WaitForEvent(ctx); err != nil {
				return err
			}
			continue
		}

		// 3) dispatch
		s.Activate(t)
	}
}

// Active returns the task in the active slot, or nil.
func (s *Scheduler) Active() *Task { return s.active }

// takeActive empties the active slot and returns its former occupant.
func (s *Scheduler) takeActive() *Task {
	t := s.active
	s.active = nil
	return t
}

// Exit marks t as Exited and vacates the active slot if t holds it.
func (s *Scheduler) Exit(t *Task) {
	if s.active == t {
		s.active = nil
	}
	t.State = Exited
	s.Emit(Event{Kind: EventExit, TaskID: t.ID, Priority: t.Priority})
}

// Lookup returns the descriptor with the given id, including exited ones.
func (s *Scheduler) Lookup(id TaskID) (*Task, bool) {
	v, found := s.table.Get(id)
	if !found {
		return nil, false
	}
	return v.(*Task), true
}

// Tasks returns a snapshot of every descriptor, ordered by id.
func (s *Scheduler) Tasks() []TaskInfo {
	out := make([]TaskInfo, 0, s.table.Size())
	for _, v := range s.table.Values() {
		out = append(out, v.(*Task).info())
	}
	return out
}

// Len returns the number of ready tasks.
func (s *Scheduler) Len() int { return s.ready.Len() }

// Queued reports whether the task with id is in the ready queue.
func (s *Scheduler) Queued(id TaskID) bool { return s.ready.Contains(id) }

// Emit stamps ev and hands it to the sink.
func (s *Scheduler) Emit(ev Event) {
	if s.sink == nil {
		return
	}
	ev.Time = time.Now()
	ev.Round = s.rounds
	s.sink.Record(ev)
}

// push stamps a fresh sequence value and queues t as Ready.
func (s *Scheduler) push(t *Task) error {
	t.seq = s.seq
	if err := s.ready.Push(t); err != nil {
		return err
	}
	s.seq--
	t.State = Ready
	return nil
}

func (s *Scheduler) reject(priority uint) {
	s.log.Warn("task create rejected", zap.Uint("priority", priority), zap.Int("capacity", s.cfg.Capacity))
	s.Emit(Event{Kind: EventReject, Priority: priority})
}

func (s *Scheduler) halt(format string, args ...any) {
	s.Halt(hal.Here(1, format, args...))
}

// Halt logs a contract violation with its source location and parks the
// processor.
func (s *Scheduler) Halt(d hal.Diagnostic) {
	s.log.Error("kernel halt",
		zap.String("file", d.File),
		zap.Int("line", d.Line),
		zap.String("func", d.Func),
		zap.String("reason", d.Msg))
	s.cpu.Halt(d)
}

// cmpID orders the descriptor table.
func cmpID(a, b any) int {
	ia, ib := a.(TaskID), b.(TaskID)
	switch {
	case ia < ib:
		return -1
	case ia > ib:
		return 1
	default:
		return 0
	}
}
