package kernel

import (
	"errors"

	"go.uber.org/zap"

	"github.com/lunalunaa/lunaris/internal/abi"
	"github.com/lunalunaa/lunaris/internal/hal"
	"github.com/lunalunaa/lunaris/internal/sched"
)

type handler func(p *Processor, t *sched.Task, f *hal.TrapFrame) int8

// handlers is indexed by SVC immediate. Exit is not here: it never returns
// to the common tail.
var handlers = [...]handler{
	abi.SysCreate:      sysCreate,
	abi.SysMyTid:       sysMyTid,
	abi.SysMyParentTid: sysMyParentTid,
	abi.SysYield:       sysYield,
}

// HandleSyscall is called by the trap-entry path with the frame of the
// active task. It does not return to the task directly: the result goes
// into x0 and control goes back to the scheduler loop.
func (p *Processor) HandleSyscall(frame *hal.TrapFrame, ref hal.FrameRef) {
	t := p.sched.Active()
	if t == nil {
		p.halt("syscall with no active task")
		return
	}
	if ec := frame.ExceptionClass(); ec != hal.ECSVC64 {
		p.halt("task %d trapped with exception class %#x", t.ID, ec)
		return
	}
	t.Trap(ref)

	num := frame.SyscallNumber()
	if num == uint64(abi.SysExit) {
		p.exit(t)
		return
	}

	var ret int8
	if num < uint64(len(handlers)) && handlers[num] != nil {
		ret = handlers[num](p, t, frame)
	} else {
		p.log.Warn("unknown syscall", zap.Uint8("tid", uint8(t.ID)), zap.Uint64("num", num))
		ret = abi.UnknownSyscall
	}
	frame.X[0] = uint64(int64(ret))

	p.log.Debug("syscall",
		zap.Uint8("tid", uint8(t.ID)),
		zap.Uint64("num", num),
		zap.Int8("ret", ret))
	p.sched.Emit(sched.Event{Kind: sched.EventSyscall, TaskID: t.ID, Priority: t.Priority, Syscall: num, Result: ret})

	p.cpu.SwitchContext(t.Context(), &p.anchor)
}

func sysCreate(p *Processor, t *sched.Task, f *hal.TrapFrame) int8 {
	id, err := p.sched.Create(uint(f.X[0]), t.ID, hal.FuncPtr(f.X[1]))
	if errors.Is(err, sched.ErrOutOfDescriptors) {
		return abi.OutOfDescriptors
	}
	if err != nil {
		p.log.Error("create failed", zap.Uint8("tid", uint8(t.ID)), zap.Error(err))
		return abi.OutOfDescriptors
	}
	return int8(id)
}

func sysMyTid(p *Processor, t *sched.Task, f *hal.TrapFrame) int8 {
	return int8(t.ID)
}

func sysMyParentTid(p *Processor, t *sched.Task, f *hal.TrapFrame) int8 {
	if !t.HasParent() {
		return abi.NoParent
	}
	return int8(t.Parent)
}

// sysYield does nothing itself; the scheduler queues the caller again when
// the common tail switches back to it.
func sysYield(p *Processor, t *sched.Task, f *hal.TrapFrame) int8 {
	return 0
}

// exit retires t and goes straight back to the anchor. The task's execution
// point is discarded.
func (p *Processor) exit(t *sched.Task) {
	p.sched.Exit(t)
	p.log.Debug("task exited", zap.Uint8("tid", uint8(t.ID)))
	p.sched.Emit(sched.Event{Kind: sched.EventSyscall, TaskID: t.ID, Priority: t.Priority, Syscall: uint64(abi.SysExit)})
	p.cpu.SwitchContext(nil, &p.anchor)
}
