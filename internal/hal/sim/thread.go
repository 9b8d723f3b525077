package sim

import (
	"fmt"
	"io"
	"runtime"

	"go.uber.org/zap"

	"github.com/lunalunaa/lunaris/internal/abi"
	"github.com/lunalunaa/lunaris/internal/hal"
)

// instrSize is the size of one A64 instruction.
const instrSize = 4

// thread is one execution path of the simulated core. For a task it is the
// user program together with the kernel code its syscalls run.
type thread struct {
	m     *Machine
	wake  chan struct{}
	entry hal.FuncPtr
	pc    uint64 // address after the last SVC
	sp    uint64 // SP_EL0 at cold start
}

func newThread(m *Machine, pc, sp uint64) *thread {
	return &thread{
		m:     m,
		wake:  make(chan struct{}, 1),
		entry: hal.FuncPtr(pc),
		pc:    pc,
		sp:    sp,
	}
}

// park blocks until the path is handed the processor again. Task paths are
// torn down when the machine stops; the boot path returns.
func (t *thread) park() {
	select {
	case <-t.wake:
	case <-t.m.stop:
		if t != t.m.boot {
			runtime.Goexit()
		}
	}
}

// run is the body of a task path.
func (t *thread) run() {
	select {
	case <-t.wake:
	case <-t.m.stop:
		return
	}

	prog, ok := t.m.sym.Resolve(t.entry)
	if !ok {
		fmt.Fprintf(t.m.console, "instruction abort at %#x\n", uint64(t.entry))
	} else if fault := t.call(prog); fault != nil {
		fmt.Fprintf(t.m.console, "task fault at %#x: %v\n", t.pc, fault)
	}

	// falling off the entry point is an exit
	t.SVC(abi.SysExit, 0, 0)
}

// call runs prog and turns a panic into a fault value. An exit inside prog
// unwinds through here without one.
func (t *thread) call(prog abi.Program) (fault any) {
	defer func() { fault = recover() }()
	prog(t)
	return nil
}

// SVC is the trap-entry path: it deposits a frame below the kernel stack
// top of the trapping task and enters the kernel.
func (t *thread) SVC(imm uint16, x0, x1 uint64) uint64 {
	m := t.m
	if m.handler == nil {
		panic("sim: svc with no trap handler attached")
	}

	t.pc += instrSize
	f := &hal.TrapFrame{
		ESR:  hal.EncodeSVC(imm),
		SPSR: hal.SPSRUser,
		ELR:  t.pc,
	}
	f.X[0], f.X[1] = x0, x1

	ref := hal.FrameRef{Base: m.handler.KernelStack(), Offset: hal.FrameSize}
	m.frames[ref.Addr()] = &pending{frame: f, owner: t}
	t.enterKernel(f, ref)

	// back in EL0; a cooperative resume leaves the frame behind
	delete(m.frames, ref.Addr())
	return f.X[0]
}

// enterKernel runs the trap handler. A panic in there is a kernel fault, not
// a fault of the trapping task: it halts the machine.
func (t *thread) enterKernel(f *hal.TrapFrame, ref hal.FrameRef) {
	defer func() {
		if v := recover(); v != nil {
			d := hal.Recovered(v, "kernel panic in syscall %d", f.SyscallNumber())
			t.m.log.Error("kernel panic",
				zap.Any("value", v),
				zap.String("at", fmt.Sprintf("%s:%d", d.File, d.Line)))
			t.m.Halt(d)
		}
	}()
	t.m.handler.HandleSyscall(f, ref)
}

func (t *thread) Console() io.Writer {
	return t.m.console
}
