// Package hal describes the processor primitives the kernel is built on:
// trap entry, trap return, the cooperative register switch and the idle
// wait. The kernel only talks to the hardware through Machine; trap entry
// calls back into the kernel through TrapHandler.
package hal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// FuncPtr is the address of a user-mode entry point. It is a plain machine
// address, not a closure.
type FuncPtr uint64

// ErrIdle is returned by WaitForEvent when the machine has nothing left that
// could ever wake the processor.
var ErrIdle = errors.New("hal: processor idle")

// Machine is the set of primitives provided below the kernel.
type Machine interface {
	// SetReturnState programs ELR_EL1 and SP_EL0 for the next drop to EL0.
	SetReturnState(pc, sp uint64)

	// TrapReturn restores the trap frame found at the programmed SP_EL0 and
	// returns to EL0 at the programmed ELR_EL1. The kernel gets the processor
	// back only through the next switch into its anchor context; on machines
	// that can express it, that is when TrapReturn returns.
	TrapReturn()

	// SwitchContext saves the current execution point into save and resumes
	// restore. A nil save discards the current execution point. It returns
	// when something later switches back into save.
	SwitchContext(save, restore *Context)

	// Frame reads the trap frame a reference points at, or nil.
	Frame(ref FrameRef) *TrapFrame

	// WaitForEvent idles the processor until an external event arrives.
	WaitForEvent(ctx context.Context) error

	// Halt reports an unrecoverable kernel contract violation and parks the
	// processor.
	Halt(d Diagnostic)

	// Fault returns the diagnostic of a previous Halt, or nil.
	Fault() error
}

// TrapHandler is the kernel side of the trap-entry path.
type TrapHandler interface {
	// KernelStack returns the kernel stack top of the task that trapped.
	KernelStack() uint64

	// HandleSyscall services the SVC described by frame. ref locates the
	// same frame on the kernel stack.
	HandleSyscall(frame *TrapFrame, ref FrameRef)
}

// Diagnostic carries the source location of a kernel halt.
type Diagnostic struct {
	File string
	Line int
	Func string
	Msg  string
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("kernel halt at %s:%d (%s): %s", d.File, d.Line, d.Func, d.Msg)
}

// Here builds a Diagnostic located skip frames above its caller; skip 0
// names the caller itself.
func Here(skip int, format string, args ...any) Diagnostic {
	d := Diagnostic{Msg: fmt.Sprintf(format, args...)}
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		d.File = "???"
		return d
	}
	d.File = filepath.Base(file)
	d.Line = line
	if fn := runtime.FuncForPC(pc); fn != nil {
		d.Func = fn.Name()
	}
	return d
}

// Recovered builds a Diagnostic for a panic value v, located at the frame
// that panicked. It must be called from the deferred function that
// recovered v.
func Recovered(v any, format string, args ...any) Diagnostic {
	d := Diagnostic{Msg: fmt.Sprintf(format, args...) + fmt.Sprintf(": %v", v), File: "???"}

	pcs := make([]uintptr, 32)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(2, pcs)])
	unwinding := false
	for {
		f, more := frames.Next()
		if strings.HasPrefix(f.Function, "runtime.") {
			unwinding = true
		} else if unwinding {
			d.File = filepath.Base(f.File)
			d.Line = f.Line
			d.Func = f.Function
			return d
		}
		if !more {
			return d
		}
	}
}
