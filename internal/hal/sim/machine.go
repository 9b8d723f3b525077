// Package sim is a host-side implementation of hal.Machine.
//
// Every execution path of the simulated processor, the kernel's own and one
// per task, runs on its own goroutine, and exactly one of them holds the
// processor at a time. Each transfer of control wakes the next path and
// parks the current one, so machine and kernel state are only ever touched
// by the path that holds the processor.
package sim

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/lunalunaa/lunaris/internal/hal"
)

// ErrClosed is returned by WaitForEvent once the machine has been closed.
var ErrClosed = errors.New("sim: machine closed")

// Options configures a Machine.
type Options struct {
	Symbols *Symbols  // link table resolving entry points; required
	Console io.Writer // user console; io.Discard when nil
	Logger  *zap.Logger

	// HaltWhenIdle makes WaitForEvent return hal.ErrIdle instead of blocking
	// when no event is pending.
	HaltWhenIdle bool
}

// pending is a trap frame sitting on a kernel stack, waiting to be
// returned into.
type pending struct {
	frame *hal.TrapFrame
	owner *thread
}

// Machine simulates one AArch64 core.
type Machine struct {
	sym          *Symbols
	console      io.Writer
	log          *zap.Logger
	haltWhenIdle bool
	handler      hal.TrapHandler

	events   *EventLine
	stop     chan struct{}
	stopOnce sync.Once
	fault    *hal.Diagnostic // written before stop is closed

	boot    *thread // the path that created the machine and runs the kernel loop
	running *thread
	threads map[*hal.Context]*thread
	frames  map[uint64]*pending

	elr   uint64 // ELR_EL1
	spEL0 uint64 // SP_EL0
}

// New creates a machine. The calling goroutine becomes the boot path: it
// must be the one that later runs the kernel loop.
func New(opts Options) *Machine {
	if opts.Symbols == nil {
		opts.Symbols = NewSymbols()
	}
	if opts.Console == nil {
		opts.Console = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	m := &Machine{
		sym:          opts.Symbols,
		console:      opts.Console,
		log:          opts.Logger,
		haltWhenIdle: opts.HaltWhenIdle,
		events:       newEventLine(),
		stop:         make(chan struct{}),
		threads:      make(map[*hal.Context]*thread),
		frames:       make(map[uint64]*pending),
	}
	m.boot = newThread(m, 0, 0)
	m.running = m.boot
	return m
}

// Attach wires the kernel's trap handler into the SVC path.
func (m *Machine) Attach(h hal.TrapHandler) {
	m.handler = h
}

// Signal posts an external event. It is safe to call from any goroutine.
func (m *Machine) Signal() {
	m.events.Post()
}

// Events returns how many external events were posted.
func (m *Machine) Events() int64 {
	return m.events.Count()
}

// Close releases every parked execution path. The machine cannot be used
// afterwards.
func (m *Machine) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Machine) SetReturnState(pc, sp uint64) {
	m.elr = pc
	m.spEL0 = sp
}

func (m *Machine) TrapReturn() {
	p, ok := m.frames[m.spEL0]
	if !ok {
		m.Halt(hal.Here(0, "trap return with no frame at %#x", m.spEL0))
		return
	}
	if p.frame.ELR != m.elr {
		m.Halt(hal.Here(0, "trap return to %#x but frame returns to %#x", m.elr, p.frame.ELR))
		return
	}
	delete(m.frames, m.spEL0)

	cur := m.running
	m.handoff(p.owner)
	cur.park()
}

func (m *Machine) SwitchContext(save, restore *hal.Context) {
	cur := m.running
	if save != nil {
		save.SP = cur.sp
		save.X[11] = cur.pc
		m.threads[save] = cur
	} else {
		m.retire(cur)
	}

	next, ok := m.threads[restore]
	if !ok {
		next = m.spawn(restore)
	}
	m.handoff(next)

	if save == nil {
		runtime.Goexit()
	}
	cur.park()
}

func (m *Machine) Frame(ref hal.FrameRef) *hal.TrapFrame {
	p, ok := m.frames[ref.Addr()]
	if !ok {
		return nil
	}
	return p.frame
}

func (m *Machine) WaitForEvent(ctx context.Context) error {
	if m.events.take() {
		return nil
	}
	if m.haltWhenIdle {
		return hal.ErrIdle
	}
	select {
	case <-m.events.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stop:
		if err := m.Fault(); err != nil {
			return err
		}
		return ErrClosed
	}
}

// Halt records d and stops the machine. A task path never returns from it;
// the boot path does, and the kernel loop picks the fault up from Fault.
func (m *Machine) Halt(d hal.Diagnostic) {
	if m.fault == nil {
		m.fault = &d
	}
	m.log.Debug("processor parked", zap.String("reason", d.Msg))
	m.stopOnce.Do(func() { close(m.stop) })
	if m.running != m.boot {
		runtime.Goexit()
	}
}

func (m *Machine) Fault() error {
	if m.fault == nil {
		return nil
	}
	return m.fault
}

// spawn creates the path that cold-starts at the programmed return state
// once restore is switched into.
func (m *Machine) spawn(restore *hal.Context) *thread {
	t := newThread(m, m.elr, m.spEL0)
	m.threads[restore] = t
	m.log.Debug("cold start",
		zap.Uint64("pc", m.elr),
		zap.Uint64("sp", m.spEL0),
		zap.String("symbol", m.sym.Name(hal.FuncPtr(m.elr))))
	go t.run()
	return t
}

// retire forgets every context and frame bound to t.
func (m *Machine) retire(t *thread) {
	for ctx, owner := range m.threads {
		if owner == t {
			delete(m.threads, ctx)
		}
	}
	for addr, p := range m.frames {
		if p.owner == t {
			delete(m.frames, addr)
		}
	}
}

func (m *Machine) handoff(next *thread) {
	m.running = next
	next.wake <- struct{}{}
}
