package kernel

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/lunalunaa/lunaris/internal/abi"
	"github.com/lunalunaa/lunaris/internal/hal"
	"github.com/lunalunaa/lunaris/internal/hal/sim"
	"github.com/lunalunaa/lunaris/internal/job"
	"github.com/lunalunaa/lunaris/internal/sched"
)

type harness struct {
	p       *Processor
	m       *sim.Machine
	sym     *sim.Symbols
	console *bytes.Buffer
	events  []sched.Event
	onEvent func(sched.Event)
}

func newHarness(t *testing.T, cfg sched.Config) *harness {
	t.Helper()
	h := &harness{sym: sim.NewSymbols(), console: &bytes.Buffer{}}
	h.m = sim.New(sim.Options{Symbols: h.sym, Console: h.console, HaltWhenIdle: true})
	h.p = New(h.m, cfg, nil, sched.EventSinkFunc(func(ev sched.Event) {
		h.events = append(h.events, ev)
		if h.onEvent != nil {
			h.onEvent(ev)
		}
	}))
	h.m.Attach(h.p)
	t.Cleanup(h.m.Close)
	return h
}

// boot installs entry as task 1 and runs until every task has exited.
func (h *harness) boot(t *testing.T, entry hal.FuncPtr) {
	t.Helper()
	if id, err := h.p.Boot(entry); err != nil || id != 1 {
		t.Fatalf("boot: got id %d err %v", id, err)
	}
	if err := h.p.Run(context.Background()); !errors.Is(err, hal.ErrIdle) {
		t.Fatalf("run: got %v want ErrIdle", err)
	}
}

// firstActivations lists task ids in the order they were first given the
// processor.
func (h *harness) firstActivations() []sched.TaskID {
	seen := map[sched.TaskID]bool{}
	var out []sched.TaskID
	for _, ev := range h.events {
		if ev.Kind.Activation() && !seen[ev.TaskID] {
			seen[ev.TaskID] = true
			out = append(out, ev.TaskID)
		}
	}
	return out
}

func (h *harness) allExited(t *testing.T) {
	t.Helper()
	for _, info := range h.p.Scheduler().Tasks() {
		if info.State != sched.Exited {
			t.Fatalf("task %d left in state %s", info.ID, info.State)
		}
	}
}

func TestProcessor_EndToEnd_DemoActivationOrder(t *testing.T) {
	h := newHarness(t, sched.DefaultConfig())
	h.boot(t, job.Install(h.sym))

	got := h.firstActivations()
	want := []sched.TaskID{1, 4, 5, 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("first activations: got %v want %v", got, want)
	}

	out := h.console.String()
	for _, line := range []string{
		"Created: 2\n", "Created: 3\n", "Created: 4\n", "Created: 5\n",
		"First User Task: exiting\n",
		"my task id: 4\n", "my parent id: 1\n",
	} {
		if !strings.Contains(out, line) {
			t.Fatalf("console missing %q:\n%s", line, out)
		}
	}
	if len(h.p.Scheduler().Tasks()) != 5 {
		t.Fatalf("descriptors: got %d want 5", len(h.p.Scheduler().Tasks()))
	}
	h.allExited(t)
}

func TestProcessor_ChildrenRunByPriorityOnceRootExits(t *testing.T) {
	cfg := sched.DefaultConfig()
	cfg.BootPriority = 5
	h := newHarness(t, cfg)

	var order []int8
	child := h.sym.Link("child", func(e abi.Env) {
		order = append(order, abi.MyTid(e))
	})
	root := h.sym.Link("root", func(e abi.Env) {
		for _, p := range []uint{0, 0, 2, 2, 1} {
			abi.Create(e, p, child)
		}
	})
	h.boot(t, root)

	want := []int8{4, 5, 6, 2, 3}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("child order: got %v want %v", order, want)
	}
	h.allExited(t)
}

func TestProcessor_MyParentTid(t *testing.T) {
	h := newHarness(t, sched.DefaultConfig())

	var rootTid, rootParent, childTid, childParent, created int8
	child := h.sym.Link("child", func(e abi.Env) {
		childTid = abi.MyTid(e)
		childParent = abi.MyParentTid(e)
		abi.Exit(e)
	})
	root := h.sym.Link("root", func(e abi.Env) {
		rootTid = abi.MyTid(e)
		rootParent = abi.MyParentTid(e)
		created = abi.Create(e, 0, child)
		abi.Exit(e)
	})
	h.boot(t, root)

	if rootTid != 1 || rootParent != abi.NoParent {
		t.Fatalf("root: got tid %d parent %d want 1 and -1", rootTid, rootParent)
	}
	if childTid != created || childParent != rootTid {
		t.Fatalf("child: got tid %d parent %d want %d and %d", childTid, childParent, created, rootTid)
	}
}

func TestProcessor_YieldKeepsIdentity(t *testing.T) {
	h := newHarness(t, sched.DefaultConfig())

	type pair struct{ before, after int8 }
	var seen []pair
	worker := h.sym.Link("worker", func(e abi.Env) {
		before := abi.MyTid(e)
		abi.Yield(e)
		seen = append(seen, pair{before, abi.MyTid(e)})
	})
	root := h.sym.Link("root", func(e abi.Env) {
		abi.Create(e, 1, worker)
		abi.Create(e, 1, worker)
	})
	h.boot(t, root)

	want := []pair{{2, 2}, {3, 3}}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("identity across yield: got %v want %v", seen, want)
	}
}

func TestProcessor_YieldRotatesEqualPriority(t *testing.T) {
	h := newHarness(t, sched.DefaultConfig())

	spinner := h.sym.Link("spinner", job.Spinner(2))
	root := h.sym.Link("root", func(e abi.Env) {
		abi.Create(e, 0, spinner)
		abi.Create(e, 0, spinner)
	})
	h.boot(t, root)

	var order []sched.TaskID
	for _, ev := range h.events {
		if ev.Kind.Activation() && ev.TaskID != 1 {
			order = append(order, ev.TaskID)
		}
	}
	// two yields and the implicit exit: three entries each, alternating
	want := []sched.TaskID{2, 3, 2, 3, 2, 3}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("activations: got %v want %v", order, want)
	}
}

func TestProcessor_ExitedTaskNeverScheduled(t *testing.T) {
	h := newHarness(t, sched.DefaultConfig())

	spinner := h.sym.Link("spinner", job.Spinner(3))
	quitter := h.sym.Link("quitter", func(e abi.Env) { abi.Exit(e) })
	root := h.sym.Link("root", func(e abi.Env) {
		abi.Create(e, 0, quitter)
		abi.Create(e, 0, spinner)
	})
	h.boot(t, root)

	exited := map[sched.TaskID]bool{}
	for _, ev := range h.events {
		switch {
		case ev.Kind == sched.EventExit:
			exited[ev.TaskID] = true
		case ev.Kind.Activation() && exited[ev.TaskID]:
			t.Fatalf("task %d activated after exit (round %d)", ev.TaskID, ev.Round)
		}
	}
	if len(exited) != 3 {
		t.Fatalf("exits: got %v want 3 tasks", exited)
	}
}

func TestProcessor_CreateOutOfDescriptors(t *testing.T) {
	cfg := sched.DefaultConfig()
	cfg.Capacity = 3
	h := newHarness(t, cfg)

	var results []int8
	child := h.sym.Link("child", func(e abi.Env) {})
	root := h.sym.Link("root", func(e abi.Env) {
		for i := 0; i < 3; i++ {
			results = append(results, abi.Create(e, 0, child))
		}
	})
	h.boot(t, root)

	want := []int8{2, 3, abi.OutOfDescriptors}
	if !reflect.DeepEqual(results, want) {
		t.Fatalf("create results: got %v want %v", results, want)
	}
	h.allExited(t)
}

func TestProcessor_UnknownSyscallReturnsSentinel(t *testing.T) {
	h := newHarness(t, sched.DefaultConfig())

	var ret, after int8
	root := h.sym.Link("root", func(e abi.Env) {
		ret = int8(e.SVC(42, 0, 0))
		after = abi.MyTid(e)
	})
	h.boot(t, root)

	if ret != abi.UnknownSyscall {
		t.Fatalf("unknown syscall: got %d want %d", ret, abi.UnknownSyscall)
	}
	if after != 1 {
		t.Fatalf("kernel did not keep serving the task: MyTid %d", after)
	}
}

func TestProcessor_BadEntryOnlyKillsItsTask(t *testing.T) {
	h := newHarness(t, sched.DefaultConfig())

	var id int8
	var finished bool
	root := h.sym.Link("root", func(e abi.Env) {
		id = abi.Create(e, 3, 0xdead)
		abi.Yield(e)
		finished = true
	})
	h.boot(t, root)

	if id != 2 || !finished {
		t.Fatalf("root: created %d finished %v", id, finished)
	}
	if !strings.Contains(h.console.String(), "instruction abort at 0xdead") {
		t.Fatalf("console: got %q", h.console.String())
	}
	h.allExited(t)
}

func TestProcessor_SyscallWithoutActiveTaskHalts(t *testing.T) {
	h := newHarness(t, sched.DefaultConfig())

	f := &hal.TrapFrame{ESR: hal.EncodeSVC(abi.SysMyTid)}
	h.p.HandleSyscall(f, hal.FrameRef{Base: 0x1fc00, Offset: hal.FrameSize})

	var d *hal.Diagnostic
	if err := h.m.Fault(); !errors.As(err, &d) {
		t.Fatalf("fault: got %v", err)
	}
	if d.File != "syscall.go" || !strings.Contains(d.Msg, "no active task") {
		t.Fatalf("diagnostic: got %+v", d)
	}
	if err := h.p.Run(context.Background()); !errors.As(err, &d) {
		t.Fatalf("run after halt: got %v", err)
	}
}

func TestProcessor_KernelStackOfActiveTask(t *testing.T) {
	h := newHarness(t, sched.DefaultConfig())

	var sp uint64
	root := h.sym.Link("root", func(e abi.Env) {
		sp = h.p.KernelStack()
	})
	h.boot(t, root)

	if sp != 0x20000-0x400 {
		t.Fatalf("kernel stack: got %#x want %#x", sp, 0x20000-0x400)
	}
}

func TestProcessor_PanicInSyscallPathHaltsKernel(t *testing.T) {
	h := newHarness(t, sched.DefaultConfig())
	h.onEvent = func(ev sched.Event) {
		if ev.Kind == sched.EventSyscall && ev.Syscall == uint64(abi.SysMyTid) {
			panic("sink broke")
		}
	}

	var returned bool
	root := h.sym.Link("root", func(e abi.Env) {
		abi.MyTid(e)
		returned = true
	})
	if _, err := h.p.Boot(root); err != nil {
		t.Fatalf("boot: %v", err)
	}

	var d *hal.Diagnostic
	if err := h.p.Run(context.Background()); !errors.As(err, &d) {
		t.Fatalf("run: got %v want a halt diagnostic", err)
	}
	if !strings.Contains(d.Msg, "sink broke") || d.File != "processor_test.go" || d.Line == 0 {
		t.Fatalf("diagnostic: got %+v", d)
	}
	if returned {
		t.Fatalf("task resumed after the kernel panicked")
	}
	if strings.Contains(h.console.String(), "task fault") {
		t.Fatalf("kernel panic blamed on the task: %q", h.console.String())
	}
	for _, ev := range h.events {
		if ev.Kind == sched.EventRequeue {
			t.Fatalf("task %d queued again after the halt", ev.TaskID)
		}
	}
}
