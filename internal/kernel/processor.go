// Package kernel ties the scheduler to the processor: it owns the kernel's
// anchor context, installs the boot task and services syscalls.
package kernel

import (
	"context"

	"go.uber.org/zap"

	"github.com/lunalunaa/lunaris/internal/hal"
	"github.com/lunalunaa/lunaris/internal/sched"
)

// Processor is the one per-boot holder of the anchor context and the
// scheduler. Build it once with New and pass it wherever the kernel is
// entered.
type Processor struct {
	anchor hal.Context
	sched  *sched.Scheduler
	cpu    hal.Machine
	cfg    sched.Config
	log    *zap.Logger
}

// New builds the processor on top of cpu. sink may be nil.
func New(cpu hal.Machine, cfg sched.Config, log *zap.Logger, sink sched.EventSink) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Processor{
		cpu: cpu,
		cfg: cfg,
		log: log,
	}
	p.sched = sched.New(cfg, cpu, &p.anchor, log.Named("sched"), sink)
	return p
}

// Scheduler returns the processor's scheduler.
func (p *Processor) Scheduler() *sched.Scheduler { return p.sched }

// Boot installs the first task, with no parent, at entry.
func (p *Processor) Boot(entry hal.FuncPtr) (sched.TaskID, error) {
	id, err := p.sched.Create(p.cfg.BootPriority, sched.NoTask, entry)
	if err != nil {
		return sched.NoTask, err
	}
	p.log.Info("boot task installed",
		zap.Uint8("tid", uint8(id)),
		zap.Uint("priority", p.cfg.BootPriority),
		zap.Uint64("entry", uint64(entry)))
	return id, nil
}

// Run enters the scheduler loop.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info("scheduler running", zap.Int("ready", p.sched.Len()))
	err := p.sched.Run(ctx)
	p.log.Info("scheduler stopped", zap.Error(err))
	return err
}

// KernelStack returns the kernel stack top of the active task. The trap
// entry path places the trap frame just below it.
func (p *Processor) KernelStack() uint64 {
	t := p.sched.Active()
	if t == nil {
		p.halt("trap taken with no active task")
		return 0
	}
	return t.KernelStack
}

func (p *Processor) halt(format string, args ...any) {
	p.sched.Halt(hal.Here(1, format, args...))
}
