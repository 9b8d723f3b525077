package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lunalunaa/lunaris/internal/hal"
	"github.com/lunalunaa/lunaris/internal/hal/sim"
	"github.com/lunalunaa/lunaris/internal/job"
	"github.com/lunalunaa/lunaris/internal/kernel"
	"github.com/lunalunaa/lunaris/internal/klog"
	"github.com/lunalunaa/lunaris/internal/sched"
)

var configFlag = flag.String("c", "config.yml", "kernel configuration file")
var traceFlag = flag.String("t", "", "write the scheduling trace as CSV to this file (overrides trace_csv)")
var stepFlag = flag.Bool("s", false, "single-step: wait for a key on the terminal before every activation")
var levelFlag = flag.String("v", "", "log level (overrides log_level)")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lunaris: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Read the configuration
	cfg, err := sched.Load(*configFlag)
	if err != nil {
		return err
	}
	if *traceFlag != "" {
		cfg.TraceCSV = *traceFlag
	}

	log, err := klog.Build(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return err
	}
	defer log.Sync()
	if *levelFlag != "" {
		if err := klog.SetLevel(*levelFlag); err != nil {
			return fmt.Errorf("-v: %w", err)
		}
	}
	log = log.With(zap.String("boot", uuid.NewString()))
	log.Info("logging", zap.Stringer("level", klog.Level()), zap.String("config", *configFlag))

	sinks := []sched.EventSink{logSink(log.Named("trace"))}
	if cfg.TraceCSV != "" {
		trace, err := sched.NewCSVTrace(cfg.TraceCSV)
		if err != nil {
			return err
		}
		defer func() {
			if err := trace.Close(); err != nil {
				log.Error("closing trace", zap.Error(err))
			}
		}()
		sinks = append(sinks, trace)
	}
	if *stepFlag {
		st, err := openStepper()
		if err != nil {
			return err
		}
		defer st.Close()
		sinks = append(sinks, st)
	}

	symbols := sim.NewSymbols()
	root := job.Install(symbols)

	m := sim.New(sim.Options{
		Symbols:      symbols,
		Console:      os.Stdout,
		Logger:       log.Named("cpu"),
		HaltWhenIdle: true,
	})
	defer m.Close()

	p := kernel.New(m, cfg, log.Named("kernel"), sched.Tee(sinks...))
	m.Attach(p)

	if _, err := p.Boot(root); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = p.Run(ctx)
	if errors.Is(err, hal.ErrIdle) {
		log.Info("all tasks exited", zap.Int("descriptors", len(p.Scheduler().Tasks())))
		return nil
	}
	return err
}

// logSink writes scheduling events to the debug log.
func logSink(log *zap.Logger) sched.EventSink {
	return sched.EventSinkFunc(func(ev sched.Event) {
		log.Debug(ev.Kind.String(),
			zap.Uint64("round", ev.Round),
			zap.Uint8("tid", uint8(ev.TaskID)),
			zap.Uint("priority", ev.Priority),
			zap.Uint64("syscall", ev.Syscall),
			zap.Int8("result", ev.Result))
	})
}
