package main

import (
	"fmt"

	tty "github.com/mattn/go-tty"

	"github.com/lunalunaa/lunaris/internal/sched"
)

// stepper holds the kernel before every activation until a key is pressed.
type stepper struct {
	io *tty.TTY
}

func openStepper() (*stepper, error) {
	t, err := tty.Open()
	if err != nil {
		return nil, fmt.Errorf("open terminal for single-step: %w", err)
	}
	return &stepper{io: t}, nil
}

func (s *stepper) Record(ev sched.Event) {
	if !ev.Kind.Activation() {
		return
	}
	fmt.Fprintf(s.io.Output(), "-- %s task %d (priority %d), press a key --\n", ev.Kind, ev.TaskID, ev.Priority)
	if _, err := s.io.ReadRune(); err != nil {
		fmt.Fprintf(s.io.Output(), "single-step read: %v\n", err)
	}
}

func (s *stepper) Close() error {
	return s.io.Close()
}
