// Package job holds the user programs the kernel boots for demonstration.
package job

import (
	"fmt"

	"github.com/lunalunaa/lunaris/internal/abi"
	"github.com/lunalunaa/lunaris/internal/hal"
)

// Child reports its identity, yields once, reports it again and exits.
func Child(e abi.Env) {
	tid := abi.MyTid(e)
	parent := abi.MyParentTid(e)
	fmt.Fprintf(e.Console(), "my task id: %d\n", tid)
	fmt.Fprintf(e.Console(), "my parent id: %d\n", parent)

	abi.Yield(e)
	fmt.Fprintf(e.Console(), "my task id: %d\n", tid)
	fmt.Fprintf(e.Console(), "my parent id: %d\n", parent)

	abi.Exit(e)
}

// ChildPriorities are the priorities Root creates its children with.
var ChildPriorities = []uint{0, 0, 2, 2}

// Root returns the first user task: it creates one child per entry of
// ChildPriorities, running child, and exits.
func Root(child hal.FuncPtr) abi.Program {
	return func(e abi.Env) {
		for _, prio := range ChildPriorities {
			id := abi.Create(e, prio, child)
			fmt.Fprintf(e.Console(), "Created: %d\n", id)
		}
		fmt.Fprintln(e.Console(), "First User Task: exiting")
		abi.Exit(e)
	}
}

// Spinner yields the given number of times and then returns, which exits.
func Spinner(rounds int) abi.Program {
	return func(e abi.Env) {
		for i := 0; i < rounds; i++ {
			abi.Yield(e)
		}
	}
}

// Install links the demo programs and returns the entry of Root.
func Install(l abi.Linker) hal.FuncPtr {
	child := l.Link("child", Child)
	return l.Link("root", Root(child))
}
