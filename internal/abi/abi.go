// Package abi is the user-visible system call interface: call numbers,
// result sentinels, and the stubs user programs call.
package abi

import (
	"io"

	"github.com/lunalunaa/lunaris/internal/hal"
)

// SVC immediates.
const (
	SysCreate      uint16 = 1
	SysMyTid       uint16 = 2
	SysMyParentTid uint16 = 3
	SysYield       uint16 = 4
	SysExit        uint16 = 5
)

// Result sentinels returned in x0.
const (
	NoParent         int8 = -1
	OutOfDescriptors int8 = -2
	UnknownSyscall   int8 = -3
)

// Env is what a user program sees of the machine: the SVC instruction and a
// console to print on.
type Env interface {
	// SVC traps into the kernel with x0 and x1 loaded and returns x0 as it
	// stands when the task is resumed.
	SVC(imm uint16, x0, x1 uint64) uint64
	Console() io.Writer
}

// Program is a user-mode entry point.
type Program func(e Env)

// Linker places programs in the text segment and hands back their entry
// addresses.
type Linker interface {
	Link(name string, p Program) hal.FuncPtr
}

// Create starts a new task at entry with the given priority. It returns the
// new task id or OutOfDescriptors.
func Create(e Env, priority uint, entry hal.FuncPtr) int8 {
	return int8(e.SVC(SysCreate, uint64(priority), uint64(entry)))
}

// MyTid returns the caller's task id.
func MyTid(e Env) int8 {
	return int8(e.SVC(SysMyTid, 0, 0))
}

// MyParentTid returns the id of the task that created the caller, or NoParent.
func MyParentTid(e Env) int8 {
	return int8(e.SVC(SysMyParentTid, 0, 0))
}

// Yield gives the processor back to the scheduler.
func Yield(e Env) {
	e.SVC(SysYield, 0, 0)
}

// Exit terminates the caller. It does not return.
func Exit(e Env) {
	e.SVC(SysExit, 0, 0)
	panic("abi: exit returned")
}
