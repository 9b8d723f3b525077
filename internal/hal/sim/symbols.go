package sim

import (
	"github.com/lunalunaa/lunaris/internal/abi"
	"github.com/lunalunaa/lunaris/internal/hal"
)

// Text segment layout of linked programs.
const (
	TextBase   = 0x80000
	TextStride = 0x100
)

type symbol struct {
	name string
	prog abi.Program
}

// Symbols is the link table of the simulated text segment.
type Symbols struct {
	next  hal.FuncPtr
	table map[hal.FuncPtr]symbol
}

func NewSymbols() *Symbols {
	return &Symbols{
		next:  TextBase,
		table: make(map[hal.FuncPtr]symbol),
	}
}

// Link places p at the next free text address and returns that address.
func (s *Symbols) Link(name string, p abi.Program) hal.FuncPtr {
	addr := s.next
	s.next += TextStride
	s.table[addr] = symbol{name: name, prog: p}
	return addr
}

// Resolve returns the program at addr.
func (s *Symbols) Resolve(addr hal.FuncPtr) (abi.Program, bool) {
	sym, ok := s.table[addr]
	return sym.prog, ok
}

// Name returns the symbol name at addr, or "".
func (s *Symbols) Name(addr hal.FuncPtr) string {
	return s.table[addr].name
}
