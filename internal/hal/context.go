package hal

// Context is the register set a cooperative switch preserves: the AArch64
// callee-saved registers x19..x28, the frame pointer x29, the link register
// x30 and the stack pointer. Everything else (x0..x18, flags, SIMD state) is
// caller-saved and considered dead across SwitchContext.
type Context struct {
	X  [12]uint64 // x19..x30
	SP uint64
}

// FP returns the saved frame pointer (x29).
func (c *Context) FP() uint64 { return c.X[10] }

// LR returns the saved link register (x30).
func (c *Context) LR() uint64 { return c.X[11] }
