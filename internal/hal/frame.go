// internal/hal/frame.go

package hal

// TrapFrame is the register snapshot the trap-entry path deposits on the
// kernel stack when a task executes SVC from EL0.
type TrapFrame struct {
	X    [31]uint64 // x0..x30
	XZR  uint64
	ESR  uint64 // ESR_EL1 at entry
	SPSR uint64 // SPSR_EL1 at entry
	ELR  uint64 // return address
	_    uint64 // keeps the frame 16-byte aligned
}

// FrameSize is the number of bytes a TrapFrame occupies on the kernel stack.
const FrameSize = 36 * 8

// Exception syndrome layout (ARMv8-A, ESR_EL1).
const (
	esrECShift = 26
	esrECMask  = 0x3f
	esrIL      = 1 << 25
	esrISSMask = 0x1ff_ffff
	svcImmMask = 0xffff

	// ECSVC64 is the exception class of an SVC executed in AArch64 state.
	ECSVC64 = 0x15
)

// SPSR value used when dropping to EL0t with DAIF masked.
const (
	psrModeEL0t = 0x0
	psrDAIF     = 0xf << 6

	SPSRUser = psrModeEL0t | psrDAIF
)

// EncodeSVC builds the syndrome the hardware reports for "svc #imm".
func EncodeSVC(imm uint16) uint64 {
	return ECSVC64<<esrECShift | esrIL | uint64(imm)
}

// ExceptionClass returns the EC field of the saved syndrome.
func (f *TrapFrame) ExceptionClass() uint64 {
	return (f.ESR >> esrECShift) & esrECMask
}

// SyscallNumber returns the SVC immediate carried in the ISS field.
func (f *TrapFrame) SyscallNumber() uint64 {
	return f.ESR & esrISSMask & svcImmMask
}

// FrameRef locates a trap frame on a kernel stack. It is stored as a stack
// top plus the offset below it so that it can be kept across scheduling
// rounds without holding a pointer into the frame.
type FrameRef struct {
	Base   uint64
	Offset uint64
}

// Addr is the address of the first byte of the frame.
func (r FrameRef) Addr() uint64 {
	return r.Base - r.Offset
}

// IsZero reports whether r refers to no frame at all.
func (r FrameRef) IsZero() bool {
	return r == FrameRef{}
}
