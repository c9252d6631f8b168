package ftl

import "github.com/janweinstock/ftl/internal/x64"

// ValueKind distinguishes where a Value's home lives.
type ValueKind uint8

const (
	// KindLocal backs a value with a stack slot relative to the
	// function's base pointer.
	KindLocal ValueKind = iota
	// KindGlobal backs a value with a fixed absolute address.
	KindGlobal
	// KindScratch is register-only; it has no home and cannot be
	// spilled. The allocator must pin scratch operands for their use
	// window or fail with OutOfRegisters.
	KindScratch
)

func (k ValueKind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindGlobal:
		return "global"
	case KindScratch:
		return "scratch"
	default:
		return "unknown"
	}
}

// Value is an abstract operand: a named location with a declared
// bit-width, resident either in a register, at a stack slot, or at a
// fixed address. Values are move-only handles owned by the Function that
// created them; the zero Value is not meaningful.
type Value struct {
	name    string
	width   int // 8, 16, 32, 64 for integers; 32/64 also used for scalar widths
	kind    ValueKind
	scalar  bool // true selects the XMM allocator domain
	home    int32
	addr    uintptr
	reg     x64.Register
	xreg    x64.XMM
	hasReg  bool
	dirty   bool
	freed   bool
	created uint64 // allocator-assigned sequence number, for diagnostics
}

// Name returns the value's diagnostic name.
func (v *Value) Name() string { return v.name }

// Width returns the value's declared bit-width.
func (v *Value) Width() int { return v.width }

// Kind returns whether the value is local/global/scratch.
func (v *Value) Kind() ValueKind { return v.kind }

// IsScalar reports whether the value lives in the XMM allocator domain.
func (v *Value) IsScalar() bool { return v.scalar }

// InRegister reports whether the value currently owns a register.
func (v *Value) InRegister() bool { return v.hasReg }

// Dirty reports whether the register copy differs from the home copy.
func (v *Value) Dirty() bool { return v.dirty }
