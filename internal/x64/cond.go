package x64

// Condition is one of the 16 x86 condition codes, numbered exactly as the
// ISA numbers them (the low nibble of Jcc/SETcc/CMOVcc opcodes). Unifying
// Jcc/Setcc/Cmovcc on one byte-valued type means all three families share
// a single opcode-computation rule instead of three parallel mnemonic
// tables.
type Condition uint8

const (
	CondO  Condition = iota // overflow
	CondNO                  // not overflow
	CondB                   // below (unsigned <)
	CondAE                  // above or equal (unsigned >=)
	CondE                   // equal / zero
	CondNE                  // not equal / not zero
	CondBE                  // below or equal (unsigned <=)
	CondA                   // above (unsigned >)
	CondS                   // sign
	CondNS                  // not sign
	CondP                   // parity even
	CondNP                  // parity odd
	CondL                   // less (signed <)
	CondGE                  // greater or equal (signed >=)
	CondLE                  // less or equal (signed <=)
	CondG                   // greater (signed >)
)

// jccShortOpcode returns the one-byte opcode for Jcc rel8 (0x70 | cc).
func (c Condition) jccShortOpcode() byte { return 0x70 | byte(c) }

// jccNearOpcode returns the two-byte opcode for Jcc rel32 (0x0F, 0x80|cc).
func (c Condition) jccNearOpcode() (byte, byte) { return 0x0f, 0x80 | byte(c) }

// setccOpcode returns the two-byte opcode for SETcc r/m8 (0x0F, 0x90|cc).
func (c Condition) setccOpcode() (byte, byte) { return 0x0f, 0x90 | byte(c) }

// cmovccOpcode returns the two-byte opcode for CMOVcc r, r/m (0x0F, 0x40|cc).
func (c Condition) cmovccOpcode() (byte, byte) { return 0x0f, 0x40 | byte(c) }
