package nvm

// Opcode is a single-byte NVM instruction. Immediate operands follow
// the opcode in the byte stream, little endian for the 32-bit forms.
type Opcode byte

const (
	Halt Opcode = 0x00
	Nop  Opcode = 0x01

	Push32 Opcode = 0x02
	Pop    Opcode = 0x04
	Dup    Opcode = 0x05
	Swap   Opcode = 0x06

	Add Opcode = 0x10
	Sub Opcode = 0x11
	Mul Opcode = 0x12
	Div Opcode = 0x13
	Mod Opcode = 0x14

	Cmp Opcode = 0x20
	Eq  Opcode = 0x21
	Neq Opcode = 0x22
	Gt  Opcode = 0x23
	Lt  Opcode = 0x24

	Jmp32  Opcode = 0x30
	Jz32   Opcode = 0x31
	Jnz32  Opcode = 0x32
	Call32 Opcode = 0x33
	Ret    Opcode = 0x34

	Load  Opcode = 0x40
	Store Opcode = 0x41

	LoadAbs  Opcode = 0x44
	StoreAbs Opcode = 0x45

	Syscall Opcode = 0x50
	Break   Opcode = 0x51
)

// Maps from instruction -> mnemonic for diagnostics
var opToStrMap = map[Opcode]string{
	Halt:     "halt",
	Nop:      "nop",
	Push32:   "push32",
	Pop:      "pop",
	Dup:      "dup",
	Swap:     "swap",
	Add:      "add",
	Sub:      "sub",
	Mul:      "mul",
	Div:      "div",
	Mod:      "mod",
	Cmp:      "cmp",
	Eq:       "eq",
	Neq:      "neq",
	Gt:       "gt",
	Lt:       "lt",
	Jmp32:    "jmp32",
	Jz32:     "jz32",
	Jnz32:    "jnz32",
	Call32:   "call32",
	Ret:      "ret",
	Load:     "load",
	Store:    "store",
	LoadAbs:  "loadabs",
	StoreAbs: "storeabs",
	Syscall:  "syscall",
	Break:    "break",
}

// Convert opcode to mnemonic for use with Print/Sprint
func (op Opcode) String() string {
	str, ok := opToStrMap[op]
	if !ok {
		str = "?unknown?"
	}
	return str
}
