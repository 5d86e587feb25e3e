// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"strings"
)

// Reg names a register or a view of one.
type Reg int

// The register order of each width follows the ModR/M encoding.
const (
	REG_EAX = Reg(iota)
	REG_ECX
	REG_EDX
	REG_EBX
	REG_ESP
	REG_EBP
	REG_ESI
	REG_EDI
	REG_EIP
	REG_EFLAGS

	REG_AX
	REG_CX
	REG_DX
	REG_BX
	REG_SP
	REG_BP
	REG_SI
	REG_DI
	REG_IP
	REG_FLAGS

	REG_AL
	REG_CL
	REG_DL
	REG_BL
	REG_AH
	REG_CH
	REG_DH
	REG_BH

	REG_COUNT

	REG_NONE = Reg(-1)
)

// EFLAGS bits.
const (
	FLAG_CF = uint32(1 << 0)  // Carry
	FLAG_PF = uint32(1 << 2)  // Parity
	FLAG_AF = uint32(1 << 4)  // Auxiliary carry
	FLAG_ZF = uint32(1 << 6)  // Zero
	FLAG_SF = uint32(1 << 7)  // Sign
	FLAG_TF = uint32(1 << 8)  // Trap
	FLAG_IF = uint32(1 << 9)  // Interrupt enable
	FLAG_DF = uint32(1 << 10) // Direction
	FLAG_OF = uint32(1 << 11) // Overflow

	FLAGS_RESET = uint32(1 << 1) // Reserved bit 1 is always set at reset.
)

const SLOT_COUNT = 10 // EAX..EDI, EIP, EFLAGS

// regView is a masked slice of a backing slot.
type regView struct {
	slot  uint8
	shift uint8
	width uint8
}

func (view regView) mask() uint32 {
	return ^uint32(0) >> (32 - view.width)
}

var regViews = [REG_COUNT]regView{}

var regNames = [REG_COUNT]string{
	"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi", "eip", "eflags",
	"ax", "cx", "dx", "bx", "sp", "bp", "si", "di", "ip", "flags",
	"al", "cl", "dl", "bl", "ah", "ch", "dh", "bh",
}

var regByName = map[string]Reg{}

func init() {
	for n := range SLOT_COUNT {
		regViews[REG_EAX+Reg(n)] = regView{slot: uint8(n), width: 32}
		regViews[REG_AX+Reg(n)] = regView{slot: uint8(n), width: 16}
	}
	for n := range 4 {
		regViews[REG_AL+Reg(n)] = regView{slot: uint8(n), width: 8}
		regViews[REG_AH+Reg(n)] = regView{slot: uint8(n), shift: 8, width: 8}
	}
	for reg, name := range regNames {
		regByName[name] = Reg(reg)
	}
}

// String returns the lower case register name.
func (reg Reg) String() string {
	if reg < 0 || reg >= REG_COUNT {
		return f("reg(%v)", int(reg))
	}
	return regNames[reg]
}

// Width returns the register width in bits.
func (reg Reg) Width() int {
	return int(regViews[reg].width)
}

// ParseReg finds a register by its (case insensitive) name.
func ParseReg(name string) (reg Reg, err error) {
	reg, ok := regByName[strings.ToLower(name)]
	if !ok {
		reg = REG_NONE
		err = ErrRegisterName(name)
	}
	return
}

// RegByIndex returns the register encoded as index in a ModR/M or opcode
// field, for an operand of size bytes.
func RegByIndex(size int, index uint8) Reg {
	index &= 7
	switch size {
	case 1:
		return REG_AL + Reg(index)
	case 2:
		return REG_AX + Reg(index)
	default:
		return REG_EAX + Reg(index)
	}
}

// Bank is the register file. Each 32-bit register is a single backing
// slot, and the 16-bit and 8-bit registers are masked views of it.
type Bank struct {
	Slot [SLOT_COUNT]uint32
}

// Get returns the right-aligned value of a register view.
func (bank *Bank) Get(reg Reg) uint32 {
	view := regViews[reg]
	return (bank.Slot[view.slot] >> view.shift) & view.mask()
}

// Set stores value, masked to the view's width, leaving all other bits of
// the backing slot unchanged.
func (bank *Bank) Set(reg Reg, value uint32) {
	view := regViews[reg]
	mask := view.mask()
	slot := &bank.Slot[view.slot]
	*slot = (*slot &^ (mask << view.shift)) | ((value & mask) << view.shift)
}

// Mask returns the bit mask of the register's width.
func (bank *Bank) Mask(reg Reg) uint32 {
	return regViews[reg].mask()
}

// Flag returns true if all bits of flag are set in EFLAGS.
func (bank *Bank) Flag(flag uint32) bool {
	return bank.Slot[REG_EFLAGS]&flag == flag
}

// SetFlag sets or clears flag bits in EFLAGS.
func (bank *Bank) SetFlag(flag uint32, on bool) {
	if on {
		bank.Slot[REG_EFLAGS] |= flag
	} else {
		bank.Slot[REG_EFLAGS] &^= flag
	}
}

// Reset clears all registers, and sets the reserved EFLAGS bit.
func (bank *Bank) Reset() {
	clear(bank.Slot[:])
	bank.Slot[REG_EFLAGS] = FLAGS_RESET
}
