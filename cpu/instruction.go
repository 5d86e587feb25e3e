// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"fmt"
	"strings"
)

// Instruction is a decoded instruction. The set of implementations is
// closed; see the types below.
type Instruction interface {
	fmt.Stringer
	// Head returns the prefix and length information common to all
	// instructions.
	Head() Header
	instruction()
}

// Header holds the decode context of an instruction.
type Header struct {
	Address  uint32 // CS offset of the first byte (including prefixes).
	Length   int    // Encoded length, in bytes.
	OpSize   int    // Effective operand size, in bytes (2 or 4).
	AddrSize int    // Effective address size, in bytes (2 or 4).
	Seg      SegReg // Segment override, or SEG_COUNT if none.
}

func (hdr Header) Head() Header { return hdr }

func (hdr Header) instruction() {}

// Next returns the offset of the following instruction, wrapped to the
// address size of a code segment in the given mode.
func (hdr Header) Next(is32 bool) uint32 {
	next := hdr.Address + uint32(hdr.Length)
	if !is32 {
		next &= 0xffff
	}
	return next
}

// Address is a memory operand, before effective address calculation.
type Address struct {
	Base  Reg    // Base register, or REG_NONE.
	Index Reg    // Index register, or REG_NONE.
	Scale uint8  // Index scale (1, 2, 4 or 8).
	Disp  uint32 // Sign extended displacement.
	Seg   SegReg // Segment, after default and override resolution.
}

func (addr Address) String() string {
	var parts []string
	if addr.Base != REG_NONE {
		parts = append(parts, addr.Base.String())
	}
	if addr.Index != REG_NONE {
		if addr.Scale > 1 {
			parts = append(parts, fmt.Sprintf("%v*%d", addr.Index, addr.Scale))
		} else {
			parts = append(parts, addr.Index.String())
		}
	}
	if addr.Disp != 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("0x%x", addr.Disp))
	}
	return fmt.Sprintf("%v:[%v]", addr.Seg, strings.Join(parts, "+"))
}

// Operand is a ModR/M r/m operand: a register or a memory reference.
type Operand struct {
	IsMem bool
	Reg   Reg
	Mem   Address
}

func (op Operand) String() string {
	if op.IsMem {
		return op.Mem.String()
	}
	return op.Reg.String()
}

// Aam is ASCII adjust AX after multiply: AH = AL / Base, AL = AL % Base.
type Aam struct {
	Header
	Base uint8
}

func (ins Aam) String() string {
	if ins.Base == 10 {
		return "aam"
	}
	return fmt.Sprintf("aam 0x%x", ins.Base)
}

// Aad is ASCII adjust AX before division: AL = AL + AH * Base, AH = 0.
type Aad struct {
	Header
	Base uint8
}

func (ins Aad) String() string {
	if ins.Base == 10 {
		return "aad"
	}
	return fmt.Sprintf("aad 0x%x", ins.Base)
}

// Div is an unsigned (DIV) or signed (IDIV) divide of the accumulator.
type Div struct {
	Header
	Signed bool
	Width  int // Divisor size, in bytes.
	Src    Operand
}

func (ins Div) String() string {
	name := "div"
	if ins.Signed {
		name = "idiv"
	}
	return fmt.Sprintf("%v %v %v", name, sizeName(ins.Width), ins.Src)
}

// MovImm loads an immediate into a register.
type MovImm struct {
	Header
	Dst Reg
	Imm uint32
}

func (ins MovImm) String() string {
	return fmt.Sprintf("mov %v, 0x%x", ins.Dst, ins.Imm)
}

// MovSeg loads a segment register from a 16-bit operand.
type MovSeg struct {
	Header
	Dst SegReg
	Src Operand
}

func (ins MovSeg) String() string {
	return fmt.Sprintf("mov %v, %v", ins.Dst, ins.Src)
}

// Push pushes a general purpose register.
type Push struct {
	Header
	Src Reg
}

func (ins Push) String() string {
	return fmt.Sprintf("push %v", ins.Src)
}

// Pop pops into a general purpose register.
type Pop struct {
	Header
	Dst Reg
}

func (ins Pop) String() string {
	return fmt.Sprintf("pop %v", ins.Dst)
}

// Jmp is a relative jump.
type Jmp struct {
	Header
	Rel int32
}

func (ins Jmp) String() string {
	return fmt.Sprintf("jmp %+d", ins.Rel)
}

// Int is a software interrupt: INT n, INT3 or INTO.
type Int struct {
	Header
	Vector   uint8
	Overflow bool // INTO: only taken when OF is set.
}

func (ins Int) String() string {
	switch {
	case ins.Overflow:
		return "into"
	case ins.Length == 1 && ins.Vector == VECTOR_BREAKPOINT:
		return "int3"
	}
	return fmt.Sprintf("int 0x%02x", ins.Vector)
}

// Iret returns from an interrupt handler.
type Iret struct {
	Header
}

func (ins Iret) String() string {
	return "iret"
}

// FlagOp sets or clears a single flag: CLC, STC, CLI, STI, CLD, STD.
type FlagOp struct {
	Header
	Flag  uint32
	Value bool
}

var flagOpNames = map[uint32]string{
	FLAG_CF: "c",
	FLAG_IF: "i",
	FLAG_DF: "d",
}

func (ins FlagOp) String() string {
	op := "cl"
	if ins.Value {
		op = "st"
	}
	return op + flagOpNames[ins.Flag]
}

// Nop does nothing.
type Nop struct {
	Header
}

func (ins Nop) String() string {
	return "nop"
}

// Hlt stops the processor until the next run.
type Hlt struct {
	Header
}

func (ins Hlt) String() string {
	return "hlt"
}

func sizeName(size int) string {
	switch size {
	case 1:
		return "byte"
	case 2:
		return "word"
	default:
		return "dword"
	}
}
