package asm

import (
	"github.com/ezrec/x86emu/cpu"
)

var segPrefix = [cpu.SEG_COUNT]byte{
	cpu.SEG_ES: 0x26,
	cpu.SEG_CS: 0x2e,
	cpu.SEG_SS: 0x36,
	cpu.SEG_DS: 0x3e,
	cpu.SEG_FS: 0x64,
	cpu.SEG_GS: 0x65,
}

// Mnemonics without operands.
var simpleMap = map[string]byte{
	"nop":  0x90,
	"hlt":  0xf4,
	"int3": 0xcc,
	"into": 0xce,
	"iret": 0xcf,
	"clc":  0xf8,
	"stc":  0xf9,
	"cli":  0xfa,
	"sti":  0xfb,
	"cld":  0xfc,
	"std":  0xfd,
}

// encoding accumulates the bytes of one opcode.
type encoding struct {
	bytes []byte
	links []Link
}

func (enc *encoding) emit(b ...byte) {
	enc.bytes = append(enc.bytes, b...)
}

// emitValue appends a little-endian field of size bytes.
func (enc *encoding) emitValue(value uint32, size int) {
	for n := range size {
		enc.bytes = append(enc.bytes, byte(value>>(8*n)))
	}
}

// emitLink appends a zeroed field to be patched with a label.
func (enc *encoding) emitLink(label string, size int, relative bool) {
	enc.links = append(enc.links, Link{
		Label:    label,
		Offset:   len(enc.bytes),
		Size:     size,
		Relative: relative,
	})
	enc.emitValue(0, size)
}

func (as *Assembler) defaultSize() int {
	return as.bits / 8
}

// opPrefix emits an operand size override when size differs from the code
// size.
func (as *Assembler) opPrefix(enc *encoding, size int) {
	if size != 1 && size != as.defaultSize() {
		enc.emit(0x66)
	}
}

func fitsSigned(value int64, size int) bool {
	limit := int64(1) << (8*size - 1)
	return value >= -limit && value < limit
}

func fitsUnsigned(value uint32, size int) bool {
	return size == 4 || value < uint32(1)<<(8*size)
}

// modrm16 maps a base/index pair to its 16-bit r/m encoding.
var modrm16 = map[[2]cpu.Reg]uint8{
	{cpu.REG_BX, cpu.REG_SI}:   0,
	{cpu.REG_BX, cpu.REG_DI}:   1,
	{cpu.REG_BP, cpu.REG_SI}:   2,
	{cpu.REG_BP, cpu.REG_DI}:   3,
	{cpu.REG_SI, cpu.REG_NONE}: 4,
	{cpu.REG_DI, cpu.REG_NONE}: 5,
	{cpu.REG_BP, cpu.REG_NONE}: 6,
	{cpu.REG_BX, cpu.REG_NONE}: 7,
}

// modrm emits the prefixes, ModR/M byte, SIB and displacement for an r/m
// operand. Prefixes must be emitted before the opcode, so they are
// returned separately.
func (as *Assembler) modrm(reg uint8, op operand) (prefix []byte, body []byte, err error) {
	if op.Kind == OPERAND_REG {
		index, _, _ := regIndex(op.Reg)
		body = []byte{0xc0 | reg<<3 | index}
		return
	}
	if op.Kind != OPERAND_MEM {
		err = ErrOperandInvalid
		return
	}

	mem := op.Mem
	addrSize := mem.AddrSize
	if addrSize == 0 {
		addrSize = as.defaultSize()
	}

	if mem.Seg != cpu.SEG_COUNT {
		prefix = append(prefix, segPrefix[mem.Seg])
	}
	if addrSize != as.defaultSize() {
		prefix = append(prefix, 0x67)
	}

	enc := &encoding{}
	if addrSize == 2 {
		err = as.modrm16(enc, reg, mem)
	} else {
		err = as.modrm32(enc, reg, mem)
	}
	body = enc.bytes

	return
}

func dispMod(disp int64, size int, forceDisp bool) (mod uint8, dispSize int) {
	switch {
	case disp == 0 && !forceDisp:
		return 0, 0
	case fitsSigned(disp, 1):
		return 1, 1
	default:
		return 2, size
	}
}

func (as *Assembler) modrm16(enc *encoding, reg uint8, mem memRef) (err error) {
	if mem.Disp < -0x8000 || mem.Disp > 0xffff {
		err = ErrRangeInvalid
		return
	}

	if mem.Base == cpu.REG_NONE && mem.Index == cpu.REG_NONE {
		enc.emit(0x06 | reg<<3)
		enc.emitValue(uint32(mem.Disp), 2)
		return
	}

	rm, ok := modrm16[[2]cpu.Reg{mem.Base, mem.Index}]
	if !ok {
		rm, ok = modrm16[[2]cpu.Reg{mem.Index, mem.Base}]
	}
	if !ok || mem.Scale != 1 {
		err = ErrOperandInvalid
		return
	}

	disp := mem.Disp
	if disp > 0x7fff {
		disp -= 0x10000
	}
	mod, size := dispMod(disp, 2, rm == 6)
	enc.emit(mod<<6 | reg<<3 | rm)
	enc.emitValue(uint32(disp), size)

	return
}

func (as *Assembler) modrm32(enc *encoding, reg uint8, mem memRef) (err error) {
	if mem.Disp < -0x80000000 || mem.Disp > 0xffffffff {
		err = ErrRangeInvalid
		return
	}
	disp := int64(int32(uint32(mem.Disp)))

	if mem.Base == cpu.REG_NONE && mem.Index == cpu.REG_NONE {
		enc.emit(0x05 | reg<<3)
		enc.emitValue(uint32(disp), 4)
		return
	}

	if mem.Index == cpu.REG_ESP {
		// ESP cannot be an index.
		if mem.Scale != 1 || mem.Base == cpu.REG_ESP {
			err = ErrOperandInvalid
			return
		}
		mem.Base, mem.Index = mem.Index, mem.Base
	}

	if mem.Base == cpu.REG_NONE {
		// Index only: SIB with no base, and a 32-bit displacement.
		index, _, _ := regIndex(mem.Index)
		enc.emit(0x04|reg<<3, scaleBits(mem.Scale)<<6|index<<3|0x05)
		enc.emitValue(uint32(disp), 4)
		return
	}

	base, _, _ := regIndex(mem.Base)
	mod, size := dispMod(disp, 4, mem.Base == cpu.REG_EBP)

	if mem.Index == cpu.REG_NONE && mem.Base != cpu.REG_ESP {
		enc.emit(mod<<6 | reg<<3 | base)
	} else {
		index := uint8(4)
		if mem.Index != cpu.REG_NONE {
			index, _, _ = regIndex(mem.Index)
		}
		enc.emit(mod<<6|reg<<3|0x04, scaleBits(mem.Scale)<<6|index<<3|base)
	}
	enc.emitValue(uint32(disp), size)

	return
}

func scaleBits(scale uint8) uint8 {
	switch scale {
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	}
	return 0
}

// encode assembles a mnemonic and its operands at the current offset.
func (as *Assembler) encode(mnemonic string, ops []operand) (enc *encoding, err error) {
	enc = &encoding{}

	if code, ok := simpleMap[mnemonic]; ok {
		if len(ops) != 0 {
			err = ErrOpcodeExtraArgs
			return
		}
		enc.emit(code)
		return
	}

	switch mnemonic {
	case "aam", "aad":
		base := uint32(10)
		if len(ops) > 1 {
			err = ErrOpcodeExtraArgs
			return
		}
		if len(ops) == 1 {
			if ops[0].Kind != OPERAND_IMM {
				err = ErrOperandInvalid
				return
			}
			base = ops[0].Imm
		}
		if !fitsUnsigned(base, 1) {
			err = ErrRangeInvalid
			return
		}
		code := byte(0xd4)
		if mnemonic == "aad" {
			code = 0xd5
		}
		enc.emit(code, byte(base))
	case "int":
		if len(ops) != 1 {
			err = ErrOpcodeValueMissing
			return
		}
		if ops[0].Kind != OPERAND_IMM {
			err = ErrOperandInvalid
			return
		}
		if !fitsUnsigned(ops[0].Imm, 1) {
			err = ErrRangeInvalid
			return
		}
		enc.emit(0xcd, byte(ops[0].Imm))
	case "push", "pop":
		if len(ops) != 1 {
			err = ErrOpcodeValueMissing
			return
		}
		index, size, ok := regIndex(ops[0].Reg)
		if ops[0].Kind != OPERAND_REG || !ok || size == 1 {
			err = ErrOperandInvalid
			return
		}
		as.opPrefix(enc, size)
		code := byte(0x50)
		if mnemonic == "pop" {
			code = 0x58
		}
		enc.emit(code + index)
	case "mov":
		err = as.encodeMov(enc, ops)
	case "div", "idiv":
		if len(ops) != 1 {
			err = ErrOpcodeValueMissing
			return
		}
		op := ops[0]
		if op.Kind != OPERAND_REG && op.Kind != OPERAND_MEM {
			err = ErrOperandInvalid
			return
		}
		if op.Size == 0 {
			err = ErrOperandSize
			return
		}
		ext := uint8(6)
		if mnemonic == "idiv" {
			ext = 7
		}
		var prefix, body []byte
		prefix, body, err = as.modrm(ext, op)
		if err != nil {
			return
		}
		enc.emit(prefix...)
		as.opPrefix(enc, op.Size)
		if op.Size == 1 {
			enc.emit(0xf6)
		} else {
			enc.emit(0xf7)
		}
		enc.emit(body...)
	case "jmp":
		err = as.encodeJmp(enc, ops)
	case "db", "dw", "dd":
		size := map[string]int{"db": 1, "dw": 2, "dd": 4}[mnemonic]
		if len(ops) == 0 {
			err = ErrOpcodeValueMissing
			return
		}
		for _, op := range ops {
			switch {
			case op.Kind == OPERAND_IMM:
				if !fitsUnsigned(op.Imm, size) && !fitsSigned(int64(int32(op.Imm)), size) {
					err = ErrRangeInvalid
					return
				}
				enc.emitValue(op.Imm, size)
			case op.Kind == OPERAND_LABEL && size > 1:
				enc.emitLink(op.Label, size, false)
			default:
				err = ErrOperandInvalid
				return
			}
		}
	default:
		err = ErrInstructionInvalid
	}

	return
}

func (as *Assembler) encodeMov(enc *encoding, ops []operand) (err error) {
	if len(ops) != 2 {
		err = ErrOpcodeValueMissing
		return
	}
	dst, src := ops[0], ops[1]

	switch dst.Kind {
	case OPERAND_SREG:
		if src.Kind == OPERAND_REG && src.Size != 2 {
			err = ErrOperandSize
			return
		}
		if src.Kind == OPERAND_MEM && src.Size != 0 && src.Size != 2 {
			err = ErrOperandSize
			return
		}
		var prefix, body []byte
		prefix, body, err = as.modrm(uint8(dst.Sreg), src)
		if err != nil {
			return
		}
		enc.emit(prefix...)
		enc.emit(0x8e)
		enc.emit(body...)
	case OPERAND_REG:
		index, size, _ := regIndex(dst.Reg)
		code := byte(0xb8)
		if size == 1 {
			code = 0xb0
		}
		switch src.Kind {
		case OPERAND_IMM:
			if !fitsUnsigned(src.Imm, size) && !fitsSigned(int64(int32(src.Imm)), size) {
				err = ErrRangeInvalid
				return
			}
			as.opPrefix(enc, size)
			enc.emit(code + index)
			enc.emitValue(src.Imm, size)
		case OPERAND_LABEL:
			if size == 1 {
				err = ErrOperandSize
				return
			}
			as.opPrefix(enc, size)
			enc.emit(code + index)
			enc.emitLink(src.Label, size, false)
		default:
			err = ErrOperandInvalid
		}
	default:
		err = ErrOperandInvalid
	}

	return
}

func (as *Assembler) encodeJmp(enc *encoding, ops []operand) (err error) {
	if len(ops) != 1 {
		err = ErrOpcodeValueMissing
		return
	}
	op := ops[0]

	size := as.defaultSize()
	code := byte(0xe9)
	if op.Short {
		size = 1
		code = 0xeb
	}

	switch op.Kind {
	case OPERAND_LABEL:
		enc.emit(code)
		enc.emitLink(op.Label, size, true)
	case OPERAND_IMM:
		end := as.ip + 1 + uint32(size)
		rel := int64(int32(op.Imm - end))
		if size == 2 {
			rel = int64(int16(op.Imm - end))
		}
		if !fitsSigned(rel, size) {
			err = ErrRangeInvalid
			return
		}
		enc.emit(code)
		enc.emitValue(uint32(rel), size)
	default:
		err = ErrOperandInvalid
	}

	return
}
