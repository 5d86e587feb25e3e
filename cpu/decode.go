// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

const MAX_INSTRUCTION_LENGTH = 15

// Fetcher provides the bytes of the code segment.
type Fetcher interface {
	// Fetch returns the byte at a code segment offset.
	Fetch(offset uint32) (value uint8, err error)
}

// decoder is the cursor of a single instruction decode.
type decoder struct {
	fetch Fetcher
	is32  bool
	hdr   Header
	pos   uint32
	bytes []byte
}

// Decode decodes the instruction at offset ip of a code segment whose
// default operand size is 32-bit when is32 is set. Decode has no side
// effects; the same bytes and mode always decode the same way.
func Decode(fetch Fetcher, ip uint32, is32 bool) (ins Instruction, err error) {
	dc := &decoder{
		fetch: fetch,
		is32:  is32,
		pos:   ip,
	}
	ins, err = dc.decode(ip)
	if err != nil {
		ins = nil
		err = &ErrDecode{Address: ip, Bytes: dc.bytes, Err: err}
	}
	return
}

// DecodeBytes decodes an instruction from a byte slice placed at offset ip.
func DecodeBytes(code []byte, ip uint32, is32 bool) (ins Instruction, err error) {
	return Decode(byteFetcher{base: ip, code: code}, ip, is32)
}

type byteFetcher struct {
	base uint32
	code []byte
}

func (bf byteFetcher) Fetch(offset uint32) (value uint8, err error) {
	index := offset - bf.base
	if index >= uint32(len(bf.code)) {
		err = ErrSegmentLimit
		return
	}
	value = bf.code[index]
	return
}

func (dc *decoder) next8() (value uint8, err error) {
	if len(dc.bytes) >= MAX_INSTRUCTION_LENGTH {
		err = ErrDecodeLength
		return
	}

	offset := dc.pos
	if !dc.is32 {
		offset &= 0xffff
	}
	value, err = dc.fetch.Fetch(offset)
	if err != nil {
		return
	}
	dc.pos++
	dc.bytes = append(dc.bytes, value)
	return
}

func (dc *decoder) next16() (value uint16, err error) {
	lo, err := dc.next8()
	if err != nil {
		return
	}
	hi, err := dc.next8()
	if err != nil {
		return
	}
	value = uint16(lo) | uint16(hi)<<8
	return
}

func (dc *decoder) next32() (value uint32, err error) {
	lo, err := dc.next16()
	if err != nil {
		return
	}
	hi, err := dc.next16()
	if err != nil {
		return
	}
	value = uint32(lo) | uint32(hi)<<16
	return
}

// nextImm fetches an immediate of size bytes, zero extended.
func (dc *decoder) nextImm(size int) (value uint32, err error) {
	switch size {
	case 1:
		var v8 uint8
		v8, err = dc.next8()
		value = uint32(v8)
	case 2:
		var v16 uint16
		v16, err = dc.next16()
		value = uint32(v16)
	default:
		value, err = dc.next32()
	}
	return
}

// header finalizes the decode context.
func (dc *decoder) header() Header {
	hdr := dc.hdr
	hdr.Length = len(dc.bytes)
	return hdr
}

var segPrefix = map[uint8]SegReg{
	0x26: SEG_ES,
	0x2e: SEG_CS,
	0x36: SEG_SS,
	0x3e: SEG_DS,
	0x64: SEG_FS,
	0x65: SEG_GS,
}

func (dc *decoder) decode(ip uint32) (ins Instruction, err error) {
	defaultSize := 2
	if dc.is32 {
		defaultSize = 4
	}
	dc.hdr = Header{
		Address:  ip,
		OpSize:   defaultSize,
		AddrSize: defaultSize,
		Seg:      SEG_COUNT,
	}

	var opcode uint8
	for {
		opcode, err = dc.next8()
		if err != nil {
			return
		}
		if seg, ok := segPrefix[opcode]; ok {
			dc.hdr.Seg = seg
			continue
		}
		switch opcode {
		case 0x66:
			// Operand size override flips only this instruction.
			dc.hdr.OpSize = 6 - defaultSize
			continue
		case 0x67:
			dc.hdr.AddrSize = 6 - defaultSize
			continue
		case 0xf2, 0xf3:
			// REP prefixes do not apply to the supported set.
			continue
		}
		break
	}

	switch {
	case opcode >= 0x50 && opcode <= 0x57:
		ins = Push{Header: dc.header(), Src: RegByIndex(dc.hdr.OpSize, opcode)}
	case opcode >= 0x58 && opcode <= 0x5f:
		ins = Pop{Header: dc.header(), Dst: RegByIndex(dc.hdr.OpSize, opcode)}
	case opcode >= 0xb0 && opcode <= 0xb7:
		var imm uint32
		imm, err = dc.nextImm(1)
		if err != nil {
			return
		}
		ins = MovImm{Header: dc.header(), Dst: RegByIndex(1, opcode), Imm: imm}
	case opcode >= 0xb8 && opcode <= 0xbf:
		var imm uint32
		imm, err = dc.nextImm(dc.hdr.OpSize)
		if err != nil {
			return
		}
		ins = MovImm{Header: dc.header(), Dst: RegByIndex(dc.hdr.OpSize, opcode), Imm: imm}
	case opcode == 0x8e:
		var reg uint8
		var src Operand
		reg, src, err = dc.modrm(2)
		if err != nil {
			return
		}
		ins = MovSeg{Header: dc.header(), Dst: SegReg(reg), Src: src}
	case opcode == 0x90:
		ins = Nop{Header: dc.header()}
	case opcode == 0xcc:
		ins = Int{Header: dc.header(), Vector: VECTOR_BREAKPOINT}
	case opcode == 0xcd:
		var vector uint8
		vector, err = dc.next8()
		if err != nil {
			return
		}
		ins = Int{Header: dc.header(), Vector: vector}
	case opcode == 0xce:
		ins = Int{Header: dc.header(), Vector: VECTOR_OVERFLOW, Overflow: true}
	case opcode == 0xcf:
		ins = Iret{Header: dc.header()}
	case opcode == 0xd4, opcode == 0xd5:
		var base uint8
		base, err = dc.next8()
		if err != nil {
			return
		}
		if opcode == 0xd4 {
			ins = Aam{Header: dc.header(), Base: base}
		} else {
			ins = Aad{Header: dc.header(), Base: base}
		}
	case opcode == 0xe9:
		var rel uint32
		rel, err = dc.nextImm(dc.hdr.OpSize)
		if err != nil {
			return
		}
		if dc.hdr.OpSize == 2 {
			rel = uint32(int32(int16(rel)))
		}
		ins = Jmp{Header: dc.header(), Rel: int32(rel)}
	case opcode == 0xeb:
		var rel uint8
		rel, err = dc.next8()
		if err != nil {
			return
		}
		ins = Jmp{Header: dc.header(), Rel: int32(int8(rel))}
	case opcode == 0xf4:
		ins = Hlt{Header: dc.header()}
	case opcode == 0xf6, opcode == 0xf7:
		width := 1
		if opcode == 0xf7 {
			width = dc.hdr.OpSize
		}
		var reg uint8
		var src Operand
		reg, src, err = dc.modrm(width)
		if err != nil {
			return
		}
		switch reg {
		case 6:
			ins = Div{Header: dc.header(), Width: width, Src: src}
		case 7:
			ins = Div{Header: dc.header(), Signed: true, Width: width, Src: src}
		default:
			err = ErrOpcodeUnsupported
		}
	case opcode >= 0xf8 && opcode <= 0xfd:
		flag := [3]uint32{FLAG_CF, FLAG_IF, FLAG_DF}[(opcode-0xf8)/2]
		ins = FlagOp{Header: dc.header(), Flag: flag, Value: opcode&1 == 1}
	default:
		err = ErrOpcodeUnsupported
	}

	return
}

// modrm decodes a ModR/M byte (and any SIB and displacement), returning the
// reg field and the r/m operand for an operand of size bytes.
func (dc *decoder) modrm(size int) (reg uint8, op Operand, err error) {
	b, err := dc.next8()
	if err != nil {
		return
	}

	mod := b >> 6
	reg = (b >> 3) & 7
	rm := b & 7

	if mod == 3 {
		op = Operand{Reg: RegByIndex(size, rm)}
		return
	}

	var addr Address
	if dc.hdr.AddrSize == 2 {
		addr, err = dc.modrm16(mod, rm)
	} else {
		addr, err = dc.modrm32(mod, rm)
	}
	if err != nil {
		return
	}

	if dc.hdr.Seg != SEG_COUNT {
		addr.Seg = dc.hdr.Seg
	}

	op = Operand{IsMem: true, Reg: REG_NONE, Mem: addr}
	return
}

var modrm16Table = [8]struct {
	base, index Reg
}{
	{REG_BX, REG_SI},
	{REG_BX, REG_DI},
	{REG_BP, REG_SI},
	{REG_BP, REG_DI},
	{REG_SI, REG_NONE},
	{REG_DI, REG_NONE},
	{REG_BP, REG_NONE},
	{REG_BX, REG_NONE},
}

func (dc *decoder) disp(mod uint8, wide int) (disp uint32, err error) {
	switch mod {
	case 1:
		var d8 uint8
		d8, err = dc.next8()
		disp = uint32(int32(int8(d8)))
	case 2:
		disp, err = dc.nextImm(wide)
		if wide == 2 {
			disp = uint32(int32(int16(disp)))
		}
	}
	return
}

func (dc *decoder) modrm16(mod, rm uint8) (addr Address, err error) {
	entry := modrm16Table[rm]
	addr = Address{Base: entry.base, Index: entry.index, Scale: 1, Seg: SEG_DS}

	if mod == 0 && rm == 6 {
		addr.Base = REG_NONE
		addr.Disp, err = dc.nextImm(2)
		return
	}

	if addr.Base == REG_BP {
		addr.Seg = SEG_SS
	}

	addr.Disp, err = dc.disp(mod, 2)
	return
}

func (dc *decoder) modrm32(mod, rm uint8) (addr Address, err error) {
	addr = Address{Base: RegByIndex(4, rm), Index: REG_NONE, Scale: 1, Seg: SEG_DS}

	switch {
	case rm == 4:
		var sib uint8
		sib, err = dc.next8()
		if err != nil {
			return
		}
		addr.Scale = 1 << (sib >> 6)
		index := (sib >> 3) & 7
		if index != 4 {
			addr.Index = RegByIndex(4, index)
		}
		base := sib & 7
		if base == 5 && mod == 0 {
			addr.Base = REG_NONE
			addr.Disp, err = dc.nextImm(4)
			return
		}
		addr.Base = RegByIndex(4, base)
	case rm == 5 && mod == 0:
		addr.Base = REG_NONE
		addr.Disp, err = dc.nextImm(4)
		return
	}

	if addr.Base == REG_ESP || addr.Base == REG_EBP {
		addr.Seg = SEG_SS
	}

	addr.Disp, err = dc.disp(mod, 4)
	return
}
