// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"errors"
	"math/bits"

	"github.com/ezrec/x86emu/memory"
)

// executor applies one instruction to a scratch copy of the CPU state.
type executor struct {
	state *State
	bus   memory.Bus
	hdr   Header
	cs    uint16 // CS selector the instruction was fetched through.
}

// Execute runs a decoded instruction.
//
// The instruction runs against a copy of the state and a journal over
// memory. If it completes, both are committed. If it raises a CPU exception,
// nothing is committed and the exception is returned for Dispatch. err is
// only set for host failures (such as linear addresses outside of memory).
func (cpu *Cpu) Execute(ins Instruction) (exc *Exception, halt bool, err error) {
	next := cpu.State
	jn := cpu.journal()
	defer jn.Discard()

	x := &executor{
		state: &next,
		bus:   jn,
		hdr:   ins.Head(),
		cs:    cpu.Segs[SEG_CS].Selector,
	}

	halt, err = x.execute(ins)
	if errors.As(err, &exc) {
		halt = false
		err = nil
		return
	}
	if err != nil {
		halt = false
		return
	}

	cpu.State = next
	jn.Commit()

	return
}

func (x *executor) execute(ins Instruction) (halt bool, err error) {
	regs := &x.state.Regs
	next := x.hdr.Next(x.state.Segs[SEG_CS].Is32)

	switch ins := ins.(type) {
	case Aam:
		err = x.aam(ins)
	case Aad:
		x.aad(ins)
	case Div:
		err = x.div(ins)
	case MovImm:
		regs.Set(ins.Dst, ins.Imm)
	case MovSeg:
		err = x.movSeg(ins)
	case Push:
		err = x.push(ins)
	case Pop:
		err = x.pop(ins)
	case Jmp:
		next = (next + uint32(ins.Rel)) & opMask(ins.OpSize)
	case Int:
		if ins.Overflow && !regs.Flag(FLAG_OF) {
			break
		}
		err = &Exception{Vector: ins.Vector, Kind: KIND_TRAP, CS: x.cs, Address: next}
	case Iret:
		next, err = x.iret(ins)
	case FlagOp:
		regs.SetFlag(ins.Flag, ins.Value)
	case Nop:
		// pass
	case Hlt:
		halt = true
	default:
		err = ErrOpcodeUnsupported
	}

	if err != nil {
		return
	}

	regs.Set(REG_EIP, next)
	return
}

func opMask(size int) uint32 {
	return ^uint32(0) >> (32 - 8*size)
}

// fault raises a fault at the executing instruction.
func (x *executor) fault(vector uint8) *Exception {
	return fault(vector, x.cs, x.hdr)
}

// segFault maps a segment limit violation to #SS or #GP.
func (x *executor) segFault(seg SegReg, err error) error {
	if errors.Is(err, ErrSegmentLimit) {
		if seg == SEG_SS {
			err = x.fault(VECTOR_STACK_FAULT)
		} else {
			err = x.fault(VECTOR_GENERAL_PROTECTION)
		}
	}
	return err
}

// ea computes the effective address of a memory operand.
func (x *executor) ea(addr Address) (ea uint32) {
	regs := &x.state.Regs
	if addr.Base != REG_NONE {
		ea += regs.Get(addr.Base)
	}
	if addr.Index != REG_NONE {
		ea += regs.Get(addr.Index) * uint32(addr.Scale)
	}
	ea += addr.Disp
	if x.hdr.AddrSize == 2 {
		ea &= 0xffff
	}
	return
}

// read returns the value of an r/m operand of size bytes.
func (x *executor) read(op Operand, size int) (value uint32, err error) {
	if !op.IsMem {
		value = x.state.Regs.Get(op.Reg)
		return
	}

	seg := x.state.Segs[op.Mem.Seg]
	value, err = seg.Read(x.bus, x.ea(op.Mem), size)
	err = x.segFault(op.Mem.Seg, err)
	return
}

func (x *executor) stack() Stack {
	return Stack{State: x.state, Bus: x.bus}
}

// setLogicFlags sets SF, ZF and PF from an 8-bit result, and clears OF, AF
// and CF.
func (x *executor) setLogicFlags(result uint8) {
	regs := &x.state.Regs
	regs.SetFlag(FLAG_OF|FLAG_AF|FLAG_CF, false)
	regs.SetFlag(FLAG_SF, result&0x80 != 0)
	regs.SetFlag(FLAG_ZF, result == 0)
	regs.SetFlag(FLAG_PF, bits.OnesCount8(result)%2 == 0)
}

func (x *executor) aam(ins Aam) (err error) {
	if ins.Base == 0 {
		err = x.fault(VECTOR_DIVIDE_ERROR)
		return
	}

	regs := &x.state.Regs
	al := uint8(regs.Get(REG_AL))
	regs.Set(REG_AH, uint32(al/ins.Base))
	regs.Set(REG_AL, uint32(al%ins.Base))
	x.setLogicFlags(al % ins.Base)

	return
}

func (x *executor) aad(ins Aad) {
	regs := &x.state.Regs
	al := uint8(regs.Get(REG_AL)) + uint8(regs.Get(REG_AH))*ins.Base
	regs.Set(REG_AX, uint32(al))
	x.setLogicFlags(al)
}

// signExtend interprets the low width bits of value as signed.
func signExtend(value uint64, width uint) int64 {
	shift := 64 - width
	return int64(value<<shift) >> shift
}

func (x *executor) div(ins Div) (err error) {
	divisor, err := x.read(ins.Src, ins.Width)
	if err != nil {
		return
	}
	if divisor == 0 {
		err = x.fault(VECTOR_DIVIDE_ERROR)
		return
	}

	regs := &x.state.Regs
	var dividend uint64
	var quotient, remainder Reg
	switch ins.Width {
	case 1:
		dividend = uint64(regs.Get(REG_AX))
		quotient, remainder = REG_AL, REG_AH
	case 2:
		dividend = uint64(regs.Get(REG_DX))<<16 | uint64(regs.Get(REG_AX))
		quotient, remainder = REG_AX, REG_DX
	default:
		dividend = uint64(regs.Get(REG_EDX))<<32 | uint64(regs.Get(REG_EAX))
		quotient, remainder = REG_EAX, REG_EDX
	}

	width := uint(ins.Width * 8)
	var q, r uint64
	if ins.Signed {
		sq := signExtend(dividend, 2*width) / signExtend(uint64(divisor), width)
		sr := signExtend(dividend, 2*width) % signExtend(uint64(divisor), width)
		limit := int64(1) << (width - 1)
		if sq < -limit || sq >= limit {
			err = x.fault(VECTOR_DIVIDE_ERROR)
			return
		}
		q, r = uint64(sq), uint64(sr)
	} else {
		q = dividend / uint64(divisor)
		r = dividend % uint64(divisor)
		if q>>width != 0 {
			err = x.fault(VECTOR_DIVIDE_ERROR)
			return
		}
	}

	regs.Set(quotient, uint32(q))
	regs.Set(remainder, uint32(r))

	return
}

func (x *executor) movSeg(ins MovSeg) (err error) {
	// CS and the reserved encodings 6 and 7 are not loadable.
	if ins.Dst == SEG_CS || ins.Dst >= SEG_COUNT {
		err = x.fault(VECTOR_INVALID_OPCODE)
		return
	}

	selector, err := x.read(ins.Src, 2)
	if err != nil {
		return
	}

	x.state.Segs[ins.Dst].Load(uint16(selector))
	return
}

func (x *executor) push(ins Push) (err error) {
	value := x.state.Regs.Get(ins.Src)
	err = x.stack().Push(ins.OpSize, value)
	err = x.segFault(SEG_SS, err)
	return
}

func (x *executor) pop(ins Pop) (err error) {
	value, err := x.stack().Pop(ins.OpSize)
	if err != nil {
		err = x.segFault(SEG_SS, err)
		return
	}

	x.state.Regs.Set(ins.Dst, value)
	return
}

// iret pops the return offset, CS and FLAGS at the stack width, and
// returns the new instruction pointer.
func (x *executor) iret(ins Iret) (next uint32, err error) {
	stack := x.stack()
	width := stack.Width()

	var frame [3]uint32
	for n := range frame {
		frame[n], err = stack.Pop(width)
		if err != nil {
			err = x.segFault(SEG_SS, err)
			return
		}
	}

	next = frame[0]
	x.state.Segs[SEG_CS].Load(uint16(frame[1]))
	if width == 2 {
		x.state.Regs.Set(REG_FLAGS, frame[2])
	} else {
		x.state.Regs.Set(REG_EFLAGS, frame[2])
	}

	return
}
