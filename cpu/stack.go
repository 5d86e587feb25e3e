// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"github.com/ezrec/x86emu/memory"
)

// Stack operates the SS:(E)SP stack of a state.
//
// Stack accesses are limit checked against SS; violations are returned as
// ErrSegmentLimit for the caller to raise as a stack fault.
type Stack struct {
	State *State
	Bus   memory.Bus
}

// Width is the push width of the stack segment's mode, in bytes.
func (s Stack) Width() int {
	return s.State.Segs[SEG_SS].Size()
}

// Pointer returns the stack pointer register in use.
func (s Stack) Pointer() Reg {
	if s.State.Segs[SEG_SS].Is32 {
		return REG_ESP
	}
	return REG_SP
}

// Push pushes size bytes of value.
func (s Stack) Push(size int, value uint32) (err error) {
	sp := s.Pointer()
	top := (s.State.Regs.Get(sp) - uint32(size)) & s.State.Regs.Mask(sp)

	err = s.State.Segs[SEG_SS].Write(s.Bus, top, size, value)
	if err != nil {
		return
	}

	s.State.Regs.Set(sp, top)
	return
}

// Peek returns the size byte value at the top of the stack.
func (s Stack) Peek(size int) (value uint32, err error) {
	top := s.State.Regs.Get(s.Pointer())

	value, err = s.State.Segs[SEG_SS].Read(s.Bus, top, size)
	return
}

// Pop removes and returns the size byte value at the top of the stack.
func (s Stack) Pop(size int) (value uint32, err error) {
	value, err = s.Peek(size)
	if err != nil {
		return
	}

	sp := s.Pointer()
	s.State.Regs.Set(sp, s.State.Regs.Get(sp)+uint32(size))
	return
}
