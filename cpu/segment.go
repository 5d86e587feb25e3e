// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"errors"
	"strings"

	"github.com/ezrec/x86emu/memory"
)

// SegReg names a segment register.
type SegReg int

// Order follows the segment register encoding.
const (
	SEG_ES = SegReg(iota)
	SEG_CS
	SEG_SS
	SEG_DS
	SEG_FS
	SEG_GS

	SEG_COUNT
)

var segNames = [SEG_COUNT]string{"es", "cs", "ss", "ds", "fs", "gs"}

// String returns the lower case segment register name.
func (seg SegReg) String() string {
	if seg < 0 || seg >= SEG_COUNT {
		return f("seg(%v)", int(seg))
	}
	return segNames[seg]
}

// ParseSegReg finds a segment register by its (case insensitive) name.
func ParseSegReg(name string) (seg SegReg, err error) {
	name = strings.ToLower(name)
	for n, segName := range segNames {
		if segName == name {
			seg = SegReg(n)
			return
		}
	}

	err = errors.Join(ErrSegmentInvalid, ErrRegisterName(name))
	return
}

const (
	LIMIT_16 = uint32(0xffff)
	LIMIT_32 = uint32(0xffffffff)
)

// Segment is the cached state of a segment register.
type Segment struct {
	Selector uint16 // Visible selector value.
	Base     uint32 // Linear base address.
	Limit    uint32 // Highest valid offset.
	Is32     bool   // 32-bit addressing and default operand size.
}

// Load sets the selector, with real-mode base semantics.
func (seg *Segment) Load(selector uint16) {
	seg.Selector = selector
	seg.Base = uint32(selector) << 4
}

// Set32BitMode selects 32-bit (or 16-bit) addressing and default operand
// size for all subsequent accesses through this segment.
func (seg *Segment) Set32BitMode(on bool) {
	seg.Is32 = on
	if on {
		seg.Limit = LIMIT_32
	} else {
		seg.Limit = LIMIT_16
	}
}

// AddressMask is the mask applied to effective addresses in this segment.
func (seg Segment) AddressMask() uint32 {
	if seg.Is32 {
		return 0xffffffff
	}
	return 0xffff
}

// Size is the default operand and stack slot size, in bytes.
func (seg Segment) Size() int {
	if seg.Is32 {
		return 4
	}
	return 2
}

// Check verifies that size bytes at offset lie within the segment limit.
func (seg Segment) Check(offset uint32, size int) (err error) {
	if uint64(offset)+uint64(size)-1 > uint64(seg.Limit) {
		err = ErrSegmentLimit
	}
	return
}

// Linear resolves an offset to a linear address.
func (seg Segment) Linear(offset uint32) uint32 {
	return seg.Base + offset
}

// Read performs a limit checked sized read at offset.
func (seg Segment) Read(bus memory.Bus, offset uint32, size int) (value uint32, err error) {
	err = seg.Check(offset, size)
	if err != nil {
		return
	}

	value, err = bus.Read(seg.Linear(offset), size)
	return
}

// Write performs a limit checked sized write at offset.
func (seg Segment) Write(bus memory.Bus, offset uint32, size int, value uint32) (err error) {
	err = seg.Check(offset, size)
	if err != nil {
		return
	}

	err = bus.Write(seg.Linear(offset), size, value)
	return
}

// SegmentView binds a segment register of a Cpu to its memory, for host
// side access.
type SegmentView struct {
	cpu *Cpu
	reg SegReg
}

// Segment returns the view of a segment register.
func (cpu *Cpu) Segment(reg SegReg) SegmentView {
	return SegmentView{cpu: cpu, reg: reg}
}

func (sv SegmentView) seg() *Segment {
	return &sv.cpu.Segs[sv.reg]
}

// Get returns the selector.
func (sv SegmentView) Get() uint16 {
	return sv.seg().Selector
}

// Set loads the selector.
func (sv SegmentView) Set(selector uint16) {
	sv.seg().Load(selector)
}

// Base returns the linear base address.
func (sv SegmentView) Base() uint32 {
	return sv.seg().Base
}

// Is32BitMode returns true when the segment uses 32-bit addressing.
func (sv SegmentView) Is32BitMode() bool {
	return sv.seg().Is32
}

// Set32BitMode toggles the segment addressing mode.
func (sv SegmentView) Set32BitMode(on bool) {
	sv.seg().Set32BitMode(on)
}

// ReadSegment reads size bytes at a segment relative offset.
func (sv SegmentView) ReadSegment(offset uint32, size int) (value uint32, err error) {
	return sv.seg().Read(sv.cpu.Memory, offset, size)
}

// WriteSegment writes size bytes at a segment relative offset.
func (sv SegmentView) WriteSegment(offset uint32, size int, value uint32) (err error) {
	return sv.seg().Write(sv.cpu.Memory, offset, size, value)
}
