// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Exception vectors.
const (
	VECTOR_DIVIDE_ERROR       = uint8(0)  // #DE
	VECTOR_DEBUG              = uint8(1)  // #DB
	VECTOR_NMI                = uint8(2)  // NMI
	VECTOR_BREAKPOINT         = uint8(3)  // #BP
	VECTOR_OVERFLOW           = uint8(4)  // #OF
	VECTOR_BOUND              = uint8(5)  // #BR
	VECTOR_INVALID_OPCODE     = uint8(6)  // #UD
	VECTOR_DEVICE_UNAVAILABLE = uint8(7)  // #NM
	VECTOR_DOUBLE_FAULT       = uint8(8)  // #DF
	VECTOR_STACK_FAULT        = uint8(12) // #SS
	VECTOR_GENERAL_PROTECTION = uint8(13) // #GP
)

const (
	IVT_BASE       = uint32(0x0000) // Real-mode interrupt vector table.
	IVT_ENTRY_SIZE = 4              // Offset word, then segment word.
)

var vectorNames = map[uint8]string{
	VECTOR_DIVIDE_ERROR:       "#DE",
	VECTOR_DEBUG:              "#DB",
	VECTOR_NMI:                "NMI",
	VECTOR_BREAKPOINT:         "#BP",
	VECTOR_OVERFLOW:           "#OF",
	VECTOR_BOUND:              "#BR",
	VECTOR_INVALID_OPCODE:     "#UD",
	VECTOR_DEVICE_UNAVAILABLE: "#NM",
	VECTOR_DOUBLE_FAULT:       "#DF",
	VECTOR_STACK_FAULT:        "#SS",
	VECTOR_GENERAL_PROTECTION: "#GP",
}

// VectorName returns the mnemonic of an exception vector.
func VectorName(vector uint8) string {
	name, ok := vectorNames[vector]
	if !ok {
		name = f("int 0x%02x", vector)
	}
	return name
}

// ExceptionKind selects the return address pushed for an exception. A
// fault returns to the faulting instruction, and a trap to the one after it.
type ExceptionKind int

//go:generate go tool stringer -linecomment -type=ExceptionKind
const (
	KIND_FAULT = ExceptionKind(0) // fault
	KIND_TRAP  = ExceptionKind(1) // trap
)

// Exception is a CPU exception event. It is an error only within the
// executor; it is delivered through Dispatch and never returned to the host.
type Exception struct {
	Vector  uint8         // Interrupt vector.
	Kind    ExceptionKind // Fault or trap.
	CS      uint16        // Code segment of Address.
	Address uint32        // Return offset pushed on the stack.
}

func (exc *Exception) Error() string {
	return f("%v at %04x:%04x", VectorName(exc.Vector), exc.CS, exc.Address)
}

// fault creates a fault at the instruction being executed.
func fault(vector uint8, cs uint16, hdr Header) *Exception {
	return &Exception{Vector: vector, Kind: KIND_FAULT, CS: cs, Address: hdr.Address}
}

// Dispatch delivers an exception through the interrupt vector table.
//
// The FLAGS, CS and return offset are pushed, in that order, at the width of
// the stack segment's mode; IF and TF are cleared; CS:EIP is loaded from the
// vector's table entry. Delivery is all-or-nothing: a fault while building
// the frame is promoted to a double fault, and a fault delivering a double
// fault is ErrTripleFault. The exception hook is called once control has
// been transferred.
func (cpu *Cpu) Dispatch(exc Exception) (err error) {
	delivered := exc
	for {
		var nested *Exception
		nested, err = cpu.deliver(delivered)
		if err != nil {
			return
		}
		if nested == nil {
			break
		}
		if delivered.Vector == VECTOR_DOUBLE_FAULT {
			err = errors.Join(ErrTripleFault, nested)
			return
		}
		delivered = Exception{
			Vector:  VECTOR_DOUBLE_FAULT,
			Kind:    KIND_FAULT,
			CS:      exc.CS,
			Address: exc.Address,
		}
	}

	if cpu.Verbose {
		cpu.log().WithFields(logrus.Fields{
			"vector": VectorName(delivered.Vector),
			"kind":   delivered.Kind,
			"return": f("%04x:%04x", delivered.CS, delivered.Address),
			"target": f("%04x:%04x", cpu.Segs[SEG_CS].Selector, cpu.Regs.Get(REG_EIP)),
		}).Debug("exception")
	}

	if cpu.OnException != nil {
		cpu.OnException(delivered)
	}

	return
}

// deliver builds the exception frame on a copy of the state, and commits
// it only if no nested exception occurred.
func (cpu *Cpu) deliver(exc Exception) (nested *Exception, err error) {
	next := cpu.State
	jn := cpu.journal()
	defer jn.Discard()

	stack := Stack{State: &next, Bus: jn}
	width := stack.Width()

	flags := next.Regs.Get(REG_EFLAGS)
	if width == 2 {
		flags &= 0xffff
	}
	for _, value := range []uint32{flags, uint32(exc.CS), exc.Address} {
		err = stack.Push(width, value)
		if err != nil {
			break
		}
	}
	if errors.Is(err, ErrSegmentLimit) {
		nested = &Exception{Vector: VECTOR_STACK_FAULT, Kind: KIND_FAULT, CS: exc.CS, Address: exc.Address}
		err = nil
		return
	}
	if err != nil {
		return
	}

	next.Regs.SetFlag(FLAG_IF|FLAG_TF, false)

	entry := IVT_BASE + uint32(exc.Vector)*IVT_ENTRY_SIZE
	offset, err := jn.Read(entry, 2)
	if err != nil {
		return
	}
	selector, err := jn.Read(entry+2, 2)
	if err != nil {
		return
	}

	next.Segs[SEG_CS].Load(uint16(selector))
	next.Regs.Set(REG_EIP, offset)

	cpu.State = next
	jn.Commit()

	return
}
