// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"errors"
	"fmt"
	"iter"
	"maps"

	"github.com/sirupsen/logrus"

	"github.com/ezrec/x86emu/memory"
)

var _cpu_defines = map[string]string{
	"DIVIDE_ERROR":       fmt.Sprintf("0x%x", VECTOR_DIVIDE_ERROR),
	"DEBUG":              fmt.Sprintf("0x%x", VECTOR_DEBUG),
	"NMI":                fmt.Sprintf("0x%x", VECTOR_NMI),
	"BREAKPOINT":         fmt.Sprintf("0x%x", VECTOR_BREAKPOINT),
	"OVERFLOW":           fmt.Sprintf("0x%x", VECTOR_OVERFLOW),
	"BOUND":              fmt.Sprintf("0x%x", VECTOR_BOUND),
	"INVALID_OPCODE":     fmt.Sprintf("0x%x", VECTOR_INVALID_OPCODE),
	"DEVICE_UNAVAILABLE": fmt.Sprintf("0x%x", VECTOR_DEVICE_UNAVAILABLE),
	"DOUBLE_FAULT":       fmt.Sprintf("0x%x", VECTOR_DOUBLE_FAULT),
	"STACK_FAULT":        fmt.Sprintf("0x%x", VECTOR_STACK_FAULT),
	"GENERAL_PROTECTION": fmt.Sprintf("0x%x", VECTOR_GENERAL_PROTECTION),
	"IVT_BASE":           fmt.Sprintf("0x%x", IVT_BASE),
	"IVT_ENTRY_SIZE":     fmt.Sprintf("%d", IVT_ENTRY_SIZE),
}

// State is the architectural register state. It is a plain value, so an
// instruction can run against a copy and be committed by assignment.
type State struct {
	Regs Bank
	Segs [SEG_COUNT]Segment
}

// Cpu is the simulation context of a real-mode x86 processor.
type Cpu struct {
	Verbose bool           // Set to enable verbose logging.
	Logger  *logrus.Logger // Logger for verbose output; nil for the standard logger.

	State

	Memory *memory.Memory // Physical memory.

	// OnException is called after an exception has been delivered, with
	// control already transferred to the handler.
	OnException func(exc Exception)

	Halted bool // Set by HLT.
	Ticks  int  // Instructions executed.

	jn *memory.Journal
}

// NewCpu creates a new CPU over a memory, in its reset state.
func NewCpu(mem *memory.Memory) (cpu *Cpu) {
	cpu = &Cpu{
		Memory: mem,
	}
	cpu.Reset()

	return
}

// Defines for the cpu
func (cpu *Cpu) Defines() iter.Seq2[string, string] {
	return maps.All(_cpu_defines)
}

func (cpu *Cpu) log() *logrus.Logger {
	if cpu.Logger != nil {
		return cpu.Logger
	}
	return logrus.StandardLogger()
}

func (cpu *Cpu) journal() *memory.Journal {
	if cpu.jn == nil {
		cpu.jn = memory.NewJournal(cpu.Memory)
	}
	return cpu.jn
}

// Reset the CPU state.
//   - Clears all general purpose registers, and EIP.
//   - Sets EFLAGS to its reset value.
//   - Loads all segments with selector 0, in 16-bit mode.
//   - Zeros statistics counters.
func (cpu *Cpu) Reset() {
	if cpu.Verbose {
		cpu.log().Debug("cpu: reset")
	}

	cpu.Regs.Reset()
	for n := range cpu.Segs {
		cpu.Segs[n].Load(0)
		cpu.Segs[n].Set32BitMode(false)
	}

	cpu.Halted = false
	cpu.Ticks = 0
}

// Registers returns the register bank.
func (cpu *Cpu) Registers() *Bank {
	return &cpu.Regs
}

// String returns the current CPU state as a string.
func (cpu *Cpu) String() (text string) {
	for reg := REG_EAX; reg <= REG_EFLAGS; reg++ {
		val := cpu.Regs.Get(reg)
		text += fmt.Sprintf("% 6s: %04X_%04X\n", reg, val>>16, val&0xffff)
	}
	for seg := SEG_ES; seg < SEG_COUNT; seg++ {
		s := cpu.Segs[seg]
		mode := "16"
		if s.Is32 {
			mode = "32"
		}
		text += fmt.Sprintf("% 6s: %04X base %08X limit %08X (%v)\n", seg, s.Selector, s.Base, s.Limit, mode)
	}

	return
}

// Fetch reads a byte of code through CS.
func (cpu *Cpu) Fetch(offset uint32) (value uint8, err error) {
	v, err := cpu.Segs[SEG_CS].Read(cpu.Memory, offset, 1)
	value = uint8(v)
	return
}

// Decode decodes the instruction at CS:EIP.
func (cpu *Cpu) Decode() (ins Instruction, err error) {
	cs := cpu.Segs[SEG_CS]
	ins, err = Decode(cpu, cpu.Regs.Get(REG_EIP), cs.Is32)

	var derr *ErrDecode
	if errors.As(err, &derr) {
		derr.CS = cs.Selector
	}

	return
}

// Tick executes a single instruction, and delivers any exception it raises.
//
// A fetch beyond the CS limit raises #GP. Errors returned are host failures:
// undecodable instructions, memory outside of physical range, or a triple
// fault.
func (cpu *Cpu) Tick() (err error) {
	ip := cpu.Regs.Get(REG_EIP)
	cs := cpu.Segs[SEG_CS].Selector

	ins, err := cpu.Decode()
	if errors.Is(err, ErrSegmentLimit) {
		cpu.Ticks++
		err = cpu.Dispatch(Exception{Vector: VECTOR_GENERAL_PROTECTION, Kind: KIND_FAULT, CS: cs, Address: ip})
		return
	}
	if err != nil {
		return
	}

	if cpu.Verbose {
		cpu.log().Debugf("%04x:%04x: %v", cs, ip, ins)
	}

	exc, halt, err := cpu.Execute(ins)
	if err != nil {
		return
	}

	cpu.Ticks++

	if exc != nil {
		err = cpu.Dispatch(*exc)
		return
	}

	cpu.Halted = halt

	return
}
