// Package cpu implements the instruction execution engine of a real-mode
// x86 processor.
//
// The CPU state is a register bank (eight general purpose registers, the
// instruction pointer and the flags, with their 16-bit and 8-bit views), and
// six segment registers, each with its own 16-bit or 32-bit addressing mode.
// Instructions are decoded from CS:EIP into a closed set of instruction
// types, then executed against a copy of the state so that a faulting
// instruction leaves no trace. CPU exceptions (divide error and friends) are
// delivered through the real-mode interrupt vector table, never returned to
// the host as Go errors.
package cpu
