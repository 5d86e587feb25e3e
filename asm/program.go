package asm

import (
	"iter"
)

// Opcode is a single assembled source line.
type Opcode struct {
	LineNo int      // Line number of the source text.
	Ip     uint32   // Code segment offset of the first byte.
	Words  []string // Source words, after equate and expression expansion.
	Bytes  []byte   // Encoded bytes.
	Links  []Link   // Label references patched once all labels are known.
}

// Link is a label reference inside an opcode's bytes.
type Link struct {
	Label    string // Label name.
	Offset   int    // Offset of the field within the opcode bytes.
	Size     int    // Field size, in bytes.
	Relative bool   // Relative to the end of the opcode, instead of absolute.
}

// Program is the output of the assembler.
type Program struct {
	Origin  uint32   // Offset of the first byte of the program.
	Bits    int      // Code size at the start of the program: 16 or 32.
	Opcodes []Opcode // Opcodes, in address order.
}

// Debug locates a byte of a program.
type Debug struct {
	*Opcode
	Index int // Index of the byte within the opcode.
}

// Debug returns the opcode covering ip, or a Debug with a nil Opcode.
func (prog *Program) Debug(ip uint32) (dbg Debug) {
	for n, op := range prog.Opcodes {
		if ip >= op.Ip && ip < op.Ip+uint32(len(op.Bytes)) {
			dbg = Debug{
				Opcode: &prog.Opcodes[n],
				Index:  int(ip - op.Ip),
			}
			break
		}
	}

	return
}

// LineNo returns the source line of the opcode covering ip, or 0.
func (prog *Program) LineNo(ip uint32) int {
	dbg := prog.Debug(ip)
	if dbg.Opcode == nil {
		return 0
	}
	return dbg.LineNo
}

// End returns the offset after the last byte of the program.
func (prog *Program) End() (end uint32) {
	end = prog.Origin
	for _, op := range prog.Opcodes {
		end = max(end, op.Ip+uint32(len(op.Bytes)))
	}
	return
}

// Binary returns the flat image from Origin to End. Gaps left by org
// directives are zero filled.
func (prog *Program) Binary() (bin []byte) {
	bin = make([]byte, prog.End()-prog.Origin)
	for ip, b := range prog.Bytes() {
		bin[ip-prog.Origin] = b
	}

	return
}

// Bytes yields every assembled byte with its offset.
func (prog *Program) Bytes() iter.Seq2[uint32, byte] {
	return func(yield func(ip uint32, b byte) bool) {
		for _, op := range prog.Opcodes {
			for n, b := range op.Bytes {
				if !yield(op.Ip+uint32(n), b) {
					return
				}
			}
		}
	}
}
