package asm

import (
	"regexp"
	"strings"

	"github.com/ezrec/x86emu/cpu"
)

// operandKind is the syntactic class of an operand.
type operandKind int

const (
	OPERAND_REG = operandKind(iota)
	OPERAND_SREG
	OPERAND_IMM
	OPERAND_LABEL
	OPERAND_MEM
)

// memRef is a memory operand.
type memRef struct {
	Seg      cpu.SegReg // Override, or cpu.SEG_COUNT if none.
	Base     cpu.Reg    // Base register, or cpu.REG_NONE.
	Index    cpu.Reg    // Index register, or cpu.REG_NONE.
	Scale    uint8      // Index scale.
	Disp     int64      // Displacement.
	AddrSize int        // Address size in bytes, or 0 if displacement only.
}

// operand is a parsed instruction operand.
type operand struct {
	Kind  operandKind
	Reg   cpu.Reg
	Sreg  cpu.SegReg
	Imm   uint32
	Label string
	Size  int // Size in bytes, or 0 when implied.
	Short bool
	Mem   memRef
}

var sizeKeyword = map[string]int{
	"byte":  1,
	"word":  2,
	"dword": 4,
}

var labelRe = regexp.MustCompile(`^[A-Za-z_.][A-Za-z0-9_.]*$`)

// regIndex returns the encoding index and size of a general purpose
// register.
func regIndex(reg cpu.Reg) (index uint8, size int, ok bool) {
	switch {
	case reg >= cpu.REG_EAX && reg <= cpu.REG_EDI:
		return uint8(reg - cpu.REG_EAX), 4, true
	case reg >= cpu.REG_AX && reg <= cpu.REG_DI:
		return uint8(reg - cpu.REG_AX), 2, true
	case reg >= cpu.REG_AL && reg <= cpu.REG_BH:
		return uint8(reg - cpu.REG_AL), 1, true
	}
	return
}

// splitOperands groups the words after a mnemonic into operands. Operands
// are separated by commas; size keywords and 'short' attach to the
// following word.
func splitOperands(words []string) (groups [][]string) {
	line := strings.Join(words, " ")
	if strings.TrimSpace(line) == "" {
		return
	}
	for _, part := range strings.Split(line, ",") {
		groups = append(groups, strings.Fields(part))
	}
	return
}

// parseOperand parses a single operand.
func (as *Assembler) parseOperand(words []string) (op operand, err error) {
	if len(words) == 0 {
		err = ErrOpcodeValueMissing
		return
	}

	if size, ok := sizeKeyword[strings.ToLower(words[0])]; ok {
		op.Size = size
		words = words[1:]
	} else if strings.ToLower(words[0]) == "short" {
		op.Short = true
		words = words[1:]
	}

	if len(words) != 1 {
		err = ErrOperandInvalid
		return
	}
	word := words[0]

	if strings.HasPrefix(word, "[") {
		if !strings.HasSuffix(word, "]") {
			err = ErrOperandInvalid
			return
		}
		op.Kind = OPERAND_MEM
		op.Mem, err = as.parseMem(word[1 : len(word)-1])
		return
	}

	if op.Size != 0 {
		// Size keywords only qualify memory operands.
		err = ErrOperandInvalid
		return
	}

	if reg, rerr := cpu.ParseReg(word); rerr == nil {
		_, size, ok := regIndex(reg)
		if !ok {
			err = ErrOperandInvalid
			return
		}
		op.Kind = OPERAND_REG
		op.Reg = reg
		op.Size = size
		return
	}

	if sreg, serr := cpu.ParseSegReg(word); serr == nil {
		op.Kind = OPERAND_SREG
		op.Sreg = sreg
		op.Size = 2
		return
	}

	if value, ok := as.Label[word]; ok {
		op.Kind = OPERAND_IMM
		op.Imm = value
		return
	}

	value, verr := as.valueOf(word)
	if verr == nil {
		op.Kind = OPERAND_IMM
		op.Imm = value
		return
	}

	if labelRe.MatchString(word) {
		op.Kind = OPERAND_LABEL
		op.Label = word
		return
	}

	err = verr
	return
}

// parseMem parses the inside of a bracketed memory operand:
// [seg:]term{(+|-)term}, where a term is a register, register*scale, or a
// number.
func (as *Assembler) parseMem(text string) (mem memRef, err error) {
	mem = memRef{
		Seg:   cpu.SEG_COUNT,
		Base:  cpu.REG_NONE,
		Index: cpu.REG_NONE,
		Scale: 1,
	}

	text = strings.ReplaceAll(text, " ", "")
	if seg, rest, ok := strings.Cut(text, ":"); ok {
		mem.Seg, err = cpu.ParseSegReg(seg)
		if err != nil {
			return
		}
		text = rest
	}

	text = strings.ReplaceAll(text, "-", "+-")
	for _, term := range strings.Split(text, "+") {
		if term == "" {
			continue
		}

		name, scaleText, scaled := strings.Cut(term, "*")
		reg, rerr := cpu.ParseReg(name)
		if rerr != nil {
			if scaled {
				err = ErrOperandInvalid
				return
			}
			var value uint32
			value, err = as.valueOf(term)
			if err != nil {
				return
			}
			if term[0] == '-' {
				mem.Disp += int64(int32(value))
			} else {
				mem.Disp += int64(value)
			}
			continue
		}

		_, size, ok := regIndex(reg)
		if !ok || size == 1 || (mem.AddrSize != 0 && mem.AddrSize != size) {
			err = ErrOperandInvalid
			return
		}
		mem.AddrSize = size

		scale := uint32(1)
		if scaled {
			scale, err = as.valueOf(scaleText)
			if err != nil {
				return
			}
			if size != 4 || (scale != 1 && scale != 2 && scale != 4 && scale != 8) {
				err = ErrOperandInvalid
				return
			}
		}

		switch {
		case !scaled && mem.Base == cpu.REG_NONE:
			mem.Base = reg
		case mem.Index == cpu.REG_NONE:
			mem.Index = reg
			mem.Scale = uint8(scale)
		default:
			err = ErrOperandInvalid
			return
		}
	}

	return
}
