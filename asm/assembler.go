// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package asm

import (
	"bufio"
	"io"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Macro represents a macro definition in the assembly language.
type Macro struct {
	LineNo int      // Line number of the macro definition.
	Args   []string // Arguments for the macro.
	Lines  []string // Lines of macro text to expand.
}

// Predefined system equates
var sysEquate = map[string]string{
	"LINENO": "0",
}

var (
	charRe  = regexp.MustCompile(`'\\?[^']'`)
	parenRe = regexp.MustCompile(`\$\([^\$]*\)`)
	bitsRe  = regexp.MustCompile(`(?i)^\[?\s*bits\s*(\d+)\s*\]?$`)
	memRe   = regexp.MustCompile(`\[[^\]]*\]`)
)

// Assembler is a single pass macro assembler for a subset of real-mode x86.
type Assembler struct {
	Verbose bool           // If set, verbosely logs the assembler actions.
	Logger  *logrus.Logger // Logger for verbose output; nil for the standard logger.
	Bits    int            // Code size at the start of the source: 16 (default) or 32.
	Opcode  []Opcode       // List of generated opcodes.

	predefine map[string]string   // Predefines
	Label     map[string]uint32   // Map of labels to code segment offsets.
	Equate    map[string]string   // Map of equates.
	Macro     map[string](*Macro) // Map of macros.

	ip   uint32 // Offset of the next opcode.
	org  uint32 // Origin of the program.
	bits int    // Current code size.
}

// Predefine defines a new equate or redefines an existing equate, for all
// subsequent calls to Parse.
func (as *Assembler) Predefine(equ string, value string) {
	if as.predefine == nil {
		as.predefine = map[string]string{equ: value}
	} else {
		as.predefine[equ] = value
	}
}

func (as *Assembler) log() *logrus.Logger {
	if as.Logger != nil {
		return as.Logger
	}
	return logrus.StandardLogger()
}

// valueOf returns the value of a simple word.
func (as *Assembler) valueOf(word string) (value uint32, err error) {
	if len(word) == 0 {
		err = ErrParseNumber(word)
		return
	}
	invert := false
	if word[0] == '~' {
		invert = true
		word = word[1:]
	}
	if len(word) > 0 && word[0] == '\'' {
		// Character quotes should have been expanded into
		// values in parseLine()
		err = ErrParseCharacter(strings.Trim(word, "'"))
		return
	}
	v64, err := strconv.ParseInt(word, 0, 34)
	if err != nil || v64 > 0xffffffff || v64 < -int64(0x80000000) {
		err = ErrParseNumber(word)
		return
	}

	value = uint32(v64)
	if invert {
		value = ^value
	}

	return
}

// parenEval does compile-time $(...) evaluations
func (as *Assembler) parenEval(expr string) (value uint32, err error) {
	thread := starlark.Thread{}
	opts := syntax.FileOptions{}
	pred := starlark.StringDict{}
	for key, str := range as.Equate {
		var value32 uint32
		value32, err = as.valueOf(str)
		if err != nil {
			// Ignore non-integer equates. They may be registers
			// or something else.
			continue
		}
		pred[key] = starlark.MakeInt(int(value32))
	}
	for key, ip := range as.Label {
		pred[key] = starlark.MakeInt(int(ip))
	}
	err = nil
	prog := "rc=" + expr + "\n"
	dict, err := starlark.ExecFileOptions(&opts, &thread, "expr", prog, pred)
	if err != nil {
		return
	}
	st_rc, ok := dict["rc"]
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	st_int, ok := st_rc.(starlark.Int)
	if !ok {
		err = ErrParseExpression(expr)
		return
	}
	st_int64, ok := st_int.Int64()
	if !ok || st_int64 > 0xffffffff || st_int64 < -int64(0x80000000) {
		err = ErrParseExpression(expr)
		return
	}
	value = uint32(st_int64)
	return
}

// parseLine expands a single line into words, handling equates, labels
// and macros.
func (as *Assembler) parseLine(line string, lineno int) (words []string, err error) {
	as.Equate["LINENO"] = strconv.Itoa(lineno)

	line = charRe.ReplaceAllStringFunc(line, charValue)

	line = parenRe.ReplaceAllStringFunc(line, func(str string) string {
		value, perr := as.parenEval(str[2 : len(str)-1])
		if perr != nil && err == nil {
			err = perr
		}
		return strconv.FormatUint(uint64(value), 10)
	})
	if err != nil {
		return
	}

	// Memory operands are single words.
	line = memRe.ReplaceAllStringFunc(line, func(str string) string {
		return strings.Join(strings.Fields(str), "")
	})

	words = strings.Fields(line)
	if len(words) == 0 {
		return
	}

	// .equ NAME VALUE
	if words[0] == ".equ" {
		if len(words) != 3 {
			err = ErrEquateSyntax
		} else if _, dup := as.Equate[words[1]]; dup {
			err = ErrEquateDuplicate
		} else {
			as.Equate[words[1]] = words[2]
		}
		words = nil
		return
	}

	// Equates substitute whole words; a trailing comma is kept.
	for n, word := range words {
		name, comma := strings.CutSuffix(word, ",")
		if value, ok := as.Equate[name]; ok {
			if comma {
				value += ","
			}
			words[n] = value
		}
	}

	for len(words) > 0 {
		label, ok := strings.CutSuffix(words[0], ":")
		if !ok {
			break
		}
		if _, dup := as.Label[label]; dup {
			err = ErrLabelDuplicate
			return
		}
		if !labelRe.MatchString(label) {
			err = ErrParseValue(label)
			return
		}
		as.Label[label] = as.ip
		words = words[1:]
	}
	if len(words) == 0 {
		return
	}

	if macro, ok := as.Macro[words[0]]; ok {
		err = as.expand(words[0], macro, splitOperands(words[1:]))
		words = nil
	}

	return
}

// charEscape maps the supported backslash escapes in 'c' literals.
var charEscape = map[string]byte{
	`\\`: '\\',
	`\n`: '\n',
	`\r`: '\r',
	`\e`: 0x1b,
	`\0`: 0,
}

// charValue replaces a quoted character with its decimal value. Unknown
// escapes are left alone, and are reported later by valueOf.
func charValue(quoted string) string {
	body := quoted[1 : len(quoted)-1]
	if len(body) == 1 {
		return strconv.Itoa(int(body[0]))
	}
	if ch, ok := charEscape[body]; ok {
		return strconv.Itoa(int(ch))
	}
	return quoted
}

// expand assembles the body of a macro, with its parameters bound as
// equates for the duration of the expansion.
func (as *Assembler) expand(name string, macro *Macro, args [][]string) (err error) {
	if len(args) != len(macro.Args) {
		err = ErrMacroSyntax
		return
	}

	saved := maps.Clone(as.Equate)
	defer func() { as.Equate = saved }()
	for n, param := range macro.Args {
		as.Equate[param] = strings.Join(args[n], " ")
	}

	for n, body := range macro.Lines {
		lineno := macro.LineNo + n
		body = strings.ReplaceAll(body, "@", name+"_"+strconv.Itoa(lineno)+"_")

		var words []string
		words, err = as.parseLine(body, lineno)
		if err == nil {
			err = as.parseWords(words, lineno)
		}
		if err != nil {
			err = &ErrSyntax{LineNo: lineno, Line: body, Err: &ErrMacro{Macro: name, Line: lineno, Err: err}}
			return
		}
	}

	return
}

// defineMacro starts a macro definition from a '.macro NAME arg...' line.
func (as *Assembler) defineMacro(words []string, lineno int) (macro *Macro, err error) {
	if len(words) < 2 {
		err = ErrMacroSyntax
		return
	}
	if _, dup := as.Macro[words[1]]; dup {
		err = ErrMacroDuplicate
		return
	}

	macro = &Macro{
		LineNo: lineno + 1,
		Args: strings.FieldsFunc(strings.Join(words[2:], " "), func(r rune) bool {
			return r == ' ' || r == ','
		}),
	}
	as.Macro[words[1]] = macro
	return
}

// Parse parses an input stream into a Program.
func (as *Assembler) Parse(input io.Reader) (prog *Program, err error) {
	scanner := bufio.NewScanner(input)

	var line string
	var lineno int
	var macro *Macro

	defer func() {
		if err != nil {
			err = &ErrSyntax{LineNo: lineno, Line: line, Err: err}
		}
	}()

	as.Label = map[string]uint32{}
	as.Opcode = as.Opcode[:0]
	as.Macro = map[string](*Macro){}
	as.Equate = maps.Clone(sysEquate)
	for attr, val := range as.predefine {
		as.Equate[attr] = val
	}

	as.bits = as.Bits
	if as.bits == 0 {
		as.bits = 16
	}
	as.ip = 0
	as.org = 0
	startBits := as.bits

	for scanner.Scan() {
		text := scanner.Text()
		lineno += 1

		if as.Verbose {
			as.log().Debugf("asm: %v: %v", lineno, text)
		}

		line, _, _ = strings.Cut(text, ";")
		line = strings.TrimSpace(line)
		words := strings.Fields(line)

		if len(words) > 0 && words[0] == ".macro" {
			if macro != nil {
				err = ErrMacroNesting
				return
			}
			macro, err = as.defineMacro(words, lineno)
			if err != nil {
				return
			}
			continue
		}

		if len(words) > 0 && words[0] == ".endm" {
			if macro == nil {
				err = ErrMacroLonelyEndm
				return
			}
			macro = nil
			continue
		}

		if macro != nil {
			macro.Lines = append(macro.Lines, line)
			continue
		}

		words, err = as.parseLine(line, lineno)
		if err != nil {
			return
		}

		err = as.parseWords(words, lineno)
		if err != nil {
			return
		}

		if len(as.Opcode) == 0 {
			startBits = as.bits
		}
	}

	err = scanner.Err()
	if err != nil {
		return
	}

	if macro != nil {
		err = ErrMacroLonely
		return
	}

	// Final linking of labels.
	for n := range as.Opcode {
		op := &as.Opcode[n]
		for _, link := range op.Links {
			err = as.link(op, link)
			if err != nil {
				lineno = op.LineNo
				line = strings.Join(op.Words, " ")
				return
			}
		}
	}

	prog = &Program{
		Origin:  as.org,
		Bits:    startBits,
		Opcodes: slices.Clone(as.Opcode),
	}

	return
}

// link patches a label reference.
func (as *Assembler) link(op *Opcode, link Link) (err error) {
	target, ok := as.Label[link.Label]
	if !ok {
		err = ErrLabelMissing(link.Label)
		return
	}

	value := target
	if link.Relative {
		value -= op.Ip + uint32(len(op.Bytes))
		if !fitsSigned(int64(int32(value)), link.Size) {
			err = ErrRangeInvalid
			return
		}
	} else if !fitsUnsigned(value, link.Size) {
		err = ErrRangeInvalid
		return
	}

	for n := range link.Size {
		op.Bytes[link.Offset+n] = byte(value >> (8 * n))
	}

	return
}

// directive handles org and bits. It returns true if words was a directive.
func (as *Assembler) directive(words []string) (ok bool, err error) {
	line := strings.Join(words, " ")
	if match := bitsRe.FindStringSubmatch(line); match != nil {
		ok = true
		switch match[1] {
		case "16":
			as.bits = 16
		case "32":
			as.bits = 32
		default:
			err = ErrBitsSyntax
		}
		return
	}

	if strings.ToLower(words[0]) == "org" {
		ok = true
		if len(words) != 2 {
			err = ErrOrgSyntax
			return
		}
		var org uint32
		org, err = as.valueOf(words[1])
		if err != nil {
			return
		}
		if len(as.Opcode) == 0 {
			as.org = org
		} else if org < as.ip {
			err = ErrOrgBackwards
			return
		}
		as.ip = org
		return
	}

	return
}

// parseWords evaluates the words in a line of assembly text.
func (as *Assembler) parseWords(words []string, lineno int) (err error) {
	// no-op
	if len(words) == 0 {
		return
	}

	ok, err := as.directive(words)
	if ok || err != nil {
		return
	}

	mnemonic := strings.ToLower(words[0])

	var ops []operand
	for _, group := range splitOperands(words[1:]) {
		var op operand
		op, err = as.parseOperand(group)
		if err != nil {
			return
		}
		ops = append(ops, op)
	}

	enc, err := as.encode(mnemonic, ops)
	if err != nil {
		return
	}

	opcode := Opcode{
		LineNo: lineno,
		Ip:     as.ip,
		Words:  words,
		Bytes:  enc.bytes,
		Links:  enc.links,
	}
	as.Opcode = append(as.Opcode, opcode)
	as.ip += uint32(len(enc.bytes))

	return
}
