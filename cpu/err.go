package cpu

import (
	"errors"

	"github.com/ezrec/x86emu/translate"
)

var f = translate.From

var (
	// Register and segment lookup errors
	ErrRegisterInvalid = errors.New(f("register invalid"))
	ErrSegmentInvalid  = errors.New(f("segment register invalid"))

	// Segment access errors
	ErrSegmentLimit = errors.New(f("segment limit exceeded"))

	// Instruction decode errors
	ErrOpcodeUnsupported = errors.New(f("opcode unsupported"))
	ErrDecodeLength      = errors.New(f("instruction too long"))

	// Exception delivery errors
	ErrTripleFault = errors.New(f("triple fault"))
)

// ErrDecode is a fatal instruction decode failure.
type ErrDecode struct {
	CS      uint16
	Address uint32
	Bytes   []byte
	Err     error
}

func (err *ErrDecode) Error() string {
	return f("%04x:%04x % x: %v", err.CS, err.Address, err.Bytes, err.Err)
}

func (err *ErrDecode) Unwrap() error {
	return err.Err
}

type ErrRegisterName string

func (err ErrRegisterName) Error() string {
	return f("'%v' is not a register", string(err))
}

func (err ErrRegisterName) Unwrap() error {
	return ErrRegisterInvalid
}
