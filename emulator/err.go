package emulator

import (
	"errors"

	"github.com/ezrec/x86emu/translate"
)

var f = translate.From

var (
	ErrRunning         = errors.New(f("system is running"))
	ErrStopped         = errors.New(f("system is stopped"))
	ErrSnapshotMagic   = errors.New(f("snapshot magic invalid"))
	ErrSnapshotVersion = errors.New(f("snapshot version unsupported"))
	ErrSnapshotSize    = errors.New(f("snapshot memory size mismatch"))
)

// ErrRuntime indicates the location of a runtime error.
type ErrRuntime struct {
	LineNo int
	Err    error
}

func (err *ErrRuntime) Error() string {
	return f("line %d %v", err.LineNo, err.Err)
}

func (err *ErrRuntime) Unwrap() error {
	return err.Err
}
