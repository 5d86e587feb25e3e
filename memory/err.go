package memory

import (
	"github.com/pkg/errors"

	"github.com/ezrec/x86emu/translate"
)

var f = translate.From

var (
	ErrRange   = errors.New(f("address out of range"))
	ErrSize    = errors.New(f("access size invalid"))
	ErrOptions = errors.New(f("write options invalid"))
)
