package memory

import (
	"github.com/pkg/errors"
)

// Options describes a host-side memory seeding request.
//
// Either Data is set, and is copied verbatim to Address, or Size and Value
// describe a single little-endian store. Seeding bypasses all segment checks.
type Options struct {
	Address uint32
	Data    []byte
	Size    int
	Value   uint32
}

// Apply performs the seeding request.
func (mem *Memory) Apply(opts Options) (err error) {
	switch {
	case opts.Data != nil && opts.Size != 0:
		err = errors.Wrap(ErrOptions, f("both data and size given"))
	case opts.Data != nil:
		err = mem.WriteBytes(opts.Address, opts.Data)
	case opts.Size != 0:
		err = mem.Write(opts.Address, opts.Size, opts.Value)
	default:
		err = errors.Wrap(ErrOptions, f("nothing to write"))
	}

	return
}
