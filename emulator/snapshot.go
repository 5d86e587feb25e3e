package emulator

import (
	"encoding/binary"
	"io"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/ezrec/x86emu/cpu"
)

const (
	SNAPSHOT_MAGIC   = "X86S"
	SNAPSHOT_VERSION = 1
)

// snapshotHeader is the uncompressed part of a snapshot. Memory follows,
// snappy compressed.
type snapshotHeader struct {
	Magic      string `struc:"[4]byte"`
	Version    uint32
	Regs       [cpu.SLOT_COUNT]uint32
	Selector   [cpu.SEG_COUNT]uint16
	Base       [cpu.SEG_COUNT]uint32
	Limit      [cpu.SEG_COUNT]uint32
	Is32       [cpu.SEG_COUNT]uint8
	Halted     uint8
	Ticks      uint64
	MemorySize uint32
}

func boolByte(on bool) uint8 {
	if on {
		return 1
	}
	return 0
}

// Snapshot writes the registers, segments and memory of a system that is
// not running.
func (sys *System) Snapshot(w io.Writer) (err error) {
	if sys.stopped {
		err = ErrStopped
		return
	}
	if sys.running {
		err = ErrRunning
		return
	}

	hdr := &snapshotHeader{
		Magic:      SNAPSHOT_MAGIC,
		Version:    SNAPSHOT_VERSION,
		Regs:       sys.Cpu.Regs.Slot,
		Halted:     boolByte(sys.Cpu.Halted),
		Ticks:      uint64(sys.Cpu.Ticks),
		MemorySize: sys.Memory.Size(),
	}
	for n, seg := range sys.Cpu.Segs {
		hdr.Selector[n] = seg.Selector
		hdr.Base[n] = seg.Base
		hdr.Limit[n] = seg.Limit
		hdr.Is32[n] = boolByte(seg.Is32)
	}

	err = struc.PackWithOrder(w, hdr, binary.LittleEndian)
	if err != nil {
		err = errors.Wrap(err, f("failed to pack snapshot header"))
		return
	}

	zw := snappy.NewBufferedWriter(w)
	_, err = zw.Write(sys.Memory.Bytes())
	if err != nil {
		return
	}

	err = zw.Close()
	return
}

// Restore replaces the registers, segments and memory of a system that is
// not running with a snapshot. The memory sizes must match.
func (sys *System) Restore(r io.Reader) (err error) {
	if sys.stopped {
		err = ErrStopped
		return
	}
	if sys.running {
		err = ErrRunning
		return
	}

	var hdr snapshotHeader
	err = struc.UnpackWithOrder(r, &hdr, binary.LittleEndian)
	if err != nil {
		err = errors.Wrap(err, f("failed to unpack snapshot header"))
		return
	}
	if hdr.Magic != SNAPSHOT_MAGIC {
		err = ErrSnapshotMagic
		return
	}
	if hdr.Version != SNAPSHOT_VERSION {
		err = ErrSnapshotVersion
		return
	}
	if hdr.MemorySize != sys.Memory.Size() {
		err = ErrSnapshotSize
		return
	}

	data := make([]byte, hdr.MemorySize)
	_, err = io.ReadFull(snappy.NewReader(r), data)
	if err != nil {
		err = errors.Wrap(err, f("failed to read snapshot memory"))
		return
	}

	var state cpu.State
	state.Regs.Slot = hdr.Regs
	for n := range state.Segs {
		state.Segs[n] = cpu.Segment{
			Selector: hdr.Selector[n],
			Base:     hdr.Base[n],
			Limit:    hdr.Limit[n],
			Is32:     hdr.Is32[n] != 0,
		}
	}

	copy(sys.Memory.Bytes(), data)
	sys.Cpu.State = state
	sys.Cpu.Halted = hdr.Halted != 0
	sys.Cpu.Ticks = int(hdr.Ticks)

	return
}
