package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/x86emu/memory"
)

func TestSegment(t *testing.T) {
	assert := assert.New(t)

	var seg Segment
	seg.Load(0x1234)
	seg.Set32BitMode(false)

	assert.Equal(uint16(0x1234), seg.Selector)
	assert.Equal(uint32(0x12340), seg.Base)
	assert.Equal(LIMIT_16, seg.Limit)
	assert.Equal(uint32(0xffff), seg.AddressMask())
	assert.Equal(2, seg.Size())
	assert.Equal(uint32(0x12350), seg.Linear(0x10))

	seg.Set32BitMode(true)
	assert.Equal(uint32(0x12340), seg.Base)
	assert.Equal(LIMIT_32, seg.Limit)
	assert.Equal(uint32(0xffffffff), seg.AddressMask())
	assert.Equal(4, seg.Size())
}

func TestSegmentCheck(t *testing.T) {
	assert := assert.New(t)

	var seg Segment
	seg.Set32BitMode(false)

	assert.NoError(seg.Check(0, 4))
	assert.NoError(seg.Check(0xffff, 1))
	assert.NoError(seg.Check(0xfffe, 2))
	assert.ErrorIs(seg.Check(0xffff, 2), ErrSegmentLimit)
	assert.ErrorIs(seg.Check(0xfffd, 4), ErrSegmentLimit)
	assert.ErrorIs(seg.Check(0x10000, 1), ErrSegmentLimit)

	seg.Set32BitMode(true)
	assert.NoError(seg.Check(0xffff, 2))
	assert.NoError(seg.Check(0xfffffffc, 4))
	assert.ErrorIs(seg.Check(0xfffffffd, 4), ErrSegmentLimit)
}

func TestSegmentReadWrite(t *testing.T) {
	assert := assert.New(t)

	mem := memory.New(0x20000)

	var seg Segment
	seg.Load(0x1000)
	seg.Set32BitMode(false)

	assert.NoError(seg.Write(mem, 0x10, 2, 0xbeef))
	value, err := mem.Read(0x10010, 2)
	assert.NoError(err)
	assert.Equal(uint32(0xbeef), value)

	value, err = seg.Read(mem, 0x10, 1)
	assert.NoError(err)
	assert.Equal(uint32(0xef), value)

	err = seg.Write(mem, 0xffff, 2, 0)
	assert.ErrorIs(err, ErrSegmentLimit)
	_, err = seg.Read(mem, 0xfffe, 4)
	assert.ErrorIs(err, ErrSegmentLimit)

	// Within the segment limit, but beyond physical memory.
	seg.Load(0x1800)
	_, err = seg.Read(mem, 0xffff, 1)
	assert.ErrorIs(err, memory.ErrRange)
}

func TestSegmentView(t *testing.T) {
	assert := assert.New(t)

	cpu := NewCpu(memory.New(0x20000))

	ss := cpu.Segment(SEG_SS)
	ss.Set(0x1000)
	assert.Equal(uint16(0x1000), ss.Get())
	assert.Equal(uint32(0x10000), ss.Base())
	assert.False(ss.Is32BitMode())

	assert.NoError(ss.WriteSegment(0xfffe, 2, 0x1234))
	value, err := ss.ReadSegment(0xfffe, 2)
	assert.NoError(err)
	assert.Equal(uint32(0x1234), value)
	value, err = cpu.Memory.Read(0x1fffe, 2)
	assert.NoError(err)
	assert.Equal(uint32(0x1234), value)

	ss.Set32BitMode(true)
	assert.True(ss.Is32BitMode())
	assert.True(cpu.Segs[SEG_SS].Is32)
	assert.False(cpu.Segs[SEG_DS].Is32)
}

func TestParseSegReg(t *testing.T) {
	assert := assert.New(t)

	for seg := SEG_ES; seg < SEG_COUNT; seg++ {
		parsed, err := ParseSegReg(seg.String())
		assert.NoError(err)
		assert.Equal(seg, parsed)
	}

	seg, err := ParseSegReg("DS")
	assert.NoError(err)
	assert.Equal(SEG_DS, seg)

	_, err = ParseSegReg("xs")
	assert.ErrorIs(err, ErrSegmentInvalid)
	assert.ErrorIs(err, ErrRegisterInvalid)
}
