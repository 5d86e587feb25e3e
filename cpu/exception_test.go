package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorName(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("#DE", VectorName(VECTOR_DIVIDE_ERROR))
	assert.Equal("#GP", VectorName(VECTOR_GENERAL_PROTECTION))
	assert.Equal("#DF", VectorName(VECTOR_DOUBLE_FAULT))
}

func TestDispatch(t *testing.T) {
	assert := assert.New(t)

	cpu := newTestCpu(false)
	// Divide error handler at 0200:0010.
	assert.NoError(cpu.Memory.Write(IVT_BASE+uint32(VECTOR_DIVIDE_ERROR)*IVT_ENTRY_SIZE, 2, 0x0010))
	assert.NoError(cpu.Memory.Write(IVT_BASE+uint32(VECTOR_DIVIDE_ERROR)*IVT_ENTRY_SIZE+2, 2, 0x0200))

	var delivered []Exception
	cpu.OnException = func(exc Exception) {
		// Control has already been transferred.
		assert.Equal(uint32(0x2000), cpu.Segs[SEG_CS].Base)
		delivered = append(delivered, exc)
	}

	cpu.Segs[SEG_CS].Load(0x0100)
	cpu.Regs.SetFlag(FLAG_IF|FLAG_TF|FLAG_CF, true)
	flags := cpu.Regs.Get(REG_FLAGS)

	exc := Exception{Vector: VECTOR_DIVIDE_ERROR, Kind: KIND_FAULT, CS: 0x0100, Address: 0x0123}
	err := cpu.Dispatch(exc)
	assert.NoError(err)
	assert.Equal([]Exception{exc}, delivered)

	assert.Equal(uint16(0x0200), cpu.Segs[SEG_CS].Selector)
	assert.Equal(uint32(0x0010), cpu.Regs.Get(REG_EIP))
	assert.Equal(testStackTop-6, cpu.Regs.Get(REG_SP))
	assert.False(cpu.Regs.Flag(FLAG_IF))
	assert.False(cpu.Regs.Flag(FLAG_TF))
	assert.True(cpu.Regs.Flag(FLAG_CF))

	ss := cpu.Segment(SEG_SS)
	for n, expected := range []uint32{0x0123, 0x0100, flags} {
		value, err := ss.ReadSegment(testStackTop-6+uint32(n)*2, 2)
		assert.NoError(err)
		assert.Equal(expected, value, "slot %d", n)
	}
}

func TestDispatch32(t *testing.T) {
	assert := assert.New(t)

	cpu := newTestCpu(false)
	cpu.Segs[SEG_SS].Set32BitMode(true)
	cpu.Regs.Set(REG_ESP, 0x2000)
	cpu.Regs.Set(REG_EFLAGS, 0x00240202)
	assert.NoError(cpu.Memory.Write(IVT_BASE+0x21*IVT_ENTRY_SIZE, 4, 0x1000_0500))

	err := cpu.Dispatch(Exception{Vector: 0x21, Kind: KIND_TRAP, CS: 0, Address: 0x12345})
	assert.NoError(err)

	assert.Equal(uint32(0x1ff4), cpu.Regs.Get(REG_ESP))
	assert.Equal(uint16(0x1000), cpu.Segs[SEG_CS].Selector)
	assert.Equal(uint32(0x500), cpu.Regs.Get(REG_EIP))

	ss := cpu.Segment(SEG_SS)
	for n, expected := range []uint32{0x12345, 0, 0x00240202} {
		value, err := ss.ReadSegment(0x1ff4+uint32(n)*4, 4)
		assert.NoError(err)
		assert.Equal(expected, value, "slot %d", n)
	}
}

func TestDispatchTripleFault(t *testing.T) {
	assert := assert.New(t)

	cpu := newTestCpu(false)
	cpu.Regs.Set(REG_SP, 1)
	before := cpu.State

	called := false
	cpu.OnException = func(exc Exception) {
		called = true
	}

	err := cpu.Dispatch(Exception{Vector: VECTOR_DIVIDE_ERROR, Kind: KIND_FAULT, Address: 0x100})
	assert.ErrorIs(err, ErrTripleFault)
	assert.False(called)
	assert.Equal(before, cpu.State)

	value, err := cpu.Memory.Read(0xffff, 1)
	assert.NoError(err)
	assert.Equal(uint32(0), value)
}

func TestDispatchStackWrap(t *testing.T) {
	assert := assert.New(t)

	// A 16-bit stack at SP=2 wraps to the top of the segment.
	cpu := newTestCpu(false)
	cpu.Regs.Set(REG_SP, 2)

	err := cpu.Dispatch(Exception{Vector: VECTOR_BREAKPOINT, Kind: KIND_TRAP, Address: 0x101})
	assert.NoError(err)
	assert.Equal(uint32(0xfffc), cpu.Regs.Get(REG_SP))

	value, err := cpu.Segment(SEG_SS).ReadSegment(0xfffc, 2)
	assert.NoError(err)
	assert.Equal(uint32(0x101), value)
}
