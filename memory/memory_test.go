package memory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryReadWrite(t *testing.T) {
	assert := assert.New(t)

	mem := New(0x100)
	assert.Equal(uint32(0x100), mem.Size())

	table := [](struct {
		name  string
		addr  uint32
		size  int
		value uint32
		want  uint32
	}){
		{"byte", 0x10, 1, 0x1234, 0x34},
		{"word", 0x20, 2, 0x12345678, 0x5678},
		{"dword", 0x30, 4, 0x12345678, 0x12345678},
		{"last_byte", 0xff, 1, 0xab, 0xab},
		{"last_word", 0xfe, 2, 0xbeef, 0xbeef},
	}

	for _, entry := range table {
		err := mem.Write(entry.addr, entry.size, entry.value)
		assert.NoError(err, entry.name)
		got, err := mem.Read(entry.addr, entry.size)
		assert.NoError(err, entry.name)
		assert.Equal(entry.want, got, entry.name)
	}

	// Little-endian layout
	assert.Equal(uint8(0x78), mem.Bytes()[0x30])
	assert.Equal(uint8(0x12), mem.Bytes()[0x33])
}

func TestMemoryRange(t *testing.T) {
	assert := assert.New(t)

	mem := New(0x100)

	_, err := mem.Read(0xff, 2)
	assert.True(errors.Is(err, ErrRange))

	err = mem.Write(0x100, 1, 0)
	assert.True(errors.Is(err, ErrRange))

	err = mem.Write(0xffffffff, 4, 0)
	assert.True(errors.Is(err, ErrRange))

	err = mem.WriteBytes(0xfe, []byte{1, 2, 3})
	assert.True(errors.Is(err, ErrRange))

	_, err = mem.Read(0, 3)
	assert.True(errors.Is(err, ErrSize))
}

func TestMemoryApply(t *testing.T) {
	assert := assert.New(t)

	mem := New(0x100)

	err := mem.Apply(Options{Address: 0x10, Data: []byte{0xd4, 0x02, 0xf4}})
	assert.NoError(err)
	assert.Equal([]byte{0xd4, 0x02, 0xf4}, mem.Bytes()[0x10:0x13])

	err = mem.Apply(Options{Address: 0x20, Size: 2, Value: 0x1234})
	assert.NoError(err)
	value, _ := mem.Read(0x20, 2)
	assert.Equal(uint32(0x1234), value)

	err = mem.Apply(Options{Address: 0x20})
	assert.True(errors.Is(err, ErrOptions))

	err = mem.Apply(Options{Address: 0x20, Size: 1, Data: []byte{1}})
	assert.True(errors.Is(err, ErrOptions))

	err = mem.Apply(Options{Address: 0xff, Size: 4, Value: 1})
	assert.True(errors.Is(err, ErrRange))

	mem.Clear()
	assert.Equal(make([]byte, 0x100), mem.Bytes())
}

func TestJournal(t *testing.T) {
	assert := assert.New(t)

	mem := New(0x100)
	assert.NoError(mem.Write(0x40, 4, 0x11223344))

	jn := NewJournal(mem)
	assert.NoError(jn.Write(0x41, 2, 0xaabb))
	assert.Equal(2, jn.Len())

	// Journal sees its own writes, memory does not.
	value, err := jn.Read(0x40, 4)
	assert.NoError(err)
	assert.Equal(uint32(0x11aabb44), value)
	value, _ = mem.Read(0x40, 4)
	assert.Equal(uint32(0x11223344), value)

	jn.Commit()
	assert.Equal(0, jn.Len())
	value, _ = mem.Read(0x40, 4)
	assert.Equal(uint32(0x11aabb44), value)

	assert.NoError(jn.Write(0x40, 1, 0xff))
	jn.Discard()
	value, _ = mem.Read(0x40, 4)
	assert.Equal(uint32(0x11aabb44), value)

	err = jn.Write(0xff, 2, 0)
	assert.True(errors.Is(err, ErrRange))
	assert.Equal(0, jn.Len())
}
