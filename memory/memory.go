// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package memory

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	DEFAULT_SIZE = 0x110000 // 1MiB of conventional memory plus the HMA.
)

// Bus is sized little-endian access to linear memory.
type Bus interface {
	Read(addr uint32, size int) (value uint32, err error)
	Write(addr uint32, size int, value uint32) (err error)
}

// Memory is a flat linear byte store.
type Memory struct {
	data []byte
}

var _ Bus = (*Memory)(nil)

// New creates a zeroed memory of size bytes.
func New(size uint32) (mem *Memory) {
	mem = &Memory{
		data: make([]byte, size),
	}

	return
}

// Size returns the number of bytes in the store.
func (mem *Memory) Size() uint32 {
	return uint32(len(mem.data))
}

// Bytes returns the backing store.
func (mem *Memory) Bytes() []byte {
	return mem.data
}

// Clear zeros the entire store.
func (mem *Memory) Clear() {
	clear(mem.data)
}

// check validates that [addr, addr+size) lies inside the store.
func (mem *Memory) check(addr uint32, size int) (err error) {
	if uint64(addr)+uint64(size) > uint64(len(mem.data)) {
		err = errors.Wrapf(ErrRange, "0x%08x+%d", addr, size)
	}
	return
}

func checkSize(size int) (err error) {
	switch size {
	case 1, 2, 4:
	default:
		err = errors.Wrapf(ErrSize, "%d", size)
	}
	return
}

// Read returns the size byte little-endian value at addr.
func (mem *Memory) Read(addr uint32, size int) (value uint32, err error) {
	err = checkSize(size)
	if err != nil {
		return
	}
	err = mem.check(addr, size)
	if err != nil {
		return
	}

	p := mem.data[addr : addr+uint32(size)]
	switch size {
	case 1:
		value = uint32(p[0])
	case 2:
		value = uint32(binary.LittleEndian.Uint16(p))
	case 4:
		value = binary.LittleEndian.Uint32(p)
	}

	return
}

// Write stores the low size bytes of value at addr, little-endian.
func (mem *Memory) Write(addr uint32, size int, value uint32) (err error) {
	err = checkSize(size)
	if err != nil {
		return
	}
	err = mem.check(addr, size)
	if err != nil {
		return
	}

	p := mem.data[addr : addr+uint32(size)]
	switch size {
	case 1:
		p[0] = uint8(value)
	case 2:
		binary.LittleEndian.PutUint16(p, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(p, value)
	}

	return
}

// ReadBytes fills p from addr.
func (mem *Memory) ReadBytes(addr uint32, p []byte) (err error) {
	err = mem.check(addr, len(p))
	if err != nil {
		return
	}

	copy(p, mem.data[addr:])
	return
}

// WriteBytes copies p to addr.
func (mem *Memory) WriteBytes(addr uint32, p []byte) (err error) {
	err = mem.check(addr, len(p))
	if err != nil {
		return
	}

	copy(mem.data[addr:], p)
	return
}
