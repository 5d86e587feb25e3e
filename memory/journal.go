package memory

// Journal buffers writes over a Memory until they are committed.
//
// Reads observe the buffered writes, so a single instruction sees its own
// stores. Dropping the journal discards every buffered write.
type Journal struct {
	mem     *Memory
	pending map[uint32]uint8
	order   []uint32
}

var _ Bus = (*Journal)(nil)

// NewJournal starts an empty journal over mem.
func NewJournal(mem *Memory) *Journal {
	return &Journal{
		mem:     mem,
		pending: map[uint32]uint8{},
	}
}

// Read returns the little-endian value at addr, including pending writes.
func (jn *Journal) Read(addr uint32, size int) (value uint32, err error) {
	value, err = jn.mem.Read(addr, size)
	if err != nil || len(jn.pending) == 0 {
		return
	}

	for n := range size {
		b, ok := jn.pending[addr+uint32(n)]
		if ok {
			value &^= 0xff << (8 * n)
			value |= uint32(b) << (8 * n)
		}
	}

	return
}

// Write buffers a little-endian store.
func (jn *Journal) Write(addr uint32, size int, value uint32) (err error) {
	err = checkSize(size)
	if err != nil {
		return
	}
	err = jn.mem.check(addr, size)
	if err != nil {
		return
	}

	for n := range size {
		a := addr + uint32(n)
		if _, ok := jn.pending[a]; !ok {
			jn.order = append(jn.order, a)
		}
		jn.pending[a] = uint8(value >> (8 * n))
	}

	return
}

// Len returns the number of distinct bytes pending.
func (jn *Journal) Len() int {
	return len(jn.order)
}

// Commit applies all pending writes to memory, then empties the journal.
func (jn *Journal) Commit() {
	for _, a := range jn.order {
		jn.mem.data[a] = jn.pending[a]
	}
	jn.Discard()
}

// Discard drops all pending writes.
func (jn *Journal) Discard() {
	clear(jn.pending)
	jn.order = jn.order[:0]
}
