package emulator

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/x86emu/cpu"
	"github.com/ezrec/x86emu/memory"
)

func TestSystem(t *testing.T) {
	assert := assert.New(t)

	sys := New()

	assert.False(sys.Verbose)
	assert.NotNil(sys.Cpu)
	assert.Equal(uint32(memory.DEFAULT_SIZE), sys.Memory.Size())
	assert.Equal(STACK_TOP, sys.Registers().Get(cpu.REG_SP))
	assert.Equal(uint32(cpu.FLAGS_RESET), sys.Registers().Get(cpu.REG_EFLAGS))
	for seg := cpu.SEG_ES; seg < cpu.SEG_COUNT; seg++ {
		assert.Equal(uint16(0), sys.Segment(seg).Get(), seg.String())
		assert.False(sys.Segment(seg).Is32BitMode(), seg.String())
	}

	sys = New(WithMemorySize(0x20000), WithVerbose(true))
	assert.True(sys.Verbose)
	assert.Equal(uint32(0x20000), sys.Memory.Size())
}

func TestSystemDefines(t *testing.T) {
	assert := assert.New(t)

	sys := New(WithMemorySize(0x20000))

	defines := map[string]string{}
	for key, value := range sys.Defines() {
		defines[key] = value
	}

	assert.Equal("0x20000", defines["MEMORY_SIZE"])
	assert.Equal("0xfffe", defines["STACK_TOP"])
	assert.Equal("0x0", defines["DIVIDE_ERROR"])
	assert.Equal("0xd", defines["GENERAL_PROTECTION"])
}

// aamScenario runs a single AAM test program, with the code segment in the
// selected mode.
type aamScenario struct {
	name     string
	divisor  string
	ax       uint32
	expected map[cpu.Reg]uint32
	vector   int // Expected exception vector, or -1.
}

func TestSystemAam(t *testing.T) {
	table := []aamScenario{
		{
			name:     "divide of al by 2 with no remainder",
			divisor:  "2",
			ax:       0xfffe,
			expected: map[cpu.Reg]uint32{cpu.REG_AH: 127, cpu.REG_AL: 0},
			vector:   -1,
		},
		{
			name:     "divide of al by 2 with remainder",
			divisor:  "2",
			ax:       0xffff,
			expected: map[cpu.Reg]uint32{cpu.REG_AH: 127, cpu.REG_AL: 1},
			vector:   -1,
		},
		{
			name:     "divide of al by zero",
			divisor:  "0",
			ax:       0x1234,
			expected: map[cpu.Reg]uint32{cpu.REG_AX: 0x1234},
			vector:   int(cpu.VECTOR_DIVIDE_ERROR),
		},
	}

	for _, scenario := range table {
		for _, is32 := range []bool{true, false} {
			bits := 16
			if is32 {
				bits = 32
			}
			t.Run(fmt.Sprintf("%v/%d-bit", scenario.name, bits), func(t *testing.T) {
				doAam(t, scenario, is32)
			})
		}
	}
}

func doAam(t *testing.T, scenario aamScenario, is32 bool) {
	assert := assert.New(t)

	bits := 16
	if is32 {
		bits = 32
	}

	sys := New()
	defer sys.Stop()

	sys.OnPreRun(func() {
		sys.Segment(cpu.SEG_CS).Set32BitMode(is32)
	})

	sys.Registers().Set(cpu.REG_AX, scenario.ax)

	vector := -1
	if scenario.vector >= 0 {
		sys.OnException(func(v uint8) {
			vector = int(v)
			sys.Pause()
		})
	}

	source := fmt.Sprintf("org 0x100\n[BITS %d]\naam %s\n\nhlt\n", bits, scenario.divisor)
	status, err := sys.Execute(source)
	if !assert.NoError(err) {
		return
	}

	for reg, value := range scenario.expected {
		assert.Equal(value&sys.Registers().Mask(reg), sys.Registers().Get(reg), reg.String())
	}

	if scenario.vector < 0 {
		assert.Equal(StatusHalted, status)
		assert.Equal(-1, vector)
		return
	}

	assert.Equal(StatusPaused, status)
	assert.Equal(scenario.vector, vector)

	ss := sys.Segment(cpu.SEG_SS)
	sp := sys.Registers().Get(cpu.REG_SP)
	ip, err := ss.ReadSegment(sp, 2)
	assert.NoError(err)
	assert.Equal(uint32(0x100), ip)
	cs, err := ss.ReadSegment(sp+2, 2)
	assert.NoError(err)
	assert.Equal(uint32(0), cs)
}

func TestSystemExceptionHandler(t *testing.T) {
	assert := assert.New(t)

	sys := New()

	// Divide error handler at 0000:0200, which halts.
	assert.NoError(sys.Write(memory.Options{Address: 0x0000, Size: 2, Value: 0x0200}))
	assert.NoError(sys.Write(memory.Options{Address: 0x0002, Size: 2, Value: 0x0000}))
	assert.NoError(sys.Write(memory.Options{Address: 0x0200, Data: []byte{0xf4}}))

	var vectors []uint8
	sys.OnException(func(vector uint8) {
		vectors = append(vectors, vector)
	})

	sys.Registers().Set(cpu.REG_AX, 0x1234)
	status, err := sys.Execute("org 0x100\naam 0\nhlt\n")
	assert.NoError(err)
	assert.Equal(StatusHalted, status)
	assert.Equal([]uint8{cpu.VECTOR_DIVIDE_ERROR}, vectors)

	// Halted in the handler, after the HLT.
	assert.Equal(uint32(0x201), sys.Registers().Get(cpu.REG_EIP))
	assert.Equal(uint32(0x1234), sys.Registers().Get(cpu.REG_AX))
	assert.Equal(STACK_TOP-6, sys.Registers().Get(cpu.REG_SP))

	ss := sys.Segment(cpu.SEG_SS)
	flags, err := ss.ReadSegment(STACK_TOP-2, 2)
	assert.NoError(err)
	assert.Equal(uint32(cpu.FLAGS_RESET), flags)
}

func TestSystemIret(t *testing.T) {
	assert := assert.New(t)

	sys := New()

	// Software interrupt 0x21 handler at 0000:0300: set AL, and return.
	assert.NoError(sys.Write(memory.Options{Address: 0x21 * 4, Size: 4, Value: 0x0000_0300}))
	assert.NoError(sys.Write(memory.Options{Address: 0x0300, Data: []byte{0xb0, 0x42, 0xcf}}))

	var vectors []uint8
	sys.OnException(func(vector uint8) {
		vectors = append(vectors, vector)
	})

	status, err := sys.Execute("org 0x100\nsti\nint 0x21\nmov ah, 0x24\nhlt\n")
	assert.NoError(err)
	assert.Equal(StatusHalted, status)
	assert.Equal([]uint8{0x21}, vectors)
	assert.Equal(uint32(0x2442), sys.Registers().Get(cpu.REG_AX))
	assert.Equal(STACK_TOP, sys.Registers().Get(cpu.REG_SP))
	assert.True(sys.Registers().Flag(cpu.FLAG_IF))
}

func TestSystemPause(t *testing.T) {
	assert := assert.New(t)

	sys := New()

	sys.Pause()
	status, err := sys.Execute("org 0x100\nmov al, 1\nhlt\n")
	assert.NoError(err)
	assert.Equal(StatusPaused, status)
	assert.Equal(uint32(0x100), sys.Registers().Get(cpu.REG_EIP))
	assert.Equal(0, sys.Ticks)

	// Resume from where it was paused.
	status, err = sys.Run()
	assert.NoError(err)
	assert.Equal(StatusHalted, status)
	assert.Equal(uint32(1), sys.Registers().Get(cpu.REG_AL))
	assert.Equal(2, sys.Ticks)
	assert.Equal("halted", status.String())
	assert.Equal("paused", StatusPaused.String())
	assert.Equal("limit", StatusLimit.String())
	assert.Equal("error", StatusError.String())
}

func TestSystemPauseAsync(t *testing.T) {
	assert := assert.New(t)

	sys := New()

	// Request the pause from another goroutine once Run is looping.
	sys.OnPreRun(func() {
		go func() {
			time.Sleep(10 * time.Millisecond)
			sys.Pause()
		}()
	})

	status, err := sys.Execute("org 0x100\nspin: jmp short spin\n")
	assert.NoError(err)
	assert.Equal(StatusPaused, status)
	assert.Equal(uint32(0x100), sys.Registers().Get(cpu.REG_EIP))
	assert.Greater(sys.Ticks, 0)
	assert.False(sys.Halted)
}

func TestSystemMaxTicks(t *testing.T) {
	assert := assert.New(t)

	sys := New(WithMaxTicks(3))

	runs := 0
	sys.OnPreRun(func() {
		runs++
	})

	status, err := sys.Execute("org 0x100\nnop\nnop\nnop\nnop\nhlt\n")
	assert.NoError(err)
	assert.Equal(StatusLimit, status)
	assert.Equal(3, sys.Ticks)
	assert.Equal(uint32(0x103), sys.Registers().Get(cpu.REG_EIP))

	// The limit applies to each Run.
	status, err = sys.Run()
	assert.NoError(err)
	assert.Equal(StatusHalted, status)
	assert.Equal(5, sys.Ticks)
	assert.Equal(2, runs)

	// A pause from an observer wins over the limit.
	sys = New(WithMaxTicks(10))
	sys.OnException(func(vector uint8) {
		sys.Pause()
	})
	status, err = sys.Execute("org 0x100\nint3\nnop\n")
	assert.NoError(err)
	assert.Equal(StatusPaused, status)
	assert.Equal(1, sys.Ticks)
}

func TestSystemTripleFault(t *testing.T) {
	assert := assert.New(t)

	sys := New()

	status, err := sys.Execute("org 0x100\nmov sp, 1\naam 0\n")
	assert.Equal(StatusError, status)
	assert.ErrorIs(err, cpu.ErrTripleFault)

	var rerr *ErrRuntime
	if assert.True(errors.As(err, &rerr)) {
		assert.Equal(3, rerr.LineNo)
	}
}

func TestSystemStop(t *testing.T) {
	assert := assert.New(t)

	sys := New()

	var hookErr error
	runs := 0
	sys.OnPreRun(func() {
		runs++
		hookErr = sys.Stop()
	})

	_, err := sys.Execute("hlt")
	assert.NoError(err)
	assert.Equal(1, runs)
	assert.ErrorIs(hookErr, ErrRunning)

	assert.NoError(sys.Stop())
	assert.ErrorIs(sys.Stop(), ErrStopped)

	_, err = sys.Run()
	assert.ErrorIs(err, ErrStopped)
	_, err = sys.Tick()
	assert.ErrorIs(err, ErrStopped)
	err = sys.Write(memory.Options{Address: 0, Size: 1, Value: 1})
	assert.ErrorIs(err, ErrStopped)
	err = sys.Load(0, []byte{0xf4})
	assert.ErrorIs(err, ErrStopped)
	assert.Equal(1, runs)
}

func TestSystemRunning(t *testing.T) {
	assert := assert.New(t)

	sys := New()

	var errs []error
	sys.OnPreRun(func() {
		_, err := sys.Run()
		errs = append(errs, err)
		errs = append(errs, sys.Load(0, []byte{0x90}))
		errs = append(errs, sys.Snapshot(&bytes.Buffer{}))
	})

	_, err := sys.Execute("hlt")
	assert.NoError(err)
	assert.Equal(3, len(errs))
	for _, err := range errs {
		assert.ErrorIs(err, ErrRunning)
	}
}

func TestSystemErrRuntime(t *testing.T) {
	assert := assert.New(t)

	sys := New()

	status, err := sys.Execute("org 0x100\nnop\ndb 0x0f, 0x0b\n")
	assert.Equal(StatusError, status)
	var rerr *ErrRuntime
	if assert.True(errors.As(err, &rerr)) {
		assert.Equal(3, rerr.LineNo)
	}
	assert.ErrorIs(err, cpu.ErrOpcodeUnsupported)

	var derr *cpu.ErrDecode
	if assert.True(errors.As(err, &derr)) {
		assert.Equal(uint32(0x101), derr.Address)
	}
}

func TestSystemAssembleError(t *testing.T) {
	assert := assert.New(t)

	sys := New()

	status, err := sys.Execute("aam 0x100")
	assert.Error(err)
	assert.Equal(StatusError, status)
	assert.Equal(0, sys.Ticks)
}

func TestSystemLoad(t *testing.T) {
	assert := assert.New(t)

	sys := New()
	sys.Segment(cpu.SEG_CS).Set(0x1000)

	err := sys.Load(0x10, []byte{0xb0, 0x07, 0xf4})
	assert.NoError(err)
	assert.Equal(uint32(0x10), sys.Registers().Get(cpu.REG_EIP))

	value, err := sys.Memory.Read(0x10010, 1)
	assert.NoError(err)
	assert.Equal(uint32(0xb0), value)

	status, err := sys.Run()
	assert.NoError(err)
	assert.Equal(StatusHalted, status)
	assert.Equal(uint32(7), sys.Registers().Get(cpu.REG_AL))

	err = sys.Load(0xfffe, make([]byte, 0x100000))
	assert.ErrorIs(err, memory.ErrRange)
}

func TestSystemSnapshot(t *testing.T) {
	assert := assert.New(t)

	sys := New(WithMemorySize(0x20000))
	sys.Registers().Set(cpu.REG_AX, 0xfffe)
	status, err := sys.Execute("org 0x100\naam 2\nhlt\n")
	assert.NoError(err)
	assert.Equal(StatusHalted, status)
	sys.Segment(cpu.SEG_DS).Set(0x1234)
	sys.Segment(cpu.SEG_FS).Set32BitMode(true)

	buff := &bytes.Buffer{}
	assert.NoError(sys.Snapshot(buff))
	data := buff.Bytes()

	other := New(WithMemorySize(0x20000))
	assert.NoError(other.Restore(bytes.NewReader(data)))
	assert.Equal(sys.Cpu.State, other.Cpu.State)
	assert.Equal(sys.Memory.Bytes(), other.Memory.Bytes())
	assert.Equal(sys.Ticks, other.Ticks)
	assert.True(other.Halted)
	assert.Equal(uint32(0x7f00), other.Registers().Get(cpu.REG_AX))
	assert.Equal(uint32(0x12340), other.Segment(cpu.SEG_DS).Base())
	assert.True(other.Segment(cpu.SEG_FS).Is32BitMode())

	small := New(WithMemorySize(0x10000))
	assert.ErrorIs(small.Restore(bytes.NewReader(data)), ErrSnapshotSize)

	bad := bytes.Clone(data)
	bad[0] = 'Z'
	assert.ErrorIs(other.Restore(bytes.NewReader(bad)), ErrSnapshotMagic)

	bad = bytes.Clone(data)
	bad[4] = 0x7f
	assert.ErrorIs(other.Restore(bytes.NewReader(bad)), ErrSnapshotVersion)

	assert.Error(other.Restore(bytes.NewReader(data[:8])))
}
