// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package emulator

import (
	"fmt"
	"iter"
	"maps"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ezrec/x86emu/asm"
	"github.com/ezrec/x86emu/cpu"
	"github.com/ezrec/x86emu/internal"
	"github.com/ezrec/x86emu/memory"
)

const (
	STACK_TOP = uint32(0xfffe) // Initial SP after a reset.
)

// Status is the reason Run returned.
type Status int

//go:generate go tool stringer -linecomment -type=Status
const (
	StatusHalted = Status(0) // halted
	StatusPaused = Status(1) // paused
	StatusLimit  = Status(2) // limit
	StatusError  = Status(3) // error
)

// Option configures a System.
type Option func(sys *System)

// WithMemorySize sets the physical memory size, in bytes.
func WithMemorySize(size uint32) Option {
	return func(sys *System) {
		sys.memorySize = size
	}
}

// WithVerbose enables verbose logging.
func WithVerbose(verbose bool) Option {
	return func(sys *System) {
		sys.Verbose = verbose
	}
}

// WithMaxTicks limits each Run to at most limit instructions. Zero or less
// is no limit.
func WithMaxTicks(limit int) Option {
	return func(sys *System) {
		sys.maxTicks = limit
	}
}

// WithLogger sets the logger for verbose output.
func WithLogger(logger *logrus.Logger) Option {
	return func(sys *System) {
		sys.Logger = logger
	}
}

// System is an emulated machine: a CPU, its memory, and the program it
// was loaded with.
type System struct {
	Verbose bool           // If set, enables verbose logging.
	Logger  *logrus.Logger // Logger for verbose output.

	*cpu.Cpu                // Reference to the CPU simulation.
	Memory   *memory.Memory // Reference to physical memory.
	Program  *asm.Program   // Currently loaded program listing, if any.

	memorySize  uint32
	maxTicks    int
	onException []func(vector uint8)
	onPreRun    []func()
	pause       atomic.Bool
	running     bool
	stopped     bool
}

// New creates a new system, in its reset state.
func New(opts ...Option) (sys *System) {
	sys = &System{
		Logger:     logrus.StandardLogger(),
		memorySize: memory.DEFAULT_SIZE,
	}
	for _, opt := range opts {
		opt(sys)
	}
	if sys.Logger == nil {
		sys.Logger = logrus.StandardLogger()
	}

	sys.Memory = memory.New(sys.memorySize)
	sys.Cpu = cpu.NewCpu(sys.Memory)
	sys.Cpu.Logger = sys.Logger
	sys.Cpu.OnException = sys.exception

	sys.Reset()

	return
}

// Defines returns an iterator over all of the defines
func (sys *System) Defines() iter.Seq2[string, string] {
	return internal.Concat2(maps.All(map[string]string{
		"MEMORY_SIZE": fmt.Sprintf("0x%x", sys.Memory.Size()),
		"STACK_TOP":   fmt.Sprintf("0x%x", STACK_TOP),
	}), sys.Cpu.Defines())
}

// Reset the CPU: all registers cleared, all segments at selector 0 in
// 16-bit mode, and SP at STACK_TOP. Memory is left unchanged.
func (sys *System) Reset() {
	sys.Cpu.Verbose = sys.Verbose
	sys.Cpu.Reset()
	sys.Cpu.Regs.Set(cpu.REG_SP, STACK_TOP)
	sys.pause.Store(false)
}

// Registers returns the register bank.
func (sys *System) Registers() *cpu.Bank {
	return sys.Cpu.Registers()
}

// OnException registers an observer, called with the vector of every
// exception after it has been delivered.
func (sys *System) OnException(fn func(vector uint8)) {
	sys.onException = append(sys.onException, fn)
}

// OnPreRun registers an observer, called once at the start of every Run.
func (sys *System) OnPreRun(fn func()) {
	sys.onPreRun = append(sys.onPreRun, fn)
}

func (sys *System) exception(exc cpu.Exception) {
	if sys.Verbose {
		fields := logrus.Fields{
			"vector": exc.Vector,
			"name":   cpu.VectorName(exc.Vector),
			"kind":   exc.Kind.String(),
			"return": fmt.Sprintf("%04x:%04x", exc.CS, exc.Address),
		}
		if sys.Program != nil {
			fields["line"] = sys.Program.LineNo(exc.Address)
		}
		sys.Logger.WithFields(fields).Info("emulator: exception")
	}

	for _, fn := range sys.onException {
		fn(exc.Vector)
	}
}

// Write seeds memory, bypassing segmentation.
func (sys *System) Write(opts memory.Options) (err error) {
	if sys.stopped {
		err = ErrStopped
		return
	}

	err = sys.Memory.Apply(opts)
	return
}

// Load copies a flat image to CS:org, and sets EIP to org.
func (sys *System) Load(org uint32, image []byte) (err error) {
	if sys.stopped {
		err = ErrStopped
		return
	}
	if sys.running {
		err = ErrRunning
		return
	}

	cs := sys.Cpu.Segment(cpu.SEG_CS)
	err = sys.Memory.WriteBytes(cs.Base()+org, image)
	if err != nil {
		return
	}

	sys.Cpu.Regs.Set(cpu.REG_EIP, org)
	return
}

// LineNo returns the current line number for the executing opcode.
func (sys *System) LineNo() int {
	if sys.Program == nil {
		return 0
	}

	return sys.Program.LineNo(sys.Cpu.Regs.Get(cpu.REG_EIP))
}

// Pause requests that Run return at the next instruction boundary. It may
// be called from any goroutine, or from an observer.
func (sys *System) Pause() {
	sys.pause.Store(true)
}

// Stop ends the system. It may not be called while running.
func (sys *System) Stop() (err error) {
	switch {
	case sys.running:
		err = ErrRunning
	case sys.stopped:
		err = ErrStopped
	default:
		sys.stopped = true
		if sys.Verbose {
			sys.Logger.Info("emulator: stopped")
		}
	}

	return
}

// Tick performs a single instruction of the emulator.
func (sys *System) Tick() (done bool, err error) {
	if sys.stopped {
		err = ErrStopped
		return
	}

	// Set CPU verbosity
	sys.Cpu.Verbose = sys.Verbose

	lineno := sys.LineNo()
	defer func() {
		if err != nil {
			err = &ErrRuntime{LineNo: lineno, Err: err}
		}
	}()

	err = sys.Cpu.Tick()
	if err != nil {
		return
	}

	done = sys.Cpu.Halted
	return
}

// Run executes instructions until HLT, a pause request, the instruction
// limit, or a host error. The status is StatusError whenever err is set.
func (sys *System) Run() (status Status, err error) {
	status = StatusError
	if sys.stopped {
		err = ErrStopped
		return
	}
	if sys.running {
		err = ErrRunning
		return
	}

	sys.running = true
	defer func() { sys.running = false }()

	sys.Cpu.Halted = false

	for _, fn := range sys.onPreRun {
		fn()
	}

	for ticks := 0; ; ticks++ {
		if sys.pause.Swap(false) {
			status = StatusPaused
			return
		}
		if sys.maxTicks > 0 && ticks >= sys.maxTicks {
			status = StatusLimit
			return
		}

		var done bool
		done, err = sys.Tick()
		if err != nil {
			return
		}
		if done {
			status = StatusHalted
			return
		}
	}
}

// Assemble assembles source at the code size of the current CS mode, with
// all of the system's defines.
func (sys *System) Assemble(source string) (prog *asm.Program, err error) {
	as := &asm.Assembler{
		Verbose: sys.Verbose,
		Logger:  sys.Logger,
		Bits:    sys.Cpu.Segs[cpu.SEG_CS].Size() * 8,
	}
	for key, value := range internal.Sorted2(sys.Defines()) {
		as.Predefine(key, value)
	}

	prog, err = as.Parse(strings.NewReader(source))
	return
}

// Execute assembles source, loads it at its origin, and runs it.
func (sys *System) Execute(source string) (status Status, err error) {
	status = StatusError
	prog, err := sys.Assemble(source)
	if err != nil {
		return
	}

	err = sys.Load(prog.Origin, prog.Binary())
	if err != nil {
		return
	}
	sys.Program = prog

	status, err = sys.Run()
	return
}
