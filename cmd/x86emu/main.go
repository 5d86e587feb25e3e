// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package main

import (
	"flag"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/ezrec/x86emu/cpu"
	"github.com/ezrec/x86emu/emulator"
)

// dump prints the register state.
func dump(sys *emulator.System) {
	regs := sys.Registers()

	color.New(color.FgHiBlack).Println("----------------------------------------------------------")
	for reg := cpu.REG_EAX; reg <= cpu.REG_EFLAGS; reg++ {
		color.New(color.FgCyan).Printf("%6s=0x%08x", reg, regs.Get(reg))
		if reg%4 == 3 || reg == cpu.REG_EFLAGS {
			color.New(color.FgCyan).Println()
		}
	}
	for seg := cpu.SEG_ES; seg < cpu.SEG_COUNT; seg++ {
		view := sys.Segment(seg)
		mode := "16"
		if view.Is32BitMode() {
			mode = "32"
		}
		color.New(color.FgGreen).Printf("%6s=0x%04x (%v)", seg, view.Get(), mode)
		if seg%3 == 2 {
			color.New(color.FgGreen).Println()
		}
	}
	color.New(color.FgYellow).Printf("ticks=%v halted=%v\n", sys.Ticks, sys.Halted)
}

func main() {
	var compile string
	var binary string
	var origin string
	var is32 bool
	var verbose bool
	var limit int
	var restore string
	var snapshot string

	flag.StringVar(&compile, "c", "", ".asm file to assemble and execute")
	flag.StringVar(&binary, "b", "", "Flat binary image to execute")
	flag.StringVar(&origin, "org", "0x100", "Load offset of a binary image")
	flag.BoolVar(&is32, "32", false, "Start with a 32-bit code segment")
	flag.BoolVar(&verbose, "v", false, "Verbose mode")
	flag.IntVar(&limit, "max", 0, "Maximum instructions to execute (0 for no limit)")
	flag.StringVar(&restore, "r", "", "Snapshot to restore before running")
	flag.StringVar(&snapshot, "s", "", "Snapshot to save after running")

	flag.Parse()

	if flag.NArg() != 0 {
		logrus.Fatalf("%v: Unknown arguments: %v", os.Args[0], flag.Args())
	}

	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	sys := emulator.New(emulator.WithVerbose(verbose), emulator.WithMaxTicks(limit))
	defer sys.Stop()

	if len(restore) != 0 {
		inf, err := os.Open(restore)
		if err != nil {
			logrus.Fatalf("%v: %v", restore, err)
		}
		err = sys.Restore(inf)
		inf.Close()
		if err != nil {
			logrus.Fatalf("%v: %v", restore, err)
		}
	}

	if is32 {
		sys.Segment(cpu.SEG_CS).Set32BitMode(true)
	}

	sys.OnException(func(vector uint8) {
		color.New(color.FgRed).Printf("exception %v (vector 0x%02x)\n", cpu.VectorName(vector), vector)
	})

	switch {
	case len(compile) != 0:
		inf, err := os.Open(compile)
		if err != nil {
			logrus.Fatalf("%v: %v", compile, err)
		}
		source, err := io.ReadAll(inf)
		inf.Close()
		if err != nil {
			logrus.Fatalf("%v: %v", compile, err)
		}

		prog, err := sys.Assemble(string(source))
		if err != nil {
			logrus.Fatalf("%v: %v", compile, err)
		}
		err = sys.Load(prog.Origin, prog.Binary())
		if err != nil {
			logrus.Fatalf("%v: %v", compile, err)
		}
		sys.Program = prog
	case len(binary) != 0:
		image, err := os.ReadFile(binary)
		if err != nil {
			logrus.Fatalf("%v: %v", binary, err)
		}
		org, err := strconv.ParseUint(origin, 0, 32)
		if err != nil {
			logrus.Fatalf("-org %v: %v", origin, err)
		}
		err = sys.Load(uint32(org), image)
		if err != nil {
			logrus.Fatalf("%v: %v", binary, err)
		}
	case len(restore) == 0:
		logrus.Fatalf("%v: One of -c, -b or -r is required", os.Args[0])
	}

	status, err := sys.Run()
	if err != nil {
		dump(sys)
		logrus.Fatal(err)
	}

	if verbose {
		logrus.WithField("status", status).Info("run complete")
	}
	dump(sys)

	if len(snapshot) != 0 {
		ouf, err := os.Create(snapshot)
		if err != nil {
			logrus.Fatalf("%v: %v", snapshot, err)
		}
		err = sys.Snapshot(ouf)
		if err != nil {
			logrus.Fatalf("%v: %v", snapshot, err)
		}
		err = ouf.Close()
		if err != nil {
			logrus.Fatalf("%v: %v", snapshot, err)
		}
	}
}
