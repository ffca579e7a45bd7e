package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gravwell/gravwell/v3/ingest/log"

	"novaria/nvm"
)

// Hosted kernel runner: boots the NVM, populates the VFS from a rootfs
// directory and/or an initramfs stream, starts the configured programs
// and drops into a small shell that pumps the scheduler between
// commands, the way the kernel's input loop does on real hardware.

var (
	fConfig    = flag.String("config", "novaria.conf", "boot configuration file")
	fInitramfs = flag.String("initramfs", "", "initramfs stream to unpack into the VFS")
	fRootfs    = flag.String("rootfs", "", "directory of .nvm images to preload into the VFS")
	fRun       = flag.String("run", "", "run a single VFS image and exit")
	fVerbose   = flag.Bool("v", false, "log INFO and up")
)

func main() {
	flag.Parse()

	cfg, err := GetConfig(*fConfig)
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *fConfig, err)
		os.Exit(1)
	}

	lg := newLogger(cfg)
	defer lg.Close()

	heapSize, _ := cfg.HeapSize()
	maxImage, _ := cfg.MaxImageSize()

	machine := nvm.New()
	machine.SetLogger(lg)
	machine.SetConsole(nvm.WriterConsole{W: os.Stdout})
	machine.SetTimeSlice(cfg.TimeSlice())
	machine.SetPhysMemory(nvm.NewFlatMemory(int(heapSize)))
	machine.SetPortBus(nvm.SerialPorts{RW: os.Stderr})

	fs := machine.Filesystem()
	if *fRootfs != `` {
		if err := loadRootfs(fs, *fRootfs, lg); err != nil {
			lg.FatalfCode(1, "rootfs: %v", err)
		}
	}
	if *fInitramfs != `` {
		fin, err := os.Open(*fInitramfs)
		if err != nil {
			lg.FatalfCode(1, "initramfs: %v", err)
		}
		paths, err := nvm.LoadInitramfs(fs, fin, lg)
		fin.Close()
		if err != nil {
			lg.FatalfCode(1, "initramfs: %v", err)
		}
		lg.Infof("initramfs: %d images loaded", len(paths))
	}

	autostart(machine, cfg, maxImage, lg)

	if *fRun != `` {
		os.Exit(runAndWait(machine, *fRun, flag.Args(), maxImage))
	}
	shell(machine, maxImage)
}

func newLogger(cfg cfgType) *log.Logger {
	var lg *log.Logger
	var err error
	if cfg.Global.Log_File != `` {
		if lg, err = log.NewFile(cfg.Global.Log_File); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
	} else if lg, err = log.NewStderrLogger(``); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get stderr logger: %v\n", err)
		os.Exit(1)
	}
	level := cfg.LogLevel()
	if *fVerbose {
		level = `INFO`
	}
	if err = lg.SetLevelString(level); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	return lg
}

// loadRootfs copies every regular file under dir into the VFS, rooted
// at /.
func loadRootfs(fs *nvm.FileSystem, dir string, lg *log.Logger) error {
	return filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		name := "/" + filepath.ToSlash(rel)
		if err = fs.Create(name, data); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		lg.Debugf("rootfs: loaded %s (%d bytes)", name, len(data))
		return nil
	})
}

// autostart seats every configured Autostart program with its granted
// capabilities.
func autostart(machine *nvm.Machine, cfg cfgType, maxImage int64, lg *log.Logger) {
	for name, p := range cfg.Program {
		if !p.Autostart {
			continue
		}
		caps, err := p.Caps()
		if err != nil {
			lg.Errorf("program %s: %v", name, err)
			continue
		}
		data, err := machine.Filesystem().ReadFile(p.Path)
		if err != nil {
			lg.Errorf("program %s: %v", name, err)
			continue
		}
		if int64(len(data)) > maxImage {
			lg.Errorf("program %s: image exceeds %d bytes", name, maxImage)
			continue
		}
		pid, err := machine.CreateProcess(data, caps)
		if err != nil {
			lg.Errorf("program %s: %v", name, err)
			continue
		}
		lg.Infof("program %s started with pid %d", name, pid)
	}
}

// runAndWait seats one image with full capabilities, drives the
// scheduler until it stops making progress and returns its exit code.
func runAndWait(machine *nvm.Machine, path string, args []string, maxImage int64) int {
	pid, ok := startImage(machine, path, args, maxImage)
	if !ok {
		return 1
	}
	for machine.Active(pid) && machine.Runnable() {
		machine.Tick()
	}
	if machine.Active(pid) {
		fmt.Fprintf(os.Stderr, "process %d blocked with no senders\n", pid)
		return 1
	}
	return int(machine.ExitCode(pid))
}

func startImage(machine *nvm.Machine, path string, args []string, maxImage int64) (int, bool) {
	data, err := machine.Filesystem().ReadFile(path)
	if err != nil {
		fmt.Printf("%s: %v\n", path, err)
		return -1, false
	}
	if int64(len(data)) > maxImage {
		fmt.Printf("%s: image exceeds %d bytes\n", path, maxImage)
		return -1, false
	}
	argv := append([]string{path}, args...)
	pid, err := machine.CreateProcessWithStack(data, []nvm.Capability{nvm.CapAll}, nvm.ArgStack(argv))
	if err != nil {
		fmt.Printf("%s: %v\n", path, err)
		return -1, false
	}
	return pid, true
}

const shellHelp = `Commands:
  ls              list files
  cat <file>      print a file
  write <f> <tx>  create a file with the given text
  rm <file>       delete a file
  run <f> [args]  run an image and report its exit code
  ps              list live processes
  help            this text
  exit            leave the shell`

func shell(machine *nvm.Machine, maxImage int64) {
	fmt.Println("NovariaOS hosted shell; 'help' for commands")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		// Let anything runnable make progress before prompting again.
		for machine.Runnable() {
			machine.Tick()
		}

		fmt.Print("novaria> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch cmd, args := fields[0], fields[1:]; cmd {
		case "exit", "quit":
			return
		case "help":
			fmt.Println(shellHelp)
		case "ls":
			for _, name := range machine.Filesystem().List() {
				fmt.Printf("%8d  %s\n", machine.Filesystem().Size(name), name)
			}
		case "cat":
			if len(args) != 1 {
				fmt.Println("usage: cat <file>")
				continue
			}
			data, err := machine.Filesystem().ReadFile(args[0])
			if err != nil {
				fmt.Println(err)
				continue
			}
			os.Stdout.Write(data)
			fmt.Println()
		case "write":
			if len(args) < 2 {
				fmt.Println("usage: write <file> <text>")
				continue
			}
			if err := machine.Filesystem().Create(args[0], []byte(strings.Join(args[1:], " "))); err != nil {
				fmt.Println(err)
			}
		case "rm":
			if len(args) != 1 {
				fmt.Println("usage: rm <file>")
				continue
			}
			if err := machine.Filesystem().Delete(args[0]); err != nil {
				fmt.Println(err)
			}
		case "run":
			if len(args) < 1 {
				fmt.Println("usage: run <file> [args]")
				continue
			}
			pid, ok := startImage(machine, args[0], args[1:], maxImage)
			if !ok {
				continue
			}
			for machine.Active(pid) && machine.Runnable() {
				machine.Tick()
			}
			if machine.Active(pid) {
				fmt.Printf("\nprocess %d is blocked; it needs a sender\n", pid)
				continue
			}
			fmt.Printf("\nProgram exited with code %d\n", machine.ExitCode(pid))
		case "ps":
			for pid := 0; pid < nvm.MaxProcesses; pid++ {
				if !machine.Active(pid) {
					continue
				}
				state := "run"
				if machine.Blocked(pid) {
					state = "blocked"
				}
				fmt.Printf("%4d  %-8s %v\n", pid, state, machine.Capabilities(pid))
			}
		default:
			fmt.Printf("unknown command %q; 'help' for commands\n", cmd)
		}
	}
}
