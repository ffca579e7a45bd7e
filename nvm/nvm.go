package nvm

import (
	"errors"

	"github.com/gravwell/gravwell/v3/ingest/log"
)

/*
	The NVM is a kernel-resident bytecode virtual machine:
			- little endian
			- 32-bit signed stack architecture
			- per-process value stack (256 slots) and locals array (256 slots)
			- no registers; everything moves through the stack
			- cooperative round-robin scheduling at instruction granularity

	An executable image is a byte sequence starting with the 4-byte magic
	"NVM0" followed by the instruction stream. The instruction pointer
	starts at offset 4 and is always an absolute offset into the image.

	Possible bytecodes
			halt  (terminate with exit code 0)
			nop   (no operation)
			push32 <imm32> (pushes signed 32-bit immediate)
			pop   (drops top of stack)
			dup   (duplicates top of stack)
			swap  (exchanges the top two values)

			add, sub, mul, div, mod (operand order is stack[1] OP stack[0];
				all wrapping signed 32-bit; div and mod fault on zero divisor)

			cmp (pushes -1/0/1 for stack[1] compared against stack[0])
			eq, neq, gt, lt (push 1 or 0; signed comparison of stack[1] vs stack[0])

		The 32-bit jump family takes an absolute image offset as an
		immediate. A target is valid when it lands inside the instruction
		stream (>= 4 and < image size); anything else is fatal.

			jmp32  <addr32> (unconditional)
			jz32   <addr32> (pop value, jump if zero)
			jnz32  <addr32> (pop value, jump if nonzero)
			call32 <addr32> (push return address, jump)
			ret            (pop return address, jump)

			load  <imm8> (push locals[imm8])
			store <imm8> (pop into locals[imm8])

			loadabs  (stack[0] = *stack[0]; whitelisted physical addresses only)
			storeabs (*stack[1] = stack[0]; whitelisted physical addresses only)
				both require the DRV_ACCESS capability

			syscall <imm8> (invoke kernel service by id, see syscall.go)
			break          (debug trap; logs ip/sp and continues)

	Every process carries a capability list (16-bit tokens, CAP_ALL is a
	wildcard). Gated operations check capabilities before touching the
	stack; a denial is fatal to the process. Processes talk through a
	bounded synchronous message queue: a receive on an empty mailbox
	blocks the process until a matching send wakes it.

	Examples:
			push32 3 // stack: [3]
			push32 5 // stack: [5, 3]
			add      // stack: [8]

			push32 8 // stack: [8]
			store 2  // stack: [],  locals[2]: 8
			load 2   // stack: [8], locals[2]: 8
*/

const (
	// MaxProcesses is the process table capacity; a pid is a table index.
	MaxProcesses = 64

	// StackSize and MaxLocals bound the per-process value stack and
	// locals array, in 32-bit slots.
	StackSize = 256
	MaxLocals = 256

	// DefaultTimeSlice throttles interpreter work against the polling
	// cadence of the hosting shell: one instruction per that many ticks.
	DefaultTimeSlice = 2
)

// ImageMagic prefixes every executable image.
const ImageMagic = "NVM0"

const headerSize = 4

var (
	// ErrInvalidMagic is returned by the loader for images that do not
	// start with "NVM0".
	ErrInvalidMagic = errors.New("invalid image magic")

	// ErrNoFreeSlot is returned by the loader when the process table is full.
	ErrNoFreeSlot = errors.New("no free process slots")

	// ErrInitStackTooLarge is returned by the loader when an initial
	// stack payload does not fit the process stack.
	ErrInitStackTooLarge = errors.New("initial stack exceeds stack size")
)

// Fatal interpreter faults. Each one terminates the offending process
// with exit code -1; other processes keep running.
var (
	errInvalidOpcode   = errors.New("invalid opcode")
	errTruncatedInstr  = errors.New("truncated instruction")
	errStackUnderflow  = errors.New("stack underflow")
	errStackOverflow   = errors.New("stack overflow")
	errBadJumpTarget   = errors.New("jump target outside instruction stream")
	errDivisionByZero  = errors.New("division by zero")
	errInvalidVarIndex = errors.New("invalid local variable index")
	errBadAbsAddress   = errors.New("absolute address outside whitelisted ranges")
	errCapDenied       = errors.New("required capability not held")
	errUnknownSyscall  = errors.New("unknown syscall id")
)

// Process is one slot of the process table. A slot owns its stack,
// locals and image exclusively; only the interpreter of the currently
// scheduled process mutates it.
type Process struct {
	image []byte
	size  uint32
	ip    uint32

	stack [StackSize]int32
	sp    uint32

	locals [MaxLocals]int32

	caps []Capability

	pid      uint16
	active   bool
	blocked  bool
	wakeup   uint8
	exitCode int32
}

// Machine owns the process table, the scheduler cursor, the message
// queue and the platform collaborators. It is not safe for concurrent
// use; Tick is the only entry point for forward progress and callers
// exposing it on multiple goroutines must serialise each tick.
type Machine struct {
	procs      [MaxProcesses]Process
	current    int
	timerTicks uint32
	timeSlice  uint32

	queue []message

	fs    *FileSystem
	cons  Console
	ports PortBus
	mem   PhysMemory

	lg *log.Logger
}

// New returns a machine with an empty process table, a fresh in-memory
// filesystem and silent diagnostics. Platform collaborators default to
// a discarding console, no port bus and no physical memory window.
func New() *Machine {
	return &Machine{
		timeSlice: DefaultTimeSlice,
		queue:     make([]message, 0, MaxMessages),
		fs:        NewFileSystem(),
		cons:      discardConsole{},
		lg:        log.NewDiscardLogger(),
	}
}

// SetLogger installs the kernel diagnostic channel. Fatal faults,
// loader rejections and capability denials are reported through it.
func (m *Machine) SetLogger(lg *log.Logger) {
	if lg != nil {
		m.lg = lg
	}
}

// SetConsole routes byte output from the PRINT syscall and the console
// file descriptors.
func (m *Machine) SetConsole(c Console) {
	if c != nil {
		m.cons = c
	}
}

// SetPortBus attaches the raw IO port collaborator used by the
// PORT_IN_B/PORT_OUT_B syscalls.
func (m *Machine) SetPortBus(b PortBus) {
	m.ports = b
}

// SetPhysMemory attaches the whitelisted absolute memory window used by
// loadabs/storeabs.
func (m *Machine) SetPhysMemory(mem PhysMemory) {
	m.mem = mem
}

// SetTimeSlice adjusts scheduler throttling: interpreter work happens
// once per n ticks. Values below 1 disable throttling.
func (m *Machine) SetTimeSlice(n int) {
	if n < 1 {
		n = 1
	}
	m.timeSlice = uint32(n)
}

// Filesystem exposes the VFS the syscall layer operates on.
func (m *Machine) Filesystem() *FileSystem {
	return m.fs
}

// Active reports whether the slot holds a live process.
func (m *Machine) Active(pid int) bool {
	if pid < 0 || pid >= MaxProcesses {
		return false
	}
	return m.procs[pid].active
}

// Blocked reports whether a live process is parked in a blocked
// receive.
func (m *Machine) Blocked(pid int) bool {
	if pid < 0 || pid >= MaxProcesses {
		return false
	}
	return m.procs[pid].active && m.procs[pid].blocked
}

// ExitCode returns the recorded exit code of a terminated process, or
// -1 for out-of-range pids and still-running processes.
func (m *Machine) ExitCode(pid int) int32 {
	if pid < 0 || pid >= MaxProcesses || m.procs[pid].active {
		return -1
	}
	return m.procs[pid].exitCode
}

// Capabilities returns a copy of a live process's capability list.
func (m *Machine) Capabilities(pid int) []Capability {
	if pid < 0 || pid >= MaxProcesses || !m.procs[pid].active {
		return nil
	}
	out := make([]Capability, len(m.procs[pid].caps))
	copy(out, m.procs[pid].caps)
	return out
}

// Runnable reports whether any process is active and not blocked.
func (m *Machine) Runnable() bool {
	for i := range m.procs {
		if m.procs[i].active && !m.procs[i].blocked {
			return true
		}
	}
	return false
}

// Kill clears a slot from the outside, for controllers that need to
// error-terminate a blocked process. The slot becomes free for reuse.
func (m *Machine) Kill(pid int, code int32) {
	if pid < 0 || pid >= MaxProcesses || !m.procs[pid].active {
		return
	}
	m.terminate(&m.procs[pid], code)
}

// terminate retires a process normally. The slot is immediately
// eligible for reuse by the loader.
func (m *Machine) terminate(p *Process, code int32) {
	p.active = false
	p.blocked = false
	p.exitCode = code
	m.lg.Debugf("process %d exited with code %d", p.pid, code)
}

// fault retires a process abnormally with exit code -1 and reports the
// cause on the diagnostic channel. No further state is committed by the
// failing instruction.
func (m *Machine) fault(p *Process, cause error) {
	p.active = false
	p.blocked = false
	p.exitCode = -1
	m.lg.Warnf("process %d faulted at ip=%d: %v", p.pid, p.ip, cause)
}
