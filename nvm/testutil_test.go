package nvm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// imageBuilder assembles test images byte by byte, with two-pass label
// resolution for the jump family.
type imageBuilder struct {
	b      []byte
	labels map[string]uint32
	fixups map[string][]int
}

func newImage() *imageBuilder {
	return &imageBuilder{
		b:      []byte(ImageMagic),
		labels: make(map[string]uint32),
		fixups: make(map[string][]int),
	}
}

func (ib *imageBuilder) op(op Opcode) *imageBuilder {
	ib.b = append(ib.b, byte(op))
	return ib
}

func (ib *imageBuilder) u8(v byte) *imageBuilder {
	ib.b = append(ib.b, v)
	return ib
}

func (ib *imageBuilder) u32(v uint32) *imageBuilder {
	ib.b = binary.LittleEndian.AppendUint32(ib.b, v)
	return ib
}

func (ib *imageBuilder) push(v int32) *imageBuilder {
	return ib.op(Push32).u32(uint32(v))
}

func (ib *imageBuilder) load(idx byte) *imageBuilder {
	return ib.op(Load).u8(idx)
}

func (ib *imageBuilder) store(idx byte) *imageBuilder {
	return ib.op(Store).u8(idx)
}

func (ib *imageBuilder) sys(id byte) *imageBuilder {
	return ib.op(Syscall).u8(id)
}

// jumpTo emits a jump with a literal target address.
func (ib *imageBuilder) jumpTo(op Opcode, addr uint32) *imageBuilder {
	return ib.op(op).u32(addr)
}

// jump emits a jump to a label resolved at bytes() time.
func (ib *imageBuilder) jump(op Opcode, label string) *imageBuilder {
	ib.op(op)
	ib.fixups[label] = append(ib.fixups[label], len(ib.b))
	return ib.u32(0)
}

// mark binds a label to the current offset.
func (ib *imageBuilder) mark(label string) *imageBuilder {
	ib.labels[label] = uint32(len(ib.b))
	return ib
}

func (ib *imageBuilder) bytes() []byte {
	for label, offs := range ib.fixups {
		addr, ok := ib.labels[label]
		if !ok {
			panic(fmt.Sprintf("unresolved label %q", label))
		}
		for _, off := range offs {
			binary.LittleEndian.PutUint32(ib.b[off:], addr)
		}
	}
	return ib.b
}

// newTestMachine returns a machine with throttling disabled and the
// console captured into the returned buffer.
func newTestMachine(t *testing.T) (*Machine, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	m := New()
	m.SetTimeSlice(1)
	m.SetConsole(WriterConsole{W: buf})
	return m, buf
}

func loadImage(t *testing.T, m *Machine, ib *imageBuilder, caps ...Capability) int {
	t.Helper()
	pid, err := m.CreateProcess(ib.bytes(), caps)
	assert(t, err == nil, "failed to create process: %v", err)
	return pid
}

// runToExit drives the scheduler until the process terminates, guarding
// against runaway images.
func runToExit(t *testing.T, m *Machine, pid int) int32 {
	t.Helper()
	for i := 0; i < 100000; i++ {
		if !m.Active(pid) {
			return m.ExitCode(pid)
		}
		if !m.Runnable() {
			t.Fatalf("process %d blocked before exiting", pid)
		}
		m.Tick()
	}
	t.Fatalf("process %d still running after tick budget", pid)
	return 0
}

// quiesce ticks until no process is runnable.
func quiesce(t *testing.T, m *Machine) {
	t.Helper()
	for i := 0; i < 100000; i++ {
		if !m.Runnable() {
			return
		}
		m.Tick()
	}
	t.Fatal("machine still runnable after tick budget")
}

func stackOf(m *Machine, pid int) []int32 {
	p := &m.procs[pid]
	out := make([]int32, p.sp)
	copy(out, p.stack[:p.sp])
	return out
}
