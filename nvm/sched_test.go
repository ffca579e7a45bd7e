package nvm

import (
	"errors"
	"testing"
)

func counterLoop() *imageBuilder {
	return newImage().
		mark("loop").
		load(0).push(1).op(Add).store(0).
		jump(Jmp32, "loop")
}

func TestLoaderRejectsBadMagic(t *testing.T) {
	m, _ := newTestMachine(t)
	for _, img := range [][]byte{
		nil,
		[]byte("NV"),
		[]byte("ELF0\x00\x00"),
		[]byte("nvm0\x00"),
	} {
		_, err := m.CreateProcess(img, nil)
		assert(t, errors.Is(err, ErrInvalidMagic), "image %q should be rejected, got %v", img, err)
	}
}

func TestLoaderInitialState(t *testing.T) {
	m, _ := newTestMachine(t)
	pid, err := m.CreateProcessWithStack(newImage().op(Halt).bytes(),
		[]Capability{CapFSRead, CapFSWrite}, []int32{1, 2, 3})
	assert(t, err == nil, "create: %v", err)

	p := &m.procs[pid]
	assert(t, p.ip == 4, "ip should start past the header, got %d", p.ip)
	assert(t, p.sp == 3, "initial stack not seated, sp=%d", p.sp)
	assert(t, p.stack[0] == 1 && p.stack[2] == 3, "initial stack content wrong")
	assert(t, len(p.caps) == 2, "caps not installed")
	assert(t, p.active && !p.blocked, "fresh process should be runnable")
}

func TestLoaderRejectsOversizedInitialStack(t *testing.T) {
	m, _ := newTestMachine(t)
	big := make([]int32, StackSize+1)
	_, err := m.CreateProcessWithStack(newImage().op(Halt).bytes(), nil, big)
	assert(t, errors.Is(err, ErrInitStackTooLarge), "expected ErrInitStackTooLarge, got %v", err)
}

func TestLoaderCapsTruncatedAtMax(t *testing.T) {
	m, _ := newTestMachine(t)
	many := make([]Capability, MaxCaps+4)
	pid, err := m.CreateProcess(newImage().op(Halt).bytes(), many)
	assert(t, err == nil, "create: %v", err)
	assert(t, len(m.procs[pid].caps) == MaxCaps, "caps list should cap at %d", MaxCaps)
}

func TestProcessTableExhaustion(t *testing.T) {
	m, _ := newTestMachine(t)
	img := counterLoop().bytes()
	for i := 0; i < MaxProcesses; i++ {
		_, err := m.CreateProcess(img, nil)
		assert(t, err == nil, "slot %d: %v", i, err)
	}
	_, err := m.CreateProcess(img, nil)
	assert(t, errors.Is(err, ErrNoFreeSlot), "expected ErrNoFreeSlot, got %v", err)
}

func TestSlotReuseAfterExit(t *testing.T) {
	m, _ := newTestMachine(t)
	pid := loadImage(t, m, newImage().op(Halt))
	runToExit(t, m, pid)

	again := loadImage(t, m, newImage().op(Halt))
	assert(t, again == pid, "terminated slot should be reused, got %d", again)
}

func TestRoundRobinInterleaving(t *testing.T) {
	m, _ := newTestMachine(t)
	a := loadImage(t, m, counterLoop())
	b := loadImage(t, m, counterLoop())

	for i := 0; i < 100; i++ {
		m.Tick()
	}
	ca, cb := m.procs[a].locals[0], m.procs[b].locals[0]
	assert(t, ca > 0 && cb > 0, "both processes should progress: %d/%d", ca, cb)
	diff := ca - cb
	if diff < 0 {
		diff = -diff
	}
	assert(t, diff <= 1, "round robin drifted: %d vs %d", ca, cb)
}

func TestTimeSliceThrottling(t *testing.T) {
	m, _ := newTestMachine(t)
	m.SetTimeSlice(2)
	pid := loadImage(t, m, newImage().push(1).op(Halt))

	m.Tick() // tick 1: between slices, no work
	assert(t, m.procs[pid].ip == 4, "instruction ran on an off-slice tick")
	m.Tick() // tick 2: one instruction
	assert(t, m.procs[pid].ip == 9, "push32 should have run, ip=%d", m.procs[pid].ip)
	assert(t, m.Active(pid), "halt must not have run yet")

	m.Tick()
	m.Tick()
	assert(t, !m.Active(pid), "halt should have run on the second slice")
}

func TestTickWithNothingRunnable(t *testing.T) {
	m, _ := newTestMachine(t)
	m.Tick() // empty table: no-op
	assert(t, !m.Runnable(), "empty machine is not runnable")

	pid := loadImage(t, m, newImage().sys(SysMsgReceive))
	for i := 0; i < 10 && !m.Blocked(pid); i++ {
		m.Tick()
	}
	assert(t, m.Blocked(pid), "receiver should block")
	assert(t, !m.Runnable(), "a blocked-only table is not runnable")
	m.Tick() // must be a clean no-op
	assert(t, m.Blocked(pid), "no-op tick disturbed the blocked process")
}

func TestKillFreesSlot(t *testing.T) {
	m, _ := newTestMachine(t)
	pid := loadImage(t, m, newImage().sys(SysMsgReceive))
	for i := 0; i < 10 && !m.Blocked(pid); i++ {
		m.Tick()
	}
	assert(t, m.Blocked(pid), "receiver should block")

	m.Kill(pid, -1)
	assert(t, !m.Active(pid), "killed process should be gone")
	assert(t, m.ExitCode(pid) == -1, "kill code not recorded")

	again := loadImage(t, m, newImage().op(Halt))
	assert(t, again == pid, "externally cleared slot should be free")
}
