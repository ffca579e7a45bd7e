package nvm

import (
	"bytes"
	"testing"
)

func TestFlatMemoryWindows(t *testing.T) {
	fm := NewFlatMemory(4096)

	ok := fm.StoreWord(HeapBase, 0x12345678)
	assert(t, ok, "heap base should be writable")
	v, ok := fm.LoadWord(HeapBase)
	assert(t, ok && v == 0x12345678, "heap round trip got %#x (%v)", v, ok)

	// Little endian layout in the backing store.
	b, ok := fm.LoadWord(HeapBase + 1)
	assert(t, ok && uint32(b)&0xFF == 0x56, "byte order wrong: %#x", b)

	ok = fm.StoreWord(VGABase, 0x0741)
	assert(t, ok, "framebuffer should be writable")
	assert(t, fm.Text()[0] == 0x41 && fm.Text()[1] == 0x07, "text cell not stored")
}

func TestFlatMemoryRejectsOutside(t *testing.T) {
	fm := NewFlatMemory(4096)
	for _, addr := range []uint32{
		0,
		0x50,
		HeapBase - 4,
		HeapBase + 4096 - 3, // word would cross the pool end
		VGAEnd - 3,
		VGAEnd + 100,
	} {
		_, ok := fm.LoadWord(addr)
		assert(t, !ok, "load at %#x should be refused", addr)
		assert(t, !fm.StoreWord(addr, 1), "store at %#x should be refused", addr)
	}
}

func TestAbsoluteAccessFromBytecode(t *testing.T) {
	m, _ := newTestMachine(t)
	m.SetPhysMemory(NewFlatMemory(4096))

	ib := newImage().
		push(HeapBase).push(1234).op(StoreAbs).
		push(HeapBase).op(LoadAbs).
		sys(SysExit)
	pid := loadImage(t, m, ib, CapDrvAccess)
	assert(t, runToExit(t, m, pid) == 1234, "heap round trip exit %d", m.ExitCode(pid))
}

func TestAbsoluteAccessNeedsCapability(t *testing.T) {
	fm := NewFlatMemory(4096)
	fm.StoreWord(HeapBase, 55)

	m, _ := newTestMachine(t)
	m.SetPhysMemory(fm)

	pid := loadImage(t, m, newImage().push(HeapBase).op(LoadAbs))
	assert(t, runToExit(t, m, pid) == -1, "loadabs without DRV_ACCESS should exit -1")

	st := stackOf(m, pid)
	assert(t, len(st) == 1 && st[0] == HeapBase, "denial must leave the stack alone: %v", st)

	v, _ := fm.LoadWord(HeapBase)
	assert(t, v == 55, "memory must be untouched")
}

func TestAbsoluteAccessBadAddress(t *testing.T) {
	m, _ := newTestMachine(t)
	m.SetPhysMemory(NewFlatMemory(4096))

	pid := loadImage(t, m, newImage().push(0x50).op(LoadAbs), CapDrvAccess)
	assert(t, runToExit(t, m, pid) == -1, "unmapped address should exit -1")

	pid = loadImage(t, m, newImage().push(0x50).push(1).op(StoreAbs), CapDrvAccess)
	assert(t, runToExit(t, m, pid) == -1, "unmapped store should exit -1")
}

func TestSerialPorts(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteByte('Q')
	sp := SerialPorts{RW: buf}

	v, err := sp.In(COM1)
	assert(t, err == nil && v == 'Q', "serial in got %q (%v)", v, err)

	err = sp.Out(COM1, 'R')
	assert(t, err == nil && buf.String() == "R", "serial out wrote %q (%v)", buf.String(), err)

	_, err = sp.In(0x2F8)
	assert(t, err != nil, "unwired port should error")
}
