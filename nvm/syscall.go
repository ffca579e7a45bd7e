package nvm

// Syscall ids dispatched by the syscall instruction.
const (
	SysExit       = 0x00
	SysSpawn      = 0x01
	SysRead       = 0x02
	SysWrite      = 0x03
	SysOpen       = 0x04
	SysDelete     = 0x05
	SysMsgSend    = 0x09
	SysMsgReceive = 0x0A
	SysPortInB    = 0x0B
	SysPortOutB   = 0x0C
	SysPrint      = 0x0D
)

// Console file descriptors: writes to stdout/stderr land on the console
// instead of the VFS.
const (
	fdStdout = 1
	fdStderr = 2
)

const consoleColour = 15

// syscall dispatches one kernel service by id.
//
// Arguments cross the trust boundary on the VM stack, so every gated
// handler checks its capability before popping anything; a denial is
// fatal and leaves the stack exactly as the caller built it. SPAWN,
// READ, WRITE, OPEN and DELETE report non-fatal failures as -1 pushed
// onto the stack, and PORT_IN_B puts -1 in place of the port when the
// read fails; MSG_SEND, PORT_OUT_B and PRINT push no result, and a
// rejected MSG_SEND leaves its operands in place.
func (m *Machine) syscall(p *Process, id byte) {
	switch id {
	case SysExit:
		m.sysExit(p)
	case SysSpawn:
		m.sysSpawn(p)
	case SysRead:
		m.sysRead(p)
	case SysWrite:
		m.sysWrite(p)
	case SysOpen:
		m.sysOpen(p)
	case SysDelete:
		m.sysDelete(p)
	case SysMsgSend:
		m.sysMsgSend(p)
	case SysMsgReceive:
		m.sysMsgReceive(p)
	case SysPortInB:
		m.sysPortIn(p)
	case SysPortOutB:
		m.sysPortOut(p)
	case SysPrint:
		m.sysPrint(p)
	default:
		m.lg.Warnf("process %d: unknown syscall 0x%02X", p.pid, id)
		m.fault(p, errUnknownSyscall)
	}
}

// sysExit terminates the caller with the code on top of the stack, or
// zero when the stack is empty.
func (m *Machine) sysExit(p *Process) {
	var code int32
	if p.sp > 0 {
		p.sp--
		code = p.stack[p.sp]
	}
	m.terminate(p, code)
}

// sysRead pops a descriptor and pushes one byte read from it, 0 at end
// of file or -1 on error.
func (m *Machine) sysRead(p *Process) {
	if !p.hasCap(CapFSRead) {
		m.fault(p, errCapDenied)
		return
	}
	if p.sp < 1 {
		m.pushResult(p, -1)
		return
	}
	fd := p.stack[p.sp-1]
	p.sp--

	var result int32 = -1
	if fd >= 0 {
		var one [1]byte
		switch n := m.fs.ReadFd(int(fd), one[:]); n {
		case 1:
			result = int32(one[0])
		case 0:
			result = 0 // EOF
		}
	}
	m.pushResult(p, result)
}

// sysWrite pops a byte and a descriptor and writes the byte; the
// stdout/stderr descriptors route to the console.
func (m *Machine) sysWrite(p *Process) {
	if !p.hasCap(CapFSWrite) {
		m.fault(p, errCapDenied)
		return
	}
	if p.sp < 2 {
		m.pushResult(p, -1)
		return
	}
	b := byte(p.stack[p.sp-1])
	fd := p.stack[p.sp-2]
	p.sp -= 2

	var result int32 = -1
	switch {
	case fd == fdStdout || fd == fdStderr:
		m.cons.PutByte(b, consoleColour)
		result = 1
	case fd >= 0:
		if n := m.fs.WriteFd(int(fd), []byte{b}); n == 1 {
			result = 1
		}
	}
	m.pushResult(p, result)
}

// sysOpen consumes a zero-terminated path from the stack and pushes the
// new descriptor, or -1 when the path is malformed or absent.
func (m *Machine) sysOpen(p *Process) {
	if !p.hasCap(CapFSRead) {
		m.fault(p, errCapDenied)
		return
	}
	path, ok := p.popString()
	if !ok {
		m.pushResult(p, -1)
		return
	}
	fd := m.fs.Open(path, FlagRead|FlagWrite)
	m.lg.Debugf("process %d: open %q -> fd %d", p.pid, path, fd)
	m.pushResult(p, int32(fd))
}

// sysDelete consumes a zero-terminated path and unlinks it.
func (m *Machine) sysDelete(p *Process) {
	if !p.hasCap(CapFSDelete) {
		m.fault(p, errCapDenied)
		return
	}
	path, ok := p.popString()
	if !ok {
		m.pushResult(p, -1)
		return
	}
	if err := m.fs.Delete(path); err != nil {
		m.lg.Debugf("process %d: delete %q: %v", p.pid, path, err)
		m.pushResult(p, -1)
		return
	}
	m.pushResult(p, 0)
}

// sysMsgSend pops a byte and a recipient pid and enqueues the message,
// waking the recipient if it is blocked. A full queue rejects the send
// and leaves the operands for the caller to retry.
func (m *Machine) sysMsgSend(p *Process) {
	if p.sp < 2 {
		m.lg.Warnf("process %d: stack underflow in msg_send", p.pid)
		return
	}
	content := uint8(p.stack[p.sp-1])
	recipient := uint16(p.stack[p.sp-2])

	if !m.enqueueMessage(recipient, p.pid, content) {
		m.lg.Warnf("process %d: message queue full", p.pid)
		return
	}
	p.sp -= 2
}

// sysMsgReceive delivers the oldest message addressed to the caller as
// a sender/content pair. With an empty mailbox the instruction pointer
// is rewound to the syscall opcode and the process parks blocked, so
// the wakeup re-executes the receive and no message is ever consumed
// by a blocked attempt.
func (m *Machine) sysMsgReceive(p *Process) {
	if !m.hasMessageFor(p.pid) {
		p.ip -= 2 // back to the syscall opcode
		p.blocked = true
		m.lg.Debugf("process %d: no messages, blocking", p.pid)
		return
	}
	// Room check before the dequeue: a fault here must leave the
	// message queued for whoever reaps the slot, not drop it.
	if p.sp+2 > StackSize {
		m.fault(p, errStackOverflow)
		return
	}
	msg, _ := m.dequeueMessageFor(p.pid)
	p.stack[p.sp] = int32(msg.sender)
	p.stack[p.sp+1] = int32(msg.content)
	p.sp += 2
}

// sysPortIn replaces the port number on top of the stack with the byte
// read from that port.
func (m *Machine) sysPortIn(p *Process) {
	if !p.hasCap(CapDrvAccess) {
		m.fault(p, errCapDenied)
		return
	}
	if p.sp < 1 {
		m.lg.Warnf("process %d: stack underflow in port_in", p.pid)
		return
	}
	port := uint16(p.stack[p.sp-1])

	var result int32 = -1
	if m.ports != nil {
		if v, err := m.ports.In(port); err == nil {
			result = int32(v)
		}
	}
	p.stack[p.sp-1] = result
}

// sysPortOut pops a value and a port number and writes the byte out.
func (m *Machine) sysPortOut(p *Process) {
	if !p.hasCap(CapDrvAccess) {
		m.fault(p, errCapDenied)
		return
	}
	if p.sp < 2 {
		m.lg.Warnf("process %d: stack underflow in port_out", p.pid)
		return
	}
	v := uint8(p.stack[p.sp-1])
	port := uint16(p.stack[p.sp-2])
	p.sp -= 2

	if m.ports != nil {
		if err := m.ports.Out(port, v); err != nil {
			m.lg.Debugf("process %d: port_out 0x%X: %v", p.pid, port, err)
		}
	}
}

// sysPrint pops one byte and writes it to the console.
func (m *Machine) sysPrint(p *Process) {
	if p.sp < 1 {
		m.lg.Warnf("process %d: stack underflow in print", p.pid)
		return
	}
	b := byte(p.stack[p.sp-1])
	p.sp--
	m.cons.PutByte(b, consoleColour)
}

// pushResult pushes a handler result, terminating the caller if its
// stack has no room left.
func (m *Machine) pushResult(p *Process, v int32) {
	if err := p.push(v); err != nil {
		m.fault(p, err)
	}
}

// popString consumes a zero-terminated byte run from the stack: the
// terminator sits below the characters and the topmost entry is the
// last character. Returns false (stack untouched) when no terminator
// exists.
func (p *Process) popString() (string, bool) {
	if p.sp == 0 {
		return "", false
	}
	term := -1
	for i := int(p.sp) - 1; i >= 0; i-- {
		if p.stack[i] == 0 {
			term = i
			break
		}
	}
	if term < 0 {
		return "", false
	}
	buf := make([]byte, 0, int(p.sp)-term-1)
	for i := term + 1; i < int(p.sp); i++ {
		buf = append(buf, byte(p.stack[i]))
	}
	p.sp = uint32(term)
	return string(buf), true
}
