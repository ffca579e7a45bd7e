package nvm

// sysSpawn loads a new image from an open descriptor and seats it in a
// fresh slot. Stack at entry (top down): fd, argc, then argc argument
// strings, each a run of byte-valued entries sitting above its zero
// terminator, first argument topmost.
//
// The child starts with the arguments re-marshalled onto its stack:
// the last argument deepest, each as a byte run with a trailing zero,
// and argc on top, so the child recovers argv in natural order by
// scanning downward. Capabilities are inherited from the parent.
func (m *Machine) sysSpawn(p *Process) {
	if !p.hasCap(CapFSRead) {
		m.fault(p, errCapDenied)
		return
	}
	if p.sp < 2 {
		m.lg.Warnf("process %d: stack underflow in spawn", p.pid)
		m.pushResult(p, -1)
		return
	}
	fd := p.stack[p.sp-1]
	argc := p.stack[p.sp-2]
	p.sp -= 2

	if fd < 0 || argc < 0 {
		m.pushResult(p, -1)
		return
	}
	m.lg.Debugf("process %d: spawn fd=%d argc=%d", p.pid, fd, argc)

	argv, ok := p.popArgs(int(argc))
	if !ok {
		m.lg.Warnf("process %d: malformed argument strings in spawn", p.pid)
		m.pushResult(p, -1)
		return
	}

	image, ok := m.readImage(int(fd))
	if !ok {
		m.lg.Warnf("process %d: spawn failed reading fd %d", p.pid, fd)
		m.pushResult(p, -1)
		return
	}

	pid, err := m.CreateProcessWithStack(image, p.caps, buildArgStack(argv))
	if err != nil {
		m.lg.Warnf("process %d: spawn: %v", p.pid, err)
		m.pushResult(p, -1)
		return
	}
	m.lg.Infof("process %d: spawned process %d", p.pid, pid)
	m.pushResult(p, int32(pid))
}

// popArgs collects argc zero-terminated byte runs scanning down the
// stack, topmost run first, and trims the stack below the consumed
// region. On malformed input nothing is consumed and the caller
// reports failure.
func (p *Process) popArgs(argc int) ([]string, bool) {
	argv := make([]string, 0, argc)
	pos := int(p.sp) - 1

	for len(argv) < argc {
		if pos < 0 {
			return nil, false
		}
		end := pos
		term := -1
		for pos >= 0 {
			if p.stack[pos] == 0 {
				term = pos
				break
			}
			pos--
		}
		// An empty run (terminator on top) is malformed too.
		if term < 0 || term == end {
			return nil, false
		}
		buf := make([]byte, 0, end-term)
		for i := term + 1; i <= end; i++ {
			buf = append(buf, byte(p.stack[i]))
		}
		argv = append(argv, string(buf))
		pos = term - 1
	}

	p.sp = uint32(pos + 1)
	return argv, true
}

// ArgStack marshals an argument vector the way SPAWN hands one to a
// child, for hosts that seat processes directly through the loader.
func ArgStack(argv []string) []int32 {
	return buildArgStack(argv)
}

// buildArgStack lays out the child's initial stack: arguments in
// reverse order as byte runs with trailing zeros, argc on top.
func buildArgStack(argv []string) []int32 {
	initial := make([]int32, 0, 1)
	for i := len(argv) - 1; i >= 0; i-- {
		for _, b := range []byte(argv[i]) {
			initial = append(initial, int32(b))
		}
		initial = append(initial, 0)
	}
	return append(initial, int32(len(argv)))
}

// readImage drains a descriptor byte by byte into a fresh image buffer,
// growing as it goes. Any read error abandons the spawn.
func (m *Machine) readImage(fd int) ([]byte, bool) {
	image := make([]byte, 0, 1024)
	var one [1]byte
	for {
		switch n := m.fs.ReadFd(fd, one[:]); n {
		case 1:
			image = append(image, one[0])
		case 0:
			return image, true
		default:
			return nil, false
		}
	}
}
