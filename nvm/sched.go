package nvm

import "github.com/gravwell/gravwell/v3/ingest/log"

// CreateProcess validates an image and seats it in the first free slot
// with the given initial capabilities. Returns the new pid.
func (m *Machine) CreateProcess(image []byte, caps []Capability) (int, error) {
	return m.CreateProcessWithStack(image, caps, nil)
}

// CreateProcessWithStack additionally pre-populates the value stack,
// which SPAWN uses to hand argument strings to the child. The slice is
// copied; the caller keeps ownership of both arguments.
func (m *Machine) CreateProcessWithStack(image []byte, caps []Capability, initial []int32) (int, error) {
	if len(image) < headerSize || string(image[:headerSize]) != ImageMagic {
		m.lg.Warnf("rejected image: %v", ErrInvalidMagic)
		return -1, ErrInvalidMagic
	}
	if len(initial) > StackSize {
		return -1, ErrInitStackTooLarge
	}

	for i := range m.procs {
		p := &m.procs[i]
		if p.active {
			continue
		}

		p.image = image
		p.size = uint32(len(image))
		p.ip = headerSize
		p.sp = 0
		p.pid = uint16(i)
		p.active = true
		p.blocked = false
		p.wakeup = wakeupNone
		p.exitCode = 0
		p.locals = [MaxLocals]int32{}

		p.caps = p.caps[:0]
		for j := 0; j < len(caps) && j < MaxCaps; j++ {
			p.caps = append(p.caps, caps[j])
		}

		for j, v := range initial {
			p.stack[j] = v
		}
		p.sp = uint32(len(initial))

		m.lg.Info("process created", log.KV("pid", i),
			log.KV("size", len(image)), log.KV("caps", len(p.caps)))
		return i, nil
	}

	m.lg.Warnf("rejected image: %v", ErrNoFreeSlot)
	return -1, ErrNoFreeSlot
}

// Tick advances the round-robin cursor to the next runnable process and
// executes exactly one of its instructions. Ticks where no process is
// runnable, or that fall between time-slice boundaries, are no-ops.
func (m *Machine) Tick() {
	m.timerTicks++
	if m.timerTicks%m.timeSlice != 0 {
		return
	}

	start := m.current
	for {
		m.current = (m.current + 1) % MaxProcesses
		if p := &m.procs[m.current]; p.active && !p.blocked {
			break
		}
		if m.current == start {
			break
		}
	}

	p := &m.procs[m.current]
	if !p.active || p.blocked {
		m.current = start
		return
	}

	if p.ip >= p.size {
		// Ran off the end of the image: a natural exit.
		m.lg.Debugf("process %d reached end of image", p.pid)
		m.terminate(p, 0)
		return
	}
	m.execInstruction(p)
}
