package nvm

import "encoding/binary"

// Decode helpers. Each one refuses to read past the end of the image;
// a short read is a fatal fault for the current process.

func (p *Process) fetchU8() (byte, error) {
	if p.ip >= p.size {
		return 0, errTruncatedInstr
	}
	b := p.image[p.ip]
	p.ip++
	return b, nil
}

func (p *Process) fetchU32() (uint32, error) {
	if p.ip+4 > p.size {
		return 0, errTruncatedInstr
	}
	v := binary.LittleEndian.Uint32(p.image[p.ip:])
	p.ip += 4
	return v, nil
}

func (p *Process) push(v int32) error {
	if p.sp >= StackSize {
		return errStackOverflow
	}
	p.stack[p.sp] = v
	p.sp++
	return nil
}

func (p *Process) pop() (int32, error) {
	if p.sp == 0 {
		return 0, errStackUnderflow
	}
	p.sp--
	return p.stack[p.sp], nil
}

// jump validates an absolute target before installing it; anything
// outside the instruction stream is fatal.
func (p *Process) jump(addr uint32) error {
	if addr < headerSize || addr >= p.size {
		return errBadJumpTarget
	}
	p.ip = addr
	return nil
}

// binary pops the top operand, overwrites the second with the result
// and shrinks the stack by one. Operand order is second OP top.
func (p *Process) binary(op func(second, top int32) int32) error {
	if p.sp < 2 {
		return errStackUnderflow
	}
	top := p.stack[p.sp-1]
	second := p.stack[p.sp-2]
	p.stack[p.sp-2] = op(second, top)
	p.sp--
	return nil
}

func boolWord(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// This is considered a tight loop. The preconditions of every
// instruction are checked before any mutation so that a fault never
// leaves a half-applied stack behind.
//
// At entry the scheduler guarantees 4 <= ip < size.
func (m *Machine) execInstruction(p *Process) {
	op := Opcode(p.image[p.ip])
	p.ip++

	var err error
	switch op {
	case Halt:
		m.terminate(p, 0)
		return
	case Nop:
	case Push32:
		var imm uint32
		if imm, err = p.fetchU32(); err == nil {
			err = p.push(int32(imm))
		}
	case Pop:
		_, err = p.pop()
	case Dup:
		if p.sp == 0 {
			err = errStackUnderflow
		} else {
			err = p.push(p.stack[p.sp-1])
		}
	case Swap:
		if p.sp < 2 {
			err = errStackUnderflow
		} else {
			p.stack[p.sp-1], p.stack[p.sp-2] = p.stack[p.sp-2], p.stack[p.sp-1]
		}
	case Add:
		err = p.binary(func(second, top int32) int32 { return second + top })
	case Sub:
		err = p.binary(func(second, top int32) int32 { return second - top })
	case Mul:
		err = p.binary(func(second, top int32) int32 { return second * top })
	case Div:
		if p.sp >= 2 && p.stack[p.sp-1] == 0 {
			err = errDivisionByZero
			break
		}
		err = p.binary(func(second, top int32) int32 { return second / top })
	case Mod:
		if p.sp >= 2 && p.stack[p.sp-1] == 0 {
			err = errDivisionByZero
			break
		}
		err = p.binary(func(second, top int32) int32 { return second % top })
	case Cmp:
		err = p.binary(func(second, top int32) int32 {
			if second < top {
				return -1
			} else if second == top {
				return 0
			}
			return 1
		})
	case Eq:
		err = p.binary(func(second, top int32) int32 { return boolWord(second == top) })
	case Neq:
		err = p.binary(func(second, top int32) int32 { return boolWord(second != top) })
	case Gt:
		err = p.binary(func(second, top int32) int32 { return boolWord(second > top) })
	case Lt:
		err = p.binary(func(second, top int32) int32 { return boolWord(second < top) })
	case Jmp32:
		var addr uint32
		if addr, err = p.fetchU32(); err == nil {
			err = p.jump(addr)
		}
	case Jz32, Jnz32:
		var addr uint32
		if addr, err = p.fetchU32(); err != nil {
			break
		}
		if p.sp == 0 {
			err = errStackUnderflow
			break
		}
		taken := (op == Jz32) == (p.stack[p.sp-1] == 0)
		if taken {
			if err = p.jump(addr); err != nil {
				break
			}
		}
		p.sp--
	case Call32:
		var addr uint32
		if addr, err = p.fetchU32(); err != nil {
			break
		}
		// Validate the target before pushing the return address so a
		// bad call leaves the stack untouched.
		if addr < headerSize || addr >= p.size {
			err = errBadJumpTarget
			break
		}
		if err = p.push(int32(p.ip)); err == nil {
			p.ip = addr
		}
	case Ret:
		if p.sp == 0 {
			err = errStackUnderflow
			break
		}
		if err = p.jump(uint32(p.stack[p.sp-1])); err == nil {
			p.sp--
		}
	case Load:
		var idx byte
		if idx, err = p.fetchU8(); err != nil {
			break
		}
		if int(idx) >= MaxLocals {
			err = errInvalidVarIndex
			break
		}
		err = p.push(p.locals[idx])
	case Store:
		var idx byte
		if idx, err = p.fetchU8(); err != nil {
			break
		}
		if int(idx) >= MaxLocals {
			err = errInvalidVarIndex
			break
		}
		var v int32
		if v, err = p.pop(); err == nil {
			p.locals[idx] = v
		}
	case LoadAbs:
		// Capability first: a denial must not disturb the stack.
		if !p.hasCap(CapDrvAccess) {
			err = errCapDenied
			break
		}
		if p.sp == 0 {
			err = errStackUnderflow
			break
		}
		if m.mem == nil {
			err = errBadAbsAddress
			break
		}
		v, ok := m.mem.LoadWord(uint32(p.stack[p.sp-1]))
		if !ok {
			err = errBadAbsAddress
			break
		}
		p.stack[p.sp-1] = v
	case StoreAbs:
		if !p.hasCap(CapDrvAccess) {
			err = errCapDenied
			break
		}
		if p.sp < 2 {
			err = errStackUnderflow
			break
		}
		if m.mem == nil {
			err = errBadAbsAddress
			break
		}
		addr := uint32(p.stack[p.sp-2])
		v := p.stack[p.sp-1]
		if !m.mem.StoreWord(addr, v) {
			err = errBadAbsAddress
			break
		}
		p.sp -= 2
	case Syscall:
		var id byte
		if id, err = p.fetchU8(); err == nil {
			m.syscall(p, id)
			return
		}
	case Break:
		m.lg.Debugf("process %d break: ip=%d sp=%d", p.pid, p.ip, p.sp)
	default:
		err = errInvalidOpcode
	}

	if err != nil {
		m.fault(p, err)
	}
}
