package nvm

// MaxMessages bounds the machine-wide message queue.
const MaxMessages = 32

// Wakeup reasons recorded by the waker. Informational only; user code
// never observes them.
const (
	wakeupNone    = 0
	wakeupMessage = 1
)

// message is one queued single-byte datagram. The queue is a FIFO;
// records are removed by first match on the recipient pid, which keeps
// per-sender ordering intact.
type message struct {
	recipient uint16
	sender    uint16
	content   uint8
}

// enqueueMessage appends a record and wakes the recipient if it is
// parked in a blocked receive. Returns false when the queue is full.
func (m *Machine) enqueueMessage(recipient uint16, sender uint16, content uint8) bool {
	if len(m.queue) >= MaxMessages {
		return false
	}
	m.queue = append(m.queue, message{recipient: recipient, sender: sender, content: content})

	for i := range m.procs {
		p := &m.procs[i]
		if p.active && p.blocked && p.pid == recipient {
			p.blocked = false
			p.wakeup = wakeupMessage
			m.lg.Debugf("process %d unblocked by message from %d", recipient, sender)
			break
		}
	}
	return true
}

// hasMessageFor reports whether any record is queued for pid without
// disturbing the queue.
func (m *Machine) hasMessageFor(pid uint16) bool {
	for i := range m.queue {
		if m.queue[i].recipient == pid {
			return true
		}
	}
	return false
}

// dequeueMessageFor removes and returns the oldest record addressed to
// pid, or false when none is queued.
func (m *Machine) dequeueMessageFor(pid uint16) (message, bool) {
	for i := range m.queue {
		if m.queue[i].recipient == pid {
			msg := m.queue[i]
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return msg, true
		}
	}
	return message{}, false
}

// QueuedMessages reports the number of undelivered records.
func (m *Machine) QueuedMessages() int {
	return len(m.queue)
}
