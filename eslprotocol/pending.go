package eslprotocol

import (
	"sync"
)

// reply is the outcome delivered to a pending command.
type reply struct {
	event *Event
	err   error
}

// pendingCommands is the FIFO of commands awaiting a reply. The protocol has
// no request identifiers: the nth reply-class frame answers the nth command
// written to the socket.
type pendingCommands struct {
	mu    sync.Mutex
	slots []chan reply
}

// push appends a new slot and returns it. The channel is buffered so the
// reader never blocks on a caller that stopped waiting.
func (p *pendingCommands) push() chan reply {
	ch := make(chan reply, 1)
	p.mu.Lock()
	p.slots = append(p.slots, ch)
	p.mu.Unlock()
	return ch
}

// resolve delivers ev to the oldest slot. It returns false when no command
// was waiting.
func (p *pendingCommands) resolve(ev *Event) bool {
	p.mu.Lock()
	if len(p.slots) == 0 {
		p.mu.Unlock()
		return false
	}
	ch := p.slots[0]
	p.slots[0] = nil
	p.slots = p.slots[1:]
	p.mu.Unlock()

	ch <- reply{event: ev}
	return true
}

// remove drops ch if it is still queued. Used when the write of its command
// failed, so the next reply is not attributed to it.
func (p *pendingCommands) remove(ch chan reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.slots {
		if s == ch {
			p.slots = append(p.slots[:i:i], p.slots[i+1:]...)
			return
		}
	}
}

// failAll resolves every outstanding slot with err.
func (p *pendingCommands) failAll(err error) int {
	p.mu.Lock()
	slots := p.slots
	p.slots = nil
	p.mu.Unlock()

	for _, ch := range slots {
		ch <- reply{err: err}
	}
	return len(slots)
}

// len returns the number of outstanding slots.
func (p *pendingCommands) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
