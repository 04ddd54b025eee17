package server

import "github.com/chronologos/epdserve/internal/protocol"

// NoActive is Arbiter.Active's result when no client holds the panel.
const NoActive = -1

// Notice is a notification the arbiter wants delivered to a slot.
type Notice struct {
	Slot int
	Op   protocol.Opcode
}

type claim struct {
	set      bool
	priority uint32
	seq      uint64 // order of the hello that set priority
}

// Arbiter decides which connected client drives the panel. It does no I/O:
// every transition returns the notices to send, in order.
//
// The active client always has the highest priority among prioritized
// slots. A later client needs a strictly greater priority to take over, so
// among equals the earliest hello wins.
type Arbiter struct {
	claims []claim
	active int
	seq    uint64
}

// NewArbiter creates an arbiter for n slots.
func NewArbiter(n int) *Arbiter {
	return &Arbiter{
		claims: make([]claim, n),
		active: NoActive,
	}
}

// Active returns the active slot or NoActive.
func (a *Arbiter) Active() int {
	return a.active
}

// Priority returns a slot's priority and whether it has said hello.
func (a *Arbiter) Priority(slot int) (uint32, bool) {
	c := a.claims[slot]
	return c.priority, c.set
}

// Hello records slot's priority.
func (a *Arbiter) Hello(slot int, priority uint32) []Notice {
	if slot == a.active {
		// The incumbent keeps its place in the tie order and only yields to
		// a strictly greater priority.
		a.claims[slot].priority = priority
		if other := a.best(slot); other != NoActive && a.claims[other].priority > priority {
			a.active = other
			return []Notice{
				{Slot: slot, Op: protocol.OpEnqueued},
				{Slot: other, Op: protocol.OpActivated},
			}
		}
		return []Notice{{Slot: slot, Op: protocol.OpActivated}}
	}

	a.seq++
	a.claims[slot] = claim{set: true, priority: priority, seq: a.seq}

	if a.active == NoActive || priority > a.claims[a.active].priority {
		var out []Notice
		if a.active != NoActive {
			out = append(out, Notice{Slot: a.active, Op: protocol.OpEnqueued})
		}
		a.active = slot
		return append(out, Notice{Slot: slot, Op: protocol.OpActivated})
	}
	return []Notice{{Slot: slot, Op: protocol.OpEnqueued}}
}

// Remove clears slot's priority. If it was active, the best remaining client
// is promoted and told so.
func (a *Arbiter) Remove(slot int) []Notice {
	a.claims[slot] = claim{}
	if slot != a.active {
		return nil
	}
	a.active = a.best(NoActive)
	if a.active == NoActive {
		return nil
	}
	return []Notice{{Slot: a.active, Op: protocol.OpActivated}}
}

// best returns the prioritized slot other than skip with the highest
// priority, the earliest hello breaking ties, or NoActive.
func (a *Arbiter) best(skip int) int {
	best := NoActive
	for i, c := range a.claims {
		if !c.set || i == skip {
			continue
		}
		if best == NoActive {
			best = i
			continue
		}
		b := a.claims[best]
		if c.priority > b.priority || (c.priority == b.priority && c.seq < b.seq) {
			best = i
		}
	}
	return best
}
