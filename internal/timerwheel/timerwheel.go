// Package timerwheel implements a coarse expiry wheel: a fixed number of
// 100ms-tick slots, each holding the
// indices of sessions due to expire in that slot. Re-arming an existing
// entry — the common case, since every matched packet re-arms its session's
// timer — is O(1), unlike a priority queue.
package timerwheel

// Tick is the wheel's fixed granularity.
const Tick = 100 * Millisecond

// Millisecond expresses ticks in terms of seconds, since the rest of the
// system (estimators, pipeline) works in fractional seconds rather than
// time.Duration — "now" arrives from an external wall-clock/monotonic time
// source as a real number of seconds.
const Millisecond = 0.001

// Timeout is the default expiry used for all protocol variants today: 300
// ticks, approximately 30 seconds.
const Timeout = 300

// handle tracks where a session's entry currently lives in the wheel, so
// Update can remove it from its old slot in O(1).
type handle struct {
	slot    int
	inWheel bool
}

// Wheel is a coarse expiry wheel. It is not safe for concurrent use — like
// session.Table, it belongs to exactly one pipeline shard.
type Wheel struct {
	slots     [][]int // session indices due to expire in each slot
	size      int
	cursor    int     // slot of the next tick not yet serviced
	lastNow   float64 // wall-clock time corresponding to cursor
	handles   []handle
	armed     bool
}

// New creates a wheel with size slots. size should be at least
// Timeout+1 so re-arming never wraps onto an already-due slot before it can
// be serviced.
func New(size, sessionCapacity int) *Wheel {
	return &Wheel{
		slots:   make([][]int, size),
		size:    size,
		handles: make([]handle, sessionCapacity),
	}
}

func (w *Wheel) slotFor(now float64, ticks int) int {
	nowTicks := int(now / Tick)
	return (nowTicks + ticks) % w.size
}

func (w *Wheel) removeFromSlot(index int) {
	h := w.handles[index]
	if !h.inWheel {
		return
	}
	s := w.slots[h.slot]
	for i, v := range s {
		if v == index {
			s[i] = s[len(s)-1]
			w.slots[h.slot] = s[:len(s)-1]
			break
		}
	}
	w.handles[index].inWheel = false
}

// Start arms a session's timer for the first time, placing it ticks slots
// ahead of now.
func (w *Wheel) Start(index int, now float64, ticks int) {
	if !w.armed {
		w.lastNow = now
		w.cursor = int(now / Tick)
		w.armed = true
	}
	slot := w.slotFor(now, ticks)
	w.slots[slot] = append(w.slots[slot], index)
	w.handles[index] = handle{slot: slot, inWheel: true}
}

// Update moves an existing entry to a new slot ticks ahead of now. This is
// the re-arm path exercised by nearly every packet, so it must stay O(1): a
// removal from a small slice plus an append.
func (w *Wheel) Update(index int, now float64, ticks int) {
	w.removeFromSlot(index)
	w.Start(index, now, ticks)
}

// Expire advances the wheel from the last-serviced time to now, and for
// every slot boundary crossed, invokes remove for each session index found
// in that slot. It is cheap when no slot boundary is crossed — the common
// case when the pipeline calls it once per packet.
func (w *Wheel) Expire(now float64, remove func(index int)) {
	if !w.armed {
		w.lastNow = now
		w.cursor = int(now / Tick)
		w.armed = true
		return
	}
	nowTicks := int(now / Tick)
	for w.cursor < nowTicks {
		w.cursor++
		slotIdx := w.cursor % w.size
		due := w.slots[slotIdx]
		w.slots[slotIdx] = nil
		for _, index := range due {
			w.handles[index].inWheel = false
			remove(index)
		}
	}
	w.lastNow = now
}
