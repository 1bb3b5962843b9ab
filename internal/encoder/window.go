package encoder

import "fmt"

// windowRing is the fixed-capacity WindowBuffer backing one block's attention
// window: a ring of per-chunk hidden-state sequences indexed by chunk number
// modulo capacity. It never grows — pushing into a full ring evicts the
// oldest entry, which preserves the "oldest evicted first" invariant over
// arbitrarily long streams without unbounded memory.
type windowRing struct {
	capacity int
	slots    [][][]float64
	base     int // chunk index of the oldest entry held
	count    int
}

func newWindowRing(capacity int) *windowRing {
	return &windowRing{
		capacity: capacity,
		slots:    make([][][]float64, capacity),
	}
}

// push stores the hidden rows for chunk idx. Chunks must arrive in strict
// order: idx must equal the ring's next expected index.
func (r *windowRing) push(idx int, rows [][]float64) error {
	next := r.base + r.count
	if idx != next {
		return fmt.Errorf("encoder: window push out of order: got chunk %d, want %d", idx, next)
	}
	if r.count == r.capacity {
		r.slots[r.base%r.capacity] = nil
		r.base++
		r.count--
	}
	r.slots[idx%r.capacity] = rows
	r.count++
	return nil
}

// get returns the hidden rows for chunk idx, or false when idx has been
// evicted or not yet pushed.
func (r *windowRing) get(idx int) ([][]float64, bool) {
	if idx < r.base || idx >= r.base+r.count {
		return nil, false
	}
	return r.slots[idx%r.capacity], true
}

// latest returns the highest chunk index held, or -1 for an empty ring.
func (r *windowRing) latest() int {
	if r.count == 0 {
		return -1
	}
	return r.base + r.count - 1
}

// contextRows concatenates the hidden rows of all held chunks in [lo, hi],
// clamped to what the ring actually holds. Returns the rows in chunk order.
func (r *windowRing) contextRows(lo, hi int) [][]float64 {
	if lo < r.base {
		lo = r.base
	}
	if top := r.latest(); hi > top {
		hi = top
	}
	var out [][]float64
	for i := lo; i <= hi; i++ {
		out = append(out, r.slots[i%r.capacity]...)
	}
	return out
}
