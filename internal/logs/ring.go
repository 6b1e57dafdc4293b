package logs

// ring is a fixed-capacity FIFO of entries. It is not safe for concurrent use;
// Pipeline guards it.
type ring struct {
	buf   []Entry
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Entry, capacity)}
}

func (r *ring) push(e Entry) {
	if len(r.buf) == 0 {
		return
	}
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int { return r.n }

// tail returns a copy of the newest n entries, oldest first.
func (r *ring) tail(n int) []Entry {
	if n <= 0 || n > r.n {
		n = r.n
	}
	out := make([]Entry, 0, n)
	for i := r.n - n; i < r.n; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

func (r *ring) reset() {
	clear(r.buf)
	r.start, r.n = 0, 0
}
