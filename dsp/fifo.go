package dsp

// fifo is a fixed-capacity queue of float32 samples. It never grows after
// construction, so pushing and popping from the audio goroutine does not
// allocate.
type fifo struct {
	buf  []float32
	head int
	n    int
}

func newFIFO(capacity int) *fifo {
	return &fifo{buf: make([]float32, capacity)}
}

func (f *fifo) Len() int  { return f.n }
func (f *fifo) Free() int { return len(f.buf) - f.n }

// Push appends as many samples as fit and returns how many were taken.
func (f *fifo) Push(s []float32) int {
	n := min(len(s), f.Free())
	tail := (f.head + f.n) % len(f.buf)
	c := copy(f.buf[tail:], s[:n])
	copy(f.buf, s[c:n])
	f.n += n
	return n
}

// Peek copies the oldest len(dst) samples into dst without consuming them and
// returns how many were copied.
func (f *fifo) Peek(dst []float32) int {
	n := min(len(dst), f.n)
	c := copy(dst[:n], f.buf[f.head:])
	copy(dst[c:n], f.buf)
	return n
}

// Pop moves the oldest samples into dst.
func (f *fifo) Pop(dst []float32) int {
	n := f.Peek(dst)
	f.Discard(n)
	return n
}

func (f *fifo) Discard(n int) {
	n = min(n, f.n)
	f.head = (f.head + n) % len(f.buf)
	f.n -= n
}

func (f *fifo) Reset() {
	f.head = 0
	f.n = 0
}
