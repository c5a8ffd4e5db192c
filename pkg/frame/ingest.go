package frame

// WorkingCap is the capacity of the linear working buffer.
const WorkingCap = 2048

// Ring is the view of the receive ring the ingestor needs.
type Ring interface {
	View(fn func(buf []byte, writePos int))
}

// Ingestor drains newly written ring bytes into a linear working buffer.
type Ingestor struct {
	buf  [WorkingCap]byte
	n    int
	last int
}

// Drain copies the bytes written since the previous drain. If they do not
// fit, the working buffer is discarded along with them and overflow is
// reported. The read position always catches up with the writer.
func (in *Ingestor) Drain(r Ring) (copied int, overflow bool) {
	r.View(func(ring []byte, wr int) {
		copied, overflow = in.drain(ring, wr)
	})
	return copied, overflow
}

func (in *Ingestor) drain(ring []byte, wr int) (int, bool) {
	if wr == in.last {
		return 0, false
	}
	defer func() { in.last = wr }()

	if wr > in.last {
		total := wr - in.last
		if in.n+total >= WorkingCap {
			in.Clear()
			return 0, true
		}
		in.n += copy(in.buf[in.n:], ring[in.last:wr])
		return total, false
	}

	head := ring[in.last:]
	tail := ring[:wr]
	total := len(head) + len(tail)
	if in.n+total >= WorkingCap {
		in.Clear()
		return 0, true
	}
	in.n += copy(in.buf[in.n:], head)
	in.n += copy(in.buf[in.n:], tail)
	return total, false
}

// Flush moves the read position to the writer without copying anything.
func (in *Ingestor) Flush(r Ring) {
	r.View(func(_ []byte, wr int) {
		in.last = wr
	})
}

// Bytes returns the buffered bytes. The slice is only valid until the next
// call that mutates the ingestor.
func (in *Ingestor) Bytes() []byte { return in.buf[:in.n] }

// Len returns the number of buffered bytes.
func (in *Ingestor) Len() int { return in.n }

// Clear empties the working buffer.
func (in *Ingestor) Clear() {
	clear(in.buf[:in.n])
	in.n = 0
}

// TrimToLastStart drops everything before the last frame start marker and
// returns the marker index, or -1 when there is none. The buffer is left
// untouched when the marker is at 0 or missing.
func (in *Ingestor) TrimToLastStart() int {
	cut := LastStart(in.buf[:in.n])
	if cut > 0 {
		in.n = copy(in.buf[:], in.buf[cut:in.n])
	}
	return cut
}
