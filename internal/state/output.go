package state

// OutputBuffer is a fixed-capacity ring of raw output lines for the tail-log
// view. Appends beyond capacity silently drop the oldest lines.
type OutputBuffer struct {
	lines []string
	start int
	size  int
}

func NewOutputBuffer(capacity int) *OutputBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &OutputBuffer{lines: make([]string, capacity)}
}

func (b *OutputBuffer) Append(line string) {
	if b.size < len(b.lines) {
		b.lines[(b.start+b.size)%len(b.lines)] = line
		b.size++
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % len(b.lines)
}

func (b *OutputBuffer) Len() int {
	return b.size
}

// Lines returns the buffered lines oldest-first.
func (b *OutputBuffer) Lines() []string {
	out := make([]string, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.lines[(b.start+i)%len(b.lines)]
	}
	return out
}
