package logmonitor

import "fmt"

// BoundedBuffer retains the most recent lines appended to it, up to a fixed
// byte budget, evicting the oldest lines first and recording how much was
// dropped (§4.3: "output is bounded; the most recent lines are preserved and
// a truncation marker reports what was dropped").
type BoundedBuffer struct {
	maxBytes     int
	lines        []string
	size         int
	droppedLines int
	droppedBytes int
}

// NewBoundedBuffer constructs a buffer that retains at most maxBytes of line
// content.
func NewBoundedBuffer(maxBytes int) *BoundedBuffer {
	return &BoundedBuffer{maxBytes: maxBytes}
}

// Append adds line to the buffer, evicting the oldest retained lines if
// necessary to stay within the byte budget.
func (b *BoundedBuffer) Append(line string) {
	b.lines = append(b.lines, line)
	b.size += len(line)
	for b.size > b.maxBytes && len(b.lines) > 0 {
		evicted := b.lines[0]
		b.lines = b.lines[1:]
		b.size -= len(evicted)
		b.droppedLines++
		b.droppedBytes += len(evicted)
	}
}

// Lines returns the currently retained lines, oldest first.
func (b *BoundedBuffer) Lines() []string {
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Truncated reports whether any content has been evicted.
func (b *BoundedBuffer) Truncated() bool { return b.droppedLines > 0 }

// TruncationMarker renders the sentinel describing what was dropped, or the
// empty string if nothing was.
func (b *BoundedBuffer) TruncationMarker() string {
	if !b.Truncated() {
		return ""
	}
	return fmt.Sprintf("[output truncated: dropped %d line(s), %d byte(s)]", b.droppedLines, b.droppedBytes)
}

// String renders the truncation marker, if any, as the first line, followed
// by the retained content.
func (b *BoundedBuffer) String() string {
	lines := b.Lines()
	if marker := b.TruncationMarker(); marker != "" {
		lines = append([]string{marker}, lines...)
	}
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
