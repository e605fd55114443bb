package deploy

import "strings"

// tailBuffer retains the last lines of build output up to a byte budget, for
// failure diagnostics.
type tailBuffer struct {
	lines []string
	size  int
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = 4096
	}
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Add(line string) {
	t.lines = append(t.lines, line)
	t.size += len(line) + 1
	for t.size > t.limit && len(t.lines) > 1 {
		t.size -= len(t.lines[0]) + 1
		t.lines = t.lines[1:]
	}
}

// String renders up to maxBytes of the retained tail.
func (t *tailBuffer) String(maxBytes int) string {
	out := strings.Join(t.lines, "\n")
	if maxBytes > 0 && len(out) > maxBytes {
		out = out[len(out)-maxBytes:]
	}
	return out
}
