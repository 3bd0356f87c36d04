package utils

import (
	"fmt"
	"sync"

	"github.com/mfbutner/pl-autograders/pkg/constants"
)

// BoundedBuffer is an io.Writer that keeps at most limit bytes: the first half
// of the stream and the most recent half. Bytes in between are counted and dropped.
type BoundedBuffer struct {
	mu      sync.Mutex
	limit   int
	head    []byte
	tail    []byte
	tailPos int
	total   int64
}

func NewBoundedBuffer(limit int) *BoundedBuffer {
	if limit < 0 {
		limit = 0
	}
	headCap := limit - limit/2
	return &BoundedBuffer{
		limit: limit,
		head:  make([]byte, 0, headCap),
		tail:  make([]byte, 0, limit/2),
	}
}

// Write never fails, so a chatty process is never blocked or killed by its own output.
func (b *BoundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	b.total += int64(n)

	if room := cap(b.head) - len(b.head); room > 0 {
		take := min(room, len(p))
		b.head = append(b.head, p[:take]...)
		p = p[take:]
	}

	tailCap := cap(b.tail)
	if tailCap == 0 || len(p) == 0 {
		return n, nil
	}
	if len(p) >= tailCap {
		b.tail = append(b.tail[:0], p[len(p)-tailCap:]...)
		b.tailPos = 0
		return n, nil
	}
	for _, c := range p {
		if len(b.tail) < tailCap {
			b.tail = append(b.tail, c)
			continue
		}
		b.tail[b.tailPos] = c
		b.tailPos = (b.tailPos + 1) % tailCap
	}
	return n, nil
}

func (b *BoundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total > int64(len(b.head)+len(b.tail))
}

// String renders the retained output, marking where bytes were dropped.
func (b *BoundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := b.total - int64(len(b.head)+len(b.tail))
	if dropped <= 0 {
		return string(b.head) + string(b.orderedTail())
	}
	return string(b.head) + fmt.Sprintf(constants.TestCaseMessageTruncated, dropped) + string(b.orderedTail())
}

func (b *BoundedBuffer) orderedTail() []byte {
	if len(b.tail) < cap(b.tail) || b.tailPos == 0 {
		return b.tail
	}
	out := make([]byte, 0, len(b.tail))
	out = append(out, b.tail[b.tailPos:]...)
	return append(out, b.tail[:b.tailPos]...)
}

// Truncate shortens s to limit bytes using the same head and tail window as BoundedBuffer.
func Truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	buf := NewBoundedBuffer(limit)
	_, _ = buf.Write([]byte(s))
	return buf.String(), true
}
