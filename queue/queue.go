// Package queue implements the FIFO byte queue backing a connection's
// inbound and outbound buffers. Storage is a list of pooled chunks so that
// steady-state traffic does not allocate; consumed chunks go back to the
// pool immediately.
package queue

import "github.com/valyala/bytebufferpool"

// Queue is an ordered byte FIFO. It is not safe for concurrent use; a queue
// belongs to exactly one connection and is touched only from the reactor
// goroutine that owns it.
type Queue struct {
	chunks []*bytebufferpool.ByteBuffer
	head   int // read offset into chunks[0]
	size   int
}

func New() *Queue {
	return &Queue{}
}

// Len reports the number of buffered bytes.
func (q *Queue) Len() int {
	return q.size
}

// Add appends p to the tail of the queue and returns len(p).
func (q *Queue) Add(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	bb := bytebufferpool.Get()
	bb.Write(p) //nolint:errcheck // cannot fail
	q.chunks = append(q.chunks, bb)
	q.size += len(p)
	return len(p)
}

// Copy fills p from the front of the queue without consuming anything and
// returns the number of bytes copied.
func (q *Queue) Copy(p []byte) int {
	if len(p) == 0 || q.size == 0 {
		return 0
	}
	n := 0
	for i, bb := range q.chunks {
		b := bb.B
		if i == 0 {
			b = b[q.head:]
		}
		n += copy(p[n:], b)
		if n == len(p) {
			break
		}
	}
	return n
}

// Remove fills p from the front of the queue, consuming the bytes it copied,
// and returns their count.
func (q *Queue) Remove(p []byte) int {
	n := q.Copy(p)
	q.discard(n)
	return n
}

// Discard drops up to n bytes from the front of the queue and returns the
// number actually dropped.
func (q *Queue) Discard(n int) int {
	if n > q.size {
		n = q.size
	}
	if n > 0 {
		q.discard(n)
	}
	return n
}

// Release empties the queue and returns every chunk to the pool. The queue
// stays usable afterwards.
func (q *Queue) Release() {
	for i, bb := range q.chunks {
		q.chunks[i] = nil
		bytebufferpool.Put(bb)
	}
	q.chunks = q.chunks[:0]
	q.head = 0
	q.size = 0
}

// discard assumes n <= q.size.
func (q *Queue) discard(n int) {
	q.size -= n
	for n > 0 {
		bb := q.chunks[0]
		remain := len(bb.B) - q.head
		if n < remain {
			q.head += n
			return
		}
		n -= remain
		q.head = 0
		q.chunks[0] = nil
		q.chunks = q.chunks[1:]
		bytebufferpool.Put(bb)
	}
}
