package kinstream

import (
	"errors"
	"sync"
)

// ErrBufferClosed is returned by buffer operations after Close. Producers
// treat it as "the consumer is gone"; the consumer sees it as a clean stop.
var ErrBufferClosed = errors.New("kinstream: buffer closed")

// chunkBuffer is the bounded FIFO between the coordinator's shard callback
// goroutines (many producers, one per shard) and the reader (one consumer).
// Put blocks while the buffer holds size chunks, which is what stalls a
// shard's delivery when the consumer falls behind.
type chunkBuffer struct {
	chunks chan Chunk
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func newChunkBuffer(size int) *chunkBuffer {
	return &chunkBuffer{
		chunks: make(chan Chunk, size),
		done:   make(chan struct{}),
	}
}

// Put enqueues c, blocking while the buffer is full. Returns the buffer's
// terminal error once closed.
func (b *chunkBuffer) Put(c Chunk) error {
	select {
	case <-b.done:
		return b.terminalError()
	default:
	}

	select {
	case b.chunks <- c:
		return nil
	case <-b.done:
		return b.terminalError()
	}
}

// Get dequeues the next chunk, blocking while the buffer is empty. Once the
// buffer is closed and drained it returns the terminal error.
func (b *chunkBuffer) Get() (Chunk, error) {
	select {
	case c := <-b.chunks:
		return c, nil
	case <-b.done:
		// A producer may have won the race and left a chunk behind.
		select {
		case c := <-b.chunks:
			return c, nil
		default:
		}
		return nil, b.terminalError()
	}
}

// Close shuts the buffer down, releasing any blocked producers and the
// consumer. The first call wins; err == nil records a clean close.
func (b *chunkBuffer) Close(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if err == nil {
		err = ErrBufferClosed
	}
	b.err = err
	close(b.done)
}

func (b *chunkBuffer) terminalError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
