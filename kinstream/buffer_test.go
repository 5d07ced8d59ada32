package kinstream

import (
	"errors"
	"testing"
	"time"
)

func testChunk(shard ShardID, seq SequenceNumber) Chunk {
	return Chunk{makeTestRecord(shard, seq, noopCheckpointer{})}
}

func TestBufferOrder(t *testing.T) {
	b := newChunkBuffer(10)

	for _, sn := range []SequenceNumber{"1", "2", "3"} {
		if err := b.Put(testChunk("shard-0000", sn)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	for _, want := range []SequenceNumber{"1", "2", "3"} {
		c, err := b.Get()
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if c[0].Sequence.SequenceNumber != want {
			t.Errorf("out of order: got %s, want %s", c[0].Sequence.SequenceNumber, want)
		}
	}
}

func TestBufferBackpressure(t *testing.T) {
	b := newChunkBuffer(2)

	b.Put(testChunk("shard-0000", "1"))
	b.Put(testChunk("shard-0000", "2"))

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- b.Put(testChunk("shard-0000", "3"))
	}()

	select {
	case <-unblocked:
		t.Fatalf("Put should block while the buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	// Draining one chunk releases the producer
	if _, err := b.Get(); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	select {
	case err := <-unblocked:
		if err != nil {
			t.Fatalf("blocked Put failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Put still blocked after a Get")
	}

	// Nothing was dropped
	for _, want := range []SequenceNumber{"2", "3"} {
		c, err := b.Get()
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if c[0].Sequence.SequenceNumber != want {
			t.Errorf("got %s, want %s", c[0].Sequence.SequenceNumber, want)
		}
	}
}

func TestBufferClose(t *testing.T) {
	b := newChunkBuffer(1)
	b.Close(nil)

	if err := b.Put(testChunk("shard-0000", "1")); err != ErrBufferClosed {
		t.Errorf("Put after close: got %v, want ErrBufferClosed", err)
	}

	if _, err := b.Get(); err != ErrBufferClosed {
		t.Errorf("Get after close: got %v, want ErrBufferClosed", err)
	}
}

func TestBufferCloseReleasesProducer(t *testing.T) {
	b := newChunkBuffer(1)
	b.Put(testChunk("shard-0000", "1"))

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- b.Put(testChunk("shard-0000", "2"))
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close(nil)

	select {
	case err := <-unblocked:
		if err != ErrBufferClosed {
			t.Errorf("got %v, want ErrBufferClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("producer still blocked after close")
	}
}

func TestBufferCloseKeepsFirstError(t *testing.T) {
	b := newChunkBuffer(1)

	boom := errors.New("boom")
	b.Close(boom)
	b.Close(errors.New("later"))

	if _, err := b.Get(); err != boom {
		t.Errorf("got %v, want the first close error", err)
	}
}
