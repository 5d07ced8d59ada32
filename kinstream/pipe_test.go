package kinstream

import (
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readPayload(t *testing.T, p PayloadReader, timeout time.Duration) *kinesis.Record {
	t.Helper()

	type result struct {
		rec *kinesis.Record
		err error
	}
	ch := make(chan result, 1)
	go func() {
		rec, err := p.ReadRecord()
		ch <- result{rec, err}
	}()

	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.rec
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for a payload")
		return nil
	}
}

// The batch-size trigger closes the first window at the third record; the
// time trigger flushes the remainder. Only the highest record of each window
// is checkpointed and emitted.
func TestCheckpointPipeCountThenTimeTrigger(t *testing.T) {
	cp := &countingCheckpointer{}
	src := newStubReader()
	for _, sn := range []SequenceNumber{"100", "101", "102", "103", "104"} {
		src.Add(makeTestRecord("shard-0", sn, cp))
	}

	pipe := NewCheckpointPipe(src, 3, 200*time.Millisecond)
	defer pipe.Stop()

	rec := readPayload(t, pipe, time.Second)
	assert.Equal(t, "102", *rec.SequenceNumber)

	// 103 and 104 don't reach the count threshold; the window flushes on
	// the time trigger instead
	rec = readPayload(t, pipe, time.Second)
	assert.Equal(t, "104", *rec.SequenceNumber)

	calls := cp.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, SequenceNumber("102"), calls[0].SequenceNumber)
	assert.Equal(t, SequenceNumber("104"), calls[1].SequenceNumber)
}

func TestCheckpointPipeEmptyWindowNoCheckpoint(t *testing.T) {
	cp := &countingCheckpointer{}
	src := newStubReader()

	pipe := NewCheckpointPipe(src, 3, 50*time.Millisecond)
	defer pipe.Stop()

	// Several windows' worth of time with no records at all
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, cp.Calls())
}

func TestCheckpointPipeShardsNeverShareWindows(t *testing.T) {
	cpA := &countingCheckpointer{}
	cpB := &countingCheckpointer{}
	src := newStubReader()

	// Interleave two shards; each has its own window
	src.Add(makeTestRecord("a", "1", cpA))
	src.Add(makeTestRecord("b", "7", cpB))
	src.Add(makeTestRecord("a", "2", cpA))
	src.Add(makeTestRecord("b", "8", cpB))

	pipe := NewCheckpointPipe(src, 2, time.Minute)
	defer pipe.Stop()

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		rec := readPayload(t, pipe, time.Second)
		got[*rec.SequenceNumber] = true
	}

	// Each shard's window closed on its own 2nd record
	assert.True(t, got["2"], "shard a should flush at 2")
	assert.True(t, got["8"], "shard b should flush at 8")

	callsA := cpA.Calls()
	require.Len(t, callsA, 1)
	assert.Equal(t, SequenceNumber("2"), callsA[0].SequenceNumber)

	callsB := cpB.Calls()
	require.Len(t, callsB, 1)
	assert.Equal(t, SequenceNumber("8"), callsB[0].SequenceNumber)
}

func TestCheckpointPipeMaxIsNumeric(t *testing.T) {
	cp := &countingCheckpointer{}
	src := newStubReader()

	// "9" < "10" numerically even though it sorts after it as a string
	src.Add(makeTestRecord("shard-0", "9", cp))
	src.Add(makeTestRecord("shard-0", "10", cp))

	pipe := NewCheckpointPipe(src, 2, time.Minute)
	defer pipe.Stop()

	rec := readPayload(t, pipe, time.Second)
	assert.Equal(t, "10", *rec.SequenceNumber)
}

func TestCheckpointPipeStopIssuesNoFurtherCheckpoints(t *testing.T) {
	cp := &countingCheckpointer{}
	src := newStubReader()
	src.Add(makeTestRecord("shard-0", "1", cp))
	src.Add(makeTestRecord("shard-0", "2", cp))

	pipe := NewCheckpointPipe(src, 10, 100*time.Millisecond)
	pipe.Stop()

	// The open window's time trigger would fire inside this sleep; after
	// Stop it must not checkpoint
	time.Sleep(250 * time.Millisecond)
	assert.Empty(t, cp.Calls())

	_, err := pipe.ReadRecord()
	assert.Equal(t, ErrStreamClosed, err)
}

func TestCheckpointPipeStopPropagatesUpstream(t *testing.T) {
	src := newStubReader()
	pipe := NewCheckpointPipe(src, 2, time.Minute)

	pipe.Stop()

	_, err := src.ReadRecord()
	assert.Equal(t, ErrStreamClosed, err, "upstream reader should be stopped")
}

func TestCheckpointPipeCheckpointFailureTerminates(t *testing.T) {
	boom := errors.New("shard lease lost")
	cp := &countingCheckpointer{
		checkpoint: func(SequenceNumber, int64) error { return boom },
	}

	src := newStubReader()
	src.Add(makeTestRecord("shard-0", "1", cp))
	src.Add(makeTestRecord("shard-0", "2", cp))

	pipe := NewCheckpointPipe(src, 2, time.Minute)
	defer pipe.Stop()

	_, err := pipe.ReadRecord()
	assert.Equal(t, boom, err)
}

func TestCheckpointPipeUpstreamErrorPropagates(t *testing.T) {
	src := newStubReader()
	src.Stop() // reader terminates immediately

	pipe := NewCheckpointPipe(src, 2, time.Minute)
	_, err := pipe.ReadRecord()
	assert.Equal(t, ErrStreamClosed, err)
}

func TestPassthroughPipe(t *testing.T) {
	cp := &countingCheckpointer{}
	src := newStubReader()
	for _, sn := range []SequenceNumber{"1", "2", "3"} {
		src.Add(makeTestRecord("shard-0", sn, cp))
	}

	pipe := NewPassthroughPipe(src)
	defer pipe.Stop()

	// One to one, in order, with no checkpoint side effects
	for _, want := range []string{"1", "2", "3"} {
		rec, err := pipe.ReadRecord()
		require.NoError(t, err)
		assert.Equal(t, want, *rec.SequenceNumber)
	}
	assert.Empty(t, cp.Calls())
}
