package kinstream

import (
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/service/kinesis"
)

// A CommittableReader is a blocking sequence of committable records, as
// produced by Read. The checkpoint pipe consumes one.
type CommittableReader interface {
	ReadRecord() (*CommittableRecord, error)
	Stop()
}

// A PayloadReader is a blocking sequence of plain records, as produced by
// the checkpoint and passthrough pipes.
type PayloadReader interface {
	ReadRecord() (*kinesis.Record, error)
	Stop()
}

// CheckpointPipe batches checkpoint calls. Records are partitioned by shard;
// each shard accumulates a window that closes when batchSize records have
// arrived or batchWindow has elapsed since the window's first record. On
// close, only the highest-ordered record of the window is checkpointed —
// committing it commits everything before it on that shard — and only its
// payload is emitted downstream. Shards batch independently and their
// outputs interleave without ordering.
//
// A failed checkpoint call is not retried here; it terminates the pipe.
type CheckpointPipe struct {
	source      CommittableReader
	batchSize   int
	batchWindow time.Duration

	out  chan *kinesis.Record
	quit chan struct{}

	mu       sync.Mutex
	err      error
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCheckpointPipe starts a checkpoint pipe over r. The pipe owns r: Stop
// propagates upstream.
func NewCheckpointPipe(r CommittableReader, batchSize int, batchWindow time.Duration) *CheckpointPipe {
	if batchSize <= 0 {
		panic("batchSize must be positive")
	}
	if batchWindow <= 0 {
		panic("batchWindow must be positive")
	}

	p := &CheckpointPipe{
		source:      r,
		batchSize:   batchSize,
		batchWindow: batchWindow,
		out:         make(chan *kinesis.Record),
		quit:        make(chan struct{}),
	}
	go p.dispatch()
	return p
}

// ReadRecord returns the next checkpointed payload, blocking until a window
// closes somewhere or the pipe terminates.
func (p *CheckpointPipe) ReadRecord() (*kinesis.Record, error) {
	select {
	case rec := <-p.out:
		return rec, nil
	case <-p.quit:
		return nil, p.terminalError()
	}
}

// Stop terminates the pipe and its upstream reader. Checkpoint calls already
// in flight complete; no new windows are closed afterwards.
func (p *CheckpointPipe) Stop() {
	p.fail(ErrStreamClosed)
}

func (p *CheckpointPipe) fail(err error) {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.quit)
		p.source.Stop()
	})
}

func (p *CheckpointPipe) terminalError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// dispatch fans records out to one window goroutine per shard, created
// lazily on the shard's first record.
func (p *CheckpointPipe) dispatch() {
	partitions := make(map[ShardID]chan *CommittableRecord)
	defer func() {
		for _, ch := range partitions {
			close(ch)
		}
		p.wg.Wait()
	}()

	for {
		rec, err := p.source.ReadRecord()
		if err != nil {
			p.fail(err)
			return
		}

		ch, ok := partitions[rec.ShardID]
		if !ok {
			ch = make(chan *CommittableRecord)
			partitions[rec.ShardID] = ch
			p.wg.Add(1)
			go p.runWindow(ch)
		}

		select {
		case ch <- rec:
		case <-p.quit:
			return
		}
	}
}

// runWindow accumulates one shard's window. Within a shard only the
// highest-ordered record matters, so the window is tracked as a count plus
// the current maximum rather than the full slice.
func (p *CheckpointPipe) runWindow(in <-chan *CommittableRecord) {
	defer p.wg.Done()

	var (
		best    *CommittableRecord
		count   int
		timer   *time.Timer
		timeout <-chan time.Time
	)

	reset := func() {
		best, count = nil, 0
		if timer != nil {
			timer.Stop()
		}
		timeout = nil
	}

	flush := func() bool {
		if best == nil {
			return true
		}
		if err := best.Checkpoint(); err != nil {
			p.fail(err)
			return false
		}
		select {
		case p.out <- best.Record:
		case <-p.quit:
			return false
		}
		reset()
		return true
	}

	for {
		select {
		case rec, ok := <-in:
			if !ok {
				// Upstream terminated. The pending window stays
				// uncommitted; those records redeliver on the next run.
				return
			}
			if best == nil {
				timer = time.NewTimer(p.batchWindow)
				timeout = timer.C
			}
			count++
			// Delivery order already makes rec the newest, but the
			// comparator is authoritative.
			if best == nil || best.Sequence.Before(rec.Sequence) {
				best = rec
			}
			if count >= p.batchSize && !flush() {
				return
			}
		case <-timeout:
			if !flush() {
				return
			}
		case <-p.quit:
			return
		}
	}
}

// PassthroughPipe is the bypass path: payloads flow through one to one with
// no batching and no checkpoint side effects, for callers that handle
// checkpointing themselves.
type PassthroughPipe struct {
	source CommittableReader
}

func NewPassthroughPipe(r CommittableReader) *PassthroughPipe {
	return &PassthroughPipe{source: r}
}

func (p *PassthroughPipe) ReadRecord() (*kinesis.Record, error) {
	rec, err := p.source.ReadRecord()
	if err != nil {
		return nil, err
	}
	return rec.Record, nil
}

func (p *PassthroughPipe) Stop() {
	p.source.Stop()
}
