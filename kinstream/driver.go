package kinstream

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/getsentry/raven-go"
)

// ErrStreamClosed is the terminal error after Stop. Reading further always
// returns it.
var ErrStreamClosed = errors.New("kinstream: stream closed")

// ErrCoordinatorStopped reports that the coordinator's run loop exited on
// its own. The stream is logically infinite, so this is abnormal unless the
// reader was stopped.
var ErrCoordinatorStopped = errors.New("kinstream: coordinator stopped unexpectedly")

// A ChunkReader is the pull side of one coordinator run: a blocking sequence
// of chunks, terminated only by Stop or an unrecoverable error. It is not
// restartable; call ReadChunked again for a fresh run.
type ChunkReader struct {
	buf      *chunkBuffer
	coord    Coordinator
	stopOnce sync.Once
}

// ReadChunked starts a coordinator for the configured stream and returns a
// reader over its delivered chunks. The coordinator runs with a freshly
// minted worker identity and is shut down on every termination path.
func ReadChunked(settings *Settings) (r *ChunkReader, err error) {
	if err = settings.validate(); err != nil {
		return nil, err
	}

	workerID := fmt.Sprintf("%s-%s", settings.AppName, randomSuffix())
	buf := newChunkBuffer(settings.BufferSize)

	factory := settings.Factory
	if factory == nil {
		factory = newDefaultWorker
	}

	coord, err := factory(workerID, settings, &bufferProcessorFactory{buf: buf})
	if err != nil {
		return nil, err
	}

	r = &ChunkReader{buf: buf, coord: coord}

	// The run loop blocks for the coordinator's entire life, so it gets its
	// own goroutine rather than sharing the consumer's.
	go func() {
		err := coord.Run()
		if err != nil {
			log.Printf("Coordinator for %s failed: %v", settings.StreamName, err)
			raven.CaptureError(err, map[string]string{"stream": settings.StreamName})
		} else {
			err = ErrCoordinatorStopped
		}
		r.shutdown(err)
	}()

	return r, nil
}

// ReadChunk returns the next delivered chunk, blocking until one arrives or
// the stream terminates.
func (r *ChunkReader) ReadChunk() (Chunk, error) {
	c, err := r.buf.Get()
	if err != nil {
		// Terminal. Cleanup already ran on whichever path closed the
		// buffer, but make sure.
		r.shutdown(err)
		return nil, err
	}
	return c, nil
}

// Stop terminates the stream: the coordinator is shut down exactly once and
// blocked shard callbacks are released.
func (r *ChunkReader) Stop() {
	r.shutdown(ErrStreamClosed)
}

// shutdown is the single cleanup path. Every way out of the stream — Stop,
// buffer error, coordinator exit — funnels through here.
func (r *ChunkReader) shutdown(err error) {
	r.stopOnce.Do(func() {
		r.coord.Shutdown()
		r.buf.Close(err)
	})
}

// newDefaultWorker is the CoordinatorFactory used when settings don't
// provide one: the built-in polling Worker.
func newDefaultWorker(workerID string, s *Settings, f ProcessorFactory) (Coordinator, error) {
	if s.RetrievalMode == FanOut {
		return nil, fmt.Errorf("the built-in worker only supports polling retrieval")
	}

	svc := s.KinesisService
	if svc == nil {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(s.RegionName)})
		if err != nil {
			return nil, err
		}
		svc = kinesis.New(sess)
	}

	return NewWorker(&NewWorkerParams{
		WorkerID:        workerID,
		KinesisService:  svc,
		Stream:          s.StreamName,
		Factory:         f,
		CheckpointStore: s.CheckpointStore,
		InitialPosition: s.InitialPosition,
	}), nil
}

func randomSuffix() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// A RecordReader flattens a ChunkReader into single records.
type RecordReader struct {
	chunks  *ChunkReader
	pending Chunk
}

// Read is the flattening convenience over ReadChunked.
func Read(settings *Settings) (*RecordReader, error) {
	cr, err := ReadChunked(settings)
	if err != nil {
		return nil, err
	}
	return &RecordReader{chunks: cr}, nil
}

// ReadRecord returns the next record, blocking until one arrives or the
// stream terminates.
func (r *RecordReader) ReadRecord() (*CommittableRecord, error) {
	for len(r.pending) == 0 {
		chunk, err := r.chunks.ReadChunk()
		if err != nil {
			return nil, err
		}
		r.pending = chunk
	}

	rec := r.pending[0]
	r.pending = r.pending[1:]
	return rec, nil
}

// Stop terminates the underlying stream.
func (r *RecordReader) Stop() {
	r.chunks.Stop()
}
