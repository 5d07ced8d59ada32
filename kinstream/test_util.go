// Mock Kinesis service and fake collaborators for tests
package kinstream

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
)

type testKinesisRecords struct {
	sn         SequenceNumber
	recordData [][]byte
}

type testKinesisShard struct {
	records []testKinesisRecords
}

func (s *testKinesisShard) AddRecord(sn SequenceNumber, data []byte) {
	rs := testKinesisRecords{sn, [][]byte{data}}
	s.records = append(s.records, rs)
}

func newTestKinesisShard() *testKinesisShard {
	return &testKinesisShard{make([]testKinesisRecords, 0)}
}

type testKinesisStream struct {
	StreamName string
	shards     map[ShardID]*testKinesisShard
}

func (s *testKinesisStream) AddShard(sid ShardID, ts *testKinesisShard) {
	s.shards[sid] = ts
}

func newTestKinesisStream(name string) *testKinesisStream {
	return &testKinesisStream{name, make(map[ShardID]*testKinesisShard)}
}

type testKinesisService struct {
	streams map[string]*testKinesisStream
}

func newTestKinesisService() *testKinesisService {
	return &testKinesisService{make(map[string]*testKinesisStream)}
}

func (s *testKinesisService) AddStream(stream *testKinesisStream) {
	s.streams[stream.StreamName] = stream
}

func parseIterator(iterVal string) (string, string, string) {
	vals := strings.Split(iterVal, ":")
	return vals[0], vals[1], vals[2]
}

func (s *testKinesisService) GetShardIterator(i *kinesis.GetShardIteratorInput) (*kinesis.GetShardIteratorOutput, error) {
	sn := ""
	if i.StartingSequenceNumber != nil {
		sn = *i.StartingSequenceNumber
	}
	iterVal := fmt.Sprintf("%s:%s:%s", *i.StreamName, *i.ShardId, sn)
	gso := &kinesis.GetShardIteratorOutput{ShardIterator: aws.String(iterVal)}
	return gso, nil
}

func (s *testKinesisService) GetRecords(gri *kinesis.GetRecordsInput) (*kinesis.GetRecordsOutput, error) {
	streamName, shardID, sn := parseIterator(*gri.ShardIterator)

	records := []*kinesis.Record{}

	stream, ok := s.streams[streamName]
	if !ok {
		return nil, fmt.Errorf("Failed to find stream")
	}

	shard, ok := stream.shards[ShardID(shardID)]
	if !ok {
		return nil, fmt.Errorf("Failed to find shard")
	}

	// For our mock implementation, we just assume iterator == sequence number
	nextSn := ""
	for _, r := range shard.records {
		if r.sn > SequenceNumber(sn) {
			for _, rd := range r.recordData {
				records = append(records, &kinesis.Record{SequenceNumber: aws.String(string(r.sn)), Data: rd})
			}
			nextSn = string(r.sn)
			break
		}
	}

	// If we didn't find a new next iterator, just keep the original
	nextIter := *gri.ShardIterator

	if nextSn != "" {
		nextIter = fmt.Sprintf("%s:%s:%s", streamName, shardID, nextSn)
	}

	log.Printf("%s - serving %d records. Next iter %s", *gri.ShardIterator, len(records), nextIter)
	gso := &kinesis.GetRecordsOutput{
		NextShardIterator:  aws.String(nextIter),
		MillisBehindLatest: aws.Int64(0),
		Records:            records,
	}
	return gso, nil
}

func (s *testKinesisService) DescribeStream(input *kinesis.DescribeStreamInput) (*kinesis.DescribeStreamOutput, error) {
	shards := make([]*kinesis.Shard, 0)

	stream, ok := s.streams[*input.StreamName]
	if !ok {
		return nil, fmt.Errorf("Failed to find stream")
	}

	for sid := range stream.shards {
		shards = append(shards, &kinesis.Shard{ShardId: aws.String(string(sid))})
	}

	dso := &kinesis.DescribeStreamOutput{
		StreamDescription: &kinesis.StreamDescription{
			Shards:       shards,
			StreamARN:    aws.String("test"),
			StreamName:   input.StreamName,
			StreamStatus: aws.String("ACTIVE"),
		},
	}

	return dso, nil
}

// countingCheckpointer records per-shard checkpoint calls.
type countingCheckpointer struct {
	mu         sync.Mutex
	calls      []SequencePair
	checkpoint func(SequenceNumber, int64) error
}

func (c *countingCheckpointer) Checkpoint(seq SequenceNumber, subSeq int64) error {
	if c.checkpoint != nil {
		if err := c.checkpoint(seq, subSeq); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, SequencePair{SequenceNumber: seq, SubSequenceNumber: subSeq})
	return nil
}

func (c *countingCheckpointer) Calls() []SequencePair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SequencePair(nil), c.calls...)
}

// memCheckpointStore is an in-memory CheckpointStore.
type memCheckpointStore struct {
	mu        sync.Mutex
	positions ShardToSequence
}

func newMemCheckpointStore() *memCheckpointStore {
	return &memCheckpointStore{positions: make(ShardToSequence)}
}

func (m *memCheckpointStore) Checkpoint(shard ShardID, seq SequenceNumber, subSeq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := SequencePair{SequenceNumber: seq, SubSequenceNumber: subSeq}
	if cur, ok := m.positions[shard]; ok && next.Before(cur) {
		return nil
	}
	m.positions[shard] = next
	return nil
}

func (m *memCheckpointStore) LastSequence(shard ShardID) (SequencePair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[shard], nil
}

// fakeCoordinator drives a deliver func on its own goroutine and blocks in
// Run until Shutdown, counting Shutdown calls.
type fakeCoordinator struct {
	factory ProcessorFactory
	deliver func(ProcessorFactory, <-chan struct{})
	runErr  error

	// quitOnDeliverDone makes Run return as soon as deliver completes,
	// simulating a coordinator exiting on its own.
	quitOnDeliverDone bool

	quit      chan struct{}
	stopOnce  sync.Once
	shutdowns int32
	mu        sync.Mutex
}

func newFakeCoordinator(deliver func(ProcessorFactory, <-chan struct{})) *fakeCoordinator {
	return &fakeCoordinator{deliver: deliver, quit: make(chan struct{})}
}

func (f *fakeCoordinator) Run() error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if f.deliver != nil {
			f.deliver(f.factory, f.quit)
		}
	}()

	select {
	case <-f.quit:
		<-done
	case <-done:
		if f.runErr != nil || f.quitOnDeliverDone {
			return f.runErr
		}
		<-f.quit
	}
	return f.runErr
}

func (f *fakeCoordinator) Shutdown() {
	f.mu.Lock()
	f.shutdowns++
	f.mu.Unlock()
	f.stopOnce.Do(func() {
		close(f.quit)
	})
}

func (f *fakeCoordinator) Shutdowns() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdowns
}

// stubReader feeds committable records from a channel, for pipe tests.
type stubReader struct {
	records  chan *CommittableRecord
	done     chan struct{}
	stopOnce sync.Once
}

func newStubReader() *stubReader {
	return &stubReader{
		records: make(chan *CommittableRecord, 64),
		done:    make(chan struct{}),
	}
}

func (r *stubReader) Add(rec *CommittableRecord) {
	r.records <- rec
}

func (r *stubReader) ReadRecord() (*CommittableRecord, error) {
	select {
	case rec := <-r.records:
		return rec, nil
	case <-r.done:
		return nil, ErrStreamClosed
	}
}

func (r *stubReader) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

// makeTestRecord builds a committable record whose checkpoint action calls
// through to the supplied checkpointer.
func makeTestRecord(shard ShardID, seq SequenceNumber, c RecordCheckpointer) *CommittableRecord {
	pair := SequencePair{SequenceNumber: seq}
	return &CommittableRecord{
		ShardID:  shard,
		Sequence: pair,
		Record:   &kinesis.Record{SequenceNumber: aws.String(string(seq))},
		checkpoint: func() error {
			return c.Checkpoint(pair.SequenceNumber, pair.SubSequenceNumber)
		},
	}
}
