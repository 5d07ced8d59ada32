package kinstream

import (
	"log"

	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/getsentry/raven-go"
)

// DeliveredRecord is one raw record handed to a Processor. SubSequenceNumber
// is the position within a KPL-aggregated record; coordinators that don't
// deaggregate leave it zero.
type DeliveredRecord struct {
	*kinesis.Record
	SubSequenceNumber int64
}

// A RecordCheckpointer commits progress for the shard a Processor is bound
// to. Committing a position implicitly commits everything before it.
type RecordCheckpointer interface {
	Checkpoint(seq SequenceNumber, subSeq int64) error
}

type (
	InitializationInput struct {
		ShardID          ShardID
		StartingSequence SequencePair
	}

	ProcessRecordsInput struct {
		Records            []*DeliveredRecord
		Checkpointer       RecordCheckpointer
		MillisBehindLatest int64
	}

	ShardEndedInput struct {
		Checkpointer RecordCheckpointer
	}

	LeaseLostInput struct{}

	ShutdownRequestedInput struct {
		Checkpointer RecordCheckpointer
	}
)

// Processor is the per-shard callback contract a coordinator drives. One
// instance is created per shard lease and its methods are invoked from a
// goroutine the coordinator owns; distinct shards run concurrently.
//
// Lifecycle: Initialize, then any number of ProcessRecords calls, then
// exactly one of ShardEnded, LeaseLost or ShutdownRequested.
type Processor interface {
	Initialize(*InitializationInput)
	ProcessRecords(*ProcessRecordsInput)
	ShardEnded(*ShardEndedInput)
	LeaseLost(*LeaseLostInput)
	ShutdownRequested(*ShutdownRequestedInput)
}

// ProcessorFactory creates one Processor per shard lease.
type ProcessorFactory interface {
	CreateProcessor() Processor
}

// bufferProcessor forwards delivered records into the shared chunk buffer,
// binding each record's checkpoint action to the coordinator-supplied
// checkpointer. The blocking Put is the backpressure mechanism: a full
// buffer stalls this shard's callback until the consumer drains.
type bufferProcessor struct {
	buf     *chunkBuffer
	shardID ShardID
}

func (p *bufferProcessor) Initialize(in *InitializationInput) {
	p.shardID = in.ShardID
}

func (p *bufferProcessor) ProcessRecords(in *ProcessRecordsInput) {
	if len(in.Records) == 0 {
		return
	}

	chunk := make(Chunk, 0, len(in.Records))
	for _, dr := range in.Records {
		seq := SequencePair{
			SequenceNumber:    SequenceNumber(*dr.SequenceNumber),
			SubSequenceNumber: dr.SubSequenceNumber,
		}
		checkpointer := in.Checkpointer
		chunk = append(chunk, &CommittableRecord{
			ShardID:  p.shardID,
			Sequence: seq,
			Record:   dr.Record,
			checkpoint: func() error {
				return checkpointer.Checkpoint(seq.SequenceNumber, seq.SubSequenceNumber)
			},
		})
	}

	if err := p.buf.Put(chunk); err != nil {
		// The consumer is gone. This goroutine belongs to the coordinator,
		// so don't panic it; the coordinator's own shutdown will reach this
		// shard shortly and the records redeliver on the next lease.
		log.Printf("Dropping %d records for shard %s: %v", len(chunk), p.shardID, err)
		raven.CaptureError(err, map[string]string{"shard": string(p.shardID)})
	}
}

func (p *bufferProcessor) ShardEnded(in *ShardEndedInput) {
	log.Printf("Shard %s ended", p.shardID)
}

func (p *bufferProcessor) LeaseLost(in *LeaseLostInput) {
	log.Printf("Lease lost for shard %s", p.shardID)
}

func (p *bufferProcessor) ShutdownRequested(in *ShutdownRequestedInput) {}

type bufferProcessorFactory struct {
	buf *chunkBuffer
}

func (f *bufferProcessorFactory) CreateProcessor() Processor {
	return &bufferProcessor{buf: f.buf}
}
