package kinstream

import (
	"github.com/aws/aws-sdk-go/service/kinesis"
)

// A CommittableRecord is one delivered record plus the capability to commit
// the shard's position up to and including it. Checkpointing a record
// implicitly commits every earlier record on the same shard, so holders of
// earlier records need not checkpoint them individually.
type CommittableRecord struct {
	ShardID  ShardID
	Sequence SequencePair

	// Record is the delivered record, unmodified.
	Record *kinesis.Record

	checkpoint func() error
}

// Checkpoint commits the shard's position up to and including this record.
func (r *CommittableRecord) Checkpoint() error {
	return r.checkpoint()
}

// A Chunk is the ordered, non-empty batch of records delivered by one
// processor callback. Chunk boundaries carry no meaning beyond delivery
// locality; downstream stages are free to split or regroup them.
type Chunk []*CommittableRecord
