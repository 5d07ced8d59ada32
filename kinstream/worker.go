package kinstream

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
)

const (
	// Iterator types for resuming or starting fresh on a shard
	shardIteratorTypeLatest              = "LATEST"
	shardIteratorTypeTrimHorizon         = "TRIM_HORIZON"
	shardIteratorTypeAtTimestamp         = "AT_TIMESTAMP"
	shardIteratorTypeAfterSequenceNumber = "AFTER_SEQUENCE_NUMBER"

	// The small interval to poll shards
	minShardPollInterval = time.Second

	// The number of records to request at once
	recordLimit = 10000

	// Give up on a shard after this many GetRecords failures in a row
	maxConsecutiveReadErrors = 5
)

// By default look for new shards every five minutes
const defaultReloadShardsInterval = 5 * time.Minute

// NewWorkerParams are the parameters to NewWorker
type NewWorkerParams struct {
	WorkerID        string
	KinesisService  KinesisService
	Stream          string
	Factory         ProcessorFactory
	CheckpointStore CheckpointStore // optional; nil means checkpoints are not persisted
	InitialPosition InitialPosition
	PollInterval    time.Duration
	// ReloadShardsInterval re-lists the stream's shards on this interval so
	// splits and merges picked up while running get consumers too.
	ReloadShardsInterval time.Duration
}

// NewWorker creates the built-in polling Coordinator. It lists the stream's
// shards and runs one consumer goroutine per shard, each driving a Processor
// from the factory.
func NewWorker(params *NewWorkerParams) (w *Worker) {
	// Passing in a null kinesis service is a programming error
	if params.KinesisService == nil {
		panic("expecting a KinesisService")
	}

	// Not specifying a stream is a programming error
	if params.Stream == "" {
		panic("expecting a stream")
	}

	if params.Factory == nil {
		panic("expecting a ProcessorFactory")
	}

	if params.PollInterval == 0 {
		params.PollInterval = minShardPollInterval
	}

	if params.ReloadShardsInterval == 0 {
		params.ReloadShardsInterval = defaultReloadShardsInterval
	}

	w = &Worker{
		NewWorkerParams: *params,
		consumers:       make(map[ShardID]*shardConsumer),
		errors:          make(chan error),
		quit:            make(chan struct{}),
	}
	return
}

// Worker polls every shard of a stream and drives Processors. It implements
// Coordinator.
type Worker struct {
	NewWorkerParams

	mu        sync.Mutex
	consumers map[ShardID]*shardConsumer
	wg        sync.WaitGroup

	errors   chan error
	quit     chan struct{}
	stopOnce sync.Once
}

// Run blocks until Shutdown is called or a shard consumer fails.
func (w *Worker) Run() (err error) {
	log.Printf("Worker %s starting for stream %s", w.WorkerID, w.Stream)

	if err = w.refreshShards(); err != nil {
		return fmt.Errorf("error listing shards for stream %q: %v", w.Stream, err)
	}

	ticker := time.NewTicker(w.ReloadShardsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if rerr := w.refreshShards(); rerr != nil {
				// Transient; the next tick retries
				log.Println("Failed to reload shards:", rerr)
			}
		case err = <-w.errors:
			w.Shutdown()
			w.wg.Wait()
			return err
		case <-w.quit:
			w.wg.Wait()
			log.Printf("Worker %s stopped", w.WorkerID)
			return nil
		}
	}
}

// Shutdown stops the worker. Safe to call more than once, and after Run has
// returned.
func (w *Worker) Shutdown() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
}

// refreshShards starts a consumer for every shard that doesn't have one yet.
// Consumed-to-end shards keep their map entry so they aren't restarted.
func (w *Worker) refreshShards() error {
	shardIDs, err := ListShards(w.KinesisService, w.Stream)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sid := range shardIDs {
		if _, ok := w.consumers[sid]; ok {
			continue
		}

		var checkpointer RecordCheckpointer = noopCheckpointer{}
		if w.CheckpointStore != nil {
			checkpointer = &storeCheckpointer{store: w.CheckpointStore, shard: sid}
		}

		c := &shardConsumer{
			worker:       w,
			shardID:      sid,
			processor:    w.Factory.CreateProcessor(),
			checkpointer: checkpointer,
		}
		w.consumers[sid] = c
		w.wg.Add(1)
		go c.run()
	}

	return nil
}

// shardConsumer polls one shard and feeds its Processor.
type shardConsumer struct {
	worker       *Worker
	shardID      ShardID
	processor    Processor
	checkpointer RecordCheckpointer

	nextIterator string
}

func (c *shardConsumer) run() {
	defer c.worker.wg.Done()

	start, err := c.startingSequence()
	if err != nil {
		c.fail(err)
		return
	}

	log.Printf("Starting consumer for %s:%s", c.worker.Stream, c.shardID)
	c.processor.Initialize(&InitializationInput{ShardID: c.shardID, StartingSequence: start})

	ticker := time.NewTicker(c.worker.PollInterval)
	defer ticker.Stop()

	readErrors := 0
	for {
		select {
		case <-c.worker.quit:
			c.processor.ShutdownRequested(&ShutdownRequestedInput{Checkpointer: c.checkpointer})
			return
		case <-ticker.C:
		}

		records, millisBehind, ended, err := c.readRecords(start)
		if err != nil {
			log.Printf("Failed to read from %s:%s: %v", c.worker.Stream, c.shardID, err)
			readErrors++
			if readErrors >= maxConsecutiveReadErrors {
				c.fail(err)
				return
			}
			continue
		}
		readErrors = 0

		if len(records) > 0 {
			c.processor.ProcessRecords(&ProcessRecordsInput{
				Records:            records,
				Checkpointer:       c.checkpointer,
				MillisBehindLatest: millisBehind,
			})
		}

		if ended {
			// The shard was closed by a split or merge. Child shards show up
			// on the next reload.
			c.processor.ShardEnded(&ShardEndedInput{Checkpointer: c.checkpointer})
			return
		}
	}
}

// fail reports a fatal shard error to the worker, which takes the whole
// worker down.
func (c *shardConsumer) fail(err error) {
	c.processor.LeaseLost(&LeaseLostInput{})
	select {
	case c.worker.errors <- err:
	case <-c.worker.quit:
	}
}

// startingSequence loads the shard's durable checkpoint, if any.
func (c *shardConsumer) startingSequence() (p SequencePair, err error) {
	if c.worker.CheckpointStore == nil {
		return
	}
	return c.worker.CheckpointStore.LastSequence(c.shardID)
}

// initIterator initializes nextIterator, resuming after the checkpointed
// sequence number when one exists, otherwise from the configured initial
// position.
func (c *shardConsumer) initIterator(start SequencePair) (err error) {
	gsi := &kinesis.GetShardIteratorInput{
		StreamName: aws.String(c.worker.Stream),
		ShardId:    aws.String(string(c.shardID)),
	}

	if !start.IsEmpty() {
		gsi.ShardIteratorType = aws.String(shardIteratorTypeAfterSequenceNumber)
		gsi.StartingSequenceNumber = aws.String(string(start.SequenceNumber))
	} else {
		switch c.worker.InitialPosition.Position {
		case positionTrimHorizon:
			gsi.ShardIteratorType = aws.String(shardIteratorTypeTrimHorizon)
		case positionAtTimestamp:
			gsi.ShardIteratorType = aws.String(shardIteratorTypeAtTimestamp)
			gsi.Timestamp = aws.Time(c.worker.InitialPosition.Timestamp)
		default:
			gsi.ShardIteratorType = aws.String(shardIteratorTypeLatest)
		}
	}

	gso, err := c.worker.KinesisService.GetShardIterator(gsi)
	if err != nil {
		return fmt.Errorf("error initializing shard iterator for stream: %q, shard: %q, error: %s",
			c.worker.Stream, c.shardID, err.Error())
	}
	c.nextIterator = *gso.ShardIterator
	return
}

// readRecords loads the next batch from the shard. ended reports that the
// shard has been closed and fully consumed.
//
// The worker does not deaggregate KPL records, so SubSequenceNumber is
// always zero here; external coordinators that deaggregate populate it.
func (c *shardConsumer) readRecords(start SequencePair) (records []*DeliveredRecord, millisBehind int64, ended bool, err error) {
	if c.nextIterator == "" {
		if err = c.initIterator(start); err != nil {
			return
		}
	}

	gro, err := c.worker.KinesisService.GetRecords(&kinesis.GetRecordsInput{
		Limit:         aws.Int64(recordLimit),
		ShardIterator: aws.String(c.nextIterator),
	})
	if err != nil {
		return
	}

	for _, kr := range gro.Records {
		records = append(records, &DeliveredRecord{Record: kr})
	}
	if gro.MillisBehindLatest != nil {
		millisBehind = *gro.MillisBehindLatest
	}

	if gro.NextShardIterator != nil {
		c.nextIterator = *gro.NextShardIterator
	} else {
		c.nextIterator = ""
		ended = true
	}
	return
}
