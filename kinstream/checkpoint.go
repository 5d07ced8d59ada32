package kinstream

import (
	"database/sql"
	"fmt"
	"log"
)

// A CheckpointStore persists committed positions so a restarted worker can
// resume where it left off. Positions are unique per (client, stream, shard).
type CheckpointStore interface {
	Checkpoint(shard ShardID, seq SequenceNumber, subSeq int64) error
	LastSequence(shard ShardID) (SequencePair, error)
}

// dbCheckpointer stores positions in a reasonably compliant SQL database.
// On first use it attempts to create its table.
type dbCheckpointer struct {
	clientName string
	streamName string

	db *sql.DB
}

const createCheckpointTable = `
CREATE TABLE IF NOT EXISTS kinstream_checkpoint (
	client VARCHAR(255),
	stream VARCHAR(255),
	shard VARCHAR(255),
	seq_num VARCHAR(255),
	sub_seq_num BIGINT,
	PRIMARY KEY (client, stream, shard))
`

func (c *dbCheckpointer) Checkpoint(shard ShardID, seq SequenceNumber, subSeq int64) (err error) {
	if seq == "" {
		log.Printf("Skipping checkpoint for %s-%s", c.streamName, shard)
		return
	}

	next := SequencePair{SequenceNumber: seq, SubSequenceNumber: subSeq}

	txn, err := c.db.Begin()
	if err != nil {
		return err
	}

	var curSeq string
	var curSub int64
	err = txn.QueryRow(
		"SELECT seq_num, sub_seq_num FROM kinstream_checkpoint WHERE client=$1 AND stream=$2 AND shard=$3",
		c.clientName, c.streamName, shard).Scan(&curSeq, &curSub)

	switch {
	case err == sql.ErrNoRows:
		_, err = txn.Exec(
			"INSERT INTO kinstream_checkpoint VALUES ($1, $2, $3, $4, $5)",
			c.clientName, c.streamName, shard, string(seq), subSeq)
		if err != nil {
			txn.Rollback()
			return err
		}
	case err != nil:
		txn.Rollback()
		return err
	default:
		cur := SequencePair{SequenceNumber: SequenceNumber(curSeq), SubSequenceNumber: curSub}
		if next.Before(cur) {
			// Never move a checkpoint backwards.
			txn.Rollback()
			return nil
		}
		res, err := txn.Exec(
			"UPDATE kinstream_checkpoint SET seq_num=$1, sub_seq_num=$2 WHERE client=$3 AND stream=$4 AND shard=$5",
			string(seq), subSeq, c.clientName, c.streamName, shard)
		if err != nil {
			txn.Rollback()
			return err
		}
		if n, _ := res.RowsAffected(); n <= 0 {
			txn.Rollback()
			return fmt.Errorf("checkpoint update affected no rows")
		}
	}

	return txn.Commit()
}

func (c *dbCheckpointer) LastSequence(shard ShardID) (p SequencePair, err error) {
	var seq string
	var sub int64
	err = c.db.QueryRow(
		"SELECT seq_num, sub_seq_num FROM kinstream_checkpoint WHERE client=$1 AND stream=$2 AND shard=$3",
		c.clientName, c.streamName, shard).Scan(&seq, &sub)
	if err != nil {
		if err == sql.ErrNoRows {
			return SequencePair{}, nil
		}
		return
	}

	return SequencePair{SequenceNumber: SequenceNumber(seq), SubSequenceNumber: sub}, nil
}

func initDB(db *sql.DB) (err error) {
	_, err = db.Exec(createCheckpointTable)
	return
}

// NewCheckpointer creates a SQL-backed CheckpointStore. Checkpoints are
// unique based on client and (streamName, shardID).
func NewCheckpointer(clientName, streamName string, db *sql.DB) (CheckpointStore, error) {
	err := initDB(db)
	if err != nil {
		return nil, fmt.Errorf("Failed to initialize db: %v", err)
	}

	c := dbCheckpointer{
		clientName: clientName,
		streamName: streamName,
		db:         db,
	}

	return &c, nil
}

// storeCheckpointer binds a CheckpointStore to one shard, giving processors
// the narrow per-shard checkpoint capability.
type storeCheckpointer struct {
	store CheckpointStore
	shard ShardID
}

func (s *storeCheckpointer) Checkpoint(seq SequenceNumber, subSeq int64) error {
	return s.store.Checkpoint(s.shard, seq, subSeq)
}

// noopCheckpointer satisfies checkpoint calls without persisting anything,
// for callers that track their own positions.
type noopCheckpointer struct{}

func (noopCheckpointer) Checkpoint(SequenceNumber, int64) error { return nil }
