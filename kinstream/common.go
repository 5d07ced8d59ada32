// Package kinstream provides an opinionated consumer interface to Kinesis.
//
// It bridges the per-shard, callback-driven delivery of a coordinator (the
// built-in polling Worker, or an external KCL-style coordinator) into a
// single blocking reader with bounded buffering, and provides a checkpoint
// pipe that batches checkpoint calls per shard.
package kinstream

import "math/big"

// Some types to keep our lists of func args from getting confused
type ShardID string
type SequenceNumber string

// For tracking ShardID => last committed position
type ShardToSequence map[ShardID]SequencePair

// SequencePair orders records within a shard. A Kinesis sequence number is a
// decimal numeral far too large for an int64, so it is compared as a big.Int;
// the sub-sequence number breaks ties between records that were aggregated
// into the same Kinesis record by a KPL producer.
type SequencePair struct {
	SequenceNumber    SequenceNumber
	SubSequenceNumber int64
}

// IsEmpty reports whether the pair carries no position at all.
func (p SequencePair) IsEmpty() bool {
	return p.SequenceNumber == ""
}

// Compare returns -1, 0 or 1 as p orders before, equal to, or after o.
func (p SequencePair) Compare(o SequencePair) int {
	a, aok := new(big.Int).SetString(string(p.SequenceNumber), 10)
	b, bok := new(big.Int).SetString(string(o.SequenceNumber), 10)

	var c int
	if aok && bok {
		c = a.Cmp(b)
	} else {
		// Not decimal numerals. This shouldn't happen with real Kinesis
		// sequence numbers, but tests and other backends may use plain
		// strings, so fall back to a bytewise compare.
		switch {
		case p.SequenceNumber < o.SequenceNumber:
			c = -1
		case p.SequenceNumber > o.SequenceNumber:
			c = 1
		}
	}

	if c != 0 {
		return c
	}

	switch {
	case p.SubSequenceNumber < o.SubSequenceNumber:
		return -1
	case p.SubSequenceNumber > o.SubSequenceNumber:
		return 1
	}
	return 0
}

// Before reports whether p orders strictly before o.
func (p SequencePair) Before(o SequencePair) bool {
	return p.Compare(o) < 0
}
