package kinstream

import (
	"testing"
)

func TestSequencePairCompareNumeric(t *testing.T) {
	// Lexicographically "9" > "10"; numerically it is not.
	a := SequencePair{SequenceNumber: "9"}
	b := SequencePair{SequenceNumber: "10"}

	if a.Compare(b) >= 0 {
		t.Errorf("9 should order before 10")
	}
	if !a.Before(b) {
		t.Errorf("9 should be before 10")
	}
}

func TestSequencePairCompareBig(t *testing.T) {
	// Real Kinesis sequence numbers don't fit in an int64
	a := SequencePair{SequenceNumber: "49590338271490256608559692538361571095921575989136588898"}
	b := SequencePair{SequenceNumber: "49590338271490256608559692538361571095921575989136588899"}

	if a.Compare(b) != -1 {
		t.Errorf("expected a < b")
	}
	if b.Compare(a) != 1 {
		t.Errorf("expected b > a")
	}
	if a.Compare(a) != 0 {
		t.Errorf("expected a == a")
	}
}

func TestSequencePairSubSequenceTieBreak(t *testing.T) {
	a := SequencePair{SequenceNumber: "100", SubSequenceNumber: 1}
	b := SequencePair{SequenceNumber: "100", SubSequenceNumber: 2}

	if !a.Before(b) {
		t.Errorf("sub-sequence number should break ties")
	}
	if b.Before(a) {
		t.Errorf("sub-sequence order reversed")
	}
}

func TestSequencePairCompareNonNumeric(t *testing.T) {
	// Fake backends may use plain strings; fall back to bytewise order
	a := SequencePair{SequenceNumber: "abc"}
	b := SequencePair{SequenceNumber: "abd"}

	if !a.Before(b) {
		t.Errorf("expected bytewise fallback ordering")
	}
}

func TestSequencePairIsEmpty(t *testing.T) {
	if !(SequencePair{}).IsEmpty() {
		t.Errorf("zero pair should be empty")
	}
	if (SequencePair{SequenceNumber: "1"}).IsEmpty() {
		t.Errorf("pair with a sequence number isn't empty")
	}
}
