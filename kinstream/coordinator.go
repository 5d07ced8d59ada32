package kinstream

import "time"

// A Coordinator owns shard assignment and record retrieval, delivering
// records to Processors. The built-in polling Worker implements this; so can
// any external KCL-style coordinator wrapped to this interface.
type Coordinator interface {
	// Run blocks for the life of the coordinator. A nil return still means
	// the coordinator stopped; for an infinite stream that is abnormal
	// unless Shutdown was called.
	Run() error

	// Shutdown stops the coordinator. Idempotent, safe after Run returns.
	Shutdown()
}

// CoordinatorFactory builds the coordinator for one reader invocation.
// workerID is freshly minted per invocation so repeated reads never collide.
type CoordinatorFactory func(workerID string, s *Settings, f ProcessorFactory) (Coordinator, error)

// RetrievalMode selects how the coordinator fetches records.
type RetrievalMode string

const (
	// Polling fetches with GetRecords on an interval.
	Polling RetrievalMode = "polling"

	// FanOut subscribes with enhanced fan-out. The built-in Worker does not
	// implement it; settings accept it only for external coordinators.
	FanOut RetrievalMode = "fanout"
)

// InitialPosition is where to start reading a shard that has no checkpoint.
type InitialPosition struct {
	Position  string
	Timestamp time.Time
}

const (
	positionLatest      = "latest"
	positionTrimHorizon = "trim_horizon"
	positionAtTimestamp = "at_timestamp"
)

// Latest starts at the shard tip, skipping history.
func Latest() InitialPosition {
	return InitialPosition{Position: positionLatest}
}

// TrimHorizon starts at the oldest record the shard retains.
func TrimHorizon() InitialPosition {
	return InitialPosition{Position: positionTrimHorizon}
}

// AtTimestamp starts at the first record at or after t.
func AtTimestamp(t time.Time) InitialPosition {
	return InitialPosition{Position: positionAtTimestamp, Timestamp: t}
}
