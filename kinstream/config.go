package kinstream

import (
	"fmt"
	"io"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultBufferSize            = 100
	DefaultCheckpointBatchSize   = 500
	DefaultCheckpointBatchWindow = 10 * time.Second
)

// Settings configure one reader invocation. Zero values for the tunables are
// replaced with defaults during validation; the identities are required.
type Settings struct {
	StreamName string
	AppName    string
	RegionName string

	// BufferSize caps the number of undelivered chunks held between the
	// coordinator's shard callbacks and the reader.
	BufferSize int

	// CheckpointBatchSize and CheckpointBatchWindow are the per-shard window
	// thresholds used by the checkpoint pipe.
	CheckpointBatchSize   int
	CheckpointBatchWindow time.Duration

	RetrievalMode   RetrievalMode
	InitialPosition InitialPosition

	// KinesisService overrides the client the built-in Worker uses.
	// Left nil, one is constructed for RegionName.
	KinesisService KinesisService

	// CheckpointStore gives the built-in Worker durable checkpoints. Left
	// nil, checkpoint calls succeed without persisting anything.
	CheckpointStore CheckpointStore

	// Factory overrides the coordinator. Left nil, the built-in polling
	// Worker is used.
	Factory CoordinatorFactory
}

func (s *Settings) validate() error {
	if s.StreamName == "" {
		return fmt.Errorf("stream name required")
	}
	if s.AppName == "" {
		return fmt.Errorf("app name required")
	}
	if s.BufferSize < 0 {
		return fmt.Errorf("buffer size must be positive: %d", s.BufferSize)
	}
	if s.BufferSize == 0 {
		s.BufferSize = DefaultBufferSize
	}
	if s.CheckpointBatchSize < 0 {
		return fmt.Errorf("checkpoint batch size must be positive: %d", s.CheckpointBatchSize)
	}
	if s.CheckpointBatchSize == 0 {
		s.CheckpointBatchSize = DefaultCheckpointBatchSize
	}
	if s.CheckpointBatchWindow < 0 {
		return fmt.Errorf("checkpoint batch window must be positive: %v", s.CheckpointBatchWindow)
	}
	if s.CheckpointBatchWindow == 0 {
		s.CheckpointBatchWindow = DefaultCheckpointBatchWindow
	}
	switch s.RetrievalMode {
	case "":
		s.RetrievalMode = Polling
	case Polling, FanOut:
	default:
		return fmt.Errorf("unknown retrieval mode %q", s.RetrievalMode)
	}
	switch s.InitialPosition.Position {
	case "":
		s.InitialPosition = Latest()
	case positionLatest, positionTrimHorizon:
	case positionAtTimestamp:
		if s.InitialPosition.Timestamp.IsZero() {
			return fmt.Errorf("at_timestamp position requires a timestamp")
		}
	default:
		return fmt.Errorf("unknown initial position %q", s.InitialPosition.Position)
	}
	return nil
}

// StreamConfig is one stream's entry in the config file.
type StreamConfig struct {
	StreamName            string `yaml:"name"`
	RegionName            string `yaml:"region"`
	AppName               string `yaml:"app_name"`
	BufferSize            int    `yaml:"buffer_size"`
	CheckpointBatchSize   int    `yaml:"checkpoint_batch_size"`
	CheckpointBatchWindow string `yaml:"checkpoint_batch_window"`
	RetrievalMode         string `yaml:"retrieval_mode"`
	InitialPosition       string `yaml:"initial_position"`
}

// Settings builds reader settings for this stream entry. Defaults still
// apply when the reader validates them.
func (sc *StreamConfig) Settings() (*Settings, error) {
	s := &Settings{
		StreamName:          sc.StreamName,
		AppName:             sc.AppName,
		RegionName:          sc.RegionName,
		BufferSize:          sc.BufferSize,
		CheckpointBatchSize: sc.CheckpointBatchSize,
		RetrievalMode:       RetrievalMode(sc.RetrievalMode),
		InitialPosition:     InitialPosition{Position: sc.InitialPosition},
	}

	if sc.CheckpointBatchWindow != "" {
		w, err := time.ParseDuration(sc.CheckpointBatchWindow)
		if err != nil {
			return nil, fmt.Errorf("bad checkpoint batch window %q: %v", sc.CheckpointBatchWindow, err)
		}
		s.CheckpointBatchWindow = w
	}

	return s, nil
}

type Config struct {
	Streams map[string]StreamConfig
}

func (c *Config) ConfigForName(n string) (sc *StreamConfig, err error) {
	if scv, ok := c.Streams[n]; ok {
		return &scv, nil
	}
	return nil, fmt.Errorf("Failed to find stream")
}

func NewConfigFromFile(r io.Reader) (c *Config, err error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}

	c = &Config{}

	err = yaml.Unmarshal(data, &c.Streams)
	if err != nil {
		return nil, err
	}

	return
}
