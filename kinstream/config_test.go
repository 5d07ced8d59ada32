package kinstream

import (
	"bytes"
	"testing"
	"time"
)

var testConfig = `
my_stream:
  name: my_stream_v2
  region: us-west-1
  app_name: my_app
  buffer_size: 25
  checkpoint_batch_size: 50
  checkpoint_batch_window: 5s
  initial_position: trim_horizon
`

func TestNewConfigFromFile(t *testing.T) {
	r := bytes.NewBufferString(testConfig)

	c, err := NewConfigFromFile(r)
	if err != nil {
		t.Errorf(err.Error())
		return
	}

	sc, err := c.ConfigForName("my_stream")
	if err != nil {
		t.Errorf("Failed to find stream")
		return
	}

	if sc.StreamName != "my_stream_v2" {
		t.Errorf("StreamName mismatch")
	}
	if sc.RegionName != "us-west-1" {
		t.Errorf("RegionName mismatch")
	}
	if sc.AppName != "my_app" {
		t.Errorf("AppName mismatch")
	}

	s, err := sc.Settings()
	if err != nil {
		t.Errorf("Failed to build settings: %v", err)
		return
	}

	if s.BufferSize != 25 {
		t.Errorf("BufferSize mismatch")
	}
	if s.CheckpointBatchSize != 50 {
		t.Errorf("CheckpointBatchSize mismatch")
	}
	if s.CheckpointBatchWindow != 5*time.Second {
		t.Errorf("CheckpointBatchWindow mismatch")
	}
	if s.InitialPosition.Position != positionTrimHorizon {
		t.Errorf("InitialPosition mismatch")
	}
}

func TestMissingStream(t *testing.T) {
	c := Config{}

	_, err := c.ConfigForName("foo")
	if err == nil {
		t.Errorf("Missing error")
		return
	}
}

func TestBadBatchWindow(t *testing.T) {
	sc := StreamConfig{
		StreamName:            "s",
		AppName:               "a",
		CheckpointBatchWindow: "not-a-duration",
	}

	if _, err := sc.Settings(); err == nil {
		t.Errorf("Expected an error for a bad window")
	}
}

func TestSettingsDefaults(t *testing.T) {
	s := &Settings{StreamName: "s", AppName: "a"}
	if err := s.validate(); err != nil {
		t.Errorf("validate failed: %v", err)
		return
	}

	if s.BufferSize != DefaultBufferSize {
		t.Errorf("BufferSize default not applied")
	}
	if s.CheckpointBatchSize != DefaultCheckpointBatchSize {
		t.Errorf("CheckpointBatchSize default not applied")
	}
	if s.CheckpointBatchWindow != DefaultCheckpointBatchWindow {
		t.Errorf("CheckpointBatchWindow default not applied")
	}
	if s.RetrievalMode != Polling {
		t.Errorf("RetrievalMode default not applied")
	}
	if s.InitialPosition.Position != positionLatest {
		t.Errorf("InitialPosition default not applied")
	}
}

func TestSettingsValidation(t *testing.T) {
	cases := []Settings{
		{AppName: "a"},
		{StreamName: "s"},
		{StreamName: "s", AppName: "a", BufferSize: -1},
		{StreamName: "s", AppName: "a", CheckpointBatchSize: -1},
		{StreamName: "s", AppName: "a", CheckpointBatchWindow: -time.Second},
		{StreamName: "s", AppName: "a", RetrievalMode: "carrier-pigeon"},
		{StreamName: "s", AppName: "a", InitialPosition: InitialPosition{Position: "yesterday"}},
		{StreamName: "s", AppName: "a", InitialPosition: InitialPosition{Position: positionAtTimestamp}},
	}

	for i, s := range cases {
		s := s
		if err := s.validate(); err == nil {
			t.Errorf("case %d: expected a validation error", i)
		}
	}
}

func TestSettingsAtTimestamp(t *testing.T) {
	s := &Settings{
		StreamName:      "s",
		AppName:         "a",
		InitialPosition: AtTimestamp(time.Now()),
	}
	if err := s.validate(); err != nil {
		t.Errorf("validate failed: %v", err)
	}
}
