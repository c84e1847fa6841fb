package main

import (
	"encoding/json"
	"os"
	"time"
)

// FileConfig is the JSON configuration file shape; every field is
// optional and falls back to its flag/built-in default when zero
// (spec.md §4.3, §4.4, §4.7 carry the underlying timeouts/retry counts
// this just exposes as overridable settings).
type FileConfig struct {
	Device               string `json:"device"`
	Baud                 int    `json:"baud"`
	ReadTimeoutMS        int    `json:"read_timeout_ms"`
	SyncAttemptTimeoutMS int    `json:"sync_attempt_timeout_ms"`
	AckTimeoutMS         int    `json:"ack_timeout_ms"`
	ResponseTimeoutMS    int    `json:"response_timeout_ms"`
	MaxRetries           int    `json:"max_retries"`
	WriteSettleDelayMS   int    `json:"write_settle_delay_ms"`
}

// loadFileConfig reads and parses path as JSON, applying defaults to any
// field left at its zero value.
func loadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Device == "" {
		cfg.Device = "/dev/ttyACM0"
	}
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.ReadTimeoutMS == 0 {
		cfg.ReadTimeoutMS = 500
	}
	if cfg.SyncAttemptTimeoutMS == 0 {
		cfg.SyncAttemptTimeoutMS = 200
	}
	if cfg.AckTimeoutMS == 0 {
		cfg.AckTimeoutMS = 2000
	}
	if cfg.ResponseTimeoutMS == 0 {
		cfg.ResponseTimeoutMS = 2000
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.WriteSettleDelayMS == 0 {
		cfg.WriteSettleDelayMS = 10
	}
}

func (c *FileConfig) readTimeout() time.Duration      { return time.Duration(c.ReadTimeoutMS) * time.Millisecond }
func (c *FileConfig) syncAttemptTimeout() time.Duration {
	return time.Duration(c.SyncAttemptTimeoutMS) * time.Millisecond
}
func (c *FileConfig) ackTimeout() time.Duration      { return time.Duration(c.AckTimeoutMS) * time.Millisecond }
func (c *FileConfig) responseTimeout() time.Duration { return time.Duration(c.ResponseTimeoutMS) * time.Millisecond }
func (c *FileConfig) writeSettleDelay() time.Duration {
	return time.Duration(c.WriteSettleDelayMS) * time.Millisecond
}
