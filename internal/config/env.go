package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every relay environment variable.
const EnvPrefix = "FRAME_RELAY_"

// EnvConfig holds configuration from FRAME_RELAY_* environment variables.
// Zero values mean unset.
type EnvConfig struct {
	ConfigFile     string        `env:"CONFIG"`
	Source         string        `env:"SOURCE"`
	RingbufPin     string        `env:"RINGBUF_PIN"`
	Width          int           `env:"WIDTH"`
	Height         int           `env:"HEIGHT"`
	BitsPerPixel   int           `env:"BITS_PER_PIXEL"`
	BlocksPerFrame int           `env:"BLOCKS_PER_FRAME"`
	NumBlocks      int           `env:"NUM_BLOCKS"`
	Skip           int           `env:"SKIP"`
	LatestFrame    bool          `env:"LATEST_FRAME"`
	Count          int           `env:"COUNT"`
	Output         string        `env:"OUTPUT"`
	OutputMode     string        `env:"OUTPUT_MODE"`
	QueueDepth     int           `env:"QUEUE_DEPTH"`
	NonBlocking    bool          `env:"NON_BLOCKING"`
	PollTimeout    time.Duration `env:"POLL_TIMEOUT"`
	StatsInterval  time.Duration `env:"STATS_INTERVAL"`
	FrameInterval  time.Duration `env:"FRAME_INTERVAL"`
	TruncateEvery  int           `env:"TRUNCATE_EVERY"`
	TagBits        int           `env:"TAG_BITS"`
	Verbose        bool          `env:"VERBOSE"`
	TraceID        string        `env:"TRACE_ID"`
	ParentID       string        `env:"PARENT_ID"`
	// Attributes is "name1=expr1;name2=expr2".
	Attributes string `env:"ATTRIBUTES"`
}

// ParseEnvConfig parses FRAME_RELAY_* environment variables.
func ParseEnvConfig() (*EnvConfig, error) {
	var cfg EnvConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment config: %w", err)
	}
	return &cfg, nil
}

func (e *EnvConfig) apply(cfg *Config) error {
	setString(&cfg.Source, e.Source)
	setString(&cfg.RingbufPin, e.RingbufPin)
	setInt(&cfg.Width, e.Width)
	setInt(&cfg.Height, e.Height)
	setInt(&cfg.BitsPerPixel, e.BitsPerPixel)
	setInt(&cfg.BlocksPerFrame, e.BlocksPerFrame)
	setInt(&cfg.NumBlocks, e.NumBlocks)
	setInt(&cfg.Skip, e.Skip)
	setBool(&cfg.LatestFrame, e.LatestFrame)
	setInt(&cfg.Count, e.Count)
	setString(&cfg.Output, e.Output)
	setString(&cfg.OutputMode, e.OutputMode)
	setInt(&cfg.QueueDepth, e.QueueDepth)
	setBool(&cfg.NonBlocking, e.NonBlocking)
	setDuration(&cfg.PollTimeout, e.PollTimeout)
	setDuration(&cfg.StatsInterval, e.StatsInterval)
	setDuration(&cfg.FrameInterval, e.FrameInterval)
	setInt(&cfg.TruncateEvery, e.TruncateEvery)
	setInt(&cfg.TagBits, e.TagBits)
	setBool(&cfg.Verbose, e.Verbose)
	setString(&cfg.TraceID, e.TraceID)
	setString(&cfg.ParentID, e.ParentID)

	attrs, err := ParseAttributeString(e.Attributes)
	if err != nil {
		return fmt.Errorf("%sATTRIBUTES: %w", EnvPrefix, err)
	}
	cfg.CustomAttributes = append(cfg.CustomAttributes, attrs...)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst *bool, v bool) {
	if v {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
