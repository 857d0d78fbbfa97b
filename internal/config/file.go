package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration file layout. Keys left out keep the
// defaults.
type FileConfig struct {
	Source         string            `yaml:"source"`
	RingbufPin     string            `yaml:"ringbuf_pin"`
	Width          int               `yaml:"width"`
	Height         int               `yaml:"height"`
	BitsPerPixel   int               `yaml:"bits_per_pixel"`
	BlocksPerFrame int               `yaml:"blocks_per_frame"`
	NumBlocks      int               `yaml:"num_blocks"`
	Skip           int               `yaml:"skip"`
	LatestFrame    bool              `yaml:"latest_frame"`
	Count          int               `yaml:"count"`
	Output         string            `yaml:"output"`
	OutputMode     string            `yaml:"output_mode"`
	QueueDepth     int               `yaml:"queue_depth"`
	NonBlocking    bool              `yaml:"non_blocking"`
	PollTimeout    time.Duration     `yaml:"poll_timeout"`
	StatsInterval  time.Duration     `yaml:"stats_interval"`
	FrameInterval  time.Duration     `yaml:"frame_interval"`
	TruncateEvery  int               `yaml:"truncate_every"`
	TagBits        int               `yaml:"tag_bits"`
	Verbose        bool              `yaml:"verbose"`
	TraceID        string            `yaml:"trace_id"`
	ParentID       string            `yaml:"parent_id"`
	Attributes     []CustomAttribute `yaml:"attributes"`
}

// LoadFile reads a YAML configuration file. Unknown keys are rejected.
func LoadFile(path string) (*FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	var fc FileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	for _, attr := range fc.Attributes {
		if attr.Name == "" || attr.Expression == "" {
			return nil, fmt.Errorf("config file %s: attribute needs a name and an expression", path)
		}
	}
	return &fc, nil
}

func (fc *FileConfig) apply(cfg *Config) {
	setString(&cfg.Source, fc.Source)
	setString(&cfg.RingbufPin, fc.RingbufPin)
	setInt(&cfg.Width, fc.Width)
	setInt(&cfg.Height, fc.Height)
	setInt(&cfg.BitsPerPixel, fc.BitsPerPixel)
	setInt(&cfg.BlocksPerFrame, fc.BlocksPerFrame)
	setInt(&cfg.NumBlocks, fc.NumBlocks)
	setInt(&cfg.Skip, fc.Skip)
	setBool(&cfg.LatestFrame, fc.LatestFrame)
	setInt(&cfg.Count, fc.Count)
	setString(&cfg.Output, fc.Output)
	setString(&cfg.OutputMode, fc.OutputMode)
	setInt(&cfg.QueueDepth, fc.QueueDepth)
	setBool(&cfg.NonBlocking, fc.NonBlocking)
	setDuration(&cfg.PollTimeout, fc.PollTimeout)
	setDuration(&cfg.StatsInterval, fc.StatsInterval)
	setDuration(&cfg.FrameInterval, fc.FrameInterval)
	setInt(&cfg.TruncateEvery, fc.TruncateEvery)
	setInt(&cfg.TagBits, fc.TagBits)
	setBool(&cfg.Verbose, fc.Verbose)
	setString(&cfg.TraceID, fc.TraceID)
	setString(&cfg.ParentID, fc.ParentID)
	cfg.CustomAttributes = append(cfg.CustomAttributes, fc.Attributes...)
}
