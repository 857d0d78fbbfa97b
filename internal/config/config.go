// Package config assembles the relay configuration from defaults, an
// optional YAML file, FRAME_RELAY_* environment variables and command-line
// flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sources.
const (
	SourceFakecam = "fakecam"
	SourceRingbuf = "ringbuf"
)

// Output modes.
const (
	OutputMmap   = "mmap"
	OutputStream = "stream"
	OutputQueue  = "queue"
)

// StdoutPath selects standard output for the stream mode.
const StdoutPath = "-"

// ErrHelp is returned by ParseArgs when usage was requested.
var ErrHelp = errors.New("help requested")

// ErrVersion is returned by ParseArgs when the version was requested.
var ErrVersion = errors.New("version requested")

// CustomAttribute represents a custom span attribute with a name and expr expression.
type CustomAttribute struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

// Config holds the resolved relay configuration.
type Config struct {
	Source     string
	RingbufPin string

	Width          int
	Height         int
	BitsPerPixel   int
	BlocksPerFrame int
	NumBlocks      int

	// Skip is the number of blocks discarded before each delivered frame.
	Skip int
	// LatestFrame delivers only the newest frame ready each cycle.
	LatestFrame bool
	// Count stops the relay after that many sent frames. Zero runs until
	// interrupted.
	Count int

	Output     string
	OutputMode string
	QueueDepth int

	NonBlocking   bool
	PollTimeout   time.Duration
	StatsInterval time.Duration

	// Fake camera only.
	FrameInterval time.Duration
	TruncateEvery int
	TagBits       int

	Verbose bool

	// TraceID and ParentID are expressions, see package attributes.
	TraceID          string
	ParentID         string
	CustomAttributes []CustomAttribute

	ConfigFile string
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		Source:         SourceFakecam,
		RingbufPin:     "/sys/fs/bpf/frame_blocks",
		Width:          1280,
		Height:         720,
		BitsPerPixel:   32,
		BlocksPerFrame: 4,
		NumBlocks:      8,
		OutputMode:     OutputMmap,
		QueueDepth:     4,
		PollTimeout:    time.Second,
		StatsInterval:  time.Second,
		TagBits:        8,
	}
}

// FrameSize returns the number of bytes in one frame.
func (c *Config) FrameSize() int {
	return c.Width * c.Height * c.BitsPerPixel / 8
}

// BlockCapacity returns the size of one block.
func (c *Config) BlockCapacity() int {
	if c.BlocksPerFrame <= 0 {
		return 0
	}
	return c.FrameSize() / c.BlocksPerFrame
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceFakecam, SourceRingbuf:
	default:
		return fmt.Errorf("unknown source %q (want %s or %s)", c.Source, SourceFakecam, SourceRingbuf)
	}
	if c.Source == SourceRingbuf && c.RingbufPin == "" {
		return fmt.Errorf("ringbuf source needs a pin path")
	}

	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", c.Width, c.Height)
	}
	if c.BitsPerPixel <= 0 || c.BitsPerPixel%8 != 0 {
		return fmt.Errorf("bits per pixel must be a positive multiple of 8, got %d", c.BitsPerPixel)
	}
	if c.BlocksPerFrame <= 0 {
		return fmt.Errorf("blocks per frame must be positive, got %d", c.BlocksPerFrame)
	}
	if c.FrameSize()%c.BlocksPerFrame != 0 {
		return fmt.Errorf("frame size %d is not a multiple of %d blocks", c.FrameSize(), c.BlocksPerFrame)
	}
	if c.NumBlocks < c.BlocksPerFrame {
		return fmt.Errorf("need at least %d blocks to hold a frame, got %d", c.BlocksPerFrame, c.NumBlocks)
	}
	if c.Skip < 0 {
		return fmt.Errorf("skip must not be negative, got %d", c.Skip)
	}
	if c.Count < 0 {
		return fmt.Errorf("count must not be negative, got %d", c.Count)
	}

	if c.Output == "" {
		return fmt.Errorf("output path is required")
	}
	switch c.OutputMode {
	case OutputMmap:
		if c.Output == StdoutPath {
			return fmt.Errorf("mmap output needs a file path")
		}
	case OutputStream:
	case OutputQueue:
		if c.QueueDepth <= 0 {
			return fmt.Errorf("queue depth must be positive, got %d", c.QueueDepth)
		}
	default:
		return fmt.Errorf("unknown output mode %q (want %s, %s or %s)", c.OutputMode, OutputMmap, OutputStream, OutputQueue)
	}

	if c.PollTimeout <= 0 {
		return fmt.Errorf("poll timeout must be positive, got %s", c.PollTimeout)
	}
	if c.StatsInterval < 0 {
		return fmt.Errorf("stats interval must not be negative, got %s", c.StatsInterval)
	}
	if c.TagBits < 1 || c.TagBits > 16 {
		return fmt.Errorf("tag bits must be within 1..16, got %d", c.TagBits)
	}
	if c.TruncateEvery < 0 {
		return fmt.Errorf("truncate-every must not be negative, got %d", c.TruncateEvery)
	}
	return nil
}

// Usage returns the help text.
func Usage(programName string) string {
	return fmt.Sprintf(`Usage: %s [options]

Reassembles DMA blocks into frames and writes them to an output.

Options:
  -C, --config FILE            YAML configuration file
  -s, --source NAME            block source: fakecam or ringbuf (default fakecam)
      --pin PATH               pinned ring buffer map for the ringbuf source
  -W, --width N                frame width in pixels
  -H, --height N               frame height in pixels
  -b, --bits-per-pixel N       bits per pixel
  -B, --blocks-per-frame N     blocks per frame
  -n, --num-blocks N           source buffer pool size
  -k, --skip N                 blocks to discard before each delivered frame
  -l, --latest                 deliver only the newest ready frame, drop older ones
  -c, --count N                stop after N frames (0 = until interrupted)
  -o, --output PATH            output path, "-" for stdout in stream mode
  -m, --mode MODE              output mode: mmap, stream or queue
  -q, --queue-depth N          frames buffered in queue mode
      --non-blocking           poll the source instead of blocking on it
      --poll-timeout DUR       wait between polls (default 1s)
      --stats-interval DUR     statistics period, 0 disables (default 1s)
      --frame-interval DUR     fake camera frame period
      --truncate-every N       fake camera: truncate every Nth block
      --tag-bits N             fake camera tag width
  -t, --trace-id EXPR          trace ID expression
  -p, --parent-id EXPR         parent span ID expression
  -a, --attribute NAME=EXPR    custom frame span attribute (repeatable)
  -v, --verbose                log every frame
  -V, --version                print version and exit
  -h, --help                   print this help and exit

Environment variables FRAME_RELAY_<OPTION> set the same options.
`, programName)
}

// ParseArgs resolves the configuration for a command line.
// args[0] is the program name.
func ParseArgs(args []string) (*Config, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no arguments provided")
	}

	envCfg, err := ParseEnvConfig()
	if err != nil {
		return nil, err
	}

	cfg := Defaults()

	configFile := envCfg.ConfigFile
	if path, ok := findConfigFlag(args[1:]); ok {
		configFile = path
	}
	if configFile != "" {
		fileCfg, err := LoadFile(configFile)
		if err != nil {
			return nil, err
		}
		fileCfg.apply(cfg)
		cfg.ConfigFile = configFile
	}

	if err := envCfg.apply(cfg); err != nil {
		return nil, err
	}

	if err := parseFlags(cfg, args[1:]); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFlag(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		if args[i] == "-C" || args[i] == "--config" {
			if i+1 < len(args) {
				return args[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

func parseFlags(cfg *Config, args []string) error {
	for i := 0; i < len(args); i++ {
		arg := args[i]

		// Flags without a value.
		switch arg {
		case "-h", "--help":
			return ErrHelp
		case "-V", "--version":
			return ErrVersion
		case "-v", "--verbose":
			cfg.Verbose = true
			continue
		case "--non-blocking":
			cfg.NonBlocking = true
			continue
		case "-l", "--latest":
			cfg.LatestFrame = true
			continue
		}

		if i+1 >= len(args) {
			if strings.HasPrefix(arg, "-") {
				return fmt.Errorf("%s requires a value", arg)
			}
			return fmt.Errorf("unexpected argument %q", arg)
		}
		value := args[i+1]

		var err error
		switch arg {
		case "-C", "--config":
			// Read before everything else.
		case "-s", "--source":
			cfg.Source = value
		case "--pin":
			cfg.RingbufPin = value
		case "-W", "--width":
			cfg.Width, err = parseInt(arg, value)
		case "-H", "--height":
			cfg.Height, err = parseInt(arg, value)
		case "-b", "--bits-per-pixel":
			cfg.BitsPerPixel, err = parseInt(arg, value)
		case "-B", "--blocks-per-frame":
			cfg.BlocksPerFrame, err = parseInt(arg, value)
		case "-n", "--num-blocks":
			cfg.NumBlocks, err = parseInt(arg, value)
		case "-k", "--skip":
			cfg.Skip, err = parseInt(arg, value)
		case "-c", "--count":
			cfg.Count, err = parseInt(arg, value)
		case "-o", "--output":
			cfg.Output = value
		case "-m", "--mode":
			cfg.OutputMode = value
		case "-q", "--queue-depth":
			cfg.QueueDepth, err = parseInt(arg, value)
		case "--poll-timeout":
			cfg.PollTimeout, err = parseDuration(arg, value)
		case "--stats-interval":
			cfg.StatsInterval, err = parseDuration(arg, value)
		case "--frame-interval":
			cfg.FrameInterval, err = parseDuration(arg, value)
		case "--truncate-every":
			cfg.TruncateEvery, err = parseInt(arg, value)
		case "--tag-bits":
			cfg.TagBits, err = parseInt(arg, value)
		case "-t", "--trace-id":
			cfg.TraceID = value
		case "-p", "--parent-id":
			cfg.ParentID = value
		case "-a", "--attribute":
			var attr CustomAttribute
			attr, err = parseAttribute(value)
			if err == nil {
				cfg.CustomAttributes = append(cfg.CustomAttributes, attr)
			}
		default:
			return fmt.Errorf("unknown flag %q", arg)
		}
		if err != nil {
			return err
		}
		i++
	}
	return nil
}

func parseInt(flag, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", flag, value)
	}
	return n, nil
}

func parseDuration(flag, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", flag, value)
	}
	return d, nil
}

// parseAttribute parses NAME=EXPR. Only the first '=' separates.
func parseAttribute(s string) (CustomAttribute, error) {
	name, expression, ok := strings.Cut(s, "=")
	if !ok {
		return CustomAttribute{}, fmt.Errorf("invalid attribute format %q, expected NAME=EXPR", s)
	}
	name = strings.TrimSpace(name)
	expression = strings.TrimSpace(expression)
	if name == "" {
		return CustomAttribute{}, fmt.Errorf("attribute name cannot be empty in %q", s)
	}
	if expression == "" {
		return CustomAttribute{}, fmt.Errorf("attribute expression cannot be empty in %q", s)
	}
	return CustomAttribute{Name: name, Expression: expression}, nil
}

// ParseAttributeString parses semicolon separated NAME=EXPR pairs.
// Empty sections are ignored.
func ParseAttributeString(s string) ([]CustomAttribute, error) {
	var attrs []CustomAttribute
	for _, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		attr, err := parseAttribute(part)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}
