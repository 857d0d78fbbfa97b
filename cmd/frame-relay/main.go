// frame-relay reassembles DMA blocks from a capture producer into video
// frames and writes them to a shared mapping, a stream or a frame queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/mrzor/frame-relay/internal/attributes"
	"github.com/mrzor/frame-relay/internal/block"
	"github.com/mrzor/frame-relay/internal/bpfloader"
	"github.com/mrzor/frame-relay/internal/config"
	"github.com/mrzor/frame-relay/internal/fakecam"
	"github.com/mrzor/frame-relay/internal/otel"
	"github.com/mrzor/frame-relay/internal/output"
	"github.com/mrzor/frame-relay/internal/relay"
	"github.com/mrzor/frame-relay/internal/ringsource"
	"github.com/mrzor/frame-relay/internal/stats"
	"github.com/mrzor/frame-relay/internal/timesync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// session resolves the trace ID and remote parent expressions against the
// process environment.
func session(cfg *config.Config) (trace.TraceID, trace.SpanContext, []attribute.KeyValue, error) {
	info := &attributes.SessionInfo{
		Environ: attributes.Environ(os.Environ()),
		Args:    os.Args,
	}

	traceEval, err := attributes.NewTraceIDEvaluator(cfg.TraceID)
	if err != nil {
		return trace.TraceID{}, trace.SpanContext{}, nil, err
	}
	traceID, warnings, err := traceEval.EvaluateAndValidate(info)
	if err != nil {
		return trace.TraceID{}, trace.SpanContext{}, nil, err
	}

	parentEval, err := attributes.NewParentIDEvaluator(cfg.ParentID)
	if err != nil {
		return trace.TraceID{}, trace.SpanContext{}, nil, err
	}
	parentID, parentWarnings, err := parentEval.EvaluateAndValidate(info)
	if err != nil {
		return trace.TraceID{}, trace.SpanContext{}, nil, err
	}
	warnings = append(warnings, parentWarnings...)

	return traceID, attributes.RemoteParent(traceID, parentID), warnings, nil
}

// setupOTEL initializes the OTEL provider and returns a tracer and cleanup
// function. Without a configured endpoint spans are not recorded.
func setupOTEL(versionInfo string, traceID trace.TraceID) (trace.Tracer, func(), error) {
	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse OTEL config: %w", err)
	}

	if !otelCfg.Enabled() {
		return noop.NewTracerProvider().Tracer("frame-relay"), func() {}, nil
	}

	tp, err := otel.InitProvider(otelCfg, versionInfo, traceID)
	if err != nil {
		return nil, nil, fmt.Errorf("ABORT: failed to initialize OTEL provider: %w", err)
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(tp, shutdownCtx); err != nil {
			log.Printf("Error shutting down OTEL provider: %v", err)
		}
	}

	return tp.Tracer("frame-relay"), cleanup, nil
}

// closingSource is a block source that must be closed at shutdown.
type closingSource interface {
	block.Source
	Close() error
}

// setupSource opens the configured block source. start, if not nil, runs
// the producer until ctx is done.
func setupSource(cfg *config.Config) (closingSource, func(ctx context.Context), func(), error) {
	switch cfg.Source {
	case config.SourceFakecam:
		cam, err := fakecam.New(fakecam.Config{
			Width:          cfg.Width,
			Height:         cfg.Height,
			BytesPerPixel:  cfg.BitsPerPixel / 8,
			BlocksPerFrame: cfg.BlocksPerFrame,
			NumBlocks:      cfg.NumBlocks,
			TagBits:        cfg.TagBits,
			TruncateEvery:  cfg.TruncateEvery,
			FrameInterval:  cfg.FrameInterval,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating fake camera: %w", err)
		}
		start := func(ctx context.Context) {
			if err := cam.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, fakecam.ErrClosed) {
				log.Printf("fake camera stopped: %v", err)
			}
		}
		cleanup := func() {
			if err := cam.Close(); err != nil {
				log.Printf("Error closing fake camera: %v", err)
			}
		}
		return cam, start, cleanup, nil

	case config.SourceRingbuf:
		loader, err := bpfloader.Open(cfg.RingbufPin)
		if err != nil {
			return nil, nil, nil, err
		}
		converter, err := timesync.NewConverter()
		if err != nil {
			_ = loader.Close() //nolint:errcheck // Best-effort cleanup in error path
			return nil, nil, nil, fmt.Errorf("failed to create time converter: %w", err)
		}
		src, err := ringsource.New(loader.Reader(), ringsource.Config{
			BlockSize:   cfg.BlockCapacity(),
			NumBlocks:   cfg.NumBlocks,
			NonBlocking: cfg.NonBlocking,
		}, converter)
		if err != nil {
			_ = loader.Close() //nolint:errcheck // Best-effort cleanup in error path
			return nil, nil, nil, err
		}
		cleanup := func() {
			// The source closes the reader; the loader also drops the map.
			if err := src.Close(); err != nil {
				log.Printf("Error closing ring buffer: %v", err)
			}
			if err := loader.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				log.Printf("Error closing loader: %v", err)
			}
			if n := src.Skipped(); n > 0 {
				log.Printf("skipped %d malformed ring buffer records", n)
			}
		}
		return src, nil, cleanup, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown source %q", cfg.Source)
}

// setupSink opens the configured output.
func setupSink(cfg *config.Config) (output.Sink, func() error, error) {
	switch cfg.OutputMode {
	case config.OutputMmap:
		if err := ensureFile(cfg.Output); err != nil {
			return nil, nil, err
		}
		m, err := output.OpenMmap(cfg.Output, cfg.FrameSize())
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil

	case config.OutputStream, config.OutputQueue:
		w, closeW, err := openWriter(cfg.Output)
		if err != nil {
			return nil, nil, err
		}
		if cfg.OutputMode == config.OutputStream {
			return output.NewStream(w), closeW, nil
		}
		q, err := output.NewQueue(w, cfg.FrameSize(), cfg.QueueDepth)
		if err != nil {
			_ = closeW() //nolint:errcheck // Best-effort cleanup in error path
			return nil, nil, err
		}
		return q, func() error { return errors.Join(q.Close(), closeW()) }, nil
	}
	return nil, nil, fmt.Errorf("unknown output mode %q", cfg.OutputMode)
}

func ensureFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("creating output %s: %w", path, err)
	}
	return f.Close()
}

func openWriter(path string) (io.Writer, func() error, error) {
	if path == config.StdoutPath {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening output %s: %w", path, err)
	}
	return f, f.Close, nil
}

func run() error {
	cfg, err := config.ParseArgs(os.Args)
	switch {
	case errors.Is(err, config.ErrHelp):
		fmt.Print(config.Usage(os.Args[0]))
		return nil
	case errors.Is(err, config.ErrVersion):
		fmt.Printf("frame-relay %s (commit: %s, built: %s)\n", version, commit, date)
		return nil
	case err != nil:
		return err
	}

	log.Printf("Starting frame-relay %s (commit: %s, built: %s)", version, commit, date)

	traceID, parent, warnings, err := session(cfg)
	if err != nil {
		return err
	}

	versionInfo := fmt.Sprintf("%s (%s)", version, commit)
	tracer, cleanupOTEL, err := setupOTEL(versionInfo, traceID)
	if err != nil {
		return err
	}
	defer cleanupOTEL()

	evaluator, err := attributes.NewEvaluator(cfg.CustomAttributes)
	if err != nil {
		return err
	}

	src, startSource, cleanupSource, err := setupSource(cfg)
	if err != nil {
		return err
	}
	defer cleanupSource()

	sink, closeSink, err := setupSink(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSink(); err != nil {
			log.Printf("Error closing output: %v", err)
		}
	}()

	counters := stats.New()
	r, err := relay.New(src, sink, relay.Config{
		BlocksPerFrame: cfg.BlocksPerFrame,
		Skip:           cfg.Skip,
		LatestFrame:    cfg.LatestFrame,
		PollTimeout:    cfg.PollTimeout,
		MaxFrames:      uint64(cfg.Count),
		Verbose:        cfg.Verbose,
	},
		relay.WithTracer(tracer),
		relay.WithCounters(counters),
		relay.WithEvaluator(evaluator),
		relay.WithRemoteParent(parent, warnings),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if startSource != nil {
		go startSource(ctx)
	}
	go stats.NewReporter(counters, cfg.StatsInterval, nil).Run(ctx)

	log.Printf("Relaying %dx%d frames (%d bytes in %d blocks) from %s to %s (%s)",
		cfg.Width, cfg.Height, cfg.FrameSize(), cfg.BlocksPerFrame, cfg.Source, cfg.Output, cfg.OutputMode)

	// A blocking ring buffer read only returns once the reader is closed.
	if cfg.Source == config.SourceRingbuf && !cfg.NonBlocking {
		go func() {
			<-ctx.Done()
			if err := src.Close(); err != nil {
				log.Printf("Error closing ring buffer: %v", err)
			}
		}()
	}

	err = r.Run(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ringbuf.ErrClosed) {
		err = nil
	}
	log.Print(counters.Snapshot())
	if ctx.Err() != nil {
		log.Println("Received signal, terminating...")
	}
	return err
}
