// Package relay runs the capture session: decimate, assemble, deliver, one
// traced cycle per output frame.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mrzor/frame-relay/internal/assembler"
	"github.com/mrzor/frame-relay/internal/attributes"
	"github.com/mrzor/frame-relay/internal/block"
	"github.com/mrzor/frame-relay/internal/decimator"
	"github.com/mrzor/frame-relay/internal/output"
	"github.com/mrzor/frame-relay/internal/stats"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// SpanName is the name of the span covering one cycle.
const SpanName = "frame.cycle"

// Config holds the session parameters.
type Config struct {
	BlocksPerFrame int
	Skip           int
	PollTimeout    time.Duration
	// LatestFrame drains every ready block before delivering and sends only
	// the newest complete frame. Older frames are dropped.
	LatestFrame bool
	// MaxFrames ends Run after that many sent frames; zero means no limit.
	MaxFrames uint64
	Verbose   bool
}

// Option customizes a Relay.
type Option func(*Relay)

// WithTracer sets the tracer used for cycle spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Relay) { r.tracer = tracer }
}

// WithCounters shares counters with the caller, typically a stats reporter.
func WithCounters(counters *stats.Counters) Option {
	return func(r *Relay) { r.counters = counters }
}

// WithEvaluator adds custom attributes to every delivered frame's span.
func WithEvaluator(e *attributes.Evaluator) Option {
	return func(r *Relay) { r.evaluator = e }
}

// WithRemoteParent parents every cycle span to sc. Warnings produced while
// resolving it are attached to each span.
func WithRemoteParent(sc trace.SpanContext, warnings []attribute.KeyValue) Option {
	return func(r *Relay) {
		r.parent = sc
		r.warnings = warnings
	}
}

// Relay owns the decimator and assembler of one session.
type Relay struct {
	cfg       Config
	asm       *assembler.Assembler
	dec       *decimator.Decimator
	counters  *stats.Counters
	tracer    trace.Tracer
	evaluator *attributes.Evaluator
	parent    trace.SpanContext
	warnings  []attribute.KeyValue
	cycle     uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New creates a relay from src to sink.
func New(src block.Source, sink output.Sink, cfg Config, opts ...Option) (*Relay, error) {
	r := &Relay{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.counters == nil {
		r.counters = stats.New()
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer("frame-relay")
	}

	dec, err := decimator.New(src, r.counters, cfg.Skip, cfg.PollTimeout)
	if err != nil {
		return nil, fmt.Errorf("creating decimator: %w", err)
	}
	asm, err := assembler.New(src, sink, r.counters, assembler.Config{
		BlocksPerFrame: cfg.BlocksPerFrame,
		PollTimeout:    cfg.PollTimeout,
		Latest:         cfg.LatestFrame,
	})
	if err != nil {
		return nil, fmt.Errorf("creating assembler: %w", err)
	}
	r.dec = dec
	r.asm = asm
	return r, nil
}

// Counters returns the session counters.
func (r *Relay) Counters() *stats.Counters {
	return r.counters
}

// RunCycle skips the configured number of blocks, then assembles and delivers
// the next frame, or the newest one ready in LatestFrame mode. It reports
// whether a frame reached the sink; a frame refused by a busy sink is counted
// as dropped and is not an error.
func (r *Relay) RunCycle(ctx context.Context) (bool, error) {
	r.cycle++

	spanCtx := ctx
	if r.parent.IsValid() {
		spanCtx = trace.ContextWithRemoteSpanContext(ctx, r.parent)
	}
	_, span := r.tracer.Start(spanCtx, SpanName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int64("frame.cycle", int64(r.cycle)),
			attribute.Int("frame.skip", r.cfg.Skip),
		),
	)
	defer span.End()
	if len(r.warnings) > 0 {
		span.SetAttributes(r.warnings...)
	}

	discarded, err := r.dec.Discard(ctx)
	span.SetAttributes(attribute.Int("frame.discarded_blocks", discarded))
	if err != nil {
		r.finishSpan(ctx, span, err)
		return false, err
	}

	f, delivered, err := r.asm.Cycle(ctx)
	snap := r.counters.Snapshot()
	span.SetAttributes(
		attribute.Int64("frame.captured", int64(snap.Captured)),
		attribute.Int64("frame.sent", int64(snap.Sent)),
		attribute.Int64("frame.dropped", int64(snap.Dropped)),
		attribute.Int64("frame.incomplete", int64(snap.Incomplete)),
	)
	if f != nil {
		span.SetAttributes(
			attribute.Int("frame.tag", int(f.Tag)),
			attribute.Int("frame.blocks", len(f.Blocks)),
			attribute.Int("frame.bytes", f.Size),
		)
		if !f.Timestamp.IsZero() {
			span.SetAttributes(attribute.Int64("frame.latency_us", time.Since(f.Timestamp).Microseconds()))
		}
		if f.Superseded > 0 {
			span.SetAttributes(attribute.Int("frame.superseded", f.Superseded))
			span.AddEvent("frame.superseded", trace.WithAttributes(attribute.Int("frame.count", f.Superseded)))
			if r.cfg.Verbose {
				log.Printf("frame %d tag=%d superseded %d older frames", r.cycle, f.Tag, f.Superseded)
			}
		}
	}
	if err != nil {
		r.finishSpan(ctx, span, err)
		return false, err
	}

	if !delivered {
		span.AddEvent("frame.dropped", trace.WithAttributes(attribute.Int("frame.tag", int(f.Tag))))
		if r.cfg.Verbose {
			log.Printf("frame %d tag=%d dropped: sink busy", r.cycle, f.Tag)
		}
		return false, nil
	}

	if r.evaluator != nil {
		span.SetAttributes(r.evaluator.EvaluateFrameAttributes(attributes.FrameInfo{
			Cycle:    r.cycle,
			Tag:      f.Tag,
			Blocks:   len(f.Blocks),
			Bytes:    f.Size,
			Counters: snap,
		})...)
	}
	if r.cfg.Verbose {
		log.Printf("frame %d tag=%d blocks=%d bytes=%d sent", r.cycle, f.Tag, len(f.Blocks), f.Size)
	}
	return true, nil
}

// finishSpan marks span failed unless err is the cycle's own cancellation.
func (r *Relay) finishSpan(ctx context.Context, span trace.Span, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		span.SetAttributes(attribute.Bool("frame.cancelled", true))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Run loops cycles until ctx is done, MaxFrames frames were sent, or a fatal
// source or sink error occurs. Cancellation is a clean stop. Blocks still held
// are released before Run returns.
func (r *Relay) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := r.asm.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("releasing held blocks: %w", cerr))
		}
	}()

	for {
		if r.cfg.MaxFrames > 0 && r.counters.Snapshot().Sent >= r.cfg.MaxFrames {
			return nil
		}
		if _, err := r.RunCycle(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
	}
}

// Start runs the relay in a goroutine until ctx is done, Stop is called, or
// Run returns on its own.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return errors.New("relay already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		defer cancel()
		err := r.Run(ctx)
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}()
	return nil
}

// Stop asks a started relay to finish its current wait and return.
func (r *Relay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return errors.New("relay not started")
	}
	r.cancel()
	return nil
}

// Done is closed when a started relay has returned.
func (r *Relay) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Wait blocks until a started relay returns and reports its error.
func (r *Relay) Wait() error {
	done := r.Done()
	if done == nil {
		return errors.New("relay not started")
	}
	<-done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
