package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mrzor/frame-relay/internal/config"
	"github.com/mrzor/frame-relay/internal/fakecam"
	"github.com/mrzor/frame-relay/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Width = 32
	cfg.Height = 8
	cfg.BlocksPerFrame = 2
	cfg.NumBlocks = 4
	cfg.OutputMode = mode
	cfg.Output = filepath.Join(t.TempDir(), "frames.raw")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestEndToEnd_FakecamToEachSink(t *testing.T) {
	for _, mode := range []string{config.OutputMmap, config.OutputStream, config.OutputQueue} {
		t.Run(mode, func(t *testing.T) {
			cfg := testConfig(t, mode)

			src, start, cleanupSource, err := setupSource(cfg)
			require.NoError(t, err)
			require.NotNil(t, start)

			sink, closeSink, err := setupSink(cfg)
			require.NoError(t, err)

			r, err := relay.New(src, sink, relay.Config{
				BlocksPerFrame: cfg.BlocksPerFrame,
				PollTimeout:    10 * time.Millisecond,
				MaxFrames:      2,
			})
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				start(ctx)
			}()

			require.NoError(t, r.Run(context.Background()))
			cancel()
			<-done
			require.NoError(t, closeSink())
			cleanupSource()

			cam := src.(*fakecam.Camera)
			assert.Zero(t, cam.Lent())
			assert.Equal(t, uint64(2), r.Counters().Snapshot().Sent)

			data, err := os.ReadFile(cfg.Output)
			require.NoError(t, err)
			switch mode {
			case config.OutputMmap:
				// The mapping holds the most recent frame.
				assert.Equal(t, cam.Reference(1), data)
			default:
				assert.Equal(t, append(append([]byte{}, cam.Reference(0)...), cam.Reference(1)...), data)
			}
		})
	}
}

func TestSetupSource_MissingPin(t *testing.T) {
	cfg := testConfig(t, config.OutputStream)
	cfg.Source = config.SourceRingbuf
	cfg.RingbufPin = filepath.Join(t.TempDir(), "absent")

	_, _, _, err := setupSource(cfg)
	require.Error(t, err)
}

func TestSession_RemoteParent(t *testing.T) {
	t.Setenv("TEST_TRACE_ID", "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4")
	t.Setenv("TEST_PARENT_ID", "0123456789abcdef")

	cfg := config.Defaults()
	cfg.TraceID = `env["TEST_TRACE_ID"]`
	cfg.ParentID = `env["TEST_PARENT_ID"]`

	traceID, parent, warnings, err := session(cfg)
	require.NoError(t, err)
	assert.Equal(t, "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4", traceID.String())
	assert.True(t, parent.IsValid())
	assert.Equal(t, "0123456789abcdef", parent.SpanID().String())
	assert.Empty(t, warnings)
}

func TestSession_NoExpressions(t *testing.T) {
	traceID, parent, warnings, err := session(config.Defaults())
	require.NoError(t, err)
	assert.False(t, traceID.IsValid())
	assert.False(t, parent.IsValid())
	assert.Empty(t, warnings)
}
