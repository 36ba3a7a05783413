package agent

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultFPS is the frame rate used when the client does not ask for one.
const DefaultFPS = 24

// FrameSource captures one viewport snapshot as PNG bytes.
type FrameSource interface {
	CaptureFrame(ctx context.Context) ([]byte, error)
}

// FrameFunc receives an encoded frame: a PNG data URL plus the capture
// time in Unix seconds.
type FrameFunc func(dataURL string, timestamp float64)

// Streamer captures frames from a source at a capped rate and hands them
// to a sink. One stream at a time; Start while streaming is a no-op.
type Streamer struct {
	source FrameSource
	sink   FrameFunc
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	fps     int
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewStreamer creates a streamer delivering frames to sink.
func NewStreamer(source FrameSource, sink FrameFunc, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{source: source, sink: sink, logger: logger}
}

// Running reports whether a stream is active.
func (s *Streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// FPS returns the rate of the active stream, or 0 when idle.
func (s *Streamer) FPS() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.fps
}

// Start begins streaming at the given rate. fps <= 0 takes DefaultFPS.
// Returns the effective fps.
func (s *Streamer) Start(fps int) int {
	if fps <= 0 {
		fps = DefaultFPS
	}

	s.mu.Lock()
	if s.running {
		fps = s.fps
		s.mu.Unlock()
		return fps
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.fps = fps
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.loop(ctx, fps)
	}()
	return fps
}

// Stop ends the stream and waits for the capture loop to exit.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done
}

// loop captures frames until the context is cancelled. The limiter caps
// the capture rate; slow captures simply lower the effective fps.
func (s *Streamer) loop(ctx context.Context, fps int) {
	limiter := rate.NewLimiter(rate.Limit(fps), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		png, err := s.source.CaptureFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("frame capture failed", "error", err)
			continue
		}

		dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
		ts := float64(time.Now().UnixNano()) / 1e9
		s.sink(dataURL, ts)
	}
}
