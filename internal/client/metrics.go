package client

import "time"

const (
	// fpsWindow is the sampling window for the frames-per-second figure.
	fpsWindow = time.Second
	// maxPlausibleLatency bounds the latency shown to the user. Values
	// outside [0, maxPlausibleLatency) indicate clock skew or a stale
	// capture timestamp and are suppressed.
	maxPlausibleLatency = 5000 * time.Millisecond
)

// FrameMetrics derives display-quality telemetry from the frame stream:
// frames per second over a fixed window, and the latency of the latest
// frame relative to its capture timestamp. Not safe for concurrent use;
// the session client serializes access.
type FrameMetrics struct {
	windowStart time.Time
	frameCount  int
	fps         int
}

// RecordFrame accounts one frame captured at tsSeconds (Unix seconds,
// fractional) observed at now. It returns the frame's latency in
// milliseconds and whether that latency is plausible enough to display.
func (m *FrameMetrics) RecordFrame(now time.Time, tsSeconds float64) (latencyMS float64, ok bool) {
	if m.windowStart.IsZero() {
		m.windowStart = now
	}
	m.frameCount++
	if elapsed := now.Sub(m.windowStart); elapsed >= fpsWindow {
		m.fps = m.frameCount - 1
		m.frameCount = 1
		m.windowStart = now
	}

	latencyMS = float64(now.UnixMilli()) - tsSeconds*1000
	ok = latencyMS >= 0 && latencyMS < float64(maxPlausibleLatency/time.Millisecond)
	return latencyMS, ok
}

// FPS returns the frame rate measured over the last completed window.
// Zero until a full window has elapsed.
func (m *FrameMetrics) FPS() int {
	return m.fps
}

// Reset clears the window and counters. Used when the stream stops.
func (m *FrameMetrics) Reset() {
	m.windowStart = time.Time{}
	m.frameCount = 0
	m.fps = 0
}
