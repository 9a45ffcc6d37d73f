package convo

import "time"

// AudioClock reports the output device's advancing playback position.
type AudioClock interface {
	Now() time.Duration
}

// SystemClock derives playback position from wall time, for consumers
// without a real output device.
type SystemClock struct {
	start time.Time
}

// NewSystemClock creates a clock starting at zero.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Now returns the elapsed wall time since the clock was created.
func (c *SystemClock) Now() time.Duration {
	return time.Since(c.start)
}

// Segment is one scheduled slice of agent audio.
type Segment struct {
	Start    time.Duration
	Duration time.Duration
	Data     []byte
}

// PlaybackSchedule queues audio segments for gapless sequential
// playback. Each segment's start is clamped to
// max(device current time, cumulative end of prior segments) so
// back-to-back deltas play without silence gaps and nothing is
// scheduled in the past.
type PlaybackSchedule struct {
	clock     AudioClock
	nextStart time.Duration
	queue     []Segment
}

// NewPlaybackSchedule creates an empty schedule driven by the given
// device clock.
func NewPlaybackSchedule(clock AudioClock) *PlaybackSchedule {
	return &PlaybackSchedule{clock: clock}
}

// Schedule enqueues a segment and returns it with its resolved start.
func (s *PlaybackSchedule) Schedule(data []byte, duration time.Duration) Segment {
	start := s.clock.Now()
	if s.nextStart > start {
		start = s.nextStart
	}

	seg := Segment{Start: start, Duration: duration, Data: data}
	s.queue = append(s.queue, seg)
	s.nextStart = start + duration
	return seg
}

// Pending returns the scheduled-but-not-cleared segments in order.
func (s *PlaybackSchedule) Pending() []Segment {
	out := make([]Segment, len(s.queue))
	copy(out, s.queue)
	return out
}

// Clear drops every queued segment and resets the cursor. Used on
// barge-in: the user interrupted, so queued agent audio must not play.
func (s *PlaybackSchedule) Clear() {
	s.queue = nil
	s.nextStart = 0
}
