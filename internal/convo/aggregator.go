// Package convo accumulates canonical events into turn-scoped
// conversation messages and schedules gapless agent audio playback.
package convo

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/swara-ai/swara/internal/classify"
)

// Status is the conversational state exposed to the presentation layer.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusListening  Status = "listening"
	StatusSpeaking   Status = "speaking"
)

// Aggregator consumes the canonical event stream and maintains the
// running conversation. It is driven from a single event loop; all
// mutation happens sequentially, so it carries no locks.
type Aggregator struct {
	messages []*Message
	open     *Message // at most one open model message
	interim  string   // latest non-final user transcript

	schedule   *PlaybackSchedule
	sampleRate int
	voiceLabel string
	status     Status

	logger *zap.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithVoiceLabel tags model messages with the configured voice.
func WithVoiceLabel(label string) Option {
	return func(a *Aggregator) { a.voiceLabel = label }
}

// WithSampleRate overrides the playback sample rate used to derive
// segment durations from PCM16 byte counts.
func WithSampleRate(rate int) Option {
	return func(a *Aggregator) { a.sampleRate = rate }
}

// NewAggregator creates an aggregator scheduling playback against the
// given device clock.
func NewAggregator(clock AudioClock, logger *zap.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		schedule:   NewPlaybackSchedule(clock),
		sampleRate: 48000,
		status:     StatusConnecting,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply folds one canonical event into the conversation state.
func (a *Aggregator) Apply(event classify.Event) {
	switch ev := event.(type) {
	case classify.Welcome:
		a.status = StatusListening

	case classify.TranscriptDelta:
		a.applyTranscript(ev)

	case classify.ResponseTextDelta:
		a.appendText(ev.Text)

	case classify.ResponseAudioDelta:
		a.appendAudio(ev.Bytes)

	case classify.TurnComplete:
		a.finalizeOpen()
		a.status = StatusListening

	case classify.ErrorEvent:
		a.logger.Error("Upstream error", zap.String("detail", ev.Detail))

	case classify.WarningEvent:
		a.logger.Warn("Upstream warning", zap.String("detail", ev.Detail))
	}
}

func (a *Aggregator) applyTranscript(ev classify.TranscriptDelta) {
	if ev.Speaker == classify.SpeakerUser {
		if !ev.IsFinal {
			a.interim = ev.Text
			return
		}
		// Barge-in: the user spoke over the agent. Close whatever the
		// model had open and drop its queued audio.
		a.finalizeOpen()
		a.schedule.Clear()
		a.interim = ""

		user := newMessage(RoleUser, "")
		user.Text = normalizeText(ev.Text)
		user.Final = true
		a.messages = append(a.messages, user)
		a.status = StatusListening
		return
	}

	// Agent-side transcripts behave like response text deltas.
	a.appendText(ev.Text)
}

func (a *Aggregator) appendText(text string) {
	text = normalizeText(text)
	if text == "" {
		return
	}
	msg := a.openMessage()
	if msg.Text == "" {
		msg.Text = text
	} else {
		msg.Text = msg.Text + " " + text
	}
}

func (a *Aggregator) appendAudio(data []byte) {
	if len(data) == 0 {
		return
	}
	msg := a.openMessage()
	msg.Audio = append(msg.Audio, data...)
	a.schedule.Schedule(data, a.pcmDuration(len(data)))
}

// openMessage returns the open model message, creating one when the
// previous turn has been finalized.
func (a *Aggregator) openMessage() *Message {
	if a.open == nil {
		a.open = newMessage(RoleModel, a.voiceLabel)
		a.messages = append(a.messages, a.open)
		a.status = StatusSpeaking
	}
	return a.open
}

// finalizeOpen freezes the open model message. Later deltas start a
// brand-new message rather than reopening this one.
func (a *Aggregator) finalizeOpen() {
	if a.open == nil {
		return
	}
	a.open.Final = true
	a.open = nil
}

// pcmDuration derives the play time of a PCM16 little-endian mono
// buffer at the configured sample rate.
func (a *Aggregator) pcmDuration(byteLen int) time.Duration {
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / time.Duration(a.sampleRate)
}

// Conversation returns a snapshot of the ordered conversation.
func (a *Aggregator) Conversation() []Message {
	out := make([]Message, 0, len(a.messages))
	for _, msg := range a.messages {
		out = append(out, *msg)
	}
	return out
}

// Interim returns the latest non-final user transcript, for live
// caption display.
func (a *Aggregator) Interim() string {
	return a.interim
}

// Status returns the current conversational state.
func (a *Aggregator) Status() Status {
	return a.status
}

// Schedule exposes the playback schedule for the audio output layer.
func (a *Aggregator) Schedule() *PlaybackSchedule {
	return a.schedule
}

// normalizeText collapses runs of whitespace into single spaces.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
