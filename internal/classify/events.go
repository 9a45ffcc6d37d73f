package classify

// Speaker identifies who produced a transcript delta.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// Event is the canonical representation of one fragment of an upstream
// payload, decoupled from its wire shape.
type Event interface {
	isEvent()
}

// Welcome signals upstream session establishment.
type Welcome struct{}

func (Welcome) isEvent() {}

// TranscriptDelta carries a piece of speech transcription.
type TranscriptDelta struct {
	Speaker Speaker
	Text    string
	IsFinal bool
}

func (TranscriptDelta) isEvent() {}

// ResponseTextDelta carries a piece of the agent's textual response.
type ResponseTextDelta struct {
	Text string
}

func (ResponseTextDelta) isEvent() {}

// ResponseAudioDelta carries decoded agent speech audio.
type ResponseAudioDelta struct {
	Bytes []byte
}

func (ResponseAudioDelta) isEvent() {}

// TurnComplete signals that the agent finished its turn.
type TurnComplete struct{}

func (TurnComplete) isEvent() {}

// ErrorEvent carries an upstream error notification.
type ErrorEvent struct {
	Detail string
}

func (ErrorEvent) isEvent() {}

// WarningEvent carries an upstream warning notification.
type WarningEvent struct {
	Detail string
}

func (WarningEvent) isEvent() {}
