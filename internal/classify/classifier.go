package classify

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// Classifier normalizes heterogeneous upstream payloads into canonical
// events. It performs no I/O; classification of one payload is fully
// deterministic.
type Classifier struct {
	logger *zap.Logger
}

// New creates a Classifier. A nil logger falls back to a no-op logger.
func New(logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{logger: logger}
}

// ClassifyBinary handles a raw binary frame. Binary frames are always
// agent audio.
func (c *Classifier) ClassifyBinary(data []byte) []Event {
	if len(data) == 0 {
		return nil
	}
	return []Event{ResponseAudioDelta{Bytes: data}}
}

// ClassifyText handles a text frame carrying a JSON control message.
// Malformed JSON is dropped with a diagnostic and yields zero events;
// it must never surface as a relay failure.
func (c *Classifier) ClassifyText(payload []byte) []Event {
	var obj map[string]interface{}
	if err := json.Unmarshal(payload, &obj); err != nil {
		c.logger.Warn("Dropping unparseable upstream payload", zap.Error(err))
		return nil
	}
	return c.classifyObject(obj)
}

func (c *Classifier) classifyObject(obj map[string]interface{}) []Event {
	// Audio found in a known top-level field wins over type dispatch.
	// An undecodable value only voids the audio itself; the rest of the
	// payload still classifies on type.
	if raw, ok := obj["audio"]; ok {
		if audio, ok := decodeAudio(raw); ok {
			return []Event{ResponseAudioDelta{Bytes: audio}}
		}
		c.logger.Warn("Dropping audio field with unknown encoding")
	}

	msgType, _ := obj["type"].(string)
	lowered := strings.ToLower(msgType)
	if strings.Contains(lowered, "transcript") {
		return c.transcriptEvents(obj, msgType)
	}
	switch lowered {
	case "welcome", "session.created", "session_created", "sessioncreated":
		return []Event{Welcome{}}

	case "agent-response":
		return c.responseEvents(obj)

	case "error":
		return []Event{ErrorEvent{Detail: detailOf(obj)}}

	case "warning":
		return []Event{WarningEvent{Detail: detailOf(obj)}}

	case "close", "close_stream":
		return []Event{TurnComplete{}}
	}

	// One-level unwrap for enveloped payloads.
	if nested, ok := obj["data"].(map[string]interface{}); ok {
		nestedType, _ := nested["type"].(string)
		switch nestedLowered := strings.ToLower(nestedType); {
		case strings.Contains(nestedLowered, "transcript"):
			return c.transcriptEvents(nested, nestedType)
		case nestedLowered == "agent-response":
			return c.responseEvents(nested)
		}
	}

	c.logger.Debug("Ignoring upstream payload with unknown type", zap.String("type", msgType))
	return nil
}

func detailOf(obj map[string]interface{}) string {
	for _, field := range []string{"message", "description", "error", "detail"} {
		if s, ok := obj[field].(string); ok && s != "" {
			return s
		}
	}
	raw, _ := json.Marshal(obj)
	return string(raw)
}
