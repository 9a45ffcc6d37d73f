package classify

import "strings"

// responseEvents classifies an agent-response payload. The payload may
// carry zero or more response sub-objects; each is classified
// independently and events keep sub-object order. A synthesized
// TurnComplete always trails the data events when completion is
// detected anywhere in the payload.
func (c *Classifier) responseEvents(obj map[string]interface{}) []Event {
	var events []Event
	completed := false

	for _, sub := range responseObjects(obj) {
		if text, ok := responseText(sub); ok {
			events = append(events, ResponseTextDelta{Text: text})
		}
		if audio, ok := responseAudio(sub); ok {
			events = append(events, ResponseAudioDelta{Bytes: audio})
		}
		if completionSignaled(sub) {
			completed = true
		}
	}

	// Completion can also be flagged on the outer payload.
	if completionSignaled(obj) {
		completed = true
	}

	if completed {
		events = append(events, TurnComplete{})
	}
	return events
}

// responseObjects collects response sub-objects from the shapes the
// upstream service has been observed to emit, in discovery order.
func responseObjects(obj map[string]interface{}) []map[string]interface{} {
	var subs []map[string]interface{}

	appendAll := func(v interface{}) {
		list, ok := v.([]interface{})
		if !ok {
			return
		}
		for _, item := range list {
			if sub, ok := item.(map[string]interface{}); ok {
				subs = append(subs, sub)
			}
		}
	}

	appendAll(obj["responses"])
	if response, ok := obj["response"].(map[string]interface{}); ok {
		if outputs, ok := response["outputs"]; ok {
			appendAll(outputs)
		} else {
			subs = append(subs, response)
		}
	}
	appendAll(obj["output"])
	appendAll(obj["outputs"])

	return subs
}

// responseText extracts the textual content of one response sub-object.
// Only sub-objects whose type or kind marks them as textual are
// considered.
func responseText(sub map[string]interface{}) (string, bool) {
	if !textKind(sub) {
		return "", false
	}
	for _, field := range []string{"text", "content", "value"} {
		if s, ok := sub[field].(string); ok && s != "" {
			return s, true
		}
	}
	for _, field := range []string{"messages", "texts"} {
		if joined, ok := joinStrings(sub[field]); ok {
			return joined, true
		}
	}
	return "", false
}

func textKind(sub map[string]interface{}) bool {
	for _, field := range []string{"type", "kind"} {
		kind, ok := sub[field].(string)
		if !ok {
			continue
		}
		kind = strings.ToLower(kind)
		if strings.Contains(kind, "text") || kind == "message" {
			return true
		}
	}
	return false
}

func joinStrings(v interface{}) (string, bool) {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(list))
	for _, item := range list {
		switch s := item.(type) {
		case string:
			parts = append(parts, s)
		case map[string]interface{}:
			for _, field := range []string{"text", "content"} {
				if inner, ok := s[field].(string); ok && inner != "" {
					parts = append(parts, inner)
					break
				}
			}
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, " "), true
}

// responseAudio looks for audio independently of the sub-object's kind.
func responseAudio(sub map[string]interface{}) ([]byte, bool) {
	candidates := []interface{}{sub["audio"], sub["data"]}
	if payload, ok := sub["payload"].(map[string]interface{}); ok {
		candidates = append(candidates, payload["audio"], payload["data"])
	}
	candidates = append(candidates, sub["value"])

	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}
		if audio, ok := decodeAudio(candidate); ok {
			return audio, true
		}
	}
	return nil, false
}

var completedStatuses = map[string]bool{
	"completed": true,
	"complete":  true,
	"finished":  true,
	"done":      true,
}

// completionSignaled reports whether an object carries any of the
// completion markers the upstream service uses interchangeably.
func completionSignaled(obj map[string]interface{}) bool {
	for _, field := range []string{"type", "kind"} {
		if kind, ok := obj[field].(string); ok {
			switch strings.ToLower(kind) {
			case "completed", "done":
				return true
			}
		}
	}
	if status, ok := obj["status"].(string); ok && completedStatuses[strings.ToLower(status)] {
		return true
	}
	if _, ok := obj["completion_reason"]; ok {
		return true
	}
	if done, ok := obj["done"].(bool); ok && done {
		return true
	}
	return false
}
