package classify

import "strings"

// textRule extracts transcript text from one known payload shape.
type textRule func(obj map[string]interface{}) (string, bool)

// transcriptTextRules is the ordered extraction pipeline for transcript
// text. Rules are tried in order; the first hit wins. The order is part
// of the protocol contract and must not be reshuffled.
var transcriptTextRules = []textRule{
	directString("transcript"),
	directString("text"),
	directString("content"),
	alternativeText("channel"),
	topLevelAlternative,
	alternativeText("results"),
	joinedWords,
}

func (c *Classifier) transcriptEvents(obj map[string]interface{}, typeLiteral string) []Event {
	text, ok := extractFirst(transcriptTextRules, obj)
	if !ok {
		c.logger.Debug("Transcript payload without extractable text")
		return nil
	}

	speaker := resolveSpeaker(obj)
	if speaker == "" {
		speaker = SpeakerUser
	}

	return []Event{TranscriptDelta{
		Speaker: speaker,
		Text:    text,
		IsFinal: transcriptFinal(obj, typeLiteral),
	}}
}

func extractFirst(rules []textRule, obj map[string]interface{}) (string, bool) {
	for _, rule := range rules {
		if text, ok := rule(obj); ok {
			return text, true
		}
	}
	return "", false
}

func directString(field string) textRule {
	return func(obj map[string]interface{}) (string, bool) {
		s, ok := obj[field].(string)
		return s, ok && s != ""
	}
}

// alternativeText digs into <container>.alternatives[0].
func alternativeText(container string) textRule {
	return func(obj map[string]interface{}) (string, bool) {
		inner, ok := obj[container].(map[string]interface{})
		if !ok {
			return "", false
		}
		return firstAlternativeText(inner)
	}
}

// topLevelAlternative handles a top-level alternatives[] array.
func topLevelAlternative(obj map[string]interface{}) (string, bool) {
	return firstAlternativeText(obj)
}

func firstAlternativeText(obj map[string]interface{}) (string, bool) {
	alt, ok := firstAlternative(obj)
	if !ok {
		return "", false
	}
	for _, field := range []string{"transcript", "text", "content"} {
		if s, ok := alt[field].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func firstAlternative(obj map[string]interface{}) (map[string]interface{}, bool) {
	alts, ok := obj["alternatives"].([]interface{})
	if !ok || len(alts) == 0 {
		return nil, false
	}
	alt, ok := alts[0].(map[string]interface{})
	return alt, ok
}

func joinedWords(obj map[string]interface{}) (string, bool) {
	words, ok := obj["words"].([]interface{})
	if !ok || len(words) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(words))
	for _, w := range words {
		switch word := w.(type) {
		case string:
			parts = append(parts, word)
		case map[string]interface{}:
			if s, ok := word["word"].(string); ok {
				parts = append(parts, s)
			}
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, " "), true
}

// transcriptFinal decides whether a transcript delta closes the
// utterance. The confidence check mirrors observed upstream behavior
// where interim results omit confidence entirely; treating any positive
// confidence as final looks suspect but is deliberately preserved.
func transcriptFinal(obj map[string]interface{}, typeLiteral string) bool {
	for _, field := range []string{"is_final", "final", "speech_final"} {
		if flag, ok := obj[field].(bool); ok && flag {
			return true
		}
	}
	if strings.Contains(strings.ToLower(typeLiteral), "final") {
		return true
	}
	for _, container := range []string{"channel", "results"} {
		inner, ok := obj[container].(map[string]interface{})
		if !ok {
			continue
		}
		if alt, ok := firstAlternative(inner); ok {
			if confidence, ok := alt["confidence"].(float64); ok && confidence > 0 {
				return true
			}
		}
	}
	if alt, ok := firstAlternative(obj); ok {
		if confidence, ok := alt["confidence"].(float64); ok && confidence > 0 {
			return true
		}
	}
	return false
}

var speakerFields = []string{"speaker", "role", "participant", "metadata.speaker", "source"}

var speakerAliases = map[string]Speaker{
	"user":      SpeakerUser,
	"customer":  SpeakerUser,
	"caller":    SpeakerUser,
	"assistant": SpeakerModel,
	"agent":     SpeakerModel,
	"ai":        SpeakerModel,
	"model":     SpeakerModel,
	"bot":       SpeakerModel,
	"system":    SpeakerModel,
}

// resolveSpeaker maps any of the aliased speaker fields to a canonical
// speaker. Unrecognized tokens yield "" and the caller applies the
// transcript default.
func resolveSpeaker(obj map[string]interface{}) Speaker {
	for _, field := range speakerFields {
		token, ok := lookupString(obj, field)
		if !ok {
			continue
		}
		if speaker, ok := speakerAliases[strings.ToLower(token)]; ok {
			return speaker
		}
	}
	return ""
}

// lookupString resolves a possibly dotted field path to a string value.
func lookupString(obj map[string]interface{}, path string) (string, bool) {
	current := obj
	parts := strings.Split(path, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			return "", false
		}
		current = next
	}
	s, ok := current[parts[len(parts)-1]].(string)
	return s, ok && s != ""
}
