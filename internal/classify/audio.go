package classify

import "encoding/base64"

// decodeAudio normalizes the audio encodings observed from the upstream
// service into raw bytes. Accepted shapes: raw bytes, base64 string,
// numeric byte array, and a wrapped {type:"Buffer", data:[...]} object.
// Anything else yields (nil, false).
func decodeAudio(v interface{}) ([]byte, bool) {
	switch audio := v.(type) {
	case []byte:
		if len(audio) == 0 {
			return nil, false
		}
		return audio, true

	case string:
		if audio == "" {
			return nil, false
		}
		decoded, err := base64.StdEncoding.DecodeString(audio)
		if err != nil {
			// Some senders strip the padding.
			decoded, err = base64.RawStdEncoding.DecodeString(audio)
			if err != nil {
				return nil, false
			}
		}
		return decoded, true

	case []interface{}:
		return decodeByteArray(audio)

	case map[string]interface{}:
		// Node's Buffer JSON form: {"type":"Buffer","data":[...]}.
		if t, _ := audio["type"].(string); t != "Buffer" {
			return nil, false
		}
		data, ok := audio["data"].([]interface{})
		if !ok {
			return nil, false
		}
		return decodeByteArray(data)
	}

	return nil, false
}

func decodeByteArray(values []interface{}) ([]byte, bool) {
	if len(values) == 0 {
		return nil, false
	}
	out := make([]byte, 0, len(values))
	for _, v := range values {
		n, ok := v.(float64)
		if !ok || n < 0 || n > 255 {
			return nil, false
		}
		out = append(out, byte(n))
	}
	return out, true
}
