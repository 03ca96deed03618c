package webhook

import (
	"encoding/json"
	"regexp"
)

var secretKeyRe = regexp.MustCompile(`(?i)token|secret|signature|key`)

// Sanitize returns a copy of a JSON document with every object field whose
// name looks secret-bearing removed, recursively. Non-object documents pass
// through unchanged; invalid JSON is replaced by an empty object so the audit
// insert never fails on payload shape.
func Sanitize(raw []byte) []byte {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []byte(`{}`)
	}
	cleaned := stripSecrets(doc)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return []byte(`{}`)
	}
	return out
}

func stripSecrets(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, nested := range v {
			if secretKeyRe.MatchString(key) {
				continue
			}
			out[key] = stripSecrets(nested)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = stripSecrets(item)
		}
		return out
	default:
		return v
	}
}
