package notifications

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Subtitle derives the push body shown under the title.
func Subtitle(code Code, payload Payload) string {
	switch code {
	case CodeMention, CodeFavorite, CodeModify:
		name, ok1 := field(payload, "anonyname")
		content, ok2 := field(payload, "content")
		if !ok1 || !ok2 {
			return ""
		}
		return fmt.Sprintf("%s: %s", name, content)
	case CodeReport:
		floor := nested(payload, "floor")
		content, ok1 := field(floor, "content")
		reason, ok2 := field(payload, "reason")
		if !ok1 || !ok2 {
			return ""
		}
		return fmt.Sprintf("content: %s, reason: %s", content, reason)
	case CodePenalty:
		division, ok1 := field(payload, "division_id")
		level, ok2 := field(payload, "level")
		date, ok3 := field(payload, "date")
		if !ok1 || !ok2 || !ok3 {
			return ""
		}
		return fmt.Sprintf("division: %s, level: %s, until: %s", division, level, date)
	default:
		return ""
	}
}

func field(values map[string]any, key string) (string, bool) {
	value, ok := values[key]
	if !ok || value == nil {
		return "", false
	}
	return formatValue(value), true
}

// formatValue prints JSON-decoded numbers without exponents.
func formatValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func nested(values map[string]any, key string) map[string]any {
	switch value := values[key].(type) {
	case map[string]any:
		return value
	case Payload:
		return value
	default:
		return nil
	}
}
