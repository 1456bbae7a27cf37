package notification

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var remainingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`متبقي\s*:?\s*([0-9٠-٩]+)\s*(?:حصة|حصص)`),
	regexp.MustCompile(`(?i)\bremaining\s*:?\s*([0-9]+)\s*(?:sessions?|classes|class|lessons?)\b`),
}

var arabicIndicDigits = strings.NewReplacer(
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

// FromWebhook normalizes an arbitrary automation payload. It never fails:
// missing or mistyped fields fall back to the type defaults.
func FromWebhook(payload map[string]any) Draft {
	status, _ := payload["status"].(string)
	t := ParseType(status)

	title, _ := payload["title"].(string)
	if title == "" {
		title = DefaultTitle(t)
	}

	message, _ := payload["message"].(string)
	if message == "" {
		message = DefaultMessage(t)
	}

	remaining, ok := numeric(payload["remaining_sessions"])
	if !ok {
		remaining, ok = RemainingFromMessage(message)
	}

	draft := Draft{
		Type:     t,
		Title:    title,
		Message:  message,
		Duration: Int(DefaultDuration),
		Sound:    Bool(true),
	}
	if ok {
		draft.RemainingSessions = Int(remaining)
	}

	return draft
}

// RemainingFromMessage extracts the session count embedded in phrases like
// "📚 متبقي 2 حصة" or "Remaining: 2 sessions". A count without a session
// unit, such as an amount of money, is ignored.
func RemainingFromMessage(message string) (int, bool) {
	for _, pattern := range remainingPatterns {
		match := pattern.FindStringSubmatch(message)
		if match == nil {
			continue
		}

		n, err := strconv.Atoi(arabicIndicDigits.Replace(match[1]))
		if err != nil {
			continue
		}

		return n, true
	}

	return 0, false
}

// numeric accepts whole, non-negative numbers that fit in an int. Fractions
// and out of range values are rejected rather than truncated.
func numeric(v any) (int, bool) {
	var f float64

	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return fromInt64(i)
		}

		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case int:
		return fromInt64(int64(n))
	default:
		return 0, false
	}

	if f != math.Trunc(f) || f < 0 || f > math.MaxInt32 {
		return 0, false
	}

	return int(f), true
}

func fromInt64(i int64) (int, bool) {
	if i < 0 || i > math.MaxInt32 {
		return 0, false
	}

	return int(i), true
}
