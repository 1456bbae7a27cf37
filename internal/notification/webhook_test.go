package notification

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, body string) map[string]any {
	t.Helper()

	decoder := json.NewDecoder(strings.NewReader(body))
	decoder.UseNumber()

	var payload map[string]any
	require.NoError(t, decoder.Decode(&payload))

	return payload
}

func TestFromWebhook(t *testing.T) {
	t.Run("empty body", func(t *testing.T) {
		draft := FromWebhook(decode(t, `{}`))

		assert.Equal(t, TypeInfo, draft.Type)
		assert.Equal(t, DefaultTitle(TypeInfo), draft.Title)
		assert.Equal(t, DefaultMessage(TypeInfo), draft.Message)
		assert.Nil(t, draft.RemainingSessions)
		assert.Equal(t, DefaultDuration, *draft.Duration)
		assert.True(t, *draft.Sound)
	})

	t.Run("nil payload", func(t *testing.T) {
		draft := FromWebhook(nil)

		assert.Equal(t, TypeInfo, draft.Type)
	})

	t.Run("known statuses", func(t *testing.T) {
		for _, status := range []string{"success", "error", "warning", "info"} {
			draft := FromWebhook(map[string]any{"status": status})

			assert.Equal(t, Type(status), draft.Type)
			assert.Equal(t, DefaultTitle(Type(status)), draft.Title)
			assert.Equal(t, DefaultMessage(Type(status)), draft.Message)
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		draft := FromWebhook(decode(t, `{"status":"done","title":"Scan","message":"ok"}`))

		assert.Equal(t, TypeInfo, draft.Type)
		assert.Equal(t, "Scan", draft.Title)
		assert.Equal(t, "ok", draft.Message)
	})

	t.Run("non string status", func(t *testing.T) {
		draft := FromWebhook(decode(t, `{"status":42}`))

		assert.Equal(t, TypeInfo, draft.Type)
	})

	t.Run("explicit remaining sessions", func(t *testing.T) {
		draft := FromWebhook(decode(t, `{"status":"success","message":"📚 متبقي 2 حصة","remaining_sessions":7}`))

		require.NotNil(t, draft.RemainingSessions)
		assert.Equal(t, 7, *draft.RemainingSessions)
	})

	t.Run("remaining sessions from message", func(t *testing.T) {
		draft := FromWebhook(decode(t, `{"status":"success","message":"📚 متبقي 2 حصة"}`))

		assert.Equal(t, TypeSuccess, draft.Type)
		require.NotNil(t, draft.RemainingSessions)
		assert.Equal(t, 2, *draft.RemainingSessions)
	})

	t.Run("non numeric remaining sessions falls back to message", func(t *testing.T) {
		draft := FromWebhook(decode(t, `{"message":"✅ تم خصم الحصة بنجاح 📚 متبقي 4 حصص","remaining_sessions":"many"}`))

		require.NotNil(t, draft.RemainingSessions)
		assert.Equal(t, 4, *draft.RemainingSessions)
	})

	t.Run("remaining amount of money is not a session count", func(t *testing.T) {
		draft := FromWebhook(decode(t, `{"status":"success","message":"تم الدفع، المبلغ المتبقي 150 جنيه"}`))

		assert.Nil(t, draft.RemainingSessions)
	})

	t.Run("fractional and out of range counts are not numeric", func(t *testing.T) {
		for _, body := range []string{
			`{"remaining_sessions":2.7}`,
			`{"remaining_sessions":1e20}`,
			`{"remaining_sessions":-3}`,
			`{"remaining_sessions":99999999999}`,
		} {
			draft := FromWebhook(decode(t, body))

			assert.Nil(t, draft.RemainingSessions, body)
		}
	})

	t.Run("out of range count falls back to message", func(t *testing.T) {
		draft := FromWebhook(decode(t, `{"message":"متبقي 5 حصص","remaining_sessions":1e20}`))

		require.NotNil(t, draft.RemainingSessions)
		assert.Equal(t, 5, *draft.RemainingSessions)
	})

	t.Run("integral float count", func(t *testing.T) {
		draft := FromWebhook(map[string]any{"remaining_sessions": 4.0})

		require.NotNil(t, draft.RemainingSessions)
		assert.Equal(t, 4, *draft.RemainingSessions)
	})

	t.Run("no count anywhere", func(t *testing.T) {
		draft := FromWebhook(decode(t, `{"message":"hello"}`))

		assert.Nil(t, draft.RemainingSessions)
	})
}

func TestRemainingFromMessage(t *testing.T) {
	tests := []struct {
		message  string
		expected int
		ok       bool
	}{
		{"📚 متبقي 2 حصة", 2, true},
		{"متبقي ١٢ حصة", 12, true},
		{"Remaining: 3 sessions", 3, true},
		{"remaining 10 lessons", 10, true},
		{"remaining 10", 0, false},
		{"تم الدفع، المبلغ المتبقي 150 جنيه", 0, false},
		{"Remaining balance: 150 EGP", 0, false},
		{"تم خصم الحصة", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			n, ok := RemainingFromMessage(tt.message)

			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, n)
		})
	}
}

func TestComplete(t *testing.T) {
	now := time.Now()

	t.Run("defaults", func(t *testing.T) {
		n := Complete(Draft{Type: TypeWarning, Message: "low balance"}, "id-1", now)

		assert.Equal(t, "id-1", n.Id)
		assert.Equal(t, TypeWarning, n.Type)
		assert.Equal(t, DefaultTitle(TypeWarning), n.Title)
		assert.Equal(t, "low balance", n.Message)
		assert.Equal(t, now, n.Timestamp)
		assert.Equal(t, DefaultDuration, n.Duration)
		assert.True(t, n.Sound)
		assert.True(t, n.Expires())
		assert.Equal(t, 5*time.Second, n.ExpiresIn())
	})

	t.Run("zero duration disables expiry", func(t *testing.T) {
		n := Complete(Draft{Type: TypeInfo, Message: "m", Duration: Int(0), Sound: Bool(false)}, "id-2", now)

		assert.Equal(t, 0, n.Duration)
		assert.False(t, n.Expires())
		assert.False(t, n.Sound)
	})

	t.Run("invalid type", func(t *testing.T) {
		n := Complete(Draft{Type: "fatal"}, "id-3", now)

		assert.Equal(t, TypeInfo, n.Type)
		assert.Equal(t, DefaultMessage(TypeInfo), n.Message)
	})
}

func TestNewId(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	a := NewId(now)
	b := NewId(now)

	assert.True(t, strings.HasPrefix(a, "notification-1700000000000-"))
	assert.Len(t, strings.TrimPrefix(a, "notification-1700000000000-"), 9)
	assert.NotEqual(t, a, b)
}
