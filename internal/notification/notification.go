package notification

import (
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type Type string

const (
	TypeSuccess Type = "success"
	TypeError   Type = "error"
	TypeWarning Type = "warning"
	TypeInfo    Type = "info"
)

const DefaultDuration = 5000

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// ParseType maps a raw status to a Type. Unknown values map to TypeInfo.
func ParseType(raw string) Type {
	switch Type(raw) {
	case TypeSuccess, TypeError, TypeWarning, TypeInfo:
		return Type(raw)
	default:
		return TypeInfo
	}
}

func (t Type) Valid() bool {
	switch t {
	case TypeSuccess, TypeError, TypeWarning, TypeInfo:
		return true
	default:
		return false
	}
}

func DefaultTitle(t Type) string {
	switch t {
	case TypeSuccess:
		return "نجح / Success"
	case TypeError:
		return "خطأ / Error"
	case TypeWarning:
		return "تحذير / Warning"
	default:
		return "إشعار / Notification"
	}
}

func DefaultMessage(t Type) string {
	switch t {
	case TypeSuccess:
		return "تمت العملية بنجاح / Operation completed successfully"
	case TypeError:
		return "فشلت العملية / Operation failed"
	case TypeWarning:
		return "يرجى المراجعة / Please review"
	default:
		return "تم تنفيذ العملية / Operation completed"
	}
}

// Draft is a notification as producers send it and as it travels over the
// stream. Optional fields stay nil until the store fills in defaults.
type Draft struct {
	Type              Type   `json:"type"`
	Title             string `json:"title,omitempty"`
	Message           string `json:"message"`
	RemainingSessions *int   `json:"remaining_sessions,omitempty"`
	Duration          *int   `json:"duration,omitempty"`
	Sound             *bool  `json:"sound,omitempty"`
}

// Notification is an immutable, stored notification.
type Notification struct {
	Id                string    `json:"id"`
	Type              Type      `json:"type"`
	Title             string    `json:"title"`
	Message           string    `json:"message"`
	RemainingSessions *int      `json:"remaining_sessions,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	Duration          int       `json:"duration"`
	Sound             bool      `json:"sound"`
}

// Expires reports whether the notification is removed automatically.
func (n Notification) Expires() bool {
	return n.Duration > 0
}

func (n Notification) ExpiresIn() time.Duration {
	return time.Duration(n.Duration) * time.Millisecond
}

// Complete turns a draft into a Notification, filling every default.
func Complete(draft Draft, id string, timestamp time.Time) Notification {
	t := draft.Type
	if !t.Valid() {
		t = TypeInfo
	}

	title := draft.Title
	if title == "" {
		title = DefaultTitle(t)
	}

	message := draft.Message
	if message == "" {
		message = DefaultMessage(t)
	}

	duration := DefaultDuration
	if draft.Duration != nil {
		duration = *draft.Duration
	}

	sound := true
	if draft.Sound != nil {
		sound = *draft.Sound
	}

	return Notification{
		Id:                id,
		Type:              t,
		Title:             title,
		Message:           message,
		RemainingSessions: draft.RemainingSessions,
		Timestamp:         timestamp,
		Duration:          duration,
		Sound:             sound,
	}
}

// NewId returns an id made of the creation instant and a random suffix.
func NewId(now time.Time) string {
	return fmt.Sprintf("notification-%d-%s", now.UnixMilli(), gonanoid.MustGenerate(idAlphabet, 9))
}

func Int(v int) *int {
	return &v
}

func Bool(v bool) *bool {
	return &v
}
