package persistence

import (
	"context"
	"time"

	"github.com/goevery/notifier/internal/notification"
)

// Journal records inbound webhook deliveries for auditing. It is never read
// back to replay notifications.
type Journal interface {
	Setup(ctx context.Context) error
	Record(ctx context.Context, delivery Delivery) error
}

type Delivery struct {
	ReceivedAt time.Time
	// Subject identifies the authenticated caller; empty when
	// authentication is disabled.
	Subject    string
	RawBody    string
	Type       notification.Type
	Message    string
	Failed     bool
	Error      string
}

type NopJournal struct{}

func (NopJournal) Setup(context.Context) error { return nil }

func (NopJournal) Record(context.Context, Delivery) error { return nil }
