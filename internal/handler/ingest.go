package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goevery/notifier/internal/auth"
	"github.com/goevery/notifier/internal/broadcaster"
	"github.com/goevery/notifier/internal/ierr"
	"github.com/goevery/notifier/internal/metrics"
	"github.com/goevery/notifier/internal/notification"
	"github.com/goevery/notifier/internal/persistence"
	"go.uber.org/zap"
)

var processingFailed = notification.Draft{
	Type:     notification.TypeError,
	Title:    notification.DefaultTitle(notification.TypeError),
	Message:  "فشل في معالجة الطلب / Failed to process request",
	Duration: notification.Int(notification.DefaultDuration),
	Sound:    notification.Bool(true),
}

type IngestResponse struct {
	Status            string    `json:"status"`
	Message           string    `json:"message"`
	RemainingSessions *int      `json:"remaining_sessions,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

type IngestHandlerInterface interface {
	Handle(ctx context.Context, body []byte) (IngestResponse, error)
}

// IngestHandler turns automation webhook calls into broadcast notifications.
type IngestHandler struct {
	logger    *zap.Logger
	publisher broadcaster.Publisher
	journal   persistence.Journal
}

func NewIngestHandler(
	logger *zap.Logger,
	publisher broadcaster.Publisher,
	journal persistence.Journal,
) *IngestHandler {
	return &IngestHandler{
		logger,
		publisher,
		journal,
	}
}

func (h *IngestHandler) Handle(ctx context.Context, body []byte) (IngestResponse, error) {
	receivedAt := time.Now()

	var subject string
	if authentication, ok := auth.AuthenticationFromContext(ctx); ok {
		subject = authentication.Subject
	}
	logger := h.logger.With(zap.String("subject", subject))

	payload, err := decodePayload(body)
	if err != nil {
		logger.Warn("failed to parse webhook body", zap.Error(err))
		metrics.WebhookRequestsTotal.WithLabelValues("malformed").Inc()

		publishErr := h.publisher.Publish(ctx, processingFailed)
		if publishErr != nil {
			logger.Error("failed to publish error notification", zap.Error(publishErr))
		}

		h.record(ctx, persistence.Delivery{
			ReceivedAt: receivedAt,
			Subject:    subject,
			RawBody:    string(body),
			Type:       processingFailed.Type,
			Message:    processingFailed.Message,
			Failed:     true,
			Error:      err.Error(),
		})

		return IngestResponse{}, ierr.New(ierr.ErrorCodeInternal, err)
	}

	draft := notification.FromWebhook(payload)

	logger.Info("webhook received",
		zap.String("type", string(draft.Type)),
		zap.String("message", draft.Message))

	err = h.publisher.Publish(ctx, draft)
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("unpublished").Inc()

		h.record(ctx, persistence.Delivery{
			ReceivedAt: receivedAt,
			Subject:    subject,
			RawBody:    string(body),
			Type:       draft.Type,
			Message:    draft.Message,
			Failed:     true,
			Error:      err.Error(),
		})

		return IngestResponse{}, ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	metrics.WebhookRequestsTotal.WithLabelValues("published").Inc()

	h.record(ctx, persistence.Delivery{
		ReceivedAt: receivedAt,
		Subject:    subject,
		RawBody:    string(body),
		Type:       draft.Type,
		Message:    draft.Message,
	})

	return IngestResponse{
		Status:            "success",
		Message:           draft.Message,
		RemainingSessions: draft.RemainingSessions,
		Timestamp:         receivedAt,
	}, nil
}

func (h *IngestHandler) record(ctx context.Context, delivery persistence.Delivery) {
	err := h.journal.Record(ctx, delivery)
	if err != nil {
		h.logger.Warn("failed to record webhook delivery", zap.Error(err))
	}
}

func decodePayload(body []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var payload map[string]any
	err := decoder.Decode(&payload)
	if err != nil {
		return nil, fmt.Errorf("invalid json body: %w", err)
	}

	if payload == nil {
		return nil, errors.New("invalid json body: expected an object")
	}

	_, err = decoder.Token()
	if !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid json body: unexpected data after object")
	}

	return payload, nil
}
