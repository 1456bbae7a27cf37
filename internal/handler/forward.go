package handler

import (
	"context"
	"net/http"

	"github.com/goevery/notifier/internal/dispatch"
)

const scanSucceeded = "✅ تم مسح QR بنجاح"

type ForwardHandlerInterface interface {
	Handle(ctx context.Context, body map[string]any) (*dispatch.Result, error)
}

// ForwardHandler relays scan submissions to the automation workflow. The
// dispatcher publishes the outcome as a notification.
type ForwardHandler struct {
	dispatcher *dispatch.Dispatcher
	targetURL  string
}

func NewForwardHandler(
	dispatcher *dispatch.Dispatcher,
	targetURL string,
) *ForwardHandler {
	return &ForwardHandler{
		dispatcher,
		targetURL,
	}
}

func (h *ForwardHandler) Handle(ctx context.Context, body map[string]any) (*dispatch.Result, error) {
	return h.dispatcher.Do(ctx, dispatch.Request{
		Method:         http.MethodPost,
		URL:            h.targetURL,
		Body:           body,
		SuccessMessage: scanSucceeded,
	})
}
