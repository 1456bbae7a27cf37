package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goevery/notifier/internal/metrics"
	"github.com/goevery/notifier/internal/notification"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries = 3
	DefaultDelay      = time.Second

	failedMessage     = "فشلت العملية / Operation failed"
	connectionMessage = "فشل في الاتصال / Connection failed"
)

// Notifier receives the notification synthesized from a call's outcome.
type Notifier interface {
	Notify(ctx context.Context, draft notification.Draft)
}

type NotifierFunc func(ctx context.Context, draft notification.Draft)

func (f NotifierFunc) Notify(ctx context.Context, draft notification.Draft) {
	f(ctx, draft)
}

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any

	// SuccessMessage is used when a successful response carries no message.
	SuccessMessage string
	// Silent suppresses the outcome notification.
	Silent bool
}

type Result struct {
	StatusCode int
	Body       map[string]any
}

// StatusError is returned for non-2xx responses below 500, which are never
// retried.
type StatusError struct {
	StatusCode int
	Body       map[string]any
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

type Dispatcher struct {
	logger     *zap.Logger
	httpClient *http.Client
	notifier   Notifier
	maxRetries int
	delay      time.Duration
}

type Option func(*Dispatcher)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(d *Dispatcher) {
		d.httpClient = httpClient
	}
}

func WithMaxRetries(maxRetries int) Option {
	return func(d *Dispatcher) {
		if maxRetries >= 0 {
			d.maxRetries = maxRetries
		}
	}
}

func WithDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		if delay > 0 {
			d.delay = delay
		}
	}
}

func NewDispatcher(logger *zap.Logger, notifier Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		notifier:   notifier,
		maxRetries: DefaultMaxRetries,
		delay:      DefaultDelay,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Do performs the request, retrying transport failures and 5xx responses
// with exponential backoff, then emits exactly one notification describing
// the outcome.
func (d *Dispatcher) Do(ctx context.Context, req Request) (*Result, error) {
	result, err := d.retry(ctx, req)

	var statusErr *StatusError
	switch {
	case err == nil:
		message, _ := result.Body["message"].(string)
		if message == "" {
			message = req.SuccessMessage
		}
		if message == "" {
			message = notification.DefaultMessage(notification.TypeSuccess)
		}

		draft := notification.Draft{
			Type:    notification.TypeSuccess,
			Message: message,
		}
		if remaining, ok := result.Body["remaining_sessions"].(float64); ok {
			draft.RemainingSessions = notification.Int(int(remaining))
		}

		d.notify(ctx, req, draft)

		return result, nil
	case errors.As(err, &statusErr):
		message, _ := statusErr.Body["message"].(string)
		if message == "" {
			message = failedMessage
		}

		d.notify(ctx, req, notification.Draft{Type: notification.TypeError, Message: message})

		return &Result{StatusCode: statusErr.StatusCode, Body: statusErr.Body}, err
	default:
		d.notify(ctx, req, notification.Draft{Type: notification.TypeError, Message: connectionMessage})

		return nil, err
	}
}

func (d *Dispatcher) retry(ctx context.Context, req Request) (*Result, error) {
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		result, retryable, err := d.attempt(ctx, req, payload)
		if err == nil {
			metrics.DispatchAttemptsTotal.WithLabelValues("success").Inc()
			return result, nil
		}

		if !retryable {
			metrics.DispatchAttemptsTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}

		metrics.DispatchAttemptsTotal.WithLabelValues("failed").Inc()
		lastErr = err

		if attempt == d.maxRetries {
			break
		}

		wait := d.delay * time.Duration(1<<attempt)
		d.logger.Warn("request failed, retrying",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Int("maxRetries", d.maxRetries),
			zap.Duration("wait", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", d.maxRetries, lastErr)
}

// attempt reports whether a failure may be retried.
func (d *Dispatcher) attempt(ctx context.Context, req Request, payload []byte) (*Result, bool, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}

	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("executing request %s %s: %w", method, req.URL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading response body: %w", err)
	}

	decoded, decodeErr := decodeBody(respBody)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if decodeErr != nil {
			return nil, false, fmt.Errorf("decoding response from %s %s: %w", method, req.URL, decodeErr)
		}
		return &Result{StatusCode: resp.StatusCode, Body: decoded}, false, nil
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	default:
		return nil, false, &StatusError{StatusCode: resp.StatusCode, Body: decoded}
	}
}

func (d *Dispatcher) notify(ctx context.Context, req Request, draft notification.Draft) {
	if req.Silent || d.notifier == nil {
		return
	}

	d.notifier.Notify(ctx, draft)
}

func decodeBody(body []byte) (map[string]any, error) {
	decoded := map[string]any{}
	if len(bytes.TrimSpace(body)) == 0 {
		return decoded, nil
	}

	err := json.Unmarshal(body, &decoded)
	if err != nil {
		return map[string]any{}, err
	}

	return decoded, nil
}
