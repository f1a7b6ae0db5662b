package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/hanwool-dev/wakebattle/internal/domain"
	"github.com/hanwool-dev/wakebattle/internal/events"
	"github.com/hanwool-dev/wakebattle/internal/obslog"
)

// EventEnvelope is the outbound webhook body for one lifecycle event.
type EventEnvelope struct {
	Type     string               `json:"type"`
	BattleID string               `json:"battle_id,omitempty"`
	At       time.Time            `json:"at"`
	Battle   *domain.Battle       `json:"battle,omitempty"`
	Result   *domain.BattleResult `json:"result,omitempty"`
}

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// Webhook delivers battle lifecycle events to an external HTTP endpoint.
// Transient failures (network, 5xx) are retried with exponential backoff;
// 4xx responses are not.
type Webhook struct {
	endpoint string
	http     *fasthttp.Client
	headers  HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Webhook)

func WithTimeout(d time.Duration) Option {
	return func(w *Webhook) { w.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(w *Webhook) { w.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(w *Webhook) { w.headers = h }
}

func WithRetry(max int) Option {
	return func(w *Webhook) { w.retryMax = max }
}

// WithBearerToken sets a static Authorization header.
func WithBearerToken(token string) Option {
	return func(w *Webhook) {
		if strings.TrimSpace(token) == "" {
			return
		}
		w.headers = func() map[string]string {
			return map[string]string{"Authorization": "Bearer " + token}
		}
	}
}

func NewWebhook(endpoint string, opts ...Option) *Webhook {
	w := &Webhook{
		endpoint:       strings.TrimRight(endpoint, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Deliver posts one event envelope and blocks until delivered or retries
// are exhausted.
func (w *Webhook) Deliver(ctx context.Context, ev events.Event) error {
	env := EventEnvelope{
		Type: string(ev.Type),
		At:   ev.At,
	}
	if ev.Battle != nil {
		env.BattleID = ev.Battle.ID
		env.Battle = ev.Battle
	}
	env.Result = ev.Result
	return w.postJSON(ctx, env)
}

// Attach subscribes to the hub. Delivery runs on its own goroutine per
// event so a slow endpoint never stalls dispatch; failures are logged
// and dropped after the retry budget.
func (w *Webhook) Attach(hub *events.Hub) {
	hub.Subscribe(func(ev events.Event) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), w.defaultTimeout*time.Duration(w.retryMax+1))
			defer cancel()
			if err := w.Deliver(ctx, ev); err != nil {
				obslog.L().Warn("webhook_deliver_error",
					zap.String("type", string(ev.Type)),
					zap.Error(err),
				)
			}
		}()
	})
}

func (w *Webhook) postJSON(ctx context.Context, in any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(w.endpoint)
	req.Header.SetContentType("application/json")

	if w.headers != nil {
		for k, v := range w.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req.SetBody(payload)

	attempts := w.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		deadline := w.computeDeadline(ctx)
		err := w.http.DoDeadline(req, resp, deadline)
		if err != nil {
			if attempt == attempts {
				return fmt.Errorf("webhook request failed: %w", err)
			}
			lastErr = err
			if sleepErr := w.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			body := string(resp.Body())
			err := fmt.Errorf("webhook error: status=%d body=%s", status, truncate(body, 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return err
			}
			lastErr = err
			if sleepErr := w.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (w *Webhook) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(w.defaultTimeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(w.defaultTimeout)
}

func (w *Webhook) sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
