package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tair/reseller-billing/internal/payment/domain"
	"github.com/tair/reseller-billing/internal/payment/metrics"
	"github.com/tair/reseller-billing/pkg/circuitbreaker"
	"github.com/tair/reseller-billing/pkg/logger"
)

const maxResponseBytes = 1 << 20

// remote is the outbound side shared by every adapter: one HTTP client with
// otelhttp transport, one breaker per gateway, and call metrics.
type remote struct {
	gateway domain.Gateway
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// httpStatusError is a non-2xx provider response
type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func isUnavailable(err error) bool {
	return errors.Is(err, domain.ErrGatewayUnavailable)
}

// call runs fn under the breaker and records its duration. Errors that are not
// already classified as client errors are wrapped as domain.ErrGatewayUnavailable.
func (r *remote) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := otel.Tracer("payment-gateway").Start(ctx, "gateway."+op)
	defer span.End()
	span.SetAttributes(attribute.String("payment.gateway", string(r.gateway)))

	start := time.Now()
	err := r.breaker.Call(func() error { return fn(ctx) }, isUnavailable)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}

	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		logger.Warn(ctx).
			Err(err).
			Str("gateway", string(r.gateway)).
			Str("operation", op).
			Msg("Gateway call failed")
	}
	metrics.GatewayCallDuration.WithLabelValues(string(r.gateway), op, result).Observe(time.Since(start).Seconds())
	return err
}

// doJSON sends one request to baseURL+path and decodes a JSON response into out.
// Transport failures and 5xx responses are unavailable; other non-2xx are plain errors.
func (r *remote) doJSON(ctx context.Context, method, path string, header http.Header, body any, out any) error {
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case []byte:
			reader = bytes.NewReader(b)
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return fmt.Errorf("failed to encode request: %w", err)
			}
			reader = bytes.NewReader(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, r.url(path), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrGatewayUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", domain.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, &httpStatusError{StatusCode: resp.StatusCode, Body: truncate(raw)})
	}
	if resp.StatusCode >= 300 {
		return &httpStatusError{StatusCode: resp.StatusCode, Body: truncate(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", r.gateway, err)
	}
	return nil
}

func (r *remote) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(r.baseURL, "/") + path
}

func truncate(raw []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
