package upsrs

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

	"github.com/google/uuid"
	"github.com/otcheredev/ris-ups-client/internal/models"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	contentTypeDICOMJSON = "application/dicom+json"
	maxResponseBytes     = 32 << 20
	tracerName           = "github.com/otcheredev/ris-ups-client/internal/upsrs"
)

// Headers copied from a successful response into the result map
var surfacedHeaders = []struct {
	name string
	key  string
}{
	{"Content-Location", "content_location"},
	{"Location", "location"},
	{"Warning", "warning"},
}

// Request describes one logical UPS-RS call
type Request struct {
	Action        string
	Method        string
	URL           string
	Header        http.Header
	Body          interface{}
	SuccessStatus int
	ResourceUID   string
}

// RetryPolicy bounds how transient failures are retried. Attempt n (1-based)
// is followed by a pause of Delay*n before the next one.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// Auditor receives one record per request the engine executes
type Auditor interface {
	Record(ctx context.Context, entry *models.AuditLog) error
}

// Engine executes UPS-RS requests with retry, response classification and
// warning-header surfacing.
type Engine struct {
	client      *http.Client
	policy      RetryPolicy
	bearerToken string
	aeTitle     string
	logger      zerolog.Logger
	metrics     *Metrics
	auditor     Auditor
	tracer      trace.Tracer
}

// NewEngine creates an engine around an HTTP client
func NewEngine(client *http.Client, policy RetryPolicy, logger zerolog.Logger, metrics *Metrics) *Engine {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Engine{
		client:  client,
		policy:  policy,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// Send executes req, retrying 5xx, 408, 429 and network failures up to the
// policy bound.
func (e *Engine) Send(ctx context.Context, req Request) Result {
	start := time.Now()
	requestID := uuid.NewString()

	ctx, span := e.tracer.Start(ctx, "ups-rs."+req.Action,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL),
			attribute.String("ups.request_id", requestID),
		))
	defer span.End()

	res := e.send(ctx, req, requestID)

	span.SetAttributes(
		attribute.Int("http.response.status_code", res.StatusCode),
		attribute.Int("ups.attempts", res.Attempts),
	)
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Message)
	}

	elapsed := time.Since(start)
	e.metrics.observe(req.Action, req.Method, res, elapsed.Seconds())
	e.audit(ctx, req, requestID, res, elapsed)
	return res
}

func (e *Engine) send(ctx context.Context, req Request, requestID string) Result {
	success := req.SuccessStatus
	if success == 0 {
		success = http.StatusOK
	}

	var body []byte
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return failed(validationError(err, "failed to encode request body: %v", err), 0)
		}
		body = encoded
	}

	logger := e.logger.With().
		Str("action", req.Action).
		Str("method", req.Method).
		Str("url", req.URL).
		Str("request_id", requestID).
		Logger()

	attempt := 0
	for {
		attempt++
		logger.Debug().Int("attempt", attempt).Msg("Sending UPS-RS request")

		res, retryable := e.attempt(ctx, req, requestID, body, success, logger)
		res.Attempts = attempt
		if res.Err == nil || !retryable {
			return res
		}

		if ctx.Err() != nil {
			res.Err.Err = errors.Join(res.Err.Err, ctx.Err())
			logger.Error().Str("error", res.Err.Message).Msg("Request abandoned")
			return res
		}

		if attempt > e.policy.MaxRetries {
			res.Err.Message += ". Max retries exceeded."
			res.Err.Err = errors.Join(res.Err.Err, ErrMaxRetriesExceeded)
			logger.Error().Int("attempts", attempt).Msg(res.Err.Message)
			return res
		}

		e.metrics.retry(req.Action)
		logger.Warn().Msgf("%s. Retrying (%d/%d)...", res.Err.Message, attempt, e.policy.MaxRetries)

		if err := sleep(ctx, e.policy.Delay*time.Duration(attempt)); err != nil {
			res.Err.Err = errors.Join(res.Err.Err, err)
			logger.Error().Err(err).Msg("Request abandoned during backoff")
			return res
		}
	}
}

// attempt performs a single HTTP exchange and classifies the response. The
// boolean reports whether the failure may be retried.
func (e *Engine) attempt(ctx context.Context, req Request, requestID string, body []byte, success int, logger zerolog.Logger) (Result, bool) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, reader)
	if err != nil {
		return failed(validationError(err, "failed to create request: %v", err), 0), false
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", contentTypeDICOMJSON)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentTypeDICOMJSON)
	}
	httpReq.Header.Set("X-Request-ID", requestID)
	e.addAuth(httpReq)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return failed(&Error{
			Kind:    KindTransient,
			Message: fmt.Sprintf("Request error: %v", err),
			Err:     err,
		}, 0), true
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failed(&Error{
			Kind:       KindTransient,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Request error: failed to read response body: %v", err),
			Err:        err,
		}, 0), true
	}

	warning := resp.Header.Get("Warning")
	if warning != "" {
		logger.Warn().Str("warning", warning).Msg("Server warning")
	}

	switch {
	case resp.StatusCode == success:
		logger.Info().Int("status", resp.StatusCode).Msg("Request successful")
		return succeeded(successPayload(raw, resp.Header), resp.StatusCode, 0), false

	case resp.StatusCode == http.StatusNoContent:
		payload := map[string]interface{}{
			"status_code": http.StatusNoContent,
			"message":     "No Content",
		}
		if data, ok := decodeJSON(raw); ok {
			payload["data"] = data
		}
		return succeeded(payload, resp.StatusCode, 0), false

	case resp.StatusCode == http.StatusPartialContent:
		list, ok := decodeJSON(raw)
		items, isList := list.([]interface{})
		if !ok || !isList {
			return failed(&Error{
				Kind:       KindDecode,
				StatusCode: resp.StatusCode,
				Message:    "Failed to parse partial content response",
			}, 0), false
		}
		logger.Info().Int("count", len(items)).Msg("Partial results received. There may be more results available.")
		return Result{Payload: items, StatusCode: resp.StatusCode}, false
	}

	msg := diagnostic(req.URL, resp.StatusCode, raw, warning)
	status := resp.StatusCode

	if status < 400 {
		// a 2xx or 3xx other than the expected status will not change on retry
		logger.Error().Int("status", status).Msg(msg)
		return failed(&Error{Kind: KindDecode, StatusCode: status, Message: msg}, 0), false
	}

	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		logger.Error().Int("status", status).Msg(msg)
		return failed(&Error{Kind: KindClientError, StatusCode: status, Message: msg}, 0), false
	}

	kind := KindServerError
	if status < 500 {
		kind = KindTransient
	}
	return failed(&Error{Kind: kind, StatusCode: status, Message: msg}, 0), true
}

func (e *Engine) addAuth(req *http.Request) {
	if e.bearerToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", e.bearerToken))
	}
}

func (e *Engine) audit(ctx context.Context, req Request, requestID string, res Result, elapsed time.Duration) {
	if e.auditor == nil {
		return
	}

	entry := &models.AuditLog{
		RequestID:   requestID,
		AETitle:     e.aeTitle,
		Action:      req.Action,
		Method:      req.Method,
		URL:         req.URL,
		ResourceUID: req.ResourceUID,
		StatusCode:  res.StatusCode,
		Attempts:    res.Attempts,
		Status:      "success",
		Duration:    elapsed.Milliseconds(),
	}
	if res.Err != nil {
		entry.Status = "failure"
		entry.ErrorKind = res.Err.Kind.String()
		entry.ErrorMessage = res.Err.Message
	}

	if err := e.auditor.Record(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Warn().Err(err).Str("action", req.Action).Msg("Failed to record audit entry")
	}
}

// successPayload shapes a success body: JSON arrays stay lists, JSON objects
// become the result map, anything else is wrapped. Interesting headers are
// merged into map results.
func successPayload(raw []byte, header http.Header) interface{} {
	var result map[string]interface{}

	if len(bytes.TrimSpace(raw)) == 0 {
		result = map[string]interface{}{"status": "Success"}
	} else {
		decoded, ok := decodeJSON(raw)
		switch v := decoded.(type) {
		case []interface{}:
			if ok {
				return v
			}
		case map[string]interface{}:
			if ok {
				result = v
			}
		}
		if result == nil {
			result = map[string]interface{}{"status": "Success", "response_text": string(raw)}
		}
	}

	for _, h := range surfacedHeaders {
		if v := header.Get(h.name); v != "" {
			result[h.key] = v
		}
	}
	return result
}

func decodeJSON(raw []byte) (interface{}, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

func diagnostic(url string, status int, raw []byte, warning string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Failed request to %s. Status code: %d", url, status)

	if text := strings.TrimSpace(string(raw)); text != "" {
		if details, ok := decodeJSON(raw); ok && !isEmptyJSON(details) {
			fmt.Fprintf(&b, ". Error details: %s", compactJSON(raw))
		} else {
			fmt.Fprintf(&b, ". Response: %s", text)
		}
	}

	if warning != "" {
		fmt.Fprintf(&b, ", Warning: %s", warning)
	}
	return b.String()
}

func isEmptyJSON(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]interface{}:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	default:
		return false
	}
}

func compactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
