package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/coregate/gateway/internal/gwerrors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("gateway.provider")

// DoRequest performs a JSON request/response HTTP call with OTel span
// instrumentation and W3C trace-context propagation.
func DoRequest(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body any, out any) error {
	ctx, span := tracer.Start(ctx, "provider.http.request", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", url),
	))
	defer span.End()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if rid := GetRequestID(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		se := &gwerrors.StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		se.ParseRetryAfter(resp.Header.Get("Retry-After"))
		span.SetStatus(codes.Error, se.Error())
		return se
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			span.RecordError(err)
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// spanCloser closes both the span and the underlying stream body, ending
// the span only once the caller finishes draining the stream.
type spanCloser struct {
	io.ReadCloser
	end func()
}

func (s *spanCloser) Close() error {
	err := s.ReadCloser.Close()
	s.end()
	return err
}

// DoStreamRequest performs an HTTP call expected to return a streamed body
// (SSE or chunked JSON); the returned ReadCloser's Close ends the span.
func DoStreamRequest(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body any) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "provider.http.stream", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", url),
	))

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			span.End()
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		span.End()
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if rid := GetRequestID(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		se := &gwerrors.StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		se.ParseRetryAfter(resp.Header.Get("Retry-After"))
		span.SetStatus(codes.Error, se.Error())
		span.End()
		return nil, se
	}

	return &spanCloser{ReadCloser: resp.Body, end: span.End}, nil
}

