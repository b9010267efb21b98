package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/google/uuid"
)

// Reason codes carried by TransportError.
const (
	ReasonTimeout     = "timeout"
	ReasonNetwork     = "network"
	ReasonRejected    = "rejected"
	ReasonUnavailable = "unavailable"
	ReasonCircuitOpen = "circuit_open"
)

type Embed struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

type Payload struct {
	Text      string  `json:"text"`
	Embeds    []Embed `json:"embeds,omitempty"`
	ParentURL string  `json:"parent_url,omitempty"`
}

// Transport delivers a payload to a destination. Any failure must be a
// *TransportError.
type Transport interface {
	Publish(ctx context.Context, destination string, payload Payload) error
}

type TransportError struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	msg := "publish transport failed: " + e.Reason
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type HTTPTransportOptions struct {
	Endpoint         string
	APIKey           string
	UserAgent        string
	Timeout          time.Duration
	FailureThreshold uint
	BreakerDelay     time.Duration
	HTTPClient       *http.Client
}

// HTTPTransport posts cast-style JSON bodies to an HTTP endpoint through
// a circuit breaker. It never retries.
type HTTPTransport struct {
	endpoint  string
	apiKey    string
	userAgent string
	client    *http.Client
	breaker   circuitbreaker.CircuitBreaker[any]
}

func NewHTTPTransport(opts HTTPTransportOptions) *HTTPTransport {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.BreakerDelay <= 0 {
		opts.BreakerDelay = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Trend Comb/1.0"
	}

	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			var te *TransportError
			if errors.As(err, &te) {
				return te.Reason != ReasonRejected
			}
			return err != nil
		}).
		WithFailureThreshold(opts.FailureThreshold).
		WithDelay(opts.BreakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			slog.Warn("Publish transport circuit breaker state change",
				"open", event.NewState == circuitbreaker.OpenState,
				"half_open", event.NewState == circuitbreaker.HalfOpenState)
		}).
		Build()

	return &HTTPTransport{
		endpoint:  opts.Endpoint,
		apiKey:    opts.APIKey,
		userAgent: opts.UserAgent,
		client:    opts.HTTPClient,
		breaker:   breaker,
	}
}

type castRequest struct {
	FID string `json:"fid"`
	Payload
}

func (t *HTTPTransport) Publish(ctx context.Context, destination string, payload Payload) error {
	_, err := failsafe.With(t.breaker).WithContext(ctx).Get(func() (any, error) {
		return nil, t.post(ctx, destination, payload)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return &TransportError{Reason: ReasonCircuitOpen, Err: err}
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Reason: ReasonTimeout, Err: err}
	}
	return &TransportError{Reason: ReasonNetwork, Err: err}
}

func (t *HTTPTransport) post(ctx context.Context, destination string, payload Payload) error {
	body, err := json.Marshal(castRequest{FID: destination, Payload: payload})
	if err != nil {
		return &TransportError{Reason: ReasonRejected, Err: fmt.Errorf("failed to marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Reason: ReasonNetwork, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TransportError{Reason: ReasonTimeout, Err: err}
		}
		return &TransportError{Reason: ReasonNetwork, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		slog.Debug("Publish delivered", "destination", destination, "request_id", requestID, "status", resp.StatusCode)
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &TransportError{Reason: ReasonUnavailable, StatusCode: resp.StatusCode}
	default:
		return &TransportError{Reason: ReasonRejected, StatusCode: resp.StatusCode}
	}
}
