package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/valyala/fasthttp"
)

// Verifier decides whether credentials may open a session.
type Verifier interface {
	Verify(ctx context.Context, creds Credentials) error
}

// AllowAll accepts every well-formed credential set. Development only.
type AllowAll struct{}

func (AllowAll) Verify(context.Context, Credentials) error { return nil }

// ServiceVerifier asks a remote signature service to approve credentials.
// Each attempt makes one call; a circuit breaker fails fast while the
// service is down.
type ServiceVerifier struct {
	url     string
	timeout time.Duration
	client  *fasthttp.Client
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// ServiceOption configures a ServiceVerifier.
type ServiceOption func(*ServiceVerifier)

// WithHTTPClient replaces the fasthttp client.
func WithHTTPClient(c *fasthttp.Client) ServiceOption {
	return func(v *ServiceVerifier) { v.client = c }
}

// WithBreakerSettings replaces the circuit breaker settings.
func WithBreakerSettings(st gobreaker.Settings) ServiceOption {
	return func(v *ServiceVerifier) { v.breaker = gobreaker.NewCircuitBreaker(st) }
}

// NewServiceVerifier creates a verifier for the service at url.
func NewServiceVerifier(url string, timeout time.Duration, logger zerolog.Logger, opts ...ServiceOption) *ServiceVerifier {
	v := &ServiceVerifier{
		url:     url,
		timeout: timeout,
		client:  &fasthttp.Client{Name: "relay-auth"},
		logger:  logger.With().Str("component", "auth").Logger(),
	}
	v.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "auth-service",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			v.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// State reports the circuit breaker state.
func (v *ServiceVerifier) State() gobreaker.State {
	return v.breaker.State()
}

type verifyResponse struct {
	status int
	body   []byte
}

// Verify returns nil when the service answers {"ec":"ok"}.
func (v *ServiceVerifier) Verify(ctx context.Context, creds Credentials) error {
	body, err := json.Marshal(creds)
	if err != nil {
		return err
	}

	res, err := v.breaker.Execute(func() (interface{}, error) {
		return v.call(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrAuthServiceUnreachable, err)
	}

	resp := res.(verifyResponse)
	if resp.status >= fasthttp.StatusBadRequest {
		return fmt.Errorf("%w: status %d", types.ErrAuthRejected, resp.status)
	}
	var out map[string]any
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return fmt.Errorf("%w: malformed response (status %d)", types.ErrAuthRejected, resp.status)
	}
	if ec, _ := out["ec"].(string); ec != "ok" {
		return fmt.Errorf("%w: ec=%v", types.ErrAuthRejected, out["ec"])
	}
	return nil
}

// call performs one request. Only transport failures and 5xx answers count
// against the breaker.
func (v *ServiceVerifier) call(ctx context.Context, body []byte) (verifyResponse, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(v.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(v.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := v.client.DoDeadline(req, resp, deadline); err != nil {
		return verifyResponse{}, err
	}

	status := resp.StatusCode()
	if status >= fasthttp.StatusInternalServerError {
		return verifyResponse{}, fmt.Errorf("auth service returned %d", status)
	}
	return verifyResponse{status: status, body: append([]byte(nil), resp.Body()...)}, nil
}

// Status maps a boundary error to the HTTP status returned on the upgrade request.
func Status(err error) int {
	switch {
	case err == nil:
		return fasthttp.StatusOK
	case errors.Is(err, types.ErrAuthServiceUnreachable):
		return fasthttp.StatusServiceUnavailable
	case errors.Is(err, types.ErrMissingCredential),
		errors.Is(err, types.ErrInvalidTimestamp),
		errors.Is(err, types.ErrAuthRejected):
		return fasthttp.StatusUnauthorized
	default:
		return fasthttp.StatusInternalServerError
	}
}

// Code is a short machine-readable name for a boundary error.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, types.ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, types.ErrAuthServiceUnreachable):
		return "service_unavailable"
	case errors.Is(err, types.ErrAuthRejected):
		return "unauthorized"
	default:
		return "internal"
	}
}
