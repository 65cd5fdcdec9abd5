// Package broker provides the tastytrade REST client used to authenticate,
// read positions and submit equity orders.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/models"
)

// Default endpoints per environment.
const (
	DefaultSandboxBaseURL    = "https://api.cert.tastyworks.com"
	DefaultProductionBaseURL = "https://api.tastyworks.com"
)

const (
	defaultTimeout           = 10 * time.Second
	defaultRequestsPerSecond = 2.0
	maxErrorBody             = 64 << 10
	userAgent                = "tqqq-rebalancer/1.0"
)

// Error kinds surfaced to callers.
var (
	// ErrAuthenticationFailed is matched by *AuthError.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrNetworkFailure wraps transport-level failures on any call.
	ErrNetworkFailure = errors.New("network failure")
	// ErrOrderSubmissionFailed wraps a non-success order response.
	ErrOrderSubmissionFailed = errors.New("order submission failed")
)

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// AuthError is returned when the login endpoint does not answer 201 Created.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed with status %d: %s", e.Status, e.Body)
}

// Is lets errors.Is(err, ErrAuthenticationFailed) match.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}

// Options configures a TastytradeAPI.
type Options struct {
	BaseURL           string
	AccountNumber     string
	Sandbox           bool
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            logrus.FieldLogger
}

// TastytradeAPI is a thin client over the three endpoints the rebalancer uses.
type TastytradeAPI struct {
	client        *resty.Client
	limiter       *rate.Limiter
	logger        logrus.FieldLogger
	baseURL       string
	accountNumber string
	sandbox       bool
}

// NewTastytradeAPI creates a client. An empty BaseURL selects the default
// endpoint for the environment.
func NewTastytradeAPI(opts Options) *TastytradeAPI {
	baseURL := opts.BaseURL
	if baseURL == "" {
		if opts.Sandbox {
			baseURL = DefaultSandboxBaseURL
		} else {
			baseURL = DefaultProductionBaseURL
		}
	}
	// Normalize once
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetLogger(logger).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", userAgent)

	return &TastytradeAPI{
		client:        rc,
		limiter:       rate.NewLimiter(rate.Limit(rps), 1),
		logger:        logger,
		baseURL:       baseURL,
		accountNumber: opts.AccountNumber,
		sandbox:       opts.Sandbox,
	}
}

// BaseURL returns the normalized base URL.
func (t *TastytradeAPI) BaseURL() string { return t.baseURL }

// ============ API Response Structures ============

// FlexFloat accepts both JSON numbers and numeric strings; tastytrade sends
// most decimals as strings.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parsing %q as number: %w", s, err)
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

// Float64 returns the plain value.
func (f FlexFloat) Float64() float64 { return float64(f) }

// SessionResponse is the body of POST /sessions.
type SessionResponse struct {
	Data struct {
		SessionToken      string `json:"session-token"`
		SessionExpiration string `json:"session-expiration,omitempty"`
	} `json:"data"`
}

// PositionsResponse is the body of GET /accounts/{account}/positions.
type PositionsResponse struct {
	Data struct {
		Items []PositionItem `json:"items"`
	} `json:"data"`
}

// Quantity directions reported by the positions endpoint.
const (
	DirectionLong  = "Long"
	DirectionShort = "Short"
)

// PositionItem represents a single holding.
type PositionItem struct {
	AccountNumber     string    `json:"account-number"`
	Symbol            string    `json:"symbol"`
	InstrumentType    string    `json:"instrument-type"`
	QuantityDirection string    `json:"quantity-direction"`
	Quantity          FlexFloat `json:"quantity"`
	AverageOpenPrice  FlexFloat `json:"average-open-price"`
	ClosePrice        FlexFloat `json:"close-price"`
	Multiplier        FlexFloat `json:"multiplier"`
}

// OrderLeg is one leg of an order payload.
type OrderLeg struct {
	InstrumentType string `json:"instrument-type"`
	Symbol         string `json:"symbol"`
	Quantity       int    `json:"quantity"`
	Action         string `json:"action"`
}

// OrderPayload is the body of POST /accounts/{account}/orders.
type OrderPayload struct {
	TimeInForce string      `json:"time-in-force"`
	OrderType   string      `json:"order-type"`
	Price       json.Number `json:"price"`
	PriceEffect string      `json:"price-effect"`
	Legs        []OrderLeg  `json:"legs"`
}

// NewOrderPayload converts a domain order into the wire format.
func NewOrderPayload(req models.OrderRequest) OrderPayload {
	return OrderPayload{
		TimeInForce: req.TimeInForce,
		OrderType:   models.OrderTypeLimit,
		Price:       json.Number(req.LimitPrice.StringFixed(2)),
		PriceEffect: req.PriceEffect,
		Legs: []OrderLeg{{
			InstrumentType: models.InstrumentEquity,
			Symbol:         req.Symbol,
			Quantity:       req.Quantity,
			Action:         req.VenueAction,
		}},
	}
}

// OrderResponse is the body returned for a placed (or dry-run) order.
type OrderResponse struct {
	Data struct {
		Order struct {
			ID          int64     `json:"id"`
			Status      string    `json:"status"`
			Price       FlexFloat `json:"price"`
			PriceEffect string    `json:"price-effect"`
			TimeInForce string    `json:"time-in-force"`
		} `json:"order"`
		Warnings []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"warnings,omitempty"`
	} `json:"data"`
}

// ============ Endpoints ============

// Login exchanges credentials for a session token. Only 201 Created counts as
// success; anything else is an *AuthError.
func (t *TastytradeAPI) Login(ctx context.Context, login, password string) (string, error) {
	if err := t.wait(ctx); err != nil {
		return "", err
	}
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"login": login, "password": password}).
		Post("/sessions")
	if err != nil {
		return "", fmt.Errorf("%w: POST /sessions: %v", ErrNetworkFailure, err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return "", &AuthError{Status: resp.StatusCode(), Body: truncate(resp.Body())}
	}

	var out SessionResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decoding session response: %w", err)
	}
	if out.Data.SessionToken == "" {
		return "", &AuthError{Status: resp.StatusCode(), Body: "response carried no session-token"}
	}
	return out.Data.SessionToken, nil
}

// GetPositions returns every holding in the configured account.
func (t *TastytradeAPI) GetPositions(ctx context.Context, token string) ([]PositionItem, error) {
	endpoint := fmt.Sprintf("/accounts/%s/positions", t.accountNumber)

	var out PositionsResponse
	if err := t.do(ctx, http.MethodGet, endpoint, token, nil, &out); err != nil {
		return nil, err
	}
	return out.Data.Items, nil
}

// PlaceOrder submits a single-leg order. With dryRun the venue validates the
// order without routing it.
func (t *TastytradeAPI) PlaceOrder(ctx context.Context, token string, payload OrderPayload,
	dryRun bool) (*OrderResponse, error) {
	endpoint := fmt.Sprintf("/accounts/%s/orders", t.accountNumber)
	if dryRun {
		endpoint += "/dry-run"
	}

	var out OrderResponse
	if err := t.do(ctx, http.MethodPost, endpoint, token, payload, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %w", ErrOrderSubmissionFailed, err)
		}
		return nil, err
	}
	return &out, nil
}

// do performs an authorized request and decodes a 2xx JSON body into out.
func (t *TastytradeAPI) do(ctx context.Context, method, endpoint, token string, body, out interface{}) error {
	if err := t.wait(ctx); err != nil {
		return err
	}

	req := t.client.R().
		SetContext(ctx).
		SetHeader("Authorization", token)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNetworkFailure, method, endpoint, err)
	}

	if t.sandbox {
		t.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   endpoint,
			"status": resp.StatusCode(),
			"took":   resp.Time(),
		}).Debug("tastytrade request")
	}

	if !resp.IsSuccess() {
		return &APIError{
			Status: resp.StatusCode(),
			Body:   fmt.Sprintf("%s %s -> %s", method, endpoint, truncate(resp.Body())),
		}
	}

	if out == nil || resp.StatusCode() == http.StatusNoContent || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, endpoint, err)
	}
	return nil
}

func (t *TastytradeAPI) wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", ErrNetworkFailure, err)
	}
	return nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return string(b)
}
