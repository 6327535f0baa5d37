package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/hackgods/healthcare-booking/internal/config"
	"github.com/hackgods/healthcare-booking/internal/metrics"
)

const (
	SandboxBaseURL = "https://sandbox.sslcommerz.com"
	LiveBaseURL    = "https://securepay.sslcommerz.com"

	sessionPath = "/gwprocess/v4/api.php"
)

type sessionResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

// SSLCommerzClient opens SSLCommerz hosted checkout sessions. Calls go through
// a circuit breaker so a failing gateway is not hammered by every booking.
type SSLCommerzClient struct {
	baseURL       string
	storeID       string
	storePassword string
	httpClient    *http.Client
	breaker       *gobreaker.CircuitBreaker[*Session]
	logger        zerolog.Logger
}

type ClientOption func(*SSLCommerzClient)

func WithBaseURL(u string) ClientOption {
	return func(c *SSLCommerzClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *SSLCommerzClient) { c.httpClient = hc }
}

func NewSSLCommerzClient(cfg config.GatewayConfig, logger zerolog.Logger, m *metrics.Collector, opts ...ClientOption) *SSLCommerzClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &SSLCommerzClient{
		baseURL:       SandboxBaseURL,
		storeID:       cfg.StoreID,
		storePassword: cfg.StorePassword,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger.With().Str("component", "sslcommerz").Logger(),
	}
	if cfg.Live {
		c.baseURL = LiveBaseURL
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[*Session](gobreaker.Settings{
		Name:        "sslcommerz",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("gateway breaker state changed")
			if m != nil {
				m.GatewayBreakerState.Set(float64(to))
			}
		},
	})

	return c
}

func (c *SSLCommerzClient) InitializeSession(ctx context.Context, req SessionRequest) (*Session, error) {
	session, err := c.breaker.Execute(func() (*Session, error) {
		return c.initialize(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	return session, nil
}

func (c *SSLCommerzClient) initialize(ctx context.Context, req SessionRequest) (*Session, error) {
	form := url.Values{
		"store_id":         {c.storeID},
		"store_passwd":     {c.storePassword},
		"total_amount":     {strconv.FormatFloat(req.Amount, 'f', 2, 64)},
		"currency":         {req.Currency},
		"tran_id":          {req.TransactionID},
		"success_url":      {req.SuccessURL},
		"fail_url":         {req.FailURL},
		"cancel_url":       {req.CancelURL},
		"ipn_url":          {req.IPNURL},
		"shipping_method":  {"NO"},
		"product_name":     {req.ProductName},
		"product_category": {"Healthcare"},
		"product_profile":  {"general"},
		"cus_name":         {req.CustomerName},
		"cus_email":        {req.CustomerEmail},
		"cus_add1":         {req.CustomerAddress},
		"cus_city":         {req.CustomerCity},
		"cus_state":        {"Dhaka"},
		"cus_postcode":     {"1000"},
		"cus_country":      {"Bangladesh"},
		"cus_phone":        {req.CustomerPhone},
		"ship_name":        {req.CustomerName},
		"ship_add1":        {req.CustomerAddress},
		"ship_city":        {req.CustomerCity},
		"ship_state":       {"Dhaka"},
		"ship_postcode":    {"1000"},
		"ship_country":     {"Bangladesh"},
		"multi_card_name":  {"mastercard,visacard,bkash"},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read session response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("session init returned http %d", resp.StatusCode)
	}

	var parsed sessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}

	if !strings.EqualFold(parsed.Status, "SUCCESS") || parsed.GatewayPageURL == "" {
		reason := parsed.FailedReason
		if reason == "" {
			reason = "no gateway page url returned"
		}
		return nil, fmt.Errorf("session rejected (status=%q): %s", parsed.Status, reason)
	}

	c.logger.Debug().
		Str("tran_id", req.TransactionID).
		Dur("duration", time.Since(start)).
		Msg("checkout session opened")

	return &Session{GatewayURL: parsed.GatewayPageURL, SessionKey: parsed.SessionKey}, nil
}
