// Package pricefeed supplies the token's USD price to dashboards.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/stakingdash/pkg/staking"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultInterval    = time.Minute
	defaultTimeout     = 10 * time.Second
	defaultPriceField  = "price"
	maxResponseBytes   = 1 << 20
	errorOperationFeed = "pricefeed"
	errorSubjectPrice  = "price"
	errorCodeRequest   = "request"
	errorCodeStatus    = "status"
	errorCodeDecode    = "decode"
)

var (
	// ErrInvalidConfig reports a poller built without an endpoint.
	ErrInvalidConfig = errors.New("invalid price feed config")
	// ErrMissingPrice reports a response without the configured field.
	ErrMissingPrice = errors.New("price missing from response")
)

// Config describes the HTTP price endpoint.
type Config struct {
	Endpoint   string
	PriceField string
	Interval   time.Duration
	Timeout    time.Duration
}

// Poller keeps the latest price from a JSON endpoint. It reports zero until
// the first successful refresh, which dashboards render as a placeholder.
type Poller struct {
	client     *http.Client
	endpoint   string
	priceField string
	interval   time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger

	mutex     sync.RWMutex
	price     decimal.Decimal
	updatedAt time.Time
}

// Option configures a Poller.
type Option func(*Poller)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(poller *Poller) {
		if client != nil {
			poller.client = client
		}
	}
}

// WithLogger attaches a zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(poller *Poller) {
		if logger != nil {
			poller.logger = logger
		}
	}
}

// WithLimiter bounds how often the endpoint may be hit.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(poller *Poller) {
		if limiter != nil {
			poller.limiter = limiter
		}
	}
}

// NewPoller validates config and returns an idle Poller.
func NewPoller(config Config, options ...Option) (*Poller, error) {
	endpoint := strings.TrimSpace(config.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	if config.Interval <= 0 {
		config.Interval = defaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if strings.TrimSpace(config.PriceField) == "" {
		config.PriceField = defaultPriceField
	}
	poller := &Poller{
		client:     &http.Client{Timeout: config.Timeout},
		endpoint:   endpoint,
		priceField: config.PriceField,
		interval:   config.Interval,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(poller)
	}
	return poller, nil
}

// CurrentPrice implements staking.PriceSource.
func (poller *Poller) CurrentPrice() decimal.Decimal {
	poller.mutex.RLock()
	defer poller.mutex.RUnlock()
	return poller.price
}

// UpdatedAt returns the time of the last successful refresh.
func (poller *Poller) UpdatedAt() time.Time {
	poller.mutex.RLock()
	defer poller.mutex.RUnlock()
	return poller.updatedAt
}

// Refresh fetches the price once. On failure the previous price is kept.
func (poller *Poller) Refresh(ctx context.Context) error {
	if err := poller.limiter.Wait(ctx); err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, poller.endpoint, nil)
	if err != nil {
		return staking.WrapError(errorOperationFeed, errorSubjectPrice, errorCodeRequest, err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := poller.client.Do(request)
	if err != nil {
		return staking.WrapError(errorOperationFeed, errorSubjectPrice, errorCodeRequest, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return staking.WrapError(errorOperationFeed, errorSubjectPrice, errorCodeRequest, err)
	}
	if response.StatusCode != http.StatusOK {
		return staking.WrapError(errorOperationFeed, errorSubjectPrice, errorCodeStatus, fmt.Errorf("unexpected status %d", response.StatusCode))
	}

	price, err := poller.decodePrice(body)
	if err != nil {
		return staking.WrapError(errorOperationFeed, errorSubjectPrice, errorCodeDecode, err)
	}

	poller.mutex.Lock()
	poller.price = price
	poller.updatedAt = time.Now().UTC()
	poller.mutex.Unlock()
	return nil
}

// Run refreshes immediately and then on every interval until ctx ends.
func (poller *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(poller.interval)
	defer ticker.Stop()
	for {
		if err := poller.Refresh(ctx); err != nil && ctx.Err() == nil {
			poller.logger.Warn("price refresh failed", zap.String("endpoint", poller.endpoint), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (poller *Poller) decodePrice(body []byte) (decimal.Decimal, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return decimal.Decimal{}, err
	}
	raw, ok := fields[poller.priceField]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrMissingPrice, poller.priceField)
	}
	var price decimal.Decimal
	if err := price.UnmarshalJSON(raw); err != nil {
		return decimal.Decimal{}, err
	}
	if price.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("negative price %s", price.String())
	}
	return price, nil
}
