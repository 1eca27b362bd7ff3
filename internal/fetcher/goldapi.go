package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// GoldAPIOptions parameterise the GoldAPI fetcher.
type GoldAPIOptions struct {
	BaseURL   string
	APIKey    string
	Metal     string
	Currency  string
	Timeout   time.Duration
	UserAgent string
}

// GoldAPI fetches spot quotes from goldapi.io.
type GoldAPI struct {
	opts    GoldAPIOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewGoldAPI constructs a GoldAPI fetcher.
func NewGoldAPI(opts GoldAPIOptions, logger zerolog.Logger) *GoldAPI {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.goldapi.io"
	}

	if opts.Metal == "" {
		opts.Metal = "XAU"
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}

	return &GoldAPI{
		opts:    opts,
		logger:  logger.With().Str("component", "goldapi_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchPrice retrieves the current spot quote.
func (g *GoldAPI) FetchPrice(ctx context.Context) (PriceQuote, error) {
	if g.opts.APIKey == "" {
		return PriceQuote{}, errors.New("goldapi api key not configured")
	}

	endpoint := fmt.Sprintf("%s/api/%s/%s", g.baseURL, g.opts.Metal, g.opts.Currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	req.Header.Set("x-access-token", g.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "aurumpulse/1.0")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return PriceQuote{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return PriceQuote{}, parseHTTPError(resp.StatusCode, payload)
	}

	var body goldAPIResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return PriceQuote{}, err
	}

	gram24 := body.PriceGram24K
	if gram24.IsZero() {
		return PriceQuote{}, errors.New("price_gram_24k missing in response")
	}

	// goldapi.io reports the ounce price as "price"; older payloads used
	// "price_ounce".
	ounce := body.Price
	if ounce.IsZero() {
		ounce = body.PriceOunce
	}

	currency := body.Currency
	if currency == "" {
		currency = g.opts.Currency
	}
	metal := body.Metal
	if metal == "" {
		metal = g.opts.Metal
	}

	return PriceQuote{
		PriceOunce:  ounce,
		PriceGram24: gram24,
		Currency:    currency,
		Metal:       metal,
		Raw:         json.RawMessage(payload),
	}, nil
}

type goldAPIResponse struct {
	Price        decimal.Decimal `json:"price"`
	PriceOunce   decimal.Decimal `json:"price_ounce"`
	PriceGram24K decimal.Decimal `json:"price_gram_24k"`
	Currency     string          `json:"currency"`
	Metal        string          `json:"metal"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("goldapi error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("goldapi error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("goldapi error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("goldapi error (%d)", status)
}

var _ PriceFetcher = (*GoldAPI)(nil)
