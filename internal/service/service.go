package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"aurumpulse/internal/config"
	"aurumpulse/internal/fetcher"
	"aurumpulse/internal/messaging"
	"aurumpulse/internal/storage"
)

// CheckResult summarises one price check invocation.
type CheckResult struct {
	CurrentPrice  decimal.Decimal          `json:"currentPrice"`
	PreviousPrice *decimal.Decimal         `json:"previousPrice"`
	PriceDiff     decimal.Decimal          `json:"priceDiff"`
	AlertSent     bool                     `json:"alertSent"`
	Delivery      *messaging.DeliveryResult `json:"delivery,omitempty"`
	Source        json.RawMessage          `json:"source,omitempty"`
}

// Service orchestrates fetching, persistence, and notification.
type Service struct {
	fetcher     fetcher.PriceFetcher
	readings    storage.ReadingStore
	subscribers storage.SubscriberStore
	messenger   messaging.Messenger
	logger      zerolog.Logger

	threshold decimal.Decimal
	recipient string
	alertsOn  bool
}

// New constructs the monitoring service.
func New(cfg *config.Config, priceFetcher fetcher.PriceFetcher, readings storage.ReadingStore, subscribers storage.SubscriberStore, messenger messaging.Messenger, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Threshold > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.Threshold)
	}

	return &Service{
		fetcher:     priceFetcher,
		readings:    readings,
		subscribers: subscribers,
		messenger:   messenger,
		logger:      logger.With().Str("component", "service").Logger(),
		threshold:   threshold,
		recipient:   cfg.Alerting.Recipient,
		alertsOn:    cfg.Alerting.Enabled,
	}
}

// CheckPrice 执行一次完整的金价检查流程。
//
// Fetch failures abort the invocation without persisting. Delivery failures
// never block persistence; a reading is stored unconditionally once the
// fetch succeeds.
func (s *Service) CheckPrice(ctx context.Context) (*CheckResult, error) {
	quote, err := s.fetcher.FetchPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch gold price: %w", err)
	}

	previous, err := s.readings.LatestReading(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest reading: %w", err)
	}

	diff := decimal.Zero
	var previousPrice *decimal.Decimal
	if previous != nil {
		diff = quote.PriceGram24.Sub(previous.PriceGram24)
		prev := previous.PriceGram24
		previousPrice = &prev
	}

	result := &CheckResult{
		CurrentPrice:  quote.PriceGram24,
		PreviousPrice: previousPrice,
		PriceDiff:     diff,
		Source:        quote.Raw,
	}

	// Alert only when a prior reading exists and the absolute change meets
	// the configured threshold. First-ever readings never alert.
	if previous != nil && s.alertsOn && !s.threshold.IsZero() && diff.Abs().GreaterThanOrEqual(s.threshold) {
		result.AlertSent = true
		if s.messenger != nil && s.recipient != "" {
			body := renderAlert(previous.PriceGram24, quote.PriceGram24, diff, s.threshold, quote.Currency)
			delivery := s.messenger.Deliver(ctx, s.recipient, body)
			result.Delivery = &delivery
			if !delivery.Success {
				s.logger.Warn().Str("reason", delivery.Reason).Msg("alert not delivered")
			}
		}
	}

	reading := storage.GoldReading{
		PriceOunce:  quote.PriceOunce,
		PriceGram24: quote.PriceGram24,
		Currency:    quote.Currency,
		Metal:       quote.Metal,
		Change:      diff,
		AlertSent:   result.AlertSent,
		Source:      quote.Raw,
	}
	if _, err := s.readings.InsertReading(ctx, reading); err != nil {
		return nil, fmt.Errorf("persist reading: %w", err)
	}

	s.logger.Info().
		Str("price_gram_24k", quote.PriceGram24.StringFixed(2)).
		Str("diff", diff.StringFixed(2)).
		Bool("alert_sent", result.AlertSent).
		Msg("price check recorded")

	return result, nil
}

// SendDailyDigest 将最新金价推送给所有激活订阅者。
//
// One delivery failure never aborts the remaining recipients.
func (s *Service) SendDailyDigest(ctx context.Context) error {
	latest, err := s.readings.LatestReading(ctx)
	if err != nil {
		return fmt.Errorf("load latest reading: %w", err)
	}
	if latest == nil {
		s.logger.Warn().Msg("no stored gold price; digest skipped")
		return nil
	}

	subs, err := s.subscribers.ListActiveSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("list active subscribers: %w", err)
	}
	if len(subs) == 0 {
		s.logger.Warn().Msg("no active subscribers; digest skipped")
		return nil
	}

	body := renderDigest(latest.PriceGram24, latest.Currency)

	delivered := 0
	for _, sub := range subs {
		res := s.messenger.Deliver(ctx, sub.Phone, body)
		if !res.Success {
			s.logger.Error().Str("phone", sub.Phone).Str("reason", res.Reason).Msg("digest delivery failed")
			continue
		}
		delivered++
	}

	s.logger.Info().Int("recipients", len(subs)).Int("delivered", delivered).Msg("daily digest sent")
	return nil
}

// VerifySubscription sends a probe message to the phone and toggles the
// subscriber's active flag based on the delivery outcome.
func (s *Service) VerifySubscription(ctx context.Context, phone string) (storage.Subscriber, messaging.DeliveryResult, error) {
	sub, err := s.subscribers.GetSubscriber(ctx, phone)
	if err != nil {
		return storage.Subscriber{}, messaging.DeliveryResult{}, err
	}

	res := s.messenger.Deliver(ctx, sub.Phone, "Subscription check: AurumPulse alerts are active for this number.")

	if err := s.subscribers.SetSubscriberActive(ctx, sub.Phone, res.Success); err != nil {
		return storage.Subscriber{}, res, err
	}

	sub.IsActive = res.Success
	if res.Success {
		sub.IsVerified = true
	}

	s.logger.Info().Str("phone", phone).Bool("active", res.Success).Msg("subscription verification completed")
	return sub, res, nil
}

func renderAlert(previous, current, diff, threshold decimal.Decimal, currency string) string {
	builder := strings.Builder{}
	builder.WriteString("[Gold 24k Price Alert]\n")
	builder.WriteString(fmt.Sprintf("Previous: %s %s/gram\n", previous.StringFixed(2), currency))
	builder.WriteString(fmt.Sprintf("Current: %s %s/gram\n", current.StringFixed(2), currency))
	builder.WriteString(fmt.Sprintf("Change: %s (threshold %s)\n", diff.StringFixed(2), threshold.StringFixed(2)))
	return builder.String()
}

func renderDigest(price decimal.Decimal, currency string) string {
	builder := strings.Builder{}
	builder.WriteString("[Daily Gold Price Update]\n")
	builder.WriteString(fmt.Sprintf("24K gold today: %s %s per gram\n", price.StringFixed(2), currency))
	builder.WriteString("Stay informed with AurumPulse\n")
	return builder.String()
}
