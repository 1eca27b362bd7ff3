package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// deliveredStatuses are the provider states treated as successful delivery.
var deliveredStatuses = map[string]bool{
	"sent":      true,
	"delivered": true,
	"read":      true,
}

// messageAPI is the slice of the Twilio REST surface the sender uses.
type messageAPI interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
	FetchMessage(sid string, params *openapi.FetchMessageParams) (*openapi.ApiV2010Message, error)
}

// WhatsAppOptions parameterise the WhatsApp sender.
type WhatsAppOptions struct {
	AccountSID string
	AuthToken  string
	From       string
	PollDelay  time.Duration
}

// WhatsApp delivers messages over the Twilio WhatsApp channel.
type WhatsApp struct {
	api       messageAPI
	from      string
	pollDelay time.Duration
	logger    zerolog.Logger
}

// NewWhatsApp constructs a Twilio-backed WhatsApp sender.
func NewWhatsApp(opts WhatsAppOptions, logger zerolog.Logger) *WhatsApp {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: opts.AccountSID,
		Password: opts.AuthToken,
	})
	return newWhatsApp(client.Api, opts, logger)
}

func newWhatsApp(api messageAPI, opts WhatsAppOptions, logger zerolog.Logger) *WhatsApp {
	pollDelay := opts.PollDelay
	if pollDelay <= 0 {
		pollDelay = 2 * time.Second
	}
	return &WhatsApp{
		api:       api,
		from:      opts.From,
		pollDelay: pollDelay,
		logger:    logger.With().Str("component", "whatsapp_sender").Logger(),
	}
}

// Deliver submits one message, waits for the provider to process it, then
// polls the delivery status. Exactly one outbound message per call; the
// caller decides whether to retry.
func (w *WhatsApp) Deliver(ctx context.Context, to, body string) DeliveryResult {
	params := &openapi.CreateMessageParams{}
	params.SetFrom(w.from)
	params.SetTo(whatsappAddress(to))
	params.SetBody(body)

	msg, err := w.api.CreateMessage(params)
	if err != nil {
		result := classifyError(err)
		w.logger.Warn().Str("to", to).Str("reason", result.Reason).Msg("消息提交失败")
		return result
	}
	if msg == nil || msg.Sid == nil || *msg.Sid == "" {
		return DeliveryResult{Success: false, Reason: "provider returned no message sid"}
	}
	sid := *msg.Sid

	w.logger.Debug().Str("to", to).Str("sid", sid).Msg("message queued")

	// Give the provider time to process before polling.
	timer := time.NewTimer(w.pollDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return DeliveryResult{Success: false, MessageSID: sid, Reason: ctx.Err().Error()}
	case <-timer.C:
	}

	fetched, err := w.api.FetchMessage(sid, &openapi.FetchMessageParams{})
	if err != nil {
		result := classifyError(err)
		result.MessageSID = sid
		return result
	}

	status := ""
	if fetched != nil && fetched.Status != nil {
		status = *fetched.Status
	}

	if deliveredStatuses[status] {
		w.logger.Info().Str("to", to).Str("status", status).Msg("message delivered")
		return DeliveryResult{Success: true, Status: status, MessageSID: sid}
	}

	w.logger.Warn().Str("to", to).Str("status", status).Msg("message not delivered")
	return DeliveryResult{Success: false, Status: status, Reason: status, MessageSID: sid}
}

func classifyError(err error) DeliveryResult {
	var restErr *twclient.TwilioRestError
	if errors.As(err, &restErr) {
		// 63003/63007: recipient has not joined the WhatsApp sandbox.
		if restErr.Code == 63003 || restErr.Code == 63007 {
			return DeliveryResult{Success: false, Reason: ReasonNotJoinedSandbox}
		}
		return DeliveryResult{Success: false, Reason: restErr.Message}
	}
	return DeliveryResult{Success: false, Reason: err.Error()}
}

func whatsappAddress(phone string) string {
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	return "whatsapp:" + phone
}

var _ Messenger = (*WhatsApp)(nil)
