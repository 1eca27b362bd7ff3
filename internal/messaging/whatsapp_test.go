package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeAPI struct {
	createErr   error
	fetchErr    error
	fetchStatus string
	created     int
	fetched     int
	lastTo      string
	lastBody    string
}

func (f *fakeAPI) CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.created++
	if params.To != nil {
		f.lastTo = *params.To
	}
	if params.Body != nil {
		f.lastBody = *params.Body
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	sid := "SM123"
	return &openapi.ApiV2010Message{Sid: &sid}, nil
}

func (f *fakeAPI) FetchMessage(sid string, params *openapi.FetchMessageParams) (*openapi.ApiV2010Message, error) {
	f.fetched++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	status := f.fetchStatus
	return &openapi.ApiV2010Message{Sid: &sid, Status: &status}, nil
}

func newTestSender(api messageAPI) *WhatsApp {
	return newWhatsApp(api, WhatsAppOptions{From: "whatsapp:+14155238886", PollDelay: time.Millisecond}, zerolog.Nop())
}

func TestDeliverSuccessStatuses(t *testing.T) {
	for _, status := range []string{"sent", "delivered", "read"} {
		api := &fakeAPI{fetchStatus: status}
		res := newTestSender(api).Deliver(context.Background(), "+911234567890", "hello")
		if !res.Success {
			t.Fatalf("状态 %s 应视为投递成功: %#v", status, res)
		}
		if res.Status != status {
			t.Fatalf("应返回轮询到的状态, 实际 %s", res.Status)
		}
		if api.created != 1 || api.fetched != 1 {
			t.Fatalf("应恰好提交并轮询各一次: created=%d fetched=%d", api.created, api.fetched)
		}
		if api.lastTo != "whatsapp:+911234567890" {
			t.Fatalf("收件人应带 whatsapp: 前缀, 实际 %s", api.lastTo)
		}
	}
}

func TestDeliverFailedStatus(t *testing.T) {
	api := &fakeAPI{fetchStatus: "failed"}
	res := newTestSender(api).Deliver(context.Background(), "+911234567890", "hello")
	if res.Success {
		t.Fatal("failed 状态不应视为投递成功")
	}
	if res.Reason != "failed" {
		t.Fatalf("reason 应为 provider 状态, 实际 %s", res.Reason)
	}
}

func TestDeliverQueuedStatus(t *testing.T) {
	api := &fakeAPI{fetchStatus: "queued"}
	res := newTestSender(api).Deliver(context.Background(), "+911234567890", "hello")
	if res.Success {
		t.Fatal("queued 状态不应视为投递成功")
	}
}

func TestDeliverSandboxErrorCodes(t *testing.T) {
	for _, code := range []int{63003, 63007} {
		api := &fakeAPI{createErr: &twclient.TwilioRestError{Code: code, Message: "not in sandbox"}}
		res := newTestSender(api).Deliver(context.Background(), "+911234567890", "hello")
		if res.Success {
			t.Fatalf("code %d 应视为失败", code)
		}
		if res.Reason != ReasonNotJoinedSandbox {
			t.Fatalf("code %d 应翻译为 %s, 实际 %s", code, ReasonNotJoinedSandbox, res.Reason)
		}
	}
}

func TestDeliverOtherProviderError(t *testing.T) {
	api := &fakeAPI{createErr: &twclient.TwilioRestError{Code: 21211, Message: "invalid to number"}}
	res := newTestSender(api).Deliver(context.Background(), "bad", "hello")
	if res.Success {
		t.Fatal("provider 错误应视为失败")
	}
	if res.Reason != "invalid to number" {
		t.Fatalf("其余错误应透传原始消息, 实际 %s", res.Reason)
	}
}

func TestDeliverFetchError(t *testing.T) {
	api := &fakeAPI{fetchErr: &twclient.TwilioRestError{Code: 20404, Message: "not found"}}
	res := newTestSender(api).Deliver(context.Background(), "+911234567890", "hello")
	if res.Success {
		t.Fatal("轮询失败应视为未投递")
	}
	if res.MessageSID != "SM123" {
		t.Fatalf("应保留消息 SID, 实际 %s", res.MessageSID)
	}
}
