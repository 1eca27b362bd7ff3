package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"aurumpulse/internal/config"
	"aurumpulse/internal/messaging"
	"aurumpulse/internal/service"
	"aurumpulse/internal/storage"
)

type fakeWorkflows struct {
	checkResult *service.CheckResult
	checkErr    error
	verifySub   storage.Subscriber
	verifyRes   messaging.DeliveryResult
	verifyErr   error
	verified    []string
}

func (f *fakeWorkflows) CheckPrice(ctx context.Context) (*service.CheckResult, error) {
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.checkResult, nil
}

func (f *fakeWorkflows) VerifySubscription(ctx context.Context, phone string) (storage.Subscriber, messaging.DeliveryResult, error) {
	f.verified = append(f.verified, phone)
	return f.verifySub, f.verifyRes, f.verifyErr
}

type fakeStore struct {
	subscribers map[string]storage.Subscriber
	readings    []storage.GoldReading
}

func newFakeStore() *fakeStore {
	return &fakeStore{subscribers: map[string]storage.Subscriber{}}
}

func (f *fakeStore) UpsertSubscriber(ctx context.Context, phone string) (storage.Subscriber, error) {
	if sub, ok := f.subscribers[phone]; ok {
		return sub, nil
	}
	sub := storage.Subscriber{ID: int64(len(f.subscribers) + 1), Phone: phone, CreatedAt: time.Now()}
	f.subscribers[phone] = sub
	return sub, nil
}

func (f *fakeStore) GetSubscriber(ctx context.Context, phone string) (storage.Subscriber, error) {
	sub, ok := f.subscribers[phone]
	if !ok {
		return storage.Subscriber{}, storage.ErrSubscriberNotFound
	}
	return sub, nil
}

func (f *fakeStore) ListActiveSubscribers(ctx context.Context) ([]storage.Subscriber, error) {
	return nil, nil
}

func (f *fakeStore) SetSubscriberActive(ctx context.Context, phone string, active bool) error {
	return nil
}

func (f *fakeStore) InsertReading(ctx context.Context, reading storage.GoldReading) (storage.GoldReading, error) {
	f.readings = append(f.readings, reading)
	return reading, nil
}

func (f *fakeStore) LatestReading(ctx context.Context) (*storage.GoldReading, error) {
	return nil, nil
}

func (f *fakeStore) ListRecentReadings(ctx context.Context, limit int) ([]storage.GoldReading, error) {
	if limit > len(f.readings) {
		limit = len(f.readings)
	}
	return f.readings[:limit], nil
}

func (f *fakeStore) ListReadingsBetween(ctx context.Context, from, to time.Time) ([]storage.GoldReading, error) {
	return f.readings, nil
}

func (f *fakeStore) CountReadings(ctx context.Context) (int64, error) {
	return int64(len(f.readings)), nil
}

func newTestServer(wf Workflows, store *fakeStore) *Server {
	return New(config.ServerConfig{Mode: "test"}, wf, store, store, zerolog.Nop())
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	return out
}

func TestRegisterUserMissingPhone(t *testing.T) {
	srv := newTestServer(&fakeWorkflows{}, newFakeStore())
	rec := doJSON(t, srv, http.MethodPost, "/api/users", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("缺少 phone 应返回 400, 实际 %d", rec.Code)
	}
}

func TestRegisterUserIdempotent(t *testing.T) {
	store := newFakeStore()
	srv := newTestServer(&fakeWorkflows{}, store)

	first := doJSON(t, srv, http.MethodPost, "/api/users", `{"phone":"+911234567890"}`)
	if first.Code != http.StatusOK {
		t.Fatalf("注册应返回 200, 实际 %d", first.Code)
	}
	second := doJSON(t, srv, http.MethodPost, "/api/users", `{"phone":"+911234567890"}`)
	if second.Code != http.StatusOK {
		t.Fatalf("重复注册应返回 200, 实际 %d", second.Code)
	}
	if len(store.subscribers) != 1 {
		t.Fatalf("重复注册不应产生重复行, 实际 %d", len(store.subscribers))
	}

	body1 := decodeBody(t, first)
	body2 := decodeBody(t, second)
	user1 := body1["user"].(map[string]any)
	user2 := body2["user"].(map[string]any)
	if user1["id"] != user2["id"] {
		t.Fatal("两次注册应返回同一条记录")
	}
}

func TestUserStatusUnknownPhone(t *testing.T) {
	srv := newTestServer(&fakeWorkflows{}, newFakeStore())
	rec := doJSON(t, srv, http.MethodGet, "/api/users/status/+919999999999", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("未注册号码应返回 404, 实际 %d", rec.Code)
	}
}

func TestUserStatusDefaultsFalse(t *testing.T) {
	store := newFakeStore()
	srv := newTestServer(&fakeWorkflows{}, store)
	doJSON(t, srv, http.MethodPost, "/api/users", `{"phone":"+911234567890"}`)

	rec := doJSON(t, srv, http.MethodGet, "/api/users/status/+911234567890", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("已注册号码应返回 200, 实际 %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["isActive"] != false || body["isVerified"] != false {
		t.Fatalf("新注册用户两个标志应为 false: %#v", body)
	}
}

func TestSubscriptionCheckUnknownPhone(t *testing.T) {
	wf := &fakeWorkflows{verifyErr: storage.ErrSubscriberNotFound}
	srv := newTestServer(wf, newFakeStore())
	rec := doJSON(t, srv, http.MethodPost, "/api/subscription/check", `{"phone":"+919999999999"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("未知号码应返回 404, 实际 %d", rec.Code)
	}
}

func TestSubscriptionCheckFailedDelivery(t *testing.T) {
	wf := &fakeWorkflows{verifyRes: messaging.DeliveryResult{Success: false, Reason: messaging.ReasonNotJoinedSandbox}}
	srv := newTestServer(wf, newFakeStore())
	rec := doJSON(t, srv, http.MethodPost, "/api/subscription/check", `{"phone":"+911234567890"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("验证失败应返回 403, 实际 %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["reason"] != messaging.ReasonNotJoinedSandbox {
		t.Fatalf("应返回翻译后的 reason: %#v", body)
	}
}

func TestSubscriptionCheckSuccess(t *testing.T) {
	wf := &fakeWorkflows{
		verifySub: storage.Subscriber{Phone: "+911234567890", IsActive: true, IsVerified: true},
		verifyRes: messaging.DeliveryResult{Success: true, Status: "delivered"},
	}
	srv := newTestServer(wf, newFakeStore())
	rec := doJSON(t, srv, http.MethodPost, "/api/subscription/check", `{"phone":"+911234567890"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("验证成功应返回 200, 实际 %d", rec.Code)
	}
}

func TestCheckGoldPriceSuccess(t *testing.T) {
	prev := decimal.NewFromInt(7000)
	wf := &fakeWorkflows{checkResult: &service.CheckResult{
		CurrentPrice:  decimal.NewFromInt(7150),
		PreviousPrice: &prev,
		PriceDiff:     decimal.NewFromInt(150),
		AlertSent:     true,
		Source:        json.RawMessage(`{"metal":"XAU"}`),
	}}
	srv := newTestServer(wf, newFakeStore())

	for _, method := range []string{http.MethodPost, http.MethodGet} {
		rec := doJSON(t, srv, method, "/api/gold-price", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s 手动触发应返回 200, 实际 %d", method, rec.Code)
		}
		body := decodeBody(t, rec)
		if body["success"] != true || body["alertSent"] != true {
			t.Fatalf("响应字段不正确: %#v", body)
		}
	}
}

func TestCheckGoldPriceFailure(t *testing.T) {
	wf := &fakeWorkflows{checkErr: errors.New("goldapi error (500)")}
	srv := newTestServer(wf, newFakeStore())
	rec := doJSON(t, srv, http.MethodPost, "/api/gold-price", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("工作流失败应返回 500, 实际 %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false {
		t.Fatalf("失败响应应带 success:false: %#v", body)
	}
}

func TestPriceHistory(t *testing.T) {
	store := newFakeStore()
	store.readings = []storage.GoldReading{
		{PriceGram24: decimal.NewFromInt(7150), Change: decimal.NewFromInt(150), CreatedAt: time.Now()},
		{PriceGram24: decimal.NewFromInt(7000), CreatedAt: time.Now().Add(-time.Hour)},
	}
	srv := newTestServer(&fakeWorkflows{}, store)

	rec := doJSON(t, srv, http.MethodGet, "/api/gold-price/history?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("历史查询应返回 200, 实际 %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(2) {
		t.Fatalf("应返回 2 条记录: %#v", body["count"])
	}
}

func TestPriceChartNotEnoughData(t *testing.T) {
	srv := newTestServer(&fakeWorkflows{}, newFakeStore())
	rec := doJSON(t, srv, http.MethodGet, "/api/gold-price/chart", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("数据不足应返回 404, 实际 %d", rec.Code)
	}
}

func TestPriceChartRendersPNG(t *testing.T) {
	store := newFakeStore()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		store.readings = append(store.readings, storage.GoldReading{
			PriceGram24: decimal.NewFromInt(int64(7000 + i*10)),
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		})
	}
	srv := newTestServer(&fakeWorkflows{}, store)

	rec := doJSON(t, srv, http.MethodGet, "/api/gold-price/chart?days=7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("图表应返回 200, 实际 %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Content-Type 应为 image/png, 实际 %s", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("PNG 数据不应为空")
	}
}
