package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestGoldAPIMissingKey(t *testing.T) {
	g := NewGoldAPI(GoldAPIOptions{}, noopLogger())
	if _, err := g.FetchPrice(context.Background()); err == nil {
		t.Fatal("缺少 API key 时应返回错误")
	}
}

func TestGoldAPIHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid token"})
	}))
	defer srv.Close()

	g := NewGoldAPI(GoldAPIOptions{
		BaseURL: srv.URL,
		APIKey:  "key",
		Timeout: time.Second,
	}, noopLogger())

	if _, err := g.FetchPrice(context.Background()); err == nil {
		t.Fatal("HTTP 403 应返回错误")
	}
}

func TestGoldAPISuccess(t *testing.T) {
	var gotPath, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("x-access-token")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"price":          217350.5,
			"price_gram_24k": 7000.25,
			"currency":       "INR",
			"metal":          "XAU",
			"timestamp":      1700000000,
		})
	}))
	defer srv.Close()

	g := NewGoldAPI(GoldAPIOptions{
		BaseURL:  srv.URL,
		APIKey:   "key",
		Metal:    "XAU",
		Currency: "INR",
		Timeout:  time.Second,
	}, noopLogger())

	quote, err := g.FetchPrice(context.Background())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if gotPath != "/api/XAU/INR" {
		t.Fatalf("请求路径不正确: %s", gotPath)
	}
	if gotToken != "key" {
		t.Fatalf("x-access-token 不正确: %s", gotToken)
	}
	if quote.PriceGram24.Cmp(decimal.RequireFromString("7000.25")) != 0 {
		t.Fatalf("期望克价 7000.25, 实际 %s", quote.PriceGram24.String())
	}
	if quote.PriceOunce.Cmp(decimal.RequireFromString("217350.5")) != 0 {
		t.Fatalf("期望盎司价 217350.5, 实际 %s", quote.PriceOunce.String())
	}
	if quote.Currency != "INR" || quote.Metal != "XAU" {
		t.Fatalf("currency/metal 不正确: %s/%s", quote.Currency, quote.Metal)
	}
	if len(quote.Raw) == 0 {
		t.Fatal("应保留完整原始响应")
	}
}

func TestGoldAPIMissingGramPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"price": 100.0})
	}))
	defer srv.Close()

	g := NewGoldAPI(GoldAPIOptions{BaseURL: srv.URL, APIKey: "key", Timeout: time.Second}, noopLogger())
	if _, err := g.FetchPrice(context.Background()); err == nil {
		t.Fatal("缺少 price_gram_24k 应返回错误")
	}
}
