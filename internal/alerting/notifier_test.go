package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stock-dropdown-alerts/internal/storage"
)

func testEvent() storage.DropdownEvent {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	return storage.DropdownEvent{
		Symbol:       "AAPL",
		InitialPrice: decimal.NewFromInt(100),
		FinalPrice:   decimal.NewFromInt(90),
		MaxPrice:     decimal.NewFromInt(120),
		MinPrice:     decimal.NewFromInt(90),
		DropdownPct:  decimal.NewFromInt(25),
		WindowStart:  now.Add(-time.Hour),
		WindowEnd:    now,
		ComputedAt:   now,
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "Ticker: AAPL") {
		t.Fatalf("text 应包含 ticker 行: %q", received["text"])
	}
	if !strings.Contains(received["text"], "Dropdown: 25.00%") {
		t.Fatalf("text 应包含 dropdown 行: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testEvent()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
