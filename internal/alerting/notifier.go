package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stock-dropdown-alerts/internal/storage"
)

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, event storage.DropdownEvent) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, event storage.DropdownEvent) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(event),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("ticker", event.Symbol).
		Str("dropdown_pct", event.DropdownPct.StringFixed(2)).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(event storage.DropdownEvent) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Ticker: %s\n", event.Symbol))
	builder.WriteString(fmt.Sprintf("Initial Price: %s\n", event.InitialPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Final Price: %s\n", event.FinalPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Max Price: %s\n", event.MaxPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Min Price: %s\n", event.MinPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Dropdown: %s%%\n", event.DropdownPct.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Start Timestamp: %s\n", event.WindowStart.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("End Timestamp: %s", event.WindowEnd.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
