package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"SeriesHarvester/internal/logger"
	"SeriesHarvester/internal/pipeline"
)

// DefaultAPIBase is the Telegram Bot API root.
const DefaultAPIBase = "https://api.telegram.org"

// TelegramNotifier sends messages via the Telegram Bot API.
type TelegramNotifier struct {
	BotToken string
	ChatID   string
	APIBase  string
	Client   *http.Client
	// RetryInterval is the first wait of SendWithRetry; it doubles per attempt.
	RetryInterval time.Duration
	log           *logger.Entry
}

// NewTelegramNotifier creates a notifier with optional proxy support. It
// returns nil when no bot token is configured.
func NewTelegramNotifier(botToken, chatID, proxyURL string) *TelegramNotifier {
	if botToken == "" {
		return nil
	}
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &TelegramNotifier{
		BotToken: botToken,
		ChatID:   chatID,
		APIBase:  DefaultAPIBase,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		RetryInterval: time.Second,
		log:           logger.GetLogger().WithComponent("notifier"),
	}
}

// Send sends a message to the configured chat.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.APIBase, t.BotToken)
	payload := map[string]string{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("telegram API error: status %d, body: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}

// SendWithRetry sends a message with exponential backoff retry. Client
// errors other than 429 are not retried.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.RetryInterval
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		attempts++
		return t.Send(ctx, text)
	}
	notify := func(err error, wait time.Duration) {
		t.log.WithError(err).WithFields(logger.Fields{
			"attempt": attempts,
			"max":     maxRetries + 1,
			"wait":    wait.String(),
		}).Warn("telegram send failed, retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxRetries)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("telegram send failed after %d attempts: %w", attempts, err)
	}
	return nil
}

// NotifyRun reports a finished run to the chat.
func (t *TelegramNotifier) NotifyRun(ctx context.Context, summary *pipeline.RunSummary) error {
	return t.SendWithRetry(ctx, FormatRunReport(summary), 3)
}
