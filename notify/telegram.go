// Package notify delivers renewal outcomes to a Telegram chat. Delivery is best
// effort: failures are logged and never returned.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/numtide/cert-renewer/appcontext"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const maxAttempts = 3

type Notifier interface {
	Notify(ctx context.Context, message string)
}

type Telegram struct {
	endpoint   string
	chatID     string
	httpClient *http.Client
	logger     *zap.SugaredLogger

	initialInterval time.Duration
}

var _ Notifier = (*Telegram)(nil)

func NewTelegram(appContext appcontext.AppContext) *Telegram {
	cfg := appContext.Config.Telegram
	return &Telegram{
		endpoint:        fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(cfg.APIURL, "/"), cfg.BotToken),
		chatID:          cfg.ChatID,
		httpClient:      &http.Client{Timeout: appContext.Config.HTTPTimeout},
		logger:          appContext.Logger.With("component", "telegram"),
		initialInterval: time.Second,
	}
}

// WithRetryInterval changes the first backoff interval between attempts.
func (t *Telegram) WithRetryInterval(d time.Duration) *Telegram {
	t.initialInterval = d
	return t
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Notify(ctx context.Context, message string) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.initialInterval
	b.MaxInterval = 10 * t.initialInterval

	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)

	err := backoff.Retry(func() error { return t.send(ctx, message) }, policy)
	if err != nil {
		t.logger.With("error", err).Error("while sending notification")
		return
	}

	t.logger.Debug("notification sent")
}

func (t *Telegram) send(ctx context.Context, message string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: message})
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, "while encoding message"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(errors.New("while creating telegram request"))
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.httpClient.Do(req)
	if err != nil {
		// url.Error would print the endpoint, which contains the bot token.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return errors.Wrap(err, "while calling telegram")
	}
	defer res.Body.Close()

	var parsed sendMessageResponse
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	_ = json.Unmarshal(raw, &parsed)

	if res.StatusCode >= 200 && res.StatusCode <= 299 && parsed.OK {
		return nil
	}

	err = errors.Errorf("telegram responded %d: %s", res.StatusCode, parsed.Description)
	if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}
