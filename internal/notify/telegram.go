package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender delivers notifications through the Telegram Bot API. The
// bot is created on first use so a bad token surfaces as a send error
// rather than a startup failure.
type TelegramSender struct {
	token    string
	chat     string
	endpoint string
	client   *http.Client

	// Telegram rejects bursts to a single chat (~30 msgs/min).
	minInterval time.Duration

	mu       sync.Mutex
	bot      *tgbotapi.BotAPI
	lastSend time.Time
}

// NewTelegramSender creates a sender for chat, which is a numeric chat id
// or a "@channel" username.
func NewTelegramSender(token, chat string) *TelegramSender {
	return &TelegramSender{
		token:       token,
		chat:        strings.TrimSpace(chat),
		endpoint:    tgbotapi.APIEndpoint,
		client:      &http.Client{Timeout: 10 * time.Second},
		minInterval: 2 * time.Second,
	}
}

// WithEndpoint overrides the Bot API endpoint format
// (default "https://api.telegram.org/bot%s/%s").
func (t *TelegramSender) WithEndpoint(endpoint string) *TelegramSender {
	t.endpoint = endpoint
	return t
}

func (t *TelegramSender) botAPI() (*tgbotapi.BotAPI, error) {
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect bot: %w", err)
	}
	t.bot = bot
	return bot, nil
}

func (t *TelegramSender) message(text string) (tgbotapi.MessageConfig, error) {
	if strings.HasPrefix(t.chat, "@") {
		return tgbotapi.NewMessageToChannel(t.chat, text), nil
	}
	id, err := strconv.ParseInt(t.chat, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("telegram: invalid chat id %q", t.chat)
	}
	return tgbotapi.NewMessage(id, text), nil
}

// FormatTelegram renders n as Telegram Markdown.
func FormatTelegram(n Notification) string {
	esc := func(s string) string { return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s) }
	var b strings.Builder
	b.WriteString("*" + esc(n.Title) + "*\n")
	b.WriteString(esc(n.Message))
	if n.Event != "" {
		b.WriteString("\n_" + esc(n.Event) + "_")
	}
	return b.String()
}

// Send posts n to the configured chat.
func (t *TelegramSender) Send(ctx context.Context, n Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if wait := t.minInterval - time.Since(t.lastSend); !t.lastSend.IsZero() && wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("telegram: %w", ctx.Err())
		case <-timer.C:
		}
	}

	bot, err := t.botAPI()
	if err != nil {
		return err
	}
	msg, err := t.message(FormatTelegram(n))
	if err != nil {
		return err
	}
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	t.lastSend = time.Now()
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
