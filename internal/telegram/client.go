// Package telegram delivers market alerts through the Telegram Bot API.
// Alerts are rendered as a single MarkdownV2 message and sent with linear
// backoff retry.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/polyledger/internal/models"
)

// botAPI is the subset of *tgbotapi.BotAPI the client uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            botAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot botAPI, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Send delivers alerts as one message
func (c *Client) Send(alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	msg := tgbotapi.NewMessage(c.chatID, formatMessage(alerts))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

var kindEmoji = map[models.AlertKind]string{
	models.AlertVelocity: "🚫",
	models.AlertCooldown: "⏳",
	models.AlertResolved: "✅",
}

var kindTitle = map[models.AlertKind]string{
	models.AlertVelocity: "Velocity cap",
	models.AlertCooldown: "Cooldown",
	models.AlertResolved: "Resolved",
}

// formatMessage renders alerts into a MarkdownV2 message
func formatMessage(alerts []models.Alert) string {
	var b strings.Builder
	b.WriteString("🚨 *Market Alerts*\n\n")

	// All alerts in a batch share one flush, so show the first timestamp once.
	b.WriteString(fmt.Sprintf("📅 %s\n\n", escapeMarkdownV2(alerts[0].At.UTC().Format("2006-01-02 15:04:05 UTC"))))

	for i, a := range alerts {
		b.WriteString(fmt.Sprintf("%d\\. %s *%s* `%s`\n",
			i+1, kindEmoji[a.Kind], escapeMarkdownV2(kindTitle[a.Kind]), escapeCode(a.EventID)))
		b.WriteString(fmt.Sprintf("   YES: *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.1f%%", a.YesPrice*100))))
		if a.Detail != "" {
			b.WriteString(fmt.Sprintf("   %s\n", escapeMarkdownV2(a.Detail)))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text placed inside an inline code span, where only
// backtick and backslash are special.
func escapeCode(text string) string {
	var b strings.Builder
	for _, char := range text {
		if char == '`' || char == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
