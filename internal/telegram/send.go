package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mtzanidakis/conductor/internal/config"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const maxMessageLen = 4096

// Notifier delivers workflow notifications to a fixed set of chats.
type Notifier struct {
	bot     *telego.Bot
	chatIDs []int64
}

func NewNotifier(cfg config.TelegramConfig) (*Notifier, error) {
	if len(cfg.ChatIDs) == 0 {
		return nil, fmt.Errorf("telegram notifier: no chat ids configured")
	}
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Notifier{bot: bot, chatIDs: cfg.ChatIDs}, nil
}

// Notify sends message to every configured chat. A failing chat does not
// stop delivery to the others.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, id := range n.chatIDs {
		if err := n.SendMessage(ctx, id, message); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	for _, chunk := range chunkMessage(text, maxMessageLen) {
		msg := tu.Message(tu.ID(chatID), chunk)
		if _, err := n.bot.SendMessage(ctx, msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// chunkMessage splits a message into chunks that fit within Telegram's message size limit.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		// Try to split at a newline
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}
