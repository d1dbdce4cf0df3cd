// Package chatbot sends signal notifications through the Telegram bot API.
package chatbot

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	models "signalhub/database/models_pkg"
)

// Notifier delivers rendered signal messages to per-user chat connections
type Notifier struct {
	bot     *tgbotapi.BotAPI
	enabled bool
}

// NewNotifier creates a Telegram notifier. When disabled or the token is
// invalid the notifier is inert and Send reports an error.
func NewNotifier(enabled bool, botToken string) *Notifier {
	if !enabled {
		return &Notifier{enabled: false}
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		log.Printf("⚠️  Failed to create telegram bot: %v", err)
		return &Notifier{enabled: false}
	}

	log.Printf("✅ Telegram bot connected: @%s", bot.Self.UserName)
	return &Notifier{bot: bot, enabled: true}
}

// Enabled reports whether the bot connection is usable
func (n *Notifier) Enabled() bool {
	return n.enabled
}

// Send delivers text to one chat
func (n *Notifier) Send(chatID int64, text string) error {
	if !n.enabled {
		return fmt.Errorf("telegram bot not configured")
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// RenderSignal formats a human-readable chat message for an event
func RenderSignal(event *models.SignalEvent) string {
	emoji := "🟢"
	if event.Action == "SELL" {
		emoji = "🔴"
	}

	text := fmt.Sprintf("%s *%s* %s\nEntry: %.6g\nConfidence: %.0f%%\nStrategy: %s",
		emoji, event.Action, event.Symbol, event.EntryPrice, event.Confidence, event.Strategy)

	if event.StopLoss != nil {
		text += fmt.Sprintf("\nStop: %.6g", *event.StopLoss)
	}
	if event.TakeProfit != nil {
		text += fmt.Sprintf("\nTarget: %.6g", *event.TakeProfit)
	}
	return text
}
