package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nearby-tasks/internal/model"
)

// Sender is the part of the Telegram API the bot writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// ChatNotifier delivers proximity alerts to one Telegram chat.
type ChatNotifier struct {
	api    Sender
	chatID int64
}

func NewChatNotifier(api Sender, chatID int64) *ChatNotifier {
	return &ChatNotifier{api: api, chatID: chatID}
}

// RequestPermission checks that the chat still accepts messages from the bot.
// A chat that blocked the bot (403) counts as a refusal.
func (n *ChatNotifier) RequestPermission(context.Context) (bool, error) {
	_, err := n.api.Request(tgbotapi.NewChatAction(n.chatID, tgbotapi.ChatTyping))
	if err == nil {
		return true, nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		return false, nil
	}
	return false, fmt.Errorf("check chat %d: %w", n.chatID, err)
}

func (n *ChatNotifier) Notify(_ context.Context, event model.NotificationEvent) error {
	msg := tgbotapi.NewMessage(n.chatID, formatNotification(event))
	msg.ParseMode = tgbotapi.ModeHTML
	if event.TaskID != "" {
		msg.ReplyMarkup = notificationKeyboard(event.TaskID)
	}
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send alert to chat %d: %w", n.chatID, err)
	}
	return nil
}
