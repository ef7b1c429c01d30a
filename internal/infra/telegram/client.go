// internal/infra/telegram/client.go
package telegram

import (
	"context"

	"gopkg.in/telebot.v3"
)

type sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Notifier pushes alerts to the admin chat.
type Notifier struct {
	bot     sender
	adminID int64
}

func NewNotifier(b *telebot.Bot, adminID int64) *Notifier {
	return &Notifier{bot: b, adminID: adminID}
}

// SendMessage sends a text message to the specified recipient.
func (n *Notifier) SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error {
	if options == nil {
		options = &telebot.SendOptions{}
	}
	_, err := n.bot.Send(&telebot.User{ID: recipientChatID}, text, options)
	return err
}

// Notify sends text to the admin. Alerts are dropped when no admin is set.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if n.adminID == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.SendMessage(n.adminID, text, &telebot.SendOptions{DisableWebPagePreview: true})
}
