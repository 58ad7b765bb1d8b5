package notify

import (
	"context"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v3"
)

type telegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramNotifier delivers reminders as Telegram messages. The
// recipient address is the numeric chat id.
type TelegramNotifier struct {
	bot telegramSender
}

func NewTelegram(token string) (*TelegramNotifier, error) {
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot}, nil
}

func (n *TelegramNotifier) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	chatID, err := strconv.ParseInt(msg.Recipient, 10, 64)
	if err != nil {
		return Receipt{}, fmt.Errorf("recipient %q is not a chat id: %w", msg.Recipient, err)
	}

	text := msg.Subject
	if msg.Body != "" {
		text += "\n\n" + msg.Body
	}

	sent, err := n.bot.Send(&tele.User{ID: chatID}, text)
	if err != nil {
		return Receipt{}, fmt.Errorf("telegram send: %w", err)
	}
	return Receipt{MessageID: strconv.Itoa(sent.ID)}, nil
}
