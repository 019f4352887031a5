package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ReminderNotifier delivers timeout reminders for the scanner, with a button
// that jumps straight into the checkout flow.
type ReminderNotifier struct {
	api *tgbotapi.BotAPI
}

func NewReminderNotifier(api *tgbotapi.BotAPI) *ReminderNotifier {
	return &ReminderNotifier{api: api}
}

func (n *ReminderNotifier) Notify(userID int64, text string, cardID string) error {
	msg := tgbotapi.NewMessage(userID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("✅ 已出站，选择优惠券", "remind:"+cardID),
		},
	)
	_, err := n.api.Send(msg)
	return err
}
