package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"github.com/Shinku1014/metro-card-bot/internal/domain"
)

func statusEmoji(c *domain.Card) string {
	if c.Status == domain.StatusInStation {
		return "🚇"
	}
	if c.DailyUsage.A && c.DailyUsage.B {
		return "😴"
	}
	return "😃"
}

func couponEmoji(c *domain.Card) string {
	total := c.Coupons.A + c.TotalB()
	switch {
	case total == 0:
		return "🔴"
	case total <= 2:
		return "🟠"
	case total <= 5:
		return "🟡"
	default:
		return "🟢"
	}
}

func statusText(c *domain.Card) string {
	switch {
	case c.Status == domain.StatusInStation:
		return "进站中"
	case c.DailyUsage.A && c.DailyUsage.B:
		return "今日已完"
	case c.DailyUsage.A:
		return "已用五折"
	case c.DailyUsage.B:
		return "已用减二"
	default:
		return "空闲"
	}
}

func cardLine(c *domain.Card) string {
	return fmt.Sprintf("%s %s (五折: %d 减二: %d) %s - %s",
		statusEmoji(c), c.Name, c.Coupons.A, c.TotalB(), couponEmoji(c), statusText(c))
}

func mainMenuText(cards []*domain.Card) string {
	var b strings.Builder
	b.WriteString("🚇 地铁卡管理系统\n\n")

	if len(cards) == 0 {
		b.WriteString("您还没有添加任何卡片。点击下面的按钮添加您的第一张卡片！")
		return b.String()
	}

	b.WriteString("您的卡片列表：\n")
	for _, c := range cards {
		b.WriteString(cardLine(c))
		b.WriteString("\n")
	}
	return b.String()
}

func mainMenuKeyboard(cards []*domain.Card) tgbotapi.InlineKeyboardMarkup {
	if len(cards) == 0 {
		return tgbotapi.NewInlineKeyboardMarkup(
			[]tgbotapi.InlineKeyboardButton{
				tgbotapi.NewInlineKeyboardButtonData("➕ 添加卡片", "add_card"),
			},
		)
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, c := range cards {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(cardLine(c), "card:"+c.ID),
		})
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("➕ 添加卡片", "add_card"),
		tgbotapi.NewInlineKeyboardButtonData("➕ 批量添加", "batch_add"),
	})
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🗑️ 删除卡片", "delete_menu"),
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func deleteMenuKeyboard(cards []*domain.Card) tgbotapi.InlineKeyboardMarkup {
	if len(cards) == 0 {
		return tgbotapi.NewInlineKeyboardMarkup(
			[]tgbotapi.InlineKeyboardButton{
				tgbotapi.NewInlineKeyboardButtonData("⬅️ 返回", "back_main"),
			},
		)
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, c := range cards {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🗑️ "+c.Name, "delete:"+c.ID),
		})
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅️ 返回", "back_main"),
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (h *Handler) sendMainMenu(userID, chatID int64) {
	cards := h.ledger.GetCards(userID)
	msg := tgbotapi.NewMessage(chatID, mainMenuText(cards))
	msg.ReplyMarkup = mainMenuKeyboard(cards)
	if _, err := h.api.Send(msg); err != nil {
		log.Errorf("send main menu: %v", err)
	}
}

// editMainMenu refreshes the menu message a callback came from. Editing
// fails when the content is unchanged or the message is gone, in that case
// a fresh menu is sent instead.
func (h *Handler) editMainMenu(q *tgbotapi.CallbackQuery) {
	cards := h.ledger.GetCards(q.From.ID)
	kb := mainMenuKeyboard(cards)

	edit := tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, mainMenuText(cards))
	edit.ReplyMarkup = &kb
	if _, err := h.api.Send(edit); err != nil {
		h.sendMainMenu(q.From.ID, q.Message.Chat.ID)
	}
}
