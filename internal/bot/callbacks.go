package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"github.com/Shinku1014/metro-card-bot/internal/domain"
	"github.com/Shinku1014/metro-card-bot/internal/ledger"
)

func (h *Handler) HandleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	data := q.Data

	switch data {
	case "add_card":
		h.states[q.From.ID] = stateWaitCardName
		h.reply(q.Message.Chat.ID, "请输入卡片名称（例如：工商银行卡、招商银行卡等）：")
		h.answer(q, "")
		return
	case "batch_add":
		h.states[q.From.ID] = stateWaitBatchAdd
		h.reply(q.Message.Chat.ID, "请输入多张卡片名称，用逗号分隔\n\n例如：工商银行卡,招商银行卡,建设银行卡\n\n💡 提示：每张卡片名称不超过20个字符")
		h.answer(q, "")
		return
	case "delete_menu":
		h.showDeleteMenu(q)
		return
	case "back_main":
		h.editMainMenu(q)
		h.answer(q, "")
		return
	case "cancel_use":
		h.deleteMessage(q)
		h.answer(q, "已取消")
		return
	}

	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		return
	}

	switch parts[0] {
	case "card":
		h.handleCardTap(q, parts[1])
	case "useA":
		h.handleUseCoupon(q, parts[1], domain.CouponA)
	case "useB":
		h.handleUseCoupon(q, parts[1], domain.CouponB)
	case "delete":
		h.handleDeleteCard(q, parts[1])
	case "remind":
		h.handleReminderCheckout(q, parts[1])
	}
}

func (h *Handler) handleCardTap(q *tgbotapi.CallbackQuery, cardID string) {
	card := h.findCard(q.From.ID, cardID)
	if card == nil {
		h.answer(q, "卡片不存在！")
		return
	}

	if card.Status == domain.StatusIdle {
		totalCoupons := card.Coupons.A + card.TotalB()
		if totalCoupons == 0 {
			h.answer(q, "优惠券已用完！")
			return
		}
		if card.DailyUsage.A && card.DailyUsage.B {
			h.answer(q, "今天该卡所有优惠已用完！")
			return
		}

		h.ledger.UpdateStatus(q.From.ID, cardID, domain.StatusInStation)
		h.answer(q, fmt.Sprintf("✅ %s 已进站", card.Name))
		h.editMainMenu(q)
		return
	}

	if card.Status == domain.StatusInStation {
		h.checkout(q, card, false)
	}
}

// checkout completes an in_station session: when exactly one coupon type is
// usable it is consumed right away, otherwise the user picks one.
func (h *Handler) checkout(q *tgbotapi.CallbackQuery, card *domain.Card, deleteSource bool) {
	canUseA := !card.DailyUsage.A && card.Coupons.A > 0
	canUseB := !card.DailyUsage.B && card.TotalB() > 0

	if canUseA != canUseB {
		couponType := domain.CouponA
		label := "五折"
		if canUseB {
			couponType = domain.CouponB
			label = "减二"
		}
		if deleteSource {
			h.deleteMessage(q)
		}
		receipt, err := h.ledger.ConsumeCoupon(q.From.ID, card.ID, couponType)
		if err != nil {
			h.answer(q, consumeErrText(err))
			return
		}
		h.answer(q, fmt.Sprintf("✅ 自动使用%s | %s", label, receiptText(couponType, receipt)))
		h.editMainMenu(q)
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	if canUseA {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("🎟️ 使用五折 (剩余: %d)", card.Coupons.A), "useA:"+card.ID),
		})
	}
	if canUseB {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("🎫 使用减二 (剩余: %d)", card.TotalB()), "useB:"+card.ID),
		})
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("❌ 取消", "cancel_use"),
	})

	if deleteSource {
		h.deleteMessage(q)
	}
	msg := tgbotapi.NewMessage(q.Message.Chat.ID, fmt.Sprintf("请选择 %s 使用的优惠券：", card.Name))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := h.api.Send(msg); err != nil {
		log.Errorf("send coupon choice: %v", err)
	}
	h.answer(q, "")
}

func (h *Handler) handleUseCoupon(q *tgbotapi.CallbackQuery, cardID, couponType string) {
	receipt, err := h.ledger.ConsumeCoupon(q.From.ID, cardID, couponType)
	if err != nil {
		h.answer(q, consumeErrText(err))
		return
	}

	h.deleteMessage(q) // remove the choice menu
	h.answer(q, "")
	h.reply(q.Message.Chat.ID, "✅ "+receiptText(couponType, receipt))
	h.sendMainMenu(q.From.ID, q.Message.Chat.ID)
}

func (h *Handler) handleDeleteCard(q *tgbotapi.CallbackQuery, cardID string) {
	card := h.findCard(q.From.ID, cardID)
	if card == nil {
		h.answer(q, "卡片不存在！")
		return
	}

	h.ledger.DeleteCard(q.From.ID, cardID)
	h.answer(q, fmt.Sprintf("已删除卡片：%s", card.Name))
	h.editMainMenu(q)
}

// handleReminderCheckout handles the button attached to a timeout reminder.
func (h *Handler) handleReminderCheckout(q *tgbotapi.CallbackQuery, cardID string) {
	card := h.findCard(q.From.ID, cardID)
	if card == nil || card.Status != domain.StatusInStation {
		h.answer(q, "该卡片当前不在进站状态")
		h.deleteMessage(q)
		return
	}
	h.checkout(q, card, true)
}

func (h *Handler) showDeleteMenu(q *tgbotapi.CallbackQuery) {
	cards := h.ledger.GetCards(q.From.ID)

	text := "选择要删除的卡片："
	if len(cards) == 0 {
		text = "没有可删除的卡片。"
	}

	kb := deleteMenuKeyboard(cards)
	edit := tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, text)
	edit.ReplyMarkup = &kb
	if _, err := h.api.Send(edit); err != nil {
		log.Errorf("edit delete menu: %v", err)
	}
	h.answer(q, "")
}

func (h *Handler) findCard(userID int64, cardID string) *domain.Card {
	for _, c := range h.ledger.GetCards(userID) {
		if c.ID == cardID {
			return c
		}
	}
	return nil
}

func (h *Handler) answer(q *tgbotapi.CallbackQuery, text string) {
	if _, err := h.api.Request(tgbotapi.NewCallback(q.ID, text)); err != nil {
		log.Errorf("answer callback: %v", err)
	}
}

func (h *Handler) deleteMessage(q *tgbotapi.CallbackQuery) {
	del := tgbotapi.NewDeleteMessage(q.Message.Chat.ID, q.Message.MessageID)
	if _, err := h.api.Request(del); err != nil {
		log.Errorf("delete message: %v", err)
	}
}

func receiptText(couponType string, r ledger.Receipt) string {
	if couponType == domain.CouponA {
		return fmt.Sprintf("已使用五折优惠券，剩余 %d 张", r.Remaining)
	}
	return fmt.Sprintf("已使用减二优惠券，本月剩余 %d 张", r.Remaining)
}

func consumeErrText(err error) string {
	switch {
	case errors.Is(err, ledger.ErrCardNotFound):
		return "卡片不存在！"
	case errors.Is(err, ledger.ErrAlreadyUsedToday):
		return "今天已使用过该优惠券"
	case errors.Is(err, ledger.ErrExhausted):
		return "优惠券已用完！"
	case errors.Is(err, ledger.ErrInvalidCouponType):
		return "无效的优惠券类型"
	default:
		return "发生错误，请稍后重试。"
	}
}
