package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"github.com/Shinku1014/metro-card-bot/internal/config"
	"github.com/Shinku1014/metro-card-bot/internal/domain"
	"github.com/Shinku1014/metro-card-bot/internal/ledger"
)

// pending-input states for multi-step flows
const (
	stateWaitCardName = "waiting_card_name"
	stateWaitBatchAdd = "waiting_batch_card_names"
)

type Handler struct {
	api    *tgbotapi.BotAPI
	cfg    config.Config
	ledger *ledger.Ledger

	// per-user pending input; updates are handled on one goroutine so no lock
	states map[int64]string
}

func NewHandler(api *tgbotapi.BotAPI, cfg config.Config, l *ledger.Ledger) *Handler {
	return &Handler{api: api, cfg: cfg, ledger: l, states: make(map[int64]string)}
}

func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		h.HandleCallback(ctx, upd.CallbackQuery)
		return
	}

	if upd.Message == nil {
		return
	}

	msg := upd.Message
	if !msg.Chat.IsPrivate() {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/start") || strings.HasPrefix(text, "/cards") {
		delete(h.states, msg.From.ID)
		h.sendMainMenu(msg.From.ID, msg.Chat.ID)
		return
	}

	if strings.HasPrefix(text, "/help") {
		h.reply(msg.Chat.ID, helpText)
		return
	}

	if strings.HasPrefix(text, "/reset") {
		h.ledger.ResetAllStatus(msg.From.ID)
		h.reply(msg.Chat.ID, "✅ 所有卡片状态已重置为「空闲」")
		h.sendMainMenu(msg.From.ID, msg.Chat.ID)
		return
	}

	switch h.states[msg.From.ID] {
	case stateWaitCardName:
		h.handleAddCardName(msg, text)
	case stateWaitBatchAdd:
		h.handleBatchAddNames(msg, text)
	default:
		h.sendMainMenu(msg.From.ID, msg.Chat.ID)
	}
}

func (h *Handler) handleAddCardName(msg *tgbotapi.Message, name string) {
	err := h.ledger.AddCard(msg.From.ID, name)
	switch {
	case err == nil:
		delete(h.states, msg.From.ID)
		h.reply(msg.Chat.ID, fmt.Sprintf("✅ 成功添加卡片：%s", name))
		h.sendMainMenu(msg.From.ID, msg.Chat.ID)
	case errors.Is(err, ledger.ErrNameEmpty):
		h.reply(msg.Chat.ID, "卡片名称不能为空，请重新输入：")
	case errors.Is(err, ledger.ErrNameTooLong):
		h.reply(msg.Chat.ID, "卡片名称太长，请输入20个字符以内的名称：")
	case errors.Is(err, ledger.ErrDuplicateName):
		h.reply(msg.Chat.ID, "该卡片名称已存在，请使用其他名称：")
	default:
		log.Errorf("add card: %v", err)
		h.reply(msg.Chat.ID, "发生错误，请稍后重试。")
	}
}

func (h *Handler) handleBatchAddNames(msg *tgbotapi.Message, input string) {
	names := splitCardNames(input)
	if len(names) == 0 {
		h.reply(msg.Chat.ID, "未检测到有效的卡片名称，请重新输入：")
		return
	}

	results, err := h.ledger.AddCards(msg.From.ID, names)
	if errors.Is(err, ledger.ErrTooManyCards) {
		h.reply(msg.Chat.ID, fmt.Sprintf("一次最多只能添加%d张卡片，请重新输入：", domain.MaxBatchAdd))
		return
	}
	if err != nil {
		log.Errorf("batch add: %v", err)
		h.reply(msg.Chat.ID, "发生错误，请稍后重试。")
		return
	}

	delete(h.states, msg.From.ID)

	var added, failed []string
	for _, r := range results {
		switch {
		case r.Err == nil:
			added = append(added, r.Name)
		case errors.Is(r.Err, ledger.ErrDuplicateName):
			failed = append(failed, r.Name+"（已存在）")
		case errors.Is(r.Err, ledger.ErrNameTooLong):
			failed = append(failed, r.Name+"（名称过长）")
		default:
			failed = append(failed, r.Name)
		}
	}

	var b strings.Builder
	b.WriteString("📋 批量添加结果：\n\n")
	if len(added) > 0 {
		b.WriteString(fmt.Sprintf("✅ 成功添加 %d 张卡片：\n", len(added)))
		for _, name := range added {
			b.WriteString("• " + name + "\n")
		}
	}
	if len(failed) > 0 {
		b.WriteString(fmt.Sprintf("\n❌ 添加失败 %d 张卡片：\n", len(failed)))
		for _, name := range failed {
			b.WriteString("• " + name + "\n")
		}
	}

	h.reply(msg.Chat.ID, b.String())
	h.sendMainMenu(msg.From.ID, msg.Chat.ID)
}

// splitCardNames splits batch input on commas, accepting the full-width
// comma Chinese keyboards produce.
func splitCardNames(input string) []string {
	parts := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == '，'
	})
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			names = append(names, p)
		}
	}
	return names
}

func (h *Handler) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.api.Send(msg); err != nil {
		log.Errorf("send message: %v", err)
	}
}

const helpText = `🚇 地铁卡管理 Bot 帮助

这个 Bot 可以帮助您管理信用卡的地铁优惠券。

优惠规则：
1. 每张卡初始有 10 张 五折 优惠券
2. 每月自动增加 5 张 减二 优惠券（当月有效）
3. 每张卡每天可以分别使用一次 五折 和 减二

功能：
• /start - 显示主菜单
• /cards - 查看所有卡片
• /reset - 取消当前所有卡的状态，全部设置为空闲
• 添加卡片 - 添加单张信用卡
• 批量添加 - 一次添加多张卡片
• 点击卡片 - 进站操作
• 再次点击 - 出站并选择优惠券

使用方法：
1. 进地铁时点击相应卡片
2. 出地铁时再次点击同一卡片
3. 选择使用的优惠券（五折 或 减二）`
