package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Shinku1014/metro-card-bot/internal/domain"
)

func TestSplitCardNames(t *testing.T) {
	assert.Equal(t, []string{"工商银行卡", "招商银行卡", "建设银行卡"},
		splitCardNames("工商银行卡,招商银行卡，建设银行卡"))
	assert.Equal(t, []string{"a", "b"}, splitCardNames(" a , , b ,"))
	assert.Empty(t, splitCardNames(" ,， "))
}

func TestCardLine(t *testing.T) {
	c := &domain.Card{
		Name: "工商银行卡",
		Coupons: domain.Coupons{
			A: 3,
			B: []domain.CouponBatch{{Month: "2024-05", Count: 2}},
		},
		Status: domain.StatusIdle,
	}
	assert.Equal(t, "😃 工商银行卡 (五折: 3 减二: 2) 🟡 - 空闲", cardLine(c))

	c.Status = domain.StatusInStation
	assert.Contains(t, cardLine(c), "🚇")
	assert.Contains(t, cardLine(c), "进站中")

	c.Status = domain.StatusIdle
	c.DailyUsage.A = true
	assert.Contains(t, cardLine(c), "已用五折")
	c.DailyUsage.B = true
	assert.Contains(t, cardLine(c), "今日已完")
	assert.Contains(t, cardLine(c), "😴")
}

func TestCouponEmoji(t *testing.T) {
	c := &domain.Card{}
	assert.Equal(t, "🔴", couponEmoji(c))
	c.Coupons.A = 2
	assert.Equal(t, "🟠", couponEmoji(c))
	c.Coupons.A = 5
	assert.Equal(t, "🟡", couponEmoji(c))
	c.Coupons.A = 10
	assert.Equal(t, "🟢", couponEmoji(c))
}
