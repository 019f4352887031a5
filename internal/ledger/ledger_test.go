package ledger

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shinku1014/metro-card-bot/internal/domain"
	"github.com/Shinku1014/metro-card-bot/internal/store"
)

const testUser int64 = 12345

// newTestLedger builds a ledger over a throwaway store with a settable
// clock. Mutate *clock to cross day and month boundaries.
func newTestLedger(t *testing.T, start time.Time) (*Ledger, *store.Store, *time.Time) {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "cards.json"))
	clock := new(time.Time)
	*clock = start
	l := NewWithClock(st, func() time.Time { return *clock })
	return l, st, clock
}

func may(day, hour int) time.Time {
	return time.Date(2024, 5, day, hour, 0, 0, 0, time.UTC)
}

func mustCard(t *testing.T, l *Ledger, name string) *domain.Card {
	t.Helper()
	require.NoError(t, l.AddCard(testUser, name))
	cards := l.GetCards(testUser)
	for _, c := range cards {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("card %q not found after AddCard", name)
	return nil
}

func TestAddCardInitialGrant(t *testing.T) {
	l, _, _ := newTestLedger(t, may(1, 9))
	c := mustCard(t, l, "工商银行卡")

	assert.Equal(t, domain.InitialCouponsA, c.Coupons.A)
	require.Len(t, c.Coupons.B, 1)
	assert.Equal(t, "2024-05", c.Coupons.B[0].Month)
	assert.Equal(t, domain.MonthlyCouponsB, c.Coupons.B[0].Count)
	assert.Equal(t, domain.StatusIdle, c.Status)
	assert.False(t, c.DailyUsage.A)
	assert.False(t, c.DailyUsage.B)
	assert.Equal(t, "2024-05-01", c.DailyUsage.Date)
}

func TestAddCardDuplicateName(t *testing.T) {
	l, _, _ := newTestLedger(t, may(1, 9))
	require.NoError(t, l.AddCard(testUser, "X"))

	err := l.AddCard(testUser, "X")
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.Len(t, l.GetCards(testUser), 1)
}

func TestAddCardNameValidation(t *testing.T) {
	l, _, _ := newTestLedger(t, may(1, 9))

	assert.ErrorIs(t, l.AddCard(testUser, ""), ErrNameEmpty)
	assert.ErrorIs(t, l.AddCard(testUser, strings.Repeat("卡", domain.MaxCardNameLen+1)), ErrNameTooLong)
	// exactly 20 runes is fine
	assert.NoError(t, l.AddCard(testUser, strings.Repeat("卡", domain.MaxCardNameLen)))
}

func TestAddCardsBulk(t *testing.T) {
	l, _, _ := newTestLedger(t, may(1, 9))
	require.NoError(t, l.AddCard(testUser, "B"))

	results, err := l.AddCards(testUser, []string{"A", "B", "C"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrDuplicateName)
	assert.NoError(t, results[2].Err)

	cards := l.GetCards(testUser)
	assert.Len(t, cards, 3)

	// ids must not collide even when the clock never ticks
	seen := map[string]bool{}
	for _, c := range cards {
		assert.False(t, seen[c.ID], "duplicate card id %s", c.ID)
		seen[c.ID] = true
	}
}

func TestAddCardsBulkLimit(t *testing.T) {
	l, _, _ := newTestLedger(t, may(1, 9))

	names := make([]string, domain.MaxBatchAdd+1)
	for i := range names {
		names[i] = strings.Repeat("x", i+1)
	}
	_, err := l.AddCards(testUser, names)
	assert.ErrorIs(t, err, ErrTooManyCards)
	assert.Empty(t, l.GetCards(testUser))
}

func TestDeleteCard(t *testing.T) {
	l, _, _ := newTestLedger(t, may(1, 9))
	c := mustCard(t, l, "X")

	assert.False(t, l.DeleteCard(testUser, "nope"))
	assert.True(t, l.DeleteCard(testUser, c.ID))
	assert.Empty(t, l.GetCards(testUser))
}

func TestCardOrderPreserved(t *testing.T) {
	l, _, clock := newTestLedger(t, may(1, 9))
	for _, name := range []string{"一", "二", "三"} {
		require.NoError(t, l.AddCard(testUser, name))
		*clock = clock.Add(time.Second)
	}

	cards := l.GetCards(testUser)
	require.Len(t, cards, 3)
	assert.Equal(t, "一", cards[0].Name)
	assert.Equal(t, "二", cards[1].Name)
	assert.Equal(t, "三", cards[2].Name)
}

func TestConsumeAAcrossDays(t *testing.T) {
	l, _, clock := newTestLedger(t, may(1, 9))
	c := mustCard(t, l, "X")

	for day := 1; day <= 5; day++ {
		*clock = may(day, 9)
		receipt, err := l.ConsumeCoupon(testUser, c.ID, domain.CouponA)
		require.NoError(t, err, "day %d", day)
		assert.Equal(t, domain.InitialCouponsA-day, receipt.Remaining)
	}

	cards := l.GetCards(testUser)
	assert.Equal(t, 5, cards[0].Coupons.A)

	// second use on the same day is gated
	_, err := l.ConsumeCoupon(testUser, c.ID, domain.CouponA)
	assert.ErrorIs(t, err, ErrAlreadyUsedToday)
	assert.Equal(t, 5, l.GetCards(testUser)[0].Coupons.A)
}

func TestCouponAPoolNeverRefills(t *testing.T) {
	l, _, clock := newTestLedger(t, may(1, 9))
	c := mustCard(t, l, "X")

	*clock = may(20, 9)
	_, err := l.ConsumeCoupon(testUser, c.ID, domain.CouponA)
	require.NoError(t, err)

	// month rollover refills B but must not touch A
	*clock = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	cards := l.GetCards(testUser)
	assert.Equal(t, domain.InitialCouponsA-1, cards[0].Coupons.A)
}

func TestDailyGatesIndependent(t *testing.T) {
	l, _, _ := newTestLedger(t, may(1, 9))
	c := mustCard(t, l, "X")

	_, err := l.ConsumeCoupon(testUser, c.ID, domain.CouponA)
	require.NoError(t, err)

	// A is spent for today, B still available
	_, err = l.ConsumeCoupon(testUser, c.ID, domain.CouponB)
	require.NoError(t, err)

	card := l.GetCards(testUser)[0]
	assert.True(t, card.DailyUsage.A)
	assert.True(t, card.DailyUsage.B)
}

func TestDailyGateResetsNextDay(t *testing.T) {
	l, _, clock := newTestLedger(t, may(1, 9))
	c := mustCard(t, l, "X")

	_, err := l.ConsumeCoupon(testUser, c.ID, domain.CouponB)
	require.NoError(t, err)

	*clock = may(2, 7)
	card := l.GetCards(testUser)[0]
	assert.False(t, card.DailyUsage.A)
	assert.False(t, card.DailyUsage.B)
	assert.Equal(t, "2024-05-02", card.DailyUsage.Date)
}

func TestMonthRolloverRefillsAndPrunes(t *testing.T) {
	l, _, clock := newTestLedger(t, may(1, 9))
	mustCard(t, l, "X")

	// untouched 2024-05 batch lapses, fresh 2024-06 batch appears
	*clock = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	cards := l.GetCards(testUser)
	require.Len(t, cards[0].Coupons.B, 1)
	assert.Equal(t, "2024-06", cards[0].Coupons.B[0].Month)
	assert.Equal(t, domain.MonthlyCouponsB, cards[0].Coupons.B[0].Count)
	assert.Equal(t, domain.MonthlyCouponsB, cards[0].TotalB())
}

func TestMonthRolloverExactlyOneBatch(t *testing.T) {
	l, _, clock := newTestLedger(t, may(1, 9))
	mustCard(t, l, "X")

	// repeated reads in the new month must not stack batches
	*clock = time.Date(2024, 6, 1, 0, 5, 0, 0, time.UTC)
	l.GetCards(testUser)
	l.GetCards(testUser)
	cards := l.GetCards(testUser)
	require.Len(t, cards[0].Coupons.B, 1)
}

func TestConsumeBOldestBatchFirst(t *testing.T) {
	batches := []domain.CouponBatch{
		{Month: "2024-06", Count: 5},
		{Month: "2024-04", Count: 0},
		{Month: "2024-05", Count: 2},
	}
	b := oldestBatch(batches)
	require.NotNil(t, b)
	assert.Equal(t, "2024-05", b.Month)

	l, _, _ := newTestLedger(t, may(1, 9))
	card := &domain.Card{Coupons: domain.Coupons{B: batches}}
	receipt, err := l.consumeB(card)
	require.NoError(t, err)
	assert.Equal(t, "2024-05", receipt.BatchMonth)
	assert.Equal(t, 6, receipt.Remaining)
}

func TestConsumeExhausted(t *testing.T) {
	l, st, _ := newTestLedger(t, may(1, 9))
	c := mustCard(t, l, "X")
	require.True(t, l.UpdateStatus(testUser, c.ID, domain.StatusInStation))

	// drain both pools behind the ledger's back
	db := st.Load()
	card := db["12345"].Cards[0]
	card.Coupons.A = 0
	for i := range card.Coupons.B {
		card.Coupons.B[i].Count = 0
	}
	require.NoError(t, st.Save(db))

	_, err := l.ConsumeCoupon(testUser, c.ID, domain.CouponA)
	assert.ErrorIs(t, err, ErrExhausted)
	_, err = l.ConsumeCoupon(testUser, c.ID, domain.CouponB)
	assert.ErrorIs(t, err, ErrExhausted)

	// failed consumption must not end the session
	assert.Equal(t, domain.StatusInStation, l.GetCards(testUser)[0].Status)
}

func TestConsumeUnknownCardAndType(t *testing.T) {
	l, _, _ := newTestLedger(t, may(1, 9))
	c := mustCard(t, l, "X")

	_, err := l.ConsumeCoupon(testUser, "nope", domain.CouponA)
	assert.ErrorIs(t, err, ErrCardNotFound)

	_, err = l.ConsumeCoupon(testUser, c.ID, "C")
	assert.ErrorIs(t, err, ErrInvalidCouponType)
}

func TestConsumeEndsSession(t *testing.T) {
	l, _, _ := newTestLedger(t, may(1, 9))
	c := mustCard(t, l, "X")
	require.True(t, l.UpdateStatus(testUser, c.ID, domain.StatusInStation))
	require.True(t, l.SetReminderSent(testUser, c.ID, true))

	receipt, err := l.ConsumeCoupon(testUser, c.ID, domain.CouponB)
	require.NoError(t, err)
	assert.Equal(t, "2024-05", receipt.BatchMonth)
	assert.Equal(t, domain.MonthlyCouponsB-1, receipt.Remaining)

	card := l.GetCards(testUser)[0]
	assert.Equal(t, domain.StatusIdle, card.Status)
	assert.Nil(t, card.CheckInTime)
	assert.False(t, card.ReminderSent)
	require.NotNil(t, card.LastUsed)
}

func TestUpdateStatusCheckIn(t *testing.T) {
	l, _, clock := newTestLedger(t, may(1, 9))
	c := mustCard(t, l, "X")

	assert.False(t, l.UpdateStatus(testUser, "nope", domain.StatusInStation))

	*clock = may(1, 10)
	require.True(t, l.UpdateStatus(testUser, c.ID, domain.StatusInStation))
	card := l.GetCards(testUser)[0]
	assert.Equal(t, domain.StatusInStation, card.Status)
	require.NotNil(t, card.CheckInTime)
	assert.True(t, card.CheckInTime.Equal(may(1, 10)))
	assert.False(t, card.ReminderSent)

	require.True(t, l.UpdateStatus(testUser, c.ID, domain.StatusIdle))
	card = l.GetCards(testUser)[0]
	assert.Equal(t, domain.StatusIdle, card.Status)
	assert.Nil(t, card.CheckInTime)
	assert.False(t, card.ReminderSent)
	// status transitions never spend coupons
	assert.Equal(t, domain.InitialCouponsA, card.Coupons.A)
	assert.Equal(t, domain.MonthlyCouponsB, card.TotalB())
}

func TestResetAllStatus(t *testing.T) {
	l, _, _ := newTestLedger(t, may(1, 9))
	c1 := mustCard(t, l, "一")
	c2 := mustCard(t, l, "二")
	require.True(t, l.UpdateStatus(testUser, c1.ID, domain.StatusInStation))
	require.True(t, l.UpdateStatus(testUser, c2.ID, domain.StatusInStation))
	require.True(t, l.SetReminderSent(testUser, c1.ID, true))

	_, err := l.ConsumeCoupon(testUser, c2.ID, domain.CouponA)
	require.NoError(t, err)
	require.True(t, l.UpdateStatus(testUser, c2.ID, domain.StatusInStation))

	l.ResetAllStatus(testUser)

	for _, card := range l.GetCards(testUser) {
		assert.Equal(t, domain.StatusIdle, card.Status)
		assert.False(t, card.ReminderSent)
		assert.Nil(t, card.CheckInTime)
	}
	// coupon accounting untouched
	assert.Equal(t, domain.InitialCouponsA-1, l.GetCards(testUser)[1].Coupons.A)
}

func TestLegacyStatusNormalized(t *testing.T) {
	l, st, _ := newTestLedger(t, may(1, 9))
	mustCard(t, l, "X")

	db := st.Load()
	db["12345"].Cards[0].Status = domain.StatusUsedLegacy
	require.NoError(t, st.Save(db))

	assert.Equal(t, domain.StatusIdle, l.GetCards(testUser)[0].Status)
}

func TestMonthLatchUpdated(t *testing.T) {
	l, _, clock := newTestLedger(t, may(1, 9))
	mustCard(t, l, "X")

	u := l.GetUserData(testUser)
	assert.Equal(t, 5, u.CurrentMonth)
	assert.Equal(t, 2024, u.CurrentYear)

	*clock = time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	l.GetCards(testUser)

	u = l.GetUserData(testUser)
	assert.Equal(t, 1, u.CurrentMonth)
	assert.Equal(t, 2025, u.CurrentYear)
}

func TestSetReminderSent(t *testing.T) {
	l, _, _ := newTestLedger(t, may(1, 9))
	c := mustCard(t, l, "X")
	require.True(t, l.UpdateStatus(testUser, c.ID, domain.StatusInStation))

	assert.False(t, l.SetReminderSent(testUser, "nope", true))
	assert.False(t, l.SetReminderSent(99999, c.ID, true))

	require.True(t, l.SetReminderSent(testUser, c.ID, true))
	card := l.GetCards(testUser)[0]
	assert.True(t, card.ReminderSent)
	// no other side effects
	assert.Equal(t, domain.StatusInStation, card.Status)
	assert.Equal(t, domain.InitialCouponsA, card.Coupons.A)
}

func TestListAllUsersCards(t *testing.T) {
	l, _, _ := newTestLedger(t, may(1, 9))
	require.NoError(t, l.AddCard(111, "甲"))
	require.NoError(t, l.AddCard(222, "乙"))

	all := l.ListAllUsersCards()
	require.Len(t, all, 2)

	byUser := map[string]int{}
	for _, uc := range all {
		byUser[uc.UserID] = len(uc.Cards)
	}
	assert.Equal(t, 1, byUser["111"])
	assert.Equal(t, 1, byUser["222"])
}
