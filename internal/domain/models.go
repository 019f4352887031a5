package domain

import "time"

// Card status values. "used_today" is a leftover from the old monthly-usage
// data shape and is normalized to idle on read.
const (
	StatusIdle       = "idle"
	StatusInStation  = "in_station"
	StatusUsedLegacy = "used_today"
)

// Coupon types.
const (
	CouponA = "A" // 五折: fixed pool of 10 per card, never refilled
	CouponB = "B" // 减二: 5 per month, current month only
)

const (
	InitialCouponsA = 10
	MonthlyCouponsB = 5
	MaxCardNameLen  = 20
	MaxBatchAdd     = 10
)

// CouponBatch is one month's grant of type-B coupons. Month is a "YYYY-MM"
// key; only the batch for the current month is valid.
type CouponBatch struct {
	Month string `json:"monthKey"`
	Count int    `json:"count"`
}

type Coupons struct {
	A int           `json:"A"`
	B []CouponBatch `json:"B"`
}

// DailyUsage gates each coupon type to one use per calendar day. Date is a
// "YYYY-MM-DD" key; both flags reset when it no longer matches today.
type DailyUsage struct {
	A    bool   `json:"A"`
	B    bool   `json:"B"`
	Date string `json:"date"`
}

type Card struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Coupons      Coupons    `json:"coupons"`
	DailyUsage   DailyUsage `json:"dailyUsage"`
	Status       string     `json:"status"`
	CheckInTime  *time.Time `json:"checkInTime,omitempty"`
	ReminderSent bool       `json:"reminderSent"`
	LastUsed     *time.Time `json:"lastUsed"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// TotalB sums the remaining type-B coupons across all batches.
func (c *Card) TotalB() int {
	total := 0
	for _, b := range c.Coupons.B {
		total += b.Count
	}
	return total
}

// UserData is one user's record. CurrentMonth/CurrentYear remember the last
// month this record was normalized in.
type UserData struct {
	Cards        []*Card `json:"cards"`
	CurrentMonth int     `json:"currentMonth"`
	CurrentYear  int     `json:"currentYear"`
}

// Database maps telegram user id (as string) to that user's record.
type Database map[string]*UserData

// MonthKey formats t as a "YYYY-MM" batch key.
func MonthKey(t time.Time) string { return t.Format("2006-01") }

// DayKey formats t as a "YYYY-MM-DD" daily-usage key.
func DayKey(t time.Time) string { return t.Format("2006-01-02") }
