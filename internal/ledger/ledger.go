package ledger

import (
	"errors"
	"strconv"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/Shinku1014/metro-card-bot/internal/domain"
	"github.com/Shinku1014/metro-card-bot/internal/store"
)

// Policy violations surfaced to the user; the transport maps them to
// human-readable replies.
var (
	ErrCardNotFound      = errors.New("card not found")
	ErrDuplicateName     = errors.New("card name already exists")
	ErrNameEmpty         = errors.New("card name is empty")
	ErrNameTooLong       = errors.New("card name too long")
	ErrAlreadyUsedToday  = errors.New("coupon already used today")
	ErrExhausted         = errors.New("coupons exhausted")
	ErrInvalidCouponType = errors.New("invalid coupon type")
	ErrTooManyCards      = errors.New("too many cards in one batch")
)

// Ledger owns all card state. Every operation loads the full database,
// normalizes the touched user's record, applies the mutation and writes the
// database back. Wall clock is injected so day/month boundaries are testable.
type Ledger struct {
	store *store.Store
	now   func() time.Time
}

func New(st *store.Store) *Ledger {
	return NewWithClock(st, time.Now)
}

func NewWithClock(st *store.Store, now func() time.Time) *Ledger {
	return &Ledger{store: st, now: now}
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func (l *Ledger) save(db domain.Database) {
	if err := l.store.Save(db); err != nil {
		log.Errorf("ledger: save: %v", err)
	}
}

// ensureUser returns the user's record, creating a default one on first
// contact. The returned bool reports whether the database changed.
func (l *Ledger) ensureUser(db domain.Database, key string) (*domain.UserData, bool) {
	if u, ok := db[key]; ok {
		return u, false
	}
	now := l.now()
	u := &domain.UserData{
		Cards:        []*domain.Card{},
		CurrentMonth: int(now.Month()),
		CurrentYear:  now.Year(),
	}
	db[key] = u
	return u, true
}

// normalize brings one user's record up to date for "now": resets the daily
// gates on date change, grants the current month's B batch, prunes stale
// batches and drops the legacy used_today status. Idempotent; reports
// whether anything changed. Running it at the start of every operation means
// correctness never depends on which entry point crosses a day or month
// boundary first.
func (l *Ledger) normalize(u *domain.UserData, now time.Time) bool {
	changed := false
	today := domain.DayKey(now)
	month := domain.MonthKey(now)

	for _, c := range u.Cards {
		if c.DailyUsage.Date != today {
			c.DailyUsage = domain.DailyUsage{Date: today}
			changed = true
		}

		hasCurrent := false
		kept := c.Coupons.B[:0]
		for _, b := range c.Coupons.B {
			if b.Month == month {
				hasCurrent = true
				kept = append(kept, b)
			} else {
				// unused monthly coupons lapse, no rollover
				changed = true
			}
		}
		c.Coupons.B = kept
		if !hasCurrent {
			c.Coupons.B = append(c.Coupons.B, domain.CouponBatch{Month: month, Count: domain.MonthlyCouponsB})
			changed = true
		}

		if c.Status == domain.StatusUsedLegacy {
			c.Status = domain.StatusIdle
			changed = true
		}
	}

	if u.CurrentMonth != int(now.Month()) || u.CurrentYear != now.Year() {
		u.CurrentMonth = int(now.Month())
		u.CurrentYear = now.Year()
		changed = true
	}
	return changed
}

func findCard(u *domain.UserData, cardID string) *domain.Card {
	for _, c := range u.Cards {
		if c.ID == cardID {
			return c
		}
	}
	return nil
}

// GetUserData returns the user's record, creating a default one on first
// contact.
func (l *Ledger) GetUserData(userID int64) *domain.UserData {
	db := l.store.Load()
	u, created := l.ensureUser(db, userKey(userID))
	if created {
		l.save(db)
	}
	return u
}

// GetCards returns the user's cards after normalization, in insertion order.
func (l *Ledger) GetCards(userID int64) []*domain.Card {
	db := l.store.Load()
	u, dirty := l.ensureUser(db, userKey(userID))
	if l.normalize(u, l.now()) {
		dirty = true
	}
	if dirty {
		l.save(db)
	}
	return u.Cards
}

func validateName(name string) error {
	if name == "" {
		return ErrNameEmpty
	}
	if utf8.RuneCountInString(name) > domain.MaxCardNameLen {
		return ErrNameTooLong
	}
	return nil
}

// nextCardID derives an id from the current timestamp, nudging it past any
// id already taken (several cards can be created within one tick, e.g. by a
// batch add).
func nextCardID(u *domain.UserData, now time.Time) string {
	base := now.UnixNano()
	for {
		id := strconv.FormatInt(base, 10)
		if findCard(u, id) == nil {
			return id
		}
		base++
	}
}

func (l *Ledger) newCard(u *domain.UserData, name string, now time.Time) *domain.Card {
	return &domain.Card{
		ID:   nextCardID(u, now),
		Name: name,
		Coupons: domain.Coupons{
			A: domain.InitialCouponsA,
			B: []domain.CouponBatch{{Month: domain.MonthKey(now), Count: domain.MonthlyCouponsB}},
		},
		DailyUsage: domain.DailyUsage{Date: domain.DayKey(now)},
		Status:     domain.StatusIdle,
		CreatedAt:  now,
	}
}

func (l *Ledger) addCard(u *domain.UserData, name string, now time.Time) error {
	if err := validateName(name); err != nil {
		return err
	}
	for _, c := range u.Cards {
		if c.Name == name {
			return ErrDuplicateName
		}
	}
	u.Cards = append(u.Cards, l.newCard(u, name, now))
	return nil
}

// AddCard creates a card with the initial coupon grant. The name must be
// unique for this user and at most 20 characters.
func (l *Ledger) AddCard(userID int64, name string) error {
	db := l.store.Load()
	u, dirty := l.ensureUser(db, userKey(userID))
	if l.normalize(u, l.now()) {
		dirty = true
	}
	err := l.addCard(u, name, l.now())
	if err == nil {
		dirty = true
	}
	if dirty {
		l.save(db)
	}
	return err
}

// AddResult is the per-name outcome of a bulk add.
type AddResult struct {
	Name string
	Err  error
}

// AddCards adds up to MaxBatchAdd cards in one shot, reporting success or
// failure per name. One name failing does not stop the rest.
func (l *Ledger) AddCards(userID int64, names []string) ([]AddResult, error) {
	if len(names) > domain.MaxBatchAdd {
		return nil, ErrTooManyCards
	}
	db := l.store.Load()
	u, dirty := l.ensureUser(db, userKey(userID))
	if l.normalize(u, l.now()) {
		dirty = true
	}

	results := make([]AddResult, 0, len(names))
	for _, name := range names {
		err := l.addCard(u, name, l.now())
		if err == nil {
			dirty = true
		}
		results = append(results, AddResult{Name: name, Err: err})
	}
	if dirty {
		l.save(db)
	}
	return results, nil
}

// DeleteCard removes a card by id, preserving the order of the rest.
func (l *Ledger) DeleteCard(userID int64, cardID string) bool {
	db := l.store.Load()
	u, dirty := l.ensureUser(db, userKey(userID))
	if l.normalize(u, l.now()) {
		dirty = true
	}

	found := false
	for i, c := range u.Cards {
		if c.ID == cardID {
			u.Cards = append(u.Cards[:i], u.Cards[i+1:]...)
			found = true
			break
		}
	}
	if found {
		dirty = true
	}
	if dirty {
		l.save(db)
	}
	return found
}

// UpdateStatus moves a card between idle and in_station. Checking in stamps
// CheckInTime and arms the timeout reminder; any return to idle disarms it.
// Coupon accounting is not touched here, only ConsumeCoupon spends coupons.
func (l *Ledger) UpdateStatus(userID int64, cardID, newStatus string) bool {
	db := l.store.Load()
	u, dirty := l.ensureUser(db, userKey(userID))
	if l.normalize(u, l.now()) {
		dirty = true
	}

	c := findCard(u, cardID)
	if c == nil {
		if dirty {
			l.save(db)
		}
		return false
	}

	now := l.now()
	c.Status = newStatus
	c.LastUsed = &now
	if newStatus == domain.StatusInStation {
		checkIn := now
		c.CheckInTime = &checkIn
		c.ReminderSent = false
	} else {
		c.CheckInTime = nil
		c.ReminderSent = false
	}
	l.save(db)
	return true
}

// Receipt reports what a successful ConsumeCoupon spent. Remaining is the
// pool left for the consumed type (total across batches for B); BatchMonth
// names the B batch that was decremented.
type Receipt struct {
	Remaining  int
	BatchMonth string
}

// ConsumeCoupon spends one coupon of the given type and returns the card to
// idle. Each type is limited to one use per calendar day.
func (l *Ledger) ConsumeCoupon(userID int64, cardID, couponType string) (Receipt, error) {
	db := l.store.Load()
	u, dirty := l.ensureUser(db, userKey(userID))
	// normalize doubles as the defensive daily-reset in case the date rolled
	// over since the menu was rendered
	if l.normalize(u, l.now()) {
		dirty = true
	}

	c := findCard(u, cardID)
	if c == nil {
		if dirty {
			l.save(db)
		}
		return Receipt{}, ErrCardNotFound
	}

	var receipt Receipt
	var err error
	switch couponType {
	case domain.CouponA:
		receipt, err = l.consumeA(c)
	case domain.CouponB:
		receipt, err = l.consumeB(c)
	default:
		err = ErrInvalidCouponType
	}

	if err != nil {
		if dirty {
			l.save(db)
		}
		return Receipt{}, err
	}

	now := l.now()
	c.Status = domain.StatusIdle
	c.CheckInTime = nil
	c.ReminderSent = false
	c.LastUsed = &now
	l.save(db)
	return receipt, nil
}

func (l *Ledger) consumeA(c *domain.Card) (Receipt, error) {
	if c.DailyUsage.A {
		return Receipt{}, ErrAlreadyUsedToday
	}
	if c.Coupons.A <= 0 {
		return Receipt{}, ErrExhausted
	}
	c.Coupons.A--
	c.DailyUsage.A = true
	return Receipt{Remaining: c.Coupons.A}, nil
}

func (l *Ledger) consumeB(c *domain.Card) (Receipt, error) {
	if c.DailyUsage.B {
		return Receipt{}, ErrAlreadyUsedToday
	}
	batch := oldestBatch(c.Coupons.B)
	if batch == nil {
		return Receipt{}, ErrExhausted
	}
	batch.Count--
	c.DailyUsage.B = true
	return Receipt{Remaining: c.TotalB(), BatchMonth: batch.Month}, nil
}

// oldestBatch picks the batch with the smallest month key among those with
// coupons left, so credits closest to expiry are spent first.
func oldestBatch(batches []domain.CouponBatch) *domain.CouponBatch {
	var best *domain.CouponBatch
	for i := range batches {
		b := &batches[i]
		if b.Count <= 0 {
			continue
		}
		if best == nil || b.Month < best.Month {
			best = b
		}
	}
	return best
}

// ResetAllStatus forces every card of the user back to idle. Administrative
// override, coupon counts are untouched.
func (l *Ledger) ResetAllStatus(userID int64) {
	db := l.store.Load()
	u, _ := l.ensureUser(db, userKey(userID))
	l.normalize(u, l.now())

	for _, c := range u.Cards {
		c.Status = domain.StatusIdle
		c.CheckInTime = nil
		c.ReminderSent = false
	}
	l.save(db)
}

// UserCards pairs a raw user id with that user's cards.
type UserCards struct {
	UserID string
	Cards  []*domain.Card
}

// ListAllUsersCards snapshots every user's cards for the timeout scanner.
// Read-only: no normalization, no writes.
func (l *Ledger) ListAllUsersCards() []UserCards {
	db := l.store.Load()
	out := make([]UserCards, 0, len(db))
	for key, u := range db {
		out = append(out, UserCards{UserID: key, Cards: u.Cards})
	}
	return out
}

// SetReminderSent flips the reminder flag without other side effects.
func (l *Ledger) SetReminderSent(userID int64, cardID string, sent bool) bool {
	db := l.store.Load()
	u, ok := db[userKey(userID)]
	if !ok {
		return false
	}
	c := findCard(u, cardID)
	if c == nil {
		return false
	}
	c.ReminderSent = sent
	l.save(db)
	return true
}
