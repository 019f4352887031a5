package scanner

import (
	"context"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Shinku1014/metro-card-bot/internal/domain"
	"github.com/Shinku1014/metro-card-bot/internal/ledger"
)

// Notifier delivers a checkout reminder to a user. cardID rides along so the
// transport can attach a checkout action to the message.
type Notifier interface {
	Notify(userID int64, text string, cardID string) error
}

// Scanner periodically sweeps all cards for sessions that look like a
// forgotten checkout: in_station past the threshold with no reminder sent
// yet. Each such session gets exactly one reminder; a failed delivery leaves
// the flag unset so the next sweep retries.
type Scanner struct {
	ledger    *ledger.Ledger
	notifier  Notifier
	threshold time.Duration
	now       func() time.Time
}

func New(l *ledger.Ledger, n Notifier, threshold time.Duration) *Scanner {
	return NewWithClock(l, n, threshold, time.Now)
}

func NewWithClock(l *ledger.Ledger, n Notifier, threshold time.Duration, now func() time.Time) *Scanner {
	return &Scanner{ledger: l, notifier: n, threshold: threshold, now: now}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Scanner) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs a single pass over all users' cards.
func (s *Scanner) Sweep() {
	now := s.now()

	for _, uc := range s.ledger.ListAllUsersCards() {
		userID, err := strconv.ParseInt(uc.UserID, 10, 64)
		if err != nil {
			continue
		}

		for _, c := range uc.Cards {
			if c.Status != domain.StatusInStation || c.ReminderSent || c.CheckInTime == nil {
				continue
			}
			elapsed := now.Sub(*c.CheckInTime)
			if elapsed < s.threshold {
				continue
			}

			text := fmt.Sprintf("⏰ 提醒：您的卡片「%s」已进站 %d 分钟，请确认是否已出站。",
				c.Name, int(elapsed.Minutes()))
			if err := s.notifier.Notify(userID, text, c.ID); err != nil {
				// leave the flag unset so the next sweep retries
				log.Errorf("scanner: notify user %d card %s: %v", userID, c.ID, err)
				continue
			}
			s.ledger.SetReminderSent(userID, c.ID, true)
			log.Infof("scanner: timeout reminder sent, user %d card %s", userID, c.Name)
		}
	}
}
