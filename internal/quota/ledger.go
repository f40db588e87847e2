// Package quota meters per-account daily consumption and picks the account a
// generation request should run on.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/store"
)

// Kind identifies a metered resource.
type Kind string

const (
	// KindVideoTokens meters estimated video generation tokens.
	KindVideoTokens Kind = "video_tokens"
	// KindImageCount meters generated images (image and banana tasks).
	KindImageCount Kind = "image_count"
)

var (
	ErrQuotaExceeded = errors.New("daily quota exceeded")
	ErrUnknownKind   = errors.New("unknown quota kind")
)

// Ledger tracks per-account daily usage as date-keyed rows. The accounting
// day is the calendar date in the configured timezone; a new day keys a fresh
// row, so counters reset lazily at the boundary without a reset job. All
// read-modify-write cycles for one account run under that account's mutex.
type Ledger struct {
	usage store.UsageStore

	tokenLimit int64
	imageLimit int64
	loc        *time.Location
	now        func() time.Time

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewLedger builds a Ledger. An unknown timezone name falls back to UTC.
func NewLedger(usage store.UsageStore, tokenLimit, imageLimit int64, timezone string) *Ledger {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Ledger{
		usage:      usage,
		tokenLimit: tokenLimit,
		imageLimit: imageLimit,
		loc:        loc,
		now:        time.Now,
		locks:      make(map[uint]*sync.Mutex),
	}
}

// SetNowFunc overrides the clock. Tests use this to cross day boundaries.
func (l *Ledger) SetNowFunc(now func() time.Time) {
	l.now = now
}

// Today returns the current accounting day key.
func (l *Ledger) Today() string {
	return l.now().In(l.loc).Format("2006-01-02")
}

// Location returns the accounting timezone.
func (l *Ledger) Location() *time.Location {
	return l.loc
}

// Limit returns the daily limit for a kind.
func (l *Ledger) Limit(kind Kind) (int64, error) {
	switch kind {
	case KindVideoTokens:
		return l.tokenLimit, nil
	case KindImageCount:
		return l.imageLimit, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func (l *Ledger) accountLock(accountID uint) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[accountID] = lock
	}
	return lock
}

func (l *Ledger) load(ctx context.Context, accountID uint) (*models.DailyUsage, error) {
	day := l.Today()
	usage, err := l.usage.GetUsage(ctx, accountID, day)
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}
	if usage == nil {
		usage = &models.DailyUsage{AccountID: accountID, UsageDate: day}
	}
	return usage, nil
}

func used(usage *models.DailyUsage, kind Kind) int64 {
	if kind == KindVideoTokens {
		return usage.UsedTokens
	}
	return usage.UsedImages
}

func setUsed(usage *models.DailyUsage, kind Kind, value int64) {
	if value < 0 {
		value = 0
	}
	if kind == KindVideoTokens {
		usage.UsedTokens = value
	} else {
		usage.UsedImages = value
	}
}

// Used returns today's consumption of kind for the account.
func (l *Ledger) Used(ctx context.Context, accountID uint, kind Kind) (int64, error) {
	if _, err := l.Limit(kind); err != nil {
		return 0, err
	}

	lock := l.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	usage, err := l.load(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return used(usage, kind), nil
}

// Remaining returns the headroom for kind today, never negative.
func (l *Ledger) Remaining(ctx context.Context, accountID uint, kind Kind) (int64, error) {
	limit, err := l.Limit(kind)
	if err != nil {
		return 0, err
	}
	consumed, err := l.Used(ctx, accountID, kind)
	if err != nil {
		return 0, err
	}
	remaining := limit - consumed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TryDebit atomically checks and records n units against today's limit.
// On shortfall it returns ErrQuotaExceeded and records nothing.
func (l *Ledger) TryDebit(ctx context.Context, accountID uint, kind Kind, n int64) error {
	limit, err := l.Limit(kind)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("debit amount must not be negative, got %d", n)
	}

	lock := l.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	usage, err := l.load(ctx, accountID)
	if err != nil {
		return err
	}
	if used(usage, kind)+n > limit {
		return fmt.Errorf("%w: account %d needs %d %s, %d remaining",
			ErrQuotaExceeded, accountID, n, kind, limit-used(usage, kind))
	}
	setUsed(usage, kind, used(usage, kind)+n)
	if err := l.usage.SaveUsage(ctx, usage); err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	return nil
}

// Credit returns n previously debited units. Used never drops below zero, so
// a credit that lands after a day rollover cannot create negative usage.
func (l *Ledger) Credit(ctx context.Context, accountID uint, kind Kind, n int64) error {
	if _, err := l.Limit(kind); err != nil {
		return err
	}
	if n <= 0 {
		return nil
	}

	lock := l.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	usage, err := l.load(ctx, accountID)
	if err != nil {
		return err
	}
	setUsed(usage, kind, used(usage, kind)-n)
	if err := l.usage.SaveUsage(ctx, usage); err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	return nil
}

// Adjust applies an unchecked delta, clamped at zero. It reconciles estimated
// debits against provider-reported actual usage, so it may push consumption
// past the daily limit.
func (l *Ledger) Adjust(ctx context.Context, accountID uint, kind Kind, delta int64) error {
	if _, err := l.Limit(kind); err != nil {
		return err
	}
	if delta == 0 {
		return nil
	}

	lock := l.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	usage, err := l.load(ctx, accountID)
	if err != nil {
		return err
	}
	setUsed(usage, kind, used(usage, kind)+delta)
	if err := l.usage.SaveUsage(ctx, usage); err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	return nil
}
