package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/genstudio/backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, tokenLimit, imageLimit int64) *Ledger {
	t.Helper()
	return NewLedger(store.NewMemoryStore(), tokenLimit, imageLimit, "UTC")
}

func TestLedgerTryDebit(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, 1000, 10)

	require.NoError(t, ledger.TryDebit(ctx, 1, KindVideoTokens, 600))

	remaining, err := ledger.Remaining(ctx, 1, KindVideoTokens)
	require.NoError(t, err)
	assert.Equal(t, int64(400), remaining)

	// shortfall leaves the counter untouched
	err = ledger.TryDebit(ctx, 1, KindVideoTokens, 500)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	remaining, err = ledger.Remaining(ctx, 1, KindVideoTokens)
	require.NoError(t, err)
	assert.Equal(t, int64(400), remaining)

	// exact fit is allowed
	require.NoError(t, ledger.TryDebit(ctx, 1, KindVideoTokens, 400))
	err = ledger.TryDebit(ctx, 1, KindVideoTokens, 1)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestLedgerKindsAreIndependent(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, 1000, 10)

	require.NoError(t, ledger.TryDebit(ctx, 1, KindVideoTokens, 1000))

	remaining, err := ledger.Remaining(ctx, 1, KindImageCount)
	require.NoError(t, err)
	assert.Equal(t, int64(10), remaining)

	// other accounts are unaffected too
	remaining, err = ledger.Remaining(ctx, 2, KindVideoTokens)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), remaining)
}

func TestLedgerUnknownKind(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, 1000, 10)

	err := ledger.TryDebit(ctx, 1, Kind("bogus"), 1)
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = ledger.Remaining(ctx, 1, Kind("bogus"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestLedgerCreditClampsAtZero(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, 1000, 10)

	require.NoError(t, ledger.TryDebit(ctx, 1, KindImageCount, 4))
	require.NoError(t, ledger.Credit(ctx, 1, KindImageCount, 10))

	used, err := ledger.Used(ctx, 1, KindImageCount)
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)
}

func TestLedgerAdjustIsUnchecked(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, 1000, 10)

	require.NoError(t, ledger.TryDebit(ctx, 1, KindVideoTokens, 900))

	// provider reported more actual usage than estimated; the day may overrun
	require.NoError(t, ledger.Adjust(ctx, 1, KindVideoTokens, 300))

	used, err := ledger.Used(ctx, 1, KindVideoTokens)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), used)

	remaining, err := ledger.Remaining(ctx, 1, KindVideoTokens)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)

	// negative adjustment clamps at zero
	require.NoError(t, ledger.Adjust(ctx, 1, KindVideoTokens, -2000))
	used, err = ledger.Used(ctx, 1, KindVideoTokens)
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)
}

func TestLedgerDayRollover(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, 1000, 10)

	current := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	var clockMu sync.Mutex
	ledger.SetNowFunc(func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return current
	})

	require.NoError(t, ledger.TryDebit(ctx, 1, KindVideoTokens, 1000))
	err := ledger.TryDebit(ctx, 1, KindVideoTokens, 1)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// cross midnight: a fresh day keys a fresh row
	clockMu.Lock()
	current = current.Add(20 * time.Minute)
	clockMu.Unlock()

	remaining, err := ledger.Remaining(ctx, 1, KindVideoTokens)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), remaining)
	require.NoError(t, ledger.TryDebit(ctx, 1, KindVideoTokens, 1000))
}

func TestLedgerConcurrentDebitsDoNotOvershoot(t *testing.T) {
	ctx := context.Background()
	const (
		limit   = 100
		workers = 50
		debit   = 3
	)
	ledger := newTestLedger(t, limit, 10)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.TryDebit(ctx, 1, KindVideoTokens, debit); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	used, err := ledger.Used(ctx, 1, KindVideoTokens)
	require.NoError(t, err)
	assert.Equal(t, int64(succeeded*debit), used)
	assert.LessOrEqual(t, used, int64(limit))
	assert.Equal(t, limit/debit, succeeded)
}
