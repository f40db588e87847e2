package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/store"
)

// Capability is what a request needs from an account.
type Capability string

const (
	CapVideo  Capability = "video"
	CapImage  Capability = "image"
	CapBanana Capability = "banana"
)

var (
	ErrAccountNotFound         = errors.New("account not found or disabled")
	ErrCapabilityNotConfigured = errors.New("account is not configured for this task type")
	ErrNoCapableAccount        = errors.New("no account is configured for this task type")

	// ErrAllAccountsExhausted wraps ErrQuotaExceeded so callers can treat
	// "every account is out of headroom" as a quota failure.
	ErrAllAccountsExhausted = fmt.Errorf("%w: all accounts have exhausted today's quota", ErrQuotaExceeded)
)

// KindFor maps a capability to the quota kind it consumes.
func KindFor(capability Capability) Kind {
	if capability == CapVideo {
		return KindVideoTokens
	}
	return KindImageCount
}

func supports(account *models.Account, capability Capability) bool {
	switch capability {
	case CapVideo:
		return account.HasVideo()
	case CapImage:
		return account.HasImage()
	case CapBanana:
		return account.HasBanana()
	}
	return false
}

// Selector picks the account a request should run on.
type Selector struct {
	accounts store.AccountStore
	ledger   *Ledger
}

func NewSelector(accounts store.AccountStore, ledger *Ledger) *Selector {
	return &Selector{accounts: accounts, ledger: ledger}
}

// Select resolves the target account. An explicit id must name an active
// account with the capability and enough headroom for needed units. With no
// explicit id, the active capable account with the most remaining headroom
// wins; ties break toward the lowest id so selection is deterministic.
func (s *Selector) Select(ctx context.Context, capability Capability, explicitID *uint, needed int64) (*models.Account, error) {
	kind := KindFor(capability)

	if explicitID != nil {
		account, err := s.accounts.GetAccount(ctx, *explicitID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: id %d", ErrAccountNotFound, *explicitID)
			}
			return nil, err
		}
		if !account.IsActive {
			return nil, fmt.Errorf("%w: id %d", ErrAccountNotFound, *explicitID)
		}
		if !supports(account, capability) {
			return nil, fmt.Errorf("%w: account %q lacks %s", ErrCapabilityNotConfigured, account.Name, capability)
		}
		remaining, err := s.ledger.Remaining(ctx, account.ID, kind)
		if err != nil {
			return nil, err
		}
		if remaining < needed || remaining == 0 {
			return nil, fmt.Errorf("%w: account %q has %d %s remaining, needs %d",
				ErrQuotaExceeded, account.Name, remaining, kind, needed)
		}
		return account, nil
	}

	accounts, err := s.accounts.ListAccounts(ctx, true)
	if err != nil {
		return nil, err
	}

	var (
		best          *models.Account
		bestRemaining int64 = -1
		anyCapable    bool
	)
	for i := range accounts {
		account := &accounts[i]
		if !supports(account, capability) {
			continue
		}
		anyCapable = true
		remaining, err := s.ledger.Remaining(ctx, account.ID, kind)
		if err != nil {
			return nil, err
		}
		if remaining < needed || remaining == 0 {
			continue
		}
		// accounts arrive ordered by id, so a strict > keeps the lowest id on ties
		if remaining > bestRemaining {
			best = account
			bestRemaining = remaining
		}
	}

	if best == nil {
		if !anyCapable {
			return nil, fmt.Errorf("%w: %s", ErrNoCapableAccount, capability)
		}
		return nil, ErrAllAccountsExhausted
	}
	return best, nil
}
