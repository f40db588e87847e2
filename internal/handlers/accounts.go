package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/genstudio/backend/internal/database"
	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/quota"
	"github.com/genstudio/backend/internal/store"
)

type AccountHandler struct {
	store  store.Store
	ledger *quota.Ledger
}

func NewAccountHandler(s store.Store, ledger *quota.Ledger) *AccountHandler {
	return &AccountHandler{store: s, ledger: ledger}
}

// AccountQuota is one account's daily quota snapshot. API keys never leave
// the server; only their presence is reported.
type AccountQuota struct {
	ID              uint   `json:"id"`
	Name            string `json:"name"`
	IsActive        bool   `json:"is_active"`
	VideoModelID    string `json:"video_model_id"`
	ImageModelID    string `json:"image_model_id"`
	BananaModelName string `json:"banana_model_name"`
	HasAPIKey       bool   `json:"has_api_key"`
	HasBananaKey    bool   `json:"has_banana_key"`

	UsedTokens      int64 `json:"used_tokens"`
	RemainingTokens int64 `json:"remaining_tokens"`
	TokenLimit      int64 `json:"token_limit"`
	UsedImages      int64 `json:"used_images"`
	RemainingImages int64 `json:"remaining_images"`
	ImageLimit      int64 `json:"image_limit"`
}

func (h *AccountHandler) quotaSnapshot(c *fiber.Ctx, account *models.Account) (*AccountQuota, error) {
	ctx := c.Context()

	usedTokens, err := h.ledger.Used(ctx, account.ID, quota.KindVideoTokens)
	if err != nil {
		return nil, err
	}
	remainingTokens, err := h.ledger.Remaining(ctx, account.ID, quota.KindVideoTokens)
	if err != nil {
		return nil, err
	}
	usedImages, err := h.ledger.Used(ctx, account.ID, quota.KindImageCount)
	if err != nil {
		return nil, err
	}
	remainingImages, err := h.ledger.Remaining(ctx, account.ID, quota.KindImageCount)
	if err != nil {
		return nil, err
	}

	tokenLimit, _ := h.ledger.Limit(quota.KindVideoTokens)
	imageLimit, _ := h.ledger.Limit(quota.KindImageCount)

	return &AccountQuota{
		ID:              account.ID,
		Name:            account.Name,
		IsActive:        account.IsActive,
		VideoModelID:    account.VideoModelID,
		ImageModelID:    account.ImageModelID,
		BananaModelName: account.BananaModelName,
		HasAPIKey:       account.APIKey != "",
		HasBananaKey:    account.BananaAPIKey != "",
		UsedTokens:      usedTokens,
		RemainingTokens: remainingTokens,
		TokenLimit:      tokenLimit,
		UsedImages:      usedImages,
		RemainingImages: remainingImages,
		ImageLimit:      imageLimit,
	}, nil
}

// List returns all accounts with their daily quota snapshots
func (h *AccountHandler) List(c *fiber.Ctx) error {
	// Try cache first
	var cached []AccountQuota
	if err := database.CacheGet(database.CacheKeyAccountQuotas, &cached); err == nil {
		return c.JSON(fiber.Map{
			"success": true,
			"data":    cached,
			"cached":  true,
		})
	}

	accounts, err := h.store.ListAccounts(c.Context(), false)
	if err != nil {
		return serviceError(c, err)
	}

	snapshots := make([]AccountQuota, 0, len(accounts))
	for i := range accounts {
		snapshot, err := h.quotaSnapshot(c, &accounts[i])
		if err != nil {
			return serviceError(c, err)
		}
		snapshots = append(snapshots, *snapshot)
	}

	database.CacheSet(database.CacheKeyAccountQuotas, snapshots, database.CacheTTLAccountQuotas)

	return c.JSON(fiber.Map{
		"success": true,
		"data":    snapshots,
	})
}

// Get returns one account with its quota snapshot
func (h *AccountHandler) Get(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid account ID",
		})
	}

	account, err := h.store.GetAccount(c.Context(), uint(id))
	if err != nil {
		return serviceError(c, err)
	}

	snapshot, err := h.quotaSnapshot(c, account)
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"account": account,
			"quota":   snapshot,
		},
	})
}

// AccountRequest is the create/update payload
type AccountRequest struct {
	Name            *string `json:"name"`
	APIKey          *string `json:"api_key"`
	VideoModelID    *string `json:"video_model_id"`
	ImageModelID    *string `json:"image_model_id"`
	BananaBaseURL   *string `json:"banana_base_url"`
	BananaAPIKey    *string `json:"banana_api_key"`
	BananaModelName *string `json:"banana_model_name"`
	IsActive        *bool   `json:"is_active"`
}

func (r *AccountRequest) apply(account *models.Account) {
	if r.Name != nil {
		account.Name = *r.Name
	}
	if r.APIKey != nil {
		account.APIKey = *r.APIKey
	}
	if r.VideoModelID != nil {
		account.VideoModelID = *r.VideoModelID
	}
	if r.ImageModelID != nil {
		account.ImageModelID = *r.ImageModelID
	}
	if r.BananaBaseURL != nil {
		account.BananaBaseURL = *r.BananaBaseURL
	}
	if r.BananaAPIKey != nil {
		account.BananaAPIKey = *r.BananaAPIKey
	}
	if r.BananaModelName != nil {
		account.BananaModelName = *r.BananaModelName
	}
	if r.IsActive != nil {
		account.IsActive = *r.IsActive
	}
}

// Create adds a new provider account
func (h *AccountHandler) Create(c *fiber.Ctx) error {
	var req AccountRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	if req.Name == nil || *req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Account name is required",
		})
	}

	account := models.Account{IsActive: true}
	req.apply(&account)

	if !account.HasVideo() && !account.HasImage() && !account.HasBanana() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Account must have at least one capability configured",
		})
	}

	if err := h.store.CreateAccount(c.Context(), &account); err != nil {
		return serviceError(c, err)
	}
	database.InvalidateAccountCache()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Account created successfully",
		"data":    account,
	})
}

// Update modifies an existing account. Omitted fields keep their values, so
// keys never need to be re-sent.
func (h *AccountHandler) Update(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid account ID",
		})
	}

	account, err := h.store.GetAccount(c.Context(), uint(id))
	if err != nil {
		return serviceError(c, err)
	}

	var req AccountRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}
	req.apply(account)

	if account.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Account name is required",
		})
	}

	if err := h.store.UpdateAccount(c.Context(), account); err != nil {
		return serviceError(c, err)
	}
	database.InvalidateAccountCache()

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Account updated successfully",
		"data":    account,
	})
}

// Delete removes an account together with its tasks and usage history
func (h *AccountHandler) Delete(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid account ID",
		})
	}

	if err := h.store.DeleteAccount(c.Context(), uint(id)); err != nil {
		return serviceError(c, err)
	}
	database.InvalidateAccountCache()

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Account deleted successfully",
	})
}
