package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/services"
	"github.com/genstudio/backend/internal/store"
)

type BananaHandler struct {
	store      store.Store
	dispatcher *services.Dispatcher
	syncer     *services.Synchronizer
	storage    *services.ImageStorage
}

func NewBananaHandler(s store.Store, dispatcher *services.Dispatcher, syncer *services.Synchronizer, storage *services.ImageStorage) *BananaHandler {
	return &BananaHandler{store: s, dispatcher: dispatcher, syncer: syncer, storage: storage}
}

// Create starts a new conversational image generation task
func (h *BananaHandler) Create(c *fiber.Ctx) error {
	var req services.BananaRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	task, err := h.dispatcher.CreateBananaTask(c.Context(), req)
	if err != nil {
		return serviceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Task created",
		"data":    task,
	})
}

// Continue extends a finished conversation with a follow-up prompt, as a new
// task
func (h *BananaHandler) Continue(c *fiber.Ctx) error {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	task, err := h.dispatcher.ContinueBananaTask(c.Context(), c.Params("task_id"), req.Prompt)
	if err != nil {
		return serviceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Task created",
		"data":    task,
	})
}

// List returns banana tasks, newest first
func (h *BananaHandler) List(c *fiber.Ctx) error {
	tasks, err := h.store.ListTasks(c.Context(), listFilter(c, models.TaskTypeBanana))
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    tasks,
	})
}

// Get returns one banana task
func (h *BananaHandler) Get(c *fiber.Ctx) error {
	task, err := h.store.GetTask(c.Context(), c.Params("task_id"))
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    task,
	})
}

// Delete removes a banana task and its stored images
func (h *BananaHandler) Delete(c *fiber.Ctx) error {
	taskID := c.Params("task_id")
	if err := h.syncer.Delete(c.Context(), taskID); err != nil {
		return serviceError(c, err)
	}
	h.dispatcher.RemoveBananaFiles(taskID)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Task deleted successfully",
	})
}

// StorageStats reports the on-disk footprint of stored images
func (h *BananaHandler) StorageStats(c *fiber.Ctx) error {
	stats, err := h.storage.Stats()
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    stats,
	})
}
