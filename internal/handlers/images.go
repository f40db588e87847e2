package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/services"
	"github.com/genstudio/backend/internal/store"
)

type ImageHandler struct {
	store      store.Store
	dispatcher *services.Dispatcher
	syncer     *services.Synchronizer
}

func NewImageHandler(s store.Store, dispatcher *services.Dispatcher, syncer *services.Synchronizer) *ImageHandler {
	return &ImageHandler{store: s, dispatcher: dispatcher, syncer: syncer}
}

// Estimate prices an image request without creating anything
func (h *ImageHandler) Estimate(c *fiber.Ctx) error {
	var req struct {
		Count      int  `json:"count"`
		Sequential bool `json:"sequential"`
		MaxImages  int  `json:"max_images"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    services.EstimateImages(req.Count, req.Sequential, req.MaxImages),
	})
}

// Create submits an image generation request
func (h *ImageHandler) Create(c *fiber.Ctx) error {
	var req services.ImageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	tasks, err := h.dispatcher.CreateImageTasks(c.Context(), req)
	if err != nil {
		return serviceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Image tasks created",
		"data":    tasks,
	})
}

// List returns image tasks, newest first
func (h *ImageHandler) List(c *fiber.Ctx) error {
	tasks, err := h.store.ListTasks(c.Context(), listFilter(c, models.TaskTypeImage))
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    tasks,
	})
}

// Get returns one image task
func (h *ImageHandler) Get(c *fiber.Ctx) error {
	task, err := h.store.GetTask(c.Context(), c.Params("task_id"))
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    task,
	})
}

// Delete removes an image task
func (h *ImageHandler) Delete(c *fiber.Ctx) error {
	if err := h.syncer.Delete(c.Context(), c.Params("task_id")); err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Task deleted successfully",
	})
}
