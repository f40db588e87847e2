package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/genstudio/backend/internal/models"
	"github.com/genstudio/backend/internal/services"
	"github.com/genstudio/backend/internal/store"
)

type TaskHandler struct {
	store      store.Store
	dispatcher *services.Dispatcher
	syncer     *services.Synchronizer
}

func NewTaskHandler(s store.Store, dispatcher *services.Dispatcher, syncer *services.Synchronizer) *TaskHandler {
	return &TaskHandler{store: s, dispatcher: dispatcher, syncer: syncer}
}

// listFilter builds a task filter from query parameters
func listFilter(c *fiber.Ctx, taskType string) store.TaskFilter {
	filter := store.TaskFilter{TaskType: taskType}
	if status := c.Query("status"); status != "" {
		filter.Statuses = []string{status}
	}
	if raw := c.Query("account_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
			accountID := uint(id)
			filter.AccountID = &accountID
		}
	}
	if limit := c.QueryInt("limit"); limit > 0 {
		filter.Limit = limit
	}
	return filter
}

// Estimate prices a video request without creating anything
func (h *TaskHandler) Estimate(c *fiber.Ctx) error {
	var req struct {
		Resolution string `json:"resolution"`
		Ratio      string `json:"ratio"`
		Duration   int    `json:"duration"`
		VideoCount int    `json:"video_count"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    services.EstimateVideo(req.Resolution, req.Ratio, req.Duration, req.VideoCount),
	})
}

// Create submits one or more video generation tasks
func (h *TaskHandler) Create(c *fiber.Ctx) error {
	var req services.VideoRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	tasks, err := h.dispatcher.CreateVideoTasks(c.Context(), req)
	if err != nil {
		return serviceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Video tasks created",
		"data":    tasks,
	})
}

// List returns video tasks, newest first
func (h *TaskHandler) List(c *fiber.Ctx) error {
	tasks, err := h.store.ListTasks(c.Context(), listFilter(c, models.TaskTypeVideo))
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    tasks,
	})
}

// Get returns one task, refreshing pending video tasks from the provider
// first. A provider hiccup degrades to the stored state instead of failing
// the read.
func (h *TaskHandler) Get(c *fiber.Ctx) error {
	taskID := c.Params("task_id")

	task, err := h.syncer.Sync(c.Context(), taskID)
	if err != nil {
		stored, getErr := h.store.GetTask(c.Context(), taskID)
		if getErr != nil {
			return serviceError(c, getErr)
		}
		task = stored
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    task,
	})
}

// Sync forces a provider refresh of one task
func (h *TaskHandler) Sync(c *fiber.Ctx) error {
	task, err := h.syncer.Sync(c.Context(), c.Params("task_id"))
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    task,
	})
}

// Delete removes a task, refunding its estimate if it never finished
func (h *TaskHandler) Delete(c *fiber.Ctx) error {
	if err := h.syncer.Delete(c.Context(), c.Params("task_id")); err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Task deleted successfully",
	})
}
