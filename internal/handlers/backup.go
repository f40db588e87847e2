package handlers

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/genstudio/backend/internal/config"
	"github.com/genstudio/backend/internal/services"
)

type BackupHandler struct {
	cfg    *config.Config
	backup *services.BackupService
}

func NewBackupHandler(cfg *config.Config, backup *services.BackupService) *BackupHandler {
	return &BackupHandler{cfg: cfg, backup: backup}
}

// List returns available local snapshots
func (h *BackupHandler) List(c *fiber.Ctx) error {
	entries, err := os.ReadDir(h.cfg.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return c.JSON(fiber.Map{"success": true, "data": []fiber.Map{}})
		}
		return serviceError(c, err)
	}

	backups := make([]fiber.Map, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".genstudio.bak") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, fiber.Map{
			"filename":   entry.Name(),
			"size":       info.Size(),
			"created_at": info.ModTime(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    backups,
	})
}

// Create runs a backup immediately
func (h *BackupHandler) Create(c *fiber.Ctx) error {
	path, err := h.backup.RunBackup()
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Backup created successfully",
		"data": fiber.Map{
			"filename": filepath.Base(path),
		},
	})
}

// Download streams one snapshot file
func (h *BackupHandler) Download(c *fiber.Ctx) error {
	filename := filepath.Base(c.Params("filename"))
	if !strings.HasSuffix(filename, ".genstudio.bak") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid backup filename",
		})
	}

	path := filepath.Join(h.cfg.BackupDir, filename)
	if _, err := os.Stat(path); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Backup not found",
		})
	}

	return c.Download(path, filename)
}

// Delete removes one snapshot file
func (h *BackupHandler) Delete(c *fiber.Ctx) error {
	filename := filepath.Base(c.Params("filename"))
	if !strings.HasSuffix(filename, ".genstudio.bak") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid backup filename",
		})
	}

	if err := os.Remove(filepath.Join(h.cfg.BackupDir, filename)); err != nil {
		if os.IsNotExist(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Backup not found",
			})
		}
		return serviceError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Backup deleted successfully",
	})
}
