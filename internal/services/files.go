package services

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ImageStorage keeps banana task images on local disk, one directory per
// task id.
type ImageStorage struct {
	root string
}

func NewImageStorage(root string) (*ImageStorage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create image storage dir: %w", err)
	}
	return &ImageStorage{root: root}, nil
}

// splitDataURI strips a data:image/...;base64, prefix if present and returns
// the raw base64 payload with its extension.
func splitDataURI(data string) (b64, ext string) {
	ext = "png"
	if !strings.HasPrefix(data, "data:") {
		return data, ext
	}
	comma := strings.Index(data, ",")
	if comma < 0 {
		return data, ext
	}
	meta := data[5:comma]
	if semi := strings.Index(meta, ";"); semi > 0 {
		meta = meta[:semi]
	}
	if slash := strings.Index(meta, "/"); slash > 0 {
		switch meta[slash+1:] {
		case "jpeg", "jpg":
			ext = "jpg"
		case "webp":
			ext = "webp"
		}
	}
	return data[comma+1:], ext
}

// SaveImage decodes a base64 (or data URI) image into the task's directory
// and returns the file path.
func (s *ImageStorage) SaveImage(taskID, name string, data string) (string, error) {
	b64, ext := splitDataURI(data)
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode image %s: %w", name, err)
	}

	dir := filepath.Join(s.root, taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create task dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.%s", name, ext))
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", fmt.Errorf("write image %s: %w", name, err)
	}
	return path, nil
}

// LoadImageBase64 reads a stored image back as raw base64, for resending in
// multi-turn conversations.
func (s *ImageStorage) LoadImageBase64(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// RemoveTask deletes everything stored for a task.
func (s *ImageStorage) RemoveTask(taskID string) error {
	if taskID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(s.root, taskID))
}

// StorageStats is the on-disk footprint of the image store.
type StorageStats struct {
	TaskDirs   int   `json:"task_dirs"`
	FileCount  int   `json:"file_count"`
	TotalBytes int64 `json:"total_bytes"`
}

// Stats walks the storage root and tallies its contents.
func (s *ImageStorage) Stats() (*StorageStats, error) {
	stats := &StorageStats{}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		stats.TaskDirs++
		files, err := os.ReadDir(filepath.Join(s.root, entry.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			info, err := f.Info()
			if err != nil {
				continue
			}
			stats.FileCount++
			stats.TotalBytes += info.Size()
		}
	}
	return stats, nil
}
