package services

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/genstudio/backend/internal/config"
	"github.com/genstudio/backend/internal/store"
	"github.com/jlaffaye/ftp"
)

const backupRetentionCount = 14

// BackupService periodically exports accounts, tasks and usage counters to an
// encrypted JSON snapshot, with optional FTP offsite upload.
type BackupService struct {
	cfg      *config.Config
	store    store.Store
	interval time.Duration
	stopChan chan struct{}
}

func NewBackupService(cfg *config.Config, s store.Store) *BackupService {
	interval := time.Duration(cfg.BackupIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	os.MkdirAll(cfg.BackupDir, 0755)
	return &BackupService{
		cfg:      cfg,
		store:    s,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start starts the backup loop
func (s *BackupService) Start() {
	log.Printf("BackupService started, running every %s", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				log.Println("BackupService stopped")
				return
			case <-ticker.C:
				if _, err := s.RunBackup(); err != nil {
					log.Printf("BackupService: backup failed: %v", err)
				}
			}
		}
	}()
}

// Stop stops the backup loop
func (s *BackupService) Stop() {
	close(s.stopChan)
}

// RunBackup exports current state to an encrypted snapshot file and returns
// its path. Also invoked by the manual backup endpoint.
func (s *BackupService) RunBackup() (string, error) {
	ctx := context.Background()
	startTime := time.Now()

	accounts, err := s.store.ListAccounts(ctx, false)
	if err != nil {
		return "", fmt.Errorf("list accounts: %w", err)
	}
	tasks, err := s.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}

	snapshot := map[string]interface{}{
		"created_at": startTime.UTC(),
		"accounts":   accounts,
		"tasks":      tasks,
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	filename := fmt.Sprintf("genstudio_%s.genstudio.bak", startTime.Format("20060102_150405"))
	localPath := filepath.Join(s.cfg.BackupDir, filename)

	if err := s.encrypt(payload, localPath); err != nil {
		return "", fmt.Errorf("encrypt backup: %w", err)
	}

	if s.cfg.FTPHost != "" {
		if err := s.uploadToFTP(localPath, filename); err != nil {
			// local snapshot still counts
			log.Printf("BackupService: FTP upload failed for %s: %v", filename, err)
		}
	}

	s.cleanOldBackups()

	log.Printf("BackupService: backup completed (%s, %d accounts, %d tasks)", filename, len(accounts), len(tasks))
	return localPath, nil
}

// uploadToFTP uploads a snapshot to the configured FTP server
func (s *BackupService) uploadToFTP(localPath, filename string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.FTPHost, s.cfg.FTPPort)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("FTP connection failed: %v", err)
	}
	defer conn.Quit()

	if err := conn.Login(s.cfg.FTPUsername, s.cfg.FTPPassword); err != nil {
		return fmt.Errorf("FTP login failed: %v", err)
	}

	if s.cfg.FTPPath != "" && s.cfg.FTPPath != "/" {
		if err := conn.ChangeDir(s.cfg.FTPPath); err != nil {
			conn.MakeDir(s.cfg.FTPPath)
			if err := conn.ChangeDir(s.cfg.FTPPath); err != nil {
				return fmt.Errorf("FTP directory change failed: %v", err)
			}
		}
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %v", err)
	}
	defer file.Close()

	if err := conn.Stor(filename, file); err != nil {
		return fmt.Errorf("FTP upload failed: %v", err)
	}

	log.Printf("BackupService: uploaded %s to FTP %s", filename, s.cfg.FTPHost)
	return nil
}

// cleanOldBackups keeps only the newest snapshots locally
func (s *BackupService) cleanOldBackups() {
	entries, err := os.ReadDir(s.cfg.BackupDir)
	if err != nil {
		return
	}

	var backups []os.DirEntry
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".genstudio.bak") {
			backups = append(backups, entry)
		}
	}
	if len(backups) <= backupRetentionCount {
		return
	}

	// ReadDir returns entries sorted by name; the timestamped names sort
	// oldest first
	for _, entry := range backups[:len(backups)-backupRetentionCount] {
		os.Remove(filepath.Join(s.cfg.BackupDir, entry.Name()))
		log.Printf("BackupService: deleted old backup %s", entry.Name())
	}
}

// deriveEncryptionKey derives a 32-byte key from the database password and a salt
func (s *BackupService) deriveEncryptionKey() []byte {
	salt := "GenStudio-Backup-Encryption-2025"
	hash := sha256.Sum256([]byte(s.cfg.DBPassword + salt))
	return hash[:]
}

var backupHeader = []byte("GENSTUDIO_ENCRYPTED_V1\n")

// encrypt writes plaintext to outputPath encrypted with AES-256-GCM
func (s *BackupService) encrypt(plaintext []byte, outputPath string) error {
	block, err := aes.NewCipher(s.deriveEncryptionKey())
	if err != nil {
		return fmt.Errorf("failed to create cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %v", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to create nonce: %v", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	output := append(append([]byte{}, backupHeader...), ciphertext...)

	if err := os.WriteFile(outputPath, output, 0600); err != nil {
		return fmt.Errorf("failed to write encrypted file: %v", err)
	}
	return nil
}

// Decrypt reads a snapshot file written by RunBackup and returns the JSON
// payload.
func (s *BackupService) Decrypt(inputPath string) ([]byte, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read encrypted file: %v", err)
	}
	if len(data) < len(backupHeader) || string(data[:len(backupHeader)]) != string(backupHeader) {
		return nil, fmt.Errorf("invalid encrypted file format")
	}
	ciphertext := data[len(backupHeader):]

	block, err := aes.NewCipher(s.deriveEncryptionKey())
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %v", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %v", err)
	}
	return plaintext, nil
}
