package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// JWT
	JWTSecret      string
	JWTExpireHours int

	// API
	APIPort int

	// Data directory for locally stored generated images
	DataDir string

	// Quota accounting
	DailyTokenLimit int64  // video tokens per account per day
	DailyImageLimit int64  // generated images per account per day
	QuotaTimezone   string // timezone whose calendar date keys the accounting day

	// Provider endpoints
	ArkBaseURL string

	// Background services
	PollIntervalSeconds int // provider task polling
	UsageRetentionDays  int // daily usage rows older than this are pruned

	// Backup export
	BackupDir           string
	BackupIntervalHours int
	FTPHost             string
	FTPPort             int
	FTPUsername         string
	FTPPassword         string
	FTPPath             string
}

// generateSecureSecret generates a cryptographically secure random secret
func generateSecureSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a timestamp-based approach if crypto/rand fails
		return hex.EncodeToString([]byte(os.Getenv("HOSTNAME") + string(rune(length))))
	}
	return hex.EncodeToString(bytes)
}

func Load() *Config {
	// JWT Secret - generate random if not provided
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = generateSecureSecret(32) // 64 character hex string
		log.Println("WARNING: JWT_SECRET not set - generated random secret. Sessions will not persist across restarts.")
	}

	// Database password - warn if using default
	dbPassword := getEnv("DB_PASSWORD", "")
	if dbPassword == "" {
		log.Println("WARNING: DB_PASSWORD not set - this is insecure for production!")
		dbPassword = "changeme"
	}

	// Redis password - warn if using default
	redisPassword := getEnv("REDIS_PASSWORD", "")
	if redisPassword == "" {
		log.Println("WARNING: REDIS_PASSWORD not set - Redis is not secured!")
	}

	return &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "genstudio"),
		DBPassword: dbPassword,
		DBName:     getEnv("DB_NAME", "genstudio"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisPassword: redisPassword,

		// JWT
		JWTSecret:      jwtSecret,
		JWTExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 168), // 7 days default

		// API
		APIPort: getEnvInt("API_PORT", 8080),

		DataDir: getEnv("DATA_DIR", "./data"),

		// Quota accounting
		DailyTokenLimit: int64(getEnvInt("DAILY_TOKEN_LIMIT", 1800000)),
		DailyImageLimit: int64(getEnvInt("DAILY_IMAGE_LIMIT", 300)),
		QuotaTimezone:   getEnv("QUOTA_TIMEZONE", "Asia/Shanghai"),

		// Provider endpoints
		ArkBaseURL: getEnv("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),

		// Background services
		PollIntervalSeconds: getEnvInt("POLL_INTERVAL_SECONDS", 30),
		UsageRetentionDays:  getEnvInt("USAGE_RETENTION_DAYS", 90),

		// Backup export
		BackupDir:           getEnv("BACKUP_DIR", "/var/backups/genstudio"),
		BackupIntervalHours: getEnvInt("BACKUP_INTERVAL_HOURS", 24),
		FTPHost:             getEnv("FTP_HOST", ""),
		FTPPort:             getEnvInt("FTP_PORT", 21),
		FTPUsername:         getEnv("FTP_USERNAME", ""),
		FTPPassword:         getEnv("FTP_PASSWORD", ""),
		FTPPath:             getEnv("FTP_PATH", "/backups"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
