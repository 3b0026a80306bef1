package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken         string
	MySQLDSN         string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	ChatModel        string
	CodeModel        string
	ImageModel       string
	VisionModel      string
	ImageSize        string
	RequestTimeout   time.Duration
	FreeDailyCredits int
	ReferralBonus    int
	IdleChatFallback bool
	AdminTelegramID  int64
	AdminListenAddr  string
	AdminUsername    string
	AdminPassword    string
	HostingProvider  string
	UploadURL        string
	UploadPreset     string
	S3Endpoint       string
	S3Region         string
	S3AccessKey      string
	S3SecretKey      string
	S3Bucket         string
	S3PublicBaseURL  string
	S3UsePathStyle   bool
	S3Prefix         string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		OpenAIBaseURL:    strings.TrimRight(getEnv("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
		ChatModel:        getEnv("CHAT_MODEL", "gpt-4o"),
		CodeModel:        getEnv("CODE_MODEL", "gpt-4o"),
		ImageModel:       getEnv("IMAGE_MODEL", "dall-e-3"),
		VisionModel:      getEnv("VISION_MODEL", "gpt-4o"),
		ImageSize:        getEnv("IMAGE_SIZE", "1024x1024"),
		RequestTimeout:   time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 30)),
		FreeDailyCredits: getInt("FREE_DAILY_CREDITS", 2),
		ReferralBonus:    getInt("REFERRAL_BONUS", 1),
		IdleChatFallback: getBool("IDLE_CHAT_FALLBACK", true),
		AdminTelegramID:  getInt64("ADMIN_TELEGRAM_ID", 0),
		AdminListenAddr:  getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:    getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:    getEnv("ADMIN_PASSWORD", "change-me"),
		HostingProvider:  strings.ToLower(getEnv("HOSTING_PROVIDER", "upload")),
		UploadURL:        getEnv("UPLOAD_URL", ""),
		UploadPreset:     getEnv("UPLOAD_PRESET", ""),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		S3Region:         os.Getenv("S3_REGION"),
		S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:  os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:   getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:         getEnv("S3_PREFIX", "uploads"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	switch cfg.HostingProvider {
	case "upload":
		if cfg.UploadURL == "" {
			missing = append(missing, "UPLOAD_URL")
		}
		if cfg.UploadPreset == "" {
			missing = append(missing, "UPLOAD_PRESET")
		}
	case "s3":
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3Bucket == "" {
			missing = append(missing, "S3_BUCKET")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("unknown hosting provider: %s", cfg.HostingProvider)
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Plain environment variables are fine without an env file.
	return nil
}
