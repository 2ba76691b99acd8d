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
	BotToken string
	MySQLDSN string
	OwnerID  int64

	PixAPIKey      string
	PixBaseURL     string
	RequestTimeout time.Duration
	Currency       string

	ReviewLink string
	FAQLink    string

	CartRemindAfter time.Duration
	CartExpireAfter time.Duration
	SweepInterval   time.Duration

	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		OwnerID:         getInt64("STORE_OWNER_ID", 0),
		PixBaseURL:      getEnv("PIX_BASE_URL", "https://api.pix-provider.com"),
		RequestTimeout:  time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 30)),
		Currency:        strings.ToUpper(getEnv("PAYMENT_CURRENCY", "BRL")),
		ReviewLink:      getEnv("REVIEW_LINK", ""),
		FAQLink:         getEnv("FAQ_LINK", ""),
		CartRemindAfter: time.Minute * time.Duration(getInt("CART_REMIND_AFTER_MINUTES", 30)),
		CartExpireAfter: time.Minute * time.Duration(getInt("CART_EXPIRE_AFTER_MINUTES", 120)),
		SweepInterval:   time.Minute * time.Duration(getInt("CART_SWEEP_INTERVAL_MINUTES", 5)),
		AdminListenAddr: getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:   getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:   getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "media"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.PixAPIKey = os.Getenv("PIX_API_KEY")

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.PixAPIKey == "" {
		missing = append(missing, "PIX_API_KEY")
	}
	if cfg.OwnerID == 0 {
		missing = append(missing, "STORE_OWNER_ID")
	}
	if cfg.S3Bucket != "" {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// S3Enabled reports whether media uploads are configured. The admin API
// rejects media uploads when they are not.
func (c Config) S3Enabled() bool {
	return c.S3Bucket != ""
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
	// Environment-only deployments are fine without an env file.
	return nil
}
