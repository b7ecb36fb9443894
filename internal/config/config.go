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

// Config aggregates runtime configuration for the payment server and supporting services.
type Config struct {
	ListenAddr         string
	LogLevel           string
	DebugEndpoints     bool
	CORSAllowedOrigins []string

	StoreDriver string
	MySQLDSN    string
	SQLitePath  string

	Pricing   Pricing
	Aamarpay  Aamarpay
	Authorize Authorize

	TelegramBotToken    string
	TelegramAdminChatID int64

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3UsePathStyle  bool
	S3ReceiptPrefix string
}

// Pricing holds the catalog of pro plans and credit packs. Prices are whole currency units.
type Pricing struct {
	WeeklyProPlan   int
	MonthlyProPlan  int
	YearlyProPlan   int
	LifetimeProPlan int

	BagOfCreditsPrice    int
	BagOfCreditsAmount   int
	BoxOfCreditsPrice    int
	BoxOfCreditsAmount   int
	ChestOfCreditsPrice  int
	ChestOfCreditsAmount int
}

type Aamarpay struct {
	StoreID      string
	SignatureKey string
	Mode         string
}

type Authorize struct {
	LoginID        string
	TransactionKey string
	ClientKey      string
	Mode           string
	Timeout        time.Duration
}

// HasCredentials reports whether server-side charges can be submitted to Authorize.Net.
func (a Authorize) HasCredentials() bool {
	return a.LoginID != "" && a.TransactionKey != ""
}

// Load reads configuration from environment variables, applying demo defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:         listenAddr(),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DebugEndpoints:     getBool("DEBUG_ENDPOINTS", false),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", "memory")),
		MySQLDSN:           os.Getenv("MYSQL_DSN"),
		SQLitePath:         getEnv("SQLITE_PATH", "quickdate.db"),
		Pricing: Pricing{
			WeeklyProPlan:        getInt("WEEKLY_PRO_PLAN", 800),
			MonthlyProPlan:       getInt("MONTHLY_PRO_PLAN", 2500),
			YearlyProPlan:        getInt("YEARLY_PRO_PLAN", 28000),
			LifetimeProPlan:      getInt("LIFETIME_PRO_PLAN", 50000),
			BagOfCreditsPrice:    getInt("BAG_OF_CREDITS_PRICE", 100),
			BagOfCreditsAmount:   getInt("BAG_OF_CREDITS_AMOUNT", 10),
			BoxOfCreditsPrice:    getInt("BOX_OF_CREDITS_PRICE", 500),
			BoxOfCreditsAmount:   getInt("BOX_OF_CREDITS_AMOUNT", 60),
			ChestOfCreditsPrice:  getInt("CHEST_OF_CREDITS_PRICE", 1000),
			ChestOfCreditsAmount: getInt("CHEST_OF_CREDITS_AMOUNT", 150),
		},
		Aamarpay: Aamarpay{
			StoreID:      getEnv("AAMARPAY_STORE_ID", "demo"),
			SignatureKey: getEnv("AAMARPAY_SIGNATURE_KEY", "demo_sig"),
			Mode:         strings.ToLower(getEnv("AAMARPAY_MODE", "sandbox")),
		},
		Authorize: Authorize{
			LoginID:        os.Getenv("AUTHORIZE_LOGIN_ID"),
			TransactionKey: os.Getenv("AUTHORIZE_TRANSACTION_KEY"),
			ClientKey:      os.Getenv("AUTHORIZE_CLIENT_KEY"),
			Mode:           strings.ToUpper(getEnv("AUTHORIZE_MODE", "SANDBOX")),
			Timeout:        time.Second * time.Duration(getInt("AUTHORIZE_TIMEOUT_SECONDS", 30)),
		},
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramAdminChatID: getInt64("TELEGRAM_ADMIN_CHAT_ID", 0),
		S3Endpoint:          os.Getenv("S3_ENDPOINT"),
		S3Region:            os.Getenv("S3_REGION"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3UsePathStyle:      getBool("S3_USE_PATH_STYLE", false),
		S3ReceiptPrefix:     getEnv("S3_RECEIPT_PREFIX", "receipts"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	switch c.StoreDriver {
	case "memory":
	case "mysql":
		if c.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case "sqlite", "sqlite3":
		if c.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}
	if c.TelegramBotToken != "" && c.TelegramAdminChatID == 0 {
		missing = append(missing, "TELEGRAM_ADMIN_CHAT_ID")
	}
	if c.S3Bucket != "" {
		if c.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if c.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if c.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

// listenAddr prefers LISTEN_ADDR, then the PORT convention used by container platforms.
func listenAddr() string {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		return addr
	}
	port := getEnv("PORT", "3000")
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return port
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

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads the first env file found. Every key has a default, so running
// without any file is fine.
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
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
