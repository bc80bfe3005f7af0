package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	DataDir string

	// OneBot (チャット送信先)
	OneBotAPIURL      string
	OneBotAccessToken string

	// Pixiv
	ProxyURL     string
	FetchTimeout time.Duration
	FetchMaxSize int64

	// Reconcile
	CheckInterval    time.Duration
	CreatorDelay     time.Duration
	EnableFollowFeed bool

	// Deliver
	MaxDisplayWorks int
	MaxPagesPerWork int
	BundleThreshold int
	MessageDelay    time.Duration
	ChainReply      bool
	RankLimit       int

	// Media
	ImageQuality    string
	ByteNoise       bool
	UgoiraSizeLimit int64

	// Server
	ServerPort string
}

// validImageQualities は画像画質設定の許容値。
var validImageQualities = map[string]bool{
	"square_medium": true,
	"medium":        true,
	"large":         true,
	"original":      true,
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.OneBotAPIURL = os.Getenv("ONEBOT_API_URL")
	if cfg.OneBotAPIURL == "" {
		missing = append(missing, "ONEBOT_API_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DataDir = getEnvString("DATA_DIR", "./data")
	cfg.OneBotAccessToken = getEnvString("ONEBOT_ACCESS_TOKEN", "")
	cfg.ProxyURL = getEnvString("PROXY_URL", "")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 20*1024*1024)
	cfg.CheckInterval = getEnvDuration("CHECK_INTERVAL", 3*time.Hour)
	cfg.CreatorDelay = getEnvDuration("CREATOR_DELAY", 3*time.Second)
	cfg.EnableFollowFeed = getEnvBool("ENABLE_FOLLOW_FEED", false)
	cfg.MaxDisplayWorks = getEnvInt("MAX_DISPLAY_WORKS", 3)
	cfg.MaxPagesPerWork = getEnvInt("MAX_PAGES_PER_WORK", 3)
	cfg.BundleThreshold = getEnvInt("BUNDLE_THRESHOLD", 3)
	cfg.MessageDelay = getEnvDuration("MESSAGE_DELAY", 2*time.Second)
	cfg.ChainReply = getEnvBool("CHAIN_REPLY", true)
	cfg.RankLimit = getEnvInt("RANK_LIMIT", 5)
	cfg.ImageQuality = getEnvString("IMAGE_QUALITY", "large")
	cfg.ByteNoise = getEnvBool("BYTE_NOISE", true)
	cfg.UgoiraSizeLimit = getEnvInt64("UGOIRA_SIZE_LIMIT", 30*1024*1024)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	// 画質設定が不正な場合はデフォルトに戻す
	if !validImageQualities[cfg.ImageQuality] {
		cfg.ImageQuality = "large"
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
