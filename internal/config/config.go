package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	APIBaseURL  string
	WSBaseURL   string
	ListenAddr  string
	StoreMode   string
	StateFile   string
	DatabaseURL string
	StateKey    string

	HTTPTimeout  time.Duration
	SyncDebounce time.Duration
	BufferEvery  int
	HistoryLimit int
	StopGrace    time.Duration
	EventLimit   int

	MinBlinksPerMinute float64
	HealthWindow       time.Duration
	HealthWarmup       time.Duration

	TelegramBotToken string
	TelegramChatID   string
	EventsWebhookURL string
	WebhookTimeout   time.Duration
}

func Load() Config {
	return Config{
		APIBaseURL:   getEnv("API_URL", "http://127.0.0.1:8000"),
		WSBaseURL:    getEnv("WS_URL", "ws://127.0.0.1:8000"),
		ListenAddr:   getEnv("LISTEN_ADDR", "127.0.0.1:17710"),
		StoreMode:    getEnv("STORE_MODE", "file"),
		StateFile:    getEnv("STATE_FILE", defaultStateFile()),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		StateKey:     getEnv("STATE_ENCRYPTION_KEY", ""),
		HTTPTimeout:  getDuration("HTTP_TIMEOUT", 10*time.Second),
		SyncDebounce: getDuration("SYNC_DEBOUNCE", time.Second),
		BufferEvery:  getInt("BUFFER_EVERY", 5),
		HistoryLimit: getInt("HISTORY_LIMIT", 50),
		StopGrace:    getDuration("STOP_GRACE", 500*time.Millisecond),
		EventLimit:   getInt("EVENT_LIMIT", 200),

		MinBlinksPerMinute: getFloat("MIN_BLINKS_PER_MIN", 8),
		HealthWindow:       getDuration("HEALTH_WINDOW", time.Minute),
		HealthWarmup:       getDuration("HEALTH_WARMUP", 30*time.Second),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		EventsWebhookURL: getEnv("EVENTS_WEBHOOK_URL", ""),
		WebhookTimeout:   getDuration("WEBHOOK_TIMEOUT", 5*time.Second),
	}
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "blinkd-state.json"
	}
	return filepath.Join(dir, "blinkd", "state.json")
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
