package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application.
type AppConfig struct {
	TelegramToken     string
	DatabaseURL       string
	AdminUserIDs      []int64
	AnnounceChannelID int64 // group chat the bot announces into
	LogLevel          string
	Environment       string

	// Schedule. Cron specs run in Timezone.
	Timezone       string
	CronSpecOpen   string
	CronSpecRemind string
	CronSpecClose  string
	RunoffDuration time.Duration

	// Engine tunables.
	MaxTotalGames   int
	NominationQuota int
	CarryOverCount  int
	Epsilon         float64
	LockTimeout     time.Duration
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	adminIDsRaw := os.Getenv("ADMIN_USER_IDS")
	if adminIDsRaw == "" {
		return nil, fmt.Errorf("ADMIN_USER_IDS is not set")
	}
	for _, part := range strings.Split(adminIDsRaw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_USER_IDS entry %q: %w", part, err)
		}
		cfg.AdminUserIDs = append(cfg.AdminUserIDs, id)
	}
	if len(cfg.AdminUserIDs) == 0 {
		return nil, fmt.Errorf("ADMIN_USER_IDS contains no valid IDs")
	}

	channelIDStr := os.Getenv("ANNOUNCE_CHANNEL_ID")
	if channelIDStr == "" {
		return nil, fmt.Errorf("ANNOUNCE_CHANNEL_ID is not set")
	}
	cfg.AnnounceChannelID, err = strconv.ParseInt(channelIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ANNOUNCE_CHANNEL_ID: %w", err)
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	cfg.Timezone = os.Getenv("TIMEZONE")
	if cfg.Timezone == "" {
		cfg.Timezone = "America/Los_Angeles"
	}

	cfg.CronSpecOpen = os.Getenv("CRON_SPEC_OPEN")
	if cfg.CronSpecOpen == "" {
		cfg.CronSpecOpen = "0 9 * * 2" // Tuesday 09:00
	}
	cfg.CronSpecRemind = os.Getenv("CRON_SPEC_REMIND")
	if cfg.CronSpecRemind == "" {
		cfg.CronSpecRemind = "0 18 * * 4" // Thursday 18:00
	}
	cfg.CronSpecClose = os.Getenv("CRON_SPEC_CLOSE")
	if cfg.CronSpecClose == "" {
		cfg.CronSpecClose = "0 9 * * 5" // Friday 09:00
	}

	cfg.RunoffDuration, err = minutesEnv("RUNOFF_DURATION_MINUTES", 120*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.LockTimeout, err = secondsEnv("LOCK_TIMEOUT_SECONDS", 5*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.MaxTotalGames, err = intEnv("MAX_TOTAL_GAMES", 10)
	if err != nil {
		return nil, err
	}
	cfg.NominationQuota, err = intEnv("NOMINATION_QUOTA", 1)
	if err != nil {
		return nil, err
	}
	cfg.CarryOverCount, err = intEnv("CARRY_OVER_COUNT", 5)
	if err != nil {
		return nil, err
	}

	epsilonStr := os.Getenv("SCORE_EPSILON")
	if epsilonStr == "" {
		cfg.Epsilon = 0 // exact equality
	} else {
		cfg.Epsilon, err = strconv.ParseFloat(epsilonStr, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SCORE_EPSILON: %w", err)
		}
	}

	return cfg, nil
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func minutesEnv(name string, def time.Duration) (time.Duration, error) {
	v, err := intEnv(name, 0)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return def, nil
	}
	return time.Duration(v) * time.Minute, nil
}

func secondsEnv(name string, def time.Duration) (time.Duration, error) {
	v, err := intEnv(name, 0)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return def, nil
	}
	return time.Duration(v) * time.Second, nil
}
