package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// ActivityType controls the presence line shown for the bot account.
type ActivityType string

const (
	ActivityPlaying   ActivityType = "PLAYING"
	ActivityListening ActivityType = "LISTENING"
	ActivityWatching  ActivityType = "WATCHING"
	ActivityStreaming ActivityType = "STREAMING"
)

// BotStatus is the bot account's presence status.
type BotStatus string

const (
	StatusOnline BotStatus = "online"
	StatusIdle   BotStatus = "idle"
	StatusDND    BotStatus = "dnd"
)

// Config holds every recognized environment knob, resolved and validated.
type Config struct {
	DiscordToken        string
	YouTubeAPIKey       string
	SpotifyClientID     string
	SpotifyClientSecret string

	DataDir         string
	CacheDir        string
	CacheLimitBytes int64

	BotStatus       BotStatus
	BotActivityType ActivityType
	BotActivity     string

	LogDir   string
	LogLevel string

	ExtractorServiceURL string
}

// Load reads configuration from the environment. DISCORD_TOKEN is the only
// required knob; everything else falls back to a default.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("CACHE_LIMIT", "2GB")
	v.SetDefault("BOT_STATUS", string(StatusOnline))
	v.SetDefault("BOT_ACTIVITY_TYPE", string(ActivityListening))
	v.SetDefault("BOT_ACTIVITY", "music")
	v.SetDefault("LOG_LEVEL", "info")

	token := v.GetString("DISCORD_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN environment variable is required")
	}

	dataDir := v.GetString("DATA_DIR")

	cacheDir := v.GetString("CACHE_DIR")
	if cacheDir == "" {
		cacheDir = filepath.Join(dataDir, "cache")
	}

	limit, err := humanize.ParseBytes(v.GetString("CACHE_LIMIT"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_LIMIT %q: %w", v.GetString("CACHE_LIMIT"), err)
	}

	status, err := parseBotStatus(v.GetString("BOT_STATUS"))
	if err != nil {
		return nil, err
	}

	activityType, err := parseActivityType(v.GetString("BOT_ACTIVITY_TYPE"))
	if err != nil {
		return nil, err
	}

	logDir := v.GetString("LOG_DIR")
	if logDir == "" {
		logDir = filepath.Join(dataDir, "logs")
	}

	return &Config{
		DiscordToken:        token,
		YouTubeAPIKey:       v.GetString("YOUTUBE_API_KEY"),
		SpotifyClientID:     v.GetString("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret: v.GetString("SPOTIFY_CLIENT_SECRET"),
		DataDir:             dataDir,
		CacheDir:            cacheDir,
		CacheLimitBytes:     int64(limit),
		BotStatus:           status,
		BotActivityType:     activityType,
		BotActivity:         v.GetString("BOT_ACTIVITY"),
		LogDir:              logDir,
		LogLevel:            strings.ToLower(v.GetString("LOG_LEVEL")),
		ExtractorServiceURL: v.GetString("YTDLP_SERVICE_URL"),
	}, nil
}

func parseBotStatus(s string) (BotStatus, error) {
	switch BotStatus(strings.ToLower(s)) {
	case StatusOnline:
		return StatusOnline, nil
	case StatusIdle:
		return StatusIdle, nil
	case StatusDND:
		return StatusDND, nil
	default:
		return "", fmt.Errorf("invalid BOT_STATUS %q (expected online, idle or dnd)", s)
	}
}

func parseActivityType(s string) (ActivityType, error) {
	switch ActivityType(strings.ToUpper(s)) {
	case ActivityPlaying:
		return ActivityPlaying, nil
	case ActivityListening:
		return ActivityListening, nil
	case ActivityWatching:
		return ActivityWatching, nil
	case ActivityStreaming:
		return ActivityStreaming, nil
	default:
		return "", fmt.Errorf("invalid BOT_ACTIVITY_TYPE %q (expected PLAYING, LISTENING, WATCHING or STREAMING)", s)
	}
}
