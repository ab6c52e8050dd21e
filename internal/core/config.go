package core

import (
	"time"
)

type Config struct {
	Netease  NeteaseConfig
	Apple    AppleConfig
	YouTube  YouTubeConfig
	Telegram TelegramConfig
	Server   ServerConfig
	Log      LogConfig
	App      AppConfig
}

type NeteaseConfig struct {
	Cookies     string
	CookiesFile string
	Quality     string
	VIP         bool
	RatePerMin  int
}

type AppleConfig struct {
	Cookies        string
	CookiesFile    string
	MediaUserToken string
	Storefront     string
	Quality        string
	Subscribed     bool
	RatePerMin     int
}

type YouTubeConfig struct {
	CookiesFile string
	Quality     string
	Premium     bool
	RatePerMin  int
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
	Enabled  bool
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	DownloadDir      string
	WorkDir          string
	HistoryDB        string
	FilenameTemplate string
	DirTemplate      string
	Workers          int
	MaxRetries       int
	RetryDelaySecs   int
	ProxyURL         string
	// RelayThresholdMB routes finished files above this size to the relay
	// sink instead of the plain bot message channel.
	RelayThresholdMB int
}

func DefaultConfig() *Config {
	return &Config{
		Netease: NeteaseConfig{
			Quality:    "lossless",
			RatePerMin: 20,
		},
		Apple: AppleConfig{
			Storefront: "us",
			Quality:    "aac-256",
			RatePerMin: 20,
		},
		YouTube: YouTubeConfig{
			Quality:    "m4a-128",
			RatePerMin: 10,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			DownloadDir:      "./downloads",
			WorkDir:          "./work",
			HistoryDB:        "./tunepull_history.db",
			FilenameTemplate: "{track}. {artist} - {title}",
			DirTemplate:      "{album_artist}/{album}",
			Workers:          3,
			MaxRetries:       3,
			RetryDelaySecs:   5,
			RelayThresholdMB: 50,
		},
	}
}

// Preference builds the per-platform quality ceiling from the configured
// platform-native quality names.
func (c *Config) Preference() QualityPreference {
	pref := QualityPreference{Ceiling: make(map[Platform]Tier)}
	pref.Ceiling[PlatformNetease] = neteaseTier(c.Netease.Quality)
	pref.Ceiling[PlatformAppleMusic] = appleTier(c.Apple.Quality)
	pref.Ceiling[PlatformYouTubeMusic] = youtubeTier(c.YouTube.Quality)
	return pref
}

func neteaseTier(q string) Tier {
	switch q {
	case "standard":
		return TierStandard
	case "exhigh":
		return TierHigh
	case "lossless":
		return TierLossless
	case "hires":
		return TierHiRes
	}
	return TierLossless
}

func appleTier(q string) Tier {
	switch q {
	case "aac-128":
		return TierStandard
	case "aac-256":
		return TierHigh
	case "alac":
		return TierLossless
	}
	return TierHigh
}

func youtubeTier(q string) Tier {
	switch q {
	case "m4a-128":
		return TierStandard
	case "m4a-256":
		return TierHigh
	}
	return TierStandard
}
