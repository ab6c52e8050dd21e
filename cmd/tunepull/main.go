// Package main provides the tunepull service entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"tunepull/internal/bot"
	"tunepull/internal/core"
	"tunepull/internal/creds"
	"tunepull/internal/deliver"
	"tunepull/internal/fetch"
	"tunepull/internal/history"
	httpserver "tunepull/internal/http"
	"tunepull/internal/quality"
	"tunepull/internal/ratelimit"
	"tunepull/internal/resolver"
	"tunepull/internal/router"
	"tunepull/internal/store"
	"tunepull/internal/tag"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tunepull",
	Short: "tunepull - music link to tagged library pipeline",
	Long: `tunepull turns NetEase, Apple Music and YouTube Music links into fully
tagged audio files in a local library, with an HTTP API and an optional
Telegram frontend for submission and delivery.`,
	RunE: runTunepull,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("download-dir", "./downloads", "library output directory")
	rootCmd.PersistentFlags().String("work-dir", "./work", "in-flight transfer directory")
	rootCmd.PersistentFlags().String("history-db", "./tunepull_history.db", "history database path")
	rootCmd.PersistentFlags().String("filename-template", "{track}. {artist} - {title}", "file name template")
	rootCmd.PersistentFlags().String("dir-template", "{album_artist}/{album}", "library directory template")
	rootCmd.PersistentFlags().Int("workers", 3, "concurrent track pipelines")
	rootCmd.PersistentFlags().Int("max-retries", 3, "transient error retries per stage")
	rootCmd.PersistentFlags().Int("retry-delay-secs", 5, "initial backoff between retries")
	rootCmd.PersistentFlags().String("proxy-url", "", "outbound HTTP proxy")
	rootCmd.PersistentFlags().Int("server-port", 8080, "HTTP server port")
	rootCmd.PersistentFlags().String("netease-cookies", "", "NetEase session cookies")
	rootCmd.PersistentFlags().String("netease-cookies-file", "", "NetEase cookie file")
	rootCmd.PersistentFlags().String("netease-quality", "lossless", "NetEase quality ceiling")
	rootCmd.PersistentFlags().Bool("netease-vip", false, "account has NetEase VIP")
	rootCmd.PersistentFlags().Int("netease-rate-per-min", 20, "NetEase API requests per minute")
	rootCmd.PersistentFlags().String("apple-cookies", "", "Apple Music session cookies")
	rootCmd.PersistentFlags().String("apple-cookies-file", "", "Apple Music cookie file")
	rootCmd.PersistentFlags().String("apple-media-user-token", "", "Apple Music media user token")
	rootCmd.PersistentFlags().String("apple-storefront", "us", "Apple Music storefront")
	rootCmd.PersistentFlags().String("apple-quality", "aac-256", "Apple Music quality ceiling")
	rootCmd.PersistentFlags().Bool("apple-subscribed", false, "account has an Apple Music subscription")
	rootCmd.PersistentFlags().Int("apple-rate-per-min", 20, "Apple Music API requests per minute")
	rootCmd.PersistentFlags().String("youtube-cookies-file", "", "YouTube cookie file")
	rootCmd.PersistentFlags().String("youtube-quality", "m4a-128", "YouTube Music quality ceiling")
	rootCmd.PersistentFlags().Bool("youtube-premium", false, "account has YouTube Premium")
	rootCmd.PersistentFlags().Int("youtube-rate-per-min", 10, "YouTube Music API requests per minute")
	rootCmd.PersistentFlags().String("telegram-bot-token", "", "Telegram bot token")
	rootCmd.PersistentFlags().Int64("telegram-chat-id", 0, "Telegram chat ID")
	rootCmd.PersistentFlags().Int("relay-threshold-mb", 50, "relay files larger than this to chat")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	envFile := cfgFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := gotenv.Load(envFile); err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", envFile, err)
		os.Exit(1)
	}

	viper.SetEnvPrefix("TUNEPULL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	cfg.App.DownloadDir = viper.GetString("download-dir")
	cfg.App.WorkDir = viper.GetString("work-dir")
	cfg.App.HistoryDB = viper.GetString("history-db")
	cfg.App.FilenameTemplate = viper.GetString("filename-template")
	cfg.App.DirTemplate = viper.GetString("dir-template")
	cfg.App.Workers = viper.GetInt("workers")
	cfg.App.MaxRetries = viper.GetInt("max-retries")
	cfg.App.RetryDelaySecs = viper.GetInt("retry-delay-secs")
	cfg.App.ProxyURL = viper.GetString("proxy-url")
	cfg.App.RelayThresholdMB = viper.GetInt("relay-threshold-mb")

	cfg.Netease.Cookies = viper.GetString("netease-cookies")
	cfg.Netease.CookiesFile = viper.GetString("netease-cookies-file")
	cfg.Netease.Quality = viper.GetString("netease-quality")
	cfg.Netease.VIP = viper.GetBool("netease-vip")
	cfg.Netease.RatePerMin = viper.GetInt("netease-rate-per-min")

	cfg.Apple.Cookies = viper.GetString("apple-cookies")
	cfg.Apple.CookiesFile = viper.GetString("apple-cookies-file")
	cfg.Apple.MediaUserToken = viper.GetString("apple-media-user-token")
	cfg.Apple.Storefront = viper.GetString("apple-storefront")
	cfg.Apple.Quality = viper.GetString("apple-quality")
	cfg.Apple.Subscribed = viper.GetBool("apple-subscribed")
	cfg.Apple.RatePerMin = viper.GetInt("apple-rate-per-min")

	cfg.YouTube.CookiesFile = viper.GetString("youtube-cookies-file")
	cfg.YouTube.Quality = viper.GetString("youtube-quality")
	cfg.YouTube.Premium = viper.GetBool("youtube-premium")
	cfg.YouTube.RatePerMin = viper.GetInt("youtube-rate-per-min")

	cfg.Telegram.BotToken = viper.GetString("telegram-bot-token")
	cfg.Telegram.ChatID = viper.GetInt64("telegram-chat-id")
	cfg.Telegram.Enabled = cfg.Telegram.BotToken != ""

	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Log.Level = viper.GetString("log-level")

	return cfg
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}
	return builtLogger
}

func runTunepull(_ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting tunepull",
		zap.String("download_dir", config.App.DownloadDir),
		zap.Int("workers", config.App.Workers),
		zap.Bool("telegram", config.Telegram.Enabled))

	if err := os.MkdirAll(config.App.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}
	if err := os.MkdirAll(config.App.WorkDir, 0o755); err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}

	credProvider, err := creds.NewProvider(config, logger.Named("creds"))
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	historyStore, err := history.NewStore(config.App.HistoryDB, logger.Named("history"))
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer historyStore.Close()

	delivered := store.NewDeliveredIndex(100000, 0.001)
	if keys, err := historyStore.DeliveredKeys(); err != nil {
		logger.Warn("Could not seed delivered index from history", zap.Error(err))
	} else {
		delivered.Load(keys)
		logger.Info("Delivered index seeded", zap.Int("keys", delivered.Size()))
	}

	limiter := ratelimit.New(map[core.Platform]int{
		core.PlatformNetease:      config.Netease.RatePerMin,
		core.PlatformAppleMusic:   config.Apple.RatePerMin,
		core.PlatformYouTubeMusic: config.YouTube.RatePerMin,
	})

	registry := resolver.NewRegistry(
		resolver.NewNetease(config.App.ProxyURL, logger.Named("netease")),
		resolver.NewAppleMusic(config.Apple.Storefront, config.App.ProxyURL, logger.Named("applemusic")),
		resolver.NewYouTubeMusic(config.App.ProxyURL, logger.Named("ytmusic")),
	)

	fetcher := fetch.New(limiter, config.App.MaxRetries,
		time.Duration(config.App.RetryDelaySecs)*time.Second, logger.Named("fetch"))
	writer := tag.NewWriter(tag.NewCoverFetcher(), logger.Named("tag"))
	fsSink := deliver.NewFSSink(config.App.DownloadDir, logger.Named("deliver"))

	frontend := bot.New(&bot.Config{
		BotToken: config.Telegram.BotToken,
		ChatID:   config.Telegram.ChatID,
		Enabled:  config.Telegram.Enabled,
	}, logger.Named("bot"))

	var relay core.Sink
	var notifier core.Notifier
	if config.Telegram.Enabled {
		relay = deliver.NewTelegramSink(frontend, config.Telegram.ChatID, fsSink, logger.Named("relay"))
		notifier = frontend
	}

	httpServer := httpserver.NewServer(&config.Server, logger.Named("http"))

	orchestrator := core.NewOrchestrator(config, core.Deps{
		Classifier: router.New(),
		Resolvers:  registry,
		Selector:   quality.New(),
		Fetcher:    fetcher,
		Writer:     writer,
		Sink:       fsSink,
		Relay:      relay,
		History:    historyStore,
		Delivered:  delivered,
		Creds:      credProvider,
		Notifier:   notifier,
		Metrics:    httpServer,
	}, logger.Named("orchestrator"))

	httpServer.BindJobs(orchestrator)
	frontend.Bind(orchestrator)

	g, gCtx := errgroup.WithContext(ctx)
	orchestrator.Start(gCtx)

	g.Go(func() error {
		return httpServer.Start(gCtx)
	})

	g.Go(func() error {
		return frontend.Start(gCtx)
	})

	g.Go(func() error {
		if err := credProvider.Watch(gCtx); err != nil {
			logger.Warn("Credential watching unavailable", zap.Error(err))
		}
		<-gCtx.Done()
		return nil
	})

	logger.Info("tunepull started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("tunepull stopped with error", zap.Error(err))
		return err
	}

	logger.Info("tunepull stopped gracefully")
	return nil
}
