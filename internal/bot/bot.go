// Package bot provides the Telegram frontend: links posted in the chat
// become download jobs, and finished batches are reported back.
package bot

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"tunepull/internal/core"
)

var urlRe = regexp.MustCompile(`https?://[^\s]+`)

// Submitter is the orchestrator surface the bot drives.
type Submitter interface {
	Submit(link string) (string, error)
	Status(jobID string) (*core.DownloadJob, error)
}

type Config struct {
	BotToken string
	ChatID   int64
	Enabled  bool
}

// Bot wires chat messages to job submission. It also implements the batch
// notifier so submitters see per-batch outcomes in the chat.
type Bot struct {
	config *Config
	logger *zap.Logger
	jobs   Submitter
	bot    *bot.Bot
}

func New(config *Config, logger *zap.Logger) *Bot {
	return &Bot{
		config: config,
		logger: logger,
	}
}

// Bind attaches the job service. Called once during wiring, before Start;
// the frontend and the orchestrator reference each other.
func (b *Bot) Bind(jobs Submitter) {
	b.jobs = jobs
}

// Start connects to the Bot API and processes updates until ctx ends.
func (b *Bot) Start(ctx context.Context) error {
	if !b.config.Enabled {
		b.logger.Info("Telegram frontend is disabled, skipping initialization")
		return nil
	}

	tb, err := bot.New(b.config.BotToken,
		bot.WithDefaultHandler(b.handleUpdate),
	)
	if err != nil {
		return fmt.Errorf("creating Telegram bot: %w", err)
	}
	b.bot = tb

	b.logger.Info("Starting Telegram frontend",
		zap.Int64("chat_id", b.config.ChatID))
	tb.Start(ctx)
	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, tb *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" || b.jobs == nil {
		return
	}
	msg := update.Message
	if b.config.ChatID != 0 && msg.Chat.ID != b.config.ChatID {
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		b.reply(ctx, msg.Chat.ID, "Send me a track, album or playlist link and I'll fetch it.")
	case strings.HasPrefix(text, "/status"):
		b.handleStatus(ctx, msg.Chat.ID, text)
	default:
		b.handleLinks(ctx, msg.Chat.ID, text)
	}
}

func (b *Bot) handleLinks(ctx context.Context, chatID int64, text string) {
	links := urlRe.FindAllString(text, -1)
	if len(links) == 0 {
		return
	}

	for _, link := range links {
		jobID, err := b.jobs.Submit(link)
		if err != nil {
			b.logger.Warn("Submission from chat rejected",
				zap.String("link", link), zap.Error(err))
			b.reply(ctx, chatID, fmt.Sprintf("Can't handle that link: %v", err))
			continue
		}
		b.reply(ctx, chatID, fmt.Sprintf("Queued. Job %s", jobID))
	}
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64, text string) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		b.reply(ctx, chatID, "Usage: /status <job-id>")
		return
	}
	job, err := b.jobs.Status(fields[1])
	if err != nil {
		b.reply(ctx, chatID, "Job not found.")
		return
	}

	done, failed := 0, 0
	for _, t := range job.Tracks {
		switch t.State {
		case core.TrackDone:
			done++
		case core.TrackFailed:
			failed++
		}
	}
	b.reply(ctx, chatID, fmt.Sprintf("%s: %s (%d/%d done, %d failed)",
		job.ID, job.State, done, len(job.Tracks), failed))
}

// NotifyBatch reports a finished batch into the chat.
func (b *Bot) NotifyBatch(ctx context.Context, summary core.BatchSummary) {
	if b.bot == nil || b.config.ChatID == 0 {
		return
	}

	var sb strings.Builder
	title := summary.Title
	if title == "" {
		title = summary.JobID
	}
	fmt.Fprintf(&sb, "%s finished: %s (%d done, %d failed)",
		title, summary.State, summary.Done, summary.Failed)
	for name, kind := range summary.FailedTracks {
		fmt.Fprintf(&sb, "\n  failed: %s (%s)", name, kind)
	}
	b.reply(ctx, b.config.ChatID, sb.String())
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if b.bot == nil {
		return
	}
	if _, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		b.logger.Warn("Failed to send chat message", zap.Error(err))
	}
}

// Client exposes the underlying bot for the relay sink.
func (b *Bot) Client() *bot.Bot {
	return b.bot
}
