package deliver

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"tunepull/internal/core"
)

// BotClient hands out the chat client. Resolved per delivery because the
// frontend connects after wiring.
type BotClient interface {
	Client() *bot.Bot
}

// TelegramSink relays finished files to a Telegram chat as audio uploads,
// used for large files the submitter wants pushed instead of stored. The
// file also lands in the filesystem library first; the relay is additive.
type TelegramSink struct {
	bots   BotClient
	chatID int64
	fs     *FSSink
	logger *zap.Logger
}

func NewTelegramSink(bots BotClient, chatID int64, fs *FSSink, logger *zap.Logger) *TelegramSink {
	return &TelegramSink{bots: bots, chatID: chatID, fs: fs, logger: logger}
}

func (s *TelegramSink) Name() string { return "telegram" }

// Deliver stores the file via the filesystem sink, then uploads the stored
// copy. An upload failure fails the delivery; the library copy stays.
func (s *TelegramSink) Deliver(ctx context.Context, srcPath, relPath string) (core.DeliveryResult, error) {
	result, err := s.fs.Deliver(ctx, srcPath, relPath)
	if err != nil {
		return core.DeliveryResult{}, err
	}

	client := s.bots.Client()
	if client == nil {
		return core.DeliveryResult{}, &core.DeliveryError{Sink: s.Name(), Cause: "chat frontend not connected"}
	}

	file, err := os.Open(result.Path)
	if err != nil {
		return core.DeliveryResult{}, &core.DeliveryError{Sink: s.Name(), Cause: err.Error()}
	}
	defer file.Close()

	_, err = client.SendAudio(ctx, &bot.SendAudioParams{
		ChatID: s.chatID,
		Audio: &models.InputFileUpload{
			Filename: filepath.Base(result.Path),
			Data:     file,
		},
	})
	if err != nil {
		return core.DeliveryResult{}, &core.DeliveryError{Sink: s.Name(), Cause: err.Error()}
	}

	s.logger.Info("Relayed file to chat",
		zap.String("file", filepath.Base(result.Path)),
		zap.Int64("chat_id", s.chatID))
	return result, nil
}
