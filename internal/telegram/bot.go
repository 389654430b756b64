// Package telegram connects the conversation machine to the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/danpilch/mrtbot/internal/catalog"
	"github.com/danpilch/mrtbot/internal/conversation"
)

// Handler answers conversation events and drops the state of chats the bot
// was removed from.
type Handler interface {
	Handle(ctx context.Context, ev conversation.Event)
	Forget(chatID int64)
}

type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot is the Telegram side of the conversation. It implements
// conversation.Replier.
type Bot struct {
	bot    *tgbotapi.BotAPI
	api    api
	logger *logrus.Logger

	wg sync.WaitGroup
}

func NewBot(token string, logger *logrus.Logger) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}

	logger.WithField("username", bot.Self.UserName).Info("authorized telegram bot")

	return &Bot{bot: bot, api: bot, logger: logger}, nil
}

func refreshMarkup() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Refresh 🔄", refreshData),
		),
	)
}

func (b *Bot) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

func (b *Bot) SendPhoto(chatID int64, path, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = caption
	if _, err := b.api.Send(photo); err != nil {
		return fmt.Errorf("sending photo %s: %w", path, err)
	}
	return nil
}

func (b *Bot) SendReport(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = refreshMarkup()
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("sending report: %w", err)
	}
	return nil
}

func (b *Bot) EditReport(chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, refreshMarkup())
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(edit); err != nil {
		return fmt.Errorf("editing report: %w", err)
	}
	return nil
}

func (b *Bot) AnswerRefresh(callbackID, text string) error {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answering callback: %w", err)
	}
	return nil
}

// RegisterCommands publishes the command menu built from the station catalog.
func (b *Bot) RegisterCommands(stations []catalog.Station) error {
	commands, dropped := commandList(stations)
	if dropped > 0 {
		b.logger.WithFields(logrus.Fields{
			"registered": len(commands),
			"dropped":    dropped,
		}).Warn("some station commands left out of the bot menu")
	}

	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		return fmt.Errorf("registering bot commands: %w", err)
	}

	b.logger.WithField("commands", len(commands)).Info("registered bot commands")
	return nil
}

// Run polls for updates until ctx is cancelled. Each update is handled in its
// own goroutine; Run returns once all of them have finished.
func (b *Bot) Run(ctx context.Context, h Handler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.bot.GetUpdatesChan(u)

	b.dispatch(ctx, updates, h)

	b.bot.StopReceivingUpdates()
	b.wg.Wait()
	b.logger.Info("telegram polling stopped")
}

func (b *Bot) dispatch(ctx context.Context, updates <-chan tgbotapi.Update, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if chatID, ended := chatEnded(update); ended {
				b.logger.WithField("chat_id", chatID).Info("bot removed from chat")
				h.Forget(chatID)
				continue
			}
			ev, ok := toEvent(update)
			if !ok {
				b.logger.WithField("update_id", update.UpdateID).Debug("ignoring update")
				continue
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				h.Handle(ctx, ev)
			}()
		}
	}
}
