// Package telegram provides the outbound notifier and the inbound command
// surface over the Telegram Bot API. Commands are authorized against a
// configured allowlist of user ids.
package telegram

import (
	"context"
	"fmt"
	"strings"

	"signal-bot/internal/cfg"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Controller is the runner surface the command handler drives.
type Controller interface {
	StatusText() string
	PositionsText() string
	Pause()
	Resume()
	EmergencyStop()
	ResetCooldown()
	CloseAll(ctx context.Context) error
	CloseSymbol(ctx context.Context, symbol string) error
}

// Bot is the Telegram notifier plus command loop.
type Bot struct {
	api     *tgbotapi.BotAPI
	chatID  int64
	allowed map[int64]bool
}

// New connects to the Bot API. An empty token disables Telegram and returns
// a nil *Bot, which is safe to use as a no-op notifier.
func New(c cfg.TelegramConfig) (*Bot, error) {
	if c.Token == "" {
		log.Info().Msg("telegram token not configured, notifications disabled")
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(c.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	log.Info().Str("account", api.Self.UserName).Msg("telegram bot authorized")

	allowed := make(map[int64]bool, len(c.AllowedUserIDs))
	for _, id := range c.AllowedUserIDs {
		allowed[id] = true
	}
	return &Bot{api: api, chatID: c.ChatID, allowed: allowed}, nil
}

// Notify sends free-form text to the configured chat. Safe on a nil Bot.
func (b *Bot) Notify(text string) {
	if b == nil || b.chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("telegram send failed")
	}
}

// Run consumes inbound commands until the context is cancelled. Safe on a
// nil Bot (returns immediately).
func (b *Bot) Run(ctx context.Context, ctl Controller) {
	if b == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			if !b.allowed[update.Message.From.ID] {
				log.Warn().
					Int64("user_id", update.Message.From.ID).
					Msg("command from unauthorized user ignored")
				continue
			}
			reply := b.dispatch(ctx, ctl, update.Message.Text)
			if reply != "" {
				msg := tgbotapi.NewMessage(update.Message.Chat.ID, reply)
				if _, err := b.api.Send(msg); err != nil {
					log.Warn().Err(err).Msg("telegram reply failed")
				}
			}
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, ctl Controller, text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "status":
		return ctl.StatusText()
	case "positions":
		return ctl.PositionsText()
	case "pause":
		ctl.Pause()
		return "Paused: no new signals will be accepted."
	case "resume":
		ctl.Resume()
		return "Resumed automatic operation."
	case "closeall":
		if err := ctl.CloseAll(ctx); err != nil {
			return fmt.Sprintf("Close-all finished with an error: %v", err)
		}
		return "All positions closed."
	case "close":
		if len(fields) < 2 {
			return "Usage: close <symbol>"
		}
		symbol := strings.ToUpper(fields[1])
		if err := ctl.CloseSymbol(ctx, symbol); err != nil {
			return fmt.Sprintf("Close %s failed: %v", symbol, err)
		}
		return fmt.Sprintf("%s closed.", symbol)
	case "stop":
		ctl.EmergencyStop()
		return "EMERGENCY STOP engaged."
	case "resetcooldown":
		ctl.ResetCooldown()
		return "Cooldown reset."
	}
	return "Commands: status, positions, pause, resume, closeall, close <symbol>, stop, resetcooldown"
}
