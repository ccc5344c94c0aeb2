package bot

import (
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"mlm-platform/internal/config"
)

// WhitelistMiddleware ignores group chats that are not whitelisted.
// Private chats are always served since every member command is personal.
func WhitelistMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			if chat == nil || c.Sender() == nil {
				return nil
			}
			if chat.Type == tele.ChatPrivate {
				return next(c)
			}
			if !cfg.IsChatAllowed(chat.ID) {
				log.Debug().
					Int64("chat_id", chat.ID).
					Msg("Ignoring command from non-whitelisted chat")
				return nil
			}
			return next(c)
		}
	}
}

// PrivateOnlyMiddleware rejects a command outside a private chat.
func PrivateOnlyMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			if chat == nil || chat.Type != tele.ChatPrivate {
				return c.Reply("🔒 Please use this command in a private chat with the bot")
			}
			return next(c)
		}
	}
}

// AdminMiddleware lets only configured platform admins run batch commands.
// Every attempt is logged for audit.
func AdminMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}
			command := commandOf(c.Text())

			if !cfg.IsAdmin(sender.ID) {
				log.Warn().
					Int64("telegram_id", sender.ID).
					Str("command", command).
					Msg("Admin command refused")
				return c.Reply("⛔ Only platform admins can run " + command)
			}

			log.Info().
				Int64("admin_telegram_id", sender.ID).
				Str("command", command).
				Msg("Admin command accepted")
			return next(c)
		}
	}
}

// LoggingMiddleware logs each command with the caller's role, its latency
// and the handler error. Arguments are never logged: /start carries a link
// token and /transfer a recipient email.
func LoggingMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			start := time.Now()
			err := next(c)

			event := log.Debug()
			if err != nil {
				event = log.Error().Err(err)
			}
			if sender := c.Sender(); sender != nil {
				event = event.
					Int64("telegram_id", sender.ID).
					Str("role", roleOf(cfg, sender.ID))
			}
			if chat := c.Chat(); chat != nil {
				event = event.Str("chat_type", string(chat.Type))
			}
			event.
				Str("command", commandOf(c.Text())).
				Dur("latency", time.Since(start)).
				Msg("Telegram command")
			return err
		}
	}
}

func roleOf(cfg *config.Config, telegramID int64) string {
	if cfg.IsAdmin(telegramID) {
		return "admin"
	}
	return "member"
}

func commandOf(text string) string {
	for i, r := range text {
		if r == ' ' || r == '\n' {
			return text[:i]
		}
	}
	return text
}

// RecoveryMiddleware creates a middleware that recovers from panics.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Msg("Recovered from panic in handler")
					err = c.Reply("❌ Internal error, please try again later")
				}
			}()
			return next(c)
		}
	}
}
