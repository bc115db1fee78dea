// Package telegram is the chat surface: photos sent to the bot go through
// the same identification pipeline as the HTTP API.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"leafscan/api/internal/compose"
	"leafscan/api/internal/logging"
	"leafscan/api/internal/quota"
)

// BotAPI is the part of *tgbotapi.BotAPI the router uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Identifier is satisfied by *compose.Composer.
type Identifier interface {
	Identify(ctx context.Context, req compose.Request) (compose.Response, error)
	Quota(token string) quota.Status
}

type Router struct {
	Bot      BotAPI
	Composer Identifier

	// Debounce is how long to wait for more photos of the same album.
	Debounce time.Duration
	// Timeout bounds one identification.
	Timeout time.Duration
	// RecordHistory stores results under "telegram:<user id>".
	RecordHistory bool

	HTTPClient *http.Client

	state chatState
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.IsCommand() {
		r.handleCommand(msg)
		return
	}
	if len(msg.Photo) > 0 {
		r.acceptPhoto(ctx, *msg)
		return
	}
	if msg.Document != nil {
		r.send(msg.Chat.ID, "Please send the picture as a photo, not as a file.")
		return
	}
	r.send(msg.Chat.ID, helpText)
}

const helpText = "Send me a photo of a plant and I will tell you what it is and whether it looks healthy.\n" +
	"You can send up to 5 photos of the same plant as an album.\n" +
	"Commands: /quota shows today's remaining scans."

func (r *Router) handleCommand(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		r.send(cid, helpText)
	case "quota":
		st := r.Composer.Quota(r.state.token(cid))
		r.send(cid, fmt.Sprintf("Scans left today: %d of %d.", st.Remaining, st.Limit))
	default:
		r.send(cid, "Unknown command. Try /help.")
	}
}

func (r *Router) send(chatID int64, text string) {
	r.sendMessage(tgbotapi.NewMessage(chatID, text))
}

func (r *Router) sendMarkdown(chatID int64, text string) {
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = tgbotapi.ModeMarkdown
	m.DisableWebPagePreview = true
	r.sendMessage(m)
}

func (r *Router) sendMessage(m tgbotapi.MessageConfig) {
	if _, err := r.Bot.Send(m); err != nil {
		logging.Warn().Err(err).Int64("chat_id", m.ChatID).Msg("telegram send failed")
	}
}

func (r *Router) debounce() time.Duration {
	if r.Debounce > 0 {
		return r.Debounce
	}
	return defaultDebounce
}

func (r *Router) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 60 * time.Second
}

func (r *Router) httpClient() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}
