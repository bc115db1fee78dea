package telegram

import (
	"context"
	"encoding/hex"
	"errors"
	"hash/fnv"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"leafscan/api/internal/logging"
)

// Updater is the part of *tgbotapi.BotAPI that fetches updates.
type Updater interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// PollingService long-polls Telegram and hands updates to the router. It is
// a supervised service.
type PollingService struct {
	Bot    Updater
	Router *Router
}

func (s *PollingService) Serve(ctx context.Context) error {
	log := logging.WithComponent("telegram")
	offset := 0
	const (
		baseDelay = 1 * time.Second
		maxDelay  = 15 * time.Second
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30

		updates, err := s.Bot.GetUpdates(u)
		if err != nil {
			d := min(max(retryDelayFromError(err), baseDelay), maxDelay)
			log.Warn().Err(err).Dur("retry_in", d).Msg("polling error")
			if !sleep(ctx, d) {
				return ctx.Err()
			}
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			s.Router.HandleUpdate(ctx, upd)
		}
		if len(updates) == 0 && !sleep(ctx, 200*time.Millisecond) {
			return ctx.Err()
		}
	}
}

func (s *PollingService) String() string { return "telegram-polling" }

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") {
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}

// WebhookPath is the secret path Telegram posts updates to.
func WebhookPath(token string) string {
	return "/webhook/" + shortHash(token)
}

// WebhookHandler decodes an update and dispatches it in the background so
// Telegram gets its 200 right away.
func (r *Router) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var upd tgbotapi.Update
		if err := json.NewDecoder(req.Body).Decode(&upd); err != nil {
			logging.Ctx(req.Context()).Warn().Err(err).Msg("bad webhook update")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		go r.HandleUpdate(logging.Detach(req.Context()), upd)
		w.WriteHeader(http.StatusOK)
	})
}

// shortHash is FNV-1a, hex encoded. It keeps the token out of the URL.
func shortHash(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}
