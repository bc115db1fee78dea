package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"leafscan/api/internal/compose"
	"leafscan/api/internal/logging"
	"leafscan/api/internal/provider/types"
	"leafscan/api/internal/util"
)

func (r *Router) acceptPhoto(ctx context.Context, msg tgbotapi.Message) {
	cid := msg.Chat.ID
	// the last size is the largest
	ph := msg.Photo[len(msg.Photo)-1]
	url, err := r.Bot.GetFileDirectURL(ph.FileID)
	if err != nil {
		logging.Warn().Err(err).Int64("chat_id", cid).Msg("telegram get file")
		r.send(cid, "Could not fetch the photo from Telegram. Please try again.")
		return
	}
	img, err := r.download(ctx, url)
	if err != nil {
		logging.Warn().Err(err).Int64("chat_id", cid).Msg("telegram download")
		r.send(cid, "Could not fetch the photo from Telegram. Please try again.")
		return
	}

	key := "chat:" + strconv.FormatInt(cid, 10)
	if msg.MediaGroupID != "" {
		key = "grp:" + msg.MediaGroupID
	}
	var uid int64
	if msg.From != nil {
		uid = msg.From.ID
	}

	first := r.enqueue(key, cid, uid, img, func() { r.processBatch(logging.Detach(ctx), key) })
	if first {
		r.send(cid, "Photo received, looking at it…")
	}
}

// enqueue adds img to the batch under key and re-arms its timer. It reports
// whether img opened the batch.
func (r *Router) enqueue(key string, chatID, userID int64, img []byte, fire func()) bool {
	for {
		bi, _ := r.state.batches.LoadOrStore(key, &photoBatch{ChatID: chatID, UserID: userID, Key: key})
		b := bi.(*photoBatch)

		b.mu.Lock()
		// processBatch may have taken b between LoadOrStore and Lock
		if cur, ok := r.state.batches.Load(key); !ok || cur != b {
			b.mu.Unlock()
			continue
		}
		b.images = append(b.images, img)
		first := len(b.images) == 1
		if b.timer != nil {
			b.timer.Stop()
		}
		b.timer = time.AfterFunc(r.debounce(), fire)
		b.mu.Unlock()
		return first
	}
}

func (r *Router) processBatch(ctx context.Context, key string) {
	bi, ok := r.state.batches.LoadAndDelete(key)
	if !ok {
		return
	}
	b := bi.(*photoBatch)

	b.mu.Lock()
	raw := append([][]byte(nil), b.images...)
	chatID, userID := b.ChatID, b.UserID
	b.mu.Unlock()

	if len(raw) == 0 {
		return
	}
	if len(raw) > types.MaxImages {
		r.send(chatID, fmt.Sprintf("Only the first %d photos are used.", types.MaxImages))
		raw = raw[:types.MaxImages]
	}

	images := make([]types.Image, 0, len(raw))
	for i, data := range raw {
		mt, err := util.PickMIME("", "image/jpeg", data)
		if err != nil {
			continue
		}
		images = append(images, types.Image{Data: data, MIME: mt, Name: fmt.Sprintf("photo-%d.jpg", i+1)})
	}

	ctx = logging.ContextWithRequestID(ctx, logging.GenerateRequestID())
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	req := compose.Request{Images: images, QuotaToken: r.state.token(chatID)}
	if r.RecordHistory && userID != 0 {
		req.UserID = "telegram:" + strconv.FormatInt(userID, 10)
	}

	resp, err := r.Composer.Identify(ctx, req)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("chat_id", chatID).Msg("telegram identify failed")
		r.send(chatID, ErrorText(err))
		return
	}
	r.state.setToken(chatID, resp.Quota.Token)
	r.sendMarkdown(chatID, FormatResult(resp.Result, resp.Quota.Limit))
}

func (r *Router) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxPhotoBytes {
		return nil, fmt.Errorf("photo larger than %d bytes", maxPhotoBytes)
	}
	return data, nil
}
