package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"leafscan/api/internal/compose"
	"leafscan/api/internal/provider/types"
	"leafscan/api/internal/quota"
)

var jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	fileBase string
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	return b.fileBase + "/" + fileID, nil
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.sent))
	for i, m := range b.sent {
		out[i] = m.Text
	}
	return out
}

type fakeComposer struct {
	mu    sync.Mutex
	reqs  []compose.Request
	resp  compose.Response
	err   error
	limit int
}

func (f *fakeComposer) Identify(_ context.Context, req compose.Request) (compose.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func (f *fakeComposer) Quota(token string) quota.Status {
	if token == "" {
		return quota.Status{Allowed: true, Remaining: f.limit, Limit: f.limit}
	}
	return quota.Status{Allowed: true, Remaining: f.limit - 1, Limit: f.limit}
}

func (f *fakeComposer) requests() []compose.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]compose.Request(nil), f.reqs...)
}

func photoUpdate(chatID int64, fileID, group string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:         &tgbotapi.Chat{ID: chatID},
		From:         &tgbotapi.User{ID: 99},
		MediaGroupID: group,
		Photo:        []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: fileID}},
	}}
}

func commandUpdate(chatID int64, cmd string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     cmd,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func newRouter(t *testing.T, comp *fakeComposer) (*Router, *fakeBot) {
	t.Helper()
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(jpegBytes)
	}))
	t.Cleanup(files.Close)

	bot := &fakeBot{fileBase: files.URL}
	return &Router{
		Bot:           bot,
		Composer:      comp,
		Debounce:      20 * time.Millisecond,
		RecordHistory: true,
		HTTPClient:    files.Client(),
	}, bot
}

func waitForRequests(t *testing.T, comp *fakeComposer, n int) []compose.Request {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if reqs := comp.requests(); len(reqs) >= n {
			return reqs
		}
		if time.Now().After(deadline) {
			t.Fatalf("composer saw %d requests, want %d", len(comp.requests()), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAlbumIsOneRequest(t *testing.T) {
	comp := &fakeComposer{limit: 20, resp: compose.Response{
		Result: types.IdentifyResult{
			Matches:        []types.PlantMatch{{Name: "Aloe", ScientificName: "Aloe vera", Confidence: 0.8}},
			RemainingQuota: 19,
		},
		Quota: compose.QuotaInfo{Remaining: 19, Limit: 20, Token: "tok-1"},
	}}
	r, bot := newRouter(t, comp)
	ctx := context.Background()

	r.HandleUpdate(ctx, photoUpdate(7, "a", "album-1"))
	r.HandleUpdate(ctx, photoUpdate(7, "b", "album-1"))

	reqs := waitForRequests(t, comp, 1)
	if len(reqs[0].Images) != 2 {
		t.Fatalf("images = %d, want 2", len(reqs[0].Images))
	}
	if reqs[0].Images[0].MIME != "image/jpeg" || reqs[0].UserID != "telegram:99" || reqs[0].QuotaToken != "" {
		t.Errorf("request = %+v", reqs[0])
	}

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(strings.Join(bot.texts(), "\n"), "Aloe vera") {
		if time.Now().After(deadline) {
			t.Fatalf("result not sent: %q", bot.texts())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// the next scan in this chat carries the token from the last one
	r.HandleUpdate(ctx, photoUpdate(7, "c", ""))
	reqs = waitForRequests(t, comp, 2)
	if reqs[1].QuotaToken != "tok-1" {
		t.Errorf("token = %q", reqs[1].QuotaToken)
	}
}

func TestEnqueueSkipsTakenBatch(t *testing.T) {
	r := &Router{Debounce: time.Hour}
	const key = "chat:7"

	taken := &photoBatch{ChatID: 7, Key: key}
	r.state.batches.Store(key, taken)
	taken.mu.Lock()

	done := make(chan bool, 1)
	go func() { done <- r.enqueue(key, 7, 99, jpegBytes, func() {}) }()

	// let enqueue reach the lock, then take the batch the way processBatch does
	time.Sleep(20 * time.Millisecond)
	r.state.batches.LoadAndDelete(key)
	taken.mu.Unlock()

	select {
	case first := <-done:
		if !first {
			t.Error("photo did not open a fresh batch")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue did not return")
	}

	if len(taken.images) != 0 {
		t.Errorf("photo went into the taken batch")
	}
	bi, ok := r.state.batches.Load(key)
	if !ok {
		t.Fatal("no batch for the photo")
	}
	fresh := bi.(*photoBatch)
	fresh.mu.Lock()
	defer fresh.mu.Unlock()
	if fresh == taken || len(fresh.images) != 1 || fresh.UserID != 99 {
		t.Errorf("fresh batch = %+v", fresh)
	}
	fresh.timer.Stop()
}

func TestIdentifyErrorIsReported(t *testing.T) {
	comp := &fakeComposer{limit: 20, err: &types.QuotaExceededError{Limit: 20}}
	r, bot := newRouter(t, comp)

	r.HandleUpdate(context.Background(), photoUpdate(8, "a", ""))
	waitForRequests(t, comp, 1)

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(strings.Join(bot.texts(), "\n"), "Daily limit reached (20 scans per day)") {
		if time.Now().After(deadline) {
			t.Fatalf("error not sent: %q", bot.texts())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCommands(t *testing.T) {
	comp := &fakeComposer{limit: 20}
	r, bot := newRouter(t, comp)

	r.HandleUpdate(context.Background(), commandUpdate(1, "/quota"))
	r.HandleUpdate(context.Background(), commandUpdate(1, "/start"))
	r.HandleUpdate(context.Background(), commandUpdate(1, "/nope"))

	texts := bot.texts()
	if len(texts) != 3 {
		t.Fatalf("sent = %q", texts)
	}
	if texts[0] != "Scans left today: 20 of 20." {
		t.Errorf("quota = %q", texts[0])
	}
	if !strings.Contains(texts[1], "Send me a photo") || !strings.Contains(texts[2], "Unknown command") {
		t.Errorf("texts = %q", texts)
	}
}

func TestFormatResult(t *testing.T) {
	res := types.IdentifyResult{
		Matches: []types.PlantMatch{
			{
				Name: "Snake plant", ScientificName: "Dracaena_trifasciata", Confidence: 0.914,
				Description: "Hardy succulent.",
				Care:        types.Care{Light: "Bright indirect light", Water: types.WaterLow, Soil: "Well-drained potting mix"},
				GCIURL:      "https://gci.example.org/dracaena-trifasciata",
			},
			{Name: "Aloe", ScientificName: "Aloe vera", Confidence: 0.05},
		},
		IsHealthy:       types.Bool(false),
		HealthDiagnoses: []types.HealthDiagnosis{{Condition: "Root rot", Confidence: 0.42, Treatment: types.TreatmentFallback}},
		RemainingQuota:  3,
	}
	out := FormatResult(res, 20)

	for _, want := range []string{
		"*Snake plant* (_Dracaena\\_trifasciata_) 91%",
		types.WaterLow,
		"🔗 https://gci.example.org/dracaena-trifasciata",
		"2. Aloe (_Aloe vera_) 5%",
		"⚠️ Possible problems",
		"*Root rot* 42%",
		"Scans left today: 3 of 20.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	empty := FormatResult(types.EmptyResult(5), 20)
	if !strings.Contains(empty, "could not find a plant") || strings.Contains(empty, "healthy") {
		t.Errorf("empty = %q", empty)
	}
}

func TestErrorText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&types.UpstreamError{Status: 503}, "Plant identification service returned an error (503)."},
		{&types.ValidationError{Message: "No images provided."}, "No images provided."},
		{&types.ConfigError{Key: "PLANT_ID_API_KEY"}, "Plant identification is not configured on this server."},
		{errors.New("secret detail"), "An unexpected error occurred."},
	}
	for _, tt := range tests {
		if got := ErrorText(tt.err); got != tt.want {
			t.Errorf("ErrorText(%v) = %q", tt.err, got)
		}
	}
}

type fakeUpdater struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeUpdater) GetUpdates(c tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 {
		return []tgbotapi.Update{{UpdateID: 10, Message: commandUpdate(3, "/start").Message}}, nil
	}
	if c.Offset != 11 {
		f.fail = true
	}
	return nil, nil
}

func TestPollingAdvancesOffset(t *testing.T) {
	upd := &fakeUpdater{}
	r, bot := newRouter(t, &fakeComposer{limit: 20})
	svc := &PollingService{Bot: upd, Router: r}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := svc.Serve(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve = %v", err)
	}

	upd.mu.Lock()
	defer upd.mu.Unlock()
	if upd.calls < 2 || upd.fail {
		t.Errorf("calls = %d, wrong offset = %v", upd.calls, upd.fail)
	}
	if len(bot.texts()) != 1 {
		t.Errorf("sent = %q", bot.texts())
	}
}

func TestRetryDelay(t *testing.T) {
	if d := retryDelayFromError(errors.New("Too Many Requests: retry after 7")); d != 7*time.Second {
		t.Errorf("429 delay = %v", d)
	}
	if d := retryDelayFromError(errors.New("bad gateway")); d != time.Second {
		t.Errorf("default delay = %v", d)
	}
}

func TestWebhookPathIsStable(t *testing.T) {
	a, b := WebhookPath("123:abc"), WebhookPath("123:abc")
	if a != b || !strings.HasPrefix(a, "/webhook/") || strings.Contains(a, "abc") || len(a) != len("/webhook/")+16 {
		t.Errorf("path = %q", a)
	}
}

func TestWebhookHandler(t *testing.T) {
	comp := &fakeComposer{limit: 20}
	r, bot := newRouter(t, comp)
	h := r.WebhookHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/x", strings.NewReader(
		`{"update_id":1,"message":{"message_id":1,"date":0,"chat":{"id":5,"type":"private"},"text":"/quota","entities":[{"type":"bot_command","offset":0,"length":6}]}}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	deadline := time.Now().Add(time.Second)
	for len(bot.texts()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("update not dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/x", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: %d", rec.Code)
	}
}
