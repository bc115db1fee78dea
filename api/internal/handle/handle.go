package handle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"leafscan/api/internal/compose"
	"leafscan/api/internal/logging"
	"leafscan/api/internal/provider/types"
	"leafscan/api/internal/quota"
	"leafscan/api/internal/store"
)

// HistoryLister reads a user's stored identifications.
type HistoryLister interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]store.Record, error)
}

type Options struct {
	CookieName      string
	CookieMaxAge    time.Duration
	MaxImageBytes   int64
	MaxRequestBytes int64
	RequestTimeout  time.Duration
}

type Handle struct {
	comp    *compose.Composer
	history HistoryLister
	opts    Options
}

// New returns the HTTP handlers. history may be nil when no database is
// configured.
func New(comp *compose.Composer, history HistoryLister, opts Options) *Handle {
	if opts.CookieName == "" {
		opts.CookieName = "plant_id_usage"
	}
	if opts.CookieMaxAge <= 0 {
		opts.CookieMaxAge = 24 * time.Hour
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	return &Handle{comp: comp, history: history, opts: opts}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Remaining *int   `json:"remaining,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
}

// writeError maps err onto a status and a message safe to show users. st,
// when non-nil, is the caller's current quota.
func writeError(w http.ResponseWriter, r *http.Request, err error, service string, st *quota.Status) {
	var (
		ce  *types.ConfigError
		qe  *types.QuotaExceededError
		ve  *types.ValidationError
		ue  *types.UpstreamError
		mbe *http.MaxBytesError
	)
	resp := errorResponse{Success: false}
	if st != nil {
		resp.Remaining, resp.Limit = &st.Remaining, &st.Limit
	}

	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &qe):
		code = http.StatusTooManyRequests
		zero, limit := 0, qe.Limit
		resp.Remaining, resp.Limit = &zero, &limit
		resp.Error = qe.Error()
	case errors.As(err, &ve):
		code = http.StatusBadRequest
		if ve.TooLarge {
			code = http.StatusRequestEntityTooLarge
		}
		resp.Error = ve.Message
	case errors.As(err, &mbe):
		code = http.StatusRequestEntityTooLarge
		resp.Error = fmt.Sprintf("Upload exceeds the %d MB limit.", mbe.Limit>>20)
	case errors.As(err, &ce):
		code = http.StatusServiceUnavailable
		resp.Error = fmt.Sprintf("%s is not configured on this server.", service)
	case errors.As(err, &ue):
		code = http.StatusBadGateway
		resp.Error = fmt.Sprintf("%s returned an error (%d).", service, ue.Status)
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
		resp.Error = fmt.Sprintf("%s did not respond in time.", service)
	default:
		resp.Error = "An unexpected error occurred."
	}

	ev := logging.Ctx(r.Context()).Warn()
	if !types.IsUserFacing(err) {
		ev = logging.Ctx(r.Context()).Error()
	}
	ev.Err(err).Int("status", code).Str("path", r.URL.Path).Msg("request failed")

	writeJSON(w, code, resp)
}

func (h *Handle) quotaToken(r *http.Request) string {
	c, err := r.Cookie(h.opts.CookieName)
	if err != nil {
		return ""
	}
	v, err := url.QueryUnescape(c.Value)
	if err != nil {
		return ""
	}
	return v
}

// setQuotaCookie stores the token where the browser UI can read it.
func (h *Handle) setQuotaCookie(w http.ResponseWriter, token string) {
	if token == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.CookieName,
		Value:    url.QueryEscape(token),
		Path:     "/",
		MaxAge:   int(h.opts.CookieMaxAge / time.Second),
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}
