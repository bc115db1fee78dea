package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"leafscan/api/internal/logging"
	"leafscan/api/internal/metrics"
	"leafscan/api/internal/provider/types"
	"leafscan/api/internal/util"
)

const maxErrorBody = 4 << 10

// DoJSON sends req and decodes a 2xx JSON answer into out. Non-2xx answers
// and transport failures become *types.UpstreamError; caller cancellation
// is returned as the context error.
func DoJSON(httpc *http.Client, req *http.Request, provider, op string, out any) error {
	ctx := req.Context()
	start := time.Now()

	resp, err := httpc.Do(req)
	if err != nil {
		metrics.RecordUpstream(provider, op, time.Since(start), http.StatusBadGateway)
		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("%s %s: %w", provider, op, ctx.Err())
		}
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		msg := transportMessage(err)
		logging.Ctx(ctx).Warn().Str("error", msg).Str("provider", provider).Str("op", op).Msg("upstream request failed")
		return &types.UpstreamError{Provider: provider, Status: status, Message: msg}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RecordUpstream(provider, op, time.Since(start), resp.StatusCode)
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := util.Truncate(string(b), 300)
		logging.Ctx(ctx).Warn().Str("provider", provider).Str("op", op).Int("status", resp.StatusCode).Str("body", msg).Msg("upstream error")
		return &types.UpstreamError{Provider: provider, Status: resp.StatusCode, Message: msg}
	}
	metrics.RecordUpstream(provider, op, time.Since(start), 0)

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &types.UpstreamError{Provider: provider, Status: http.StatusBadGateway, Message: "malformed response: " + err.Error()}
	}
	return nil
}

// transportMessage describes a transport failure without the query string,
// which may carry an API key.
func transportMessage(err error) string {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err.Error()
	}
	target := "upstream"
	if u, perr := url.Parse(ue.URL); perr == nil {
		u.RawQuery, u.User = "", nil
		target = u.String()
	}
	return fmt.Sprintf("%s %q: %v", ue.Op, target, ue.Err)
}
