// Package compose runs one identification request end to end: validation,
// quota, provider fan-out, result shaping and history.
package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"leafscan/api/internal/logging"
	"leafscan/api/internal/metrics"
	"leafscan/api/internal/provider"
	"leafscan/api/internal/provider/types"
	"leafscan/api/internal/quota"
	"leafscan/api/internal/store"
)

// Recorder accepts history records without blocking.
type Recorder interface {
	Submit(rec store.Record) bool
}

type Options struct {
	MaxImages     int
	MaxImageBytes int64
}

type Request struct {
	Images     []types.Image
	QuotaToken string
	UserID     string
	// Provider overrides the configured identification provider.
	Provider string
}

type QuotaInfo struct {
	Remaining int
	Limit     int
	// Token is the new client-held quota state.
	Token string
}

type Response struct {
	Result types.IdentifyResult
	Quota  QuotaInfo
}

type DiagnoseResponse struct {
	Assessment types.Assessment
	Quota      QuotaInfo
}

type Composer struct {
	reg     *provider.Registry
	tracker *quota.Tracker
	codec   quota.Codec
	history Recorder
	opts    Options
}

// New builds a Composer. history may be nil when persistence is disabled.
func New(reg *provider.Registry, tracker *quota.Tracker, codec quota.Codec, history Recorder, opts Options) *Composer {
	if opts.MaxImages <= 0 || opts.MaxImages > types.MaxImages {
		opts.MaxImages = types.MaxImages
	}
	if codec == nil {
		codec = quota.JSONCodec{}
	}
	return &Composer{reg: reg, tracker: tracker, codec: codec, history: history, opts: opts}
}

// Quota reports the status for a client token without changing it.
func (c *Composer) Quota(token string) quota.Status {
	return c.tracker.Check(c.codec.Decode(token))
}

func (c *Composer) validate(images []types.Image) error {
	if len(images) == 0 {
		return &types.ValidationError{Message: "No images provided."}
	}
	if len(images) > c.opts.MaxImages {
		return &types.ValidationError{Message: fmt.Sprintf("Too many images: at most %d per request.", c.opts.MaxImages)}
	}
	for i, img := range images {
		if len(img.Data) == 0 {
			return &types.ValidationError{Message: fmt.Sprintf("Image %d is empty.", i+1)}
		}
		if c.opts.MaxImageBytes > 0 && int64(len(img.Data)) > c.opts.MaxImageBytes {
			return &types.ValidationError{
				Message:  fmt.Sprintf("Image %d exceeds the %d MB limit.", i+1, c.opts.MaxImageBytes>>20),
				TooLarge: true,
			}
		}
		if !strings.HasPrefix(img.MIME, "image/") {
			return &types.ValidationError{Message: fmt.Sprintf("Image %d is not a supported image type.", i+1)}
		}
	}
	return nil
}

// admit validates the request and checks the quota. It returns the decoded
// quota state for a later consume.
func (c *Composer) admit(req Request) (quota.State, error) {
	if err := c.validate(req.Images); err != nil {
		return quota.State{}, err
	}
	state := c.codec.Decode(req.QuotaToken)
	if st := c.tracker.Check(state); !st.Allowed {
		metrics.QuotaRejections.Inc()
		return quota.State{}, &types.QuotaExceededError{Limit: st.Limit}
	}
	return state, nil
}

func (c *Composer) consume(ctx context.Context, state quota.State) QuotaInfo {
	next, remaining := c.tracker.Consume(state)
	tok, err := c.codec.Encode(next)
	if err != nil {
		// the scan already happened; the client keeps its old token
		logging.Ctx(ctx).Error().Err(err).Msg("encode quota token")
	}
	return QuotaInfo{Remaining: remaining, Limit: c.tracker.Limit(), Token: tok}
}

// Identify identifies the plant in req.Images and, when a health provider
// is configured, assesses its health.
func (c *Composer) Identify(ctx context.Context, req Request) (Response, error) {
	log := logging.Ctx(ctx)

	state, err := c.admit(req)
	if err != nil {
		metrics.IdentifyRequests.WithLabelValues("none", outcome(err)).Inc()
		return Response{}, err
	}

	idp, err := c.reg.Identifier(req.Provider)
	if err != nil {
		metrics.IdentifyRequests.WithLabelValues("none", outcome(err)).Inc()
		return Response{}, err
	}

	diag, hasHealth := c.reg.Diagnoser()
	separateHealth := hasHealth && diag.Name() != idp.Name()

	var (
		ident     types.Identification
		health    types.Assessment
		healthErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ident, err = idp.Identify(gctx, req.Images)
		return err
	})
	if separateHealth {
		g.Go(func() error {
			health, healthErr = diag.Diagnose(gctx, req.Images)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.IdentifyRequests.WithLabelValues(idp.Name(), outcome(err)).Inc()
		log.Warn().Err(err).Str("provider", idp.Name()).Msg("identification failed")
		return Response{}, err
	}

	if !ident.SpeciesDetected {
		q := c.consume(ctx, state)
		metrics.IdentifyRequests.WithLabelValues(idp.Name(), "no_plant").Inc()
		log.Info().Str("provider", idp.Name()).Int("remaining", q.Remaining).Msg("no plant detected")
		return Response{Result: types.EmptyResult(q.Remaining), Quota: q}, nil
	}

	res := types.IdentifyResult{
		Matches:         shapeMatches(ident.Matches),
		HealthDiagnoses: []types.HealthDiagnosis{},
	}

	switch {
	case separateHealth && healthErr != nil:
		metrics.HealthDegraded.WithLabelValues(diag.Name()).Inc()
		log.Warn().Err(&types.HealthUpstreamError{Err: healthErr}).Str("provider", diag.Name()).Msg("health degraded")
	case separateHealth:
		res.IsHealthy = health.IsHealthy
		res.HealthDiagnoses = types.FilterDiagnoses(health.Diagnoses)
	case ident.Health != nil:
		res.IsHealthy = ident.Health.IsHealthy
		res.HealthDiagnoses = types.FilterDiagnoses(ident.Health.Diagnoses)
	}

	q := c.consume(ctx, state)
	res.RemainingQuota = q.Remaining

	c.record(ctx, req.UserID, res)

	metrics.IdentifyRequests.WithLabelValues(idp.Name(), "ok").Inc()
	log.Info().
		Str("provider", idp.Name()).
		Int("matches", len(res.Matches)).
		Int("remaining", q.Remaining).
		Msg("identified")
	return Response{Result: res, Quota: q}, nil
}

// Diagnose runs only the health provider. Its failure is the request's
// failure here.
func (c *Composer) Diagnose(ctx context.Context, req Request) (DiagnoseResponse, error) {
	diag, ok := c.reg.Diagnoser()
	if !ok {
		return DiagnoseResponse{}, &types.ConfigError{Provider: "health", Key: "HEALTH_PROVIDER"}
	}
	state, err := c.admit(req)
	if err != nil {
		return DiagnoseResponse{}, err
	}

	a, err := diag.Diagnose(ctx, req.Images)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("provider", diag.Name()).Msg("health assessment failed")
		return DiagnoseResponse{}, err
	}
	a.Diagnoses = types.FilterDiagnoses(a.Diagnoses)

	return DiagnoseResponse{Assessment: a, Quota: c.consume(ctx, state)}, nil
}

func (c *Composer) record(ctx context.Context, userID string, res types.IdentifyResult) {
	if c.history == nil {
		return
	}
	rec, ok := store.NewRecord(userID, res)
	if !ok {
		return
	}
	rec.RequestID = logging.RequestIDFromContext(ctx)
	c.history.Submit(rec)
}

func shapeMatches(in []types.PlantMatch) []types.PlantMatch {
	ms := types.TruncateMatches(in)
	out := make([]types.PlantMatch, len(ms))
	for i, m := range ms {
		if strings.TrimSpace(m.Description) == "" {
			m.Description = types.FallbackDescription(m.ScientificName, m.Confidence)
		}
		m.SimilarImages = types.TruncateSimilar(m.SimilarImages)
		out[i] = m
	}
	return out
}

func outcome(err error) string {
	var (
		ce *types.ConfigError
		qe *types.QuotaExceededError
		ve *types.ValidationError
		ue *types.UpstreamError
	)
	switch {
	case errors.As(err, &qe):
		return "quota"
	case errors.As(err, &ve):
		return "invalid"
	case errors.As(err, &ce):
		return "config"
	case errors.As(err, &ue):
		return "upstream"
	default:
		return "error"
	}
}
