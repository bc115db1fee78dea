package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"leafscan/api/internal/logging"
	"leafscan/api/internal/metrics"
	"leafscan/api/internal/provider/types"
)

// breaker trips after at least 10 calls in a minute with 60% failures and
// stays open for 2 minutes. Only provider-side failures count: missing keys,
// rejected input and caller cancellation leave it alone.
type breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
}

func newBreaker(provider, op string) *breaker {
	name := provider + "-" + op
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= 0.6 {
				logging.Warn().Str("breaker", name).Uint32("failures", counts.TotalFailures).Msg("opening circuit")
				return true
			}
			return false
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return &breaker{name: name, cb: cb}
}

func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var ce *types.ConfigError
	if errors.As(err, &ce) {
		return true
	}
	var ue *types.UpstreamError
	if errors.As(err, &ue) {
		return !ue.Temporary()
	}
	return false
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (b *breaker) execute(provider string, fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		return nil, &types.UpstreamError{
			Provider: provider,
			Status:   http.StatusServiceUnavailable,
			Message:  "temporarily unavailable after repeated failures",
		}
	case err != nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return res, nil
}

type guardedIdentifier struct {
	Identifier
	b *breaker
}

// GuardIdentifier wraps id with its own circuit breaker.
func GuardIdentifier(id Identifier) Identifier {
	return &guardedIdentifier{Identifier: id, b: newBreaker(id.Name(), "identify")}
}

func (g *guardedIdentifier) Identify(ctx context.Context, images []types.Image) (types.Identification, error) {
	res, err := g.b.execute(g.Name(), func() (any, error) {
		return g.Identifier.Identify(ctx, images)
	})
	if err != nil {
		return types.Identification{}, err
	}
	return res.(types.Identification), nil
}

type guardedDiagnoser struct {
	Diagnoser
	b *breaker
}

// GuardDiagnoser wraps d with its own circuit breaker.
func GuardDiagnoser(d Diagnoser) Diagnoser {
	return &guardedDiagnoser{Diagnoser: d, b: newBreaker(d.Name(), "diagnose")}
}

func (g *guardedDiagnoser) Diagnose(ctx context.Context, images []types.Image) (types.Assessment, error) {
	res, err := g.b.execute(g.Name(), func() (any, error) {
		return g.Diagnoser.Diagnose(ctx, images)
	})
	if err != nil {
		return types.Assessment{}, err
	}
	return res.(types.Assessment), nil
}
