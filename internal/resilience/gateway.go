package resilience

import (
	"context"
	"errors"

	"github.com/toecm/pureconvo/internal/inference"
)

// GatewayFallback is an [inference.Gateway] that fails over from the hosted
// service to other gateways, typically the self-hosted backend. Each
// operation walks the same breakers, so a service that keeps dropping
// connections is bypassed for every call until it recovers.
type GatewayFallback struct {
	group *FallbackGroup[inference.Gateway]
}

var _ inference.Gateway = (*GatewayFallback)(nil)

// NewGatewayFallback creates a [GatewayFallback] with primary as the
// preferred gateway. A cancelled caller never trips a breaker.
func NewGatewayFallback(primary inference.Gateway, primaryName string, cfg FallbackConfig) *GatewayFallback {
	if cfg.Stop == nil {
		cfg.Stop = func(err error) bool { return errors.Is(err, context.Canceled) }
	}
	return &GatewayFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another gateway.
func (g *GatewayFallback) AddFallback(name string, gw inference.Gateway) {
	g.group.AddFallback(name, gw)
}

// States reports each gateway's breaker state.
func (g *GatewayFallback) States() map[string]State {
	return g.group.States()
}

// Dialects implements [inference.Gateway].
func (g *GatewayFallback) Dialects(ctx context.Context) ([]string, error) {
	return ExecuteWithResult(g.group, func(gw inference.Gateway) ([]string, error) {
		return gw.Dialects(ctx)
	})
}

// Transcribe implements [inference.Gateway].
func (g *GatewayFallback) Transcribe(ctx context.Context, wav []byte, dialect string) (string, error) {
	return ExecuteWithResult(g.group, func(gw inference.Gateway) (string, error) {
		return gw.Transcribe(ctx, wav, dialect)
	})
}

// Clarify implements [inference.Gateway]. Parse problems are absorbed by
// each gateway, so only transport failures move on to the next one.
func (g *GatewayFallback) Clarify(ctx context.Context, text, dialect string) (inference.Clarification, error) {
	return ExecuteWithResult(g.group, func(gw inference.Gateway) (inference.Clarification, error) {
		return gw.Clarify(ctx, text, dialect)
	})
}

// GenerateMission implements [inference.Gateway].
func (g *GatewayFallback) GenerateMission(ctx context.Context, topic string) (inference.Prompt, error) {
	return ExecuteWithResult(g.group, func(gw inference.Gateway) (inference.Prompt, error) {
		return gw.GenerateMission(ctx, topic)
	})
}

// Submit implements [inference.Gateway]. A submission that timed out on one
// gateway may still have landed there, so failover can store it twice.
func (g *GatewayFallback) Submit(ctx context.Context, sub inference.Submission) (inference.Ack, error) {
	return ExecuteWithResult(g.group, func(gw inference.Gateway) (inference.Ack, error) {
		return gw.Submit(ctx, sub)
	})
}

// CloudSync reports the first gateway whose ledger is reachable. It reads
// breaker state but does not feed it, so health polling cannot open a
// breaker.
func (g *GatewayFallback) CloudSync(ctx context.Context) (inference.SyncStatus, error) {
	var (
		last    inference.SyncStatus
		lastErr error
	)
	for _, e := range g.group.entries {
		if e.breaker.State() == StateOpen {
			continue
		}
		st, err := e.value.CloudSync(ctx)
		if err == nil && st.OK {
			return st, nil
		}
		last, lastErr = st, err
	}
	if lastErr != nil {
		return last, lastErr
	}
	if last.Detail == "" {
		last.Detail = "no gateway available"
	}
	return last, nil
}
