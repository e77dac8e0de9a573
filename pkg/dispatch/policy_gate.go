package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/launchpad/pkg/engine"
	"github.com/openfroyo/launchpad/pkg/launch"
	"github.com/openfroyo/launchpad/pkg/policy"
	"github.com/openfroyo/launchpad/pkg/telemetry"
)

// PolicyGateConfig configures a PolicyGate.
type PolicyGateConfig struct {
	// Environment is passed to policies as input.context.environment.
	Environment string

	// DryRun evaluates policies and logs denials without blocking.
	DryRun bool

	Logger zerolog.Logger
}

// PolicyGate evaluates admission policies before forwarding a descriptor.
// A denied launch never reaches the next dispatcher.
type PolicyGate struct {
	engine *policy.Engine
	next   Dispatcher
	cfg    PolicyGateConfig
	logger zerolog.Logger
}

// NewPolicyGate wraps next with admission control.
func NewPolicyGate(eng *policy.Engine, next Dispatcher, cfg PolicyGateConfig) *PolicyGate {
	return &PolicyGate{
		engine: eng,
		next:   next,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "policy-gate").Logger(),
	}
}

// Name returns "policy>" followed by the next dispatcher's name.
func (g *PolicyGate) Name() string { return "policy>" + Name(g.next) }

// Dispatch admits or denies d. Denials are reported as POLICY_DENIED
// errors and, when telemetry travels in ctx, as metrics and events.
func (g *PolicyGate) Dispatch(ctx context.Context, d *launch.Descriptor) error {
	if err := requireDescriptor(d); err != nil {
		return err
	}

	result, err := g.engine.EvaluateLaunch(ctx, d, &policy.PolicyContext{
		Environment: g.cfg.Environment,
		Timestamp:   time.Now(),
		Operation:   "launch",
		DryRun:      g.cfg.DryRun,
	})
	if err != nil {
		return engine.NewPermanentError("policy evaluation failed", err).
			WithCode(engine.ErrCodeInternal).
			WithResource(d.Identifier).
			WithOperation("admission")
	}

	for _, w := range result.Warnings {
		g.logger.Warn().
			Str("evaluator_id", d.Identifier).
			Str("policy", w.Policy).
			Msg(w.Message)
	}

	if !result.Allowed {
		tel := telemetry.FromTelemetryContext(ctx)
		for _, v := range result.Violations {
			g.logger.Warn().
				Str("evaluator_id", d.Identifier).
				Str("policy", v.Policy).
				Str("severity", string(v.Severity)).
				Bool("dry_run", g.cfg.DryRun).
				Msg(v.Message)
			if tel != nil {
				tel.Metrics.RecordPolicyDenial(v.Policy)
				_ = tel.Events.PublishPolicyViolation(d.Identifier, v.Policy, v.Message)
			}
		}
		if !g.cfg.DryRun {
			return result.Err(d.Identifier)
		}
	}

	return g.next.Dispatch(ctx, d)
}
