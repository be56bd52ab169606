package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// Orchestrator applies an ordered list of verifiers to each request and
// produces exactly one of: an AuthContext, or a terminal error. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	verifiers []Verifier
	log       *slog.Logger
}

// NewOrchestrator builds an orchestrator over verifiers in try-order. An
// empty verifier list disables authentication entirely: every request is
// allowed with a nil AuthContext. That is an operational escape hatch and
// is logged loudly here, once, rather than per request.
func NewOrchestrator(log *slog.Logger, verifiers ...Verifier) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if len(verifiers) == 0 {
		log.Warn("authentication disabled: no verifiers configured, all requests will be allowed")
	} else {
		names := make([]string, len(verifiers))
		for i, v := range verifiers {
			names[i] = string(v.Method())
		}
		log.Info("authentication enabled", slog.Any("methods", names))
	}
	return &Orchestrator{verifiers: verifiers, log: log}
}

// Enabled reports whether any verifier is configured.
func (o *Orchestrator) Enabled() bool { return len(o.verifiers) > 0 }

// Methods returns the configured try-order.
func (o *Orchestrator) Methods() []Method {
	ms := make([]Method, len(o.verifiers))
	for i, v := range o.verifiers {
		ms[i] = v.Method()
	}
	return ms
}

// Authenticate evaluates verifiers in configured order, first-match-wins.
// A verifier that finds no credential of its kind is passed over silently;
// a verifier that rejects a credential has its error recorded and the next
// verifier still runs. When the list is exhausted the aggregate *Failure is
// returned, except that an infrastructure error (ErrDiscovery) seen along
// the way takes precedence so the caller renders a 5xx instead of a 401.
//
// With zero configured verifiers the request is allowed with a nil
// AuthContext.
func (o *Orchestrator) Authenticate(ctx context.Context, r *http.Request) (*AuthContext, error) {
	if len(o.verifiers) == 0 {
		return nil, nil
	}

	failure := &Failure{Causes: make(map[Method]error)}
	var infraErr error

	for _, v := range o.verifiers {
		res := v.Verify(ctx, r)
		if res.Skipped() {
			continue
		}
		if ac, ok := res.Context(); ok {
			return ac, nil
		}

		err := res.Err()
		if errors.Is(err, ErrDiscovery) && infraErr == nil {
			infraErr = err
		}
		failure.Attempted = append(failure.Attempted, v.Method())
		failure.Causes[v.Method()] = err
		if ch := res.Challenge(); ch != "" {
			failure.challenges = append(failure.challenges, ch)
		}
	}

	if infraErr != nil {
		return nil, infraErr
	}
	return nil, failure
}
