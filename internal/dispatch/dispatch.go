// Package dispatch decides, per domain operation, whether the external REST
// backend or the local RPC backend serves it. The backend is chosen once per
// process; there is never a fallback from one to the other.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/chatbridge/internal/config"
	"github.com/ashureev/chatbridge/internal/restapi"
)

var (
	// ErrNotAuthenticated is returned in external mode when no token is
	// stored. It is the same sentinel the REST client uses.
	ErrNotAuthenticated = restapi.ErrNotAuthenticated

	// ErrUnsupported is returned when the active backend has no
	// implementation of an operation.
	ErrUnsupported = errors.New("operation not supported by the active backend")
)

// Mode is the process-wide backend selection.
type Mode int

const (
	ModeLocal Mode = iota
	ModeExternal
)

func (m Mode) String() string {
	switch m {
	case ModeLocal:
		return "local"
	case ModeExternal:
		return "external"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ModeFromConfig maps the configured backend to a Mode.
func ModeFromConfig(cfg *config.Config) Mode {
	if cfg.Mode() == config.BackendExternal {
		return ModeExternal
	}
	return ModeLocal
}

// Target is the backend chosen for one invocation.
type Target int

const (
	TargetLocal Target = iota
	TargetExternal
	// TargetUnauthenticated means external mode is active but no token is
	// stored. Nothing is called.
	TargetUnauthenticated
)

func (t Target) String() string {
	switch t {
	case TargetLocal:
		return "local"
	case TargetExternal:
		return "external"
	case TargetUnauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("Target(%d)", int(t))
	}
}

// Route is the pure routing rule. The operation does not influence the
// result; every operation follows the process mode.
func Route(_ Operation, mode Mode, hasToken bool) Target {
	if mode != ModeExternal {
		return TargetLocal
	}
	if !hasToken {
		return TargetUnauthenticated
	}
	return TargetExternal
}

// TokenChecker reports whether a bearer token is present.
type TokenChecker interface {
	IsAuthenticated(ctx context.Context) bool
}

// Policy applies Route with the live token state.
type Policy struct {
	mode   Mode
	tokens TokenChecker
	logger *slog.Logger
}

// NewPolicy creates a policy fixed to mode. tokens may be nil in local mode.
func NewPolicy(mode Mode, tokens TokenChecker, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{mode: mode, tokens: tokens, logger: logger}
}

// Mode returns the process-wide mode.
func (p *Policy) Mode() Mode {
	return p.mode
}

// External reports whether the external backend is active.
func (p *Policy) External() bool {
	return p.mode == ModeExternal
}

// Decide re-reads the token state and routes op.
func (p *Policy) Decide(ctx context.Context, op Operation) (Target, error) {
	hasToken := p.mode == ModeExternal && p.tokens != nil && p.tokens.IsAuthenticated(ctx)
	target := Route(op, p.mode, hasToken)

	p.logger.Debug("Dispatch decision", "operation", op.String(), "mode", p.mode.String(), "target", target.String())

	if target == TargetUnauthenticated {
		return target, fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}
	return target, nil
}

// Do runs exactly one of external or local for op. Errors from the chosen
// side are returned unchanged; the other side is never invoked.
func Do[T any](ctx context.Context, p *Policy, op Operation, external, local func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	target, err := p.Decide(ctx, op)
	if err != nil {
		return zero, err
	}

	switch target {
	case TargetExternal:
		if external == nil {
			return zero, fmt.Errorf("%s: %w", op, ErrUnsupported)
		}
		return external(ctx)
	default:
		if local == nil {
			return zero, fmt.Errorf("%s: %w", op, ErrUnsupported)
		}
		return local(ctx)
	}
}

// Exec is Do for operations without a result value.
func Exec(ctx context.Context, p *Policy, op Operation, external, local func(ctx context.Context) error) error {
	wrap := func(fn func(ctx context.Context) error) func(ctx context.Context) (struct{}, error) {
		if fn == nil {
			return nil
		}
		return func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx)
		}
	}
	_, err := Do[struct{}](ctx, p, op, wrap(external), wrap(local))
	return err
}
