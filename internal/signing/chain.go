package signing

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/releasepost/releasepost/internal/core"
)

const instrumentationName = "github.com/releasepost/releasepost/internal/signing"

// Attempt records one failed backend invocation.
type Attempt struct {
	Backend string
	Err     error
}

// ChainError aggregates every failed attempt of an operation.
type ChainError struct {
	Op       string
	Attempts []Attempt
}

func (e *ChainError) Error() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Backend+": "+a.Err.Error())
	}
	return e.Op + " failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes every attempt's error to errors.Is/As; the primary's comes first.
func (e *ChainError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// TryInOrder calls call on each backend in order and returns the first that
// succeeds. Each backend is tried exactly once. A failure followed by another
// attempt is logged as a single warning; if every backend fails, a
// *ChainError holding all failures is returned.
func TryInOrder(ctx context.Context, logger *slog.Logger, op string, backends []Backend, call func(context.Context, Backend) error) (Backend, error) {
	if len(backends) == 0 {
		return nil, core.ConfigInvalidf("no %s backend configured", op)
	}
	chainErr := &ChainError{Op: op}
	for i, b := range backends {
		err := call(ctx, b)
		if err == nil {
			return b, nil
		}
		chainErr.Attempts = append(chainErr.Attempts, Attempt{Backend: b.Name(), Err: err})
		if i+1 < len(backends) {
			logger.Warn(b.Name()+" failed, trying "+backends[i+1].Name(),
				"op", op, "error", err.Error())
		}
	}
	return nil, chainErr
}

// Chain is a primary backend with an optional single fallback.
type Chain struct {
	backends []Backend
	guard    *Guard
	logger   *slog.Logger

	attempts  metric.Int64Counter
	fallbacks metric.Int64Counter
}

// NewChain composes primary and fallback (nil for none). guard may be nil.
func NewChain(logger *slog.Logger, guard *Guard, primary, fallback Backend) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	backends := []Backend{primary}
	if fallback != nil {
		backends = append(backends, fallback)
	}
	c := &Chain{backends: backends, guard: guard, logger: logger}

	c.instrument(otel.Meter(instrumentationName))
	return c
}

func (c *Chain) instrument(meter metric.Meter) {
	var err error
	if c.attempts, err = meter.Int64Counter("releasepost.signing.attempts",
		metric.WithDescription("Signing tool invocations by backend and outcome")); err != nil {
		c.logger.Debug("signing attempts counter unavailable", "error", err)
		c.attempts = noop.Int64Counter{}
	}
	if c.fallbacks, err = meter.Int64Counter("releasepost.signing.fallbacks",
		metric.WithDescription("Operations that fell back to the secondary backend")); err != nil {
		c.logger.Debug("signing fallbacks counter unavailable", "error", err)
		c.fallbacks = noop.Int64Counter{}
	}
}

// Backends returns the configured backends in order.
func (c *Chain) Backends() []Backend { return append([]Backend(nil), c.backends...) }

// Sign signs file and returns the name of the backend that succeeded.
func (c *Chain) Sign(ctx context.Context, logger *slog.Logger, file string, cred core.Credential) (string, error) {
	return c.run(ctx, logger, "sign", func(ctx context.Context, b Backend) error {
		return b.Sign(ctx, file, cred)
	})
}

// Verify checks file's signature and returns the name of the backend that accepted it.
func (c *Chain) Verify(ctx context.Context, logger *slog.Logger, file string) (string, error) {
	return c.run(ctx, logger, "verify", func(ctx context.Context, b Backend) error {
		return b.Verify(ctx, file)
	})
}

func (c *Chain) run(ctx context.Context, logger *slog.Logger, op string, call func(context.Context, Backend) error) (string, error) {
	if logger == nil {
		logger = c.logger
	}
	calls := 0
	b, err := TryInOrder(ctx, logger, op, c.backends, func(ctx context.Context, b Backend) error {
		calls++
		err := c.guard.Do(ctx, func() error { return call(ctx, b) })
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		c.attempts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("backend", b.Name()),
			attribute.String("outcome", outcome),
			attribute.String("error_kind", string(core.KindOf(err))),
		))
		return err
	})
	if calls > 1 {
		c.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
	if err != nil {
		var ce *ChainError
		if errors.As(err, &ce) {
			return "", ce
		}
		return "", err
	}
	return b.Name(), nil
}
