package sessionware

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// GCMode selects how expired sessions are collected.
type GCMode string

const (
	// GCAuto draws against the GC probability on every request.
	GCAuto GCMode = "auto"
	// GCManual never collects on its own; callers invoke Middleware.GC.
	GCManual GCMode = "manual"
)

// ParseGCMode parses a GC mode name. The historical spelling "manul" is
// accepted for manual mode.
func ParseGCMode(s string) (GCMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return GCAuto, nil
	case "manual", "manul":
		return GCManual, nil
	}
	return "", fmt.Errorf("%w: unknown gc mode %q", ErrInvalidGCPolicy, s)
}

// GCPolicy decides when a request triggers a sweep of expired sessions.
// In auto mode a sweep happens with probability
// ProbMolecular/ProbDenominator per request.
type GCPolicy struct {
	Mode            GCMode
	ProbMolecular   float64
	ProbDenominator float64
}

// DefaultGCPolicy collects on roughly one request out of a hundred.
func DefaultGCPolicy() GCPolicy {
	return GCPolicy{Mode: GCAuto, ProbMolecular: 1, ProbDenominator: 100}
}

// ShouldCollect reports whether a sweep should run for the uniform draw in
// [0, 1).
func (p GCPolicy) ShouldCollect(draw float64) bool {
	if p.Mode != GCAuto {
		return false
	}
	return draw*math.Abs(p.ProbDenominator) <= math.Abs(p.ProbMolecular)
}

func (p GCPolicy) validate() error {
	switch p.Mode {
	case GCAuto, GCManual:
	default:
		return fmt.Errorf("%w: unknown gc mode %q", ErrInvalidGCPolicy, p.Mode)
	}
	if p.Mode == GCManual {
		return nil
	}
	if p.ProbDenominator <= 0 || p.ProbMolecular <= 0 ||
		math.IsNaN(p.ProbDenominator) || math.IsNaN(p.ProbMolecular) {
		return fmt.Errorf("%w: probabilities must be positive", ErrInvalidGCPolicy)
	}
	return nil
}

// GC removes every expired session from the store, regardless of the GC mode.
func (m *Middleware) GC(ctx context.Context) (int64, error) {
	return m.store.DeleteExpired(ctx, m.clock())
}

// MaybeCollect runs a sweep when the GC policy draws one. It reports whether
// a sweep ran and how many sessions it removed.
func (m *Middleware) MaybeCollect(ctx context.Context) (int64, bool, error) {
	if !m.gc.ShouldCollect(m.rand()) {
		return 0, false, nil
	}
	n, err := m.GC(ctx)
	if err != nil {
		return 0, true, err
	}
	m.reportGC(n)
	return n, true, nil
}

// CollectEvery sweeps expired sessions on a fixed interval until ctx is
// done. It is meant for manual mode, started by the caller.
func (m *Middleware) CollectEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := m.GC(sweepCtx)
			cancel()
			if err != nil {
				m.logger.Error().Err(err).Msg("session gc failed")
				continue
			}
			m.reportGC(n)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Middleware) reportGC(n int64) {
	switch {
	case m.onGC != nil:
		m.onGC(n)
	case !m.silent:
		m.logger.Info().Int64("deleted", n).Msg("auto collected session garbage")
	}
}
