// Package sequence issues human-readable document codes numbered per fiscal year.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/prodflow/internal/application/port"
)

const (
	// DefaultMaxRetries bounds retries after a lost race
	DefaultMaxRetries = 5

	// DefaultRetryBackoff is the first retry delay; later retries grow linearly
	DefaultRetryBackoff = 10 * time.Millisecond

	// fiscalYearStart is the first month of a fiscal year
	fiscalYearStart = time.April
)

// ErrInvalidPrefix is returned for an empty prefix or one that contains '/'
var ErrInvalidPrefix = errors.New("invalid sequence prefix")

// Generator issues codes of the form "{prefix}{n}/{YY-YY}"
type Generator struct {
	store      port.SequenceStore
	logger     port.Logger
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

// GeneratorOption configures a Generator
type GeneratorOption func(*Generator)

// WithMaxRetries sets how often a lost race is retried
func WithMaxRetries(n int) GeneratorOption {
	return func(g *Generator) {
		if n >= 0 {
			g.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the first retry delay
func WithRetryBackoff(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		g.backoff = d
	}
}

// WithClock sets the time source used to pick the fiscal year
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator creates a new code generator
func NewGenerator(store port.SequenceStore, logger port.Logger, opts ...GeneratorOption) *Generator {
	g := &Generator{
		store:      store,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultRetryBackoff,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NextCode issues the next code for prefix in the current fiscal year.
// Numbers are never reused, so a caller whose later work fails leaves a gap.
// Call it before opening a business transaction.
func (g *Generator) NextCode(ctx context.Context, prefix string) (string, error) {
	if prefix == "" || strings.Contains(prefix, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	fy := FiscalYear(g.now())

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(g.backoff * time.Duration(attempt)):
			}
		}

		n, err := g.store.Increment(ctx, prefix, fy)
		if err == nil {
			return FormatCode(prefix, n, fy), nil
		}
		if !errors.Is(err, port.ErrDuplicateSequence) {
			return "", err
		}

		lastErr = err
		g.logger.Warn("Fiscal sequence conflict, retrying",
			"prefix", prefix,
			"fiscal_year", fy,
			"attempt", attempt+1,
			"error", err,
		)
	}

	g.logger.Error("Fiscal sequence retries exhausted", "prefix", prefix, "fiscal_year", fy, "error", lastErr)
	return "", fmt.Errorf("failed to issue %s code after %d attempts: %w", prefix, g.maxRetries+1, lastErr)
}

// Current returns the next value that would be issued for prefix this fiscal year
func (g *Generator) Current(ctx context.Context, prefix string) (int64, error) {
	seq, err := g.store.Current(ctx, prefix, FiscalYear(g.now()))
	if err != nil {
		return 0, err
	}
	if seq == nil {
		return 1, nil
	}
	return seq.NextValue, nil
}

// FiscalYear returns the "YY-YY" fiscal year containing t. A fiscal year runs
// from April 1 to March 31.
func FiscalYear(t time.Time) string {
	start := t.Year()
	if t.Month() < fiscalYearStart {
		start--
	}
	return fmt.Sprintf("%02d-%02d", start%100, (start+1)%100)
}

// FormatCode renders a code
func FormatCode(prefix string, n int64, fiscalYear string) string {
	return fmt.Sprintf("%s%d/%s", prefix, n, fiscalYear)
}
