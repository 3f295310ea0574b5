// Package batch evaluates coupon batches against a catalog snapshot with
// bounded parallelism.
package batch

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/tern/internal/domain"
	"github.com/opensource-finance/tern/internal/explode"
	"github.com/opensource-finance/tern/internal/metrics"
	"github.com/opensource-finance/tern/internal/rules"
)

const defaultWorkers = 10

var tracer = otel.Tracer("tern-batch")

// CatalogSource provides the catalog snapshot a batch runs against.
type CatalogSource interface {
	Catalog() *rules.Catalog
}

// Outcome is the evaluation of one coupon.
type Outcome struct {
	Coupon  *domain.Coupon
	Results []domain.EvaluationResult
	Records []domain.OutputRecord
}

// Eligible reports whether any contract accepted the coupon.
func (o *Outcome) Eligible() bool {
	return explode.EligibleCount(o.Results) > 0
}

// Result is a completed batch. Outcomes follow input order.
type Result struct {
	Outcomes []Outcome
	Catalog  *rules.Catalog
	Duration time.Duration
}

// Records returns every output record in input order.
func (r *Result) Records() []domain.OutputRecord {
	var out []domain.OutputRecord
	for i := range r.Outcomes {
		out = append(out, r.Outcomes[i].Records...)
	}
	return out
}

// EligibleCount returns the number of coupons accepted by at least one contract.
func (r *Result) EligibleCount() int {
	n := 0
	for i := range r.Outcomes {
		if r.Outcomes[i].Eligible() {
			n++
		}
	}
	return n
}

// RecordCount returns the number of output records.
func (r *Result) RecordCount() int {
	n := 0
	for i := range r.Outcomes {
		n += len(r.Outcomes[i].Records)
	}
	return n
}

// Runner evaluates batches.
type Runner struct {
	catalogs CatalogSource
	exploder *explode.Exploder
	workers  int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers bounds concurrent coupon evaluation.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithExploder sets the exploder, typically to inject a clock.
func WithExploder(x *explode.Exploder) Option {
	return func(r *Runner) { r.exploder = x }
}

// WithMetrics enables metric recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner reading catalogs from src.
func NewRunner(src CatalogSource, opts ...Option) *Runner {
	r := &Runner{
		catalogs: src,
		workers:  defaultWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.exploder == nil {
		r.exploder = explode.NewExploder(nil)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run evaluates coupons against one catalog snapshot. Cancelling ctx abandons
// the remaining coupons and fails the whole batch.
func (r *Runner) Run(ctx context.Context, coupons []*domain.Coupon) (*Result, error) {
	start := time.Now()
	cat := r.catalogs.Catalog()

	ctx, span := tracer.Start(ctx, "batch.Run",
		trace.WithAttributes(
			attribute.Int("batch.coupons", len(coupons)),
			attribute.Int("batch.contracts", cat.Len()),
		),
	)
	defer span.End()

	out := make([]Outcome, len(coupons))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i, coupon := range coupons {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results := rules.Evaluate(cat, coupon)
			records := r.exploder.Explode(coupon, results)
			out[i] = Outcome{Coupon: coupon, Results: results, Records: records}
			r.metrics.ObserveCoupon(results, len(records))
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("batch abandoned", "coupons", len(coupons), "error", err)
		return nil, err
	}

	res := &Result{Outcomes: out, Catalog: cat, Duration: time.Since(start)}
	r.metrics.ObserveBatch(res.Duration)
	span.SetAttributes(
		attribute.Int("batch.records", res.RecordCount()),
		attribute.Int("batch.eligible", res.EligibleCount()),
	)
	r.logger.Info("batch evaluated",
		"coupons", len(coupons),
		"eligible", res.EligibleCount(),
		"records", res.RecordCount(),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}
