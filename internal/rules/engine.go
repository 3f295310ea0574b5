// Package rules compiles contract documents into an immutable catalog and
// evaluates coupons against it.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/opensource-finance/tern/internal/domain"
)

// ConfigSource supplies contract documents for a reload.
type ConfigSource interface {
	Contracts(ctx context.Context) ([]*domain.ContractConfig, error)
}

// Engine holds the active catalog. Reloads swap the catalog atomically;
// evaluations keep the snapshot they started with.
type Engine struct {
	catalog    atomic.Pointer[Catalog]
	opts       Options
	maxWorkers int
}

// NewEngine creates an engine with an empty catalog.
func NewEngine(opts Options, maxWorkers int) *Engine {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	e := &Engine{
		opts:       opts,
		maxWorkers: maxWorkers,
	}
	e.catalog.Store(EmptyCatalog())
	return e
}

// Validate compiles a single contract without touching the active catalog.
func (e *Engine) Validate(cfg *domain.ContractConfig) *LoadReport {
	_, report := Compile([]*domain.ContractConfig{cfg}, e.opts)
	return report
}

// Load compiles configs and makes the result the active catalog.
func (e *Engine) Load(configs []*domain.ContractConfig) *LoadReport {
	cat, report := Compile(configs, e.opts)
	e.catalog.Store(cat)

	for _, le := range report.Errors {
		slog.Warn("contract rejected",
			"contract_id", le.ContractID,
			"section", le.Section,
			"item", le.Item,
			"kind", le.Kind(),
			"error", le.Err,
		)
	}
	slog.Info("contract catalog loaded",
		"loaded", report.Loaded,
		"rejected", report.Rejected,
		"skipped", report.Skipped,
	)
	return report
}

// Reload fetches contracts from src and swaps the catalog. On a fetch error
// the active catalog is kept.
func (e *Engine) Reload(ctx context.Context, src ConfigSource) (*LoadReport, error) {
	configs, err := src.Contracts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contracts: %w", err)
	}
	return e.Load(configs), nil
}

// Catalog returns the active catalog snapshot.
func (e *Engine) Catalog() *Catalog {
	return e.catalog.Load()
}

// EvaluateCoupon evaluates a coupon against the active catalog.
func (e *Engine) EvaluateCoupon(ctx context.Context, coupon *domain.Coupon) ([]domain.EvaluationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Evaluate(e.Catalog(), coupon), nil
}

// ContractsCount returns the number of contracts in the active catalog.
func (e *Engine) ContractsCount() int {
	return e.Catalog().Len()
}

// MaxWorkers returns the configured batch concurrency.
func (e *Engine) MaxWorkers() int {
	return e.maxWorkers
}

// Precision returns the payout rounding precision.
func (e *Engine) Precision() int {
	return e.opts.withDefaults().Precision
}

// Close drops the active catalog.
func (e *Engine) Close() error {
	e.catalog.Store(EmptyCatalog())
	return nil
}
