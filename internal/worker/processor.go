package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/tern/internal/batch"
	"github.com/opensource-finance/tern/internal/domain"
	"github.com/opensource-finance/tern/internal/ingest"
	"github.com/opensource-finance/tern/internal/report"
)

// Processed is a finished batch run.
type Processed struct {
	Run     *domain.BatchRun
	Report  *report.Report
	Records []domain.OutputRecord
}

// Processor turns a batch request into a persisted run: ingest, evaluate,
// report and save. It is shared by the HTTP handlers and the async worker.
type Processor struct {
	runner *batch.Runner
	repo   domain.Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewProcessor creates a processor. A nil repo skips persistence.
func NewProcessor(runner *batch.Runner, repo domain.Repository, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		runner: runner,
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Process runs req. A failed run is still saved with status FAILED and the
// error is returned.
func (p *Processor) Process(ctx context.Context, req *domain.BatchRequest) (*Processed, error) {
	if req.BatchID == "" {
		req.BatchID = uuid.New().String()
	}

	run := &domain.BatchRun{
		ID:          req.BatchID,
		InputName:   req.InputName,
		Status:      domain.BatchPending,
		CouponCount: len(req.Coupons),
		CreatedAt:   p.now(),
	}

	coupons, err := ingest.FromPayloads(req.Coupons, p.logger)
	if err != nil {
		return nil, p.fail(ctx, run, err)
	}

	res, err := p.runner.Run(ctx, coupons)
	if err != nil {
		return nil, p.fail(ctx, run, err)
	}

	completedAt := p.now()
	rep := report.Build(
		report.Input{Name: req.InputName, Total: len(req.Coupons)},
		res.Outcomes,
		res.Catalog.Report(),
		completedAt,
	)
	summary, err := json.Marshal(rep.Summary)
	if err != nil {
		return nil, p.fail(ctx, run, fmt.Errorf("failed to encode summary: %w", err))
	}

	records := res.Records()
	run.Status = domain.BatchCompleted
	run.EligibleCount = res.EligibleCount()
	run.RecordCount = len(records)
	run.Summary = summary
	run.CompletedAt = &completedAt

	if p.repo != nil {
		if err := p.repo.SaveBatch(ctx, run, records); err != nil {
			return nil, fmt.Errorf("failed to save batch %s: %w", run.ID, err)
		}
	}

	return &Processed{Run: run, Report: rep, Records: records}, nil
}

func (p *Processor) fail(ctx context.Context, run *domain.BatchRun, cause error) error {
	completedAt := p.now()
	run.Status = domain.BatchFailed
	run.Error = cause.Error()
	run.CompletedAt = &completedAt

	p.logger.Error("batch failed", "batch_id", run.ID, "error", cause)

	if p.repo != nil {
		// ctx may already be cancelled.
		if err := p.repo.SaveBatch(context.WithoutCancel(ctx), run, nil); err != nil {
			p.logger.Error("failed to save failed batch", "batch_id", run.ID, "error", err)
		}
	}
	return cause
}

// Accept records a pending run for a request that will be processed later.
func (p *Processor) Accept(ctx context.Context, req *domain.BatchRequest) (*domain.BatchRun, error) {
	if req.BatchID == "" {
		req.BatchID = uuid.New().String()
	}
	run := &domain.BatchRun{
		ID:          req.BatchID,
		InputName:   req.InputName,
		Status:      domain.BatchPending,
		CouponCount: len(req.Coupons),
		CreatedAt:   p.now(),
	}
	if p.repo != nil {
		if err := p.repo.SaveBatch(ctx, run, nil); err != nil {
			return nil, fmt.Errorf("failed to save batch %s: %w", run.ID, err)
		}
	}
	return run, nil
}

// Evaluate runs one coupon in wire form against the active catalog without
// persisting anything. Decode and evaluation failures are reported in the
// reply.
func (p *Processor) Evaluate(ctx context.Context, payload []byte) *domain.EvaluateReply {
	coupon, err := ingest.DecodeCoupon(payload, p.logger)
	if err != nil {
		return &domain.EvaluateReply{Error: err.Error()}
	}

	res, err := p.runner.Run(ctx, []*domain.Coupon{coupon})
	if err != nil {
		return &domain.EvaluateReply{CouponID: coupon.ID(), Error: err.Error()}
	}

	reply := &domain.EvaluateReply{CouponID: coupon.ID(), Results: []domain.EvaluationResult{}}
	for _, o := range res.Outcomes {
		reply.Results = append(reply.Results, o.Results...)
		reply.Records = append(reply.Records, o.Records...)
	}
	return reply
}
