package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/tern/internal/contracts"
	"github.com/opensource-finance/tern/internal/domain"
	"github.com/opensource-finance/tern/internal/explode"
	"github.com/opensource-finance/tern/internal/ingest"
	"github.com/opensource-finance/tern/internal/metrics"
	"github.com/opensource-finance/tern/internal/report"
	"github.com/opensource-finance/tern/internal/repository"
	"github.com/opensource-finance/tern/internal/rules"
	"github.com/opensource-finance/tern/internal/worker"
)

// maxBodyBytes bounds request bodies; batch submissions are the largest.
const maxBodyBytes = 32 << 20

// remoteEvaluateTimeout bounds the wait for a worker to answer.
const remoteEvaluateTimeout = 10 * time.Second

// Deps are the collaborators the handlers serve from. Repo, Cache, Bus,
// Store, Validator, Refresher, Processor and Metrics may be nil; the
// endpoints that need a missing one answer 503.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Engine    *rules.Engine
	Store     *contracts.Store
	Validator *contracts.Validator
	Refresher *contracts.Refresher
	Processor *worker.Processor
	Exploder  *explode.Exploder
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Version   string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Exploder == nil {
		deps.Exploder = explode.NewExploder(nil)
	}
	return &Handler{Deps: deps}
}

// EvaluateResponse is the response for POST /v1/evaluate.
type EvaluateResponse struct {
	CouponID string                    `json:"coupon_id"`
	Results  []domain.EvaluationResult `json:"results"`
	Records  []domain.OutputRecord     `json:"records"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Evaluate handles POST /v1/evaluate: one coupon against the active catalog.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	coupon, err := ingest.DecodeCoupon(body, h.Logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	results, err := h.Engine.EvaluateCoupon(ctx, coupon)
	if err != nil {
		h.Logger.Error("coupon evaluation failed", "coupon", coupon.ID(), "error", err)
		writeError(w, http.StatusInternalServerError, "coupon evaluation failed")
		return
	}
	records := h.Exploder.Explode(coupon, results)
	h.Metrics.ObserveCoupon(results, len(records))

	resp := EvaluateResponse{
		CouponID: coupon.ID(),
		Results:  results,
		Records:  records,
	}
	if resp.Results == nil {
		resp.Results = []domain.EvaluationResult{}
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.Version

	writeJSON(w, http.StatusOK, resp)
}

// EvaluateRemote handles POST /v1/evaluate/remote: the coupon is evaluated by
// a batch worker over the bus and its reply is returned.
func (h *Handler) EvaluateRemote(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	coupon, err := ingest.DecodeCoupon(body, h.Logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	payload, err := json.Marshal(coupon)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode coupon")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), remoteEvaluateTimeout)
	defer cancel()

	data, err := h.Bus.Request(ctx, domain.TopicEvaluateRequested, payload)
	if err != nil {
		h.Logger.Error("remote evaluation failed", "coupon", coupon.ID(), "error", err)
		writeError(w, http.StatusGatewayTimeout, "no worker answered")
		return
	}

	var reply domain.EvaluateReply
	if err := json.Unmarshal(data, &reply); err != nil {
		writeError(w, http.StatusBadGateway, "invalid worker reply")
		return
	}
	if reply.Error != "" {
		h.Logger.Error("worker could not evaluate coupon", "coupon", coupon.ID(), "error", reply.Error)
		writeError(w, http.StatusBadGateway, "coupon evaluation failed")
		return
	}

	resp := EvaluateResponse{
		CouponID: reply.CouponID,
		Results:  reply.Results,
		Records:  reply.Records,
	}
	if resp.Results == nil {
		resp.Results = []domain.EvaluationResult{}
	}
	resp.Metadata.TraceID = GetTraceID(r.Context())
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.Version

	writeJSON(w, http.StatusOK, resp)
}

// BatchRequest is the request body for POST /v1/batches.
type BatchRequest struct {
	InputName string                 `json:"input_name"`
	Coupons   []domain.CouponPayload `json:"coupons"`
}

// BatchResponse is the response for a synchronous batch.
type BatchResponse struct {
	Batch  *domain.BatchRun `json:"batch"`
	Report *report.Report   `json:"report"`
}

func (h *Handler) decodeBatch(w http.ResponseWriter, r *http.Request) (*domain.BatchRequest, bool) {
	var req BatchRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return nil, false
	}
	if len(req.Coupons) == 0 {
		writeError(w, http.StatusBadRequest, ingest.ErrEmptyInput.Error())
		return nil, false
	}
	if req.InputName == "" {
		req.InputName = "api"
	}
	return &domain.BatchRequest{InputName: req.InputName, Coupons: req.Coupons}, true
}

// RunBatch handles POST /v1/batches: evaluate, persist and return the report.
func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	if h.Processor == nil {
		writeError(w, http.StatusServiceUnavailable, "batch processing not available")
		return
	}
	req, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}

	processed, err := h.Processor.Process(r.Context(), req)
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyInput) || errors.Is(err, ingest.ErrMalformed) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "batch failed")
		return
	}

	h.Logger.Info("batch completed",
		"batch_id", processed.Run.ID,
		"coupons", processed.Run.CouponCount,
		"records", processed.Run.RecordCount,
	)
	writeJSON(w, http.StatusOK, BatchResponse{Batch: processed.Run, Report: processed.Report})
}

// SubmitBatch handles POST /v1/batches/async: record a pending run and hand
// it to the workers over the bus.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	if h.Processor == nil || h.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "async batch processing not available")
		return
	}
	req, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	run, err := h.Processor.Accept(ctx, req)
	if err != nil {
		h.Logger.Error("failed to accept batch", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to accept batch")
		return
	}

	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode batch")
		return
	}
	if err := h.Bus.Publish(ctx, domain.TopicBatchSubmitted, payload); err != nil {
		h.Logger.Error("failed to publish batch", "batch_id", run.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to queue batch")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"batch_id": run.ID,
		"status":   run.Status,
	})
}

// GetBatch returns a stored batch run.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	id := chi.URLParam(r, "id")

	run, err := h.Repo.GetBatch(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, "batch", id, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListBatchRecords returns the stored output records of a batch in input order.
func (h *Handler) ListBatchRecords(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	id := chi.URLParam(r, "id")

	records, err := h.Repo.ListBatchRecords(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, "batch", id, err)
		return
	}
	if records == nil {
		records = []domain.StoredRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id": id,
		"records":  records,
		"count":    len(records),
	})
}

// ListContracts returns the contracts of the active catalog.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	cat := h.Engine.Catalog()
	configs := make([]*domain.ContractConfig, 0, cat.Len())
	for _, c := range cat.Contracts() {
		configs = append(configs, c.Config())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"contracts": configs,
		"count":     len(configs),
		"loadedAt":  cat.Report().LoadedAt,
	})
}

// GetContract returns a stored contract and whether it is in the active catalog.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.Store == nil {
		c, ok := h.Engine.Catalog().Lookup(id)
		if !ok {
			writeError(w, http.StatusNotFound, "contract not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"contract": c.Config(), "active": true})
		return
	}

	cfg, err := h.Store.Get(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, "contract", id, err)
		return
	}
	_, active := h.Engine.Catalog().Lookup(id)
	writeJSON(w, http.StatusOK, map[string]any{"contract": cfg, "active": active})
}

// CreateContract validates a contract document against the schema and the
// compiler, then stores it. It takes effect on the next reload.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.Validator == nil {
		writeError(w, http.StatusServiceUnavailable, "contract store not available")
		return
	}
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	cfg, err := h.Validator.Decode(body)
	if err != nil {
		rep := &rules.LoadReport{LoadedAt: time.Now().UTC()}
		rep.Reject(&rules.LoadError{
			ContractID: peekContractID(body),
			Section:    rules.SectionSchema,
			Err:        err,
		})
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "contract does not match schema",
			"report": rep,
		})
		return
	}

	if rep := h.Engine.Validate(cfg); rep.Rejected > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "contract failed to compile",
			"report": rep,
		})
		return
	}

	if err := h.Store.Save(ctx, cfg); err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Logger.Error("failed to save contract", "contract", cfg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save contract")
		return
	}

	h.Logger.Info("contract saved", "contract", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"contract": cfg,
		"message":  "Contract saved. Call POST /v1/contracts/reload to apply changes.",
	})
}

// DeleteContract removes a stored contract. It leaves the catalog on the
// next reload.
func (h *Handler) DeleteContract(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "contract store not available")
		return
	}
	id := chi.URLParam(r, "id")

	if err := h.Store.Delete(r.Context(), id); err != nil {
		h.writeRepoError(w, "contract", id, err)
		return
	}
	h.Logger.Info("contract deleted", "contract", id)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadContracts rebuilds the catalog from the repository and announces the
// reload to other instances.
func (h *Handler) ReloadContracts(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.Refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "contract store not available")
		return
	}
	ctx := r.Context()

	if err := h.Store.Invalidate(ctx); err != nil {
		h.Logger.Warn("failed to invalidate contract snapshot", "error", err)
	}
	rep, err := h.Refresher.Refresh(ctx)
	if err != nil {
		h.Logger.Error("failed to reload contracts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload contracts")
		return
	}

	writeJSON(w, http.StatusOK, rep)
}

// ContractsReport returns the load report of the active catalog.
func (h *Handler) ContractsReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Catalog().Report())
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.Version,
	})
}

// Ready checks every backend and reports the catalog size. Any failing
// backend makes the instance unready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}
	if h.Repo != nil {
		check("repository", func() error { return h.Repo.Ping(ctx) })
	}
	if h.Cache != nil {
		check("cache", func() error { return h.Cache.Ping(ctx) })
	}
	if h.Bus != nil {
		check("bus", func() error { return h.Bus.Ping(ctx) })
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":     ready,
		"checks":    checks,
		"contracts": h.Engine.ContractsCount(),
	})
}

func (h *Handler) writeRepoError(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	h.Logger.Error("repository lookup failed", "kind", kind, "id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to load "+kind)
}

func peekContractID(doc []byte) string {
	var head struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(doc, &head)
	return head.ID
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
