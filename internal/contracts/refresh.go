package contracts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/opensource-finance/tern/internal/domain"
	"github.com/opensource-finance/tern/internal/metrics"
	"github.com/opensource-finance/tern/internal/rules"
)

const refreshTimeout = time.Minute

// ReloadedEvent is published on TopicCatalogReloaded after a reload.
type ReloadedEvent struct {
	Instance string    `json:"instance"`
	Loaded   int       `json:"loaded"`
	Rejected int       `json:"rejected"`
	LoadedAt time.Time `json:"loadedAt"`
}

// Refresher reloads the engine catalog from a source on demand, on a cron
// schedule and when another instance announces a reload.
type Refresher struct {
	engine   *rules.Engine
	source   rules.ConfigSource
	bus      domain.EventBus
	metrics  *metrics.Metrics
	logger   *slog.Logger
	instance string

	mu   sync.Mutex
	cron *cron.Cron
	sub  domain.Subscription
}

// NewRefresher creates a refresher. Bus and metrics may be nil.
func NewRefresher(engine *rules.Engine, source rules.ConfigSource, bus domain.EventBus, m *metrics.Metrics, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		engine:   engine,
		source:   source,
		bus:      bus,
		metrics:  m,
		logger:   logger,
		instance: uuid.New().String(),
	}
}

// Instance identifies this refresher in reload events.
func (r *Refresher) Instance() string {
	return r.instance
}

// Refresh reloads the catalog and announces it on the bus.
func (r *Refresher) Refresh(ctx context.Context) (*rules.LoadReport, error) {
	report, err := r.reload(ctx)
	if err != nil {
		return nil, err
	}

	if r.bus != nil {
		payload, err := json.Marshal(ReloadedEvent{
			Instance: r.instance,
			Loaded:   report.Loaded,
			Rejected: report.Rejected,
			LoadedAt: report.LoadedAt,
		})
		if err != nil {
			return report, fmt.Errorf("failed to encode reload event: %w", err)
		}
		if err := r.bus.Publish(ctx, domain.TopicCatalogReloaded, payload); err != nil {
			r.logger.Warn("failed to publish catalog reload", "error", err)
		}
	}
	return report, nil
}

func (r *Refresher) reload(ctx context.Context) (*rules.LoadReport, error) {
	report, err := r.engine.Reload(ctx, r.source)
	if err != nil {
		return nil, fmt.Errorf("failed to reload catalog: %w", err)
	}
	r.metrics.ObserveCatalog(report.Loaded, report.ErrorKinds())
	return report, nil
}

// Start schedules Refresh on a cron spec. An empty spec does nothing.
func (r *Refresher) Start(schedule string) error {
	if schedule == "" {
		return nil
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(r.logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	if _, err := c.AddFunc(schedule, r.scheduledRefresh); err != nil {
		return fmt.Errorf("failed to schedule catalog refresh: %w", err)
	}
	r.logger.Info("scheduled catalog refresh", "schedule", schedule)

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()

	c.Start()
	return nil
}

func (r *Refresher) scheduledRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if _, err := r.Refresh(ctx); err != nil {
		r.logger.Error("scheduled catalog refresh failed", "error", err)
	}
}

// Listen reloads the catalog when another instance announces a reload.
// Events from this instance are ignored and nothing is republished.
func (r *Refresher) Listen(ctx context.Context) error {
	if r.bus == nil {
		return nil
	}

	sub, err := r.bus.Subscribe(ctx, domain.TopicCatalogReloaded, func(ctx context.Context, msg *domain.Message) error {
		var event ReloadedEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			return fmt.Errorf("failed to decode reload event: %w", err)
		}
		if event.Instance == r.instance {
			return nil
		}

		if inv, ok := r.source.(interface{ Invalidate(context.Context) error }); ok {
			if err := inv.Invalidate(ctx); err != nil {
				r.logger.Warn("failed to invalidate contract snapshot", "error", err)
			}
		}
		report, err := r.reload(ctx)
		if err != nil {
			return err
		}
		r.logger.Info("catalog reloaded from peer", "peer", event.Instance, "contracts", report.Loaded)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to catalog reloads: %w", err)
	}

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
	return nil
}

// Stop halts the schedule, waits for a running refresh and drops the
// subscription.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c, sub := r.cron, r.sub
	r.cron, r.sub = nil, nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Warn("failed to unsubscribe from catalog reloads", "error", err)
		}
	}
}
