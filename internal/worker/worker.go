// Package worker runs batch submissions and evaluate requests received from
// the event bus.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/tern/internal/bus"
	"github.com/opensource-finance/tern/internal/domain"
)

// QueueGroup is the queue group batch workers join on buses that support it.
const QueueGroup = "tern-batch-workers"

// Worker processes batch submissions asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	processor *Processor
	logger    *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	inflight      sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, processor *Processor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		processor: processor,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to batch submissions and evaluate requests. On buses with
// queue groups each message is handled by one worker.
func (w *Worker) Start() error {
	handlers := []struct {
		topic   string
		handler domain.MessageHandler
	}{
		{domain.TopicBatchSubmitted, w.handleMessage},
		{domain.TopicEvaluateRequested, w.handleEvaluate},
	}

	for _, h := range handlers {
		var (
			sub domain.Subscription
			err error
		)
		if qs, ok := w.bus.(bus.QueueSubscriber); ok {
			sub, err = qs.QueueSubscribe(w.ctx, h.topic, QueueGroup, h.handler)
		} else {
			sub, err = w.bus.Subscribe(w.ctx, h.topic, h.handler)
		}
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", h.topic, err)
		}

		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	w.logger.Info("batch worker started",
		"topics", []string{domain.TopicBatchSubmitted, domain.TopicEvaluateRequested},
	)
	return nil
}

// handleEvaluate answers a single-coupon evaluate request on its reply topic.
func (w *Worker) handleEvaluate(ctx context.Context, msg *domain.Message) error {
	w.inflight.Add(1)
	defer w.inflight.Done()

	reply := w.processor.Evaluate(ctx, msg.Payload)
	if reply.Error != "" {
		w.logger.Warn("evaluate request failed",
			"message_id", msg.ID,
			"error", reply.Error,
		)
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to encode evaluate reply: %w", err)
	}
	if err := bus.Reply(ctx, w.bus, msg, payload); err != nil {
		w.logger.Error("failed to reply to evaluate request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	return nil
}

// handleMessage runs one submitted batch and announces the result.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.inflight.Add(1)
	defer w.inflight.Done()

	start := time.Now()

	var req domain.BatchRequest
	dec := json.NewDecoder(bytes.NewReader(msg.Payload))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		w.logger.Error("failed to parse batch request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	w.logger.Debug("processing batch",
		"batch_id", req.BatchID,
		"coupons", len(req.Coupons),
	)

	processed, err := w.processor.Process(ctx, &req)
	event := domain.BatchCompletedEvent{BatchID: req.BatchID}
	if err != nil {
		event.Status = domain.BatchFailed
		event.CouponCount = len(req.Coupons)
		event.Error = err.Error()
	} else {
		event.Status = processed.Run.Status
		event.CouponCount = processed.Run.CouponCount
		event.EligibleCount = processed.Run.EligibleCount
		event.RecordCount = processed.Run.RecordCount
	}

	payload, _ := json.Marshal(event)
	if pubErr := w.bus.Publish(ctx, domain.TopicBatchCompleted, payload); pubErr != nil {
		w.logger.Error("failed to publish batch completion",
			"batch_id", req.BatchID,
			"error", pubErr,
		)
	}

	w.logger.Info("batch processed",
		"batch_id", req.BatchID,
		"status", event.Status,
		"records", event.RecordCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return err
}

// Stop unsubscribes and waits for in-flight batches.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.cancel()

	w.inflight.Wait()

	w.logger.Info("batch worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
