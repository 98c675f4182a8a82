// Package worker assesses refund requests arriving on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/refundguard/internal/assess"
	"github.com/opensource-finance/refundguard/internal/bus"
	"github.com/opensource-finance/refundguard/internal/domain"
	"github.com/opensource-finance/refundguard/internal/validation"
)

// GlobalTenantID is the subscription used when no tenants are configured.
// Messages carry their own tenant id.
const GlobalTenantID = "_global"

var tracer = otel.Tracer("refundguard/worker")

// Worker consumes refund.requested messages and runs them through the
// assessment pipeline.
type Worker struct {
	bus       domain.EventBus
	svc       *assess.Service
	validator *validation.Validator

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process; empty subscribes GlobalTenantID.
	TenantIDs []string

	// WorkerCount bounds concurrent assessments across all subscriptions.
	WorkerCount int
}

// QueueTenant returns the bus tenant a refund.requested message for tenantID
// must be published under so that a worker started with tenants receives it.
// ok is false when no such worker subscription exists.
func QueueTenant(tenants []string, tenantID string) (busTenant string, ok bool) {
	if len(tenants) == 0 {
		return GlobalTenantID, true
	}
	for _, t := range tenants {
		if t == tenantID {
			return tenantID, true
		}
	}
	return "", false
}

// NewWorker creates a new async worker.
func NewWorker(b domain.EventBus, svc *assess.Service, v *validation.Validator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       b,
		svc:       svc,
		validator: v,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	w.sem = make(chan struct{}, cfg.WorkerCount)

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{GlobalTenantID}
	}

	started := 0
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicRefundRequested, w.dispatch)
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
		started++

		slog.Info("tenant worker started",
			"tenant_id", tenantID,
			"topic", domain.TopicRefundRequested,
		)
	}

	if started == 0 {
		return fmt.Errorf("no worker subscriptions could be started")
	}

	slog.Info("workers started",
		"tenant_count", started,
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// dispatch hands a message to the pool, waiting for a free slot.
func (w *Worker) dispatch(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		_ = w.process(w.ctx, msg)
	}()
	return nil
}

// process assesses one refund.requested message. Requests sent with
// bus.Request get the assessment response as their reply.
func (w *Worker) process(ctx context.Context, msg *domain.Message) error {
	start := time.Now()
	tenantID := msg.TenantID

	ctx, span := tracer.Start(ctx, "worker.assess",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("message_id", msg.ID),
			attribute.String("publisher.trace_id", msg.Metadata[bus.MetadataTraceID]),
		),
	)
	defer span.End()

	resp, err := w.assess(ctx, tenantID, msg, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("refund request failed",
			"tenant_id", tenantID,
			"message_id", msg.ID,
			"error", err,
		)
		resp = domain.AssessmentResponse{Error: err.Error()}
	}

	if msg.Metadata[bus.MetadataReplyTo] != "" {
		payload, _ := json.Marshal(resp)
		if rerr := w.bus.Reply(ctx, msg, payload); rerr != nil {
			slog.Error("failed to reply", "message_id", msg.ID, "error", rerr)
		}
	}
	return err
}

func (w *Worker) assess(ctx context.Context, tenantID string, msg *domain.Message, start time.Time) (domain.AssessmentResponse, error) {
	ev, err := bus.Decode[bus.RefundRequested](msg)
	if err != nil {
		return domain.AssessmentResponse{}, err
	}
	if tenantID == GlobalTenantID {
		tenantID = ev.TenantID
	}
	if tenantID == "" || tenantID == GlobalTenantID {
		return domain.AssessmentResponse{}, fmt.Errorf("message %s has no tenant", msg.ID)
	}

	req, err := w.validator.DecodeRequest(ev.Request)
	if err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			slog.Warn("invalid refund request",
				"tenant_id", tenantID,
				"request_id", ev.RequestID,
				"details", verr.Details,
			)
		}
		return domain.AssessmentResponse{}, err
	}
	validateMs := time.Since(start).Milliseconds()

	out, err := w.svc.Assess(ctx, tenantID, req, ev.RequestID)
	if err != nil {
		return domain.AssessmentResponse{}, err
	}

	traceID := msg.Metadata[bus.MetadataTraceID]
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Info("refund request processed",
		"tenant_id", tenantID,
		"request_id", ev.RequestID,
		"assessment_id", out.Assessment.ID,
		"action", out.Assessment.Action,
		"cached", out.Cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out.Response(traceID, validateMs, time.Since(start).Milliseconds()), nil
}

// Stop unsubscribes and waits for in-flight assessments.
func (w *Worker) Stop() error {
	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
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
		InFlight:          len(w.sem),
	}
}
