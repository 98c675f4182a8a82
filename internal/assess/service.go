// Package assess runs a refund request through policy resolution, duplicate
// detection, history enrichment, evaluation, storage and event publication.
// The HTTP API and the async worker share it.
package assess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/refundguard/internal/bus"
	"github.com/opensource-finance/refundguard/internal/cache"
	"github.com/opensource-finance/refundguard/internal/decision"
	"github.com/opensource-finance/refundguard/internal/domain"
	"github.com/opensource-finance/refundguard/internal/fingerprint"
	"github.com/opensource-finance/refundguard/internal/repository"
	"github.com/opensource-finance/refundguard/internal/velocity"
)

// Policy sources reported in assessment metadata.
const (
	PolicyFromRequest = "request"
	PolicyStored      = "stored"
	PolicyDefault     = "default"
)

// ErrInvalidPolicy is returned when a merchant policy cannot be saved.
var ErrInvalidPolicy = errors.New("invalid merchant policy")

var tracer = otel.Tracer("refundguard/assess")

// Service is safe for concurrent use. cache and bus may be nil.
type Service struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *decision.Engine
	velocity *velocity.Service
	cfg      domain.EngineConfig
	now      func() time.Time
}

// NewService wires the pipeline.
func NewService(repo domain.Repository, c domain.Cache, b domain.EventBus, engine *decision.Engine, cfg domain.EngineConfig) *Service {
	return &Service{
		repo:     repo,
		cache:    c,
		bus:      b,
		engine:   engine,
		velocity: velocity.NewService(repo, c),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Engine returns the decision engine.
func (s *Service) Engine() *decision.Engine {
	return s.engine
}

// Outcome is the result of one Assess call.
type Outcome struct {
	Assessment   *domain.Assessment
	Cached       bool
	PolicySource string
	EvaluateMs   int64

	// Submissions counts the customer's requests in the last 24 hours,
	// including this one. Zero when unknown.
	Submissions int64
}

// Assess evaluates req for tenantID. A request whose fingerprint matches a
// recent assessment is answered from cache without being stored again.
func (s *Service) Assess(ctx context.Context, tenantID string, req *domain.RefundRequest, requestID string) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "assess",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("order_number", req.OrderNumber),
		),
	)
	defer span.End()

	policy, source, err := s.effectivePolicy(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	fp, err := fingerprint.Of(req, policy)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		hit, err := cache.Assessment(ctx, s.cache, tenantID, fp)
		if err != nil {
			slog.Warn("assessment cache lookup failed", "tenant_id", tenantID, "error", err)
		}
		if hit != nil {
			span.SetAttributes(attribute.Bool("cached", true))
			return &Outcome{Assessment: hit, Cached: true, PolicySource: source}, nil
		}
	}

	enriched, err := s.velocity.Enrich(ctx, tenantID, req)
	if err != nil {
		slog.Warn("refund history enrichment failed",
			"tenant_id", tenantID,
			"order_number", req.OrderNumber,
			"error", err,
		)
	}

	start := time.Now()
	result := s.engine.Evaluate(enriched, policy)
	evaluateMs := time.Since(start).Milliseconds()

	a := &domain.Assessment{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		OrderNumber:   req.OrderNumber,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		Fingerprint:   fp,
		Action:        result.Action,
		RiskScore:     result.RiskScore,
		Request:       enriched,
		Policy:        policy,
		Result:        result,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.repo.SaveAssessment(ctx, tenantID, a); err != nil {
		return nil, fmt.Errorf("failed to save assessment: %w", err)
	}

	submissions, err := s.velocity.Record(ctx, tenantID, req.CustomerEmail)
	if err != nil {
		slog.Warn("failed to record submission", "tenant_id", tenantID, "error", err)
	}

	if s.cache != nil {
		if err := cache.PutAssessment(ctx, s.cache, tenantID, a, s.cfg.AssessmentTTL); err != nil {
			slog.Warn("failed to cache assessment", "assessment_id", a.ID, "error", err)
		}
	}

	if s.bus != nil {
		if err := bus.PublishDecision(ctx, s.bus, tenantID, a, requestID); err != nil {
			slog.Error("failed to publish decision",
				"assessment_id", a.ID,
				"error", err,
			)
		}
	}

	span.SetAttributes(
		attribute.String("action", string(a.Action)),
		attribute.Int("risk_score", a.RiskScore),
	)
	slog.Info("refund assessed",
		"tenant_id", tenantID,
		"assessment_id", a.ID,
		"order_number", a.OrderNumber,
		"action", a.Action,
		"risk_score", a.RiskScore,
		"policy_source", source,
		"evaluate_ms", evaluateMs,
	)

	return &Outcome{
		Assessment:   a,
		PolicySource: source,
		EvaluateMs:   evaluateMs,
		Submissions:  submissions,
	}, nil
}

// effectivePolicy picks the policy embedded in the request, then the
// tenant's stored policy, then the default.
func (s *Service) effectivePolicy(ctx context.Context, tenantID string, req *domain.RefundRequest) (domain.MerchantPolicy, string, error) {
	if req.MerchantPolicy != nil {
		return req.MerchantPolicy.Clone(), PolicyFromRequest, nil
	}

	p, err := s.Policy(ctx, tenantID)
	switch {
	case err == nil:
		return *p, PolicyStored, nil
	case errors.Is(err, repository.ErrNotFound):
		return domain.DefaultPolicy(), PolicyDefault, nil
	default:
		return domain.MerchantPolicy{}, "", err
	}
}

// Policy returns the tenant's stored policy, reading through the cache.
// It returns repository.ErrNotFound when the tenant has none.
func (s *Service) Policy(ctx context.Context, tenantID string) (*domain.MerchantPolicy, error) {
	if s.cache != nil {
		if p, err := cache.Policy(ctx, s.cache, tenantID); err == nil && p != nil {
			return p, nil
		}
	}

	p, err := s.repo.GetPolicy(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := cache.PutPolicy(ctx, s.cache, tenantID, p, s.cfg.PolicyTTL); err != nil {
			slog.Warn("failed to cache policy", "tenant_id", tenantID, "error", err)
		}
	}
	return p, nil
}

// SavePolicy stores the tenant's policy after checking threshold order and
// compiling every custom rule.
func (s *Service) SavePolicy(ctx context.Context, tenantID string, p *domain.MerchantPolicy) error {
	if !p.ThresholdsOrdered() {
		return fmt.Errorf("%w: auto_approve_threshold (%d) must be below auto_reject_threshold (%d)",
			ErrInvalidPolicy, p.AutoApproveThreshold, p.AutoRejectThreshold)
	}
	if err := s.engine.Rules().ValidateAll(p.CustomRules); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	if err := s.repo.SavePolicy(ctx, tenantID, p); err != nil {
		return err
	}

	if s.cache != nil {
		if err := cache.InvalidatePolicy(ctx, s.cache, tenantID); err != nil {
			slog.Warn("failed to invalidate cached policy", "tenant_id", tenantID, "error", err)
		}
	}

	slog.Info("merchant policy saved",
		"tenant_id", tenantID,
		"custom_rules", len(p.CustomRules),
	)
	return nil
}

// Response renders the outcome as the POST /assess response body.
func (o *Outcome) Response(traceID string, validateMs, totalMs int64) domain.AssessmentResponse {
	a := o.Assessment
	return domain.AssessmentResponse{
		Success:      true,
		Data:         a.Result,
		AssessmentID: a.ID,
		Fingerprint:  a.Fingerprint,
		Cached:       o.Cached,
		Metadata: domain.AssessmentMetadata{
			TraceID:           traceID,
			ValidateMs:        validateMs,
			EvaluateMs:        o.EvaluateMs,
			TotalMs:           totalMs,
			CustomRules:       len(a.Policy.CustomRules),
			PolicySource:      o.PolicySource,
			EngineVersion:     decision.Version,
			RecentSubmissions: o.Submissions,
		},
	}
}
