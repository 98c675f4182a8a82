package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/refundguard/internal/domain"
)

// RefundRequested asks the worker to assess a refund request. Request holds
// the request body as submitted; the worker validates it. TenantID is only
// read by a worker subscribed across tenants.
type RefundRequested struct {
	RequestID string          `json:"requestId"`
	TenantID  string          `json:"tenantId,omitempty"`
	Request   json.RawMessage `json:"request"`
}

// AssessmentDecided announces a stored assessment. It goes to
// TopicAssessmentDecided and, for FLAG and REJECT, to the follow-up topic.
type AssessmentDecided struct {
	AssessmentID  string        `json:"assessmentId"`
	RequestID     string        `json:"requestId,omitempty"`
	OrderNumber   string        `json:"orderNumber"`
	CustomerEmail string        `json:"customerEmail"`
	Fingerprint   string        `json:"fingerprint"`
	Action        domain.Action `json:"action"`
	RiskScore     int           `json:"riskScore"`
	Overrides     []string      `json:"overrides"`
	DecidedAt     time.Time     `json:"decidedAt"`
}

// NewAssessmentDecided summarizes a stored assessment as an event.
func NewAssessmentDecided(a *domain.Assessment, requestID string) AssessmentDecided {
	ev := AssessmentDecided{
		AssessmentID:  a.ID,
		RequestID:     requestID,
		OrderNumber:   a.OrderNumber,
		CustomerEmail: a.CustomerEmail,
		Fingerprint:   a.Fingerprint,
		Action:        a.Action,
		RiskScore:     a.RiskScore,
		Overrides:     []string{},
		DecidedAt:     a.CreatedAt,
	}
	if a.Result != nil {
		ev.Overrides = append(ev.Overrides, a.Result.Overrides...)
	}
	return ev
}

// PublishJSON encodes v and publishes it to the tenant's topic.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

// PublishDecision publishes the decided event and, when the action calls for
// one, the review or rejected follow-up.
func PublishDecision(ctx context.Context, b domain.EventBus, tenantID string, a *domain.Assessment, requestID string) error {
	ev := NewAssessmentDecided(a, requestID)
	if err := PublishJSON(ctx, b, tenantID, domain.TopicAssessmentDecided, ev); err != nil {
		return err
	}
	if topic := domain.TopicForAction(a.Action); topic != "" {
		return PublishJSON(ctx, b, tenantID, topic, ev)
	}
	return nil
}

// Decode unmarshals a message payload into T.
func Decode[T any](msg *domain.Message) (*T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", msg.Topic, err)
	}
	return &v, nil
}
