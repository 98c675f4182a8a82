package decision

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/refundguard/internal/domain"
	"github.com/opensource-finance/refundguard/internal/features"
	"github.com/opensource-finance/refundguard/internal/lexicon"
	"github.com/opensource-finance/refundguard/internal/scoring"
)

// Override names.
const (
	OverrideWindowExceeded         = "window_exceeded_7d"
	OverrideSerialAbuser           = "serial_abuser"
	OverrideDigitalChangedMind     = "digital_changed_mind"
	OverrideChargebackThreat       = "chargeback_threat"
	OverrideUnverifiedNewHighValue = "unverified_new_high_value"
	OverrideBlockedReason          = "blocked_reason"

	OverrideLoyalFirstRefund      = "loyal_first_refund"
	OverrideMerchantErrorVerified = "merchant_error_verified"
	OverrideConfirmedNonDelivery  = "confirmed_non_delivery"
	OverrideDefectWithProof       = "defect_with_proof"
	OverrideLowRiskPolite         = "low_risk_polite"
)

var highValueOrder = decimal.NewFromInt(100)

// overrideRule is a hard rule that bypasses threshold comparison.
type overrideRule struct {
	name  string
	match func(c *overrideContext) bool
}

type overrideContext struct {
	req  *domain.RefundRequest
	f    features.Features
	card *scoring.Scorecard
}

// rejectRules are checked before approveRules; every match is recorded.
var rejectRules = []overrideRule{
	{OverrideWindowExceeded, func(c *overrideContext) bool {
		return c.card.Signals.WindowExceededBy > 7
	}},
	{OverrideSerialAbuser, func(c *overrideContext) bool {
		return c.req.CustomerHistory.RefundRate > 0.70
	}},
	{OverrideDigitalChangedMind, func(c *overrideContext) bool {
		return c.req.IsDigitalProduct && c.card.Signals.ReasonClass == lexicon.ClassChangedMind
	}},
	{OverrideChargebackThreat, func(c *overrideContext) bool {
		return c.req.IsChargebackRisk && c.card.Signals.Threatening
	}},
	{OverrideUnverifiedNewHighValue, func(c *overrideContext) bool {
		return !c.req.CustomerHistory.EmailVerified &&
			c.req.RefundAmount.GreaterThan(highValueOrder) &&
			c.f.IsNewCustomer
	}},
	{OverrideBlockedReason, func(c *overrideContext) bool {
		return c.card.Signals.BlockedReason
	}},
}

var approveRules = []overrideRule{
	{OverrideLoyalFirstRefund, func(c *overrideContext) bool {
		return c.f.IsHighValueCustomer &&
			c.req.CustomerHistory.TotalRefunds == 0 &&
			c.card.Reason.Points <= 3
	}},
	{OverrideMerchantErrorVerified, func(c *overrideContext) bool {
		return c.card.Signals.ReasonClass == lexicon.ClassWrongItem &&
			c.f.HasImages &&
			c.req.DeliveryStatus == domain.DeliveryDelivered
	}},
	{OverrideConfirmedNonDelivery, func(c *overrideContext) bool {
		return c.card.Signals.ReasonClass == lexicon.ClassNeverArrived &&
			c.req.DeliveryStatus == domain.DeliveryFailed
	}},
	{OverrideDefectWithProof, func(c *overrideContext) bool {
		return c.card.Signals.ReasonClass == lexicon.ClassDamaged &&
			c.f.HasImages &&
			c.req.CustomerHistory.RefundRate < 0.10
	}},
	{OverrideLowRiskPolite, func(c *overrideContext) bool {
		return c.card.RiskScore < 15 && c.card.Sentiment.Points == 0
	}},
}

// Overrides holds every matched hard rule, by side.
type Overrides struct {
	Reject  []string
	Approve []string
}

// evaluateOverrides checks every hard rule against the aggregated scorecard.
func evaluateOverrides(req *domain.RefundRequest, f features.Features, card *scoring.Scorecard) Overrides {
	c := &overrideContext{req: req, f: f, card: card}
	var ov Overrides
	for _, r := range rejectRules {
		if r.match(c) {
			ov.Reject = append(ov.Reject, r.name)
		}
	}
	for _, r := range approveRules {
		if r.match(c) {
			ov.Approve = append(ov.Approve, r.name)
		}
	}
	return ov
}
