package decision

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/refundguard/internal/domain"
	"github.com/opensource-finance/refundguard/internal/features"
	"github.com/opensource-finance/refundguard/internal/lexicon"
	"github.com/opensource-finance/refundguard/internal/scoring"
)

// State is an evaluation stage. Every evaluation passes through all four in order.
type State int

const (
	stateNew State = iota
	StateScored
	StateOverrideChecked
	StateActionAssigned
	StateRendered
)

func (s State) String() string {
	switch s {
	case stateNew:
		return "NEW"
	case StateScored:
		return "SCORED"
	case StateOverrideChecked:
		return "OVERRIDE_CHECKED"
	case StateActionAssigned:
		return "ACTION_ASSIGNED"
	case StateRendered:
		return "RENDERED"
	default:
		return "UNKNOWN"
	}
}

// Confidence bounds in hundredths.
const (
	confidenceMax     = 95
	confidenceMin     = 50
	confidencePenalty = 15
)

// actionSource records why an action was chosen.
type actionSource int

const (
	sourceThreshold actionSource = iota
	sourceRejectOverride
	sourceAnomaly
	sourceApproveOverride
)

// assignAction applies the precedence REJECT override, data-quality anomaly,
// APPROVE override, then thresholds.
func assignAction(score int, policy domain.MerchantPolicy, f features.Features, ov Overrides) (domain.Action, actionSource) {
	switch {
	case len(ov.Reject) > 0:
		return domain.ActionReject, sourceRejectOverride
	case len(f.Anomalies) > 0:
		return domain.ActionFlag, sourceAnomaly
	case len(ov.Approve) > 0:
		return domain.ActionApprove, sourceApproveOverride
	case score <= policy.AutoApproveThreshold:
		return domain.ActionApprove, sourceThreshold
	case score >= policy.AutoRejectThreshold:
		return domain.ActionReject, sourceThreshold
	default:
		return domain.ActionFlag, sourceThreshold
	}
}

// confidence starts at 0.95 and loses 0.15 per missing input or anomaly, floor 0.50.
func confidence(req *domain.RefundRequest, policy domain.MerchantPolicy, f features.Features) float64 {
	missing := len(f.Anomalies)
	if req.DeliveryStatus == "" {
		missing++
	}
	if !f.HasMessages {
		missing++
	}
	if policy.RequirePhotoProof && !f.HasImages {
		missing++
	}
	if !f.AccountAgeKnown {
		missing++
	}

	hundredths := confidenceMax - confidencePenalty*missing
	if hundredths < confidenceMin {
		hundredths = confidenceMin
	}
	return float64(hundredths) / 100
}

func fraudProbability(score int) domain.FraudProbability {
	switch {
	case score < 25:
		return domain.FraudLow
	case score <= 50:
		return domain.FraudMedium
	case score <= 75:
		return domain.FraudHigh
	default:
		return domain.FraudCritical
	}
}

func customerSegment(req *domain.RefundRequest, f features.Features, card *scoring.Scorecard) domain.CustomerSegment {
	switch {
	case card.Fraud.Points >= 25:
		return domain.SegmentSerialRefunder
	case f.IsNewCustomer:
		return domain.SegmentNewCustomer
	case f.IsHighValueCustomer:
		return domain.SegmentHighValue
	case req.CustomerHistory.TotalOrders == 1:
		return domain.SegmentOneTimeBuyer
	default:
		return domain.SegmentRegular
	}
}

func historicalContext(req *domain.RefundRequest, f features.Features) string {
	h := req.CustomerHistory
	var b strings.Builder
	if f.AccountAgeKnown {
		fmt.Fprintf(&b, "Account age %d days", f.AccountAgeDays)
	} else {
		b.WriteString("Account age unknown")
	}
	fmt.Fprintf(&b, ", %d orders and %d refunds (%s refund rate), lifetime spend $%s, average order $%s.",
		h.TotalOrders, h.TotalRefunds, percentOf(h.RefundRate), h.TotalSpent.StringFixed(2), h.AvgOrderValue.StringFixed(2))
	if f.RecentRefundsKnown {
		fmt.Fprintf(&b, " %d refunds in the last 60 days.", f.RecentRefunds)
	}
	if len(req.PreviousRefundReasons) > 0 {
		fmt.Fprintf(&b, " Previous refund reasons: %s.", strings.Join(req.PreviousRefundReasons, "; "))
	}
	return b.String()
}

func recommendation(action domain.Action, src actionSource, score int, policy domain.MerchantPolicy, f features.Features, ov Overrides) string {
	switch src {
	case sourceRejectOverride:
		return fmt.Sprintf("Reject: hard rule triggered (%s).", strings.Join(ov.Reject, ", "))
	case sourceAnomaly:
		codes := make([]string, len(f.Anomalies))
		for i, a := range f.Anomalies {
			codes[i] = a.Code
		}
		return fmt.Sprintf("Flag for manual review: inconsistent data (%s).", strings.Join(codes, ", "))
	case sourceApproveOverride:
		return fmt.Sprintf("Approve: hard rule triggered (%s).", strings.Join(ov.Approve, ", "))
	}

	switch action {
	case domain.ActionApprove:
		return fmt.Sprintf("Approve: risk score %d is at or below the auto-approve threshold of %d.", score, policy.AutoApproveThreshold)
	case domain.ActionReject:
		return fmt.Sprintf("Reject: risk score %d is at or above the auto-reject threshold of %d.", score, policy.AutoRejectThreshold)
	default:
		return fmt.Sprintf("Flag for manual review: risk score %d falls between the thresholds %d and %d.",
			score, policy.AutoApproveThreshold, policy.AutoRejectThreshold)
	}
}

func suggestedAction(action domain.Action, req *domain.RefundRequest, policy domain.MerchantPolicy, f features.Features, card *scoring.Scorecard) domain.SuggestedAction {
	sig := card.Signals
	points := make([]string, 0, 4)

	switch action {
	case domain.ActionApprove:
		points = append(points, fmt.Sprintf("Confirm the refund of $%s to the original payment method.", req.RefundAmount.StringFixed(2)))
		if f.HasImages {
			points = append(points, "Thank the customer for the photos and details provided.")
		}
		switch sig.ReasonClass {
		case lexicon.ClassWrongItem:
			points = append(points, "Apologise for sending the wrong item.")
		case lexicon.ClassNeverArrived:
			points = append(points, "Apologise that the parcel did not arrive.")
		case lexicon.ClassDamaged:
			points = append(points, "Apologise that the item arrived damaged.")
		}
		return domain.SuggestedAction{
			Primary:       domain.MerchantApprove,
			Alternative:   "Offer an exchange or store credit if the customer prefers it to a refund.",
			TalkingPoints: points,
		}

	case domain.ActionReject:
		if sig.WindowExceededBy > 0 {
			points = append(points, fmt.Sprintf("The request falls outside the %d-day refund window.", policy.RefundWindowDays))
		}
		if !sig.Compliance.ReasonAllowed {
			points = append(points, "The stated reason is not covered by the refund policy.")
		}
		if !sig.Compliance.HasRequiredEvidence {
			points = append(points, "Photo proof is required for refunds under the store policy.")
		}
		if sig.DeliveredClaim {
			points = append(points, "Carrier tracking shows the order was delivered.")
		}
		if req.IsDigitalProduct && !sig.DefectClaim() {
			points = append(points, "Digital products are refundable only when defective.")
		}
		if len(points) == 0 {
			points = append(points, "The request did not meet the criteria of the refund policy.")
		}
		return domain.SuggestedAction{
			Primary:       domain.MerchantReject,
			Alternative:   "Offer store credit or a partial refund if the customer provides verifiable evidence.",
			TalkingPoints: points,
		}

	default:
		if !f.HasImages {
			points = append(points, "Ask the customer for photos of the item and packaging.")
		}
		if req.DeliveryStatus == "" || sig.DeliveredClaim {
			points = append(points, "Check carrier records for tracking and proof of delivery.")
		}
		switch {
		case sig.Vague, sig.ReasonClass == lexicon.ClassUnclassified,
			sig.ReasonClass == lexicon.ClassContradictory, sig.ReasonClass == lexicon.ClassNoReason:
			points = append(points, "Ask the customer to describe the problem in more detail.")
		}
		if req.IsAddressMismatch {
			points = append(points, "Verify the shipping and billing addresses with the customer.")
		}
		if len(f.Anomalies) > 0 {
			points = append(points, "Check the order dates and amounts for data-entry errors.")
		}
		if len(points) == 0 {
			points = append(points, "Review the customer's order history before deciding.")
		}
		return domain.SuggestedAction{
			Primary:       domain.MerchantRequestMoreInfo,
			Alternative:   "Approve once the item is returned and inspected.",
			TalkingPoints: points,
		}
	}
}

func percentOf(rate float64) string {
	return fmt.Sprintf("%.0f%%", rate*100)
}
