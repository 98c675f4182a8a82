package decision

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/refundguard/internal/domain"
)

var propertyReasons = []string{
	"Item arrived damaged",
	"Wrong item received",
	"Never arrived",
	"Changed my mind",
	"Found it cheaper elsewhere",
	"",
	"It never arrived and the handle is broken",
	"asdf qwerty",
}

var propertyStatuses = []domain.DeliveryStatus{
	"",
	domain.DeliveryDelivered,
	domain.DeliveryInTransit,
	domain.DeliveryPending,
	domain.DeliveryFailed,
}

func generatedRequest(reason, status, days, ageDays int, rate, amount, total float64, digital, chargeback, verified bool) *domain.RefundRequest {
	order := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	req := &domain.RefundRequest{
		OrderNumber:       "#P1",
		RefundAmount:      decimal.NewFromFloat(amount).Round(2),
		OrderTotal:        decimal.NewFromFloat(total).Round(2),
		RefundReason:      propertyReasons[reason],
		OrderDate:         domain.NewTimestamp(order),
		RefundRequestDate: domain.NewTimestamp(order.Add(time.Duration(days) * 24 * time.Hour)),
		ProductNames:      []string{"Widget"},
		IsDigitalProduct:  digital,
		IsChargebackRisk:  chargeback,
		DeliveryStatus:    propertyStatuses[status],
		CustomerHistory: domain.CustomerHistory{
			TotalOrders:   1 + ageDays%20,
			TotalRefunds:  int(rate * 10),
			RefundRate:    rate,
			AvgOrderValue: decimal.NewFromFloat(total / 2).Round(2),
			TotalSpent:    decimal.NewFromFloat(total * 3).Round(2),
			EmailVerified: verified,
			PhoneVerified: verified,
		},
	}
	if ageDays >= 0 {
		req.CustomerHistory.AccountAgeDays = domain.IntPtr(ageDays)
	}
	return req
}

func TestAssessmentBoundsProperty(t *testing.T) {
	e := newTestEngine(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	caps := []int{
		domain.CapWindowCompliance, domain.CapSentiment, domain.CapFraudPatterns, domain.CapReasonValidity,
		domain.CapFinancialRisk, domain.CapDeliveryVerification, domain.CapEvidence,
	}

	properties.Property("scores, confidence and slices stay within bounds", prop.ForAll(
		func(reason, status, days, ageDays int, rate, amount, total float64, digital, chargeback, verified bool) bool {
			req := generatedRequest(reason, status, days, ageDays, rate, amount, total, digital, chargeback, verified)
			a := e.Evaluate(req, testPolicy())

			if a.RiskScore < 0 || a.RiskScore > 100 {
				return false
			}
			b := a.ScoreBreakdown
			subs := []int{b.WindowCompliance, b.Sentiment, b.FraudPatterns, b.ReasonValidity,
				b.FinancialRisk, b.DeliveryVerification, b.Evidence}
			for i, v := range subs {
				if v < 0 || v > caps[i] {
					return false
				}
			}
			if a.Confidence < 0.5 || a.Confidence > 0.95 {
				return false
			}
			switch a.Action {
			case domain.ActionApprove, domain.ActionReject, domain.ActionFlag:
			default:
				return false
			}
			return a.RedFlags != nil && a.GreenFlags != nil && a.Overrides != nil &&
				a.Reasoning.FraudIndicators != nil && len(a.SuggestedAction.TalkingPoints) > 0
		},
		gen.IntRange(0, len(propertyReasons)-1),
		gen.IntRange(0, len(propertyStatuses)-1),
		gen.IntRange(-3, 120),
		gen.IntRange(-1, 1000),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 5000),
		gen.Float64Range(0, 5000),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestFraudMonotonicInRefundRateProperty(t *testing.T) {
	e := newTestEngine(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("raising refund_rate never lowers fraud_patterns", prop.ForAll(
		func(r1, r2, maxRate float64, ageDays int) bool {
			lo, hi := r1, r2
			if lo > hi {
				lo, hi = hi, lo
			}
			p := testPolicy()
			p.MaxRefundRate = maxRate

			low := generatedRequest(0, 1, 5, ageDays, lo, 80, 100, false, false, true)
			high := generatedRequest(0, 1, 5, ageDays, hi, 80, 100, false, false, true)
			// Hold lifetime refunds fixed so only the rate varies.
			high.CustomerHistory.TotalRefunds = low.CustomerHistory.TotalRefunds

			return e.Evaluate(low, p).ScoreBreakdown.FraudPatterns <= e.Evaluate(high, p).ScoreBreakdown.FraudPatterns
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0.05, 0.8),
		gen.IntRange(0, 400),
	))

	properties.TestingRun(t)
}

func TestIdempotenceProperty(t *testing.T) {
	e := newTestEngine(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("identical input yields identical risk and action", prop.ForAll(
		func(reason, days int, rate float64) bool {
			a := e.Evaluate(generatedRequest(reason, 1, days, 90, rate, 40, 80, false, false, true), testPolicy())
			b := e.Evaluate(generatedRequest(reason, 1, days, 90, rate, 40, 80, false, false, true), testPolicy())
			return a.RiskScore == b.RiskScore && a.Action == b.Action && a.Confidence == b.Confidence
		},
		gen.IntRange(0, len(propertyReasons)-1),
		gen.IntRange(0, 60),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
