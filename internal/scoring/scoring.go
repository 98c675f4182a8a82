// Package scoring implements the seven risk dimensions and the aggregator.
package scoring

import (
	"log/slog"

	"github.com/opensource-finance/refundguard/internal/domain"
	"github.com/opensource-finance/refundguard/internal/features"
	"github.com/opensource-finance/refundguard/internal/lexicon"
)

// Dimension names, as used in score_breakdown.
const (
	DimWindow    = "window_compliance"
	DimSentiment = "sentiment"
	DimFraud     = "fraud_patterns"
	DimReason    = "reason_validity"
	DimFinancial = "financial_risk"
	DimDelivery  = "delivery_verification"
	DimEvidence  = "evidence"
)

// Result is the output of a single dimension scorer.
type Result struct {
	Dimension  string
	Points     int
	Cap        int
	RedFlags   []string
	GreenFlags []string
	Adjustment int
	Narrative  string
}

func (r *Result) red(flag string) {
	r.RedFlags = append(r.RedFlags, flag)
}

func (r *Result) green(flag string) {
	r.GreenFlags = append(r.GreenFlags, flag)
}

// clamp bounds Points to [0, Cap].
func (r *Result) clamp() {
	r.Points = clampInt(r.Points, 0, r.Cap)
}

// Input bundles everything a scorer may read.
type Input struct {
	Request  *domain.RefundRequest
	Policy   domain.MerchantPolicy
	Features features.Features
	Lexicon  *lexicon.Lexicon
}

// Signals are facts established while scoring that the override evaluator
// and renderer reuse, so every downstream check agrees with the scores.
type Signals struct {
	Tone        string
	Threatening bool

	// ReasonClass is the final class, including the synthetic unclassified,
	// contradictory and blocked classes.
	ReasonClass string
	// Claimed is the lexicon class the refund reason matched, if any.
	Claimed        lexicon.ReasonClass
	ClaimMatched   bool
	NonReceipt     bool
	Possession     bool
	Contradiction  bool
	QualityClaim   bool
	Vague          bool
	BlockedReason  bool
	DeliveredClaim bool // carrier shows delivered but the customer claims non-receipt

	WindowExceededBy int

	Compliance domain.PolicyCompliance
}

// Scorecard holds every dimension result plus aggregate values.
type Scorecard struct {
	Window    Result
	Sentiment Result
	Fraud     Result
	Reason    Result
	Financial Result
	Delivery  Result
	Evidence  Result

	// Custom collects merchant custom-rule contributions. Only its Adjustment counts.
	Custom Result

	Signals Signals

	Breakdown domain.ScoreBreakdown
	RiskScore int
}

// Score runs the seven scorers. Aggregate must be called before the
// breakdown and risk score are read.
func Score(in Input) *Scorecard {
	c := &Scorecard{Custom: Result{Dimension: "custom_rules"}}
	c.Signals = analyzeText(in)

	c.Window = scoreWindow(in, &c.Signals)
	c.Sentiment = scoreSentiment(in, &c.Signals)
	c.Reason = scoreReason(in, &c.Signals)
	c.Fraud = scoreFraud(in, &c.Signals)
	c.Financial = scoreFinancial(in, c.Fraud.Points)
	c.Delivery = scoreDelivery(in, &c.Signals)
	c.Evidence = scoreEvidence(in, &c.Signals)
	return c
}

// Dimensions returns the seven results in breakdown order.
func (c *Scorecard) Dimensions() []*Result {
	return []*Result{&c.Window, &c.Sentiment, &c.Fraud, &c.Reason, &c.Financial, &c.Delivery, &c.Evidence}
}

// Aggregate computes the breakdown and the clamped risk score.
// A sub-score outside its cap is an engine defect: it is clamped and logged.
func (c *Scorecard) Aggregate() {
	for _, r := range c.Dimensions() {
		if r.Points < 0 || r.Points > r.Cap {
			slog.Error("dimension score out of bounds",
				"dimension", r.Dimension,
				"points", r.Points,
				"cap", r.Cap,
			)
			r.clamp()
		}
	}

	adjustments := c.Custom.Adjustment
	for _, r := range c.Dimensions() {
		adjustments += r.Adjustment
	}

	c.Breakdown = domain.ScoreBreakdown{
		WindowCompliance:     c.Window.Points,
		Sentiment:            c.Sentiment.Points,
		FraudPatterns:        c.Fraud.Points,
		ReasonValidity:       c.Reason.Points,
		FinancialRisk:        c.Financial.Points,
		DeliveryVerification: c.Delivery.Points,
		Evidence:             c.Evidence.Points,
		Adjustments:          adjustments,
	}
	c.RiskScore = clampInt(c.Breakdown.Total(), 0, 100)
}

// RedFlags returns every red flag in dimension order, custom rules last.
func (c *Scorecard) RedFlags() []string {
	out := make([]string, 0)
	for _, r := range c.Dimensions() {
		out = append(out, r.RedFlags...)
	}
	return append(out, c.Custom.RedFlags...)
}

// GreenFlags returns every green flag in dimension order, custom rules last.
func (c *Scorecard) GreenFlags() []string {
	out := make([]string, 0)
	for _, r := range c.Dimensions() {
		out = append(out, r.GreenFlags...)
	}
	return append(out, c.Custom.GreenFlags...)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
