// Package decision implements the refund risk decision engine.
// It derives features, scores the seven dimensions, applies hard overrides
// and renders the final assessment.
package decision

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/refundguard/internal/domain"
	"github.com/opensource-finance/refundguard/internal/features"
	"github.com/opensource-finance/refundguard/internal/lexicon"
	"github.com/opensource-finance/refundguard/internal/rules"
	"github.com/opensource-finance/refundguard/internal/scoring"
)

// Version identifies the rule set in assessment metadata.
const Version = "refundguard-1.0"

// Engine evaluates refund requests. It holds no per-request state and is
// safe for concurrent use.
type Engine struct {
	lexicon *lexicon.Lexicon
	rules   *rules.Engine
}

// NewEngine creates an engine. A nil lexicon uses the embedded default.
func NewEngine(lex *lexicon.Lexicon, rulesEngine *rules.Engine) (*Engine, error) {
	if lex == nil {
		var err error
		if lex, err = lexicon.Default(); err != nil {
			return nil, fmt.Errorf("load default lexicon: %w", err)
		}
	}
	if rulesEngine == nil {
		var err error
		if rulesEngine, err = rules.NewEngine(0, 0); err != nil {
			return nil, err
		}
	}
	return &Engine{lexicon: lex, rules: rulesEngine}, nil
}

// Rules returns the custom rule engine, for validating merchant policies.
func (e *Engine) Rules() *rules.Engine {
	return e.rules
}

// Evaluate produces the assessment for req under policy. It never fails:
// inconsistent input is reported through flags, confidence and a forced FLAG.
func (e *Engine) Evaluate(req *domain.RefundRequest, policy domain.MerchantPolicy) *domain.RiskAssessment {
	ev := &evaluation{req: req, policy: policy}
	ev.score(e.lexicon, e.rules)
	ev.checkOverrides()
	ev.assignAction()
	return ev.render()
}

// evaluation walks one request through SCORED, OVERRIDE_CHECKED,
// ACTION_ASSIGNED and RENDERED in order.
type evaluation struct {
	state State

	req    *domain.RefundRequest
	policy domain.MerchantPolicy

	features  features.Features
	card      *scoring.Scorecard
	overrides Overrides
	action    domain.Action
	source    actionSource
}

func (ev *evaluation) advance(from, to State) {
	if ev.state != from {
		panic(fmt.Sprintf("decision: transition %s -> %s from state %s", from, to, ev.state))
	}
	ev.state = to
}

func (ev *evaluation) score(lex *lexicon.Lexicon, re *rules.Engine) {
	ev.features = features.Derive(ev.req, ev.policy)
	ev.card = scoring.Score(scoring.Input{
		Request:  ev.req,
		Policy:   ev.policy,
		Features: ev.features,
		Lexicon:  lex,
	})
	applyCustomRules(re, ev.req, ev.policy, ev.features, ev.card)
	ev.card.Aggregate()
	ev.advance(stateNew, StateScored)
}

func (ev *evaluation) checkOverrides() {
	ev.overrides = evaluateOverrides(ev.req, ev.features, ev.card)
	ev.advance(StateScored, StateOverrideChecked)
}

func (ev *evaluation) assignAction() {
	ev.action, ev.source = assignAction(ev.card.RiskScore, ev.policy, ev.features, ev.overrides)
	ev.advance(StateOverrideChecked, StateActionAssigned)
}

func (ev *evaluation) render() *domain.RiskAssessment {
	req, policy, f, card := ev.req, ev.policy, ev.features, ev.card

	redFlags := card.RedFlags()
	if f.HasAnomaly(features.AnomalyThresholdsMisordered) {
		redFlags = append(redFlags, "Policy thresholds are misordered: auto-approve is not below auto-reject")
	}

	fired := make([]string, 0, len(ev.overrides.Reject)+len(ev.overrides.Approve))
	switch ev.source {
	case sourceRejectOverride:
		fired = append(fired, ev.overrides.Reject...)
	case sourceApproveOverride:
		fired = append(fired, ev.overrides.Approve...)
	}

	indicators := make([]string, len(card.Fraud.RedFlags))
	copy(indicators, card.Fraud.RedFlags)

	a := &domain.RiskAssessment{
		Action:         ev.action,
		RiskScore:      card.RiskScore,
		Confidence:     confidence(req, policy, f),
		ScoreBreakdown: card.Breakdown,
		Reasoning: domain.Reasoning{
			WindowCompliance:    card.Window.Narrative,
			SentimentAnalysis:   card.Sentiment.Narrative,
			FraudIndicators:     indicators,
			ReasonValidity:      card.Reason.Narrative,
			FinancialAssessment: card.Financial.Narrative,
			DeliveryStatus:      card.Delivery.Narrative,
			EvidenceProvided:    card.Evidence.Narrative,
			Recommendation:      recommendation(ev.action, ev.source, card.RiskScore, policy, f, ev.overrides),
		},
		RedFlags:          redFlags,
		GreenFlags:        card.GreenFlags(),
		SuggestedAction:   suggestedAction(ev.action, req, policy, f, card),
		FraudProbability:  fraudProbability(card.RiskScore),
		CustomerSegment:   customerSegment(req, f, card),
		HistoricalContext: historicalContext(req, f),
		PolicyCompliance:  card.Signals.Compliance,
		Overrides:         fired,
	}

	ev.advance(StateActionAssigned, StateRendered)
	return a
}

// applyCustomRules adds merchant custom-rule points to the scorecard.
// A rule that cannot be evaluated is skipped and reported as a red flag.
func applyCustomRules(re *rules.Engine, req *domain.RefundRequest, policy domain.MerchantPolicy, f features.Features, card *scoring.Scorecard) {
	if len(policy.CustomRules) == 0 {
		return
	}

	vars := rules.NewVars(req, f, card.Signals.ReasonClass)
	for _, o := range re.Evaluate(policy.CustomRules, vars) {
		if o.Err != nil {
			slog.Warn("custom rule skipped",
				"rule_id", o.Rule.ID,
				"error", o.Err,
			)
			card.Custom.RedFlags = append(card.Custom.RedFlags, fmt.Sprintf("Custom rule %q could not be evaluated", o.Rule.ID))
			continue
		}
		if !o.Matched {
			continue
		}

		card.Custom.Adjustment += o.Rule.Points
		reason := o.Rule.Reason
		if reason == "" {
			reason = o.Rule.Name
		}
		if reason == "" {
			reason = o.Rule.ID
		}
		if o.Rule.Points > 0 {
			card.Custom.RedFlags = append(card.Custom.RedFlags, reason)
		} else {
			card.Custom.GreenFlags = append(card.Custom.GreenFlags, reason)
		}
	}
}
