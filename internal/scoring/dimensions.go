package scoring

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/refundguard/internal/domain"
	"github.com/opensource-finance/refundguard/internal/features"
	"github.com/opensource-finance/refundguard/internal/lexicon"
)

const (
	// Sentiment points for upstream message labels.
	labelThreateningPoints = 15
	labelNegativePoints    = 5

	inTransitMaxDays  = 7
	frequentRecent    = 3
	frequentLifetime  = 5
	highValueFraudCut = 25
)

var (
	ninety           = decimal.NewFromInt(90)
	fifty            = decimal.NewFromInt(50)
	oneHundred       = decimal.NewFromInt(100)
	fiveHundred      = decimal.NewFromInt(500)
	avgOrderMultiple = decimal.NewFromInt(3)
)

func scoreWindow(in Input, s *Signals) Result {
	r := Result{Dimension: DimWindow, Cap: domain.CapWindowCompliance}
	f := in.Features

	window := in.Policy.RefundWindowDays
	if window < 1 {
		window = 1
	}
	days := f.DaysSinceOrder
	s.Compliance.WithinRefundWindow = days <= window

	var band string
	switch {
	case days < 0:
		band = "before the order date"
		r.red("Refund request is dated before the order date")
	case days*100 <= window*50:
		band = "within the first half of the window"
		r.green(fmt.Sprintf("Requested early in the refund window (%d of %d days)", days, window))
	case days*100 <= window*80:
		band = "in the later part of the window"
		r.Points = 5
	case days <= window:
		band = "close to the end of the window"
		r.Points = 10
	default:
		s.WindowExceededBy = days - window
		band = fmt.Sprintf("%d days past the window", s.WindowExceededBy)
		r.Points = 15
		r.red(fmt.Sprintf("Refund window exceeded: %d days since order, policy allows %d", days, window))
	}

	minAge := in.Policy.MinOrderAgeHours
	s.Compliance.MeetsMinimumAge = f.HoursSinceOrder >= minAge
	if !s.Compliance.MeetsMinimumAge {
		r.Points += 10
		r.red(fmt.Sprintf("Requested %d hours after ordering, policy minimum is %d hours", f.HoursSinceOrder, minAge))
	}
	r.clamp()

	r.Narrative = fmt.Sprintf("Requested %d days after the order against a %d-day window, %s.", days, window, band)
	if !s.Compliance.MeetsMinimumAge {
		r.Narrative += fmt.Sprintf(" The order is younger than the %d-hour minimum age.", minAge)
	}
	return r
}

func scoreSentiment(in Input, s *Signals) Result {
	r := Result{Dimension: DimSentiment, Cap: domain.CapSentiment}
	lex := in.Lexicon
	texts := in.Features.Texts

	if tone, ok := lex.Tone(texts); ok {
		r.Points = tone.Points
		r.red(flagText(tone))
	}

	labeled, label := 0, ""
	for _, m := range in.Request.CustomerMessages {
		switch m.Sentiment {
		case domain.SentimentThreatening:
			if labeled < labelThreateningPoints {
				labeled, label = labelThreateningPoints, string(m.Sentiment)
			}
		case domain.SentimentNegative:
			if labeled < labelNegativePoints {
				labeled, label = labelNegativePoints, string(m.Sentiment)
			}
		}
	}
	if labeled > r.Points {
		r.Points = labeled
		r.red(fmt.Sprintf("Customer messages labeled %s", label))
	}

	var modifiers []string
	for _, m := range lex.MatchModifiers(texts) {
		r.Points += m.Points
		r.red(flagText(m))
		modifiers = append(modifiers, m.Name)
		if m.Name == lexicon.ModifierVagueness {
			s.Vague = true
		}
	}
	if s.Contradiction {
		if m, ok := lex.Modifier(lexicon.ModifierContradiction); ok {
			r.Points += m.Points
			r.red(flagText(m))
			modifiers = append(modifiers, m.Name)
		}
	}

	var green []string
	for _, g := range lex.MatchGreenFlags(texts) {
		r.Adjustment += g.Points
		r.green(flagText(g))
		green = append(green, g.Name)
	}
	r.clamp()

	r.Narrative = fmt.Sprintf("Tone classified as %s.", s.Tone)
	if len(modifiers) > 0 {
		r.Narrative += " Risk modifiers: " + strings.Join(modifiers, ", ") + "."
	}
	if len(green) > 0 {
		r.Narrative += " Positive signals: " + strings.Join(green, ", ") + "."
	}
	return r
}

func scoreFraud(in Input, s *Signals) Result {
	r := Result{Dimension: DimFraud, Cap: domain.CapFraudPatterns}
	req, f, p := in.Request, in.Features, in.Policy
	h := req.CustomerHistory

	switch {
	case h.RefundRate > p.MaxRefundRate:
		r.Points += 25
		r.red(fmt.Sprintf("Refund rate %s exceeds the policy maximum of %s", percent(h.RefundRate), percent(p.MaxRefundRate)))
	case h.RefundRate <= 0.10:
		if h.TotalOrders > 1 {
			r.green(fmt.Sprintf("Low refund rate (%s across %d orders)", percent(h.RefundRate), h.TotalOrders))
		}
	case h.RefundRate <= 0.20:
		r.Points += 5
	default:
		r.Points += 15
		r.red(fmt.Sprintf("Elevated refund rate of %s", percent(h.RefundRate)))
	}

	switch {
	case f.RefundPercentage.GreaterThanOrEqual(ninety):
		r.Points += 15
		r.red(fmt.Sprintf("Refund covers %s%% of the order total", f.RefundPercentage.StringFixed(0)))
	case f.RefundPercentage.GreaterThanOrEqual(fifty):
		r.Points += 8
	default:
		r.Points += 2
	}

	if f.AccountAgeKnown {
		if f.AccountAgeDays < 7 && req.RefundAmount.GreaterThan(oneHundred) {
			r.Points += 15
			r.red(fmt.Sprintf("Account is %d days old and the refund exceeds $100", f.AccountAgeDays))
		}
		if f.AccountAgeDays < 30 && h.RefundRate > 0.2 {
			r.Points += 10
			r.red(fmt.Sprintf("New account with a %s refund rate", percent(h.RefundRate)))
		}
	}

	if h.TotalOrders == 1 {
		r.Points += 10
		r.red("First order with this merchant")
		if req.RefundAmount.GreaterThanOrEqual(fiveHundred) {
			r.Points += 5
			r.red(fmt.Sprintf("First-order refund of %s", money(req.RefundAmount)))
		}
	}

	switch {
	case h.EmailVerified && h.PhoneVerified:
		r.Adjustment -= 5
		r.green("Email and phone verified")
	default:
		if !h.EmailVerified {
			r.Points += 8
			r.red("Email not verified")
		}
		if !h.PhoneVerified {
			r.Points += 5
			r.red("Phone not verified")
		}
	}

	if f.RecentRefunds >= frequentRecent {
		r.Points += 15
		r.red(fmt.Sprintf("%d refunds in the last 60 days", f.RecentRefunds))
	}
	if h.TotalRefunds >= frequentLifetime {
		r.Points += 10
		r.red(fmt.Sprintf("%d refunds on record", h.TotalRefunds))
	}

	if len(req.PreviousRefundReasons) > 0 {
		if repeatedReason(in.Lexicon, req, s) {
			r.Points += 10
			r.red("Same refund reason used on previous refunds")
		} else {
			r.Points += 5
			r.red(fmt.Sprintf("%d previous refunds with varied reasons", len(req.PreviousRefundReasons)))
		}
	}

	if req.IsDigitalProduct && !s.DefectClaim() {
		r.Points += 20
		r.red("Refund requested on a digital product without a defect claim")
	}
	r.clamp()

	if len(r.RedFlags) == 0 {
		r.Narrative = "No fraud patterns detected in customer history."
	} else {
		r.Narrative = fmt.Sprintf("%d fraud indicators found: %s.", len(r.RedFlags), strings.Join(r.RedFlags, "; "))
	}
	return r
}

func scoreReason(in Input, s *Signals) Result {
	r := Result{Dimension: DimReason, Cap: domain.CapReasonValidity}
	lex := in.Lexicon
	req := in.Request

	switch s.ReasonClass {
	case lexicon.ClassBlocked:
		r.Points = lex.ReasonBands.Blocked
		r.red("Refund reason is on the merchant's blocked list")
	case lexicon.ClassContradictory:
		r.Points = lex.ReasonBands.Contradictory
	case lexicon.ClassUnclassified:
		r.Points = lex.ReasonBands.Unclassified
		r.red("Refund reason does not match a recognised category")
	default:
		rc := s.Claimed
		r.Points = rc.Points
		if rc.PointsWithoutImages != nil && !in.Features.HasImages {
			r.Points = *rc.PointsWithoutImages
		}
		if rc.PointsUnconfirmed != nil &&
			req.DeliveryStatus != domain.DeliveryFailed && req.DeliveryStatus != domain.DeliveryPending {
			r.Points = *rc.PointsUnconfirmed
		}
		switch {
		case r.Points <= 3:
			r.green("Legitimate reason: " + flagText(rc.Rule))
		case r.Points >= 12:
			r.red(flagText(rc.Rule))
		}
	}

	claimed := s.ReasonClass
	if s.ClaimMatched {
		claimed = s.Claimed.Name
	}
	s.Compliance.ReasonAllowed = !s.BlockedReason &&
		(len(in.Policy.AllowedReasons) == 0 || reasonListed(in.Policy.AllowedReasons, req.RefundReason, claimed))
	if !s.Compliance.ReasonAllowed && !s.BlockedReason {
		r.red("Refund reason is not on the merchant's allowed list")
	}

	if s.DeliveredClaim {
		r.Points += 20
		r.red("Carrier shows delivered but the customer says the item never arrived")
	}
	r.clamp()

	r.Narrative = fmt.Sprintf("Reason classified as %s, scoring %d of %d.", s.ReasonClass, r.Points, r.Cap)
	return r
}

func scoreFinancial(in Input, fraudPoints int) Result {
	r := Result{Dimension: DimFinancial, Cap: domain.CapFinancialRisk}
	req, f := in.Request, in.Features
	h := req.CustomerHistory

	if h.AvgOrderValue.IsPositive() && req.RefundAmount.GreaterThan(h.AvgOrderValue.Mul(avgOrderMultiple)) {
		r.Points += 10
		r.red(fmt.Sprintf("Refund %s is more than 3x the average order value of %s",
			money(req.RefundAmount), money(h.AvgOrderValue)))
	}
	if req.RefundAmount.GreaterThan(h.TotalSpent) {
		r.Points += 8
		r.red(fmt.Sprintf("Refund %s exceeds lifetime spend of %s", money(req.RefundAmount), money(h.TotalSpent)))
	}
	if req.IsChargebackRisk {
		r.Points += 15
		r.red("Payment flagged as a chargeback risk")
	}
	if f.RefundExceedsTotal {
		r.red("Refund amount exceeds the order total")
	}
	if f.HasAnomaly(features.AnomalyZeroTotalWithRefund) {
		r.red("Order total is zero but a refund was requested")
	}

	bonus := ""
	if f.IsHighValueCustomer {
		if fraudPoints >= highValueFraudCut {
			bonus = " High-value bonus withheld because of fraud patterns."
		} else {
			r.Adjustment -= 5
			r.green(fmt.Sprintf("High-value customer (lifetime spend %s)", money(h.TotalSpent)))
			bonus = " High-value customer bonus applied."
		}
	}
	r.clamp()

	r.Narrative = fmt.Sprintf("Refund of %s against an order of %s, average order value %s and lifetime spend %s.%s",
		money(req.RefundAmount), money(req.OrderTotal), money(h.AvgOrderValue), money(h.TotalSpent), bonus)
	return r
}

func scoreDelivery(in Input, s *Signals) Result {
	r := Result{Dimension: DimDelivery, Cap: domain.CapDeliveryVerification}
	req, f := in.Request, in.Features

	if s.DeliveredClaim {
		r.Points += 10
		r.red("Tracking confirms delivery")
	}

	switch req.DeliveryStatus {
	case domain.DeliveryInTransit:
		if f.DaysSinceOrder <= inTransitMaxDays {
			r.Points += 8
			r.red("Refund requested while the order is still in transit")
		}
	case domain.DeliveryFailed:
		r.green("Carrier reports the delivery failed")
	case domain.DeliveryDelivered:
		if s.QualityClaim {
			r.Points += 2
		}
	case "":
		if req.TrackingNumber == "" {
			r.Points += 5
			r.red("No delivery status or tracking number")
		}
	}

	if req.IsAddressMismatch {
		r.Points += 8
		r.red("Shipping and billing addresses do not match")
	}
	r.clamp()

	status := string(req.DeliveryStatus)
	if status == "" {
		status = "unknown"
	}
	r.Narrative = fmt.Sprintf("Delivery status is %s", status)
	if f.DaysSinceDelivery != nil {
		r.Narrative += fmt.Sprintf(", delivered %d days before the request", *f.DaysSinceDelivery)
	}
	r.Narrative += "."
	return r
}

func scoreEvidence(in Input, s *Signals) Result {
	r := Result{Dimension: DimEvidence, Cap: domain.CapEvidence}
	images := len(in.Request.ProductImages)

	switch {
	case in.Policy.RequirePhotoProof && images == 0:
		s.Compliance.HasRequiredEvidence = false
		r.Points = 5
		r.red("Photo proof required but not provided")
		r.Narrative = "Policy requires photo proof and none was provided."
	case images > 0:
		s.Compliance.HasRequiredEvidence = true
		r.Adjustment -= 3
		r.green(fmt.Sprintf("Photo evidence provided (%d images)", images))
		r.Narrative = fmt.Sprintf("%d product images provided.", images)
	default:
		s.Compliance.HasRequiredEvidence = true
		r.Narrative = "No photos provided; policy does not require them."
	}
	return r
}

// DefectClaim reports whether the final reason is a merchant-fault defect.
func (s Signals) DefectClaim() bool {
	return s.ClaimMatched && s.Claimed.Defect && s.ReasonClass == s.Claimed.Name
}

func repeatedReason(lex *lexicon.Lexicon, req *domain.RefundRequest, s *Signals) bool {
	current := strings.TrimSpace(req.RefundReason)
	for _, prev := range req.PreviousRefundReasons {
		prev = strings.TrimSpace(prev)
		if current != "" && strings.EqualFold(prev, current) {
			return true
		}
		if !s.ClaimMatched || s.Claimed.Name == lexicon.ClassNoReason {
			continue
		}
		if rc, ok := lex.Classify(prev); ok && rc.Name == s.Claimed.Name {
			return true
		}
	}
	return false
}

func flagText(r lexicon.Rule) string {
	if r.Flag != "" {
		return r.Flag
	}
	return strings.ReplaceAll(r.Name, "_", " ")
}

func percent(rate float64) string {
	return decimal.NewFromFloat(rate).Mul(oneHundred).StringFixed(0) + "%"
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
