// Package features derives time deltas, ratios and data-quality markers from a refund request.
package features

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/refundguard/internal/domain"
)

// Thresholds used by the derivation.
var (
	highValueSpend = decimal.NewFromInt(500)
	hundred        = decimal.NewFromInt(100)
)

const (
	newCustomerDays    = 30
	recentRefundWindow = 60 // days
)

// Anomaly codes for inconsistent input.
const (
	AnomalyDatesOutOfOrder      = "dates_out_of_order"
	AnomalyZeroTotalWithRefund  = "zero_total_with_refund"
	AnomalyThresholdsMisordered = "thresholds_misordered"
)

// Anomaly is a data-quality problem found in the request or policy.
// Anomalies never fail an evaluation; they lower confidence and force review.
type Anomaly struct {
	Code    string
	Message string
}

// Features are the values computed from raw request fields before scoring.
type Features struct {
	DaysSinceOrder  int
	HoursSinceOrder int

	// RefundPercentage is refundAmount / orderTotal * 100, or 0 when orderTotal <= 0.
	RefundPercentage decimal.Decimal

	IsHighValueCustomer bool
	IsNewCustomer       bool

	AccountAgeKnown bool
	AccountAgeDays  int

	// DaysSinceDelivery is nil when no delivery date was supplied.
	DaysSinceDelivery *int

	// RecentRefunds is the trailing 60-day refund count, given or inferred.
	RecentRefunds      int
	RecentRefundsKnown bool

	RefundExceedsTotal bool
	HasImages          bool
	HasMessages        bool

	// Texts holds the non-empty reason, note and message bodies in that order.
	Texts []string

	Anomalies []Anomaly
}

// Derive computes Features. It never fails: inconsistent input produces
// best-effort values plus anomalies.
func Derive(req *domain.RefundRequest, policy domain.MerchantPolicy) Features {
	var f Features

	elapsed := req.RefundRequestDate.Sub(req.OrderDate.Time)
	f.HoursSinceOrder = int(elapsed / time.Hour)
	f.DaysSinceOrder = int(elapsed / (24 * time.Hour))
	if elapsed < 0 {
		f.Anomalies = append(f.Anomalies, Anomaly{
			Code:    AnomalyDatesOutOfOrder,
			Message: "Refund request date is earlier than the order date",
		})
	}

	f.RefundPercentage = decimal.Zero
	if req.OrderTotal.IsPositive() {
		f.RefundPercentage = req.RefundAmount.Div(req.OrderTotal).Mul(hundred).Round(2)
	} else if req.RefundAmount.IsPositive() {
		f.Anomalies = append(f.Anomalies, Anomaly{
			Code:    AnomalyZeroTotalWithRefund,
			Message: "Order total is zero but a refund amount was requested",
		})
	}
	f.RefundExceedsTotal = req.OrderTotal.IsPositive() && req.RefundAmount.GreaterThan(req.OrderTotal)

	if !policy.ThresholdsOrdered() {
		f.Anomalies = append(f.Anomalies, Anomaly{
			Code:    AnomalyThresholdsMisordered,
			Message: "Policy auto-approve threshold is not below the auto-reject threshold",
		})
	}

	hist := req.CustomerHistory
	f.IsHighValueCustomer = hist.TotalSpent.GreaterThan(highValueSpend)
	if hist.AccountAgeDays != nil {
		f.AccountAgeKnown = true
		f.AccountAgeDays = *hist.AccountAgeDays
		f.IsNewCustomer = f.AccountAgeDays < newCustomerDays
	}

	if req.DeliveryDate != nil && !req.DeliveryDate.IsZero() {
		d := int(req.RefundRequestDate.Sub(req.DeliveryDate.Time) / (24 * time.Hour))
		f.DaysSinceDelivery = &d
	}

	f.RecentRefunds, f.RecentRefundsKnown = RecentRefunds(hist)

	f.HasImages = len(req.ProductImages) > 0
	f.HasMessages = len(req.CustomerMessages) > 0

	f.Texts = make([]string, 0, 2+len(req.CustomerMessages))
	for _, s := range []string{req.RefundReason, req.CustomerNote} {
		if strings.TrimSpace(s) != "" {
			f.Texts = append(f.Texts, s)
		}
	}
	for _, m := range req.CustomerMessages {
		if strings.TrimSpace(m.Message) != "" {
			f.Texts = append(f.Texts, m.Message)
		}
	}

	return f
}

// HasAnomaly reports whether an anomaly with the given code was recorded.
func (f Features) HasAnomaly(code string) bool {
	for _, a := range f.Anomalies {
		if a.Code == code {
			return true
		}
	}
	return false
}

// RecentRefunds returns the trailing 60-day refund count from the history:
// the given value, or total_refunds when the account is young enough that
// every refund falls inside the window.
func RecentRefunds(hist domain.CustomerHistory) (int, bool) {
	switch {
	case hist.RecentRefunds != nil:
		return *hist.RecentRefunds, true
	case hist.AccountAgeDays != nil && *hist.AccountAgeDays <= recentRefundWindow:
		return hist.TotalRefunds, true
	}
	return 0, false
}
