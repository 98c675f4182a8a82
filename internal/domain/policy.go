package domain

// MerchantPolicy governs thresholds, the refund window and evidence requirements.
// It is supplied per evaluation; the engine never holds policy as process state.
type MerchantPolicy struct {
	RefundWindowDays     int          `json:"refund_window_days"`
	MaxRefundRate        float64      `json:"max_refund_rate"`
	MinOrderAgeHours     int          `json:"min_order_age_hours"`
	RequirePhotoProof    bool         `json:"require_photo_proof"`
	AutoApproveThreshold int          `json:"auto_approve_threshold"`
	AutoRejectThreshold  int          `json:"auto_reject_threshold"`
	AllowedReasons       []string     `json:"allowed_reasons,omitempty"`
	BlockedReasons       []string     `json:"blocked_reasons,omitempty"`
	PolicyText           string       `json:"policy_text,omitempty"`
	CustomRules          []CustomRule `json:"custom_rules,omitempty"`
}

// CustomRule is a merchant-defined CEL expression evaluated after the built-in scorers.
// A matching rule adds Points (which may be negative) to the assessment adjustments.
type CustomRule struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Points     int    `json:"points"`
	Reason     string `json:"reason"`
}

// Custom rule point bounds.
const (
	MinCustomRulePoints = -15
	MaxCustomRulePoints = 15
)

// DefaultPolicy returns the settings a new merchant starts with.
func DefaultPolicy() MerchantPolicy {
	return MerchantPolicy{
		RefundWindowDays:     30,
		MaxRefundRate:        0.10,
		MinOrderAgeHours:     24,
		RequirePhotoProof:    true,
		AutoApproveThreshold: 20,
		AutoRejectThreshold:  80,
	}
}

// ThresholdsOrdered reports whether auto-approve sits strictly below auto-reject.
func (p MerchantPolicy) ThresholdsOrdered() bool {
	return p.AutoApproveThreshold < p.AutoRejectThreshold
}

// Clone returns a deep copy of the policy.
func (p MerchantPolicy) Clone() MerchantPolicy {
	c := p
	c.AllowedReasons = append([]string(nil), p.AllowedReasons...)
	c.BlockedReasons = append([]string(nil), p.BlockedReasons...)
	c.CustomRules = append([]CustomRule(nil), p.CustomRules...)
	return c
}
