package domain

import (
	"time"
)

// Action is the final decision for a refund request.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionFlag    Action = "FLAG"
)

// MerchantAction is the primary step suggested to the merchant.
type MerchantAction string

const (
	MerchantApprove         MerchantAction = "APPROVE"
	MerchantReject          MerchantAction = "REJECT"
	MerchantRequestMoreInfo MerchantAction = "REQUEST_MORE_INFO"
)

// FraudProbability bands the risk score.
type FraudProbability string

const (
	FraudLow      FraudProbability = "LOW"
	FraudMedium   FraudProbability = "MEDIUM"
	FraudHigh     FraudProbability = "HIGH"
	FraudCritical FraudProbability = "CRITICAL"
)

// CustomerSegment classifies the requesting customer.
type CustomerSegment string

const (
	SegmentNewCustomer    CustomerSegment = "new_customer"
	SegmentRegular        CustomerSegment = "regular"
	SegmentHighValue      CustomerSegment = "high_value"
	SegmentSerialRefunder CustomerSegment = "serial_refunder"
	SegmentOneTimeBuyer   CustomerSegment = "one_time_buyer"
)

// Dimension caps.
const (
	CapWindowCompliance     = 15
	CapSentiment            = 15
	CapFraudPatterns        = 35
	CapReasonValidity       = 20
	CapFinancialRisk        = 10
	CapDeliveryVerification = 10
	CapEvidence             = 5
)

// RiskAssessment is the engine output. Every field is always present and
// slices are never nil, so the JSON form has no omitted keys.
type RiskAssessment struct {
	Action            Action           `json:"action"`
	RiskScore         int              `json:"risk_score"`
	Confidence        float64          `json:"confidence"`
	ScoreBreakdown    ScoreBreakdown   `json:"score_breakdown"`
	Reasoning         Reasoning        `json:"reasoning"`
	RedFlags          []string         `json:"red_flags"`
	GreenFlags        []string         `json:"green_flags"`
	SuggestedAction   SuggestedAction  `json:"suggested_action_for_merchant"`
	FraudProbability  FraudProbability `json:"fraud_probability"`
	CustomerSegment   CustomerSegment  `json:"customer_segment"`
	HistoricalContext string           `json:"historical_context"`
	PolicyCompliance  PolicyCompliance `json:"policy_compliance"`
	Overrides         []string         `json:"overrides"`
}

// ScoreBreakdown holds the seven capped dimension scores and the signed adjustment.
type ScoreBreakdown struct {
	WindowCompliance     int `json:"window_compliance"`
	Sentiment            int `json:"sentiment"`
	FraudPatterns        int `json:"fraud_patterns"`
	ReasonValidity       int `json:"reason_validity"`
	FinancialRisk        int `json:"financial_risk"`
	DeliveryVerification int `json:"delivery_verification"`
	Evidence             int `json:"evidence"`
	Adjustments          int `json:"adjustments"`
}

// Total returns the unclamped sum of every component.
func (b ScoreBreakdown) Total() int {
	return b.WindowCompliance + b.Sentiment + b.FraudPatterns + b.ReasonValidity +
		b.FinancialRisk + b.DeliveryVerification + b.Evidence + b.Adjustments
}

// Reasoning carries one templated narrative per dimension plus the recommendation.
type Reasoning struct {
	WindowCompliance    string   `json:"window_compliance"`
	SentimentAnalysis   string   `json:"sentiment_analysis"`
	FraudIndicators     []string `json:"fraud_indicators"`
	ReasonValidity      string   `json:"reason_validity"`
	FinancialAssessment string   `json:"financial_assessment"`
	DeliveryStatus      string   `json:"delivery_status"`
	EvidenceProvided    string   `json:"evidence_provided"`
	Recommendation      string   `json:"recommendation"`
}

// SuggestedAction is what the merchant should do next.
type SuggestedAction struct {
	Primary       MerchantAction `json:"primary"`
	Alternative   string         `json:"alternative"`
	TalkingPoints []string       `json:"talking_points"`
}

// PolicyCompliance records the policy checks made while scoring.
type PolicyCompliance struct {
	WithinRefundWindow  bool `json:"within_refund_window"`
	MeetsMinimumAge     bool `json:"meets_minimum_age"`
	HasRequiredEvidence bool `json:"has_required_evidence"`
	ReasonAllowed       bool `json:"reason_allowed"`
}

// Assessment is a stored evaluation: the engine output plus the request and
// policy it was computed from.
type Assessment struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenantId"`
	OrderNumber   string          `json:"orderNumber"`
	CustomerEmail string          `json:"customerEmail"`
	CustomerName  string          `json:"customerName"`
	Fingerprint   string          `json:"fingerprint"`
	Action        Action          `json:"action"`
	RiskScore     int             `json:"riskScore"`
	Request       *RefundRequest  `json:"request"`
	Policy        MerchantPolicy  `json:"policy"`
	Result        *RiskAssessment `json:"result"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// AssessmentMetadata contains processing information returned alongside an assessment.
type AssessmentMetadata struct {
	TraceID       string `json:"traceId"`
	ValidateMs    int64  `json:"validateMs"`
	EvaluateMs    int64  `json:"evaluateMs"`
	TotalMs       int64  `json:"totalMs"`
	CustomRules   int    `json:"customRules"`
	PolicySource  string `json:"policySource"`
	EngineVersion string `json:"engineVersion"`

	// RecentSubmissions counts the customer's requests in the last 24 hours.
	RecentSubmissions int64 `json:"recentSubmissions"`
}

// AssessmentResponse is the API response for POST /assess.
type AssessmentResponse struct {
	Success      bool               `json:"success"`
	Data         *RiskAssessment    `json:"data"`
	AssessmentID string             `json:"assessmentId"`
	Fingerprint  string             `json:"fingerprint"`
	Cached       bool               `json:"cached"`
	Metadata     AssessmentMetadata `json:"metadata"`
	Error        string             `json:"error,omitempty"`
}

// AssessmentSummary is the compact form used in history listings.
type AssessmentSummary struct {
	ID            string    `json:"id"`
	OrderNumber   string    `json:"orderNumber"`
	CustomerName  string    `json:"customerName"`
	CustomerEmail string    `json:"customerEmail"`
	Action        Action    `json:"action"`
	RiskScore     int       `json:"riskScore"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ToSummary converts a stored assessment to its history listing form.
func (a *Assessment) ToSummary() AssessmentSummary {
	return AssessmentSummary{
		ID:            a.ID,
		OrderNumber:   a.OrderNumber,
		CustomerName:  a.CustomerName,
		CustomerEmail: a.CustomerEmail,
		Action:        a.Action,
		RiskScore:     a.RiskScore,
		CreatedAt:     a.CreatedAt,
	}
}
