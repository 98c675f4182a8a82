package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2025-06-01T12:30:00Z", time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC), false},
		{"2025-06-01T12:30:00+02:00", time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC), false},
		{"2025-06-01T12:30:00.123Z", time.Date(2025, 6, 1, 12, 30, 0, 123000000, time.UTC), false},
		{"2025-06-01T12:30:00", time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC), false},
		{"2025-06-01T12:30", time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC), false},
		{"2025-06-01", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), false},
		{"06/01/2025", time.Time{}, true},
		{"yesterday", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimestamp(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got.Time, tt.want)
			}
		})
	}
}

func TestTimestampJSON(t *testing.T) {
	var v struct {
		At   Timestamp  `json:"at"`
		Opt  *Timestamp `json:"opt"`
		Zero Timestamp  `json:"zero"`
	}
	if err := json.Unmarshal([]byte(`{"at":"2025-06-01","opt":null,"zero":""}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Opt != nil || !v.Zero.IsZero() {
		t.Errorf("expected empty optional values, got %+v", v)
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"at":"2025-06-01T00:00:00Z","opt":null,"zero":""}`
	if string(data) != want {
		t.Errorf("marshal = %s, want %s", data, want)
	}

	if err := json.Unmarshal([]byte(`{"at":12345}`), &v); err == nil {
		t.Error("expected error for numeric timestamp")
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.RefundWindowDays != 30 || p.MaxRefundRate != 0.10 || p.MinOrderAgeHours != 24 {
		t.Errorf("unexpected defaults: %+v", p)
	}
	if !p.RequirePhotoProof {
		t.Error("photo proof should be required by default")
	}
	if !p.ThresholdsOrdered() {
		t.Error("default thresholds must be ordered")
	}

	p.AutoApproveThreshold = p.AutoRejectThreshold
	if p.ThresholdsOrdered() {
		t.Error("equal thresholds are not ordered")
	}
}

func TestPolicyClone(t *testing.T) {
	p := DefaultPolicy()
	p.BlockedReasons = []string{"changed_mind"}
	p.CustomRules = []CustomRule{{ID: "a", Expression: "true", Points: 1}}

	c := p.Clone()
	c.BlockedReasons[0] = "other"
	c.CustomRules[0].Points = 9

	if p.BlockedReasons[0] != "changed_mind" || p.CustomRules[0].Points != 1 {
		t.Error("Clone shares backing arrays with the original")
	}
}

func TestRequestClone(t *testing.T) {
	delivered := MustTimestamp("2025-06-03")
	r := &RefundRequest{
		OrderNumber:  "#1",
		RefundAmount: decimal.NewFromInt(10),
		ProductNames: []string{"Mug"},
		DeliveryDate: &delivered,
		CustomerHistory: CustomerHistory{
			AccountAgeDays: IntPtr(10),
		},
	}

	c := r.Clone()
	c.ProductNames[0] = "Plate"
	*c.CustomerHistory.AccountAgeDays = 99
	c.DeliveryDate.Time = c.DeliveryDate.AddDate(0, 0, 1)

	if r.ProductNames[0] != "Mug" || *r.CustomerHistory.AccountAgeDays != 10 || !r.DeliveryDate.Equal(delivered.Time) {
		t.Error("Clone shares state with the original")
	}
}

func TestTopicForAction(t *testing.T) {
	tests := map[Action]string{
		ActionApprove: "",
		ActionFlag:    TopicAssessmentReview,
		ActionReject:  TopicAssessmentRejected,
	}
	for action, want := range tests {
		if got := TopicForAction(action); got != want {
			t.Errorf("TopicForAction(%s) = %q, want %q", action, got, want)
		}
	}
}

func TestScoreBreakdownTotal(t *testing.T) {
	b := ScoreBreakdown{
		WindowCompliance: 5, Sentiment: 10, FraudPatterns: 35, ReasonValidity: 20,
		FinancialRisk: 10, DeliveryVerification: 10, Evidence: 5, Adjustments: -12,
	}
	if b.Total() != 83 {
		t.Errorf("Total() = %d, want 83", b.Total())
	}
}
