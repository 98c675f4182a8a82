package validation

import (
	"errors"
	"strings"
	"testing"
)

const validRequest = `{
  "orderNumber": "#1001",
  "refundAmount": 49.99,
  "orderTotal": "49.99",
  "refundReason": "Item arrived damaged",
  "orderDate": "2025-06-01T12:00:00Z",
  "refundRequestDate": "2025-06-09",
  "productNames": ["Ceramic Mug"],
  "productImages": ["https://cdn.example.com/mug.jpg"],
  "customerEmail": "jane@example.com",
  "customerName": "Jane Doe",
  "customerHistory": {
    "total_orders": 15,
    "total_refunds": 0,
    "refund_rate": 0,
    "avg_order_value": 55,
    "account_age_days": null,
    "total_spent": 820,
    "email_verified": true,
    "phone_verified": true
  },
  "deliveryStatus": "delivered",
  "customerMessages": [{"timestamp": "2025-06-09T11:00:00Z", "message": "Photos attached", "sentiment": "positive"}],
  "merchantPolicy": {
    "refund_window_days": 30,
    "max_refund_rate": 0.1,
    "min_order_age_hours": 24,
    "require_photo_proof": true,
    "auto_approve_threshold": 25,
    "auto_reject_threshold": 75,
    "custom_rules": [{"id": "r1", "expression": "refund_amount > 100.0", "points": 5}]
  }
}`

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	if err != nil {
		t.Fatalf("failed to compile schemas: %v", err)
	}
	return v
}

func TestDecodeRequestValid(t *testing.T) {
	v := newValidator(t)

	req, err := v.DecodeRequest([]byte(validRequest))
	if err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	if req.RefundAmount.String() != "49.99" || req.OrderTotal.String() != "49.99" {
		t.Errorf("amounts decoded as %s / %s", req.RefundAmount, req.OrderTotal)
	}
	if req.CustomerHistory.AccountAgeDays != nil {
		t.Error("expected unknown account age")
	}
	if req.MerchantPolicy == nil || len(req.MerchantPolicy.CustomRules) != 1 {
		t.Errorf("expected embedded policy with one custom rule, got %+v", req.MerchantPolicy)
	}
	if req.RefundRequestDate.Day() != 9 {
		t.Errorf("date-only timestamp decoded as %v", req.RefundRequestDate.Time)
	}
}

func TestDecodeRequestInvalid(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name  string
		old   string
		new   string
		field string
	}{
		{"negative amount", `"refundAmount": 49.99`, `"refundAmount": -5`, "refundAmount"},
		{"rate above one", `"refund_rate": 0,`, `"refund_rate": 1.5,`, "customerHistory.refund_rate"},
		{"bad status", `"deliveryStatus": "delivered"`, `"deliveryStatus": "lost"`, "deliveryStatus"},
		{"bad date", `"orderDate": "2025-06-01T12:00:00Z"`, `"orderDate": "June 1st"`, "orderDate"},
		{"bad email", `"customerEmail": "jane@example.com"`, `"customerEmail": "jane"`, "customerEmail"},
		{"missing field", `"orderNumber": "#1001",`, ``, "body"},
		{"unknown field", `"orderNumber": "#1001",`, `"orderNumber": "#1001", "coupon": "X",`, "body"},
		{"wrong type", `"total_orders": 15,`, `"total_orders": "many",`, "customerHistory.total_orders"},
		{"policy threshold range", `"auto_reject_threshold": 75`, `"auto_reject_threshold": 175`, "merchantPolicy.auto_reject_threshold"},
		{"rule points range", `"points": 5`, `"points": 50`, "merchantPolicy.custom_rules.0.points"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := strings.Replace(validRequest, tt.old, tt.new, 1)
			if body == validRequest {
				t.Fatalf("fixture replacement %q did not apply", tt.old)
			}

			_, err := v.DecodeRequest([]byte(body))
			var verr *Error
			if !errors.As(err, &verr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			found := false
			for _, d := range verr.Details {
				if d.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %+v", tt.field, verr.Details)
			}
		})
	}
}

func TestDecodeRequestMalformedJSON(t *testing.T) {
	v := newValidator(t)

	_, err := v.DecodeRequest([]byte(`{"orderNumber": `))
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if verr.Details[0].Field != "body" {
		t.Errorf("expected body error, got %+v", verr.Details)
	}
}

func TestDecodePolicy(t *testing.T) {
	v := newValidator(t)

	p, err := v.DecodePolicy([]byte(`{
		"refund_window_days": 14,
		"max_refund_rate": 0.2,
		"min_order_age_hours": 0,
		"require_photo_proof": false,
		"auto_approve_threshold": 30,
		"auto_reject_threshold": 70,
		"blocked_reasons": ["changed_mind"]
	}`))
	if err != nil {
		t.Fatalf("expected valid policy, got %v", err)
	}
	if p.RefundWindowDays != 14 || len(p.BlockedReasons) != 1 {
		t.Errorf("unexpected policy: %+v", p)
	}

	_, err = v.DecodePolicy([]byte(`{"refund_window_days": 0}`))
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if len(verr.Details) < 2 {
		t.Errorf("expected several field errors, got %+v", verr.Details)
	}
	if !strings.Contains(verr.Error(), "validation failed") {
		t.Errorf("unexpected message: %s", verr.Error())
	}
}

func TestFieldPath(t *testing.T) {
	tests := map[string]string{
		"":                             "body",
		"/orderNumber":                 "orderNumber",
		"/customerHistory/refund_rate": "customerHistory.refund_rate",
		"/productNames/0":              "productNames.0",
		"/a~1b":                        "a/b",
	}
	for in, want := range tests {
		if got := fieldPath(in); got != want {
			t.Errorf("fieldPath(%q) = %q, want %q", in, got, want)
		}
	}
}
