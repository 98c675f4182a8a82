package main

import (
	"math"
	"strings"
	"testing"
)

func TestReadCases(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		input := `
# labeled cases
{"name": "mug", "expected": "approve", "request": {"orderNumber": "#1"}}

{"expected": "REJECT", "request": {"orderNumber": "#2"}}
`
		cases, err := readCases(strings.NewReader(input))
		if err != nil {
			t.Fatalf("readCases failed: %v", err)
		}
		if len(cases) != 2 {
			t.Fatalf("expected 2 cases, got %d", len(cases))
		}
		if cases[0].Expected != "APPROVE" || cases[0].Name != "mug" {
			t.Errorf("unexpected first case: %+v", cases[0])
		}
		if cases[1].Name != "case-5" {
			t.Errorf("expected generated name case-5, got %s", cases[1].Name)
		}
	})

	t.Run("UnknownAction", func(t *testing.T) {
		_, err := readCases(strings.NewReader(`{"expected": "ESCALATE", "request": {}}`))
		if err == nil || !strings.Contains(err.Error(), "line 1") {
			t.Errorf("expected line-numbered error, got %v", err)
		}
	})

	t.Run("MissingRequest", func(t *testing.T) {
		if _, err := readCases(strings.NewReader(`{"expected": "FLAG"}`)); err == nil {
			t.Error("expected error for missing request")
		}
	})

	t.Run("BadJSON", func(t *testing.T) {
		if _, err := readCases(strings.NewReader("{not json")); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})
}

func TestMatrix(t *testing.T) {
	m := NewMatrix()
	m.Add("APPROVE", "APPROVE")
	m.Add("APPROVE", "APPROVE")
	m.Add("APPROVE", "FLAG")
	m.Add("REJECT", "REJECT")
	m.Add("REJECT", "APPROVE")

	if m.Total() != 5 {
		t.Fatalf("expected 5 cases, got %d", m.Total())
	}
	if got := m.Accuracy(); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("expected accuracy 0.6, got %f", got)
	}

	p, r := m.PrecisionRecall("APPROVE")
	if math.Abs(p-2.0/3.0) > 1e-9 || math.Abs(r-2.0/3.0) > 1e-9 {
		t.Errorf("unexpected APPROVE precision/recall: %f %f", p, r)
	}

	p, r = m.PrecisionRecall("FLAG")
	if p != 0 || r != 0 {
		t.Errorf("expected zero FLAG precision/recall, got %f %f", p, r)
	}

	p, r = m.PrecisionRecall("REJECT")
	if p != 1 || r != 0.5 {
		t.Errorf("unexpected REJECT precision/recall: %f %f", p, r)
	}
}
