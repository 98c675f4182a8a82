package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/refundguard/internal/assess"
	"github.com/opensource-finance/refundguard/internal/bus"
	"github.com/opensource-finance/refundguard/internal/cache"
	"github.com/opensource-finance/refundguard/internal/decision"
	"github.com/opensource-finance/refundguard/internal/domain"
	"github.com/opensource-finance/refundguard/internal/notify"
	"github.com/opensource-finance/refundguard/internal/repository"
	"github.com/opensource-finance/refundguard/internal/validation"
	"github.com/opensource-finance/refundguard/internal/worker"
)

const damagedMugRequest = `{
  "orderNumber": %q,
  "refundAmount": 49.99,
  "orderTotal": "49.99",
  "refundReason": "Item arrived damaged, photos attached",
  "orderDate": "2025-06-01T12:00:00Z",
  "refundRequestDate": "2025-06-09T12:00:00Z",
  "productNames": ["Ceramic Mug"],
  "productImages": ["https://cdn.example.com/mug.jpg"],
  "customerEmail": "jane@example.com",
  "customerName": "Jane Doe",
  "customerHistory": {
    "total_orders": 15,
    "total_refunds": 0,
    "refund_rate": 0,
    "avg_order_value": 55,
    "account_age_days": 730,
    "total_spent": 820,
    "email_verified": true,
    "phone_verified": true
  },
  "deliveryStatus": "delivered",
  "deliveryDate": "2025-06-04T12:00:00Z",
  "trackingNumber": "1Z999AA10123456784"
}`

const validPolicy = `{
  "refund_window_days": 14,
  "max_refund_rate": 0.25,
  "min_order_age_hours": 0,
  "require_photo_proof": true,
  "auto_approve_threshold": 15,
  "auto_reject_threshold": 75,
  "custom_rules": [
    {"id": "big-ticket", "expression": "refund_amount > 500.0", "points": 10, "reason": "Large refund"}
  ]
}`

type testServer struct {
	*Server
	repo      domain.Repository
	bus       *bus.ChannelBus
	svc       *assess.Service
	validator *validation.Validator
}

// createTestServer creates a server backed by a temporary SQLite database.
// Async requests from tenant-001 are queued on that tenant's topic.
func createTestServer(t *testing.T) *testServer {
	t.Helper()
	return createTestServerWith(t, domain.WorkerConfig{
		Enabled:   true,
		TenantIDs: []string{"tenant-001"},
	})
}

func createTestServerWith(t *testing.T, workerCfg domain.WorkerConfig) *testServer {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := decision.NewEngine(nil, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	v, err := validation.New()
	if err != nil {
		t.Fatalf("failed to compile schemas: %v", err)
	}

	c := cache.NewLRUCache(100)
	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	engineCfg := domain.DefaultConfig().Engine
	svc := assess.NewService(repo, c, b, engine, engineCfg)

	return &testServer{
		Server:    NewServer(cfg, repo, c, b, svc, v, engineCfg, workerCfg, "test-v1"),
		repo:      repo,
		bus:       b,
		svc:       svc,
		validator: v,
	}
}

func (s *testServer) do(method, path, tenantID, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestAssessEndpoint(t *testing.T) {
	server := createTestServer(t)

	var firstID string

	t.Run("SuccessfulAssessment", func(t *testing.T) {
		rr := server.do(http.MethodPost, "/assess", "tenant-001", fmt.Sprintf(damagedMugRequest, "#1001"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decodeBody[domain.AssessmentResponse](t, rr)
		if !resp.Success || resp.Cached {
			t.Errorf("unexpected flags: success=%v cached=%v", resp.Success, resp.Cached)
		}
		if resp.Data == nil || resp.Data.Action != domain.ActionApprove {
			t.Fatalf("expected APPROVE, got %+v", resp.Data)
		}
		if resp.AssessmentID == "" || resp.Fingerprint == "" {
			t.Error("expected assessmentId and fingerprint")
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
		if rr.Header().Get(TraceIDHeader) != resp.Metadata.TraceID {
			t.Errorf("trace header %q does not match metadata %q", rr.Header().Get(TraceIDHeader), resp.Metadata.TraceID)
		}
		if resp.Metadata.PolicySource != assess.PolicyDefault || resp.Metadata.EngineVersion != decision.Version {
			t.Errorf("unexpected metadata: %+v", resp.Metadata)
		}
		firstID = resp.AssessmentID
	})

	t.Run("DuplicateIsCached", func(t *testing.T) {
		rr := server.do(http.MethodPost, "/assess", "tenant-001", fmt.Sprintf(damagedMugRequest, "#1001"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decodeBody[domain.AssessmentResponse](t, rr)
		if !resp.Cached || resp.AssessmentID != firstID {
			t.Errorf("expected cached %s, got cached=%v id=%s", firstID, resp.Cached, resp.AssessmentID)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		rr := server.do(http.MethodPost, "/assess", "", fmt.Sprintf(damagedMugRequest, "#1002"))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := server.do(http.MethodPost, "/assess", "tenant-001", "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		body := decodeBody[struct {
			Error   string                  `json:"error"`
			Details []validation.FieldError `json:"details"`
		}](t, rr)
		if body.Error != "validation failed" || len(body.Details) == 0 || body.Details[0].Field != "body" {
			t.Errorf("unexpected error body: %+v", body)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		rr := server.do(http.MethodPost, "/assess", "tenant-001", `{"orderNumber": "#1"}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "details") {
			t.Errorf("expected field details, got %s", rr.Body.String())
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		body := strings.Replace(fmt.Sprintf(damagedMugRequest, "#1003"), `"refundAmount": 49.99`, `"refundAmount": -5`, 1)
		rr := server.do(http.MethodPost, "/assess", "tenant-001", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestAssessAsyncEndpoint(t *testing.T) {
	server := createTestServer(t)

	queued := make(chan *bus.RefundRequested, 1)
	server.bus.Subscribe(context.Background(), "tenant-001", domain.TopicRefundRequested, func(ctx context.Context, msg *domain.Message) error {
		ev, err := bus.Decode[bus.RefundRequested](msg)
		if err != nil {
			return err
		}
		queued <- ev
		return nil
	})

	t.Run("Queued", func(t *testing.T) {
		rr := server.do(http.MethodPost, "/assess/async", "tenant-001", fmt.Sprintf(damagedMugRequest, "#5001"))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decodeBody[AsyncResponse](t, rr)
		if resp.RequestID == "" || resp.Status != "queued" {
			t.Errorf("unexpected response: %+v", resp)
		}

		select {
		case ev := <-queued:
			if ev.RequestID != resp.RequestID || ev.TenantID != "tenant-001" {
				t.Errorf("unexpected event: %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for queued request")
		}
	})

	t.Run("InvalidNotQueued", func(t *testing.T) {
		rr := server.do(http.MethodPost, "/assess/async", "tenant-001", `{}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
		select {
		case ev := <-queued:
			t.Errorf("invalid request was queued: %+v", ev)
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestAssessAsyncWorkerRouting(t *testing.T) {
	t.Run("GlobalWorkerAssessesAnyTenant", func(t *testing.T) {
		server := createTestServerWith(t, domain.WorkerConfig{Enabled: true})
		asyncWorker := worker.NewWorker(server.bus, server.svc, server.validator)
		if err := asyncWorker.Start(worker.Config{WorkerCount: 2}); err != nil {
			t.Fatalf("failed to start worker: %v", err)
		}
		defer asyncWorker.Stop()

		rr := server.do(http.MethodPost, "/assess/async", "merchant-1", fmt.Sprintf(damagedMugRequest, "#6001"))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}

		deadline := time.Now().Add(2 * time.Second)
		for {
			list, err := server.repo.ListAssessments(context.Background(), "merchant-1", 10)
			if err == nil && len(list) == 1 {
				if list[0].OrderNumber != "#6001" {
					t.Errorf("unexpected assessment: %s", list[0].OrderNumber)
				}
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("queued request was never assessed (found %d, err %v)", len(list), err)
			}
			time.Sleep(10 * time.Millisecond)
		}
	})

	t.Run("TenantWithoutWorker", func(t *testing.T) {
		server := createTestServerWith(t, domain.WorkerConfig{
			Enabled:   true,
			TenantIDs: []string{"merchant-2"},
		})
		rr := server.do(http.MethodPost, "/assess/async", "merchant-1", fmt.Sprintf(damagedMugRequest, "#6002"))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})

	t.Run("WorkerDisabled", func(t *testing.T) {
		server := createTestServerWith(t, domain.WorkerConfig{})
		rr := server.do(http.MethodPost, "/assess/async", "merchant-1", fmt.Sprintf(damagedMugRequest, "#6003"))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestAssessmentHistory(t *testing.T) {
	server := createTestServer(t)

	var ids []string
	for i := 0; i < 3; i++ {
		rr := server.do(http.MethodPost, "/assess", "tenant-001", fmt.Sprintf(damagedMugRequest, fmt.Sprintf("#20%02d", i)))
		if rr.Code != http.StatusOK {
			t.Fatalf("seed assessment failed: %d %s", rr.Code, rr.Body.String())
		}
		ids = append(ids, decodeBody[domain.AssessmentResponse](t, rr).AssessmentID)
		time.Sleep(2 * time.Millisecond)
	}

	type listResponse struct {
		Assessments []domain.AssessmentSummary `json:"assessments"`
		Count       int                        `json:"count"`
	}

	t.Run("ListNewestFirst", func(t *testing.T) {
		rr := server.do(http.MethodGet, "/assessments", "tenant-001", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decodeBody[listResponse](t, rr)
		if resp.Count != 3 || len(resp.Assessments) != 3 {
			t.Fatalf("expected 3 assessments, got %d", resp.Count)
		}
		if resp.Assessments[0].ID != ids[2] {
			t.Errorf("expected newest %s first, got %s", ids[2], resp.Assessments[0].ID)
		}
	})

	t.Run("ListLimit", func(t *testing.T) {
		resp := decodeBody[listResponse](t, server.do(http.MethodGet, "/assessments?limit=2", "tenant-001", ""))
		if resp.Count != 2 {
			t.Errorf("expected 2 assessments, got %d", resp.Count)
		}
	})

	t.Run("InvalidLimit", func(t *testing.T) {
		rr := server.do(http.MethodGet, "/assessments?limit=abc", "tenant-001", "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("GetAssessment", func(t *testing.T) {
		rr := server.do(http.MethodGet, "/assessments/"+ids[0], "tenant-001", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		a := decodeBody[domain.Assessment](t, rr)
		if a.OrderNumber != "#2000" || a.Result == nil {
			t.Errorf("unexpected assessment: %+v", a)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := server.do(http.MethodGet, "/assessments/missing", "tenant-001", "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		rr := server.do(http.MethodGet, "/assessments/"+ids[0], "tenant-002", "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for other tenant, got %d", rr.Code)
		}
	})

	t.Run("EmailDraft", func(t *testing.T) {
		rr := server.do(http.MethodGet, "/assessments/"+ids[0]+"/email", "tenant-001", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		draft := decodeBody[notify.Draft](t, rr)
		if draft.To != "jane@example.com" {
			t.Errorf("unexpected recipient %s", draft.To)
		}
		if draft.Subject != "Update on your refund request" {
			t.Errorf("unexpected subject %q", draft.Subject)
		}
		if !strings.Contains(draft.Body, "Hi Jane,") || !strings.Contains(draft.Body, "#2000") {
			t.Errorf("unexpected body:\n%s", draft.Body)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		rr := server.do(http.MethodDelete, "/assessments", "tenant-001", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if resp := decodeBody[map[string]int64](t, rr); resp["deleted"] != 3 {
			t.Errorf("expected 3 deleted, got %v", resp)
		}
		if resp := decodeBody[listResponse](t, server.do(http.MethodGet, "/assessments", "tenant-001", "")); resp.Count != 0 {
			t.Errorf("expected empty history, got %d", resp.Count)
		}
	})
}

func TestPolicyEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("DefaultWhenNoneStored", func(t *testing.T) {
		rr := server.do(http.MethodGet, "/policy", "tenant-001", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decodeBody[PolicyResponse](t, rr)
		def := domain.DefaultPolicy()
		if resp.Source != assess.PolicyDefault || resp.Policy.AutoRejectThreshold != def.AutoRejectThreshold {
			t.Errorf("expected default policy, got %+v", resp)
		}
	})

	t.Run("RejectsMisorderedThresholds", func(t *testing.T) {
		body := strings.Replace(validPolicy, `"auto_approve_threshold": 15`, `"auto_approve_threshold": 90`, 1)
		rr := server.do(http.MethodPut, "/policy", "tenant-001", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("RejectsBrokenCustomRule", func(t *testing.T) {
		body := strings.Replace(validPolicy, `refund_amount > 500.0`, `refund_amount >`, 1)
		rr := server.do(http.MethodPut, "/policy", "tenant-001", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("RejectsUnknownField", func(t *testing.T) {
		body := strings.Replace(validPolicy, `"refund_window_days": 14`, `"refund_window_days": 14, "refund_window": 3`, 1)
		rr := server.do(http.MethodPut, "/policy", "tenant-001", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("SaveAndRead", func(t *testing.T) {
		rr := server.do(http.MethodPut, "/policy", "tenant-001", validPolicy)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decodeBody[PolicyResponse](t, server.do(http.MethodGet, "/policy", "tenant-001", ""))
		if resp.Source != assess.PolicyStored || resp.Policy.RefundWindowDays != 14 || len(resp.Policy.CustomRules) != 1 {
			t.Errorf("expected stored policy, got %+v", resp)
		}

		other := decodeBody[PolicyResponse](t, server.do(http.MethodGet, "/policy", "tenant-002", ""))
		if other.Source != assess.PolicyDefault {
			t.Errorf("expected other tenant on default policy, got %s", other.Source)
		}
	})

	t.Run("AssessUsesStoredPolicy", func(t *testing.T) {
		rr := server.do(http.MethodPost, "/assess", "tenant-001", fmt.Sprintf(damagedMugRequest, "#3001"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decodeBody[domain.AssessmentResponse](t, rr)
		if resp.Metadata.PolicySource != assess.PolicyStored || resp.Metadata.CustomRules != 1 {
			t.Errorf("unexpected metadata: %+v", resp.Metadata)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := server.do(http.MethodGet, "/health", "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decodeBody[map[string]string](t, rr)
		if resp["status"] != "healthy" || resp["version"] != "test-v1" {
			t.Errorf("unexpected health response: %v", resp)
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := server.do(http.MethodGet, "/ready", "", "")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("NotReadyWithoutBackends", func(t *testing.T) {
		bare := NewServer(domain.ServerConfig{}, nil, nil, nil, nil, nil, domain.EngineConfig{}, domain.WorkerConfig{}, "test-v1")
		rr := httptest.NewRecorder()
		bare.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestCORSPreflight(t *testing.T) {
	server := createTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/policy", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
		t.Errorf("unexpected allow origin %q", got)
	}
}
