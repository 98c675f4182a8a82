package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/refundguard/internal/domain"
)

// Policy returns the tenant's cached merchant policy, or nil on a miss.
func Policy(ctx context.Context, c domain.Cache, tenantID string) (*domain.MerchantPolicy, error) {
	return getJSON[domain.MerchantPolicy](ctx, c, tenantID, domain.CacheKeyPolicy)
}

// PutPolicy caches the tenant's merchant policy.
func PutPolicy(ctx context.Context, c domain.Cache, tenantID string, p *domain.MerchantPolicy, ttl time.Duration) error {
	return setJSON(ctx, c, tenantID, domain.CacheKeyPolicy, p, ttl)
}

// InvalidatePolicy drops the tenant's cached merchant policy.
func InvalidatePolicy(ctx context.Context, c domain.Cache, tenantID string) error {
	return c.Delete(ctx, tenantID, domain.CacheKeyPolicy)
}

// Assessment returns the assessment cached under a request fingerprint, or nil on a miss.
func Assessment(ctx context.Context, c domain.Cache, tenantID, fingerprint string) (*domain.Assessment, error) {
	return getJSON[domain.Assessment](ctx, c, tenantID, domain.CacheKeyAssessment+fingerprint)
}

// PutAssessment caches an assessment under its fingerprint.
func PutAssessment(ctx context.Context, c domain.Cache, tenantID string, a *domain.Assessment, ttl time.Duration) error {
	if a.Fingerprint == "" {
		return fmt.Errorf("assessment %s has no fingerprint", a.ID)
	}
	return setJSON(ctx, c, tenantID, domain.CacheKeyAssessment+a.Fingerprint, a, ttl)
}

// RefundCounterKey is the counter key for a customer's refund requests.
func RefundCounterKey(email string) string {
	return domain.CacheKeyRefunds + strings.ToLower(strings.TrimSpace(email))
}

func getJSON[T any](ctx context.Context, c domain.Cache, tenantID, key string) (*T, error) {
	data, err := c.Get(ctx, tenantID, key)
	if err != nil || data == nil {
		return nil, err
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return &v, nil
}

func setJSON(ctx context.Context, c domain.Cache, tenantID, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, tenantID, key, data, ttl)
}
