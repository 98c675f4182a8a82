// Package velocity measures how often a customer asks for refunds.
package velocity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/refundguard/internal/cache"
	"github.com/opensource-finance/refundguard/internal/domain"
	"github.com/opensource-finance/refundguard/internal/features"
)

const (
	// RecentWindow is the look-back for recent_refunds_60d.
	RecentWindow = 60 * 24 * time.Hour

	// BurstWindow is the window for counting submissions in quick succession.
	BurstWindow = 24 * time.Hour

	countTTL = time.Minute
)

// Service counts refund requests per customer from stored assessment history.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	now   func() time.Time
}

// NewService creates a new velocity service. cache may be nil.
func NewService(repo domain.Repository, c domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: c,
		now:   time.Now,
	}
}

// RecentRefunds returns the number of stored, non-rejected refund requests
// from email in the trailing 60 days. Counts are cached briefly; Record
// invalidates them.
func (s *Service) RecentRefunds(ctx context.Context, tenantID, email string) (int, error) {
	if tenantID == "" || strings.TrimSpace(email) == "" {
		return 0, fmt.Errorf("tenantID and email are required")
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	key := cache.RefundCounterKey(email)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, tenantID, key); err == nil && data != nil {
			if n, err := strconv.Atoi(string(data)); err == nil {
				return n, nil
			}
		}
	}

	count, err := s.repo.CountCustomerRefunds(ctx, tenantID, email, s.now().Add(-RecentWindow))
	if err != nil {
		return 0, fmt.Errorf("failed to count refunds: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, tenantID, key, []byte(strconv.FormatInt(count, 10)), countTTL)
	}
	return int(count), nil
}

// Enrich returns req with recent_refunds_60d filled from history when the
// caller left it unset and the stored count is higher than what the request
// history implies on its own. req itself is never modified; on any lookup
// failure or when nothing needs filling, req is returned as is.
func (s *Service) Enrich(ctx context.Context, tenantID string, req *domain.RefundRequest) (*domain.RefundRequest, error) {
	if req.CustomerHistory.RecentRefunds != nil || strings.TrimSpace(req.CustomerEmail) == "" {
		return req, nil
	}

	n, err := s.RecentRefunds(ctx, tenantID, req.CustomerEmail)
	if err != nil {
		return req, err
	}

	// Local history only sees refunds made through this deployment.
	inferred, _ := features.RecentRefunds(req.CustomerHistory)
	if n <= inferred {
		return req, nil
	}

	enriched := req.Clone()
	enriched.CustomerHistory.RecentRefunds = domain.IntPtr(n)
	return enriched, nil
}

// Record notes a new submission from email. It drops the cached 60-day count
// and returns how many submissions the customer made in the last 24 hours.
func (s *Service) Record(ctx context.Context, tenantID, email string) (int64, error) {
	if s.cache == nil || strings.TrimSpace(email) == "" {
		return 0, nil
	}

	key := cache.RefundCounterKey(email)
	_ = s.cache.Delete(ctx, tenantID, key)

	n, err := s.cache.IncrementCounter(ctx, tenantID, "burst:"+key, BurstWindow)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return n, nil
}
