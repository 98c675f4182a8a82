package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/refundguard/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, tenantID, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, tenantID, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, tenantID, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, tenantID, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		// 'b' should be evicted
		val, _ := smallCache.Get(ctx, tenantID, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		// 'a' should still be there
		val, _ = smallCache.Get(ctx, tenantID, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		tenant1 := "tenant-001"
		tenant2 := "tenant-002"

		_ = cache.Set(ctx, tenant1, "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, tenant2, "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, tenant1, "shared-key")
		val2, _ := cache.Get(ctx, tenant2, "shared-key")

		if string(val1) != "tenant1-value" {
			t.Errorf("expected 'tenant1-value', got '%s'", string(val1))
		}
		if string(val2) != "tenant2-value" {
			t.Errorf("expected 'tenant2-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		err := cache.Set(ctx, "", "key", []byte("value"), time.Minute)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = cache.Get(ctx, "", "key")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := 100 * time.Millisecond

		count1, err := cache.IncrementCounter(ctx, tenantID, RefundCounterKey("jane@example.com"), window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		count2, _ := cache.IncrementCounter(ctx, tenantID, RefundCounterKey("jane@example.com"), window)
		if count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		time.Sleep(150 * time.Millisecond)

		count3, _ := cache.IncrementCounter(ctx, tenantID, RefundCounterKey("jane@example.com"), window)
		if count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, tenantID, "k", []byte("v"), time.Minute)

		err := testCache.Close()
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}

		// Cache should be empty after close
		val, _ := testCache.Get(ctx, tenantID, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_, ok := cache.(*LRUCache)
		if !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestLRUCounterPruning(t *testing.T) {
	c := NewLRUCache(2)
	ctx := context.Background()

	_, _ = c.IncrementCounter(ctx, "t1", "a", 10*time.Millisecond)
	_, _ = c.IncrementCounter(ctx, "t1", "b", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if n, _ := c.IncrementCounter(ctx, "t1", "c", time.Minute); n != 1 {
		t.Errorf("expected fresh counter, got %d", n)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.counters) != 1 {
		t.Errorf("expected expired counters to be pruned, have %d", len(c.counters))
	}
}

func TestEntries(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	t.Run("PolicyRoundTrip", func(t *testing.T) {
		if p, err := Policy(ctx, c, "t1"); err != nil || p != nil {
			t.Fatalf("expected miss, got %+v, %v", p, err)
		}

		p := domain.DefaultPolicy()
		p.BlockedReasons = []string{"changed_mind"}
		if err := PutPolicy(ctx, c, "t1", &p, time.Minute); err != nil {
			t.Fatalf("PutPolicy failed: %v", err)
		}

		got, err := Policy(ctx, c, "t1")
		if err != nil || got == nil {
			t.Fatalf("expected hit, got %+v, %v", got, err)
		}
		if got.RefundWindowDays != p.RefundWindowDays || got.BlockedReasons[0] != "changed_mind" {
			t.Errorf("unexpected policy: %+v", got)
		}

		if err := InvalidatePolicy(ctx, c, "t1"); err != nil {
			t.Fatalf("InvalidatePolicy failed: %v", err)
		}
		if got, _ := Policy(ctx, c, "t1"); got != nil {
			t.Error("expected miss after invalidation")
		}
	})

	t.Run("AssessmentByFingerprint", func(t *testing.T) {
		a := &domain.Assessment{
			ID:          "a-1",
			Fingerprint: "abc123",
			Action:      domain.ActionFlag,
			RiskScore:   42,
			Policy:      domain.DefaultPolicy(),
			Result:      &domain.RiskAssessment{Action: domain.ActionFlag, RiskScore: 42},
		}
		if err := PutAssessment(ctx, c, "t1", a, time.Minute); err != nil {
			t.Fatalf("PutAssessment failed: %v", err)
		}

		got, err := Assessment(ctx, c, "t1", "abc123")
		if err != nil || got == nil {
			t.Fatalf("expected hit, got %+v, %v", got, err)
		}
		if got.ID != "a-1" || got.Result.RiskScore != 42 {
			t.Errorf("unexpected assessment: %+v", got)
		}

		if got, _ := Assessment(ctx, c, "t2", "abc123"); got != nil {
			t.Error("assessment leaked across tenants")
		}
	})

	t.Run("AssessmentWithoutFingerprint", func(t *testing.T) {
		if err := PutAssessment(ctx, c, "t1", &domain.Assessment{ID: "a-2"}, time.Minute); err == nil {
			t.Error("expected error for missing fingerprint")
		}
	})

	t.Run("CorruptEntry", func(t *testing.T) {
		_ = c.Set(ctx, "t3", domain.CacheKeyPolicy, []byte("{not json"), time.Minute)
		if _, err := Policy(ctx, c, "t3"); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("RefundCounterKey", func(t *testing.T) {
		if got := RefundCounterKey(" Jane@Example.COM "); got != domain.CacheKeyRefunds+"jane@example.com" {
			t.Errorf("unexpected key %q", got)
		}
	})
}
