package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fixedClock(l *Limiter, start time.Time) *time.Time {
	now := start
	l.now = func() time.Time { return now }
	return &now
}

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute})
	defer limiter.Stop()
	fixedClock(limiter, time.Now())

	for i := 0; i < 10; i++ {
		allowed, info := limiter.Allow("127.0.0.1", "/tenants/a/pipeline", "GET")
		if !allowed {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
		if info.Limit != 10 {
			t.Errorf("Expected limit 10, got %d", info.Limit)
		}
		if info.Remaining != 9-i {
			t.Errorf("Expected remaining %d, got %d", 9-i, info.Remaining)
		}
	}

	allowed, info := limiter.Allow("127.0.0.1", "/tenants/a/pipeline", "GET")
	if allowed {
		t.Error("Expected 11th request to be denied")
	}
	if info.Remaining != 0 {
		t.Errorf("Expected remaining 0, got %d", info.Remaining)
	}
	if info.RetryAfter <= 0 || info.RetryAfter > 7*time.Second {
		t.Errorf("Expected retry after within one refill interval, got %v", info.RetryAfter)
	}
}

func TestLimiter_Refill(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 60, DefaultWindow: time.Minute})
	defer limiter.Stop()
	now := fixedClock(limiter, time.Now())

	for i := 0; i < 60; i++ {
		limiter.Allow("c", "/x", "GET")
	}
	if ok, _ := limiter.Allow("c", "/x", "GET"); ok {
		t.Fatal("Expected bucket to be empty")
	}

	*now = now.Add(1100 * time.Millisecond)
	if ok, _ := limiter.Allow("c", "/x", "GET"); !ok {
		t.Error("Expected request to be allowed after refill")
	}
	if ok, _ := limiter.Allow("c", "/x", "GET"); ok {
		t.Error("Expected request to be denied after consuming refilled token")
	}
}

func TestLimiter_WhitelistAndBlacklist(t *testing.T) {
	limiter := NewLimiter(NewConfig(true, 1, []string{"10.0.0.1"}, []string{"10.0.0.2"}))
	defer limiter.Stop()

	for i := 0; i < 50; i++ {
		if ok, _ := limiter.Allow("10.0.0.1", "/tenants/a/pipeline", "GET"); !ok {
			t.Fatal("Whitelisted client should always be allowed")
		}
	}
	if ok, _ := limiter.Allow("10.0.0.2", "/health", "GET"); ok {
		t.Error("Blacklisted client should be denied everywhere")
	}
	if limiter.Size() != 0 {
		t.Errorf("Expected no buckets for listed clients, got %d", limiter.Size())
	}
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(NewConfig(false, 1, nil, nil))
	defer limiter.Stop()

	for i := 0; i < 10; i++ {
		if ok, info := limiter.Allow("c", "/x", "GET"); !ok || info.Limit != 0 {
			t.Fatalf("Expected disabled limiter to allow without limit info, got %v %+v", ok, info)
		}
	}
}

func TestLimiter_HealthIsUnlimited(t *testing.T) {
	limiter := NewLimiter(NewConfig(true, 1, nil, nil))
	defer limiter.Stop()

	for i := 0; i < 20; i++ {
		if ok, _ := limiter.Allow("c", "/health", "GET"); !ok {
			t.Fatal("Health must never be limited")
		}
	}
}

func TestLimiter_CaptureSharesBucketAcrossIDs(t *testing.T) {
	limiter := NewLimiter(NewConfig(true, 1000, nil, nil))
	defer limiter.Stop()
	fixedClock(limiter, time.Now())

	// capture tier has burst 5
	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("/tenants/t/jobs/job-%d/capture", i)
		if ok, info := limiter.Allow("c", path, "POST"); !ok || info.Limit != 30 {
			t.Fatalf("Expected capture %d allowed with limit 30, got %v %+v", i, ok, info)
		}
	}
	if ok, _ := limiter.Allow("c", "/tenants/t/jobs/another/capture", "POST"); ok {
		t.Error("Expected capture burst to be exhausted regardless of job id")
	}

	// other clients and other endpoints are unaffected
	if ok, _ := limiter.Allow("other", "/tenants/t/jobs/x/capture", "POST"); !ok {
		t.Error("Expected a different client to have its own bucket")
	}
	if ok, _ := limiter.Allow("c", "/tenants/t/pipeline", "GET"); !ok {
		t.Error("Expected default tier to be independent of capture tier")
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 100, DefaultWindow: time.Hour})
	defer limiter.Stop()
	fixedClock(limiter, time.Now())

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if ok, _ := limiter.Allow("c", "/x", "GET"); ok {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 100 {
		t.Errorf("Expected exactly 100 allowed requests, got %d", got)
	}
}

func TestLimiter_CleanupDropsIdleBuckets(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute, IdleTTL: time.Minute})
	defer limiter.Stop()
	now := fixedClock(limiter, time.Now())

	limiter.Allow("old", "/x", "GET")
	*now = now.Add(2 * time.Minute)
	limiter.Allow("fresh", "/x", "GET")

	limiter.cleanupBuckets()
	if limiter.Size() != 1 {
		t.Errorf("Expected only the fresh bucket to survive, got %d", limiter.Size())
	}
}

func TestNewLimiter_NilConfig(t *testing.T) {
	limiter := NewLimiter(nil)
	limiter.Stop()
	limiter.Stop()

	if ok, info := limiter.Allow("c", "/x", "GET"); !ok || info.Limit != 600 {
		t.Errorf("Expected default limit 600, got %v %+v", ok, info)
	}
}

func TestMatchEndpoint(t *testing.T) {
	configs := DefaultEndpointConfigs()
	tests := []struct {
		path, method string
		want         string
	}{
		{"/health", "GET", "/health"},
		{"/health/", "GET", "/health"},
		{"/tenants/a/jobs/b/capture", "POST", "/tenants/*/jobs/*/capture"},
		{"/tenants/a/jobs/b/capture", "GET", ""},
		{"/tenants//jobs/b/capture", "POST", ""},
		{"/tenants/a/users/u/preferences", "PUT", "/tenants/*/users/*/preferences"},
		{"/tenants/a/users/u/preferences/secrets", "GET", "/tenants/*/users/*/preferences/secrets"},
		{"/tenants/a/pipeline", "GET", ""},
	}
	for _, tt := range tests {
		got := MatchEndpoint(tt.path, tt.method, configs)
		switch {
		case tt.want == "" && got != nil:
			t.Errorf("%s %s: expected no match, got %s", tt.method, tt.path, got.Pattern)
		case tt.want != "" && (got == nil || got.Pattern != tt.want):
			t.Errorf("%s %s: expected %s, got %v", tt.method, tt.path, tt.want, got)
		}
	}
}
