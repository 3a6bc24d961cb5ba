package observability

import (
	"context"
	"testing"
)

func TestHealthCheckerAggregatesWorstStatus(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.RegisterCheck("a", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: HealthStatusOK}
	})
	hc.RegisterCheck("b", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: HealthStatusDegraded}
	})

	resp := hc.Check(context.Background())
	if resp.Status != HealthStatusDegraded {
		t.Fatalf("want degraded, got %s", resp.Status)
	}
}

func TestFoldersCheckUnhealthyWhenAllDamaged(t *testing.T) {
	check := FoldersCheck(func() int { return 2 }, func() int { return 2 })
	h := check(context.Background())
	if h.Status != HealthStatusUnhealthy {
		t.Fatalf("want unhealthy, got %s", h.Status)
	}
}

func TestFoldersCheckOKWhenNoneDamaged(t *testing.T) {
	check := FoldersCheck(func() int { return 0 }, func() int { return 3 })
	h := check(context.Background())
	if h.Status != HealthStatusOK {
		t.Fatalf("want ok, got %s", h.Status)
	}
}
