package cache

import (
	"testing"
	"time"
)

func newTestTwoTier() *TwoTier {
	l1 := NewTTLMap("test-l1", time.Minute, 0, 0)
	return NewTwoTier("test", l1, nil, time.Minute)
}

func TestTwoTierSetGetWithoutL2(t *testing.T) {
	tt := newTestTwoTier()

	if err := tt.Set("key1", "value1", 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	v, ok := tt.Get("key1")
	if !ok {
		t.Fatal("expected hit after set")
	}
	if v != "value1" {
		t.Fatalf("expected value1, got %v", v)
	}
}

func TestTwoTierMissWhenAbsent(t *testing.T) {
	tt := newTestTwoTier()
	if _, ok := tt.Get("missing"); ok {
		t.Fatal("expected miss for key never set")
	}
}

func TestTwoTierDeleteRemovesFromL1(t *testing.T) {
	tt := newTestTwoTier()
	_ = tt.Set("key1", "value1", 0)

	if err := tt.Delete("key1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := tt.Get("key1"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestTwoTierHasWithoutL2(t *testing.T) {
	tt := newTestTwoTier()
	_ = tt.Set("key1", "value1", 0)

	if !tt.Has("key1") {
		t.Fatal("expected Has to report true for a present key")
	}
	if tt.Has("absent") {
		t.Fatal("expected Has to report false for an absent key")
	}
}

func TestTwoTierStatsReportsL2Unconfigured(t *testing.T) {
	tt := newTestTwoTier()
	stats := tt.Stats()
	if configured, _ := stats.CustomMetrics["l2_configured"].(bool); configured {
		t.Fatal("expected l2_configured to be false with a nil Redis client")
	}
}
