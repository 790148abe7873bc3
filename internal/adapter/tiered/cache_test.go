package tiered

import (
	"context"
	"testing"
	"time"
)

// mapCache is an in-memory cache.Cache for exercising the tier logic.
type mapCache struct {
	data map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestSharedHitBackfillsLocal(t *testing.T) {
	local, shared := newMapCache(), newMapCache()
	shared.data["apikey:abc"] = []byte("proj_1")

	c := New(local, shared, time.Minute)

	val, ok, err := c.Get(context.Background(), "apikey:abc")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(val) != "proj_1" {
		t.Errorf("value = %q", val)
	}
	if _, ok := local.data["apikey:abc"]; !ok {
		t.Error("local tier not backfilled")
	}
}

func TestLocalHitSkipsShared(t *testing.T) {
	local, shared := newMapCache(), newMapCache()
	local.data["apikey:abc"] = []byte("proj_1")
	shared.data["apikey:abc"] = []byte("stale")

	c := New(local, shared, time.Minute)

	val, ok, _ := c.Get(context.Background(), "apikey:abc")
	if !ok || string(val) != "proj_1" {
		t.Errorf("value = %q, ok = %v", val, ok)
	}
}

func TestSetAndDeleteTouchBothTiers(t *testing.T) {
	local, shared := newMapCache(), newMapCache()
	c := New(local, shared, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "apikey:abc", []byte("proj_1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := local.data["apikey:abc"]; !ok {
		t.Error("local tier missing after Set")
	}
	if _, ok := shared.data["apikey:abc"]; !ok {
		t.Error("shared tier missing after Set")
	}

	if err := c.Delete(ctx, "apikey:abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(local.data) != 0 || len(shared.data) != 0 {
		t.Error("tiers not emptied after Delete")
	}
}

func TestMissReturnsNotFound(t *testing.T) {
	c := New(newMapCache(), newMapCache(), time.Minute)
	if _, ok, err := c.Get(context.Background(), "apikey:missing"); ok || err != nil {
		t.Errorf("ok=%v err=%v, want miss", ok, err)
	}
}
