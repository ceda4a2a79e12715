package cron

import (
	"context"
	"testing"
	"time"
)

type memoryRedis struct {
	values map[string]string
}

func newMemoryRedis() *memoryRedis { return &memoryRedis{values: map[string]string{}} }

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryRedis) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	if v, ok := m.values[key]; !ok || v != expected {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryRedis) LockKey(name string) string { return "sf:lock:" + name }

func TestRedisLockFactoryIsolatesJobs(t *testing.T) {
	store := newMemoryRedis()
	factory := RedisLockFactory(store, time.Minute)
	ctx := context.Background()

	reconcile, err := factory("payment-reconcile")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	retention, err := factory("outbox-retention")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	if ok, err := reconcile.Acquire(ctx); err != nil || !ok {
		t.Fatalf("acquire reconcile: ok=%v err=%v", ok, err)
	}
	if ok, err := retention.Acquire(ctx); err != nil || !ok {
		t.Fatalf("different jobs must not contend: ok=%v err=%v", ok, err)
	}
	if _, ok := store.values["sf:lock:cron:payment-reconcile"]; !ok {
		t.Fatalf("expected namespaced key, got %v", store.values)
	}

	second, _ := factory("payment-reconcile")
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatalf("second worker should not acquire a held lock")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if _, ok := store.values["sf:lock:cron:payment-reconcile"]; !ok {
		t.Fatalf("non-owner release must not delete the key")
	}

	if err := reconcile.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatalf("expected lock to be free after owner release")
	}
}

func TestRedisLockReleaseIgnoresStolenLock(t *testing.T) {
	store := newMemoryRedis()
	lock, err := NewRedisLock(store, "sf:lock:x", 0)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	ctx := context.Background()
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatalf("expected acquire")
	}
	store.values["sf:lock:x"] = "someone-else"
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["sf:lock:x"] != "someone-else" {
		t.Fatalf("release must not delete another owner's lock")
	}
}
