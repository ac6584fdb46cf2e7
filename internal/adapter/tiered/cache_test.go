package tiered_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/scmrelay/internal/adapter/tiered"
)

type memCache struct {
	data map[string][]byte
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestTiered_L2HitBackfillsL1(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, time.Minute)
	l2.data["org.o1"] = []byte("cfg")

	val, found, err := c.Get(context.Background(), "org.o1")
	if err != nil || !found || string(val) != "cfg" {
		t.Fatalf("expected L2 hit, got %q %v %v", val, found, err)
	}
	if string(l1.data["org.o1"]) != "cfg" {
		t.Error("expected L1 backfill")
	}
}

func TestTiered_SetWritesBoth(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, time.Minute)

	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if l1.data["k"] == nil || l2.data["k"] == nil {
		t.Error("expected value in both levels")
	}

	_ = c.Delete(context.Background(), "k")
	if _, ok := l1.data["k"]; ok {
		t.Error("expected L1 delete")
	}
	if _, ok := l2.data["k"]; ok {
		t.Error("expected L2 delete")
	}
}

func TestTiered_NilL2(t *testing.T) {
	l1 := newMemCache()
	c := tiered.New(l1, nil, time.Minute)
	ctx := context.Background()

	if _, found, err := c.Get(ctx, "missing"); found || err != nil {
		t.Fatalf("expected clean miss, got %v %v", found, err)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := c.Get(ctx, "k"); !found {
		t.Error("expected L1 hit")
	}
}

func TestTiered_L2FailureIsMiss(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	l2.err = errors.New("nats: no responders")
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	if _, found, err := c.Get(ctx, "k"); found || err != nil {
		t.Fatalf("expected L2 error to degrade to miss, got %v %v", found, err)
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("L2 set failure must not fail Set, got %v", err)
	}
}
