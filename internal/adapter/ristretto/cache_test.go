package ristretto

import (
	"context"
	"testing"
	"time"
)

func TestCacheSetGetDelete(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "org:org-1", []byte(`{"url":"https://hooks.example.com"}`), time.Minute); err != nil {
		t.Fatal(err)
	}
	val, ok, err := c.Get(ctx, "org:org-1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(val) != `{"url":"https://hooks.example.com"}` {
		t.Errorf("unexpected value %s", val)
	}

	_ = c.Delete(ctx, "org:org-1")
	if _, ok, _ := c.Get(ctx, "org:org-1"); ok {
		t.Error("expected miss after delete")
	}
}

func TestNewRejectsZeroSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("expected error for zero size")
	}
}

func TestHitRatio(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if got := c.HitRatio(); got != 0 {
		t.Fatalf("expected 0 before any read, got %v", got)
	}
	if err := c.Set(ctx, "org:org-1", []byte(`{}`), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "org:org-1"); !ok {
		t.Fatal("expected hit")
	}
	if _, ok, _ := c.Get(ctx, "org:org-2"); ok {
		t.Fatal("expected miss")
	}
	if got := c.HitRatio(); got != 0.5 {
		t.Errorf("expected hit ratio 0.5, got %v", got)
	}
}
