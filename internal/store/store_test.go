package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryKVSetGet(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	if err := kv.Set(ctx, "k", "v", 0); err != nil {
		t.Fatal(err)
	}
	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got != "v" {
		t.Errorf("got %q, want %q", got, "v")
	}
}

func TestMemoryKVGetMissing(t *testing.T) {
	kv := NewMemoryKV()
	if _, err := kv.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryKVTTLExpiry(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	if err := kv.Set(ctx, "k", "v", time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after expiry", err)
	}
}

func TestMemoryKVSetNX(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	ok, err := kv.SetNX(ctx, "k", "first", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("first SetNX should win")
	}

	ok, err = kv.SetNX(ctx, "k", "second", 0)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second SetNX should lose while the key lives")
	}
	if got, _ := kv.Get(ctx, "k"); got != "first" {
		t.Errorf("value = %q, want the original %q", got, "first")
	}
}

func TestMemoryKVSetNXAfterExpiry(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	if _, err := kv.SetNX(ctx, "k", "first", time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	ok, err := kv.SetNX(ctx, "k", "second", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("SetNX should win once the old entry expired")
	}
}

func TestMemoryKVDelete(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	_ = kv.Set(ctx, "a", "1", 0)
	_ = kv.Set(ctx, "b", "2", 0)
	if err := kv.Delete(ctx, "a", "b", "missing"); err != nil {
		t.Fatal(err)
	}
	if _, err := kv.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("a still present after delete: %v", err)
	}
	if _, err := kv.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("b still present after delete: %v", err)
	}
}
