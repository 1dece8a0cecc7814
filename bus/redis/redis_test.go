package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/smelter/fault"
)

func TestPublish_Success(t *testing.T) {
	mr := miniredis.RunT(t)

	b, err := New(Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = b.Close() }()

	id, err := b.Publish(t.Context(), "invoice-converted", []byte(`{"invoice_id":"UE-1"}`), map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id == "" {
		t.Fatal("empty message id")
	}

	reader := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() { _ = reader.Close() }()

	entries, err := reader.XRange(t.Context(), "invoice-converted", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].ID != id {
		t.Errorf("entry id %q, publish returned %q", entries[0].ID, id)
	}
	if got := entries[0].Values[FieldData]; got != `{"invoice_id":"UE-1"}` {
		t.Errorf("data = %q", got)
	}

	var attrs map[string]string
	if err := json.Unmarshal([]byte(entries[0].Values[FieldAttributes].(string)), &attrs); err != nil {
		t.Fatalf("attributes not JSON: %v", err)
	}
	if attrs["k"] != "v" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestPublish_DistinctIDs(t *testing.T) {
	mr := miniredis.RunT(t)

	b, err := New(Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = b.Close() }()

	first, err := b.Publish(t.Context(), "invoice-uploaded", []byte("a"), nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Publish(t.Context(), "invoice-uploaded", []byte("b"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Errorf("ids not distinct: %q", first)
	}
}

func TestPublish_ConnectionFailure(t *testing.T) {
	b, err := New(Config{Addr: "127.0.0.1:1", Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = b.Close() }()

	_, err = b.Publish(t.Context(), "invoice-uploaded", []byte("a"), nil)
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !fault.IsTransient(err) {
		t.Errorf("connection failure should be transient: %v", err)
	}
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestNew_DefaultsApplied(t *testing.T) {
	mr := miniredis.RunT(t)

	b, err := New(Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = b.Close() }()

	if b.config.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", b.config.Timeout, DefaultTimeout)
	}
}
