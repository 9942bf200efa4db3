package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := Open("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetGetJSONRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	type payload struct {
		Mode string `json:"mode"`
	}
	if err := s.SetJSON(ctx, "mode", payload{Mode: "ACCELERATED"}, 0); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var got payload
	if err := s.GetJSON(ctx, "mode", &got); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got.Mode != "ACCELERATED" {
		t.Fatalf("unexpected value: %+v", got)
	}
}

func TestGetJSONMissingKeyReturnsErrNotFound(t *testing.T) {
	s := setupTestStore(t)
	var v struct{}
	if err := s.GetJSON(context.Background(), "absent", &v); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	s.SetJSON(ctx, "scratch", map[string]int{"a": 1}, 0)
	if err := s.Delete(ctx, "scratch"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "scratch"); err != nil {
		t.Fatalf("Delete of absent key should not error: %v", err)
	}
}

func TestBurstStateRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	want := BurstState{Active: true, CurrentInterval: 600, BurstEndTime: time.Now().Add(time.Hour).Truncate(time.Second)}
	if err := s.SaveBurstState(ctx, want); err != nil {
		t.Fatalf("SaveBurstState: %v", err)
	}

	got, ok := s.LoadBurstState(ctx)
	if !ok {
		t.Fatal("expected burst state to load")
	}
	if got.Active != want.Active || got.CurrentInterval != want.CurrentInterval {
		t.Fatalf("unexpected burst state: %+v", got)
	}
}

func TestLoadBurstStateAbsentIsNotOK(t *testing.T) {
	s := setupTestStore(t)
	if _, ok := s.LoadBurstState(context.Background()); ok {
		t.Fatal("expected no burst state on a fresh store")
	}
}
