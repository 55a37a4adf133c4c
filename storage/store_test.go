package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOrderLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	rec := OrderRecord{
		ID:           "order-1",
		MerchOrderID: "ORD-1",
		Title:        "Sub",
		Amount:       "100.5",
		Currency:     "ETB",
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.InsertOrder(ctx, rec); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	got, err := store.GetOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got == nil || got.MerchOrderID != "ORD-1" || got.Status != StatusPending {
		t.Fatalf("unexpected order: %+v", got)
	}

	prepay := "prepay-9"
	if err := store.UpdateOrderStatus(ctx, "order-1", StatusCompleted, &prepay); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, err = store.GetOrderByMerchID(ctx, "ORD-1")
	if err != nil {
		t.Fatalf("get by merch id: %v", err)
	}
	if got.Status != StatusCompleted || !got.PrepayID.Valid || got.PrepayID.String != "prepay-9" {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestGetOrderMissing(t *testing.T) {
	store := newTestStore(t)
	got, err := store.GetOrder(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing order, got %+v", got)
	}
}

func TestDuplicateMerchOrderRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	rec := OrderRecord{ID: "a", MerchOrderID: "DUP", Title: "T", Amount: "1", Currency: "ETB", Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	if err := store.InsertOrder(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	rec.ID = "b"
	if err := store.InsertOrder(ctx, rec); err == nil {
		t.Fatal("expected unique constraint violation for duplicate merchant order id")
	}
}

func TestIdempotencyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if cached, err := store.LookupIdempotency(ctx, "k1", "h1"); err != nil || cached != nil {
		t.Fatalf("expected empty lookup, got %+v err=%v", cached, err)
	}
	if err := store.SaveIdempotency(ctx, "k1", "h1", 200, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	cached, err := store.LookupIdempotency(ctx, "k1", "h1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if cached == nil || cached.Status != 200 || string(cached.Body) != `{"ok":true}` {
		t.Fatalf("unexpected cached response: %+v", cached)
	}

	if _, err := store.LookupIdempotency(ctx, "k1", "different-hash"); !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestInsertNotification(t *testing.T) {
	store := newTestStore(t)
	err := store.InsertNotification(context.Background(), NotificationRecord{
		ReceivedAt:   time.Now().UTC(),
		MerchOrderID: "ORD-1",
		TradeStatus:  "Completed",
		Verified:     true,
		Payload:      []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("insert notification: %v", err)
	}
}
