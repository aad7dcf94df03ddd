package memory

import (
	"context"
	"testing"

	"ideatorio/internal/app"
	"ideatorio/internal/domain"
)

func TestSessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	registry := app.NewRegistry(store, nil, app.RegistryConfig{
		PIN: func() string { return "482913" },
	}, nil)
	defer registry.Shutdown(ctx)

	info, err := registry.Create(ctx, "teacher-1", domain.DynamicNone)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	session, ok := store.Get(info.PIN)
	if !ok {
		t.Fatalf("expected session present")
	}
	if inserted, _ := store.Insert(ctx, session); inserted {
		t.Fatalf("expected duplicate pin to be refused")
	}
	if got := len(store.List()); got != 1 {
		t.Fatalf("expected 1 session listed, got %d", got)
	}

	if err := registry.End(ctx, info.PIN, "ended"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, ok := store.Get(info.PIN); ok {
		t.Fatalf("expected session removed")
	}
}
