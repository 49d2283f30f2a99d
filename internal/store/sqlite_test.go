package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/ax-mentor/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "data", "mentor.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestUserRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	missing, err := repo.GetUser(ctx, "anon_x")
	if err != nil || missing != nil {
		t.Fatalf("expected no user, got %v, %v", missing, err)
	}

	now := time.Unix(1_700_000_000, 0)
	if err := repo.UpsertUser(ctx, &domain.User{
		UserID: "anon_x", Username: "anon-x", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	later := now.Add(time.Hour)
	if err := repo.UpdateLastSeen(ctx, "anon_x", later); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}

	user, err := repo.GetUser(ctx, "anon_x")
	if err != nil || user == nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if !user.LastSeenAt.Equal(later) {
		t.Fatalf("expected last seen %v, got %v", later, user.LastSeenAt)
	}
}

func TestExportsAreScopedToUser(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i, e := range []*domain.Export{
		{ID: "e1", UserID: "u1", SessionID: "tab", Step: domain.StepMarket, Content: "M1", CreatedAt: base},
		{ID: "e2", UserID: "u1", SessionID: "tab", Step: domain.StepProblem, Content: "P1", CreatedAt: base.Add(time.Minute)},
		{ID: "e3", UserID: "u2", SessionID: "tab", Step: domain.StepMarket, Content: "other", CreatedAt: base},
	} {
		if err := repo.CreateExport(ctx, e); err != nil {
			t.Fatalf("CreateExport %d failed: %v", i, err)
		}
	}

	list, err := repo.ListExports(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("ListExports failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "e2" || list[1].ID != "e1" {
		t.Fatalf("expected [e2 e1], got %+v", list)
	}

	got, err := repo.GetExport(ctx, "u1", "e3")
	if err != nil {
		t.Fatalf("GetExport failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected other user's export to be hidden")
	}

	got, err = repo.GetExport(ctx, "u1", "e2")
	if err != nil || got == nil {
		t.Fatalf("expected export e2, got %v, %v", got, err)
	}
	if got.Step != domain.StepProblem || got.Content != "P1" {
		t.Fatalf("unexpected export: %+v", got)
	}
}

func TestDeleteExportsBefore(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	_ = repo.CreateExport(ctx, &domain.Export{ID: "old", UserID: "u", SessionID: "s", Step: domain.StepMarket, Content: "a", CreatedAt: base})
	_ = repo.CreateExport(ctx, &domain.Export{ID: "new", UserID: "u", SessionID: "s", Step: domain.StepMarket, Content: "b", CreatedAt: base.Add(48 * time.Hour)})

	deleted, err := repo.DeleteExportsBefore(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteExportsBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	list, _ := repo.ListExports(ctx, "u", 10)
	if len(list) != 1 || list[0].ID != "new" {
		t.Fatalf("expected only the new export to remain, got %+v", list)
	}
}
