package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryRepositoryUsers(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	user := &User{Username: "alice", PasswordHash: "hash"}
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.ID == "" {
		t.Error("expected generated user ID")
	}

	dup := &User{Username: "alice", PasswordHash: "other"}
	if err := repo.CreateUser(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	got, err := repo.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("expected user ID %s, got %s", user.ID, got.ID)
	}

	if _, err := repo.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepositoryProjectScoping(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	project := &Project{UserID: "user-1", Name: "deck", WorkDir: "/srv/deck"}
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	if _, err := repo.GetProject(ctx, project.ID, "user-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign user, got %v", err)
	}

	got, err := repo.GetProject(ctx, project.ID, "user-1")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.WorkDir != "/srv/deck" {
		t.Errorf("expected work dir /srv/deck, got %s", got.WorkDir)
	}

	if err := repo.DeleteProject(ctx, project.ID, "user-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting as foreign user, got %v", err)
	}
	if err := repo.DeleteProject(ctx, project.ID, "user-1"); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}
}

func TestMemoryRepositoryDeleteProjectCascades(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	project := &Project{UserID: "user-1", Name: "deck", WorkDir: "/srv/deck"}
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	agent := &Agent{UserID: "user-1", ProjectID: project.ID, Name: "builder"}
	if err := repo.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	if err := repo.DeleteProject(ctx, project.ID, "user-1"); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}
	if _, err := repo.GetAgent(ctx, agent.ID, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected agent removed with project, got %v", err)
	}
}

func TestMemoryRepositoryAgentSessionAndUsage(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	agent := &Agent{UserID: "user-1", ProjectID: "proj-1", Name: "builder"}
	if err := repo.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	if err := repo.UpdateAgentSession(ctx, agent.ID, "sess-abc"); err != nil {
		t.Fatalf("UpdateAgentSession failed: %v", err)
	}
	if err := repo.AddAgentUsage(ctx, agent.ID, 1500, 0.5); err != nil {
		t.Fatalf("AddAgentUsage failed: %v", err)
	}
	if err := repo.AddAgentUsage(ctx, agent.ID, 500, 0.25); err != nil {
		t.Fatalf("AddAgentUsage failed: %v", err)
	}

	got, err := repo.GetAgent(ctx, agent.ID, "user-1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.ClaudeSessionID != "sess-abc" {
		t.Errorf("expected session sess-abc, got %s", got.ClaudeSessionID)
	}
	if got.TotalTokens != 2000 {
		t.Errorf("expected 2000 tokens, got %d", got.TotalTokens)
	}
	if got.TotalCostUSD != 0.75 {
		t.Errorf("expected cost 0.75, got %f", got.TotalCostUSD)
	}

	if err := repo.UpdateAgentSession(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
