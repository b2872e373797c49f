package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"github.com/bitfantasy/nimo-pps/internal/pps/testutil"
)

func TestDependencyCreateDuplicateRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	a := testutil.SeedTodo(t, db, &entity.Todo{Title: "AG10"})
	b := testutil.SeedTodo(t, db, &entity.Todo{Title: "AG20"})

	dep := &entity.TodoDependency{
		PredecessorID: a.ID,
		SuccessorID:   b.ID,
		DependencyType:    entity.DependencyFinishToStart,
		IsActive:          true,
	}
	if err := repos.Dependency.Create(ctx, dep); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	dup := &entity.TodoDependency{
		PredecessorID: a.ID,
		SuccessorID:   b.ID,
		DependencyType:    entity.DependencyStartToStart,
		IsActive:          true,
	}
	if err := repos.Dependency.Create(ctx, dup); !errors.Is(err, ErrDuplicateEdge) {
		t.Fatalf("Expected ErrDuplicateEdge, got %v", err)
	}
}

func TestDependencyEnsureEdgeReuses(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	a := testutil.SeedTodo(t, db, &entity.Todo{Title: "AG10"})
	b := testutil.SeedTodo(t, db, &entity.Todo{Title: "AG20"})

	created, err := repos.Dependency.EnsureEdge(ctx, &entity.TodoDependency{
		PredecessorID: a.ID,
		SuccessorID:   b.ID,
		DependencyType:    entity.DependencyFinishToStart,
		IsActive:          true,
	})
	if err != nil || !created {
		t.Fatalf("Expected first EnsureEdge to create, got created=%v err=%v", created, err)
	}

	created, err = repos.Dependency.EnsureEdge(ctx, &entity.TodoDependency{
		PredecessorID: a.ID,
		SuccessorID:   b.ID,
		DependencyType:    entity.DependencyFinishToStart,
		IsActive:          true,
	})
	if err != nil {
		t.Fatalf("Second EnsureEdge failed: %v", err)
	}
	if created {
		t.Error("Expected second EnsureEdge to reuse the edge")
	}

	deps, _ := repos.Dependency.List(ctx, nil)
	if len(deps) != 1 {
		t.Fatalf("Expected exactly 1 edge, got %d", len(deps))
	}
}

func TestDependencyListByEndpoint(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	a := testutil.SeedTodo(t, db, &entity.Todo{Title: "A"})
	b := testutil.SeedTodo(t, db, &entity.Todo{Title: "B"})
	c := testutil.SeedTodo(t, db, &entity.Todo{Title: "C"})

	repos.Dependency.Create(ctx, &entity.TodoDependency{PredecessorID: a.ID, SuccessorID: b.ID, DependencyType: entity.DependencyFinishToStart, IsActive: true})
	repos.Dependency.Create(ctx, &entity.TodoDependency{PredecessorID: b.ID, SuccessorID: c.ID, DependencyType: entity.DependencyFinishToStart, IsActive: true})

	deps, err := repos.Dependency.List(ctx, &b.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("Expected 2 edges touching b, got %d", len(deps))
	}

	among, err := repos.Dependency.ListActiveAmong(ctx, []int64{a.ID, b.ID})
	if err != nil {
		t.Fatalf("ListActiveAmong failed: %v", err)
	}
	if len(among) != 1 {
		t.Fatalf("Expected 1 edge fully inside {a,b}, got %d", len(among))
	}
}

func TestDependencyDeleteNotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := NewRepositories(db)

	if err := repos.Dependency.Delete(context.Background(), 4711); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}
