package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"github.com/bitfantasy/nimo-pps/internal/pps/repository"
	"github.com/bitfantasy/nimo-pps/internal/pps/testutil"
	"gorm.io/gorm"
)

func setupDependencyTest(t *testing.T) (*gorm.DB, *DependencyService) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	return db, NewDependencyService(repos.Dependency, repos.Todo)
}

func TestDependencyCreateDefaults(t *testing.T) {
	db, svc := setupDependencyTest(t)
	ctx := context.Background()

	a := testutil.SeedTodo(t, db, &entity.Todo{Title: "Sägen", TodoType: entity.TodoTypeOperation})
	b := testutil.SeedTodo(t, db, &entity.Todo{Title: "Fräsen", TodoType: entity.TodoTypeOperation})

	dep, err := svc.Create(ctx, &CreateDependencyRequest{PredecessorID: a.ID, SuccessorID: b.ID})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if dep.DependencyType != entity.DependencyFinishToStart {
		t.Errorf("Expected default FS type, got %q", dep.DependencyType)
	}
	if !dep.IsActive {
		t.Error("Expected edge active by default")
	}
	if dep.LagMinutes != 0 {
		t.Errorf("Expected zero lag, got %d", dep.LagMinutes)
	}
}

func TestDependencyCreateSameEndpointsRejected(t *testing.T) {
	db, svc := setupDependencyTest(t)
	a := testutil.SeedTodo(t, db, &entity.Todo{Title: "Sägen"})

	if _, err := svc.Create(context.Background(), &CreateDependencyRequest{
		PredecessorID: a.ID, SuccessorID: a.ID,
	}); err == nil {
		t.Fatal("Expected self-loop to be rejected")
	}
}

func TestDependencyCreateMissingEndpoint(t *testing.T) {
	db, svc := setupDependencyTest(t)
	a := testutil.SeedTodo(t, db, &entity.Todo{Title: "Sägen"})

	_, err := svc.Create(context.Background(), &CreateDependencyRequest{
		PredecessorID: a.ID, SuccessorID: 999999,
	})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing successor, got %v", err)
	}
}

func TestDependencyCreateDuplicatePairRejected(t *testing.T) {
	db, svc := setupDependencyTest(t)
	ctx := context.Background()

	a := testutil.SeedTodo(t, db, &entity.Todo{Title: "Sägen"})
	b := testutil.SeedTodo(t, db, &entity.Todo{Title: "Fräsen"})

	if _, err := svc.Create(ctx, &CreateDependencyRequest{PredecessorID: a.ID, SuccessorID: b.ID}); err != nil {
		t.Fatalf("First create failed: %v", err)
	}
	_, err := svc.Create(ctx, &CreateDependencyRequest{PredecessorID: a.ID, SuccessorID: b.ID})
	if !errors.Is(err, repository.ErrDuplicateEdge) {
		t.Fatalf("Expected ErrDuplicateEdge, got %v", err)
	}
}

// 反向边不算重复，也不做环检测：图层不排程整图，
// 只有生成器串接相邻工序，允许使用者自行表达往返关系。
func TestDependencyReverseEdgeAllowed(t *testing.T) {
	db, svc := setupDependencyTest(t)
	ctx := context.Background()

	a := testutil.SeedTodo(t, db, &entity.Todo{Title: "Sägen"})
	b := testutil.SeedTodo(t, db, &entity.Todo{Title: "Fräsen"})

	if _, err := svc.Create(ctx, &CreateDependencyRequest{PredecessorID: a.ID, SuccessorID: b.ID}); err != nil {
		t.Fatalf("Forward edge failed: %v", err)
	}
	if _, err := svc.Create(ctx, &CreateDependencyRequest{PredecessorID: b.ID, SuccessorID: a.ID}); err != nil {
		t.Fatalf("Reverse edge failed: %v", err)
	}

	deps, err := svc.List(ctx, &a.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(deps) != 2 {
		t.Errorf("Expected 2 edges, got %d", len(deps))
	}
}

func TestDependencyDelete(t *testing.T) {
	db, svc := setupDependencyTest(t)
	ctx := context.Background()

	a := testutil.SeedTodo(t, db, &entity.Todo{Title: "Sägen"})
	b := testutil.SeedTodo(t, db, &entity.Todo{Title: "Fräsen"})
	dep, err := svc.Create(ctx, &CreateDependencyRequest{PredecessorID: a.ID, SuccessorID: b.ID})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := svc.Delete(ctx, dep.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	deps, _ := svc.List(ctx, nil)
	if len(deps) != 0 {
		t.Errorf("Expected no edges, got %d", len(deps))
	}
}
