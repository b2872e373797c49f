package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
	"github.com/bitfantasy/nimo-pps/internal/pps/erp"
	"github.com/bitfantasy/nimo-pps/internal/pps/repository"
	"github.com/bitfantasy/nimo-pps/internal/pps/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupGanttTest(t *testing.T) (*gorm.DB, *repository.Repositories, *GanttService) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	gateway := erp.NewGormGateway(db)
	visibility := NewVisibilityService(gateway, repos.Resource, nil, zap.NewNop())
	todoSvc := NewTodoService(repos.Todo, repos.Resource, gateway, visibility, zap.NewNop())
	svc := NewGanttService(todoSvc, repos, visibility, zap.NewNop())
	return db, repos, svc
}

func TestGanttExportShape(t *testing.T) {
	db, repos, svc := setupGanttTest(t)
	ctx := context.Background()

	start := time.Date(2025, 7, 7, 8, 0, 0, 0, time.UTC)
	root := testutil.SeedTodo(t, db, &entity.Todo{
		Title: "Auftrag 4711", TodoType: entity.TodoTypeContainerOrder,
		PlannedStart: &start, TotalDurationMinutes: 75,
	})
	op1 := testutil.SeedTodo(t, db, &entity.Todo{
		Title: "Sägen", TodoType: entity.TodoTypeOperation, ParentTodoID: &root.ID,
		PlannedStart: &start, TotalDurationMinutes: 30, Status: entity.TodoStatusCompleted,
	})
	op2 := testutil.SeedTodo(t, db, &entity.Todo{
		Title: "Fräsen", TodoType: entity.TodoTypeOperation, ParentTodoID: &root.ID,
		TotalDurationMinutes: 45, Status: entity.TodoStatusInProgress,
	})
	repos.Dependency.Create(ctx, &entity.TodoDependency{
		PredecessorID: op1.ID, SuccessorID: op2.ID,
		DependencyType: entity.DependencyFinishToStart, IsActive: true,
	})

	data, err := svc.Export(ctx, &ListTodosRequest{})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(data.Data) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(data.Data))
	}
	if len(data.Links) != 1 {
		t.Fatalf("Expected 1 link, got %d", len(data.Links))
	}

	byID := make(map[int64]GanttTask)
	for _, task := range data.Data {
		byID[task.ID] = task
	}
	if byID[root.ID].Type != "project" {
		t.Errorf("Container exports as project, got %q", byID[root.ID].Type)
	}
	if byID[op1.ID].Type != "task" {
		t.Errorf("Operation exports as task, got %q", byID[op1.ID].Type)
	}
	if byID[op1.ID].Parent != root.ID {
		t.Errorf("Expected parent %d, got %d", root.ID, byID[op1.ID].Parent)
	}
	if byID[op1.ID].StartDate != "2025-07-07 08:00" {
		t.Errorf("Unexpected start_date format: %q", byID[op1.ID].StartDate)
	}
	if byID[op1.ID].Progress != 1.0 {
		t.Errorf("Completed maps to progress 1.0, got %v", byID[op1.ID].Progress)
	}
	if byID[op2.ID].Progress != 0.5 {
		t.Errorf("In progress maps to 0.5, got %v", byID[op2.ID].Progress)
	}

	link := data.Links[0]
	if link.Source != op1.ID || link.Target != op2.ID {
		t.Errorf("Link endpoints wrong: %d → %d", link.Source, link.Target)
	}
}

func TestGanttSyncCreateWithTempLinks(t *testing.T) {
	_, repos, svc := setupGanttTest(t)
	ctx := context.Background()

	result, err := svc.Sync(ctx, &GanttSyncRequest{
		CreatedTasks: []map[string]interface{}{
			{"id": "tmp-1", "text": "Sägen", "start_date": "2025-07-07 08:00", "duration": float64(30)},
			{"id": "tmp-2", "text": "Fräsen", "start_date": "2025-07-07 08:30", "duration": float64(45)},
		},
		CreatedLinks: []GanttSyncLink{
			{TempID: "lnk-1", Source: "tmp-1", Target: "tmp-2"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("Unexpected errors: %v", result.Errors)
	}
	if !result.Success {
		t.Error("Expected success")
	}
	if len(result.CreatedTaskIDs) != 2 {
		t.Fatalf("Expected 2 temp-id mappings, got %d", len(result.CreatedTaskIDs))
	}

	// 边端点已换成真实ID
	deps, _ := repos.Dependency.List(ctx, nil)
	if len(deps) != 1 {
		t.Fatalf("Expected 1 link, got %d", len(deps))
	}
	if deps[0].PredecessorID != result.CreatedTaskIDs["tmp-1"] ||
		deps[0].SuccessorID != result.CreatedTaskIDs["tmp-2"] {
		t.Errorf("Temp refs not resolved: %+v", deps[0])
	}
	if linkID, ok := result.CreatedLinkIDs["lnk-1"]; !ok || linkID != deps[0].ID {
		t.Errorf("Expected link temp-id mapping, got %v", result.CreatedLinkIDs)
	}
}

func TestGanttSyncPartialFailure(t *testing.T) {
	db, repos, svc := setupGanttTest(t)
	ctx := context.Background()

	good := testutil.SeedTodo(t, db, &entity.Todo{Title: "Gut"})

	result, err := svc.Sync(ctx, &GanttSyncRequest{
		UpdatedTasks: []map[string]interface{}{
			{"id": float64(good.ID), "text": "Gut Rev.B"},
			{"id": float64(999999), "text": "Gibt es nicht"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	// 坏项进错误列表，好项照常处理
	if result.UpdatedCount != 1 {
		t.Errorf("Expected 1 successful update, got %d", result.UpdatedCount)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "999999") {
		t.Errorf("Expected one error for unknown task, got %v", result.Errors)
	}
	if !result.Success {
		t.Error("Partial success still counts as success")
	}

	updated, _ := repos.Todo.FindByID(ctx, good.ID)
	if updated.Title != "Gut Rev.B" {
		t.Errorf("Good item must be applied, got %q", updated.Title)
	}
}

func TestGanttSyncUpdateBumpsVersion(t *testing.T) {
	db, repos, svc := setupGanttTest(t)
	ctx := context.Background()

	todo := testutil.SeedTodo(t, db, &entity.Todo{Title: "Unverändert"})

	// 无实际字段变化的更新项也+1版本
	result, err := svc.Sync(ctx, &GanttSyncRequest{
		UpdatedTasks: []map[string]interface{}{
			{"id": float64(todo.ID), "version": float64(1)},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.UpdatedCount != 1 {
		t.Fatalf("Expected update to be processed, errors: %v", result.Errors)
	}

	loaded, _ := repos.Todo.FindByID(ctx, todo.ID)
	if loaded.Version != 2 {
		t.Errorf("Expected version 2 after processed update, got %d", loaded.Version)
	}
}

func TestGanttSyncStaleVersionCollected(t *testing.T) {
	db, repos, svc := setupGanttTest(t)
	ctx := context.Background()

	todo := testutil.SeedTodo(t, db, &entity.Todo{Title: "Alt"})
	// 版本先升到2
	repos.Todo.UpdateWithVersion(ctx, todo.ID, nil, func(td *entity.Todo) error { return nil })

	result, err := svc.Sync(ctx, &GanttSyncRequest{
		UpdatedTasks: []map[string]interface{}{
			{"id": float64(todo.ID), "version": float64(1), "text": "darf nicht"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Expected stale update in errors, got %v", result.Errors)
	}

	loaded, _ := repos.Todo.FindByID(ctx, todo.ID)
	if loaded.Title != "Alt" {
		t.Errorf("Stale update must not apply, got %q", loaded.Title)
	}
}

func TestGanttSyncDeleteUpdateCreateOrder(t *testing.T) {
	db, repos, svc := setupGanttTest(t)
	ctx := context.Background()

	doomed := testutil.SeedTodo(t, db, &entity.Todo{Title: "Weg damit"})
	keep := testutil.SeedTodo(t, db, &entity.Todo{Title: "Bleibt"})

	result, err := svc.Sync(ctx, &GanttSyncRequest{
		DeletedTaskIDs: []int64{doomed.ID},
		UpdatedTasks: []map[string]interface{}{
			{"id": float64(keep.ID), "priority": float64(9)},
		},
		CreatedTasks: []map[string]interface{}{
			{"id": "tmp-n", "text": "Neu", "parent": float64(keep.ID)},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("Unexpected errors: %v", result.Errors)
	}
	if result.DeletedCount != 1 || result.UpdatedCount != 1 || result.CreatedCount != 1 {
		t.Errorf("Counts wrong: %+v", result)
	}

	if _, err := repos.Todo.FindByID(ctx, doomed.ID); err == nil {
		t.Error("Deleted task still present")
	}
	created, err := repos.Todo.FindByID(ctx, result.CreatedTaskIDs["tmp-n"])
	if err != nil {
		t.Fatalf("Created task missing: %v", err)
	}
	if created.ParentTodoID == nil || *created.ParentTodoID != keep.ID {
		t.Errorf("Created task parent wrong: %v", created.ParentTodoID)
	}
}

func TestParseGanttDateLayouts(t *testing.T) {
	cases := []string{
		"2025-07-07 08:00",
		"2025-07-07 08:00:00",
		"07-07-2025 08:00",
		"07.07.2025 08:00",
		"2025-07-07",
	}
	for _, raw := range cases {
		if _, err := ParseGanttDate(raw); err != nil {
			t.Errorf("Expected %q to parse, got %v", raw, err)
		}
	}
	if _, err := ParseGanttDate("kein datum"); err == nil {
		t.Error("Expected parse failure for garbage input")
	}
}

func TestGanttSyncReparentIntoSubtreeCollected(t *testing.T) {
	db, repos, svc := setupGanttTest(t)
	ctx := context.Background()

	root := testutil.SeedTodo(t, db, &entity.Todo{Title: "Auftrag", TodoType: entity.TodoTypeContainerOrder})
	child := testutil.SeedTodo(t, db, &entity.Todo{Title: "Sägen", TodoType: entity.TodoTypeOperation, ParentTodoID: &root.ID})

	result, err := svc.Sync(ctx, &GanttSyncRequest{
		UpdatedTasks: []map[string]interface{}{
			{"id": float64(root.ID), "parent": float64(child.ID)},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Expected reparent into subtree collected as error, got %v", result.Errors)
	}

	stored, _ := repos.Todo.FindByID(ctx, root.ID)
	if stored.ParentTodoID != nil {
		t.Errorf("Root parent must stay unchanged, got %v", stored.ParentTodoID)
	}
}

func TestGanttSyncAssignsResourceByType(t *testing.T) {
	db, repos, svc := setupGanttTest(t)
	ctx := context.Background()

	machine := &entity.ResourceCache{ResourceType: entity.ResourceTypeMachine, ErpID: 10, Name: "Drehbank", IsActive: true}
	employee := &entity.ResourceCache{ResourceType: entity.ResourceTypeEmployee, ErpID: 7, Name: "Meister", IsActive: true}
	if err := db.Create(machine).Error; err != nil {
		t.Fatalf("Failed to seed machine: %v", err)
	}
	if err := db.Create(employee).Error; err != nil {
		t.Fatalf("Failed to seed employee: %v", err)
	}
	todo := testutil.SeedTodo(t, db, &entity.Todo{Title: "Drehen", TodoType: entity.TodoTypeOperation})

	result, err := svc.Sync(ctx, &GanttSyncRequest{
		UpdatedTasks: []map[string]interface{}{
			{"id": float64(todo.ID), "resource_id": float64(machine.ID)},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("Unexpected errors: %v", result.Errors)
	}

	stored, _ := repos.Todo.FindByID(ctx, todo.ID)
	if stored.MachineResourceID == nil || *stored.MachineResourceID != machine.ID {
		t.Errorf("Expected machine assignment, got %v", stored.MachineResourceID)
	}

	result, err = svc.Sync(ctx, &GanttSyncRequest{
		UpdatedTasks: []map[string]interface{}{
			{"id": float64(todo.ID), "resource_id": float64(employee.ID)},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	stored, _ = repos.Todo.FindByID(ctx, todo.ID)
	if stored.EmployeeResourceID == nil || *stored.EmployeeResourceID != employee.ID {
		t.Errorf("Expected employee assignment, got %v", stored.EmployeeResourceID)
	}

	// 未知资源进错误列表
	result, err = svc.Sync(ctx, &GanttSyncRequest{
		UpdatedTasks: []map[string]interface{}{
			{"id": float64(todo.ID), "resource_id": float64(999999)},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Expected unknown resource collected as error, got %v", result.Errors)
	}
}
