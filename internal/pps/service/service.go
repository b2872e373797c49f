package service

import (
	"github.com/bitfantasy/nimo-pps/internal/pps/erp"
	"github.com/bitfantasy/nimo-pps/internal/pps/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	Todo       *TodoService
	Generator  *GeneratorService
	Gantt      *GanttService
	Dependency *DependencyService
	Visibility *VisibilityService
	Conflict   *ConflictService
}

// NewServices 创建服务集合。rdb可为nil，detector可为nil（recheck报错）
func NewServices(
	db *gorm.DB,
	repos *repository.Repositories,
	gateway erp.Gateway,
	rdb *redis.Client,
	detector ConflictDetector,
	logger *zap.Logger,
) *Services {
	visibility := NewVisibilityService(gateway, repos.Resource, rdb, logger)
	todoSvc := NewTodoService(repos.Todo, repos.Resource, gateway, visibility, logger)
	return &Services{
		Todo:       todoSvc,
		Generator:  NewGeneratorService(db, gateway, logger),
		Gantt:      NewGanttService(todoSvc, repos, visibility, logger),
		Dependency: NewDependencyService(repos.Dependency, repos.Todo),
		Visibility: visibility,
		Conflict:   NewConflictService(repos.Conflict, detector, logger),
	}
}
