package duration

import (
	"time"

	"github.com/bitfantasy/nimo-pps/internal/pps/entity"
)

// Tree 一次性加载的待办子树视图，按ID索引，父→子索引按需构建。
// 树按构造即无环：子节点创建时总是指向已存在的父节点。
type Tree struct {
	nodes    map[int64]*entity.Todo
	children map[int64][]int64
	changed  map[int64]*entity.Todo
}

// Load 用已加载的行构建树视图，不产生额外的存储往返
func Load(todos []*entity.Todo) *Tree {
	t := &Tree{
		nodes:    make(map[int64]*entity.Todo, len(todos)),
		children: make(map[int64][]int64),
		changed:  make(map[int64]*entity.Todo),
	}
	for _, todo := range todos {
		t.nodes[todo.ID] = todo
	}
	for _, todo := range todos {
		if todo.ParentTodoID != nil {
			if _, ok := t.nodes[*todo.ParentTodoID]; ok {
				t.children[*todo.ParentTodoID] = append(t.children[*todo.ParentTodoID], todo.ID)
			}
		}
	}
	return t
}

// Get 按ID取节点
func (t *Tree) Get(id int64) *entity.Todo {
	return t.nodes[id]
}

// Children 直接子节点ID
func (t *Tree) Children(id int64) []int64 {
	return t.children[id]
}

// Changed 返回汇总过程中被改写的节点，供上层持久化
func (t *Tree) Changed() []*entity.Todo {
	out := make([]*entity.Todo, 0, len(t.changed))
	for _, todo := range t.changed {
		out = append(out, todo)
	}
	return out
}

// Rollup 后序遍历汇总容器工时，返回该节点贡献的分钟数。
// 叶子返回其存量工时（未设置则取下限）；容器返回子节点之和，
// 且在IsDurationManual为false时改写存量工时与planned_end。
// 幂等：同一棵树上重复调用结果不变。
func (t *Tree) Rollup(id int64) int {
	node, ok := t.nodes[id]
	if !ok {
		return 0
	}

	if !entity.IsContainer(node.TodoType) {
		if node.TotalDurationMinutes <= 0 {
			return MinLeafMinutes
		}
		return node.TotalDurationMinutes
	}

	childIDs := t.children[id]
	if len(childIDs) == 0 {
		// 无子节点的容器按叶子对待，保留存量工时，最低5分钟防止零宽节点
		sum := node.TotalDurationMinutes
		if sum < MinEmptyContainerMinutes {
			sum = MinEmptyContainerMinutes
		}
		if !node.IsDurationManual && node.TotalDurationMinutes != sum {
			node.TotalDurationMinutes = sum
			t.changed[id] = node
			if node.PlannedStart != nil {
				end := node.PlannedStart.Add(time.Duration(sum) * time.Minute)
				node.PlannedEnd = &end
			}
		}
		return sum
	}

	sum := 0
	for _, childID := range childIDs {
		sum += t.Rollup(childID)
	}

	if node.IsDurationManual {
		return node.TotalDurationMinutes
	}

	if node.TotalDurationMinutes != sum {
		node.TotalDurationMinutes = sum
		t.changed[id] = node
	}
	if node.PlannedStart != nil {
		end := node.PlannedStart.Add(time.Duration(sum) * time.Minute)
		if node.PlannedEnd == nil || !node.PlannedEnd.Equal(end) {
			node.PlannedEnd = &end
			t.changed[id] = node
		}
	}
	return sum
}
