package task

import (
	"KidSnaps_Manager/pkg/cleaner"
	"KidSnaps_Manager/pkg/importer"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus 定义了任务可能的状态。
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Task 结构体代表一个具体的后台任务。
// Processed/Total 是任务自报的条目进度，Result 在完成后可用。
type Task struct {
	ID        string      `json:"id"`
	Kind      string      `json:"kind"` // zip_import / bulk_clean / geocode
	Status    TaskStatus  `json:"status"`
	Processed int         `json:"processed"`
	Total     int         `json:"total"`
	Error     string      `json:"error,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	StartTime time.Time   `json:"startTime"`
	EndTime   *time.Time  `json:"endTime,omitempty"`

	cancel context.CancelFunc
}

// Manager 结构体是任务管理器，同一时间只允许一个任务在运行，
// 避免导入和清理并发操作同一批文件。
type Manager struct {
	tasks map[string]*Task
	mu    sync.RWMutex

	pipeline *importer.Pipeline
	cleaner  *cleaner.Cleaner
}

// NewManager 创建并返回一个新的任务管理器实例。
func NewManager(p *importer.Pipeline, c *cleaner.Cleaner) *Manager {
	return &Manager{
		tasks:    make(map[string]*Task),
		pipeline: p,
		cleaner:  c,
	}
}

// StartZipImport 创建一个ZIP导入任务并立即在后台启动。
func (m *Manager) StartZipImport(opts importer.ImportOptions) (string, error) {
	return m.start("zip_import", func(ctx context.Context, t *Task) (interface{}, error) {
		opts.OnProgress = func(processed, total int) {
			m.mu.Lock()
			t.Processed = processed
			t.Total = total
			m.mu.Unlock()
		}
		return m.pipeline.ImportZip(ctx, opts)
	})
}

// StartBulkClean 创建一个批量清理任务并立即在后台启动。
// API触发的清理不经过交互确认，调用方必须先用试运行核对过计划。
func (m *Manager) StartBulkClean(opts cleaner.Options) (string, error) {
	return m.start("bulk_clean", func(ctx context.Context, t *Task) (interface{}, error) {
		return m.cleaner.Run(ctx, opts)
	})
}

// StartGeocode 创建一个补齐位置名称的任务并立即在后台启动。
func (m *Manager) StartGeocode(limit int) (string, error) {
	return m.start("geocode", func(ctx context.Context, t *Task) (interface{}, error) {
		resolved, err := m.pipeline.GeocodePending(ctx, limit)
		return map[string]int{"resolved": resolved}, err
	})
}

// GetTaskStatus 根据任务ID检索特定任务的当前状态。
func (m *Manager) GetTaskStatus(taskID string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, exists := m.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("找不到任务ID: %s", taskID)
	}
	return task, nil
}

// CancelTask 协作式取消一个正在运行的任务。
// 任务在条目之间检查取消标志，进行中的写入会完整结束。
func (m *Manager) CancelTask(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, exists := m.tasks[taskID]
	if !exists {
		return fmt.Errorf("找不到任务ID: %s", taskID)
	}
	if task.Status != StatusRunning && task.Status != StatusPending {
		return fmt.Errorf("任务 %s 已结束，无法取消", taskID)
	}
	task.cancel()
	return nil
}

// start 登记一个新任务并在后台协程中执行。
func (m *Manager) start(kind string, run func(ctx context.Context, t *Task) (interface{}, error)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, task := range m.tasks {
		if task.Status == StatusRunning || task.Status == StatusPending {
			return "", fmt.Errorf("另一个任务正在进行中 (ID: %s)，请等待其完成后再试", task.ID)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	newTask := &Task{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    StatusPending,
		StartTime: time.Now(),
		cancel:    cancel,
	}
	m.tasks[newTask.ID] = newTask

	go m.execute(ctx, newTask, run)

	return newTask.ID, nil
}

// execute 是任务的实际执行体，错误和取消都收敛为任务终态。
func (m *Manager) execute(ctx context.Context, task *Task, run func(ctx context.Context, t *Task) (interface{}, error)) {
	defer task.cancel()

	m.mu.Lock()
	task.Status = StatusRunning
	m.mu.Unlock()

	result, err := run(ctx, task)

	m.mu.Lock()
	defer m.mu.Unlock()

	endTime := time.Now()
	task.EndTime = &endTime
	task.Result = result

	switch {
	case ctx.Err() != nil:
		task.Status = StatusCancelled
	case err != nil:
		task.Status = StatusFailed
		task.Error = err.Error()
	default:
		task.Status = StatusCompleted
	}
}
