package cleaner

import (
	"KidSnaps_Manager/config"
	"KidSnaps_Manager/internal/models"
	"KidSnaps_Manager/pkg/database"
	"KidSnaps_Manager/pkg/importer"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State 是批量清理的运行阶段。
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateReviewing  State = "reviewing"
	StateCommitting State = "committing"
	StateCancelled  State = "cancelled"
	StateDone       State = "done"
)

var (
	// ErrBusy 表示已有一个清理在运行，同一时间只允许一个。
	ErrBusy = errors.New("已有批量清理正在运行")

	// ErrConfirmationRequired 表示非试运行模式缺少确认回调，
	// 破坏性路径被完全阻断，没有任何状态变更。
	ErrConfirmationRequired = errors.New("删除操作需要明确确认")

	// ErrUnknownMethod 表示指定的重复检测方法不存在。
	ErrUnknownMethod = errors.New("未知的重复检测方法")
)

// Options 描述一次批量清理。
type Options struct {
	// Method 是重复检测方法：filename、exif 或 hash。
	Method string

	// DryRun 为 true 时只计算保留/删除划分，不做任何改动。
	DryRun bool

	// SampleLimit 大于0时只扫描最早的N条记录做探查，
	// 此时hash方法使用入库哈希而不重读文件。0表示权威全量扫描。
	SampleLimit int

	// Confirm 在删除开始前被调用一次，返回 false 取消整个运行。
	// 非试运行模式下必须提供。
	Confirm func(plan *Plan) bool
}

// Plan 是扫描产出的保留/删除划分，确认回调据此向用户展示将发生什么。
type Plan struct {
	Method      string                    `json:"method"`
	Scanned     int                       `json:"scanned"`
	Groups      []importer.DuplicateGroup `json:"groups"`
	KeepCount   int                       `json:"keepCount"`
	DeleteCount int                       `json:"deleteCount"`
	DeleteBytes int64                     `json:"deleteBytes"`
}

// Result 是一次清理运行的最终结果。
type Result struct {
	RunID   string `json:"runId"`
	State   State  `json:"state"`
	DryRun  bool   `json:"dryRun"`
	Plan    Plan   `json:"plan"`
	Deleted int    `json:"deleted"`
	Failed  int    `json:"failed"`
	LogFile string `json:"logFile,omitempty"`
}

// Cleaner 对现有全部媒体记录执行重复清理。
// 状态机：Idle -> Scanning -> Reviewing -> {Committing | Cancelled} -> Done。
type Cleaner struct {
	store database.Store
	cfg   *config.ImporterConfig

	mu    sync.Mutex
	state State
}

// New 创建一个批量清理器。
func New(store database.Store, cfg *config.ImporterConfig) *Cleaner {
	return &Cleaner{store: store, cfg: cfg, state: StateIdle}
}

// State 返回当前运行阶段。
func (c *Cleaner) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Cleaner) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run 执行一次批量清理。同一时间只允许一个运行。
// 取消只发生在记录之间，单条记录的删除要么完整发生要么不发生。
func (c *Cleaner) Run(ctx context.Context, opts Options) (*Result, error) {
	strategy, err := c.strategyFor(opts)
	if err != nil {
		return nil, err
	}
	if !opts.DryRun && opts.Confirm == nil {
		return nil, ErrConfirmationRequired
	}

	c.mu.Lock()
	if c.state != StateIdle && c.state != StateDone && c.state != StateCancelled {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.state = StateScanning
	c.mu.Unlock()
	defer func() {
		if s := c.State(); s != StateDone && s != StateCancelled {
			c.setState(StateIdle)
		}
	}()

	runID := uuid.NewString()
	result := &Result{RunID: runID, DryRun: opts.DryRun}

	// --- Scanning ---
	records, err := c.store.Media().GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if opts.SampleLimit > 0 && len(records) > opts.SampleLimit {
		records = records[:opts.SampleLimit]
	}
	groups := importer.GroupBy(strategy, records)

	// --- Reviewing ---
	c.setState(StateReviewing)
	plan := Plan{Method: strategy.Name(), Scanned: len(records), Groups: groups}
	for _, g := range groups {
		plan.KeepCount++
		for _, loser := range g.Losers() {
			plan.DeleteCount++
			plan.DeleteBytes += loser.FileSize
		}
	}
	result.Plan = plan

	// 试运行到此为止，写审计后结束，库和文件系统保持原样
	if opts.DryRun {
		c.writeAudit(ctx, runID, &plan, nil, true, "")
		c.setState(StateDone)
		result.State = StateDone
		return result, nil
	}

	// --- 确认关口 ---
	logPath, logFile, err := c.openRunLog(runID, &plan)
	if err != nil {
		slog.Warn("清理日志文件创建失败", "error", err)
	}

	if !opts.Confirm(&plan) {
		// 取消的运行丢弃进行中的日志文件
		if logFile != nil {
			logFile.Close()
			os.Remove(logPath)
		}
		c.setState(StateCancelled)
		result.State = StateCancelled
		return result, nil
	}

	// --- Committing ---
	c.setState(StateCommitting)
	logLine := func(format string, args ...interface{}) {
		if logFile != nil {
			fmt.Fprintf(logFile, "[%s] %s\n", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
		}
	}

	var actions []models.AuditAction
	for _, group := range groups {
		keep := group.Keep()
		logLine("保留 %s %s", keep.ID.Hex(), keep.FileName)
		actions = append(actions, models.AuditAction{
			MediaID: keep.ID, FileName: keep.FileName, Action: "kept",
		})

		for _, loser := range group.Losers() {
			// 记录之间检查取消标志，绝不打断进行中的删除
			if ctx.Err() != nil {
				logLine("运行被取消，剩余记录未处理")
				goto finish
			}

			action := models.AuditAction{MediaID: loser.ID, FileName: loser.FileName}
			if err := c.deleteRecord(ctx, &loser); err != nil {
				result.Failed++
				action.Action = "failed"
				action.Detail = err.Error()
				logLine("删除失败 %s %s: %v", loser.ID.Hex(), loser.FileName, err)
			} else {
				result.Deleted++
				action.Action = "deleted"
				logLine("已删除 %s %s", loser.ID.Hex(), loser.FileName)
			}
			actions = append(actions, action)
		}
	}

finish:
	logLine("清理结束 已删除=%d 失败=%d", result.Deleted, result.Failed)
	if logFile != nil {
		logFile.Close()
	}
	c.writeAudit(ctx, runID, &plan, actions, false, logPath)
	c.setState(StateDone)
	result.State = StateDone
	result.LogFile = logPath
	return result, nil
}

// strategyFor 把方法名解析为对应的检测策略。
func (c *Cleaner) strategyFor(opts Options) (importer.Strategy, error) {
	switch opts.Method {
	case "filename":
		return importer.ByName{}, nil
	case "exif":
		return importer.ByCaptureTime{}, nil
	case "hash":
		return importer.ByContentHash{
			Root:      c.cfg.UploadPath,
			Recompute: opts.SampleLimit == 0,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, opts.Method)
	}
}

// deleteRecord 删除一条记录：先删库，再尽力删除文件和缩略图。
// 缩略图删除失败只记警告，残留的缩略图文件是可接受的代价。
func (c *Cleaner) deleteRecord(ctx context.Context, rec *models.MediaFile) error {
	filePath, err := c.resolveUnderRoot(c.cfg.UploadPath, rec.FilePath)
	if err != nil {
		return err
	}

	if err := c.store.Media().Delete(ctx, rec.ID); err != nil {
		return fmt.Errorf("数据库删除失败: %w", err)
	}

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		slog.Warn("媒体文件删除失败", "mediaId", rec.ID.Hex(), "path", rec.FilePath, "error", err)
	}
	if rec.ThumbnailPath != "" {
		thumbPath, err := c.resolveUnderRoot(c.cfg.ThumbnailPath, rec.ThumbnailPath)
		if err == nil {
			if err := os.Remove(thumbPath); err != nil && !os.IsNotExist(err) {
				slog.Warn("缩略图删除失败", "mediaId", rec.ID.Hex(), "error", err)
			}
		}
	}
	return nil
}

// resolveUnderRoot 校验相对路径落在存储根目录之内，防止穿越删除。
func (c *Cleaner) resolveUnderRoot(root, rel string) (string, error) {
	full := filepath.Join(root, rel)
	relCheck, err := filepath.Rel(root, full)
	if err != nil || relCheck == ".." || strings.HasPrefix(relCheck, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("路径 %q 不在存储根目录内", rel)
	}
	return full, nil
}

// writeAudit 把本次运行写入持久审计记录。
func (c *Cleaner) writeAudit(ctx context.Context, runID string, plan *Plan, actions []models.AuditAction, dryRun bool, logPath string) {
	audit := &models.ImportAudit{
		RunID:     runID,
		Kind:      "bulk_clean",
		Method:    plan.Method,
		DryRun:    dryRun,
		StartedAt: time.Now(),
	}
	if err := c.store.Audits().Create(ctx, audit); err != nil {
		slog.Warn("创建清理审计记录失败", "runId", runID, "error", err)
		return
	}

	audit.Processed = plan.Scanned
	audit.Actions = actions
	audit.LogFile = logPath
	for _, a := range actions {
		switch a.Action {
		case "deleted":
			audit.Succeeded++
		case "failed":
			audit.Failed++
		case "kept":
			audit.Skipped++
		}
	}
	if err := c.store.Audits().Finish(ctx, audit); err != nil {
		slog.Warn("关闭清理审计记录失败", "runId", runID, "error", err)
	}
}

// openRunLog 创建本次运行专属的文本日志，并写入计划摘要。
func (c *Cleaner) openRunLog(runID string, plan *Plan) (string, *os.File, error) {
	if err := os.MkdirAll(c.cfg.AuditLogPath, 0755); err != nil {
		return "", nil, err
	}
	path := filepath.Join(c.cfg.AuditLogPath,
		fmt.Sprintf("clean_%s_%s.log", time.Now().Format("20060102_150405"), runID[:8]))
	f, err := os.Create(path)
	if err != nil {
		return "", nil, err
	}
	fmt.Fprintf(f, "[%s] 清理开始 方法=%s 扫描=%d 重复组=%d 待删除=%d (%d 字节)\n",
		time.Now().Format(time.RFC3339), plan.Method, plan.Scanned,
		len(plan.Groups), plan.DeleteCount, plan.DeleteBytes)
	return path, f, nil
}
