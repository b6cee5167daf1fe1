package cleaner

import (
	"KidSnaps_Manager/config"
	"KidSnaps_Manager/internal/models"
	"KidSnaps_Manager/pkg/database/memory"
	"KidSnaps_Manager/pkg/hasher"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testConfig(t *testing.T) *config.ImporterConfig {
	t.Helper()
	base := t.TempDir()
	cfg := &config.ImporterConfig{
		UploadPath:    filepath.Join(base, "uploads"),
		ThumbnailPath: filepath.Join(base, "thumbs"),
		AuditLogPath:  filepath.Join(base, "logs"),
	}
	for _, dir := range []string{cfg.UploadPath, cfg.ThumbnailPath, cfg.AuditLogPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

// seedDuplicatePair 写入两条内容相同、上传时间不同的记录及其文件。
func seedDuplicatePair(t *testing.T, store *memory.Store, cfg *config.ImporterConfig) (older, newer models.MediaFile) {
	t.Helper()
	ctx := context.Background()
	content := []byte("duplicate content")

	for i, name := range []string{"old.bin", "new.bin"} {
		path := filepath.Join(cfg.UploadPath, name)
		if err := os.WriteFile(path, content, 0644); err != nil {
			t.Fatal(err)
		}
		rec := models.MediaFile{
			ID:         primitive.NewObjectID(),
			FileName:   name,
			FilePath:   name,
			FileType:   "image",
			FileSize:   int64(len(content)),
			FileHash:   hasher.CalculateMD5FromBytes(content),
			UploadedAt: time.Date(2025, time.Month(1+i), 1, 0, 0, 0, 0, time.UTC),
		}
		if err := store.Media().Create(ctx, &rec); err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			older = rec
		} else {
			newer = rec
		}
	}
	return older, newer
}

func TestDryRunMutatesNothing(t *testing.T) {
	cfg := testConfig(t)
	store := memory.NewStore()
	older, newer := seedDuplicatePair(t, store, cfg)
	ctx := context.Background()

	c := New(store, cfg)
	result, err := c.Run(ctx, Options{Method: "hash", DryRun: true})
	if err != nil {
		t.Fatal(err)
	}

	// 计划指向较旧的那条
	if result.Plan.DeleteCount != 1 || result.Plan.KeepCount != 1 {
		t.Fatalf("期望1保留1删除，实际 keep=%d delete=%d", result.Plan.KeepCount, result.Plan.DeleteCount)
	}
	group := result.Plan.Groups[0]
	if group.Keep().ID != newer.ID || group.Losers()[0].ID != older.ID {
		t.Fatal("应保留较新记录，提议删除较旧记录")
	}

	// 库的行数和文件都原封不动
	count, _ := store.Media().CountAll(ctx)
	if count != 2 {
		t.Fatalf("试运行后记录数应仍为2，实际 %d", count)
	}
	for _, name := range []string{"old.bin", "new.bin"} {
		if _, err := os.Stat(filepath.Join(cfg.UploadPath, name)); err != nil {
			t.Fatalf("试运行不应删除文件 %s: %v", name, err)
		}
	}
	if result.State != StateDone {
		t.Fatalf("试运行应正常结束，实际状态 %s", result.State)
	}
}

func TestCommitDeletesOlderKeepsNewer(t *testing.T) {
	cfg := testConfig(t)
	store := memory.NewStore()
	older, newer := seedDuplicatePair(t, store, cfg)
	ctx := context.Background()

	c := New(store, cfg)
	result, err := c.Run(ctx, Options{
		Method:  "hash",
		Confirm: func(*Plan) bool { return true },
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Deleted != 1 || result.Failed != 0 {
		t.Fatalf("期望删除1条，实际 deleted=%d failed=%d", result.Deleted, result.Failed)
	}

	if rec, _ := store.Media().GetByID(ctx, older.ID); rec != nil {
		t.Fatal("较旧的记录应已被删除")
	}
	if rec, _ := store.Media().GetByID(ctx, newer.ID); rec == nil {
		t.Fatal("较新的记录应被保留")
	}
	if _, err := os.Stat(filepath.Join(cfg.UploadPath, "old.bin")); !os.IsNotExist(err) {
		t.Fatal("被删记录的文件应已从磁盘移除")
	}
	if _, err := os.Stat(filepath.Join(cfg.UploadPath, "new.bin")); err != nil {
		t.Fatal("保留记录的文件不应被动到")
	}

	// 运行日志落盘且内容可回查
	if result.LogFile == "" {
		t.Fatal("非试运行应产生日志文件")
	}
	if _, err := os.Stat(result.LogFile); err != nil {
		t.Fatalf("日志文件缺失: %v", err)
	}

	// 审计记录包含全部被删除的ID
	audit, err := store.Audits().GetByRunID(ctx, result.RunID)
	if err != nil || audit == nil {
		t.Fatal("应存在本次运行的审计记录")
	}
	foundDeleted := false
	for _, a := range audit.Actions {
		if a.Action == "deleted" && a.MediaID == older.ID {
			foundDeleted = true
		}
	}
	if !foundDeleted {
		t.Fatal("审计明细应包含被删除记录的ID")
	}
}

func TestDeclinedConfirmationCancelsAndDiscardsLog(t *testing.T) {
	cfg := testConfig(t)
	store := memory.NewStore()
	seedDuplicatePair(t, store, cfg)
	ctx := context.Background()

	c := New(store, cfg)
	result, err := c.Run(ctx, Options{
		Method:  "hash",
		Confirm: func(*Plan) bool { return false },
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.State != StateCancelled {
		t.Fatalf("拒绝确认应进入 cancelled 状态，实际 %s", result.State)
	}
	if result.Deleted != 0 {
		t.Fatal("取消的运行不应删除任何记录")
	}

	count, _ := store.Media().CountAll(ctx)
	if count != 2 {
		t.Fatalf("取消后记录数应不变，实际 %d", count)
	}

	// 取消的运行丢弃自己的日志文件
	entries, err := os.ReadDir(cfg.AuditLogPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("取消的运行不应留下日志文件，发现 %d 个", len(entries))
	}
}

func TestRunWithoutConfirmationIsBlocked(t *testing.T) {
	cfg := testConfig(t)
	store := memory.NewStore()
	seedDuplicatePair(t, store, cfg)

	c := New(store, cfg)
	_, err := c.Run(context.Background(), Options{Method: "hash"})
	if !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("缺少确认回调应返回 ErrConfirmationRequired，实际: %v", err)
	}

	count, _ := store.Media().CountAll(context.Background())
	if count != 2 {
		t.Fatal("被阻断的运行不应有任何状态变更")
	}
}

func TestRunRejectsUnknownMethod(t *testing.T) {
	c := New(memory.NewStore(), testConfig(t))
	_, err := c.Run(context.Background(), Options{Method: "fuzzy", DryRun: true})
	if !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("期望 ErrUnknownMethod，实际: %v", err)
	}
}

func TestSampleModeUsesStoredHashes(t *testing.T) {
	cfg := testConfig(t)
	store := memory.NewStore()
	ctx := context.Background()

	// 两条入库哈希相同但磁盘上没有文件的记录，探查模式不读磁盘也能分组
	hash := "0123456789abcdef0123456789abcdef"
	for i := 0; i < 2; i++ {
		rec := models.MediaFile{
			ID:         primitive.NewObjectID(),
			FileName:   "ghost.jpg",
			FilePath:   "ghost.jpg",
			FileType:   "image",
			FileHash:   hash,
			UploadedAt: time.Date(2025, time.Month(1+i), 1, 0, 0, 0, 0, time.UTC),
		}
		if err := store.Media().Create(ctx, &rec); err != nil {
			t.Fatal(err)
		}
	}

	c := New(store, cfg)
	result, err := c.Run(ctx, Options{Method: "hash", DryRun: true, SampleLimit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if result.Plan.DeleteCount != 1 {
		t.Fatalf("探查模式应依据入库哈希分组，期望1条待删除，实际 %d", result.Plan.DeleteCount)
	}
}
