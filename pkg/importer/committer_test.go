package importer

import (
	"KidSnaps_Manager/config"
	"KidSnaps_Manager/pkg/database/memory"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testImporterConfig(t *testing.T) *config.ImporterConfig {
	t.Helper()
	base := t.TempDir()
	return &config.ImporterConfig{
		ChunkDir:         filepath.Join(base, "chunks"),
		ExtractDir:       base,
		UploadPath:       filepath.Join(base, "uploads"),
		ThumbnailPath:    filepath.Join(base, "thumbs"),
		AuditLogPath:     filepath.Join(base, "logs"),
		WorkerCount:      2,
		ThumbnailMaxSize: 400,
		ThumbnailQuality: 85,
		MediaExtensions:  []string{".jpg", ".jpeg", ".png", ".mp4", ".mov"},
		VideoExtensions:  []string{".mp4", ".mov"},
	}
}

func stagedCandidate(t *testing.T, dir, name, content string) Candidate {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return Candidate{MediaEntry: MediaEntry{
		NameInArchive: name,
		BaseName:      name,
		StagedPath:    path,
		Size:          int64(len(content)),
		FileType:      "video",
		MimeType:      "video/mp4",
	}}
}

func TestCommitPartialFailureDoesNotAbortBatch(t *testing.T) {
	cfg := testImporterConfig(t)
	store := memory.NewStore()
	staging := t.TempDir()
	ctx := context.Background()

	candidates := []Candidate{
		stagedCandidate(t, staging, "v1.mp4", "content one"),
		stagedCandidate(t, staging, "v2.mp4", "content two"),
		stagedCandidate(t, staging, "v3.mp4", "content three"),
		stagedCandidate(t, staging, "v4.mp4", "content four"),
	}
	// 第3个候选的暂存文件丢失，模拟磁盘故障
	os.Remove(candidates[2].StagedPath)

	committer := NewCommitter(store, cfg)
	result, err := committer.Commit(ctx, candidates, primitive.NilObjectID)
	if err != nil {
		t.Fatalf("批次本身不应失败: %v", err)
	}

	if result.Imported != 3 || result.Failed != 1 || result.Skipped != 0 {
		t.Fatalf("期望 imported=3 failed=1 skipped=0，实际 %d/%d/%d",
			result.Imported, result.Failed, result.Skipped)
	}
	if len(result.Items) != 4 {
		t.Fatalf("期望4条明细，实际 %d", len(result.Items))
	}

	// 成功的3条应已落库，失败的那条不应有记录
	count, err := store.Media().CountAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("期望3条持久记录，实际 %d", count)
	}
	for _, item := range result.Items {
		if item.FileName == "v3.mp4" && item.Status != "failed" {
			t.Fatalf("v3.mp4 应标记为failed，实际 %s", item.Status)
		}
	}
}

func TestCommitSkipsPreexistingContent(t *testing.T) {
	cfg := testImporterConfig(t)
	store := memory.NewStore()
	staging := t.TempDir()
	ctx := context.Background()

	first := []Candidate{stagedCandidate(t, staging, "dup.mp4", "same bytes")}
	committer := NewCommitter(store, cfg)
	if result, err := committer.Commit(ctx, first, primitive.NilObjectID); err != nil || result.Imported != 1 {
		t.Fatalf("首次导入失败: %v", err)
	}

	// 同样内容换个名字再导一次，应被权威复查跳过
	second := []Candidate{stagedCandidate(t, staging, "renamed.mp4", "same bytes")}
	result, err := committer.Commit(ctx, second, primitive.NilObjectID)
	if err != nil {
		t.Fatal(err)
	}
	if result.Skipped != 1 || result.Imported != 0 || result.Failed != 0 {
		t.Fatalf("期望 skipped=1，实际 imported=%d skipped=%d failed=%d",
			result.Imported, result.Skipped, result.Failed)
	}

	count, _ := store.Media().CountAll(ctx)
	if count != 1 {
		t.Fatalf("重复内容不应产生第二条记录，实际 %d 条", count)
	}

	// 跳过的候选不应在存储目录残留副本
	entries, err := os.ReadDir(cfg.UploadPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("存储目录应只有1个文件，实际 %d", len(entries))
	}
}

func TestCommitIdenticalCandidatesInOneBatch(t *testing.T) {
	cfg := testImporterConfig(t)
	cfg.WorkerCount = 8
	store := memory.NewStore()
	staging := t.TempDir()
	ctx := context.Background()

	// 8个名字不同、内容完全相同的候选，全并发提交
	candidates := make([]Candidate, 0, 8)
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("copy%d.mp4", i)
		candidates = append(candidates, stagedCandidate(t, staging, name, "identical payload"))
	}

	committer := NewCommitter(store, cfg)
	result, err := committer.Commit(ctx, candidates, primitive.NilObjectID)
	if err != nil {
		t.Fatal(err)
	}
	if result.Imported != 1 || result.Skipped != 7 || result.Failed != 0 {
		t.Fatalf("相同内容应只导入1份其余跳过，实际 imported=%d skipped=%d failed=%d",
			result.Imported, result.Skipped, result.Failed)
	}

	count, err := store.Media().CountAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("期望1条持久记录，实际 %d", count)
	}

	// 被跳过的候选不能在存储目录留下副本
	entries, err := os.ReadDir(cfg.UploadPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("存储目录应只有1个文件，实际 %d", len(entries))
	}
}

func TestCommitRecordsAuthoritativeHash(t *testing.T) {
	cfg := testImporterConfig(t)
	store := memory.NewStore()
	staging := t.TempDir()
	ctx := context.Background()

	cand := stagedCandidate(t, staging, "v.mp4", "payload")
	committer := NewCommitter(store, cfg)
	if _, err := committer.Commit(ctx, []Candidate{cand}, primitive.NilObjectID); err != nil {
		t.Fatal(err)
	}

	records, err := store.Media().GetAll(ctx)
	if err != nil || len(records) != 1 {
		t.Fatalf("期望1条记录: %v", err)
	}
	rec := records[0]
	if len(rec.FileHash) != 32 {
		t.Fatalf("内容哈希应为32位十六进制: %q", rec.FileHash)
	}
	if rec.StoredFileName == "" || rec.StoredFileName == "v.mp4" {
		t.Fatalf("存储文件名应是服务端生成的无冲突名: %q", rec.StoredFileName)
	}
	if _, err := os.Stat(filepath.Join(cfg.UploadPath, rec.FilePath)); err != nil {
		t.Fatalf("落盘文件缺失: %v", err)
	}
}
