package importer

import (
	"KidSnaps_Manager/config"
	"KidSnaps_Manager/internal/models"
	"KidSnaps_Manager/pkg/database"
	"KidSnaps_Manager/pkg/exifmeta"
	"KidSnaps_Manager/pkg/hasher"
	"KidSnaps_Manager/pkg/thumbnailer"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mozillazg/go-unidecode"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Committer 把匹配集中的候选文件逐个落库为持久媒体记录。
// 每个候选独立提交，单个候选失败不会中止整批。
type Committer struct {
	store database.Store
	cfg   *config.ImporterConfig

	// OnProgress 每处理完一个候选被调用一次，可以为nil。
	OnProgress func(processed, total int)
}

// ItemResult 是单个候选的提交结果。
type ItemResult struct {
	FileName string             `json:"fileName"`
	Status   string             `json:"status"` // imported / skipped / failed
	Detail   string             `json:"detail,omitempty"`
	MediaID  primitive.ObjectID `json:"mediaId,omitempty"`
}

// CommitResult 是整批提交的汇总。只要批次跑完就算成功，
// 部分失败通过计数和明细暴露给调用方。
type CommitResult struct {
	Imported int          `json:"imported"`
	Skipped  int          `json:"skipped"`
	Failed   int          `json:"failed"`
	Items    []ItemResult `json:"items"`
}

// NewCommitter 创建一个提交器。
func NewCommitter(store database.Store, cfg *config.ImporterConfig) *Committer {
	return &Committer{store: store, cfg: cfg}
}

// Commit 并发提交候选列表，albumID 可以为零值表示不归属相册。
// 取消只发生在候选之间，正在写入的候选会完整结束。
func (c *Committer) Commit(ctx context.Context, candidates []Candidate, albumID primitive.ObjectID) (*CommitResult, error) {
	workers := c.cfg.WorkerCount
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(candidates) && len(candidates) > 0 {
		workers = len(candidates)
	}

	jobs := make(chan Candidate, workers)
	results := make(chan ItemResult, len(candidates))
	claims := newHashClaims()
	var processed atomic.Int64

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := range jobs {
				results <- c.commitOne(ctx, cand, albumID, claims)
				done := int(processed.Add(1))
				if c.OnProgress != nil {
					c.OnProgress(done, len(candidates))
				}
			}
		}()
	}

	// 取消后不再派发新候选，已派发的正常跑完
	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}
		jobs <- cand
	}
	close(jobs)
	wg.Wait()
	close(results)

	result := &CommitResult{Items: make([]ItemResult, 0, len(candidates))}
	for item := range results {
		result.Items = append(result.Items, item)
		switch item.Status {
		case "imported":
			result.Imported++
		case "skipped":
			result.Skipped++
		default:
			result.Failed++
		}
	}
	return result, nil
}

// hashClaims 记录同一批次内已被某个worker占用的内容哈希。
// CheckOne 只能看到已落库的记录，批内并发的相同内容要靠它拦住。
type hashClaims struct {
	mu  sync.Mutex
	set map[string]bool
}

func newHashClaims() *hashClaims {
	return &hashClaims{set: make(map[string]bool)}
}

// claim 占用一个哈希，先到者得到true，后来者得到false。
func (h *hashClaims) claim(hash string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.set[hash] {
		return false
	}
	h.set[hash] = true
	return true
}

// release 归还占用，只在占用者最终没有落库成功时调用。
func (h *hashClaims) release(hash string) {
	h.mu.Lock()
	delete(h.set, hash)
	h.mu.Unlock()
}

// commitOne 提交单个候选。所有错误都被吸收为 failed 结果，
// 绝不向批次循环之外传播。
func (c *Committer) commitOne(ctx context.Context, cand Candidate, albumID primitive.ObjectID, claims *hashClaims) ItemResult {
	item := ItemResult{FileName: cand.BaseName, Status: "failed"}

	// 1. 生成无冲突的存储文件名
	storedName := generateStoredName(cand.BaseName)
	destPath := filepath.Join(c.cfg.UploadPath, storedName)

	// 2. 暂存文件复制进永久存储
	if err := copyFile(cand.StagedPath, destPath); err != nil {
		item.Detail = fmt.Sprintf("复制文件失败: %v", err)
		return item
	}

	// 3. 从落盘后的字节计算权威内容哈希
	fileHash, err := hasher.CalculateMD5(destPath)
	if err != nil {
		os.Remove(destPath)
		item.Detail = fmt.Sprintf("计算哈希失败: %v", err)
		return item
	}

	// 4. 占用批内哈希，并发worker遇到相同内容时只有先到者继续落库
	if !claims.claim(fileHash) {
		os.Remove(destPath)
		item.Status = "skipped"
		item.Detail = "同一批次中已有相同内容的候选"
		return item
	}

	// 5. 权威重复复查，命中则跳过并撤掉刚复制的文件
	existing, err := CheckOne(ctx, c.store.Media(), fileHash)
	if err != nil {
		os.Remove(destPath)
		claims.release(fileHash)
		item.Detail = fmt.Sprintf("重复检查失败: %v", err)
		return item
	}
	if len(existing) > 0 {
		os.Remove(destPath)
		item.Status = "skipped"
		item.MediaID = existing[0].ID
		item.Detail = fmt.Sprintf("内容与已有记录 %s 相同", existing[0].ID.Hex())
		return item
	}

	media := &models.MediaFile{
		AlbumID:            albumID,
		FileName:           cand.BaseName,
		StoredFileName:     storedName,
		FilePath:           storedName,
		FileType:           cand.FileType,
		MimeType:           cand.MimeType,
		FileSize:           cand.Size,
		FileHash:           fileHash,
		Title:              cand.Title,
		Description:        cand.Description,
		HasSidecarMetadata: cand.HasMetadata,
		People:             cand.People,
		UploadedAt:         time.Now(),
	}

	if cand.FileType == "image" {
		// 6. 缩略图生成失败只是警告，不算提交失败
		thumbName := "thumb_" + strings.TrimSuffix(storedName, filepath.Ext(storedName)) + ".jpg"
		thumbPath := filepath.Join(c.cfg.ThumbnailPath, thumbName)
		if err := thumbnailer.GenerateFile(destPath, thumbPath, c.cfg.ThumbnailMaxSize, c.cfg.ThumbnailQuality); err != nil {
			slog.Warn("缩略图生成失败", "file", cand.BaseName, "error", err)
		} else {
			media.ThumbnailPath = thumbName
		}

		// 7. 感知哈希同样是尽力而为
		if pHash, err := hasher.CalculatePerceptualHash(destPath); err == nil {
			media.PerceptualHash = pHash
		}

		// 8. EXIF与sidecar合并，sidecar优先
		if meta, err := exifmeta.ExtractFile(destPath); err == nil {
			mergeMetadata(media, &cand, &meta)
		} else {
			applyCandidateMetadata(media, &cand)
		}
	} else {
		applyCandidateMetadata(media, &cand)
	}

	// 9. 写入持久记录，失败则撤掉已落盘的文件并归还哈希占用
	if err := c.store.Media().Create(ctx, media); err != nil {
		os.Remove(destPath)
		if media.ThumbnailPath != "" {
			os.Remove(filepath.Join(c.cfg.ThumbnailPath, media.ThumbnailPath))
		}
		claims.release(fileHash)
		item.Detail = fmt.Sprintf("写入数据库失败: %v", err)
		return item
	}

	item.Status = "imported"
	item.MediaID = media.ID
	return item
}

// mergeMetadata 合并EXIF和sidecar元数据。两边都有的字段以sidecar为准，
// 导出服务的sidecar通常比嵌入式EXIF更新。
func mergeMetadata(media *models.MediaFile, cand *Candidate, exif *exifmeta.Meta) {
	media.TakenAt = exif.TakenAt
	media.Latitude = exif.Latitude
	media.Longitude = exif.Longitude
	media.CameraMake = exif.CameraMake
	media.CameraModel = exif.CameraModel
	media.Software = exif.Software
	media.FocalLength = exif.FocalLength
	media.Orientation = exif.Orientation
	media.Rotation = exif.Rotation

	applyCandidateMetadata(media, cand)
}

// applyCandidateMetadata 把sidecar来源的字段覆盖到记录上。
func applyCandidateMetadata(media *models.MediaFile, cand *Candidate) {
	if cand.TakenAt != nil {
		media.TakenAt = cand.TakenAt
	}
	if cand.Latitude != nil && cand.Longitude != nil {
		media.Latitude = cand.Latitude
		media.Longitude = cand.Longitude
		media.LocationAccuracy = cand.Accuracy
	}
}

// generateStoredName 生成 时间戳_随机段.扩展名 形式的存储文件名。
// 扩展名转写为ASCII小写，避免文件系统兼容问题。
func generateStoredName(originalName string) string {
	ext := strings.ToLower(unidecode.Unidecode(filepath.Ext(originalName)))
	if ext == "." || ext == "" {
		ext = ".bin"
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return time.Now().Format("20060102150405") + "_" + id + ext
}

// copyFile 复制文件内容到目标路径，临时名+rename保证不留半成品。
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmpPath := dst + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
