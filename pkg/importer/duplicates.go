package importer

import (
	"KidSnaps_Manager/internal/models"
	"KidSnaps_Manager/pkg/database"
	"KidSnaps_Manager/pkg/hasher"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Strategy 为一条媒体记录计算等值键。键相同的记录视为重复。
// 第二个返回值为 false 表示该记录不适用此策略（如视频没有拍摄时间）。
type Strategy interface {
	Name() string
	Key(rec *models.MediaFile) (string, bool)
}

// DuplicateGroup 是共享同一等值键的一组记录，按上传时间降序排列。
// 头部元素是保留对象，其余是待删除对象。
type DuplicateGroup struct {
	Key     string             `json:"key"`
	Records []models.MediaFile `json:"records"`
}

// Keep 返回组内的保留对象。
func (g *DuplicateGroup) Keep() *models.MediaFile {
	return &g.Records[0]
}

// Losers 返回组内除保留对象外的全部记录。
func (g *DuplicateGroup) Losers() []models.MediaFile {
	return g.Records[1:]
}

// ByName 用 (原始文件名, 字节大小) 作为等值键。
// 不需要任何I/O，最快但误判风险最高，适合第一轮排查。
type ByName struct{}

func (ByName) Name() string { return "filename" }

func (ByName) Key(rec *models.MediaFile) (string, bool) {
	if rec.FileName == "" {
		return "", false
	}
	return fmt.Sprintf("%s|%d", rec.FileName, rec.FileSize), true
}

// ByCaptureTime 用 (拍摄时间, 字节大小) 作为等值键。
// 只适用于有拍摄时间的图片，对照片的区分度比文件名高。
type ByCaptureTime struct{}

func (ByCaptureTime) Name() string { return "exif" }

func (ByCaptureTime) Key(rec *models.MediaFile) (string, bool) {
	if rec.FileType != "image" || rec.TakenAt == nil {
		return "", false
	}
	return fmt.Sprintf("%d|%d", rec.TakenAt.Unix(), rec.FileSize), true
}

// ByContentHash 用文件内容哈希作为等值键，是权威策略。
//
// Recompute 为 true 时从磁盘字节重新计算哈希（清理前的权威模式），
// 为 false 时使用入库时已计算的哈希（快速探查模式）。
type ByContentHash struct {
	// Root 是媒体存储根目录，重新计算哈希时用来定位文件。
	Root string

	Recompute bool
}

func (ByContentHash) Name() string { return "hash" }

func (s ByContentHash) Key(rec *models.MediaFile) (string, bool) {
	if s.Recompute {
		hash, err := hasher.CalculateMD5(filepath.Join(s.Root, rec.FilePath))
		if err != nil {
			// 文件缺失或不可读的记录不参与分组，留给孤儿清理处理
			return "", false
		}
		return hash, true
	}
	if !hasher.IsValidMD5(rec.FileHash) {
		return "", false
	}
	return strings.ToLower(rec.FileHash), true
}

// GroupBy 用给定策略对记录分组，只返回含两条以上记录的组。
//
// 组内按上传时间降序，最新的记录保留；上传时间相同时按记录ID
// 升序决定保留者，保证对同一批输入的结果是确定的。
// 组之间按等值键升序排列。
func GroupBy(s Strategy, records []models.MediaFile) []DuplicateGroup {
	byKey := make(map[string][]models.MediaFile)
	for _, rec := range records {
		key, ok := s.Key(&rec)
		if !ok {
			continue
		}
		byKey[key] = append(byKey[key], rec)
	}

	groups := make([]DuplicateGroup, 0)
	for key, recs := range byKey {
		if len(recs) < 2 {
			continue
		}
		sort.Slice(recs, func(i, j int) bool {
			if !recs[i].UploadedAt.Equal(recs[j].UploadedAt) {
				return recs[i].UploadedAt.After(recs[j].UploadedAt)
			}
			return recs[i].ID.Hex() < recs[j].ID.Hex()
		})
		groups = append(groups, DuplicateGroup{Key: key, Records: recs})
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Key < groups[j].Key
	})
	return groups
}

// CheckOne 是交互式上传前的单文件重复预检。
// 返回内容哈希完全相同的全部已有记录（最新在前），调用方据此向
// 用户完整展示冲突，而不是悄悄丢弃文件。
func CheckOne(ctx context.Context, media database.MediaStore, hash string) ([]models.MediaFile, error) {
	if !hasher.IsValidMD5(hash) {
		return nil, fmt.Errorf("%w: %q 不是合法的内容哈希", ErrProtocol, hash)
	}
	return media.GetAllByFileHash(ctx, strings.ToLower(hash))
}
