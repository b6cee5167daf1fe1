package importer

import (
	"KidSnaps_Manager/config"
	"KidSnaps_Manager/internal/models"
	"KidSnaps_Manager/pkg/database"
	"KidSnaps_Manager/pkg/geocoder"
	"KidSnaps_Manager/pkg/thumbnailer"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Pipeline 把提取、关联、过滤、提交串成完整的ZIP导入流程。
type Pipeline struct {
	store     database.Store
	cfg       *config.ImporterConfig
	extractor *Extractor
	geo       *geocoder.Geocoder
}

// 预览响应内联缩略图的最大数量
const previewThumbCap = 8

// ZipPreview 是一次只读预览的汇总，重复调整过滤器重新预览开销很低。
type ZipPreview struct {
	MatchedCount     int          `json:"matchedCount"`
	FilteredOutCount int          `json:"filteredOutCount"`
	NoMetadataCount  int          `json:"noMetadataCount"`
	SkippedCount     int          `json:"skippedCount"`
	PeopleStats      []PersonStat `json:"peopleStats"`
	Matched          []Candidate  `json:"matched"`
	FilteredOut      []Candidate  `json:"filteredOut"`
	NoMetadata       []Candidate  `json:"noMetadata"`
}

// ImportOptions 描述一次ZIP导入。
type ImportOptions struct {
	ZipPath          string
	PeopleFilter     string
	AlbumTitle       string
	AlbumDescription string

	// OnProgress 报告提交阶段的进度，可以为nil。
	OnProgress func(processed, total int)
}

// ImportSummary 是一次ZIP导入的最终结果。
type ImportSummary struct {
	RunID            string       `json:"runId"`
	AlbumID          string       `json:"albumId"`
	MatchedCount     int          `json:"matchedCount"`
	FilteredOutCount int          `json:"filteredOutCount"`
	NoMetadataCount  int          `json:"noMetadataCount"`
	SkippedEntries   int          `json:"skippedEntries"`
	Imported         int          `json:"imported"`
	Skipped          int          `json:"skipped"`
	Failed           int          `json:"failed"`
	Items            []ItemResult `json:"items"`
}

// NewPipeline 创建导入流水线。
func NewPipeline(store database.Store, cfg *config.ImporterConfig, geo *geocoder.Geocoder) *Pipeline {
	return &Pipeline{
		store:     store,
		cfg:       cfg,
		extractor: NewExtractor(cfg),
		geo:       geo,
	}
}

// PreviewZip 解压并预览一个ZIP的导入结果，不写库也不保留提取产物。
func (p *Pipeline) PreviewZip(ctx context.Context, zipPath, peopleFilter string) (*ZipPreview, error) {
	stagingDir, err := os.MkdirTemp(p.cfg.ExtractDir, "preview_")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(stagingDir)

	extracted, err := p.extractor.Extract(ctx, zipPath, stagingDir)
	if err != nil {
		return nil, err
	}

	candidates := Correlate(extracted.MediaEntries, extracted.SidecarEntries)
	filtered := Filter(candidates, peopleFilter)

	// 匹配集的前几张图片生成内联缩略图，提取目录清掉之后预览依然可看
	inlined := 0
	for i := range filtered.Matched {
		if inlined >= previewThumbCap {
			break
		}
		cand := &filtered.Matched[i]
		if cand.FileType != "image" {
			continue
		}
		if b64, err := thumbnailer.CreateBase64FromFile(cand.StagedPath, 160, 160); err == nil {
			cand.Preview = b64
			inlined++
		}
	}

	return &ZipPreview{
		MatchedCount:     len(filtered.Matched),
		FilteredOutCount: len(filtered.FilteredOut),
		NoMetadataCount:  len(filtered.NoMetadata),
		SkippedCount:     extracted.SkippedCount,
		PeopleStats:      filtered.PeopleStats,
		Matched:          filtered.Matched,
		FilteredOut:      filtered.FilteredOut,
		NoMetadata:       filtered.NoMetadata,
	}, nil
}

// ImportZip 执行完整的ZIP导入：提取、关联、过滤、建相册、提交，
// 最后写入审计记录。返回的汇总包含逐条明细。
func (p *Pipeline) ImportZip(ctx context.Context, opts ImportOptions) (*ImportSummary, error) {
	runID := uuid.NewString()

	stagingDir, err := os.MkdirTemp(p.cfg.ExtractDir, "import_")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(stagingDir)

	// 1. 提取与关联
	extracted, err := p.extractor.Extract(ctx, opts.ZipPath, stagingDir)
	if err != nil {
		return nil, err
	}
	candidates := Correlate(extracted.MediaEntries, extracted.SidecarEntries)
	filtered := Filter(candidates, opts.PeopleFilter)

	// 2. 创建相册，标题默认取ZIP文件名
	title := opts.AlbumTitle
	if title == "" {
		base := filepath.Base(opts.ZipPath)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	album := &models.Album{Title: title, Description: opts.AlbumDescription}
	if err := p.store.Albums().Create(ctx, album); err != nil {
		return nil, fmt.Errorf("创建相册失败: %w", err)
	}

	// 3. 开启审计记录
	audit := &models.ImportAudit{
		RunID:     runID,
		Kind:      "bulk_import",
		StartedAt: time.Now(),
	}
	if err := p.store.Audits().Create(ctx, audit); err != nil {
		return nil, fmt.Errorf("创建审计记录失败: %w", err)
	}

	logPath, logFile, err := openAuditLog(p.cfg.AuditLogPath, "import", runID)
	if err != nil {
		slog.Warn("审计日志文件创建失败，继续导入", "error", err)
	}
	logLine := func(format string, args ...interface{}) {
		if logFile != nil {
			fmt.Fprintf(logFile, "[%s] %s\n", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
		}
	}
	logLine("导入开始 zip=%s 过滤器=%q 匹配=%d 被过滤=%d 无元数据=%d",
		filepath.Base(opts.ZipPath), opts.PeopleFilter,
		len(filtered.Matched), len(filtered.FilteredOut), len(filtered.NoMetadata))

	// 4. 提交匹配集
	committer := NewCommitter(p.store, p.cfg)
	committer.OnProgress = opts.OnProgress
	commitResult, err := committer.Commit(ctx, filtered.Matched, album.ID)
	if err != nil {
		logClose(logFile)
		return nil, err
	}

	for _, item := range commitResult.Items {
		logLine("%s %s %s", item.Status, item.FileName, item.Detail)
		audit.Actions = append(audit.Actions, models.AuditAction{
			MediaID:  item.MediaID,
			FileName: item.FileName,
			Action:   item.Status,
			Detail:   item.Detail,
		})
	}

	// 5. 刷新相册的媒体数量和封面
	p.refreshAlbumMetadata(ctx, album)

	// 6. 关闭审计记录
	audit.Processed = len(commitResult.Items)
	audit.Succeeded = commitResult.Imported
	audit.Skipped = commitResult.Skipped
	audit.Failed = commitResult.Failed
	audit.LogFile = logPath
	logLine("导入结束 成功=%d 跳过=%d 失败=%d", audit.Succeeded, audit.Skipped, audit.Failed)
	logClose(logFile)
	if err := p.store.Audits().Finish(ctx, audit); err != nil {
		slog.Warn("关闭审计记录失败", "runId", runID, "error", err)
	}

	return &ImportSummary{
		RunID:            runID,
		AlbumID:          album.ID.Hex(),
		MatchedCount:     len(filtered.Matched),
		FilteredOutCount: len(filtered.FilteredOut),
		NoMetadataCount:  len(filtered.NoMetadata),
		SkippedEntries:   extracted.SkippedCount,
		Imported:         commitResult.Imported,
		Skipped:          commitResult.Skipped,
		Failed:           commitResult.Failed,
		Items:            commitResult.Items,
	}, nil
}

// GeocodePending 为有坐标但没有地名的记录批量补齐地名。
// 地理编码服务自带速率限制，这里逐条串行处理，返回成功补齐的数量。
func (p *Pipeline) GeocodePending(ctx context.Context, limit int) (int, error) {
	if p.geo == nil || !p.geo.Enabled() {
		return 0, nil
	}

	pending, err := p.store.Media().FindPendingGeocoding(ctx, limit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, media := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		name := p.geo.ReverseGeocode(ctx, *media.Latitude, *media.Longitude)
		if name == "" {
			continue
		}
		if err := p.store.Media().UpdateLocationName(ctx, media.ID, name); err != nil {
			slog.Warn("更新位置名称失败", "mediaId", media.ID.Hex(), "error", err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// refreshAlbumMetadata 重算相册的媒体数量并选一张封面。
func (p *Pipeline) refreshAlbumMetadata(ctx context.Context, album *models.Album) {
	count, err := p.store.Media().CountByAlbumID(ctx, album.ID)
	if err != nil {
		slog.Warn("统计相册媒体数量失败", "albumId", album.ID.Hex(), "error", err)
		return
	}
	thumbnail := ""
	if first, err := p.store.Media().GetFirstByAlbumID(ctx, album.ID); err == nil && first != nil {
		thumbnail = first.ThumbnailPath
	}
	if err := p.store.Albums().UpdateMetadata(ctx, album.ID, int(count), thumbnail); err != nil {
		slog.Warn("更新相册元数据失败", "albumId", album.ID.Hex(), "error", err)
	}
}

// openAuditLog 创建一个本次运行专属的文本审计日志文件。
func openAuditLog(dir, kind, runID string) (string, *os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.log", kind, time.Now().Format("20060102_150405"), runID[:8]))
	f, err := os.Create(path)
	if err != nil {
		return "", nil, err
	}
	return path, f, nil
}

func logClose(f *os.File) {
	if f != nil {
		f.Close()
	}
}
