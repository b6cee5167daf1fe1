package importer

import (
	"KidSnaps_Manager/config"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
)

// MediaEntry 是从压缩包中提取出的一个媒体文件。
type MediaEntry struct {
	// NameInArchive 是压缩包内的相对路径，sidecar匹配以它为键。
	NameInArchive string `json:"nameInArchive"`

	// BaseName 是不含目录的原始文件名。
	BaseName string `json:"baseName"`

	// StagedPath 是提取到暂存目录后的绝对路径。
	StagedPath string `json:"-"`

	Size     int64  `json:"size"`
	FileType string `json:"fileType"` // "image" 或 "video"
	MimeType string `json:"mimeType"`
}

// SidecarEntry 是压缩包中的一个JSON元数据文件，内容读入内存等待解析。
type SidecarEntry struct {
	NameInArchive string
	Data          []byte
}

// ExtractResult 是一次提取操作的完整产出。
type ExtractResult struct {
	MediaEntries   []MediaEntry
	SidecarEntries []SidecarEntry

	// SkippedCount 统计目录、系统文件和不支持的类型，只计数不报告。
	SkippedCount int
}

// Extractor 流式解压ZIP，把媒体文件落盘到暂存目录，
// JSON sidecar读入内存。整个过程不会把压缩包全量加载进内存。
type Extractor struct {
	mediaExts    map[string]bool
	videoExts    map[string]bool
	maxFileSize  int64
	maxTotalSize int64
	maxZipSize   int64
}

// sidecar文件最大1MB，正常的导出元数据远小于此
const maxSidecarSize = 1 * 1024 * 1024

// NewExtractor 根据导入配置创建提取器。
func NewExtractor(cfg *config.ImporterConfig) *Extractor {
	e := &Extractor{
		mediaExts:    make(map[string]bool),
		videoExts:    make(map[string]bool),
		maxFileSize:  cfg.MaxFileSize,
		maxTotalSize: cfg.MaxExtractedSize,
		maxZipSize:   cfg.MaxZipSize,
	}
	// 媒体集合是两份配置的并集，只写在videoExtensions里的扩展名同样算媒体
	for _, ext := range cfg.MediaExtensions {
		e.mediaExts[strings.ToLower(ext)] = true
	}
	for _, ext := range cfg.VideoExtensions {
		ext = strings.ToLower(ext)
		e.videoExts[ext] = true
		e.mediaExts[ext] = true
	}
	return e
}

// Extract 解压 zipPath 到 destDir。
// 压缩包损坏时整个操作失败并清空 destDir，不返回部分候选集。
func (e *Extractor) Extract(ctx context.Context, zipPath, destDir string) (*ExtractResult, error) {
	info, err := os.Stat(zipPath)
	if err != nil {
		return nil, err
	}
	if e.maxZipSize > 0 && info.Size() > e.maxZipSize {
		return nil, fmt.Errorf("%w: 压缩包 %d 字节超过上限 %d", ErrArchiveTooLarge, info.Size(), e.maxZipSize)
	}

	f, err := os.Open(zipPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, err
	}

	result := &ExtractResult{}
	var totalExtracted int64

	handler := func(ctx context.Context, fi archives.FileInfo) error {
		// 1. 跳过目录、系统文件和隐藏文件
		if fi.IsDir() || isJunkEntry(fi.NameInArchive) {
			result.SkippedCount++
			return nil
		}

		ext := strings.ToLower(path.Ext(fi.NameInArchive))

		// 2. JSON sidecar读入内存
		if ext == ".json" {
			if fi.Size() > maxSidecarSize {
				result.SkippedCount++
				return nil
			}
			rc, err := fi.Open()
			if err != nil {
				return fmt.Errorf("打开条目 %s 失败: %w", fi.NameInArchive, err)
			}
			defer rc.Close()
			data, err := io.ReadAll(io.LimitReader(rc, maxSidecarSize))
			if err != nil {
				return fmt.Errorf("读取条目 %s 失败: %w", fi.NameInArchive, err)
			}
			result.SidecarEntries = append(result.SidecarEntries, SidecarEntry{
				NameInArchive: fi.NameInArchive,
				Data:          data,
			})
			return nil
		}

		// 3. 不支持的类型只计数
		if !e.mediaExts[ext] {
			result.SkippedCount++
			return nil
		}

		// 4. 大小防线：单文件上限和解压总量上限
		if e.maxFileSize > 0 && fi.Size() > e.maxFileSize {
			slog.Warn("压缩包条目超过单文件上限，跳过", "entry", fi.NameInArchive, "size", fi.Size())
			result.SkippedCount++
			return nil
		}
		if e.maxTotalSize > 0 && totalExtracted+fi.Size() > e.maxTotalSize {
			return fmt.Errorf("%w: 解压总量超过上限 %d", ErrArchiveTooLarge, e.maxTotalSize)
		}

		// 5. 落盘到暂存目录，临时名+rename保证条目级原子性
		stagedPath, written, err := e.extractEntry(fi, destDir)
		if err != nil {
			return err
		}
		totalExtracted += written

		fileType := "image"
		if e.videoExts[ext] {
			fileType = "video"
		}
		result.MediaEntries = append(result.MediaEntries, MediaEntry{
			NameInArchive: fi.NameInArchive,
			BaseName:      path.Base(fi.NameInArchive),
			StagedPath:    stagedPath,
			Size:          written,
			FileType:      fileType,
			MimeType:      mimeTypeByExt(ext),
		})
		return nil
	}

	if err := (archives.Zip{}).Extract(ctx, f, handler); err != nil {
		os.RemoveAll(destDir)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	return result, nil
}

// extractEntry 把单个压缩包条目写入暂存目录，返回落盘路径和写入字节数。
func (e *Extractor) extractEntry(fi archives.FileInfo, destDir string) (string, int64, error) {
	relPath := sanitizeArchivePath(fi.NameInArchive)
	if relPath == "" {
		return "", 0, fmt.Errorf("%w: 条目路径 %q 非法", ErrCorruptArchive, fi.NameInArchive)
	}

	destPath := filepath.Join(destDir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", 0, err
	}

	rc, err := fi.Open()
	if err != nil {
		return "", 0, fmt.Errorf("打开条目 %s 失败: %w", fi.NameInArchive, err)
	}
	defer rc.Close()

	tmpPath := destPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, err
	}
	written, err := io.Copy(out, rc)
	if err != nil {
		out.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("提取条目 %s 失败: %w", fi.NameInArchive, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, err
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, err
	}
	return destPath, written, nil
}

// isJunkEntry 判断条目是否是macOS打包残留或隐藏文件。
func isJunkEntry(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") || strings.Contains(name, "/__MACOSX/") {
		return true
	}
	base := path.Base(name)
	return base == ".DS_Store" || strings.HasPrefix(base, "._") || strings.HasPrefix(base, ".")
}

// sanitizeArchivePath 清理压缩包内的相对路径，剥除绝对前缀和目录穿越。
// 无法安全表示的路径返回空串。
func sanitizeArchivePath(name string) string {
	cleaned := path.Clean("/" + name)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return ""
	}
	return cleaned
}

// mimeTypeByExt 由扩展名推断MIME类型，标准库不认识的类型用内置表兜底。
func mimeTypeByExt(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	switch ext {
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mpeg":
		return "video/mpeg"
	default:
		return "application/octet-stream"
	}
}
