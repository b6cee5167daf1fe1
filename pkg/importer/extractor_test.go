package importer

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeTestZip 生成一个包含给定条目的ZIP文件，返回其路径。
func writeTestZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractClassifiesEntries(t *testing.T) {
	zipPath := writeTestZip(t, map[string]string{
		"Takeout/IMG_1.jpg":        "jpegbytes",
		"Takeout/IMG_1.jpg.json":   `{"title":"one"}`,
		"Takeout/clip.mp4":         "mp4bytes",
		"Takeout/notes.txt":        "ignore me",
		"__MACOSX/IMG_1.jpg":       "resource fork",
		"Takeout/.DS_Store":        "junk",
		"Takeout/._IMG_1.jpg":      "apple double",
		"Takeout/sub/IMG_2.heic":   "heicbytes",
	})

	cfg := testImporterConfig(t)
	cfg.MediaExtensions = append(cfg.MediaExtensions, ".heic")
	extractor := NewExtractor(cfg)

	result, err := extractor.Extract(context.Background(), zipPath, filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatalf("提取失败: %v", err)
	}

	if len(result.MediaEntries) != 3 {
		t.Fatalf("期望3个媒体条目，实际 %d", len(result.MediaEntries))
	}
	if len(result.SidecarEntries) != 1 {
		t.Fatalf("期望1个sidecar，实际 %d", len(result.SidecarEntries))
	}
	// notes.txt、__MACOSX、.DS_Store、._IMG_1.jpg 都被跳过计数
	if result.SkippedCount != 4 {
		t.Fatalf("期望跳过4个条目，实际 %d", result.SkippedCount)
	}

	for _, entry := range result.MediaEntries {
		if _, err := os.Stat(entry.StagedPath); err != nil {
			t.Fatalf("媒体条目 %s 未落盘: %v", entry.NameInArchive, err)
		}
		if filepath.Ext(entry.StagedPath) == ".part" {
			t.Fatalf("不应留下半成品文件: %s", entry.StagedPath)
		}
		switch entry.BaseName {
		case "clip.mp4":
			if entry.FileType != "video" {
				t.Fatalf("clip.mp4 应识别为视频，实际 %s", entry.FileType)
			}
		case "IMG_1.jpg", "IMG_2.heic":
			if entry.FileType != "image" {
				t.Fatalf("%s 应识别为图片，实际 %s", entry.BaseName, entry.FileType)
			}
		}
	}
}

func TestExtractAcceptsVideoOnlyExtension(t *testing.T) {
	zipPath := writeTestZip(t, map[string]string{
		"Takeout/clip.mkv": "mkvbytes",
	})

	// .mkv 只出现在视频扩展名列表里，不在通用媒体列表里
	cfg := testImporterConfig(t)
	cfg.VideoExtensions = append(cfg.VideoExtensions, ".mkv")
	extractor := NewExtractor(cfg)

	result, err := extractor.Extract(context.Background(), zipPath, filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatalf("提取失败: %v", err)
	}
	if len(result.MediaEntries) != 1 {
		t.Fatalf("只在视频列表配置的扩展名也应被提取，实际媒体条目 %d 个", len(result.MediaEntries))
	}
	if result.MediaEntries[0].FileType != "video" {
		t.Fatalf("clip.mkv 应识别为视频，实际 %s", result.MediaEntries[0].FileType)
	}
	if result.SkippedCount != 0 {
		t.Fatalf("不应有条目被跳过，实际 %d", result.SkippedCount)
	}
}

func TestExtractCorruptArchiveFailsWhole(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "broken.zip")
	if err := os.WriteFile(zipPath, []byte("this is not a zip file"), 0644); err != nil {
		t.Fatal(err)
	}

	destDir := filepath.Join(dir, "out")
	extractor := NewExtractor(testImporterConfig(t))
	_, err := extractor.Extract(context.Background(), zipPath, destDir)
	if !errors.Is(err, ErrCorruptArchive) {
		t.Fatalf("期望 ErrCorruptArchive，实际: %v", err)
	}
	// 失败的提取不留下部分产物
	if _, err := os.Stat(destDir); !os.IsNotExist(err) {
		t.Fatal("损坏压缩包的提取目录应被清空")
	}
}

func TestExtractRejectsOversizeZip(t *testing.T) {
	zipPath := writeTestZip(t, map[string]string{"a.jpg": "bytes"})

	cfg := testImporterConfig(t)
	cfg.MaxZipSize = 1
	extractor := NewExtractor(cfg)

	_, err := extractor.Extract(context.Background(), zipPath, filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, ErrArchiveTooLarge) {
		t.Fatalf("期望 ErrArchiveTooLarge，实际: %v", err)
	}
}

func TestExtractSkipsOversizeEntry(t *testing.T) {
	zipPath := writeTestZip(t, map[string]string{
		"small.jpg": "ok",
		"big.jpg":   "this entry is larger than the limit",
	})

	cfg := testImporterConfig(t)
	cfg.MaxFileSize = 10
	extractor := NewExtractor(cfg)

	result, err := extractor.Extract(context.Background(), zipPath, filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.MediaEntries) != 1 || result.MediaEntries[0].BaseName != "small.jpg" {
		t.Fatalf("超限条目应被跳过，实际媒体条目 %d 个", len(result.MediaEntries))
	}
	if result.SkippedCount != 1 {
		t.Fatalf("超限条目应计入跳过数，实际 %d", result.SkippedCount)
	}
}
