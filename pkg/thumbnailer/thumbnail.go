package thumbnailer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	// 匿名导入 image解码器
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
)

// GenerateFile 从源图片生成一张缩略图写入 destPath（JPEG格式）。
// 长边不超过 maxDimension，保持比例。写入采用临时文件+rename，
// 失败时不会留下半成品缩略图。
func GenerateFile(sourcePath, destPath string, maxDimension, quality int) error {
	img, err := imaging.Open(sourcePath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("打开源图片失败: %w", err)
	}

	thumb := imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("创建缩略图目录失败: %w", err)
	}

	tmpPath := destPath + ".part"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("创建缩略图临时文件失败: %w", err)
	}
	if err := imaging.Encode(f, thumb, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("保存缩略图失败: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// CreateBase64FromFile 从磁盘上的图片生成Base64编码的内联缩略图。
func CreateBase64FromFile(path string, width, height int) (string, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("打开源图片失败: %w", err)
	}
	return CreateBase64(img, width, height)
}

// CreateBase64 从已解码的图片生成Base64编码的内联缩略图，用于预览响应。
func CreateBase64(srcImage image.Image, width, height int) (string, error) {
	thumbImage := imaging.Thumbnail(srcImage, width, height, imaging.Lanczos)

	buf := new(bytes.Buffer)

	err := jpeg.Encode(buf, thumbImage, &jpeg.Options{Quality: 80})
	if err != nil {
		return "", err
	}

	encodedStr := base64.StdEncoding.EncodeToString(buf.Bytes())

	return "data:image/jpeg;base64," + encodedStr, nil
}
