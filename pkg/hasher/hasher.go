package hasher

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	// 匿名导入 (blank import) image解码器
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/ajdnik/imghash"
	_ "golang.org/x/image/webp"
)

// CalculateMD5FromBytes 从字节切片计算MD5哈希（32位小写十六进制）。
func CalculateMD5FromBytes(data []byte) string {
	hashBytes := md5.Sum(data)
	return hex.EncodeToString(hashBytes[:])
}

// CalculateMD5 计算并返回一个文件的MD5哈希值。
// 内容哈希是重复检测的内容寻址键，必须从落盘字节计算。
func CalculateMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := md5.New()

	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsValidMD5 校验一个字符串是否是32位十六进制的MD5哈希。
// 客户端上报的预检哈希在使用前必须通过此校验。
func IsValidMD5(hash string) bool {
	if len(hash) != 32 {
		return false
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// CalculatePerceptualHashFromImage 从已解码的 image.Image 对象计算感知哈希
func CalculatePerceptualHashFromImage(img image.Image) string {
	phasher := imghash.NewPHash()
	pHash := phasher.Calculate(img)
	return fmt.Sprintf("%d", pHash)
}

// CalculatePerceptualHash 计算并返回一个图片的感知哈希(pHash)值。
func CalculatePerceptualHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return "", err
	}

	phasher := imghash.NewPHash()
	pHash := phasher.Calculate(img)

	return fmt.Sprintf("%d", pHash), nil
}
