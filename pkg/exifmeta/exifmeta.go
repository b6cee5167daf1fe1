package exifmeta

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cozy/goexif2/exif"
	"github.com/cozy/goexif2/mknote"
)

func init() {
	// 注册厂商MakerNote解析器，提升对佳能/尼康等相机的兼容性
	exif.RegisterParsers(mknote.All...)
}

// Meta 是从图片EXIF中提取出的拍摄元数据。
// 任何字段都可能为零值，表示该字段在EXIF中不存在或无法解析。
type Meta struct {
	TakenAt     *time.Time
	Latitude    *float64
	Longitude   *float64
	CameraMake  string
	CameraModel string
	Software    string
	FocalLength string

	// Orientation 是EXIF原始方向值(1-8)，Rotation 是换算后的展示角度。
	Orientation int
	Rotation    int
}

// Extract 从 r 中解码EXIF并提取拍摄元数据。
// EXIF缺失或解码失败不算错误，返回空的 Meta；只有读取本身失败才返回错误。
func Extract(r io.Reader) (Meta, error) {
	var m Meta

	ex, err := exif.Decode(r)
	if err != nil {
		if exif.IsCriticalError(err) {
			// 没有EXIF段的PNG/GIF等会走到这里，按无元数据处理
			return m, nil
		}
	}
	if ex == nil {
		return m, nil
	}

	// 1. 拍摄时间
	if ts, err := ex.DateTime(); err == nil {
		m.TakenAt = &ts
	}

	// 2. GPS坐标，仅当纬度和经度同时有效时才采信
	if lat, lon, err := ex.LatLong(); err == nil {
		if lat != 0 || lon != 0 {
			m.Latitude = &lat
			m.Longitude = &lon
		}
	}

	// 3. 相机信息
	m.CameraMake = stringTag(ex, exif.Make)
	m.CameraModel = stringTag(ex, exif.Model)
	m.Software = stringTag(ex, exif.Software)

	// 4. 焦距，格式化为 "4.2mm" 这样的展示字符串
	if tag, err := ex.Get(exif.FocalLength); err == nil && tag != nil {
		if num, den, err := tag.Rat2(0); err == nil && den != 0 {
			m.FocalLength = fmt.Sprintf("%gmm", float64(num)/float64(den))
		}
	}

	// 5. 方向值换算为展示旋转角度
	if tag, err := ex.Get(exif.Orientation); err == nil && tag != nil {
		if v, err := tag.Int(0); err == nil {
			m.Orientation = v
			m.Rotation = OrientationToRotation(v)
		}
	}

	return m, nil
}

// ExtractFile 打开文件并提取EXIF元数据，是 Extract 的便捷封装。
func ExtractFile(path string) (Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return Meta{}, err
	}
	defer f.Close()
	return Extract(f)
}

// OrientationToRotation 把EXIF方向值(1-8)换算为顺时针展示旋转角度。
// 镜像类方向(2/4/5/7)不常见，按不旋转处理。
func OrientationToRotation(orientation int) int {
	switch orientation {
	case 3:
		return 180
	case 6:
		return 90
	case 8:
		return 270
	default:
		return 0
	}
}

func stringTag(ex *exif.Exif, name exif.FieldName) string {
	tag, err := ex.Get(name)
	if err != nil || tag == nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}
