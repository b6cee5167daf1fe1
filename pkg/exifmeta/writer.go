package exifmeta

import (
	"fmt"
	"math"
	"os"
	"time"

	exifv3 "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
)

// exifTimeLayout 是EXIF日期时间字段的固定格式。
const exifTimeLayout = "2006:01:02 15:04:05"

// WriteRequest 描述一次EXIF回写要设置的字段，nil字段不改动。
type WriteRequest struct {
	TakenAt   *time.Time
	Latitude  *float64
	Longitude *float64
}

// WriteJPEG 把拍摄时间和GPS坐标回写到JPEG文件的EXIF段。
// 只支持JPEG，其他格式返回错误。写入采用临时文件+rename保证原子性。
func WriteJPEG(path string, req WriteRequest) error {
	if req.TakenAt == nil && (req.Latitude == nil || req.Longitude == nil) {
		return fmt.Errorf("没有可写入的EXIF字段")
	}

	jmp := jpegstructure.NewJpegMediaParser()
	intfc, err := jmp.ParseFile(path)
	if err != nil {
		return fmt.Errorf("解析JPEG结构失败: %w", err)
	}
	sl := intfc.(*jpegstructure.SegmentList)

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		return fmt.Errorf("构建EXIF builder失败: %w", err)
	}

	// 1. 拍摄时间写入 IFD/Exif 的 DateTimeOriginal 和 DateTimeDigitized
	if req.TakenAt != nil {
		ts := req.TakenAt.Format(exifTimeLayout)

		exifIb, err := exifv3.GetOrCreateIbFromRootIb(rootIb, "IFD/Exif")
		if err != nil {
			return err
		}
		if err := exifIb.SetStandardWithName("DateTimeOriginal", ts); err != nil {
			return err
		}
		if err := exifIb.SetStandardWithName("DateTimeDigitized", ts); err != nil {
			return err
		}

		rootIfdIb, err := exifv3.GetOrCreateIbFromRootIb(rootIb, "IFD")
		if err != nil {
			return err
		}
		if err := rootIfdIb.SetStandardWithName("DateTime", ts); err != nil {
			return err
		}
	}

	// 2. GPS坐标写入 IFD/GPSInfo，按度分秒有理数表示
	if req.Latitude != nil && req.Longitude != nil {
		gpsIb, err := exifv3.GetOrCreateIbFromRootIb(rootIb, "IFD/GPSInfo")
		if err != nil {
			return err
		}

		latRef := "N"
		if *req.Latitude < 0 {
			latRef = "S"
		}
		lonRef := "E"
		if *req.Longitude < 0 {
			lonRef = "W"
		}

		if err := gpsIb.SetStandardWithName("GPSLatitudeRef", latRef); err != nil {
			return err
		}
		if err := gpsIb.SetStandardWithName("GPSLatitude", degreesToRationals(*req.Latitude)); err != nil {
			return err
		}
		if err := gpsIb.SetStandardWithName("GPSLongitudeRef", lonRef); err != nil {
			return err
		}
		if err := gpsIb.SetStandardWithName("GPSLongitude", degreesToRationals(*req.Longitude)); err != nil {
			return err
		}
	}

	if err := sl.SetExif(rootIb); err != nil {
		return fmt.Errorf("更新EXIF段失败: %w", err)
	}

	tmpPath := path + ".part"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if err := sl.Write(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("写入JPEG失败: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// degreesToRationals 把十进制度数转换为度/分/秒三个有理数。
// 秒保留万分之一精度，足够表示厘米级位置。
func degreesToRationals(v float64) []exifcommon.Rational {
	v = math.Abs(v)
	deg := math.Floor(v)
	min := math.Floor((v - deg) * 60)
	sec := (v - deg - min/60) * 3600

	return []exifcommon.Rational{
		{Numerator: uint32(deg), Denominator: 1},
		{Numerator: uint32(min), Denominator: 1},
		{Numerator: uint32(math.Round(sec * 10000)), Denominator: 10000},
	}
}
