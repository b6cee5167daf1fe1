package config

import (
	"github.com/spf13/viper"
	"time"
)

type ImporterConfig struct {
	ChunkDir         string        `mapstructure:"chunkDir"`
	ExtractDir       string        `mapstructure:"extractDir"`
	UploadPath       string        `mapstructure:"uploadPath"`
	ThumbnailPath    string        `mapstructure:"thumbnailPath"`
	AuditLogPath     string        `mapstructure:"auditLogPath"`
	WorkerCount      int           `mapstructure:"workerCount"`
	MaxFileSize      int64         `mapstructure:"maxFileSize"`
	MaxZipSize       int64         `mapstructure:"maxZipSize"`
	MaxExtractedSize int64         `mapstructure:"maxExtractedSize"`
	ChunkRetention   time.Duration `mapstructure:"chunkRetention"`
	ThumbnailMaxSize int           `mapstructure:"thumbnailMaxSize"`
	ThumbnailQuality int           `mapstructure:"thumbnailQuality"`
	MediaExtensions  []string      `mapstructure:"mediaExtensions"`
	VideoExtensions  []string      `mapstructure:"videoExtensions"`
}

type GeocoderConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoint    string        `mapstructure:"endpoint"`
	UserAgent   string        `mapstructure:"userAgent"`
	MinInterval time.Duration `mapstructure:"minInterval"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type Config struct {
	Server struct {
		Port       string        `mapstructure:"port"`
		Timeout    time.Duration `mapstructure:"timeout"`
		AdminToken string        `mapstructure:"adminToken"`
	} `mapstructure:"server"`

	Database struct {
		URI  string `mapstructure:"uri"`
		Name string `mapstructure:"name"`
	} `mapstructure:"database"`

	Logger struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		Path   string `mapstructure:"path"`
	} `mapstructure:"logger"`

	Importer ImporterConfig `mapstructure:"importer"`
	Geocoder GeocoderConfig `mapstructure:"geocoder"`
}

var C *Config

// LoadConfig 从指定路径读取 config.yaml 并填充全局配置 C。
func LoadConfig(path string) (err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.timeout", 5*time.Minute)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")

	// 导入流水线的默认值，与原始部署环境保持一致
	v.SetDefault("importer.workerCount", 0)
	v.SetDefault("importer.maxFileSize", int64(500*1024*1024))
	v.SetDefault("importer.maxZipSize", int64(5*1024*1024*1024))
	v.SetDefault("importer.maxExtractedSize", int64(20*1024*1024*1024))
	v.SetDefault("importer.chunkRetention", 24*time.Hour)
	v.SetDefault("importer.thumbnailMaxSize", 400)
	v.SetDefault("importer.thumbnailQuality", 85)
	v.SetDefault("importer.mediaExtensions", []string{
		".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic", ".heif",
		".mp4", ".mov", ".avi", ".mpeg",
	})
	v.SetDefault("importer.videoExtensions", []string{".mp4", ".mov", ".avi", ".mpeg"})
	v.SetDefault("geocoder.endpoint", "https://nominatim.openstreetmap.org/reverse")
	v.SetDefault("geocoder.userAgent", "KidSnaps-GrowthAlbum/1.0 (Family Photo Album)")
	v.SetDefault("geocoder.minInterval", time.Second)
	v.SetDefault("geocoder.timeout", 5*time.Second)

	if err = v.ReadInConfig(); err != nil {
		return
	}

	err = v.Unmarshal(&C)
	return
}
