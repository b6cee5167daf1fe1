package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Timestamps 结构体嵌入到其他模型中，用于追踪创建和更新时间。
type Timestamps struct {
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Album 代表一次导入产生的相册，对应MongoDB中的一个文档。
type Album struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	// Title 是相册标题，ZIP导入时默认取ZIP文件名。
	Title string `bson:"title" json:"title"`

	// Description 是相册的自由文本描述。
	Description string `bson:"description,omitempty" json:"description,omitempty"`

	// MediaCount 缓存了相册下的媒体数量，避免实时计数查询。
	MediaCount int `bson:"mediaCount" json:"mediaCount"`

	// Thumbnail 是相册封面缩略图的相对路径，取第一张成功导入的图片。
	Thumbnail string `bson:"thumbnail,omitempty" json:"thumbnail,omitempty"`

	Timestamps
}

// MediaFile 代表一个媒体文件（图片或视频），对应MongoDB中的一个文档。
// 字段划分遵循原始数据库 schema：文件实体信息、展示信息、拍摄元数据三部分。
type MediaFile struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	// AlbumID 指向所属 Album 文档的 _id，直接上传的文件可以为零值。
	AlbumID primitive.ObjectID `bson:"albumId,omitempty" json:"albumId,omitempty"`

	// FileName 是用户上传时的原始文件名。
	FileName string `bson:"fileName" json:"fileName"`

	// StoredFileName 是服务端生成的无冲突文件名（时间戳+uuid）。
	StoredFileName string `bson:"storedFileName" json:"storedFileName"`

	// FilePath 是文件相对于存储根目录的路径。
	FilePath string `bson:"filePath" json:"filePath"`

	// FileType 为 "image" 或 "video"。
	FileType string `bson:"fileType" json:"fileType"`

	MimeType string `bson:"mimeType" json:"mimeType"`
	FileSize int64  `bson:"fileSize" json:"fileSize"`

	// FileHash 是文件内容的MD5哈希（32位小写十六进制），用于精确的重复文件检测。
	// 必须由服务端从落盘后的字节计算，客户端上报的哈希只作为预检提示。
	FileHash string `bson:"fileHash" json:"fileHash"`

	// PerceptualHash 是图片的感知哈希，用于查找视觉上相似的图片。
	PerceptualHash string `bson:"perceptualHash,omitempty" json:"perceptualHash,omitempty"`

	// ThumbnailPath 是缩略图的相对路径，生成失败时为空。
	ThumbnailPath string `bson:"thumbnailPath,omitempty" json:"thumbnailPath,omitempty"`

	// Rotation 是展示用旋转角度，取值 0/90/180/270。
	Rotation int `bson:"rotation" json:"rotation"`

	Title       string `bson:"title,omitempty" json:"title,omitempty"`
	Description string `bson:"description,omitempty" json:"description,omitempty"`

	// 以下为拍摄元数据，来源是EXIF或Google Photos的JSON sidecar。
	// 任何一项都可能缺失，缺失即为零值。
	TakenAt          *time.Time `bson:"takenAt,omitempty" json:"takenAt,omitempty"`
	Latitude         *float64   `bson:"latitude,omitempty" json:"latitude,omitempty"`
	Longitude        *float64   `bson:"longitude,omitempty" json:"longitude,omitempty"`
	LocationName     string     `bson:"locationName,omitempty" json:"locationName,omitempty"`
	LocationAccuracy *float64   `bson:"locationAccuracy,omitempty" json:"locationAccuracy,omitempty"`
	CameraMake       string     `bson:"cameraMake,omitempty" json:"cameraMake,omitempty"`
	CameraModel      string     `bson:"cameraModel,omitempty" json:"cameraModel,omitempty"`
	Software         string     `bson:"software,omitempty" json:"software,omitempty"`
	FocalLength      string     `bson:"focalLength,omitempty" json:"focalLength,omitempty"`
	Orientation      int        `bson:"orientation,omitempty" json:"orientation,omitempty"`

	// People 是sidecar中标记的人物名列表（去重，大小写敏感）。
	People []string `bson:"people,omitempty" json:"people,omitempty"`

	// HasSidecarMetadata 标记该文件导入时是否带有JSON sidecar。
	HasSidecarMetadata bool `bson:"hasSidecarMetadata" json:"hasSidecarMetadata"`

	// UploadedAt 是文件入库时间，重复检测的保留判定以它为准。
	UploadedAt time.Time `bson:"uploadedAt" json:"uploadedAt"`

	Timestamps
}

// AuditAction 是审计条目中记录的单条决策。
type AuditAction struct {
	MediaID  primitive.ObjectID `bson:"mediaId" json:"mediaId"`
	FileName string             `bson:"fileName" json:"fileName"`
	Action   string             `bson:"action" json:"action"` // kept / deleted / failed / imported / skipped
	Detail   string             `bson:"detail,omitempty" json:"detail,omitempty"`
}

// ImportAudit 是一次批量导入或批量清理的审计记录，运行结束后只追加不修改。
type ImportAudit struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	// RunID 是本次运行的uuid，同时也是审计日志文件名的一部分。
	RunID string `bson:"runId" json:"runId"`

	// Kind 为 "bulk_import" 或 "bulk_clean"。
	Kind string `bson:"kind" json:"kind"`

	// Method 是清理时使用的重复检测方法（filename/exif/hash），导入时为空。
	Method string `bson:"method,omitempty" json:"method,omitempty"`

	DryRun bool `bson:"dryRun" json:"dryRun"`

	Processed int `bson:"processed" json:"processed"`
	Succeeded int `bson:"succeeded" json:"succeeded"`
	Skipped   int `bson:"skipped" json:"skipped"`
	Failed    int `bson:"failed" json:"failed"`

	// Actions 是逐条决策明细，批量清理时包含全部被删除的ID，供事后核查。
	Actions []AuditAction `bson:"actions,omitempty" json:"actions,omitempty"`

	// LogFile 是本次运行的文本审计日志路径。
	LogFile string `bson:"logFile,omitempty" json:"logFile,omitempty"`

	StartedAt  time.Time  `bson:"startedAt" json:"startedAt"`
	FinishedAt *time.Time `bson:"finishedAt,omitempty" json:"finishedAt,omitempty"`
}
