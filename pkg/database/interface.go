package database

import (
	"KidSnaps_Manager/internal/models"
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store 是一个顶层接口，它组合了所有特定数据模型的存储接口。
type Store interface {
	Albums() AlbumStore
	Media() MediaStore
	Audits() AuditStore
	EnsureIndexes(ctx context.Context) error
	DropAllCollections(ctx context.Context) error
}

// AlbumStore 定义了所有与 Album 模型相关的数据库操作。
type AlbumStore interface {
	Create(ctx context.Context, album *models.Album) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Album, error)
	List(ctx context.Context, page, limit int) ([]models.Album, int64, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	UpdateMetadata(ctx context.Context, albumID primitive.ObjectID, mediaCount int, thumbnail string) error
}

// MediaStore 定义了所有与 MediaFile 模型相关的数据库操作。
type MediaStore interface {
	Create(ctx context.Context, media *models.MediaFile) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.MediaFile, error)
	// GetAllByFileHash 返回内容哈希完全相同的所有记录，按 uploadedAt 降序。
	// 交互式重复预检和导入时的权威复查都走这条查询。
	GetAllByFileHash(ctx context.Context, hash string) ([]models.MediaFile, error)
	GetAll(ctx context.Context) ([]models.MediaFile, error)
	ListByAlbumID(ctx context.Context, albumID primitive.ObjectID, page, limit int) ([]models.MediaFile, int64, error)
	List(ctx context.Context, page, limit int) ([]models.MediaFile, int64, error)
	FindSimilarByPHash(ctx context.Context, pHash string, limit int) ([]models.MediaFile, error)
	// FindPendingGeocoding 返回有经纬度但还没有位置名称的记录。
	FindPendingGeocoding(ctx context.Context, limit int) ([]models.MediaFile, error)
	UpdateLocationName(ctx context.Context, id primitive.ObjectID, locationName string) error
	UpdateMetadata(ctx context.Context, id primitive.ObjectID, fields map[string]interface{}) error
	Delete(ctx context.Context, id primitive.ObjectID) error
	CountAll(ctx context.Context) (int64, error)
	CountByAlbumID(ctx context.Context, albumID primitive.ObjectID) (int64, error)
	GetFirstByAlbumID(ctx context.Context, albumID primitive.ObjectID) (*models.MediaFile, error)
}

// AuditStore 定义了审计记录的存储操作，审计记录只追加不修改。
type AuditStore interface {
	Create(ctx context.Context, audit *models.ImportAudit) error
	Finish(ctx context.Context, audit *models.ImportAudit) error
	GetByRunID(ctx context.Context, runID string) (*models.ImportAudit, error)
	List(ctx context.Context, page, limit int) ([]models.ImportAudit, int64, error)
}
