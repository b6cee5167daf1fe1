package mongo

import (
	"KidSnaps_Manager/config"
	"KidSnaps_Manager/internal/models"
	"KidSnaps_Manager/pkg/database"
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store 是 database.Store 接口的MongoDB实现。
type Store struct {
	db     *mongo.Database
	albums *albumStore
	media  *mediaStore
	audits *auditStore
}

// 确保 Store 实现了 database.Store 接口 (编译时检查)
var _ database.Store = (*Store)(nil)

// albumStore 封装了与 "albums" 集合相关的所有操作。
type albumStore struct {
	coll *mongo.Collection
}

// mediaStore 封装了与 "media_files" 集合相关的所有操作。
type mediaStore struct {
	coll *mongo.Collection
}

// auditStore 封装了与 "import_audits" 集合相关的所有操作。
type auditStore struct {
	coll *mongo.Collection
}

// NewStore 创建并返回一个新的 Store 实例，并建立与MongoDB的连接。
func NewStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	slog.Info("正在连接到 MongoDB...", "uri", cfg.Database.URI)
	clientCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOpts := options.Client().ApplyURI(cfg.Database.URI)
	client, err := mongo.Connect(clientCtx, clientOpts)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(clientCtx, nil); err != nil {
		return nil, err
	}
	slog.Info("MongoDB 连接成功")

	db := client.Database(cfg.Database.Name)

	store := &Store{
		db:     db,
		albums: &albumStore{coll: db.Collection("albums")},
		media:  &mediaStore{coll: db.Collection("media_files")},
		audits: &auditStore{coll: db.Collection("import_audits")},
	}
	return store, nil
}

func (s *Store) Albums() database.AlbumStore {
	return s.albums
}

func (s *Store) Media() database.MediaStore {
	return s.media
}

func (s *Store) Audits() database.AuditStore {
	return s.audits
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	slog.Info("正在确保数据库索引存在...")
	mediaIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "filePath", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_filepath_unique"),
		},
		{
			Keys:    bson.D{{Key: "fileHash", Value: 1}},
			Options: options.Index().SetName("idx_filehash"),
		},
		{
			Keys:    bson.D{{Key: "albumId", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_albumid_id"),
		},
		{
			Keys:    bson.D{{Key: "perceptualHash", Value: 1}},
			Options: options.Index().SetName("idx_phash"),
		},
		{
			Keys:    bson.D{{Key: "uploadedAt", Value: -1}},
			Options: options.Index().SetName("idx_uploadedat"),
		},
	}
	if _, err := s.media.coll.Indexes().CreateMany(ctx, mediaIndexes); err != nil {
		return err
	}

	auditIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "runId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_runid_unique"),
		},
		{
			Keys:    bson.D{{Key: "startedAt", Value: -1}},
			Options: options.Index().SetName("idx_startedat"),
		},
	}
	if _, err := s.audits.coll.Indexes().CreateMany(ctx, auditIndexes); err != nil {
		return err
	}
	return nil
}

func (s *Store) DropAllCollections(ctx context.Context) error {
	for _, coll := range []*mongo.Collection{s.albums.coll, s.media.coll, s.audits.coll} {
		if err := coll.Drop(ctx); err != nil {
			return err
		}
	}
	return nil
}

// --- AlbumStore 实现 ---

func (a *albumStore) Create(ctx context.Context, album *models.Album) error {
	now := time.Now()
	album.CreatedAt = now
	album.UpdatedAt = now
	if album.ID.IsZero() {
		album.ID = primitive.NewObjectID()
	}
	_, err := a.coll.InsertOne(ctx, album)
	return err
}

func (a *albumStore) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Album, error) {
	var album models.Album
	err := a.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&album)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &album, nil
}

func (a *albumStore) List(ctx context.Context, page, limit int) ([]models.Album, int64, error) {
	total, err := a.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cursor, err := a.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var albums []models.Album
	if err = cursor.All(ctx, &albums); err != nil {
		return nil, 0, err
	}
	return albums, total, nil
}

func (a *albumStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := a.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (a *albumStore) UpdateMetadata(ctx context.Context, albumID primitive.ObjectID, mediaCount int, thumbnail string) error {
	update := bson.M{"$set": bson.M{
		"mediaCount": mediaCount,
		"thumbnail":  thumbnail,
		"updatedAt":  time.Now(),
	}}
	_, err := a.coll.UpdateOne(ctx, bson.M{"_id": albumID}, update)
	return err
}

// --- MediaStore 实现 ---

func (m *mediaStore) Create(ctx context.Context, media *models.MediaFile) error {
	now := time.Now()
	media.CreatedAt = now
	media.UpdatedAt = now
	if media.UploadedAt.IsZero() {
		media.UploadedAt = now
	}
	if media.ID.IsZero() {
		media.ID = primitive.NewObjectID()
	}
	_, err := m.coll.InsertOne(ctx, media)
	return err
}

func (m *mediaStore) GetByID(ctx context.Context, id primitive.ObjectID) (*models.MediaFile, error) {
	var media models.MediaFile
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&media)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &media, nil
}

func (m *mediaStore) GetAllByFileHash(ctx context.Context, hash string) ([]models.MediaFile, error) {
	opts := options.Find().SetSort(bson.D{{Key: "uploadedAt", Value: -1}})
	cursor, err := m.coll.Find(ctx, bson.M{"fileHash": hash}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []models.MediaFile
	if err = cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *mediaStore) GetAll(ctx context.Context) ([]models.MediaFile, error) {
	cursor, err := m.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []models.MediaFile
	if err = cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *mediaStore) ListByAlbumID(ctx context.Context, albumID primitive.ObjectID, page, limit int) ([]models.MediaFile, int64, error) {
	filter := bson.M{"albumId": albumID}
	return m.list(ctx, filter, page, limit)
}

func (m *mediaStore) List(ctx context.Context, page, limit int) ([]models.MediaFile, int64, error) {
	return m.list(ctx, bson.M{}, page, limit)
}

func (m *mediaStore) list(ctx context.Context, filter bson.M, page, limit int) ([]models.MediaFile, int64, error) {
	total, err := m.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "uploadedAt", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var results []models.MediaFile
	if err = cursor.All(ctx, &results); err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (m *mediaStore) FindSimilarByPHash(ctx context.Context, pHash string, limit int) ([]models.MediaFile, error) {
	// 精确匹配同值pHash。汉明距离近邻查询需要应用层遍历，这里只做等值。
	opts := options.Find().SetLimit(int64(limit))
	cursor, err := m.coll.Find(ctx, bson.M{"perceptualHash": pHash}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []models.MediaFile
	if err = cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *mediaStore) FindPendingGeocoding(ctx context.Context, limit int) ([]models.MediaFile, error) {
	filter := bson.M{
		"latitude":  bson.M{"$ne": nil},
		"longitude": bson.M{"$ne": nil},
		"$or": []bson.M{
			{"locationName": bson.M{"$exists": false}},
			{"locationName": ""},
		},
	}
	opts := options.Find().SetLimit(int64(limit)).SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []models.MediaFile
	if err = cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *mediaStore) UpdateLocationName(ctx context.Context, id primitive.ObjectID, locationName string) error {
	update := bson.M{"$set": bson.M{
		"locationName": locationName,
		"updatedAt":    time.Now(),
	}}
	_, err := m.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

func (m *mediaStore) UpdateMetadata(ctx context.Context, id primitive.ObjectID, fields map[string]interface{}) error {
	set := bson.M{"updatedAt": time.Now()}
	for k, v := range fields {
		set[k] = v
	}
	_, err := m.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	return err
}

func (m *mediaStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := m.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (m *mediaStore) CountAll(ctx context.Context) (int64, error) {
	return m.coll.CountDocuments(ctx, bson.D{})
}

func (m *mediaStore) CountByAlbumID(ctx context.Context, albumID primitive.ObjectID) (int64, error) {
	return m.coll.CountDocuments(ctx, bson.M{"albumId": albumID})
}

func (m *mediaStore) GetFirstByAlbumID(ctx context.Context, albumID primitive.ObjectID) (*models.MediaFile, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})
	var media models.MediaFile
	err := m.coll.FindOne(ctx, bson.M{"albumId": albumID, "fileType": "image"}, opts).Decode(&media)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &media, nil
}

// --- AuditStore 实现 ---

func (a *auditStore) Create(ctx context.Context, audit *models.ImportAudit) error {
	if audit.ID.IsZero() {
		audit.ID = primitive.NewObjectID()
	}
	if audit.StartedAt.IsZero() {
		audit.StartedAt = time.Now()
	}
	_, err := a.coll.InsertOne(ctx, audit)
	return err
}

func (a *auditStore) Finish(ctx context.Context, audit *models.ImportAudit) error {
	now := time.Now()
	audit.FinishedAt = &now
	update := bson.M{"$set": bson.M{
		"processed":  audit.Processed,
		"succeeded":  audit.Succeeded,
		"skipped":    audit.Skipped,
		"failed":     audit.Failed,
		"actions":    audit.Actions,
		"logFile":    audit.LogFile,
		"finishedAt": audit.FinishedAt,
	}}
	_, err := a.coll.UpdateOne(ctx, bson.M{"_id": audit.ID}, update)
	return err
}

func (a *auditStore) GetByRunID(ctx context.Context, runID string) (*models.ImportAudit, error) {
	var audit models.ImportAudit
	err := a.coll.FindOne(ctx, bson.M{"runId": runID}).Decode(&audit)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &audit, nil
}

func (a *auditStore) List(ctx context.Context, page, limit int) ([]models.ImportAudit, int64, error) {
	total, err := a.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "startedAt", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cursor, err := a.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var audits []models.ImportAudit
	if err = cursor.All(ctx, &audits); err != nil {
		return nil, 0, err
	}
	return audits, total, nil
}
