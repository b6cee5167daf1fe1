// Package memory 提供 database.Store 的纯内存实现。
// 用于单元测试和无MongoDB环境下的本地试用，语义与mongo实现保持一致。
package memory

import (
	"KidSnaps_Manager/internal/models"
	"KidSnaps_Manager/pkg/database"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store 是 database.Store 的内存实现。
type Store struct {
	mu     sync.RWMutex
	albums map[primitive.ObjectID]models.Album
	media  map[primitive.ObjectID]models.MediaFile
	audits map[primitive.ObjectID]models.ImportAudit
}

// 确保 Store 实现了 database.Store 接口 (编译时检查)
var _ database.Store = (*Store)(nil)

// NewStore 创建一个空的内存存储。
func NewStore() *Store {
	return &Store{
		albums: make(map[primitive.ObjectID]models.Album),
		media:  make(map[primitive.ObjectID]models.MediaFile),
		audits: make(map[primitive.ObjectID]models.ImportAudit),
	}
}

func (s *Store) Albums() database.AlbumStore { return &albumStore{s} }
func (s *Store) Media() database.MediaStore  { return &mediaStore{s} }
func (s *Store) Audits() database.AuditStore { return &auditStore{s} }

func (s *Store) EnsureIndexes(ctx context.Context) error { return nil }

func (s *Store) DropAllCollections(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.albums = make(map[primitive.ObjectID]models.Album)
	s.media = make(map[primitive.ObjectID]models.MediaFile)
	s.audits = make(map[primitive.ObjectID]models.ImportAudit)
	return nil
}

// --- AlbumStore ---

type albumStore struct{ s *Store }

func (a *albumStore) Create(ctx context.Context, album *models.Album) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	now := time.Now()
	album.CreatedAt = now
	album.UpdatedAt = now
	if album.ID.IsZero() {
		album.ID = primitive.NewObjectID()
	}
	a.s.albums[album.ID] = *album
	return nil
}

func (a *albumStore) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Album, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	album, ok := a.s.albums[id]
	if !ok {
		return nil, nil
	}
	return &album, nil
}

func (a *albumStore) List(ctx context.Context, page, limit int) ([]models.Album, int64, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	all := make([]models.Album, 0, len(a.s.albums))
	for _, album := range a.s.albums {
		all = append(all, album)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return pageOf(all, page, limit), int64(len(all)), nil
}

func (a *albumStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	delete(a.s.albums, id)
	return nil
}

func (a *albumStore) UpdateMetadata(ctx context.Context, albumID primitive.ObjectID, mediaCount int, thumbnail string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	album, ok := a.s.albums[albumID]
	if !ok {
		return nil
	}
	album.MediaCount = mediaCount
	album.Thumbnail = thumbnail
	album.UpdatedAt = time.Now()
	a.s.albums[albumID] = album
	return nil
}

// --- MediaStore ---

type mediaStore struct{ s *Store }

func (m *mediaStore) Create(ctx context.Context, media *models.MediaFile) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := time.Now()
	media.CreatedAt = now
	media.UpdatedAt = now
	if media.UploadedAt.IsZero() {
		media.UploadedAt = now
	}
	if media.ID.IsZero() {
		media.ID = primitive.NewObjectID()
	}
	m.s.media[media.ID] = *media
	return nil
}

func (m *mediaStore) GetByID(ctx context.Context, id primitive.ObjectID) (*models.MediaFile, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	media, ok := m.s.media[id]
	if !ok {
		return nil, nil
	}
	return &media, nil
}

func (m *mediaStore) GetAllByFileHash(ctx context.Context, hash string) ([]models.MediaFile, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var results []models.MediaFile
	for _, media := range m.s.media {
		if strings.EqualFold(media.FileHash, hash) {
			results = append(results, media)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].UploadedAt.After(results[j].UploadedAt) })
	return results, nil
}

func (m *mediaStore) GetAll(ctx context.Context) ([]models.MediaFile, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	all := make([]models.MediaFile, 0, len(m.s.media))
	for _, media := range m.s.media {
		all = append(all, media)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.Hex() < all[j].ID.Hex() })
	return all, nil
}

func (m *mediaStore) ListByAlbumID(ctx context.Context, albumID primitive.ObjectID, page, limit int) ([]models.MediaFile, int64, error) {
	return m.list(page, limit, func(media *models.MediaFile) bool { return media.AlbumID == albumID })
}

func (m *mediaStore) List(ctx context.Context, page, limit int) ([]models.MediaFile, int64, error) {
	return m.list(page, limit, func(*models.MediaFile) bool { return true })
}

func (m *mediaStore) list(page, limit int, match func(*models.MediaFile) bool) ([]models.MediaFile, int64, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var all []models.MediaFile
	for _, media := range m.s.media {
		if match(&media) {
			all = append(all, media)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UploadedAt.After(all[j].UploadedAt) })
	return pageOf(all, page, limit), int64(len(all)), nil
}

func (m *mediaStore) FindSimilarByPHash(ctx context.Context, pHash string, limit int) ([]models.MediaFile, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var results []models.MediaFile
	for _, media := range m.s.media {
		if media.PerceptualHash == pHash {
			results = append(results, media)
			if len(results) >= limit {
				break
			}
		}
	}
	return results, nil
}

func (m *mediaStore) FindPendingGeocoding(ctx context.Context, limit int) ([]models.MediaFile, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var results []models.MediaFile
	for _, media := range m.s.media {
		if media.Latitude != nil && media.Longitude != nil && media.LocationName == "" {
			results = append(results, media)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID.Hex() < results[j].ID.Hex() })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *mediaStore) UpdateLocationName(ctx context.Context, id primitive.ObjectID, locationName string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	media, ok := m.s.media[id]
	if !ok {
		return nil
	}
	media.LocationName = locationName
	media.UpdatedAt = time.Now()
	m.s.media[id] = media
	return nil
}

func (m *mediaStore) UpdateMetadata(ctx context.Context, id primitive.ObjectID, fields map[string]interface{}) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	media, ok := m.s.media[id]
	if !ok {
		return nil
	}
	for k, v := range fields {
		switch k {
		case "fileHash":
			if s, ok := v.(string); ok {
				media.FileHash = s
			}
		case "takenAt":
			if t, ok := v.(time.Time); ok {
				media.TakenAt = &t
			}
		case "latitude":
			if f, ok := v.(float64); ok {
				media.Latitude = &f
			}
		case "longitude":
			if f, ok := v.(float64); ok {
				media.Longitude = &f
			}
		case "rotation":
			if n, ok := v.(int); ok {
				media.Rotation = n
			}
		case "title":
			if s, ok := v.(string); ok {
				media.Title = s
			}
		case "description":
			if s, ok := v.(string); ok {
				media.Description = s
			}
		}
	}
	media.UpdatedAt = time.Now()
	m.s.media[id] = media
	return nil
}

func (m *mediaStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.media, id)
	return nil
}

func (m *mediaStore) CountAll(ctx context.Context) (int64, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return int64(len(m.s.media)), nil
}

func (m *mediaStore) CountByAlbumID(ctx context.Context, albumID primitive.ObjectID) (int64, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var count int64
	for _, media := range m.s.media {
		if media.AlbumID == albumID {
			count++
		}
	}
	return count, nil
}

func (m *mediaStore) GetFirstByAlbumID(ctx context.Context, albumID primitive.ObjectID) (*models.MediaFile, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var candidates []models.MediaFile
	for _, media := range m.s.media {
		if media.AlbumID == albumID && media.FileType == "image" {
			candidates = append(candidates, media)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID.Hex() < candidates[j].ID.Hex() })
	return &candidates[0], nil
}

// --- AuditStore ---

type auditStore struct{ s *Store }

func (a *auditStore) Create(ctx context.Context, audit *models.ImportAudit) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if audit.ID.IsZero() {
		audit.ID = primitive.NewObjectID()
	}
	if audit.StartedAt.IsZero() {
		audit.StartedAt = time.Now()
	}
	a.s.audits[audit.ID] = *audit
	return nil
}

func (a *auditStore) Finish(ctx context.Context, audit *models.ImportAudit) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	now := time.Now()
	audit.FinishedAt = &now
	a.s.audits[audit.ID] = *audit
	return nil
}

func (a *auditStore) GetByRunID(ctx context.Context, runID string) (*models.ImportAudit, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	for _, audit := range a.s.audits {
		if audit.RunID == runID {
			result := audit
			return &result, nil
		}
	}
	return nil, nil
}

func (a *auditStore) List(ctx context.Context, page, limit int) ([]models.ImportAudit, int64, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	all := make([]models.ImportAudit, 0, len(a.s.audits))
	for _, audit := range a.s.audits {
		all = append(all, audit)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	return pageOf(all, page, limit), int64(len(all)), nil
}

// pageOf 对已排序的切片做分页截取。
func pageOf[T any](all []T, page, limit int) []T {
	start := (page - 1) * limit
	if start >= len(all) {
		return []T{}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
