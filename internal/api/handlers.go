// 文件: internal/api/handlers.go
package api

import (
	"KidSnaps_Manager/config"
	"KidSnaps_Manager/internal/task"
	"KidSnaps_Manager/pkg/cleaner"
	"KidSnaps_Manager/pkg/database"
	"KidSnaps_Manager/pkg/exifmeta"
	"KidSnaps_Manager/pkg/hasher"
	"KidSnaps_Manager/pkg/importer"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gopkg.in/yaml.v3"
)

// APIHandlers 持有所有依赖
type APIHandlers struct {
	taskManager *task.Manager
	db          database.Store
	assembler   *importer.ChunkAssembler
	pipeline    *importer.Pipeline
}

// NewAPIHandlers 创建一个新的API处理器实例
func NewAPIHandlers(tm *task.Manager, db database.Store, asm *importer.ChunkAssembler, p *importer.Pipeline) *APIHandlers {
	return &APIHandlers{
		taskManager: tm,
		db:          db,
		assembler:   asm,
		pipeline:    p,
	}
}

// --- 辅助函数 ---

// respondJSON 辅助函数，用于统一返回JSON响应
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError 辅助函数，用于统一返回错误信息
func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

// statusForError 把流水线的错误分类映射到HTTP状态码
func statusForError(err error) int {
	switch {
	case errors.Is(err, importer.ErrProtocol):
		return http.StatusBadRequest
	case errors.Is(err, importer.ErrCorruptArchive), errors.Is(err, importer.ErrArchiveTooLarge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, importer.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, cleaner.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, cleaner.ErrConfirmationRequired), errors.Is(err, cleaner.ErrUnknownMethod):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// --- 分块上传处理器 ---

// HandleUploadChunk 接收一个上传分块。全部分块到齐时返回 complete=true，
// 之后客户端用同一个identifier调用预览、导入或单文件提交接口。
func (h *APIHandlers) HandleUploadChunk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "无法解析表单: "+err.Error())
		return
	}

	identifier := r.FormValue("identifier")
	fileName := r.FormValue("fileName")
	index, err := strconv.Atoi(r.FormValue("index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "无效的 'index' 字段")
		return
	}
	total, err := strconv.Atoi(r.FormValue("total"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "无效的 'total' 字段")
		return
	}

	file, _, err := r.FormFile("chunk")
	if err != nil {
		respondError(w, http.StatusBadRequest, "获取分块数据失败: "+err.Error())
		return
	}
	defer file.Close()

	result, err := h.assembler.PutChunk(identifier, index, total, fileName, file)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// HandleAbortUpload 丢弃一个上传会话及其全部分块。
func (h *APIHandlers) HandleAbortUpload(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if err := h.assembler.Abort(identifier); err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

// HandleCommitUpload 把一个重组完成的单文件上传提交入库。
// 客户端可以先用 check-duplicate 预检，服务端在这里仍会做权威复查。
func (h *APIHandlers) HandleCommitUpload(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	assembledPath, err := h.findAssembledFile(identifier)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}

	info, err := os.Stat(assembledPath)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "读取文件信息失败: "+err.Error())
		return
	}

	ext := strings.ToLower(filepath.Ext(assembledPath))
	fileType := "image"
	for _, v := range config.C.Importer.VideoExtensions {
		if strings.EqualFold(v, ext) {
			fileType = "video"
			break
		}
	}

	cand := importer.Candidate{MediaEntry: importer.MediaEntry{
		NameInArchive: filepath.Base(assembledPath),
		BaseName:      filepath.Base(assembledPath),
		StagedPath:    assembledPath,
		Size:          info.Size(),
		FileType:      fileType,
		MimeType:      mime.TypeByExtension(ext),
	}}

	committer := importer.NewCommitter(h.db, &config.C.Importer)
	result, err := committer.Commit(r.Context(), []importer.Candidate{cand}, primitive.NilObjectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "提交失败: "+err.Error())
		return
	}

	// 提交完成后清掉上传会话目录
	if err := h.assembler.Abort(identifier); err != nil {
		slog.Warn("清理上传会话失败", "identifier", identifier, "error", err)
	}

	respondJSON(w, http.StatusOK, result)
}

// --- ZIP导入处理器 ---

// HandleZipPreview 对一个已重组的ZIP做只读预览，可反复调整过滤器重试。
func (h *APIHandlers) HandleZipPreview(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Identifier   string `json:"identifier"`
		PeopleFilter string `json:"peopleFilter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "无效的请求体: "+err.Error())
		return
	}

	zipPath, err := h.findAssembledFile(payload.Identifier)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}

	preview, err := h.pipeline.PreviewZip(r.Context(), zipPath, payload.PeopleFilter)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

// HandleZipImport 启动一个后台ZIP导入任务。
func (h *APIHandlers) HandleZipImport(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Identifier       string `json:"identifier"`
		PeopleFilter     string `json:"peopleFilter"`
		AlbumTitle       string `json:"albumTitle"`
		AlbumDescription string `json:"albumDescription"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "无效的请求体: "+err.Error())
		return
	}

	zipPath, err := h.findAssembledFile(payload.Identifier)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}

	taskID, err := h.taskManager.StartZipImport(importer.ImportOptions{
		ZipPath:          zipPath,
		PeopleFilter:     payload.PeopleFilter,
		AlbumTitle:       payload.AlbumTitle,
		AlbumDescription: payload.AlbumDescription,
	})
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}

// findAssembledFile 在上传会话目录中定位重组完成的文件。
func (h *APIHandlers) findAssembledFile(identifier string) (string, error) {
	if identifier == "" || identifier != filepath.Base(identifier) {
		return "", fmt.Errorf("%w: 标识符 %q 非法", importer.ErrProtocol, identifier)
	}
	dir := filepath.Join(config.C.Importer.ChunkDir, identifier)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", importer.ErrSessionNotFound
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "chunk_") || strings.HasSuffix(name, ".part") {
			continue
		}
		return filepath.Join(dir, name), nil
	}
	return "", fmt.Errorf("%w: 会话 %s 还没有重组完成的文件", importer.ErrSessionNotFound, identifier)
}

// --- 任务处理器 ---

func (h *APIHandlers) HandleGetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	status, err := h.taskManager.GetTaskStatus(taskID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *APIHandlers) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if err := h.taskManager.CancelTask(taskID); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// --- 重复检测处理器 ---

// HandleCheckDuplicate 上传前的单文件重复预检。
// 返回内容哈希相同的全部已有记录，最新在前，供用户决定是否继续上传。
func (h *APIHandlers) HandleCheckDuplicate(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	matches, err := importer.CheckOne(r.Context(), h.db.Media(), hash)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"isDuplicate": len(matches) > 0,
		"matches":     matches,
	})
}

// HandleBulkClean 启动一个后台批量清理任务。
// 非试运行必须显式带上 confirm=true，否则破坏性路径被阻断。
func (h *APIHandlers) HandleBulkClean(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Method      string `json:"method"`
		DryRun      bool   `json:"dryRun"`
		Confirm     bool   `json:"confirm"`
		SampleLimit int    `json:"sampleLimit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "无效的请求体: "+err.Error())
		return
	}

	opts := cleaner.Options{
		Method:      payload.Method,
		DryRun:      payload.DryRun,
		SampleLimit: payload.SampleLimit,
	}
	if !payload.DryRun {
		if !payload.Confirm {
			respondError(w, http.StatusBadRequest, cleaner.ErrConfirmationRequired.Error())
			return
		}
		opts.Confirm = func(*cleaner.Plan) bool { return true }
	}

	taskID, err := h.taskManager.StartBulkClean(opts)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}

// HandleGeocode 启动一个补齐位置名称的后台任务。
func (h *APIHandlers) HandleGeocode(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	taskID, err := h.taskManager.StartGeocode(limit)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}

// --- 相册与媒体处理器 ---

func (h *APIHandlers) HandleListAlbums(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	albums, total, err := h.db.Albums().List(r.Context(), page, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "无法获取相册列表: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, paginated(albums, page, limit, total))
}

func (h *APIHandlers) HandleListMediaByAlbum(w http.ResponseWriter, r *http.Request) {
	albumID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "albumID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "无效的相册ID")
		return
	}
	page, limit := pagination(r)
	media, total, err := h.db.Media().ListByAlbumID(r.Context(), albumID, page, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "无法获取媒体列表: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, paginated(media, page, limit, total))
}

func (h *APIHandlers) HandleListMedia(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	media, total, err := h.db.Media().List(r.Context(), page, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "无法获取媒体列表: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, paginated(media, page, limit, total))
}

// HandleSearchSimilar 上传一张图片，按感知哈希查找视觉相似的已有媒体。
func (h *APIHandlers) HandleSearchSimilar(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "无法解析表单: "+err.Error())
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "获取上传文件失败: "+err.Error())
		return
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "解码图片失败: "+err.Error())
		return
	}

	pHash := hasher.CalculatePerceptualHashFromImage(img)
	similar, err := h.db.Media().FindSimilarByPHash(r.Context(), pHash, 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "数据库查找失败: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, similar)
}

// HandleDeleteMedia 删除单条媒体记录及其文件和缩略图。
// 文件删除是尽力而为，数据库删除成功即视为删除成功。
func (h *APIHandlers) HandleDeleteMedia(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "mediaID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "无效的媒体ID")
		return
	}
	media, err := h.db.Media().GetByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "查询媒体记录失败: "+err.Error())
		return
	}
	if media == nil {
		respondError(w, http.StatusNotFound, "媒体记录不存在")
		return
	}

	if err := h.db.Media().Delete(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "删除媒体记录失败: "+err.Error())
		return
	}

	removeUnderRoot(config.C.Importer.UploadPath, media.FilePath)
	if media.ThumbnailPath != "" {
		removeUnderRoot(config.C.Importer.ThumbnailPath, media.ThumbnailPath)
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleUpdateMediaMetadata 更新单条媒体记录的展示元数据。
// 只修改请求体中出现的字段，未出现的字段保持原值。
func (h *APIHandlers) HandleUpdateMediaMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "mediaID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "无效的媒体ID")
		return
	}

	var payload struct {
		Rotation    *int       `json:"rotation"`
		Title       *string    `json:"title"`
		Description *string    `json:"description"`
		TakenAt     *time.Time `json:"takenAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "无效的请求体: "+err.Error())
		return
	}

	fields := map[string]interface{}{}
	if payload.Rotation != nil {
		switch *payload.Rotation {
		case 0, 90, 180, 270:
			fields["rotation"] = *payload.Rotation
		default:
			respondError(w, http.StatusBadRequest, "旋转角度只能是 0、90、180 或 270")
			return
		}
	}
	if payload.Title != nil {
		fields["title"] = *payload.Title
	}
	if payload.Description != nil {
		fields["description"] = *payload.Description
	}
	if payload.TakenAt != nil {
		fields["takenAt"] = *payload.TakenAt
	}
	if len(fields) == 0 {
		respondError(w, http.StatusBadRequest, "请求体中没有可更新的字段")
		return
	}

	media, err := h.db.Media().GetByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "查询媒体记录失败: "+err.Error())
		return
	}
	if media == nil {
		respondError(w, http.StatusNotFound, "媒体记录不存在")
		return
	}

	if err := h.db.Media().UpdateMetadata(r.Context(), id, fields); err != nil {
		respondError(w, http.StatusInternalServerError, "更新媒体记录失败: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// HandleWriteExif 把记录中的拍摄时间和GPS坐标回写到JPEG文件的EXIF段。
func (h *APIHandlers) HandleWriteExif(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "mediaID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "无效的媒体ID")
		return
	}

	var payload struct {
		TakenAt   *time.Time `json:"takenAt"`
		Latitude  *float64   `json:"latitude"`
		Longitude *float64   `json:"longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "无效的请求体: "+err.Error())
		return
	}

	media, err := h.db.Media().GetByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "查询媒体记录失败: "+err.Error())
		return
	}
	if media == nil {
		respondError(w, http.StatusNotFound, "媒体记录不存在")
		return
	}
	if media.MimeType != "image/jpeg" {
		respondError(w, http.StatusUnprocessableEntity, "只有JPEG格式支持EXIF回写")
		return
	}

	// 请求体没给的字段用记录中已有的值
	req := exifmeta.WriteRequest{
		TakenAt:   payload.TakenAt,
		Latitude:  payload.Latitude,
		Longitude: payload.Longitude,
	}
	if req.TakenAt == nil {
		req.TakenAt = media.TakenAt
	}
	if req.Latitude == nil || req.Longitude == nil {
		req.Latitude = media.Latitude
		req.Longitude = media.Longitude
	}

	filePath := filepath.Join(config.C.Importer.UploadPath, media.FilePath)
	if err := exifmeta.WriteJPEG(filePath, req); err != nil {
		respondError(w, http.StatusInternalServerError, "EXIF写入失败: "+err.Error())
		return
	}

	// 同步更新数据库记录和内容哈希，EXIF改写后文件字节已变化
	fields := map[string]interface{}{}
	if newHash, err := hasher.CalculateMD5(filePath); err == nil {
		fields["fileHash"] = newHash
	}
	if req.TakenAt != nil {
		fields["takenAt"] = *req.TakenAt
	}
	if req.Latitude != nil && req.Longitude != nil {
		fields["latitude"] = *req.Latitude
		fields["longitude"] = *req.Longitude
	}
	if err := h.db.Media().UpdateMetadata(r.Context(), id, fields); err != nil {
		respondError(w, http.StatusInternalServerError, "更新媒体记录失败: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "written"})
}

// --- 审计处理器 ---

func (h *APIHandlers) HandleListAudits(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	audits, total, err := h.db.Audits().List(r.Context(), page, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "无法获取审计列表: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, paginated(audits, page, limit, total))
}

func (h *APIHandlers) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	audit, err := h.db.Audits().GetByRunID(r.Context(), runID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "查询审计记录失败: "+err.Error())
		return
	}
	if audit == nil {
		respondError(w, http.StatusNotFound, "审计记录不存在")
		return
	}
	respondJSON(w, http.StatusOK, audit)
}

// --- 配置处理器 ---

// HandleGetConfig 获取当前应用配置
func (h *APIHandlers) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, config.C)
}

// HandleUpdateConfig 更新并保存应用配置
func (h *APIHandlers) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		respondError(w, http.StatusBadRequest, "无效的配置格式: "+err.Error())
		return
	}

	// 1. 将接收到的新配置数据序列化为YAML格式
	yamlData, err := yaml.Marshal(&newConfig)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "序列化配置为YAML失败: "+err.Error())
		return
	}

	// 2. 将YAML数据写入到 config.yaml 文件
	if err := os.WriteFile("config.yaml", yamlData, 0644); err != nil {
		respondError(w, http.StatusInternalServerError, "写入config.yaml文件失败: "+err.Error())
		return
	}

	// 3. 更新内存中的全局配置变量
	config.C = &newConfig

	respondJSON(w, http.StatusOK, config.C)
}

// --- 内部小工具 ---

func pagination(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	return page, limit
}

func paginated(data interface{}, page, limit int, total int64) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"pagination": map[string]interface{}{
			"currentPage": page,
			"totalPages":  int(math.Ceil(float64(total) / float64(limit))),
			"totalItems":  total,
		},
	}
}

// removeUnderRoot 在校验相对路径不越出根目录后删除文件。
func removeUnderRoot(root, rel string) {
	full := filepath.Join(root, rel)
	relCheck, err := filepath.Rel(root, full)
	if err != nil || strings.HasPrefix(relCheck, "..") {
		slog.Warn("拒绝删除根目录之外的路径", "path", rel)
		return
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		slog.Warn("删除文件失败", "path", rel, "error", err)
	}
}
