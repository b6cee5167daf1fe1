// 文件: internal/api/routes.go
package api

import (
	"KidSnaps_Manager/config"
	"KidSnaps_Manager/internal/task"
	"KidSnaps_Manager/pkg/database"
	"KidSnaps_Manager/pkg/importer"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RegisterRoutes 注册所有API路由
func RegisterRoutes(tm *task.Manager, db database.Store, asm *importer.ChunkAssembler, p *importer.Pipeline) *chi.Mux {
	r := chi.NewRouter()

	// --- 中间件 (Middleware) ---
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// 配置CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	handlers := NewAPIHandlers(tm, db, asm, p)

	// --- API路由 ---
	r.Route("/api/v1", func(r chi.Router) {
		// 分块上传
		r.Post("/uploads/chunk", handlers.HandleUploadChunk)
		r.Post("/uploads/{identifier}/commit", handlers.HandleCommitUpload)
		r.Delete("/uploads/{identifier}", handlers.HandleAbortUpload)

		// ZIP导入
		r.Post("/imports/zip/preview", handlers.HandleZipPreview)
		r.Post("/imports/zip", handlers.HandleZipImport)

		// 后台任务
		r.Get("/tasks/{taskId}", handlers.HandleGetTaskStatus)
		r.Delete("/tasks/{taskId}", handlers.HandleCancelTask)

		// 重复检测与媒体
		r.Get("/media/check-duplicate", handlers.HandleCheckDuplicate)
		r.Get("/media", handlers.HandleListMedia)
		r.Post("/media/similar", handlers.HandleSearchSimilar)
		r.Get("/albums", handlers.HandleListAlbums)
		r.Get("/albums/{albumID}/media", handlers.HandleListMediaByAlbum)

		// 审计记录
		r.Get("/audits", handlers.HandleListAudits)
		r.Get("/audits/{runID}", handlers.HandleGetAudit)

		// 管理操作需要管理员口令
		r.Group(func(r chi.Router) {
			r.Use(adminOnly)
			r.Post("/cleanup", handlers.HandleBulkClean)
			r.Post("/geocode", handlers.HandleGeocode)
			r.Delete("/media/{mediaID}", handlers.HandleDeleteMedia)
			r.Patch("/media/{mediaID}", handlers.HandleUpdateMediaMetadata)
			r.Post("/media/{mediaID}/exif", handlers.HandleWriteExif)
			r.Get("/config", handlers.HandleGetConfig)
			r.Put("/config", handlers.HandleUpdateConfig)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}

// adminOnly 校验 X-Admin-Token 请求头。
// 未配置口令时视为本地私有部署，直接放行。
func adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := config.C.Server.AdminToken
		if token != "" && r.Header.Get("X-Admin-Token") != token {
			respondError(w, http.StatusForbidden, "需要管理员口令")
			return
		}
		next.ServeHTTP(w, r)
	})
}
