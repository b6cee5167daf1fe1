// 文件: cmd/manager-server/main.go
package main

import (
	"KidSnaps_Manager/config"
	"KidSnaps_Manager/internal/api"
	"KidSnaps_Manager/internal/task"
	"KidSnaps_Manager/pkg/cleaner"
	"KidSnaps_Manager/pkg/database"
	"KidSnaps_Manager/pkg/database/mongo"
	"KidSnaps_Manager/pkg/geocoder"
	"KidSnaps_Manager/pkg/importer"
	"KidSnaps_Manager/pkg/logger"
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"
)

func main() {
	// --- 1. 初始化 ---
	if err := config.LoadConfig("."); err != nil {
		log.Fatalf("FATAL: 无法加载配置: %v", err)
	}
	if err := logger.InitLogger(); err != nil {
		log.Fatalf("FATAL: 无法初始化日志: %v", err)
	}
	slog.Info("应用启动")
	defer slog.Info("应用关闭")

	// --- 2. 连接数据库 ---
	var db database.Store
	var err error
	db, err = mongo.NewStore(context.Background(), config.C)
	if err != nil {
		slog.Error("FATAL: 无法连接到数据库", "error", err)
		os.Exit(1)
	}
	if err := db.EnsureIndexes(context.Background()); err != nil {
		slog.Error("FATAL: 无法创建/验证数据库索引", "error", err)
		os.Exit(1)
	}
	slog.Info("数据库连接成功并已验证索引")

	// --- 3. 创建核心服务实例 ---
	assembler := importer.NewChunkAssembler(config.C.Importer.ChunkDir)
	geo := geocoder.New(&config.C.Geocoder)
	pipeline := importer.NewPipeline(db, &config.C.Importer, geo)
	bulkCleaner := cleaner.New(db, &config.C.Importer)
	slog.Info("导入流水线创建成功")

	taskManager := task.NewManager(pipeline, bulkCleaner)
	slog.Info("任务管理器创建成功")

	// 过期分块会话的后台回收
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if removed := assembler.CollectStale(config.C.Importer.ChunkRetention); removed > 0 {
				slog.Info("已清理过期上传会话", "count", removed)
			}
		}
	}()

	// --- 4. 设置并启动HTTP服务器 ---
	router := api.RegisterRoutes(taskManager, db, assembler, pipeline)

	server := &http.Server{
		Addr:         config.C.Server.Port,
		Handler:      router,
		ReadTimeout:  config.C.Server.Timeout,
		WriteTimeout: config.C.Server.Timeout,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP服务器正在启动...", "地址", config.C.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("无法启动HTTP服务器", "error", err)
		os.Exit(1)
	}
}
