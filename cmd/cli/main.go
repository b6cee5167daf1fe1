package main

import (
	"KidSnaps_Manager/config"
	"KidSnaps_Manager/pkg/cleaner"
	"KidSnaps_Manager/pkg/database"
	"KidSnaps_Manager/pkg/database/mongo"
	"KidSnaps_Manager/pkg/geocoder"
	"KidSnaps_Manager/pkg/importer"
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
)

func main() {
	// --- 1. 定义命令行参数 ---
	action := flag.String("action", "", "要执行的操作: dedupe, gc-chunks, geocode, import-zip, list-media, list-albums, audit")
	method := flag.String("method", "hash", "dedupe 使用的检测方法: filename, exif, hash")
	dryRun := flag.Bool("dry-run", false, "dedupe 只计算删除计划，不做任何改动")
	yes := flag.Bool("yes", false, "dedupe 跳过交互式确认（自动化脚本用）")
	sample := flag.Int("sample", 0, "dedupe 只扫描前N条记录做探查，0为全量权威扫描")
	zipPath := flag.String("zip", "", "import-zip 要导入的ZIP文件路径")
	filter := flag.String("filter", "", "import-zip 的人物过滤器，逗号分隔")
	runID := flag.String("run-id", "", "audit 要查看的运行ID")
	page := flag.Int("page", 1, "分页页码")
	limit := flag.Int("limit", 20, "每页数量")

	flag.Parse()

	if *action == "" {
		fmt.Println("错误: 必须提供 -action 参数。")
		flag.Usage()
		os.Exit(1)
	}

	// --- 2. 初始化应用核心组件 ---
	if err := config.LoadConfig("."); err != nil {
		log.Fatalf("FATAL: 无法加载配置: %v", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

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

	// --- 3. 根据 action 参数执行相应的功能 ---
	ctx := context.Background()
	switch *action {
	case "dedupe":
		bulkCleaner := cleaner.New(db, &config.C.Importer)
		opts := cleaner.Options{
			Method:      *method,
			DryRun:      *dryRun,
			SampleLimit: *sample,
		}
		if !*dryRun {
			opts.Confirm = func(plan *cleaner.Plan) bool {
				printPlan(plan)
				if *yes {
					return true
				}
				fmt.Print("确认删除以上记录？输入 yes 继续: ")
				line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				return strings.TrimSpace(line) == "yes"
			}
		}
		result, err := bulkCleaner.Run(ctx, opts)
		if err != nil {
			slog.Error("批量清理失败", "error", err)
			os.Exit(1)
		}
		if result.State == cleaner.StateCancelled {
			fmt.Println("运行已取消，没有任何改动。")
			return
		}
		if *dryRun {
			printPlan(&result.Plan)
			fmt.Println("试运行结束，没有任何改动。")
			return
		}
		fmt.Printf("清理完成: 已删除 %d 条，失败 %d 条。日志: %s\n",
			result.Deleted, result.Failed, result.LogFile)

	case "gc-chunks":
		assembler := importer.NewChunkAssembler(config.C.Importer.ChunkDir)
		removed := assembler.CollectStale(config.C.Importer.ChunkRetention)
		fmt.Printf("已清理 %d 个过期上传会话。\n", removed)

	case "geocode":
		geo := geocoder.New(&config.C.Geocoder)
		pipeline := importer.NewPipeline(db, &config.C.Importer, geo)
		resolved, err := pipeline.GeocodePending(ctx, *limit)
		if err != nil {
			slog.Error("补齐位置名称失败", "error", err)
			os.Exit(1)
		}
		fmt.Printf("已为 %d 条记录补齐位置名称。\n", resolved)

	case "import-zip":
		if *zipPath == "" {
			fmt.Println("错误: import-zip 操作需要提供 -zip 参数。")
			return
		}
		geo := geocoder.New(&config.C.Geocoder)
		pipeline := importer.NewPipeline(db, &config.C.Importer, geo)
		summary, err := pipeline.ImportZip(ctx, importer.ImportOptions{
			ZipPath:      *zipPath,
			PeopleFilter: *filter,
			OnProgress: func(processed, total int) {
				fmt.Printf("\r进度: %d/%d", processed, total)
			},
		})
		if err != nil {
			fmt.Println()
			slog.Error("ZIP导入失败", "error", err)
			os.Exit(1)
		}
		fmt.Printf("\n导入完成: 成功 %d，跳过 %d，失败 %d (相册 %s，运行 %s)\n",
			summary.Imported, summary.Skipped, summary.Failed, summary.AlbumID, summary.RunID)

	case "list-media":
		media, total, err := db.Media().List(ctx, *page, *limit)
		if err != nil {
			slog.Error("获取媒体列表失败", "error", err)
			return
		}
		fmt.Printf("总共找到 %d 个媒体文件 (正在显示第 %d 页，每页 %d 个):\n", total, *page, *limit)
		for _, m := range media {
			fmt.Printf("  ID: %s, FileName: %s, Hash: %s, UploadedAt: %s\n",
				m.ID.Hex(), m.FileName, m.FileHash, m.UploadedAt.Format("2006-01-02 15:04:05"))
		}

	case "list-albums":
		albums, total, err := db.Albums().List(ctx, *page, *limit)
		if err != nil {
			slog.Error("获取相册列表失败", "error", err)
			return
		}
		fmt.Printf("总共找到 %d 个相册 (正在显示第 %d 页，每页 %d 个):\n", total, *page, *limit)
		for _, a := range albums {
			fmt.Printf("ID: %s\n  Title: %s\n  MediaCount: %d\n\n", a.ID.Hex(), a.Title, a.MediaCount)
		}

	case "audit":
		if *runID != "" {
			audit, err := db.Audits().GetByRunID(ctx, *runID)
			if err != nil || audit == nil {
				fmt.Printf("错误: 找不到运行 %s 的审计记录。\n", *runID)
				return
			}
			fmt.Printf("运行 %s (%s, 方法=%s, 试运行=%t)\n", audit.RunID, audit.Kind, audit.Method, audit.DryRun)
			fmt.Printf("处理=%d 成功=%d 跳过=%d 失败=%d 日志=%s\n",
				audit.Processed, audit.Succeeded, audit.Skipped, audit.Failed, audit.LogFile)
			for _, a := range audit.Actions {
				fmt.Printf("  %s %s %s %s\n", a.Action, a.MediaID.Hex(), a.FileName, a.Detail)
			}
			return
		}
		audits, total, err := db.Audits().List(ctx, *page, *limit)
		if err != nil {
			slog.Error("获取审计列表失败", "error", err)
			return
		}
		fmt.Printf("总共找到 %d 条审计记录:\n", total)
		for _, a := range audits {
			fmt.Printf("  %s %s 方法=%s 试运行=%t 成功=%d 失败=%d %s\n",
				a.RunID, a.Kind, a.Method, a.DryRun, a.Succeeded, a.Failed,
				a.StartedAt.Format("2006-01-02 15:04:05"))
		}

	default:
		fmt.Printf("错误: 未知的 action '%s'\n", *action)
		flag.Usage()
	}
}

// printPlan 打印清理计划摘要供确认。
func printPlan(plan *cleaner.Plan) {
	fmt.Printf("--- 清理计划 (方法=%s) ---\n", plan.Method)
	fmt.Printf("扫描记录: %d，重复组: %d，保留: %d，待删除: %d (%.2f MB)\n",
		plan.Scanned, len(plan.Groups), plan.KeepCount, plan.DeleteCount,
		float64(plan.DeleteBytes)/1024/1024)
	for _, g := range plan.Groups {
		keep := g.Keep()
		fmt.Printf("组 %s:\n  保留 %s %s (%s)\n", g.Key, keep.ID.Hex(), keep.FileName,
			keep.UploadedAt.Format("2006-01-02 15:04:05"))
		for _, loser := range g.Losers() {
			fmt.Printf("  删除 %s %s (%s)\n", loser.ID.Hex(), loser.FileName,
				loser.UploadedAt.Format("2006-01-02 15:04:05"))
		}
	}
}
