package logger

import (
	"KidSnaps_Manager/config"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// InitLogger 根据 config.yaml 中的配置初始化一个全局的 slog 日志记录器。
// 配置了 logger.path 时日志同时写入该文件和标准输出。
func InitLogger() error {
	var logHandler slog.Handler

	logLevel := new(slog.LevelVar)
	if err := setLogLevel(config.C.Logger.Level, logLevel); err != nil {
		return err
	}

	handlerOpts := &slog.HandlerOptions{
		Level: logLevel,
	}

	out, err := logOutput(config.C.Logger.Path)
	if err != nil {
		return err
	}

	// 根据配置选择日志格式 (text 或 json)
	if config.C.Logger.Format == "json" {
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}

	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	return nil
}

// logOutput 打开日志输出目标。path 为空时只写标准输出，
// 否则追加写入该文件并镜像一份到标准输出。
func logOutput(path string) (io.Writer, error) {
	if path == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return io.MultiWriter(os.Stdout, f), nil
}

// setLogLevel 将字符串形式的日志级别转换为 slog.Level 类型
func setLogLevel(levelStr string, levelVar *slog.LevelVar) error {
	switch levelStr {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		return errors.New("无效的日志级别: " + levelStr)
	}
	return nil
}

// Discard 返回一个丢弃所有日志的 logger，主要用于测试，避免不必要的日志输出。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
