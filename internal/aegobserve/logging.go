// Package aegobserve file: internal/aegobserve/logging.go
package aegobserve

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger 安装全局结构化日志器，需在 main 里尽早调用，
// 之后各层才能直接使用 slog 的默认实例。
func InitLogger(levelStr string) {
	var level slog.Level

	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		// 无法识别的级别不报错，回落到 INFO
		level = slog.LevelInfo
	}

	// 统一输出 JSON 行到 stdout，便于日志采集管道解析。
	// AddSource 带上 文件:行号，查询管线排障时定位失败环节。
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})

	slog.SetDefault(slog.New(handler))
}
