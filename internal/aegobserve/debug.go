// Package aegobserve file: internal/aegobserve/debug.go
package aegobserve

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof" // 注册 /debug/pprof 路由
)

// EnablePprof 在独立地址上开启 pprof，与业务端口隔离。
// addr 形如 "localhost:6060"；留空表示不开启。
func EnablePprof(addr string) {
	if addr == "" {
		slog.Info("pprof 未配置监听地址，跳过启用")
		return
	}
	go func() {
		slog.Info("pprof 调试端点已启用", "address", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			slog.Error("pprof 端点启动失败", "error", err)
		}
	}()
}
