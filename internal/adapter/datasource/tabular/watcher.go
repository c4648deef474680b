// file: internal/adapter/datasource/tabular/watcher.go
package tabular

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDuration 是文件系统事件处理的防抖延迟。
const debounceDuration = 2 * time.Second

// startWatcher 监视源文件所在目录，文件变更防抖后整帧重载。
// 监视目录而不是文件本身：编辑器普遍用"写临时文件再改名"的方式保存。
func (a *Adapter) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建 fsnotify watcher 失败: %w", err)
	}
	dir := filepath.Dir(a.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("监视目录 '%s' 失败: %w", dir, err)
	}
	a.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				a.handleFsEvent(event)
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("表格文件监视器报告错误", "datasource", a.ds.ID, "error", errWatch)
			case <-a.done:
				return
			}
		}
	}()
	return nil
}

// handleFsEvent 只关心目标文件自身的变更，其余事件忽略。
func (a *Adapter) handleFsEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != a.path {
		return
	}
	a.timerMu.Lock()
	defer a.timerMu.Unlock()
	if a.reloadTimer != nil {
		a.reloadTimer.Stop()
	}
	a.reloadTimer = time.AfterFunc(debounceDuration, a.processDebouncedReload)
}

// processDebouncedReload 在防抖后整帧重载。加载失败时保留旧帧继续服务。
func (a *Adapter) processDebouncedReload() {
	if _, err := os.Stat(a.path); os.IsNotExist(err) {
		slog.Warn("表格源文件已消失，保留内存中的旧帧", "datasource", a.ds.ID, "path_base", filepath.Base(a.path))
		return
	}
	frame, err := loadFrame(a.path)
	if err != nil {
		slog.Error("表格文件热重载失败，保留旧帧", "datasource", a.ds.ID, "error", err)
		return
	}
	a.frame.Store(frame)
	slog.Info("表格文件热重载成功", "datasource", a.ds.ID, "rows", len(frame.Rows))
}
