// file: internal/service/orchestrator/inflight.go
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"DataAegis/internal/aegobserve"
	"DataAegis/internal/core/port"
)

const (
	defaultPerSourceInflight = 4
	defaultAcquireWait       = 2 * time.Second
)

// InflightLimiter 给每个数据源一个并发配额。
// 配额满时等待一小段时间，等不到立即返回背压错误，不做无界排队。
type InflightLimiter struct {
	mu          sync.Mutex
	sems        map[string]*semaphore.Weighted
	perSource   int64
	acquireWait time.Duration
}

// NewInflightLimiter 创建限流器。参数非正时取默认值。
func NewInflightLimiter(perSource int, acquireWait time.Duration) *InflightLimiter {
	if perSource <= 0 {
		perSource = defaultPerSourceInflight
	}
	if acquireWait <= 0 {
		acquireWait = defaultAcquireWait
	}
	return &InflightLimiter{
		sems:        make(map[string]*semaphore.Weighted),
		perSource:   int64(perSource),
		acquireWait: acquireWait,
	}
}

// Acquire 占用一个配额。成功时返回释放函数；配额满且等待超时返回 ErrBackpressure。
func (l *InflightLimiter) Acquire(ctx context.Context, datasourceID string) (func(), error) {
	l.mu.Lock()
	sem, ok := l.sems[datasourceID]
	if !ok {
		sem = semaphore.NewWeighted(l.perSource)
		l.sems[datasourceID] = sem
	}
	l.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, l.acquireWait)
	defer cancel()
	if err := sem.Acquire(waitCtx, 1); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		aegobserve.RecordBackpressure()
		return nil, port.ErrBackpressure
	}
	return func() { sem.Release(1) }, nil
}
