// file: internal/aegmiddleware/limiter.go
package aegmiddleware

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// limiterEntry 存储限制器和最后访问时间
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 统一管理查询引擎的速率限制：
// 全局、按 IP、按用户、按数据源各一层，逐层收紧。
type RateLimiter struct {
	db *sql.DB // 读取用户专属限额，可为 nil

	globalLimiter *rate.Limiter

	ipLimiters     map[string]*limiterEntry
	ipMu           sync.Mutex
	ipDefaultRate  rate.Limit
	ipDefaultBurst int

	userLimiters     map[int64]*limiterEntry
	userMu           sync.Mutex
	userDefaultRate  rate.Limit
	userDefaultBurst int

	dsLimiters     map[string]*limiterEntry
	dsMu           sync.Mutex
	dsDefaultRate  rate.Limit
	dsDefaultBurst int
}

// NewRateLimiter 创建速率限制器。
func NewRateLimiter(db *sql.DB, globalRate float64, globalBurst int) *RateLimiter {
	rl := &RateLimiter{
		db: db,

		globalLimiter: rate.NewLimiter(rate.Limit(globalRate), globalBurst),

		ipLimiters:     make(map[string]*limiterEntry),
		ipDefaultRate:  1.0, // 匿名 IP 默认 60 req/min
		ipDefaultBurst: 20,

		userLimiters:     make(map[int64]*limiterEntry),
		userDefaultRate:  5.0, // 已认证用户默认 5 req/s
		userDefaultBurst: 15,

		dsLimiters:     make(map[string]*limiterEntry),
		dsDefaultRate:  10.0,
		dsDefaultBurst: 20,
	}

	go rl.cleanupLoop(&rl.ipMu, func() { rl.sweepIPs() })
	go rl.cleanupLoop(&rl.userMu, func() { rl.sweepUsers() })
	go rl.cleanupLoop(&rl.dsMu, func() { rl.sweepDatasources() })

	slog.Info("限流器初始化完成",
		"global_rate", globalRate, "global_burst", globalBurst,
		"ip_rate", float64(rl.ipDefaultRate), "ip_burst", rl.ipDefaultBurst)
	return rl
}

func (rl *RateLimiter) cleanupLoop(mu *sync.Mutex, sweep func()) {
	for {
		time.Sleep(10 * time.Minute)
		mu.Lock()
		sweep()
		mu.Unlock()
	}
}

func (rl *RateLimiter) sweepIPs() {
	for ip, entry := range rl.ipLimiters {
		if time.Since(entry.lastSeen) > 15*time.Minute {
			delete(rl.ipLimiters, ip)
		}
	}
}

func (rl *RateLimiter) sweepUsers() {
	for id, entry := range rl.userLimiters {
		if time.Since(entry.lastSeen) > 15*time.Minute {
			delete(rl.userLimiters, id)
		}
	}
}

func (rl *RateLimiter) sweepDatasources() {
	for id, entry := range rl.dsLimiters {
		if time.Since(entry.lastSeen) > 15*time.Minute {
			delete(rl.dsLimiters, id)
		}
	}
}

// ==================================================================
//  模块化的中间件方法
// ==================================================================

// Global 返回全局限制中间件
func (rl *RateLimiter) Global() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.globalLimiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "系统繁忙，请稍后再试 (global limit)"})
			return
		}
		c.Next()
	}
}

// PerIP 返回 IP 限制中间件
func (rl *RateLimiter) PerIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		rl.ipMu.Lock()
		entry, exists := rl.ipLimiters[ip]
		if !exists {
			entry = &limiterEntry{limiter: rate.NewLimiter(rl.ipDefaultRate, rl.ipDefaultBurst)}
			rl.ipLimiters[ip] = entry
		}
		entry.lastSeen = time.Now()
		rl.ipMu.Unlock()

		if !entry.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "您的请求过于频繁，请稍后再试 (per-ip limit)"})
			return
		}
		c.Next()
	}
}

// PerUser 返回用户限制中间件。未认证请求直接放行，交给 PerIP 兜底。
func (rl *RateLimiter) PerUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimFrom(c)
		if claims == nil {
			c.Next()
			return
		}

		userID := claims.ID
		rl.userMu.Lock()
		entry, exists := rl.userLimiters[userID]
		if !exists {
			rateLimit, burstSize := rl.loadUserLimits(c.Request.Context(), userID)
			entry = &limiterEntry{limiter: rate.NewLimiter(rateLimit, burstSize)}
			rl.userLimiters[userID] = entry
		}
		entry.lastSeen = time.Now()
		rl.userMu.Unlock()

		if !entry.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "您的账户请求过于频繁，请稍后再试 (per-user limit)"})
			return
		}
		c.Next()
	}
}

// loadUserLimits 读取用户专属限额，没有配置时用默认值。
func (rl *RateLimiter) loadUserLimits(ctx context.Context, userID int64) (rate.Limit, int) {
	rateLimit, burstSize := rl.userDefaultRate, rl.userDefaultBurst
	if rl.db == nil {
		return rateLimit, burstSize
	}
	var (
		perSecond sql.NullFloat64
		burst     sql.NullInt64
	)
	err := rl.db.QueryRowContext(ctx,
		`SELECT rate_limit_per_second, burst_size FROM _user WHERE id = ?`, userID).
		Scan(&perSecond, &burst)
	if err == nil && perSecond.Valid && perSecond.Float64 > 0 {
		rateLimit = rate.Limit(perSecond.Float64)
		if burst.Valid && burst.Int64 > 0 {
			burstSize = int(burst.Int64)
		}
		slog.Debug("为用户加载了专属速率限制", "user", userID, "rate", perSecond.Float64, "burst", burstSize)
	}
	return rateLimit, burstSize
}

// PerDatasource 限制打到单个数据源的请求频率。
// datasource_id 从 POST JSON 体里取，读过的内容重新放回 Body 供后续处理器使用。
func (rl *RateLimiter) PerDatasource() gin.HandlerFunc {
	return func(c *gin.Context) {
		var datasourceID string

		if c.Request.Method == http.MethodPost && strings.Contains(c.GetHeader("Content-Type"), "application/json") {
			bodyBytes, err := io.ReadAll(c.Request.Body)
			if err != nil {
				slog.Warn("限流器读取请求体失败", "error", err)
				c.Next()
				return
			}
			c.Request.Body.Close()
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

			var extractor struct {
				DatasourceID string `json:"datasource_id"`
			}
			if err := json.Unmarshal(bodyBytes, &extractor); err == nil {
				datasourceID = extractor.DatasourceID
			}
		}
		if datasourceID == "" {
			datasourceID = c.Param("id")
		}
		if datasourceID == "" {
			c.Next()
			return
		}

		rl.dsMu.Lock()
		entry, exists := rl.dsLimiters[datasourceID]
		if !exists {
			entry = &limiterEntry{limiter: rate.NewLimiter(rl.dsDefaultRate, rl.dsDefaultBurst)}
			rl.dsLimiters[datasourceID] = entry
		}
		entry.lastSeen = time.Now()
		rl.dsMu.Unlock()

		if !entry.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "该数据源请求过于频繁，请稍后再试 (per-datasource limit)"})
			return
		}
		c.Next()
	}
}

// ============================================================================
//  登录失败锁定器 (Login Failure Lock)
// ============================================================================

// LoginFailureLock 在连续登录失败后临时锁定"IP+用户名"组合，抵御口令爆破。
type LoginFailureLock struct {
	failureCache    *gocache.Cache
	maxFailures     int
	lockoutDuration time.Duration
}

// NewLoginFailureLock 创建锁定器。
func NewLoginFailureLock(maxFailures int, lockoutDuration time.Duration) *LoginFailureLock {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if lockoutDuration <= 0 {
		lockoutDuration = 15 * time.Minute
	}
	return &LoginFailureLock{
		failureCache:    gocache.New(lockoutDuration, 2*lockoutDuration),
		maxFailures:     maxFailures,
		lockoutDuration: lockoutDuration,
	}
}

// Middleware 包裹登录处理器：锁定中的组合直接拒绝，失败累计、成功清零。
func (l *LoginFailureLock) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := l.extractUsername(c)
		ip := c.ClientIP()
		lockKey := "lock:" + ip + ":" + username

		if _, found := l.failureCache.Get(lockKey); found {
			slog.Warn("已锁定的账户再次尝试登录", "user", username, "ip", ip)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "用户名或密码无效"})
			return
		}

		c.Next()

		failureKey := "failures:" + ip + ":" + username
		switch c.Writer.Status() {
		case http.StatusUnauthorized:
			if err := l.failureCache.Increment(failureKey, int64(1)); err != nil {
				// key 不存在，即第一次失败
				l.failureCache.Set(failureKey, int64(1), gocache.DefaultExpiration)
			}
			var currentFailures int
			if x, found := l.failureCache.Get(failureKey); found {
				currentFailures = int(x.(int64))
			}
			slog.Info("登录失败", "user", username, "ip", ip, "failures", currentFailures)

			if currentFailures >= l.maxFailures {
				l.failureCache.Set(lockKey, true, l.lockoutDuration)
				l.failureCache.Delete(failureKey)
				slog.Warn("账户已被临时锁定", "user", username, "ip", ip, "duration", l.lockoutDuration.String())
			}
		case http.StatusOK:
			l.failureCache.Delete(failureKey)
		}
	}
}

// extractUsername 从 JSON 体或表单里取出用户名，读过的 Body 放回去。
func (l *LoginFailureLock) extractUsername(c *gin.Context) string {
	if strings.Contains(c.GetHeader("Content-Type"), "application/json") {
		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return ""
		}
		c.Request.Body.Close()
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		var extractor struct {
			User string `json:"user"`
		}
		if err := json.Unmarshal(bodyBytes, &extractor); err == nil {
			return strings.TrimSpace(extractor.User)
		}
		return ""
	}
	return strings.TrimSpace(c.PostForm("user"))
}
