// file: internal/transport/http/router/router.go
package router

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"DataAegis/internal/aegmiddleware"
	"DataAegis/internal/aegobserve"
	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
	"DataAegis/internal/service"
	"DataAegis/internal/service/orchestrator"
	"DataAegis/internal/synthesizer"
)

// Dependencies 结构体用于将所有依赖项注入到路由器中
type Dependencies struct {
	AuthDB             *sql.DB
	Auth               *service.Authenticator
	Registry           *service.Registry
	History            *service.History
	Adapters           *service.AdapterManager
	Engine             *orchestrator.Orchestrator
	Synth              *synthesizer.Chain
	RateLimiter        *aegmiddleware.RateLimiter
	LoginLock          *aegmiddleware.LoginFailureLock
	SetupToken         string
	SetupTokenDeadline time.Time
}

// New 创建并配置一个全新的、基于 Gin 的 HTTP 路由器
func New(deps Dependencies) http.Handler {
	router := gin.Default()

	// --- 配置全局中间件 ---
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(aegobserve.PrometheusMiddleware())
	if deps.RateLimiter != nil {
		router.Use(deps.RateLimiter.Global(), deps.RateLimiter.PerIP())
	}

	router.GET("/metrics", gin.WrapH(aegobserve.Handler()))

	v1 := router.Group("/api/v1")
	{
		// --- 系统/认证平面 (System/Auth Plane) ---
		authGroup := v1.Group("/auth")
		{
			if deps.LoginLock != nil {
				authGroup.POST("/login", deps.LoginLock.Middleware(), loginHandler(deps.AuthDB))
			} else {
				authGroup.POST("/login", loginHandler(deps.AuthDB))
			}
		}
		systemGroup := v1.Group("/system")
		{
			systemGroup.Any("/setup", setupHandler(deps.AuthDB, deps.SetupToken, deps.SetupTokenDeadline))
			systemGroup.GET("/status", statusHandler(deps.AuthDB))
			systemGroup.POST("/users",
				aegmiddleware.Authenticate(deps.Auth), aegmiddleware.RequireAuth(), aegmiddleware.RequireAdmin(),
				createUserHandler(deps.AuthDB))
		}

		// --- 查询平面 (Query Plane) ---
		aiGroup := v1.Group("/ai")
		aiGroup.Use(aegmiddleware.Authenticate(deps.Auth), aegmiddleware.RequireAuth())
		if deps.RateLimiter != nil {
			aiGroup.Use(deps.RateLimiter.PerUser())
		}
		{
			if deps.RateLimiter != nil {
				aiGroup.POST("/query", deps.RateLimiter.PerDatasource(), queryHandler(deps.Engine))
			} else {
				aiGroup.POST("/query", queryHandler(deps.Engine))
			}
			aiGroup.GET("/history", historyHandler(deps.History))
			aiGroup.GET("/schema/:id", schemaHandler(deps.Engine))
			aiGroup.GET("/health", healthHandler(deps.Synth))
		}

		// --- 数据源管理平面 (Registry Plane) ---
		dsGroup := v1.Group("/datasources")
		dsGroup.Use(aegmiddleware.Authenticate(deps.Auth), aegmiddleware.RequireAuth())
		if deps.RateLimiter != nil {
			dsGroup.Use(deps.RateLimiter.PerUser())
		}
		{
			dsGroup.POST("", createDatasourceHandler(deps.Registry))
			dsGroup.GET("", listDatasourcesHandler(deps.Registry))
			dsGroup.DELETE("/:id", deleteDatasourceHandler(deps.Registry, deps.Adapters, deps.Engine))
		}
	}

	return router
}

// =============================================================================
//  查询平面处理器
// =============================================================================

// queryHandler 处理自然语言查询请求。
// 请求级失败（校验/404/403/429）映射为对应 HTTP 状态码；
// 管线内的失败不走 error 通道，统一 200 + success:false。
func queryHandler(engine *orchestrator.Orchestrator) gin.HandlerFunc {
	type requestBody struct {
		DatasourceID string `json:"datasource_id" binding:"required"`
		Question     string `json:"query" binding:"required"`
	}

	return func(c *gin.Context) {
		var reqBody requestBody
		if err := c.ShouldBindJSON(&reqBody); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
			return
		}

		claims := aegmiddleware.ClaimFrom(c)
		result, err := engine.Query(c.Request.Context(), claims.ID, reqBody.DatasourceID, reqBody.Question)
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// historyHandler 返回当前用户的查询历史，按时间倒序。
func historyHandler(history *service.History) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := aegmiddleware.ClaimFrom(c)

		limit := 0
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}

		entries, err := history.ListByUser(c.Request.Context(), claims.ID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "获取历史记录失败"})
			return
		}
		if entries == nil {
			entries = []*domain.HistoryEntry{}
		}
		c.JSON(http.StatusOK, gin.H{"data": entries})
	}
}

// schemaHandler 返回指定数据源的结构快照
func schemaHandler(engine *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := aegmiddleware.ClaimFrom(c)
		snapshot, err := engine.Schema(c.Request.Context(), claims.ID, c.Param("id"))
		if err != nil {
			writeEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": snapshot})
	}
}

// healthHandler 逐个报告合成后端的可用性
func healthHandler(synth *synthesizer.Chain) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := synth.Health(c.Request.Context())
		overall := false
		for _, ok := range status {
			if ok {
				overall = true
				break
			}
		}
		c.JSON(http.StatusOK, gin.H{"healthy": overall, "backends": status})
	}
}

// writeEngineError 把引擎的请求级错误翻译为 HTTP 状态码
func writeEngineError(c *gin.Context, err error) {
	var validationErr *port.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Reason})
	case errors.Is(err, port.ErrDatasourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "数据源未找到"})
	case errors.Is(err, port.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "您没有访问该数据源的权限"})
	case errors.Is(err, port.ErrBackpressure):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "数据源当前并发已满，请稍后再试"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "内部错误"})
	}
}

// =============================================================================
//  数据源管理处理器
// =============================================================================

// createDatasourceHandler 注册一个新数据源。
// DSN 只进不出：入库前加密，任何响应里都不回显。
func createDatasourceHandler(registry *service.Registry) gin.HandlerFunc {
	type requestBody struct {
		Name     string `json:"name" binding:"required"`
		Kind     string `json:"kind" binding:"required"`
		Driver   string `json:"driver"`
		DSN      string `json:"dsn"`
		Database string `json:"database"`
		FilePath string `json:"file_path"`
	}

	return func(c *gin.Context) {
		var reqBody requestBody
		if err := c.ShouldBindJSON(&reqBody); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
			return
		}

		claims := aegmiddleware.ClaimFrom(c)
		ds := &domain.Datasource{
			Name:     reqBody.Name,
			Kind:     domain.Kind(reqBody.Kind),
			Driver:   reqBody.Driver,
			DSN:      reqBody.DSN,
			Database: reqBody.Database,
			FilePath: reqBody.FilePath,
		}
		if err := registry.Create(c.Request.Context(), claims.ID, ds); err != nil {
			var validationErr *port.ValidationError
			if errors.As(err, &validationErr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Reason})
				return
			}
			log.Printf("ERROR: [API /datasources] 创建数据源失败: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "创建数据源失败"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": ds})
	}
}

// listDatasourcesHandler 列出当前用户注册的全部数据源
func listDatasourcesHandler(registry *service.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := aegmiddleware.ClaimFrom(c)
		list, err := registry.ListByUser(c.Request.Context(), claims.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "获取数据源列表失败"})
			return
		}
		if list == nil {
			list = []*domain.Datasource{}
		}
		c.JSON(http.StatusOK, gin.H{"data": list})
	}
}

// deleteDatasourceHandler 删除数据源，同时关闭适配器并丢弃结构快照缓存
func deleteDatasourceHandler(registry *service.Registry, adapters *service.AdapterManager, engine *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := aegmiddleware.ClaimFrom(c)
		id := c.Param("id")

		if err := registry.Delete(c.Request.Context(), claims.ID, id); err != nil {
			writeEngineError(c, err)
			return
		}
		adapters.Evict(id)
		engine.InvalidateSchema(id)
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

// =============================================================================
//  系统与认证处理器
// =============================================================================

// statusHandler 返回系统状态，用于前端判断是否需要进入安装流程
func statusHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if service.UserCount(db) > 0 {
			c.JSON(http.StatusOK, gin.H{"status": "ready_for_login"})
		} else {
			c.JSON(http.StatusOK, gin.H{"status": "needs_setup"})
		}
	}
}

// loginHandler 处理用户登录请求
func loginHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			User string `form:"user" json:"user" binding:"required"`
			Pass string `form:"pass" json:"pass" binding:"required"`
		}
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "用户名或密码不能为空"})
			return
		}
		id, role, ok := service.CheckUser(db, req.User, req.Pass)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "用户名或密码无效"})
			return
		}
		token, err := service.GenToken(id, role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "生成令牌失败"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user": gin.H{"id": id, "username": req.User, "role": role}})
	}
}

// createUserHandler 由管理员创建普通用户账号
func createUserHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			User string `json:"user" binding:"required"`
			Pass string `json:"pass" binding:"required"`
			Role string `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "用户名或密码不能为空"})
			return
		}
		role := req.Role
		if role == "" {
			role = "user"
		}
		if err := service.CreateUser(db, req.User, req.Pass, role); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "创建用户失败: " + err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"status": "success", "user": gin.H{"username": req.User, "role": role}})
	}
}

// setupHandler 处理首次安装时的管理员创建请求
func setupHandler(db *sql.DB, token string, deadline time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			if service.UserCount(db) > 0 {
				c.JSON(http.StatusForbidden, gin.H{"error": "系统已安装，无法获取安装令牌"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
			return
		}

		if c.Request.Method == http.MethodPost {
			if service.UserCount(db) > 0 {
				c.JSON(http.StatusForbidden, gin.H{"error": "系统已存在管理员账户，无法重复设置"})
				return
			}
			var req struct {
				Token string `form:"token" json:"token" binding:"required"`
				User  string `form:"user" json:"user" binding:"required"`
				Pass  string `form:"pass" json:"pass" binding:"required"`
			}
			if err := c.ShouldBind(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "令牌、用户名或密码不能为空"})
				return
			}
			if req.Token != token || token == "" || time.Now().After(deadline) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "无效或过期的安装令牌"})
				return
			}
			if err := service.CreateAdmin(db, req.User, req.Pass); err != nil {
				log.Printf("ERROR: [API /setup] 创建管理员 '%s' 失败: %v", req.User, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "创建管理员失败: " + err.Error()})
				return
			}
			id, _, _ := service.CheckUser(db, req.User, req.Pass)
			jwtToken, err := service.GenToken(id, "admin")
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "为新管理员生成令牌失败"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": jwtToken, "user": gin.H{"id": id, "username": req.User, "role": "admin"}})
			return
		}
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "仅支持 GET 和 POST 方法"})
	}
}
