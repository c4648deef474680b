// file: cmd/gateway/main.go

package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"DataAegis/internal/aegmiddleware"
	"DataAegis/internal/aegobserve"
	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
	"DataAegis/internal/guard"
	"DataAegis/internal/service"
	"DataAegis/internal/service/orchestrator"
	"DataAegis/internal/synthesizer"
	"DataAegis/internal/transport/http/router"

	_ "modernc.org/sqlite"
)

const version = "v0.3.0"

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	LogLevel     string `mapstructure:"log_level"`
	EnablePprof  bool   `mapstructure:"enable_pprof"`
	PprofAddress string `mapstructure:"pprof_address"`
}

type EngineConfig struct {
	QueryTimeoutSeconds    int `mapstructure:"query_timeout_seconds"`
	MaxRows                int `mapstructure:"max_rows"`
	SchemaCacheEntries     int `mapstructure:"schema_cache_entries"`
	SchemaCacheTTLMinutes  int `mapstructure:"schema_cache_ttl_minutes"`
	MaxConcurrentPerSource int `mapstructure:"max_concurrent_per_source"`
	MaxPoolPerSource       int `mapstructure:"max_pool_per_source"`
}

type OllamaConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	Models         map[string]string `mapstructure:"models"`
}

type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type SynthesizerConfig struct {
	Ollama OllamaConfig `mapstructure:"ollama"`
	Claude ClaudeConfig `mapstructure:"claude"`
}

type SecurityConfig struct {
	DSNSecret          string  `mapstructure:"dsn_secret"`
	GlobalRate         float64 `mapstructure:"global_rate"`
	GlobalBurst        int     `mapstructure:"global_burst"`
	LoginMaxFailures   int     `mapstructure:"login_max_failures"`
	LoginLockoutMinute int     `mapstructure:"login_lockout_minutes"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Synthesizer SynthesizerConfig `mapstructure:"synthesizer"`
	Security    SecurityConfig    `mapstructure:"security"`
}

func main() {
	// 在日志系统完全初始化前，使用标准 log
	log.Printf("DataAegis Query Engine %s 正在启动...", version)

	exePath, err := os.Executable()
	if err != nil {
		log.Fatalf("CRITICAL: 无法获取可执行文件路径: %v", err)
	}
	rootDir := filepath.Dir(filepath.Dir(exePath))

	configFilePath := filepath.Join(rootDir, "configs", "config.yaml")
	viper.SetConfigFile(configFilePath)
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("engine.query_timeout_seconds", 30)
	viper.SetDefault("engine.max_rows", 10000)
	viper.SetDefault("engine.schema_cache_entries", 256)
	viper.SetDefault("engine.schema_cache_ttl_minutes", 5)
	viper.SetDefault("engine.max_concurrent_per_source", 4)
	viper.SetDefault("engine.max_pool_per_source", 5)
	viper.SetDefault("security.global_rate", 50)
	viper.SetDefault("security.global_burst", 100)

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("CRITICAL: 读取配置文件 '%s' 失败: %v", configFilePath, err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("CRITICAL: 解析配置到结构体失败: %v", err)
	}

	aegobserve.InitLogger(config.Server.LogLevel)
	slog.Info("DataAegis Query Engine starting up", "version", version)
	slog.Info("检测到项目根目录", "path", rootDir)
	slog.Info("配置加载并解析成功", "path", configFilePath)

	instanceDir := filepath.Join(rootDir, "instance")
	if _, err := os.Stat(instanceDir); os.IsNotExist(err) {
		_ = os.MkdirAll(instanceDir, 0755)
	}
	sysDB, err := initSystemDB(filepath.Join(instanceDir, "dataaegis.db"))
	if err != nil {
		log.Fatalf("CRITICAL: 初始化系统数据库失败: %v", err)
	}
	defer func() {
		slog.Info("正在关闭系统数据库连接...")
		if err := sysDB.Close(); err != nil {
			slog.Error("关闭系统数据库时发生错误", "error", err)
		}
	}()

	if err := service.InitSystemTables(sysDB); err != nil {
		log.Fatalf("CRITICAL: 初始化系统表失败: %v", err)
	}

	// --- 服务层组装 ---
	dsnSecret := config.Security.DSNSecret
	if env := os.Getenv("DATAAEGIS_DSN_SECRET"); env != "" {
		dsnSecret = env
	}
	if dsnSecret == "" {
		log.Fatalf("CRITICAL: 未配置 DSN 加密密钥 (security.dsn_secret 或 DATAAEGIS_DSN_SECRET)")
	}

	registry, err := service.NewRegistry(sysDB, dsnSecret)
	if err != nil {
		slog.Error("初始化数据源注册表失败", "error", err)
		os.Exit(1)
	}
	history := service.NewHistory(sysDB)
	adapters := service.NewAdapterManager(config.Engine.MaxPoolPerSource)
	defer adapters.CloseAll()
	slog.Info("服务层: 数据源注册表与历史记录初始化完成")

	synthChain := buildSynthesizerChain(config.Synthesizer)
	slog.Info("服务层: 合成链初始化完成", "chain", synthChain.ID())

	engine := orchestrator.New(orchestrator.Dependencies{
		Registry: registry,
		History:  history,
		Synth:    synthChain,
		Guard:    guard.New(),
		Adapters: adapters,
		Schemas: orchestrator.NewSchemaCache(
			config.Engine.SchemaCacheEntries,
			time.Duration(config.Engine.SchemaCacheTTLMinutes)*time.Minute),
		Inflight: orchestrator.NewInflightLimiter(config.Engine.MaxConcurrentPerSource, 2*time.Second),
		Limits: port.ExecLimits{
			Timeout: time.Duration(config.Engine.QueryTimeoutSeconds) * time.Second,
			MaxRows: config.Engine.MaxRows,
		},
	})
	slog.Info("服务层: 查询编排器初始化完成",
		"timeout_seconds", config.Engine.QueryTimeoutSeconds, "max_rows", config.Engine.MaxRows)

	rateLimiter := aegmiddleware.NewRateLimiter(sysDB, config.Security.GlobalRate, config.Security.GlobalBurst)
	loginLock := aegmiddleware.NewLoginFailureLock(
		config.Security.LoginMaxFailures,
		time.Duration(config.Security.LoginLockoutMinute)*time.Minute)

	var setupToken string
	var setupTokenDeadline time.Time
	if service.UserCount(sysDB) == 0 {
		setupToken = genToken()
		setupTokenDeadline = time.Now().Add(30 * time.Minute)
		slog.Warn("系统中无管理员，安装令牌已生成 (30分钟内有效)", "setup_token", setupToken)
	}

	httpRouter := router.New(router.Dependencies{
		AuthDB:             sysDB,
		Auth:               service.NewAuthenticator(sysDB),
		Registry:           registry,
		History:            history,
		Adapters:           adapters,
		Engine:             engine,
		Synth:              synthChain,
		RateLimiter:        rateLimiter,
		LoginLock:          loginLock,
		SetupToken:         setupToken,
		SetupTokenDeadline: setupTokenDeadline,
	})
	slog.Info("传输层: HTTP 路由器创建完成。")

	addr := fmt.Sprintf(":%d", config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: httpRouter,
	}

	go func() {
		slog.Info("DataAegis 启动成功，开始监听HTTP请求...", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP服务启动失败", "error", err)
			os.Exit(1)
		}
	}()

	if config.Server.EnablePprof {
		pprofAddr := config.Server.PprofAddress
		if pprofAddr == "" {
			pprofAddr = "0.0.0.0:6060"
		}
		aegobserve.EnablePprof(pprofAddr)
	}
	aegobserve.Register()
	slog.Info("监控: metrics 已注册。")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("收到停机信号，准备优雅关闭...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("HTTP服务优雅关闭失败", "error", err)
		os.Exit(1)
	}

	slog.Info("HTTP服务已成功关闭。")
	slog.Info("程序即将退出。")
}

// buildSynthesizerChain 按"本地 Ollama 主力、Claude 兜底"组装合成链。
// Claude 未配置密钥时仍会挂在链上，但探活始终为不可用。
func buildSynthesizerChain(cfg SynthesizerConfig) *synthesizer.Chain {
	models := make(map[domain.Dialect]string, len(cfg.Ollama.Models))
	for dialect, model := range cfg.Ollama.Models {
		models[domain.Dialect(dialect)] = model
	}
	ollama := synthesizer.NewOllamaClient(
		cfg.Ollama.BaseURL, models,
		time.Duration(cfg.Ollama.TimeoutSeconds)*time.Second)

	claudeKey := cfg.Claude.APIKey
	if env := os.Getenv("ANTHROPIC_API_KEY"); env != "" {
		claudeKey = env
	}
	claude := synthesizer.NewClaudeClient(claudeKey, cfg.Claude.Model)

	return synthesizer.NewChain(ollama, claude)
}

// initSystemDB 封装了系统数据库的初始化逻辑
func initSystemDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=ON&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开/创建系统数据库 '%s' 失败: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("连接系统数据库 '%s' (Ping) 失败: %w", path, err)
	}
	return db, nil
}

// genToken 生成一次性的安装令牌
func genToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback_token_generation_failed"
	}
	return hex.EncodeToString(b)
}
