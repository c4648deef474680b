// Package service — 系统库之上的服务层（用户、数据源注册表、查询历史）
// file: internal/service/auth_service.go
package service

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"
)

/* ---------- 配置 ---------- */

var hmacKey = []byte("DataAegisSecret_ChangeMe")

func init() {
	// 允许通过环境变量覆盖 JWT 密钥，增强安全性
	envKey := os.Getenv("DATAAEGIS_JWT_KEY")
	if envKey != "" {
		hmacKey = []byte(envKey)
		log.Println("信息: service 使用环境变量 DATAAEGIS_JWT_KEY 设置的JWT密钥。")
	} else {
		log.Println("警告: service 未找到环境变量 DATAAEGIS_JWT_KEY，将使用默认JWT密钥。强烈建议设置环境变量以增强安全性！")
	}
}

/* ---------- 用户表操作 ---------- */

// UserCount 返回用户表中的用户数量
func UserCount(db *sql.DB) int {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM _user`).Scan(&n)
	if err != nil {
		log.Printf("错误: UserCount 查询失败: %v", err)
		return 0
	}
	return n
}

// CreateAdmin 创建一个管理员用户
func CreateAdmin(db *sql.DB, user, pass string) error {
	return CreateUser(db, user, pass, "admin")
}

// CreateUser 创建一个指定角色的用户
func CreateUser(db *sql.DB, user, pass, role string) error {
	if user == "" || pass == "" {
		return errors.New("用户名或密码不能为空")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("生成密码哈希失败: %w", err)
	}
	_, err = db.Exec(`
       INSERT INTO _user(username, password_hash, role)
       VALUES (?, ?, ?)`, user, string(hash), role)
	if err != nil {
		return fmt.Errorf("插入用户 '%s' 失败: %w", user, err)
	}
	return nil
}

// CheckUser 校验用户名和密码，成功则返回用户 ID、角色和 true
func CheckUser(db *sql.DB, user, pass string) (id int64, role string, ok bool) {
	var hash string
	err := db.QueryRow(`SELECT id, password_hash, role FROM _user WHERE username = ?`, user).
		Scan(&id, &hash, &role)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("错误: CheckUser 查询用户 '%s' 时失败: %v", user, err)
		}
		return 0, "", false
	}
	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass))
	return id, role, err == nil
}

// GetUserById 检索给定用户ID的用户名和角色
func GetUserById(db *sql.DB, id int64) (username string, role string, ok bool) {
	err := db.QueryRow(`SELECT username, role FROM _user WHERE id = ?`, id).
		Scan(&username, &role)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("错误: GetUserById 查询用户 ID %d 时失败: %v", id, err)
		}
		return "", "", false
	}
	return username, role, true
}

/* ---------- JWT Handling ---------- */

// Claim 定义 JWT 的载荷结构
type Claim struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// GenToken 生成一个新的 JWT (有效期24小时)
func GenToken(uid int64, role string) (string, error) {
	claims := Claim{
		ID:   uid,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "DataAegis",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(hmacKey)
	if err != nil {
		return "", fmt.Errorf("签名 JWT 失败: %w", err)
	}
	return signedToken, nil
}

// ErrInvalidToken 表示 JWT 无效、过期或解析失败。
var ErrInvalidToken = errors.New("invalid or expired token")

// ParseToken 解析并验证 JWT 字符串
func ParseToken(tokenString string) (*Claim, error) {
	claims := &Claim{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("非预期的签名方法: %v", token.Header["alg"])
		}
		return hmacKey, nil
	})

	if err != nil {
		// 特别处理过期错误，使其能被外部识别
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, jwt.ErrTokenExpired)
		}
		return nil, fmt.Errorf("%w (detail: %v)", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

/* ---------- Authenticator ---------- */

// Authenticator 持有数据库连接，并缓存用户存在性，避免每个请求都打一次用户表。
type Authenticator struct {
	DB        *sql.DB
	userCache *gocache.Cache
}

// NewAuthenticator 创建 Authenticator 实例
func NewAuthenticator(db *sql.DB) *Authenticator {
	if db == nil {
		log.Fatal("严重错误: NewAuthenticator 接收到空的数据库连接！")
	}
	return &Authenticator{
		DB:        db,
		userCache: gocache.New(time.Minute, 5*time.Minute),
	}
}

// Verify 解析 Bearer token 并确认用户仍然存在。
// 用户存在性结论缓存一分钟；删除用户后旧令牌最多还能活这么久。
func (a *Authenticator) Verify(tokenString string) (*Claim, error) {
	claims, err := ParseToken(tokenString)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("user:%d", claims.ID)
	if _, found := a.userCache.Get(cacheKey); found {
		return claims, nil
	}
	if _, _, exists := GetUserById(a.DB, claims.ID); !exists {
		return nil, fmt.Errorf("%w: 用户不存在", ErrInvalidToken)
	}
	a.userCache.Set(cacheKey, struct{}{}, gocache.DefaultExpiration)
	return claims, nil
}
