// file: internal/service/registry_service.go
package service

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"DataAegis/internal/core/domain"
	"DataAegis/internal/core/port"
)

// 编译期断言
var _ port.DatasourceRegistry = (*Registry)(nil)

// Registry 把数据源注册表落在系统库里。
// DSN 用 AES-GCM 加密存储，任何读取路径都不把明文 DSN 交给日志或 API 响应。
type Registry struct {
	db  *sql.DB
	key []byte // 32 字节，从密钥材料派生
}

// NewRegistry 创建注册表。secret 是运维提供的密钥材料，内部做一次 SHA-256 派生。
func NewRegistry(db *sql.DB, secret string) (*Registry, error) {
	if db == nil {
		return nil, errors.New("registry 需要系统数据库连接")
	}
	if secret == "" {
		return nil, errors.New("registry 需要非空的加密密钥材料")
	}
	sum := sha256.Sum256([]byte(secret))
	return &Registry{db: db, key: sum[:]}, nil
}

// Get 实现 port.DatasourceRegistry。
func (r *Registry) Get(ctx context.Context, id string) (*domain.Datasource, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT id, name, kind, driver, dsn_sealed, database_name, file_path, created_at
        FROM datasource WHERE id = ?`, id)
	return r.scanDatasource(row)
}

// ListByUser 实现 port.DatasourceRegistry。列表里的对象同样携带解密后的 DSN，
// 序列化时 DSN 字段被 json:"-" 屏蔽。
func (r *Registry) ListByUser(ctx context.Context, userID int64) ([]*domain.Datasource, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, name, kind, driver, dsn_sealed, database_name, file_path, created_at
        FROM datasource WHERE owner_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("查询数据源列表失败: %w", err)
	}
	defer rows.Close()

	var out []*domain.Datasource
	for rows.Next() {
		ds, err := r.scanDatasource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// Create 实现 port.DatasourceRegistry。ID 为空时生成 ds_ 前缀的 UUID。
func (r *Registry) Create(ctx context.Context, userID int64, ds *domain.Datasource) error {
	if ds.Name == "" {
		return &port.ValidationError{Reason: "数据源 name 不能为空"}
	}
	if !ds.Kind.Valid() {
		return &port.ValidationError{Reason: fmt.Sprintf("未知的数据源类型 '%s'", ds.Kind)}
	}
	switch ds.Kind {
	case domain.KindSQL, domain.KindDocument:
		if ds.DSN == "" {
			return &port.ValidationError{Reason: "该类型的数据源必须提供连接描述"}
		}
	case domain.KindTabular:
		if ds.FilePath == "" {
			return &port.ValidationError{Reason: "tabular 数据源必须提供文件路径"}
		}
	}

	if ds.ID == "" {
		ds.ID = "ds_" + uuid.NewString()
	}
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = time.Now().UTC()
	}

	sealed, err := r.seal(ds.DSN)
	if err != nil {
		return fmt.Errorf("加密连接描述失败: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
        INSERT INTO datasource(id, owner_id, name, kind, driver, dsn_sealed, database_name, file_path, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, userID, ds.Name, string(ds.Kind), ds.Driver, sealed, ds.Database, ds.FilePath, ds.CreatedAt)
	if err != nil {
		return fmt.Errorf("写入数据源记录失败: %w", err)
	}
	return nil
}

// Delete 实现 port.DatasourceRegistry。归属校验在删除前完成。
func (r *Registry) Delete(ctx context.Context, userID int64, id string) error {
	if err := r.OwnedBy(ctx, userID, id); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM datasource WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("删除数据源记录失败: %w", err)
	}
	return nil
}

// OwnedBy 实现 port.DatasourceRegistry。
func (r *Registry) OwnedBy(ctx context.Context, userID int64, id string) error {
	var ownerID int64
	err := r.db.QueryRowContext(ctx, `SELECT owner_id FROM datasource WHERE id = ?`, id).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return port.ErrDatasourceNotFound
	}
	if err != nil {
		return fmt.Errorf("查询数据源归属失败: %w", err)
	}
	if ownerID != userID {
		return port.ErrPermissionDenied
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Registry) scanDatasource(row rowScanner) (*domain.Datasource, error) {
	var (
		ds     domain.Datasource
		kind   string
		sealed []byte
		dbName sql.NullString
		fpath  sql.NullString
	)
	err := row.Scan(&ds.ID, &ds.Name, &kind, &ds.Driver, &sealed, &dbName, &fpath, &ds.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrDatasourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取数据源记录失败: %w", err)
	}
	ds.Kind = domain.Kind(kind)
	ds.Database = dbName.String
	ds.FilePath = fpath.String

	if len(sealed) > 0 {
		dsn, err := r.open(sealed)
		if err != nil {
			return nil, fmt.Errorf("解密数据源 '%s' 的连接描述失败: %w", ds.ID, err)
		}
		ds.DSN = dsn
	}
	return &ds, nil
}

/* ---------- DSN 加密 ---------- */

// seal 用 AES-GCM 加密明文，nonce 前置在密文里。
func (r *Registry) seal(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (r *Registry) open(sealed []byte) (string, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(sealed) < gcm.NonceSize() {
		return "", errors.New("密文长度不足")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
