// 包 store: 区域索引的 PostgreSQL 访问层，记录每次构建产出的省级、市级文件
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"chinamap/internal/logger"
)

// Store: 数据库访问入口
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Open: 使用 DSN 打开数据库连接
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Region: 一个已输出的行政单元；路径相对于 geojson 输出目录
type Region struct {
	Code         string    `json:"code"`
	Level        string    `json:"level"`
	Name         string    `json:"name"`
	ProvinceCode string    `json:"province_code,omitempty"`
	ProvinceName string    `json:"province_name,omitempty"`
	FeatureCount int       `json:"feature_count"`
	CodePath     string    `json:"code_path"`
	NamePath     string    `json:"name_path"`
	BuiltAt      time.Time `json:"built_at"`
}

// ReplaceRegions: 在一个事务中清空并重写索引
// 背景：输出目录每次构建都整体重建，索引同样不做增量更新。
func (s *Store) ReplaceRegions(ctx context.Context, regions []Region) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM _geo_regions`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO _geo_regions(code, level, name, province_code, province_name, feature_count, code_path, name_path, built_at)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range regions {
		if _, err := stmt.ExecContext(ctx, r.Code, r.Level, r.Name, r.ProvinceCode, r.ProvinceName, r.FeatureCount, r.CodePath, r.NamePath, r.BuiltAt); err != nil {
			return fmt.Errorf("insert %s/%s: %w", r.Level, r.Code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.L().Info("regions_replaced", "count", len(regions))
	return nil
}

// ListRegions: 按层级列出区域，level 为空时返回全部
func (s *Store) ListRegions(ctx context.Context, level string) ([]Region, error) {
	q := `SELECT code, level, name, province_code, province_name, feature_count, code_path, name_path, built_at FROM _geo_regions`
	var args []interface{}
	if level != "" {
		q += ` WHERE level = $1`
		args = append(args, level)
	}
	q += ` ORDER BY level, code`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Region
	for rows.Next() {
		var r Region
		if err := rows.Scan(&r.Code, &r.Level, &r.Name, &r.ProvinceCode, &r.ProvinceName, &r.FeatureCount, &r.CodePath, &r.NamePath, &r.BuiltAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
