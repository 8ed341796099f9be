package migrate

import (
	"database/sql"

	"chinamap/internal/logger"
)

// EnsureSchema：创建区域索引表
// 约束：使用 IF NOT EXISTS，重复执行无副作用；(level, code) 唯一
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _geo_regions (
            code TEXT NOT NULL,
            level TEXT NOT NULL,
            name TEXT NOT NULL,
            province_code TEXT NOT NULL DEFAULT '',
            province_name TEXT NOT NULL DEFAULT '',
            feature_count INT NOT NULL DEFAULT 0,
            code_path TEXT NOT NULL,
            name_path TEXT NOT NULL,
            built_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (level, code)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_geo_regions_name ON _geo_regions(level, name)`,
		`CREATE INDEX IF NOT EXISTS idx_geo_regions_province ON _geo_regions(province_code)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
