package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"GrinderAI-Chain/deploy/migrations"
)

var embeddedMigrations fs.ReadFileFS = migrations.Files

const (
	createMigrationTableSQL = `CREATE TABLE IF NOT EXISTS grinder_schema_migrations (
    version VARCHAR(32) NOT NULL PRIMARY KEY,
    name VARCHAR(128) NOT NULL,
    applied_at BIGINT NOT NULL
)`
	selectMigrationVersionsSQL = `SELECT version FROM grinder_schema_migrations`
	insertMigrationVersionSQL  = `INSERT INTO grinder_schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`
)

// migrationFile 是一个按 ';' 切分后的内嵌 SQL 文件。
type migrationFile struct {
	version    string
	name       string
	statements []string
}

// runMigrations 为周期历史表执行尚未应用的内嵌迁移，版本号小的先执行。
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createMigrationTableSQL); err != nil {
		return fmt.Errorf("创建周期历史迁移记录表失败: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	pending, err := loadMigrationFiles()
	if err != nil {
		return err
	}
	for _, migration := range pending {
		if applied[migration.version] {
			continue
		}
		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, selectMigrationVersionsSQL)
	if err != nil {
		return nil, fmt.Errorf("查询已应用的周期历史迁移失败: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("解析迁移版本失败: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历迁移版本失败: %w", err)
	}
	return applied, nil
}

// applyMigration 在单个事务内执行迁移语句并登记版本，任一语句失败即回滚。
func applyMigration(ctx context.Context, db *sql.DB, migration migrationFile) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移 %s 的事务失败: %w", migration.name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range migration.statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("执行迁移 %s 第 %d 条语句失败: %w", migration.name, i+1, err)
		}
	}
	if _, err = tx.ExecContext(ctx, insertMigrationVersionSQL, migration.version, migration.name, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("登记迁移 %s 失败: %w", migration.name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移 %s 失败: %w", migration.name, err)
	}
	return nil
}

func loadMigrationFiles() ([]migrationFile, error) {
	names, err := fs.Glob(embeddedMigrations, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("列出迁移文件失败: %w", err)
	}

	files := make([]migrationFile, 0, len(names))
	for _, name := range names {
		content, err := embeddedMigrations.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := splitSQLStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		files = append(files, migrationFile{
			version:    parseMigrationVersion(name),
			name:       name,
			statements: statements,
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].version < files[j].version
	})
	return files, nil
}

func splitSQLStatements(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

// parseMigrationVersion 取文件名中第一个 '_' 之前的部分，例如 0001_create_grind_cycles.sql -> 0001。
func parseMigrationVersion(name string) string {
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	if version, _, found := strings.Cut(base, "_"); found && version != "" {
		return version
	}
	return base
}
