package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"
)

// 连接池与网络超时的默认值。
const (
	defaultMaxOpenConns    = 4
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 30 * time.Minute
	defaultIOTimeout       = 10 * time.Second
)

// Config 描述 MySQL 连接池参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// normalizeDSN 解析 DSN，并为未设置的读写与连接超时补上默认值。
func normalizeDSN(dsn string) (*driver.Config, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("周期历史 MySQL DSN 不能为空")
	}
	parsed, err := driver.ParseDSN(strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("解析周期历史 MySQL DSN 失败: %w", err)
	}
	if parsed.Timeout == 0 {
		parsed.Timeout = defaultIOTimeout
	}
	if parsed.ReadTimeout == 0 {
		parsed.ReadTimeout = defaultIOTimeout
	}
	if parsed.WriteTimeout == 0 {
		parsed.WriteTimeout = defaultIOTimeout
	}
	return parsed, nil
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	parsed, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	connector, err := driver.NewConnector(parsed)
	if err != nil {
		return nil, fmt.Errorf("创建 MySQL 连接器失败: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(positiveOr(cfg.MaxOpenConns, defaultMaxOpenConns))
	db.SetMaxIdleConns(positiveOr(cfg.MaxIdleConns, defaultMaxIdleConns))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(defaultConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到周期历史 MySQL: %w", err)
	}
	return db, nil
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
