// Package mysql 保存决策周期的历史记录。
// 提供基于本地 JSON 行文件的 memory 驱动和基于 MySQL 的 mysql 驱动，
// 后者在启动时执行 deploy/migrations 中内嵌的迁移。
package mysql
