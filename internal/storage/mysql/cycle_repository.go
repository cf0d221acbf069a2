package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	xerrors "GrinderAI-Chain/internal/errors"
	"GrinderAI-Chain/internal/grind"
)

// memoryRetention 是 memory 驱动可查询、压缩后落盘的最近记录条数。
const memoryRetention = 512

// DefaultListLimit 是未指定 limit 时返回的记录条数。
const DefaultListLimit = 20

// ErrUnsupportedDriver 表示配置了未知的存储驱动。
var ErrUnsupportedDriver = errors.New("暂不支持的存储驱动")

// BatchEntry 是批次中的一对 (池子, 操作)。
type BatchEntry struct {
	PoolID uint64 `json:"pool_id"`
	Op     string `json:"op"`
}

// CycleRecord 表示一个决策周期的落库结构。
type CycleRecord struct {
	ID            string       `json:"id"`
	StartedAt     int64        `json:"started_at"`
	FinishedAt    int64        `json:"finished_at"`
	Outcome       string       `json:"outcome"`
	IntentIDs     []uint64     `json:"intent_ids"`
	PoolCount     int          `json:"pool_count"`
	Batch         []BatchEntry `json:"batch"`
	PoolFailures  int          `json:"pool_failures"`
	UnitCost      uint64       `json:"unit_cost"`
	UnitPrice     string       `json:"unit_price,omitempty"`
	CostCeiling   uint64       `json:"cost_ceiling,omitempty"`
	PriceEstimate string       `json:"price_estimate,omitempty"`
	FiatCost      string       `json:"fiat_cost,omitempty"`
	Budget        string       `json:"budget,omitempty"`
	TxHash        string       `json:"tx_hash,omitempty"`
	ErrorCode     string       `json:"error_code,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// NewCycleRecord 将周期报告转换为落库结构，时间以毫秒保存。
func NewCycleRecord(report grind.CycleReport) CycleRecord {
	record := CycleRecord{
		ID:           report.ID,
		StartedAt:    report.StartedAt.UnixMilli(),
		FinishedAt:   report.FinishedAt.UnixMilli(),
		Outcome:      string(report.Outcome),
		IntentIDs:    append([]uint64{}, report.IntentIDs...),
		PoolCount:    report.PoolCount,
		Batch:        make([]BatchEntry, report.Batch.Len()),
		PoolFailures: len(report.PoolFailures),
		UnitCost:     report.UnitCost,
		UnitPrice:    report.UnitPrice,
		CostCeiling:  report.CostCeiling,
		TxHash:       report.TxHash,
		Error:        report.ErrorMessage(),
	}
	for i := range report.Batch.PoolIDs {
		record.Batch[i] = BatchEntry{PoolID: report.Batch.PoolIDs[i], Op: report.Batch.Ops[i].String()}
	}
	if !report.Budget.IsZero() {
		record.PriceEstimate = report.PriceEstimate.String()
		record.FiatCost = report.FiatCost.String()
		record.Budget = report.Budget.String()
	}
	if report.Err != nil {
		record.ErrorCode = string(xerrors.CodeOf(report.Err))
	}
	return record
}

// CycleRepository 抽象周期历史的持久化接口，同时满足 grind.CycleRecorder。
type CycleRepository interface {
	Record(ctx context.Context, report grind.CycleReport) error
	Save(ctx context.Context, record CycleRecord) error
	ListLatest(ctx context.Context, limit int) ([]CycleRecord, error)
	Close() error
}

// MemoryCycleRepository 使用本地 JSON 行文件保存周期记录，适合单机部署。
// 文件超过 2×memoryRetention 行时压缩为最近 memoryRetention 条。
type MemoryCycleRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []CycleRecord // 按写入顺序，最旧在前
	lines    int
}

// NewMemoryCycleRepository 创建 memory 驱动并从磁盘恢复最近的记录。
func NewMemoryCycleRepository(dataDir string) (*MemoryCycleRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryCycleRepository{dataFile: filepath.Join(dataDir, "cycles.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	if repo.lines > 2*memoryRetention {
		if err := repo.compact(); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// Record 保存一份周期报告。
func (m *MemoryCycleRepository) Record(ctx context.Context, report grind.CycleReport) error {
	return m.Save(ctx, NewCycleRecord(report))
}

// Save 以追加写的方式记录周期结果。
func (m *MemoryCycleRepository) Save(_ context.Context, record CycleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化周期记录失败")
	}

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开周期日志失败")
	}
	_, err = file.Write(append(encoded, '\n'))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入周期日志失败")
	}

	m.records = retain(append(m.records, record))
	m.lines++
	if m.lines > 2*memoryRetention {
		if err := m.compact(); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "压缩周期日志失败")
		}
	}
	return nil
}

// ListLatest 返回最近的周期记录，按写入时间倒序排列。
func (m *MemoryCycleRepository) ListLatest(_ context.Context, limit int) ([]CycleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > len(m.records) {
		limit = len(m.records)
	}
	if limit > memoryRetention {
		limit = memoryRetention
	}
	results := make([]CycleRecord, limit)
	for i := range results {
		results[i] = m.records[len(m.records)-1-i]
	}
	return results, nil
}

// Close 对 memory 驱动无操作。
func (m *MemoryCycleRepository) Close() error { return nil }

func (m *MemoryCycleRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取周期日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var restored []CycleRecord
	lines := 0
	for scanner.Scan() {
		lines++
		var record CycleRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = retain(append(restored, record))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析周期日志失败: %w", err)
	}

	m.records = restored
	m.lines = lines
	return nil
}

// compact 用内存中保留的记录重写周期日志，调用方需持有写锁或处于构造阶段。
func (m *MemoryCycleRepository) compact() error {
	if len(m.records) > memoryRetention {
		kept := make([]CycleRecord, memoryRetention, 2*memoryRetention+1)
		copy(kept, m.records[len(m.records)-memoryRetention:])
		m.records = kept
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.dataFile), "cycles-*.log")
	if err != nil {
		return fmt.Errorf("创建临时周期日志失败: %w", err)
	}
	defer os.Remove(tmp.Name())

	writer := bufio.NewWriter(tmp)
	for _, record := range m.records {
		encoded, err := json.Marshal(record)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("序列化周期记录失败: %w", err)
		}
		writer.Write(encoded)
		writer.WriteByte('\n')
	}
	if err := writer.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("写入临时周期日志失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时周期日志失败: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.dataFile); err != nil {
		return fmt.Errorf("替换周期日志失败: %w", err)
	}
	m.lines = len(m.records)
	return nil
}

// retain 把记录数限制在 2×memoryRetention 以内，超出时只留最近 memoryRetention 条。
func retain(records []CycleRecord) []CycleRecord {
	if len(records) <= 2*memoryRetention {
		return records
	}
	kept := make([]CycleRecord, memoryRetention, 2*memoryRetention+1)
	copy(kept, records[len(records)-memoryRetention:])
	return kept
}

// SQLCycleRepository 使用 MySQL 保存周期记录。
type SQLCycleRepository struct {
	db *sql.DB
}

// NewSQLCycleRepository 创建连接池并执行迁移。
func NewSQLCycleRepository(ctx context.Context, cfg Config) (*SQLCycleRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLCycleRepository{db: db}, nil
}

const insertCycleSQL = `INSERT INTO grind_cycles
    (id, started_at, finished_at, outcome, intent_ids, pool_count, batch, pool_failures,
     unit_cost, unit_price, cost_ceiling, price_estimate, fiat_cost, budget, tx_hash, error_code, error)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectLatestCyclesSQL = `SELECT id, started_at, finished_at, outcome, intent_ids, pool_count, batch, pool_failures,
     unit_cost, unit_price, cost_ceiling, price_estimate, fiat_cost, budget, tx_hash, error_code, error
    FROM grind_cycles ORDER BY started_at DESC, id DESC LIMIT ?`

// Record 保存一份周期报告。
func (s *SQLCycleRepository) Record(ctx context.Context, report grind.CycleReport) error {
	return s.Save(ctx, NewCycleRecord(report))
}

// Save 将周期记录写入 MySQL。
func (s *SQLCycleRepository) Save(ctx context.Context, record CycleRecord) error {
	intentIDs, err := json.Marshal(record.IntentIDs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化意图列表失败")
	}
	batch, err := json.Marshal(record.Batch)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化批次失败")
	}

	if _, err := s.db.ExecContext(ctx, insertCycleSQL,
		record.ID,
		record.StartedAt,
		record.FinishedAt,
		record.Outcome,
		string(intentIDs),
		record.PoolCount,
		string(batch),
		record.PoolFailures,
		record.UnitCost,
		record.UnitPrice,
		record.CostCeiling,
		record.PriceEstimate,
		record.FiatCost,
		record.Budget,
		record.TxHash,
		record.ErrorCode,
		record.Error,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入周期记录失败",
			xerrors.WithMetadata("cycle_id", record.ID))
	}
	return nil
}

// ListLatest 查询最近的若干条周期记录。
func (s *SQLCycleRepository) ListLatest(ctx context.Context, limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, selectLatestCyclesSQL, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询周期记录失败")
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		var (
			record    CycleRecord
			intentIDs string
			batch     string
		)
		if err := rows.Scan(
			&record.ID, &record.StartedAt, &record.FinishedAt, &record.Outcome, &intentIDs,
			&record.PoolCount, &batch, &record.PoolFailures, &record.UnitCost, &record.UnitPrice,
			&record.CostCeiling, &record.PriceEstimate, &record.FiatCost, &record.Budget,
			&record.TxHash, &record.ErrorCode, &record.Error,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析周期记录失败")
		}
		if err := json.Unmarshal([]byte(intentIDs), &record.IntentIDs); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析意图列表失败")
		}
		if err := json.Unmarshal([]byte(batch), &record.Batch); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析批次失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历周期记录失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLCycleRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ CycleRepository     = (*MemoryCycleRepository)(nil)
	_ CycleRepository     = (*SQLCycleRepository)(nil)
	_ grind.CycleRecorder = (*SQLCycleRepository)(nil)
)
