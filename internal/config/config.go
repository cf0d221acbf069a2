package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// 环境变量名称，沿用原有部署的命名。
const (
	EnvConfigPath = "GRINDER_CONFIG"
	EnvRPCURL     = "RPC_URL"
	EnvPrivateKey = "GRINDER_PRIVATE_KEY"
	EnvIntentNFT  = "INTENT_NFT_ADDRESS"
	EnvPoolsNFT   = "POOLS_NFT_ADDRESS"
	EnvGrinderAI  = "GRINDER_AI_ADDRESS"
	EnvPort       = "PORT"
)

// DefaultPath 是未设置 GRINDER_CONFIG 时读取的配置文件。
var DefaultPath = filepath.Join("configs", "grinder.yaml")

// Config 描述 grinderd 在启动阶段需要加载的全部配置。
type Config struct {
	Chain         ChainConfig         `yaml:"chain"`
	Grind         GrindConfig         `yaml:"grind"`
	PriceFeed     PriceFeedConfig     `yaml:"price_feed"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Events        EventsConfig        `yaml:"events"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Runtime       RuntimeConfig       `yaml:"runtime"`
}

// ChainConfig 包含节点地址、签名私钥与三个合约地址。
type ChainConfig struct {
	RPCURL           string `yaml:"rpc_url"`
	PrivateKey       string `yaml:"private_key"`
	IntentNFTAddress string `yaml:"intent_nft_address"`
	PoolsNFTAddress  string `yaml:"pools_nft_address"`
	GrinderAIAddress string `yaml:"grinder_ai_address"`
}

// GrindConfig 控制决策周期的参数。
type GrindConfig struct {
	IntentsPerGrind                   int             `yaml:"intents_per_grind"`
	MaxTxCostUSD                      decimal.Decimal `yaml:"max_tx_cost_usd"`
	MaxTxCostPercentFromActiveCapital decimal.Decimal `yaml:"max_tx_cost_percent_from_active_capital"`
	GasMultiplierNumerator            uint64          `yaml:"gas_multiplier_numerator"`
	GasMultiplierDenominator          uint64          `yaml:"gas_multiplier_denominator"`
	UnitDecimals                      int32           `yaml:"unit_decimals"`
	MaxConcurrency                    int             `yaml:"max_concurrency"`
	CycleTimeoutSeconds               int             `yaml:"cycle_timeout_seconds"`
}

// PriceFeedConfig 描述价格接口与回退价格。
type PriceFeedConfig struct {
	URL            string          `yaml:"url"`
	Asset          string          `yaml:"asset"`
	Fiat           string          `yaml:"fiat"`
	FallbackPrice  decimal.Decimal `yaml:"fallback_price"`
	TimeoutSeconds int             `yaml:"timeout_seconds"`
}

// ScheduleConfig 描述三个周期任务的间隔。
type ScheduleConfig struct {
	GrindIntervalSeconds        int `yaml:"grind_interval_seconds"`
	TotalIntentsIntervalSeconds int `yaml:"total_intents_interval_seconds"`
	PriceIntervalSeconds        int `yaml:"price_interval_seconds"`
	RefreshTimeoutSeconds       int `yaml:"refresh_timeout_seconds"`
}

// ServerConfig 控制状态 API 的监听地址。
type ServerConfig struct {
	Address string `yaml:"address"`
}

// StorageConfig 统一描述周期历史与游标的存储后端。
type StorageConfig struct {
	CycleStore  CycleStoreConfig  `yaml:"cycle_store"`
	CursorStore CursorStoreConfig `yaml:"cursor_store"`
}

// CycleStoreConfig 支持 memory 与 mysql 两种驱动。
type CycleStoreConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `yaml:"conn_max_idle_time_seconds"`
}

// CursorStoreConfig 支持 memory 与 redis 两种驱动。
type CursorStoreConfig struct {
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// EventsConfig 描述周期事件的发布目标：none、memory、redis 或 rabbitmq，多个驱动用逗号分隔。
type EventsConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig 是 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	Durable    bool   `yaml:"durable"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string   `yaml:"level"`
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"output_paths"`
	MaxSizeMB   int      `yaml:"max_size_mb"`
	MaxBackups  int      `yaml:"max_backups"`
	MaxAgeDays  int      `yaml:"max_age_days"`
	Compress    bool     `yaml:"compress"`
	AuditPath   string   `yaml:"audit_path"`
}

// ObservabilityConfig 控制独立的指标端口，留空时指标只挂在状态 API 上。
type ObservabilityConfig struct {
	MetricsAddress string `yaml:"metrics_address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Load 读取 .env、YAML 配置文件与环境变量，返回填充默认值后的配置。
// path 为空时使用 GRINDER_CONFIG 或 DefaultPath；文件不存在时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultPath
	}

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// applyEnv 用环境变量覆盖文件中的值。
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	override := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	override(EnvRPCURL, &c.Chain.RPCURL)
	override(EnvPrivateKey, &c.Chain.PrivateKey)
	override(EnvIntentNFT, &c.Chain.IntentNFTAddress)
	override(EnvPoolsNFT, &c.Chain.PoolsNFTAddress)
	override(EnvGrinderAI, &c.Chain.GrinderAIAddress)

	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("环境变量 %s 不是合法端口: %q", EnvPort, v)
		}
		c.Server.Address = ":" + strconv.Itoa(port)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Grind.IntentsPerGrind == 0 {
		c.Grind.IntentsPerGrind = 1
	}
	if c.Grind.MaxTxCostUSD.IsZero() {
		c.Grind.MaxTxCostUSD = decimal.RequireFromString("0.05")
	}
	if c.Grind.MaxTxCostPercentFromActiveCapital.IsZero() {
		c.Grind.MaxTxCostPercentFromActiveCapital = decimal.RequireFromString("0.0007")
	}
	if c.Grind.GasMultiplierNumerator == 0 && c.Grind.GasMultiplierDenominator == 0 {
		c.Grind.GasMultiplierNumerator, c.Grind.GasMultiplierDenominator = 14, 10
	}
	if c.Grind.UnitDecimals == 0 {
		c.Grind.UnitDecimals = 18
	}
	if c.Grind.CycleTimeoutSeconds == 0 {
		c.Grind.CycleTimeoutSeconds = 50
	}

	if c.PriceFeed.URL == "" {
		c.PriceFeed.URL = "https://api.coingecko.com/api/v3/simple/price"
	}
	if c.PriceFeed.Asset == "" {
		c.PriceFeed.Asset = "ethereum"
	}
	if c.PriceFeed.Fiat == "" {
		c.PriceFeed.Fiat = "usd"
	}
	if c.PriceFeed.FallbackPrice.IsZero() {
		c.PriceFeed.FallbackPrice = decimal.NewFromInt(2700)
	}
	if c.PriceFeed.TimeoutSeconds == 0 {
		c.PriceFeed.TimeoutSeconds = 10
	}

	for _, interval := range []*int{
		&c.Schedule.GrindIntervalSeconds,
		&c.Schedule.TotalIntentsIntervalSeconds,
		&c.Schedule.PriceIntervalSeconds,
	} {
		if *interval == 0 {
			*interval = 60
		}
	}
	if c.Schedule.RefreshTimeoutSeconds == 0 {
		c.Schedule.RefreshTimeoutSeconds = 20
	}

	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.CycleStore.Driver == "" {
		c.Storage.CycleStore.Driver = "memory"
	}
	if c.Storage.CursorStore.Driver == "" {
		c.Storage.CursorStore.Driver = "memory"
	}
	if c.Storage.CursorStore.Redis.Key == "" {
		c.Storage.CursorStore.Redis.Key = "grinder:cursor"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	if c.Events.Redis.Key == "" {
		c.Events.Redis.Key = "grinder:events"
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "grinder.events"
	}
	if c.Events.RabbitMQ.RoutingKey == "" {
		c.Events.RabbitMQ.RoutingKey = "grind.cycle"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// Validate 检查启动前必须满足的约束，返回合并后的全部错误。
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		errs = append(errs, fmt.Errorf("缺少 %s", EnvRPCURL))
	}
	if strings.TrimSpace(c.Chain.PrivateKey) == "" {
		errs = append(errs, fmt.Errorf("缺少 %s", EnvPrivateKey))
	}
	for _, addr := range []struct{ env, value string }{
		{EnvIntentNFT, c.Chain.IntentNFTAddress},
		{EnvPoolsNFT, c.Chain.PoolsNFTAddress},
		{EnvGrinderAI, c.Chain.GrinderAIAddress},
	} {
		if !common.IsHexAddress(strings.TrimSpace(addr.value)) {
			errs = append(errs, fmt.Errorf("%s 不是合法地址: %q", addr.env, addr.value))
		}
	}

	g := c.Grind
	if g.IntentsPerGrind <= 0 {
		errs = append(errs, fmt.Errorf("intents_per_grind 必须为正数，当前为 %d", g.IntentsPerGrind))
	}
	if !g.MaxTxCostUSD.IsPositive() {
		errs = append(errs, fmt.Errorf("max_tx_cost_usd 必须为正数，当前为 %s", g.MaxTxCostUSD))
	}
	if g.MaxTxCostPercentFromActiveCapital.IsNegative() || g.MaxTxCostPercentFromActiveCapital.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("max_tx_cost_percent_from_active_capital 必须位于 [0,1]，当前为 %s", g.MaxTxCostPercentFromActiveCapital))
	}
	if g.GasMultiplierDenominator == 0 {
		errs = append(errs, errors.New("gas_multiplier_denominator 不能为 0"))
	} else if g.GasMultiplierNumerator < g.GasMultiplierDenominator {
		errs = append(errs, fmt.Errorf("gas 放大系数 %d/%d 小于 1", g.GasMultiplierNumerator, g.GasMultiplierDenominator))
	}
	if g.UnitDecimals < 0 {
		errs = append(errs, fmt.Errorf("unit_decimals 不能为负数，当前为 %d", g.UnitDecimals))
	}
	if g.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("max_concurrency 不能为负数，当前为 %d", g.MaxConcurrency))
	}
	if !c.PriceFeed.FallbackPrice.IsPositive() {
		errs = append(errs, fmt.Errorf("fallback_price 必须为正数，当前为 %s", c.PriceFeed.FallbackPrice))
	}
	for name, seconds := range map[string]int{
		"grind_interval_seconds":         c.Schedule.GrindIntervalSeconds,
		"total_intents_interval_seconds": c.Schedule.TotalIntentsIntervalSeconds,
		"price_interval_seconds":         c.Schedule.PriceIntervalSeconds,
	} {
		if seconds <= 0 {
			errs = append(errs, fmt.Errorf("%s 必须为正数，当前为 %d", name, seconds))
		}
	}

	switch c.Storage.CycleStore.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.CycleStore.DSN) == "" {
			errs = append(errs, errors.New("mysql 周期存储需要配置 dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的周期存储驱动: %s", c.Storage.CycleStore.Driver))
	}
	switch c.Storage.CursorStore.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Storage.CursorStore.Redis.Address) == "" {
			errs = append(errs, errors.New("redis 游标存储需要配置 address"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的游标存储驱动: %s", c.Storage.CursorStore.Driver))
	}
	for _, driver := range strings.Split(c.Events.Driver, ",") {
		switch strings.ToLower(strings.TrimSpace(driver)) {
		case "none", "memory":
		case "redis":
			if strings.TrimSpace(c.Events.Redis.Address) == "" {
				errs = append(errs, errors.New("redis 事件发布需要配置 address"))
			}
		case "rabbitmq":
			if strings.TrimSpace(c.Events.RabbitMQ.URL) == "" {
				errs = append(errs, errors.New("rabbitmq 事件发布需要配置 url"))
			}
		default:
			errs = append(errs, fmt.Errorf("未知的事件驱动: %s", driver))
		}
	}
	return errors.Join(errs...)
}

// GrindTimeout 返回单个决策周期的超时时间。
func (c *Config) GrindTimeout() time.Duration {
	return time.Duration(c.Grind.CycleTimeoutSeconds) * time.Second
}

// RefreshTimeout 返回刷新任务的超时时间。
func (c *Config) RefreshTimeout() time.Duration {
	return time.Duration(c.Schedule.RefreshTimeoutSeconds) * time.Second
}

// Interval 将秒数转换为时间间隔。
func Interval(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
