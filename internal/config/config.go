package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/physicalrisk/apietl/pkg/logger"
)

// Config 应用配置结构
type Config struct {
	Log          LogConfig               `mapstructure:"log"`
	Warehouse    WarehouseConfig         `mapstructure:"warehouse"`
	HTTP         HTTPConfig              `mapstructure:"http"`
	Pipeline     PipelineConfig          `mapstructure:"pipeline"`
	Orchestrator OrchestratorConfig      `mapstructure:"orchestrator"`
	Archive      ArchiveConfig           `mapstructure:"archive"`
	Server       ServerConfig            `mapstructure:"server"`
	Schedule     ScheduleConfig          `mapstructure:"schedule"`
	Sources      map[string]SourceConfig `mapstructure:"sources"`
	// APIKeys 数据源认证键：键名为环境变量名（如 RIVER_API_KEY），在 Load 时从环境变量补齐
	APIKeys map[string]string `mapstructure:"api_keys"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	// RunDir 单次运行日志目录；为空则不生成独立运行日志
	RunDir string `mapstructure:"run_dir"`
}

// Logger 转换为日志初始化参数
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:      l.Level,
		Format:     l.Format,
		Output:     l.Output,
		FilePath:   l.FilePath,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
		Compress:   l.Compress,
	}
}

// WarehouseConfig 数据仓库配置
type WarehouseConfig struct {
	// Driver 存储驱动：postgres | sqlite
	Driver          string         `mapstructure:"driver"`
	Postgres        PostgresConfig `mapstructure:"postgres"`
	SQLite          SQLiteConfig   `mapstructure:"sqlite"`
	MaxIdleConns    int            `mapstructure:"max_idle_conns"`
	MaxOpenConns    int            `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration  `mapstructure:"conn_max_lifetime"`
	// AutoMigrate 启用后按数据源声明自动建表（含唯一索引与 cached_at 列）
	AutoMigrate bool `mapstructure:"auto_migrate"`
	// CachedAtColumn 每次 upsert 刷新的时间戳列
	CachedAtColumn string `mapstructure:"cached_at_column"`
	BatchSize      int    `mapstructure:"batch_size"`
}

// PostgresConfig PostgreSQL 连接参数
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// SQLiteConfig SQLite 配置（本地开发）
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// HTTPConfig 外部 API 调用参数
type HTTPConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
	BaseDelay          time.Duration `mapstructure:"base_delay"`
	UserAgent          string        `mapstructure:"user_agent"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
}

// PipelineConfig 分页驱动参数
type PipelineConfig struct {
	// SampleLimit 0 表示不限制
	SampleLimit int `mapstructure:"sample_limit"`
	// MaxPages 单个分区最多抓取的页数，0 表示不限制
	MaxPages int `mapstructure:"max_pages"`
}

// OrchestratorConfig 全量运行策略
type OrchestratorConfig struct {
	// FailPolicy 退出码策略：never | any | all
	FailPolicy string `mapstructure:"fail_policy"`
}

// ArchiveConfig 原始报文归档配置
type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// StorageBackend 存储后端：local | minio
	StorageBackend string             `mapstructure:"storage_backend"`
	Prefix         string             `mapstructure:"prefix"`
	Local          LocalArchiveConfig `mapstructure:"local"`
	Minio          MinioConfig        `mapstructure:"minio"`
}

// LocalArchiveConfig 本地归档目录
type LocalArchiveConfig struct {
	BaseDir        string `mapstructure:"base_dir"`
	MkdirIfMissing bool   `mapstructure:"mkdir_if_missing"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// ServerConfig 运维 API 配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ScheduleConfig 定时运行配置
type ScheduleConfig struct {
	// Cron 标准 5 段 cron 表达式，为空则不启用定时
	Cron string `mapstructure:"cron"`
	// SampleLimit 定时运行使用的采样上限
	SampleLimit int `mapstructure:"sample_limit"`
}

// SourceConfig 单个数据源的覆盖项
type SourceConfig struct {
	Enabled  *bool         `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	PageSize int           `mapstructure:"page_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// Partitions 覆盖数据源默认分区（地区、年份、行政代码等）
	Partitions []string `mapstructure:"partitions"`
}

// KnownAPIKeyEnvs 数据源使用的认证键环境变量
var KnownAPIKeyEnvs = []string{
	"RIVER_API_KEY",
	"EMERGENCYMESSAGE_API_KEY",
	"TYPHOON_API_KEY",
	"PUBLICDATA_API_KEY",
	"VWORLD_API_KEY",
}

// EnvPrefix 环境变量前缀
const EnvPrefix = "APIETL"

// Holder 可整体替换的配置引用；热加载时存入新对象，已取出的 *Config 不再被修改
type Holder struct {
	p atomic.Pointer[Config]
}

// NewHolder 创建持有 c 的引用
func NewHolder(c *Config) *Holder {
	h := &Holder{}
	h.p.Store(c)
	return h
}

// Load 返回当前配置快照
func (h *Holder) Load() *Config {
	return h.p.Load()
}

// Store 替换配置
func (h *Holder) Store(c *Config) {
	h.p.Store(c)
}

var globalConfig Holder

// Load 加载配置文件；configPath 为空时按默认路径搜索，找不到配置文件时仅使用默认值与环境变量
func Load(configPath string) (*Config, error) {
	// .env 优先加载，不覆盖已存在的环境变量
	loadDotenv(configPath)

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveAPIKeys(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	globalConfig.Store(&config)
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file_path", "./logs/apietl.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.run_dir", "./logs/runs")

	// 数据仓库默认连接（与原有 DW_* 环境变量一致）
	v.SetDefault("warehouse.driver", "postgres")
	v.SetDefault("warehouse.postgres.host", "localhost")
	v.SetDefault("warehouse.postgres.port", 5434)
	v.SetDefault("warehouse.postgres.database", "skala_datawarehouse")
	v.SetDefault("warehouse.postgres.username", "skala_dw_user")
	v.SetDefault("warehouse.postgres.sslmode", "disable")
	v.SetDefault("warehouse.sqlite.path", "./data/warehouse.db")
	v.SetDefault("warehouse.max_idle_conns", 1)
	v.SetDefault("warehouse.max_open_conns", 2)
	v.SetDefault("warehouse.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("warehouse.cached_at_column", "cached_at")
	v.SetDefault("warehouse.batch_size", 100)

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.base_delay", time.Second)
	v.SetDefault("http.user_agent", "SKALA-ETL/1.0")

	v.SetDefault("pipeline.sample_limit", 0)
	v.SetDefault("pipeline.max_pages", 1000)

	v.SetDefault("orchestrator.fail_policy", "any")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.storage_backend", "local")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.local.base_dir", "./data/archive")
	v.SetDefault("archive.local.mkdir_if_missing", true)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 18080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
}

// bindLegacyEnv 兼容原有的无前缀环境变量
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("warehouse.postgres.host", "DW_HOST")
	_ = v.BindEnv("warehouse.postgres.port", "DW_PORT")
	_ = v.BindEnv("warehouse.postgres.database", "DW_NAME")
	_ = v.BindEnv("warehouse.postgres.username", "DW_USER")
	_ = v.BindEnv("warehouse.postgres.password", "DW_PASSWORD")
	_ = v.BindEnv("pipeline.sample_limit", "SAMPLE_LIMIT")
}

func loadDotenv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		if idx := strings.LastIndexAny(configPath, `/\`); idx >= 0 {
			candidates = append(candidates, configPath[:idx+1]+".env")
		}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// resolveAPIKeys 用环境变量补齐认证键（配置文件中显式给出的值优先）
func resolveAPIKeys(cfg *Config) {
	if cfg.APIKeys == nil {
		cfg.APIKeys = make(map[string]string)
	}
	// viper 会把 map 键转成小写，这里统一为大写环境变量名
	normalized := make(map[string]string, len(cfg.APIKeys))
	for k, val := range cfg.APIKeys {
		normalized[strings.ToUpper(k)] = strings.TrimSpace(val)
	}
	for _, name := range KnownAPIKeyEnvs {
		if normalized[name] != "" {
			continue
		}
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			normalized[name] = val
		}
	}
	cfg.APIKeys = normalized
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	switch strings.ToLower(c.Warehouse.Driver) {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported warehouse driver: %q", c.Warehouse.Driver)
	}
	switch strings.ToLower(c.Orchestrator.FailPolicy) {
	case "never", "any", "all":
	default:
		return fmt.Errorf("unsupported orchestrator fail_policy: %q", c.Orchestrator.FailPolicy)
	}
	if c.HTTP.MaxRetries < 1 {
		return fmt.Errorf("http.max_retries must be >= 1, got %d", c.HTTP.MaxRetries)
	}
	if c.Pipeline.SampleLimit < 0 {
		return fmt.Errorf("pipeline.sample_limit must be >= 0, got %d", c.Pipeline.SampleLimit)
	}
	return nil
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig.Load()
}

// APIKey 返回指定环境变量名对应的认证键
func (c *Config) APIKey(envName string) string {
	if c == nil || envName == "" {
		return ""
	}
	return c.APIKeys[strings.ToUpper(envName)]
}

// Source 返回数据源覆盖项（未配置时为零值）
func (c *Config) Source(name string) SourceConfig {
	if c == nil || c.Sources == nil {
		return SourceConfig{}
	}
	return c.Sources[strings.ToLower(name)]
}

// SourceEnabled 数据源默认启用，仅当显式配置 enabled: false 时禁用
func (c *Config) SourceEnabled(name string) bool {
	sc := c.Source(name)
	return sc.Enabled == nil || *sc.Enabled
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
