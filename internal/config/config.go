package config

import (
	"strings"
	"time"

	"github.com/blues/stamp/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"` // 可信反向代理，为空时只认连接对端地址
}

type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"` // postgres, sqlite
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbname"`
	SSLMode    string `mapstructure:"sslmode"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ChainConfig 单链配置
type ChainConfig struct {
	ChainType      string         `mapstructure:"chain_type"`      // 链类型 (ethereum, polygon, etc.)
	ChainId        int64          `mapstructure:"chain_id"`        // 链ID
	RpcUrl         string         `mapstructure:"rpc_url"`         // RPC节点URL
	PrivateKey     string         `mapstructure:"private_key"`     // 代付钱包私钥
	ReceiptTimeout time.Duration  `mapstructure:"receipt_timeout"` // 等待回执超时
	PollInterval   time.Duration  `mapstructure:"poll_interval"`   // 回执轮询间隔
	StampContract  ContractConfig `mapstructure:"stamp_contract"`  // 印章NFT合约
}

// ContractConfig 单个合约配置
type ContractConfig struct {
	Address  string `mapstructure:"address"`   // 合约地址
	ABIPath  string `mapstructure:"abi_path"`  // ABI文件路径，为空时使用内置ABI
	BlockNum int64  `mapstructure:"block_num"` // 合约部署区块号
}

// RelayConfig 代付接口限流配置
type RelayConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

type SchedulerConfig struct {
	ExpiryInterval int `mapstructure:"expiry_interval"` // 秒
}

type MonitorConfig struct {
	Enabled   bool  `mapstructure:"enabled"`
	Interval  int   `mapstructure:"interval"` // 秒
	BatchSize int64 `mapstructure:"batch_size"`
	Workers   int   `mapstructure:"workers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.LogConfig 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.LogConfig 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.LogConfig 接口
func (l LogConfig) GetFile() string {
	return l.File
}

func Load() *Config {
	// .env 文件可选
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded: %v", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/stamp")

	setDefaults(v)

	// 自动读取环境变量，例如 CHAIN_PRIVATE_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		logger.Warn("Warning: Could not read config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}

	return &config
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "stamp")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "stamp.db")
	v.SetDefault("chain.chain_type", "ethereum")
	v.SetDefault("chain.chain_id", 11155111)
	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.receipt_timeout", 2*time.Minute)
	v.SetDefault("chain.poll_interval", 2*time.Second)
	v.SetDefault("chain.stamp_contract.address", "")
	v.SetDefault("chain.stamp_contract.abi_path", "")
	v.SetDefault("chain.stamp_contract.block_num", 0)
	v.SetDefault("relay.rate_per_second", 5)
	v.SetDefault("relay.burst", 10)
	v.SetDefault("scheduler.expiry_interval", 300)
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", 30)
	v.SetDefault("monitor.batch_size", 500)
	v.SetDefault("monitor.workers", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/app.log")
}
