// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码只存在 .env 文件中（YAML 中不存储任何密码）。
//	.env 文件同时被 Docker Compose（--env-file）和 Go 应用（godotenv）
//	共用，确保单一数据源。
//
// 环境：
//   - 开发: APP_ENV=dev → configs/dev.yaml（默认）
//   - 测试: APP_ENV=test → configs/test.yaml
//   - 生产: APP_ENV=prod → configs/prod.yaml
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig 快照数据库配置
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" 或 "postgres"，空则禁用快照
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从 DB_PASSWORD 环境变量读取
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"` // 只从 REDIS_PASSWORD 环境变量读取
}

// MonitorConfig 监控器策略参数
type MonitorConfig struct {
	SweepInterval      time.Duration `yaml:"sweep_interval"`       // 孤儿扫描周期
	WorkerTimeout      time.Duration `yaml:"worker_timeout"`       // Worker 心跳超时
	StaleThreshold     time.Duration `yaml:"stale_threshold"`      // RECEIVED/PENDING 陈旧阈值
	SubscriberBuffer   int           `yaml:"subscriber_buffer"`    // 订阅通道容量
	SubscriberMaxDrops int64         `yaml:"subscriber_max_drops"` // 订阅者丢弃上限
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug / info / warn / error
	Format string `yaml:"format"` // json / text
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	APIPort        string
	DatabaseDriver string // "sqlite"、"postgres" 或空（禁用快照）
	DatabaseDSN    string
	RedisURL       string
	Monitor        MonitorConfig
	Logging        LoggingConfig
}
