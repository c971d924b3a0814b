// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（密码）和 APP_ENV
//  2. 根据 APP_ENV 加载对应的 configs/{env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() *Config {
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	env := parseEnv(getEnv("APP_ENV", "dev"))
	yamlCfg := loadYAMLConfig(env)

	// 敏感信息只从环境变量读取
	yamlCfg.Database.Password = os.Getenv("DB_PASSWORD")
	yamlCfg.Redis.Password = os.Getenv("REDIS_PASSWORD")

	// 环境变量覆盖
	if port := os.Getenv("API_PORT"); port != "" {
		yamlCfg.Server.Port = port
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		yamlCfg.Database.Driver = driver
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		yamlCfg.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		yamlCfg.Logging.Format = format
	}

	cfg := &Config{
		Env:            env,
		APIPort:        yamlCfg.Server.Port,
		DatabaseDriver: strings.ToLower(yamlCfg.Database.Driver),
		DatabaseDSN:    buildDatabaseDSN(yamlCfg.Database),
		RedisURL:       buildRedisURL(yamlCfg.Redis),
		Monitor:        yamlCfg.Monitor,
		Logging:        yamlCfg.Logging,
	}
	cfg.Monitor.validate()

	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	cfg := &YAMLConfig{
		Server:   ServerConfig{Port: "8765"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "kanchi.db", Host: "localhost", Port: 5432, User: "kanchi", Name: "kanchi", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		Monitor: MonitorConfig{
			SweepInterval:      30 * time.Second,
			WorkerTimeout:      60 * time.Second,
			StaleThreshold:     10 * time.Minute,
			SubscriberBuffer:   256,
			SubscriberMaxDrops: 1024,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}

	for _, base := range configPaths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

// buildDatabaseDSN 构建数据库连接串
//
// sqlite 返回文件路径，postgres 返回连接 URL，未知驱动返回空串（禁用快照）。
func buildDatabaseDSN(db DatabaseConfig) string {
	switch strings.ToLower(db.Driver) {
	case "sqlite":
		return db.Path
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			db.User, db.Password, db.Host, db.Port, db.Name, db.SSLMode)
	}
	return ""
}

// buildRedisURL 构建 Redis 连接字符串
func buildRedisURL(r RedisConfig) string {
	if r.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", r.Password, r.Host, r.Port, r.DB)
	}
	return fmt.Sprintf("redis://%s:%d/%d", r.Host, r.Port, r.DB)
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密码）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, DB: %s/%s, Redis: %s}",
		c.Env, c.DatabaseDriver, maskPassword(c.DatabaseDSN), maskPassword(c.RedisURL))
}

// maskPassword 隐藏连接串中的密码
func maskPassword(url string) string {
	re := regexp.MustCompile(`(://[^:/@]*:)([^@]+)(@)`)
	return re.ReplaceAllString(url, "${1}***${3}")
}

// validate 验证并填充监控器默认值
func (m *MonitorConfig) validate() {
	if m.SweepInterval <= 0 {
		m.SweepInterval = 30 * time.Second
	}
	if m.WorkerTimeout <= 0 {
		m.WorkerTimeout = 60 * time.Second
	}
	if m.StaleThreshold <= 0 {
		m.StaleThreshold = 10 * time.Minute
	}
	if m.SubscriberBuffer <= 0 {
		m.SubscriberBuffer = 256
	}
	if m.SubscriberMaxDrops <= 0 {
		m.SubscriberMaxDrops = 1024
	}
}
