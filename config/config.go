package config

import (
	"os"
	"strconv"
	"strings"
)

// 全局配置实例
var global *Config

// 币安环境相关默认值
const (
	DefaultBinanceEnvironment = "testnet"
	BinanceDefaultLeverage    = 5
	BinanceDefaultMaxLeverage = 20

	// 演示账户的 API 凭据环境变量（account_id = "demo"）
	DemoBinanceAPIKeyEnv    = "DEMO_BINANCE_API_KEY"
	DemoBinanceSecretKeyEnv = "DEMO_BINANCE_SECRET_KEY"
)

// Config 全局配置（从 .env 加载）
// 只包含真正的全局配置，交易相关配置在 trader 级别
type Config struct {
	// 服务配置
	APIServerPort int
	JWTSecret     string
	AdminPassword string

	// 数据库路径
	DatabasePath string

	// 默认币安交易环境: mainnet 或 testnet
	BinanceEnvironment string
}

// Init 初始化全局配置（从 .env 加载）
func Init() {
	cfg := &Config{
		APIServerPort:      8080,
		DatabasePath:       "futurex.db",
		BinanceEnvironment: DefaultBinanceEnvironment,
	}

	// 从环境变量加载
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = strings.TrimSpace(v)
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "default-jwt-secret-change-in-production"
	}

	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.AdminPassword = strings.TrimSpace(v)
	}

	if v := os.Getenv("API_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.APIServerPort = port
		}
	}

	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = strings.TrimSpace(v)
	}

	if v := os.Getenv("BINANCE_ENVIRONMENT"); v != "" {
		env := strings.ToLower(strings.TrimSpace(v))
		if env == "mainnet" || env == "testnet" {
			cfg.BinanceEnvironment = env
		}
	}

	global = cfg
}

// Get 获取全局配置
func Get() *Config {
	if global == nil {
		Init()
	}
	return global
}
