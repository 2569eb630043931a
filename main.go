package main

import (
	"futurex/api"
	"futurex/auth"
	"futurex/config"
	"futurex/crypto"
	"futurex/logger"
	"futurex/manager"
	"futurex/store"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from .env file if present (for local/dev runs)
	// In Docker Compose, variables are injected by the runtime and this is harmless.
	_ = godotenv.Load()

	// 初始化日志
	logger.Init(nil)

	logger.Info("╔════════════════════════════════════════════════════════════╗")
	logger.Info("║    🚀 FutureX - 币安合约交易执行服务                       ║")
	logger.Info("╚════════════════════════════════════════════════════════════╝")

	// 初始化全局配置
	config.Init()
	cfg := config.Get()

	// 初始化 JWT
	auth.Init(cfg.JWTSecret)

	// 初始化数据库
	logger.Infof("📋 初始化数据库: %s", cfg.DatabasePath)
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("❌ 初始化数据库失败: %v", err)
	}
	defer st.Close()

	// 初始化加密服务（密钥缺失时凭据以明文落盘，仅开发环境可接受）
	cryptoService, err := crypto.NewCryptoService()
	if err != nil {
		logger.Warnf("⚠️ 加密服务不可用，凭据将明文存储: %v", err)
	} else {
		encryptFunc := func(plaintext string) string {
			if plaintext == "" {
				return plaintext
			}
			encrypted, err := cryptoService.EncryptForStorage(plaintext)
			if err != nil {
				logger.Warnf("⚠️ 加密失败: %v", err)
				return plaintext
			}
			return encrypted
		}
		decryptFunc := func(encrypted string) string {
			if encrypted == "" {
				return encrypted
			}
			if !cryptoService.IsEncryptedStorageValue(encrypted) {
				return encrypted
			}
			decrypted, err := cryptoService.DecryptFromStorage(encrypted)
			if err != nil {
				logger.Warnf("⚠️ 解密失败: %v", err)
				return encrypted
			}
			return decrypted
		}
		st.SetCredentialCipher(encryptFunc, decryptFunc)
		logger.Info("✅ 加密服务初始化成功")
	}

	// 交易器注册表：进程级共享，按 (账户, 环境) 复用
	traderManager := manager.NewTraderManager()

	// 启动 API 服务器
	server := api.NewServer(traderManager, st, cfg.APIServerPort)
	go func() {
		logger.Infof("🌐 API服务器启动: http://localhost:%d", cfg.APIServerPort)
		// 优雅关闭时 ListenAndServe 以 ErrServerClosed 返回，不是故障
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("❌ API服务器异常退出: %v", err)
		}
	}()

	logger.Infof("💹 默认交易环境: %s", cfg.BinanceEnvironment)

	// 等待退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("🛑 收到退出信号，正在关闭...")
	if err := server.Stop(); err != nil {
		logger.Warnf("⚠️ API服务器关闭失败: %v", err)
	}
	logger.Info("👋 已退出")
}
