package manager

import (
	"fmt"
	"futurex/logger"
	"futurex/trader"
	"futurex/trader/types"
	"sync"
	"time"
)

// traderKey 注册表键：同一账户在 mainnet/testnet 各有一个交易器
type traderKey struct {
	AccountID   string
	Environment string
}

// traderEntry 缓存条目
type traderEntry struct {
	trader    types.Trader
	createdAt time.Time
}

// TraderFactory 构造交易器（构造会做阻塞的元数据加载与时间同步）
type TraderFactory func(accountID, apiKey, apiSecret, environment string) (types.Trader, error)

// TraderManager 进程级交易器注册表
//
// 每个 (accountID, environment) 最多缓存一个交易器实例；
// 凭据轮换或删除时必须调用 Invalidate，避免复用持旧密钥的实例
type TraderManager struct {
	mu      sync.Mutex
	traders map[traderKey]*traderEntry
	factory TraderFactory
}

// NewTraderManager 创建注册表
func NewTraderManager() *TraderManager {
	return &TraderManager{
		traders: make(map[traderKey]*traderEntry),
		factory: func(accountID, apiKey, apiSecret, environment string) (types.Trader, error) {
			return trader.NewFuturesTrader(accountID, apiKey, apiSecret, environment)
		},
	}
}

// NewTraderManagerWithFactory 使用自定义构造函数创建注册表（测试用）
func NewTraderManagerWithFactory(factory TraderFactory) *TraderManager {
	return &TraderManager{
		traders: make(map[traderKey]*traderEntry),
		factory: factory,
	}
}

// GetOrCreate 返回缓存的交易器，没有则构造并缓存
// 全程持锁：并发的同键请求只会触发一次构造（一次元数据加载、一次时间同步）
func (m *TraderManager) GetOrCreate(accountID, apiKey, apiSecret, environment string) (types.Trader, error) {
	if !types.ValidEnvironment(environment) {
		return nil, fmt.Errorf("无效的环境: %s", environment)
	}

	key := traderKey{AccountID: accountID, Environment: environment}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.traders[key]; ok {
		return entry.trader, nil
	}

	t, err := m.factory(accountID, apiKey, apiSecret, environment)
	if err != nil {
		return nil, err
	}

	m.traders[key] = &traderEntry{trader: t, createdAt: time.Now()}
	logger.Infof("✅ 已缓存币安交易器: account=%s env=%s", accountID, environment)
	return t, nil
}

// Invalidate 移除匹配的缓存条目，返回移除数量
// accountID 和 environment 都为空时清空整个注册表；
// 只指定其一时按该维度匹配
func (m *TraderManager) Invalidate(accountID, environment string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if accountID == "" && environment == "" {
		removed := len(m.traders)
		m.traders = make(map[traderKey]*traderEntry)
		return removed
	}

	removed := 0
	for key := range m.traders {
		if accountID != "" && key.AccountID != accountID {
			continue
		}
		if environment != "" && key.Environment != environment {
			continue
		}
		delete(m.traders, key)
		removed++
	}

	if removed > 0 {
		logger.Infof("🧹 已移除 %d 个缓存交易器: account=%q env=%q", removed, accountID, environment)
	}
	return removed
}

// Size 当前缓存条目数
func (m *TraderManager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.traders)
}
