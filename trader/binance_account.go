package trader

import (
	"encoding/json"
	"futurex/logger"
	"futurex/trader/types"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// 查询最近成交时默认覆盖的主流交易对（持仓中的交易对会额外加入）
var defaultRecentTradeSymbols = []string{
	"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT", "DOGEUSDT",
}

// safeFloat 解析币安的十进制字符串字段，解析失败返回 0
func safeFloat(value string) float64 {
	if value == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return f
}

// safeInt 解析整数字段（可能带小数点），解析失败返回 0
func safeInt(value string) int64 {
	f := safeFloat(value)
	return int64(f)
}

// binanceAccount /fapi/v2/account 响应
type binanceAccount struct {
	TotalWalletBalance string `json:"totalWalletBalance"`
	TotalMarginBalance string `json:"totalMarginBalance"`
	TotalInitialMargin string `json:"totalInitialMargin"`
	TotalMaintMargin   string `json:"totalMaintMargin"`
	AvailableBalance   string `json:"availableBalance"`
	Assets             []struct {
		Asset            string  `json:"asset"`
		WalletBalance    string  `json:"walletBalance"`
		UnrealizedProfit string  `json:"unrealizedProfit"`
		MarginBalance    *string `json:"marginBalance"`
		MaintMargin      *string `json:"maintMargin"`
		InitialMargin    *string `json:"initialMargin"`
		AvailableBalance *string `json:"availableBalance"`
	} `json:"assets"`
}

// GetAccountState 获取 USDT 本位账户状态
// 账户级字段与 USDT 资产明细字段做合并，优先取资产明细
func (t *FuturesTrader) GetAccountState() (*types.AccountState, error) {
	body, err := t.doRequest("GET", binanceAccountPath, nil, true)
	if err != nil {
		return nil, err
	}

	var account binanceAccount
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, err
	}

	availableBalance := safeFloat(account.AvailableBalance)
	totalEquity := safeFloat(account.TotalMarginBalance)
	usedMargin := safeFloat(account.TotalInitialMargin)
	maintenanceMargin := safeFloat(account.TotalMaintMargin)
	usedMarginKnown := account.TotalInitialMargin != ""

	for _, asset := range account.Assets {
		if strings.ToUpper(asset.Asset) != "USDT" {
			continue
		}
		// 字段存在即覆盖，显式的 "0" 同样生效，只有缺失才保留账户级值
		if asset.AvailableBalance != nil {
			availableBalance = safeFloat(*asset.AvailableBalance)
		}
		if asset.MarginBalance != nil {
			totalEquity = safeFloat(*asset.MarginBalance)
		}
		if asset.InitialMargin != nil {
			usedMargin = safeFloat(*asset.InitialMargin)
			usedMarginKnown = true
		}
		if asset.MaintMargin != nil {
			maintenanceMargin = safeFloat(*asset.MaintMargin)
		}
		// marginBalance 缺失时退回 钱包余额+未实现盈亏
		if totalEquity <= 0 {
			totalEquity = safeFloat(asset.WalletBalance) + safeFloat(asset.UnrealizedProfit)
		}
		break
	}

	// initialMargin 完全缺失时用 权益-可用余额 估算占用保证金
	if !usedMarginKnown && usedMargin <= 0 && totalEquity > 0 && availableBalance >= 0 {
		usedMargin = math.Max(totalEquity-availableBalance, 0)
	}

	marginUsagePercent := 0.0
	if totalEquity > 0 {
		marginUsagePercent = usedMargin / totalEquity * 100
	}

	return &types.AccountState{
		AccountID:          t.accountID,
		Environment:        t.environment,
		Exchange:           "binance",
		AvailableBalance:   availableBalance,
		TotalEquity:        totalEquity,
		UsedMargin:         usedMargin,
		MaintenanceMargin:  maintenanceMargin,
		MarginUsagePercent: marginUsagePercent,
		Timestamp:          t.now().UnixMilli(),
	}, nil
}

// binancePosition /fapi/v2/positionRisk 响应
type binancePosition struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Notional         string `json:"notional"`
	Leverage         string `json:"leverage"`
	IsolatedMargin   string `json:"isolatedMargin"`
	LiquidationPrice string `json:"liquidationPrice"`
}

// GetPositions 获取当前持仓
// 带符号的 positionAmt 拆为方向 + 无符号数量
func (t *FuturesTrader) GetPositions() ([]types.Position, error) {
	body, err := t.doRequest("GET", binancePositionRiskPath, nil, true)
	if err != nil {
		return nil, err
	}

	var rawPositions []binancePosition
	if err := json.Unmarshal(body, &rawPositions); err != nil {
		return nil, err
	}

	result := make([]types.Position, 0, len(rawPositions))
	for _, pos := range rawPositions {
		positionAmt := safeFloat(pos.PositionAmt)
		if math.Abs(positionAmt) <= 0 {
			continue
		}

		side := "long"
		if positionAmt < 0 {
			side = "short"
		}

		marketSymbol := strings.ToUpper(pos.Symbol)
		entryPrice := safeFloat(pos.EntryPrice)
		notional := math.Abs(safeFloat(pos.Notional))
		positionValue := notional
		if positionValue <= 0 {
			positionValue = math.Abs(entryPrice * positionAmt)
		}

		leverage := int(safeInt(pos.Leverage))
		if leverage < 1 {
			leverage = 1
		}

		marginUsed := safeFloat(pos.IsolatedMargin)
		if marginUsed <= 0 && positionValue > 0 {
			marginUsed = positionValue / float64(leverage)
		}

		result = append(result, types.Position{
			Symbol:           extractCoin(marketSymbol),
			ExchangeSymbol:   marketSymbol,
			Side:             side,
			PositionAmt:      positionAmt,
			Size:             math.Abs(positionAmt),
			EntryPrice:       entryPrice,
			UnrealizedPnL:    safeFloat(pos.UnRealizedProfit),
			PositionValue:    positionValue,
			MarginUsed:       marginUsed,
			LiquidationPrice: safeFloat(pos.LiquidationPrice),
			Leverage:         leverage,
		})
	}

	return result, nil
}

// recentTradeSymbols 最近成交查询的交易对集合：默认集合 + 当前持仓
func (t *FuturesTrader) recentTradeSymbols() []string {
	set := make(map[string]struct{}, len(defaultRecentTradeSymbols))
	for _, s := range defaultRecentTradeSymbols {
		set[s] = struct{}{}
	}

	body, err := t.doRequest("GET", binancePositionRiskPath, nil, true)
	if err == nil {
		var positions []binancePosition
		if json.Unmarshal(body, &positions) == nil {
			for _, pos := range positions {
				symbol := strings.ToUpper(pos.Symbol)
				if symbol != "" && math.Abs(safeFloat(pos.PositionAmt)) > 0 {
					set[symbol] = struct{}{}
				}
			}
		}
	}

	symbols := make([]string, 0, len(set))
	for s := range set {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// binanceUserTrade /fapi/v1/userTrades 响应
type binanceUserTrade struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	RealizedPnl string `json:"realizedPnl"`
	Time        int64  `json:"time"`
}

// GetRecentClosedTrades 获取最近的用户成交记录（按时间倒序）
func (t *FuturesTrader) GetRecentClosedTrades(limit int) ([]types.ClosedTrade, error) {
	if limit <= 0 {
		return []types.ClosedTrade{}, nil
	}

	perSymbolLimit := limit * 2
	if perSymbolLimit < 10 {
		perSymbolLimit = 10
	}
	if perSymbolLimit > 50 {
		perSymbolLimit = 50
	}

	symbols := t.recentTradeSymbols()
	if len(symbols) > 12 {
		symbols = symbols[:12]
	}

	var allTrades []types.ClosedTrade
	for _, marketSymbol := range symbols {
		body, err := t.doRequest("GET", binanceUserTradesPath, map[string]interface{}{
			"symbol": marketSymbol,
			"limit":  perSymbolLimit,
		}, true)
		if err != nil {
			logger.Debugf("获取 %s 最近成交失败: %v", marketSymbol, err)
			continue
		}

		var trades []binanceUserTrade
		if err := json.Unmarshal(body, &trades); err != nil {
			continue
		}

		for _, trade := range trades {
			if trade.Time <= 0 {
				continue
			}
			symbolRaw := strings.ToUpper(firstNonEmpty(trade.Symbol, marketSymbol))
			allTrades = append(allTrades, types.ClosedTrade{
				Symbol:         extractCoin(symbolRaw),
				Side:           strings.ToLower(trade.Side),
				Size:           safeFloat(trade.Qty),
				ClosePrice:     safeFloat(trade.Price),
				CloseTimestamp: trade.Time / 1000,
				CloseTime:      time.UnixMilli(trade.Time).UTC().Format(time.RFC3339),
				RealizedPnL:    safeFloat(trade.RealizedPnl),
			})
		}
	}

	sort.Slice(allTrades, func(i, j int) bool {
		return allTrades[i].CloseTimestamp > allTrades[j].CloseTimestamp
	})
	if len(allTrades) > limit {
		allTrades = allTrades[:limit]
	}
	return allTrades, nil
}

// TestConnection 验证 API 凭据与账户访问权限
func (t *FuturesTrader) TestConnection() (*types.ConnectionStatus, error) {
	state, err := t.GetAccountState()
	if err != nil {
		return nil, err
	}
	return &types.ConnectionStatus{
		Success:          true,
		Exchange:         "binance",
		Environment:      t.environment,
		AvailableBalance: state.AvailableBalance,
		TotalEquity:      state.TotalEquity,
	}, nil
}
