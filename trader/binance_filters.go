package trader

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// symbolFilter 单个交易对的精度规则（exchangeInfo 加载后只读）
type symbolFilter struct {
	status      string
	stepSize    string
	minQty      string
	tickSize    string
	minNotional string
}

// loadExchangeInfo 加载全部交易对的精度规则
// 整表替换，不做增量更新
func (t *FuturesTrader) loadExchangeInfo() error {
	body, err := t.doRequest("GET", binanceExchangeInfoPath, nil, false)
	if err != nil {
		return err
	}

	var payload struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Status  string `json:"status"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				MinQty      string `json:"minQty"`
				TickSize    string `json:"tickSize"`
				Notional    string `json:"notional"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("解析 exchangeInfo 失败: %w", err)
	}

	loaded := make(map[string]*symbolFilter, len(payload.Symbols))
	for _, info := range payload.Symbols {
		symbol := strings.ToUpper(strings.TrimSpace(info.Symbol))
		if symbol == "" {
			continue
		}

		filter := &symbolFilter{
			status:   info.Status,
			stepSize: "0",
			minQty:   "0",
			tickSize: "0",
		}
		for _, f := range info.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				filter.stepSize = firstNonEmpty(f.StepSize, "0")
				filter.minQty = firstNonEmpty(f.MinQty, "0")
			case "PRICE_FILTER":
				filter.tickSize = firstNonEmpty(f.TickSize, "0")
			case "NOTIONAL", "MIN_NOTIONAL":
				// 两种过滤器类型、两种字段名都可能出现，先到先得
				if filter.minNotional == "" {
					filter.minNotional = firstNonEmpty(f.Notional, f.MinNotional)
				}
			}
		}
		if filter.minNotional == "" {
			filter.minNotional = "0"
		}

		loaded[symbol] = filter
	}

	t.symbolFilters = loaded
	return nil
}

// getSymbolFilter 获取交易对精度规则，不存在返回 nil
func (t *FuturesTrader) getSymbolFilter(symbol string) *symbolFilter {
	return t.symbolFilters[symbol]
}

// formatSymbol 将通用符号转换为币安合约符号
// 例如: BTC -> BTCUSDT, BTC/USDT -> BTCUSDT, BTC/USDT:USDT -> BTCUSDT
func formatSymbol(symbol string) string {
	if symbol == "" {
		return "BTCUSDT"
	}

	value := strings.ToUpper(strings.TrimSpace(symbol))

	if idx := strings.Index(value, ":"); idx >= 0 {
		value = value[:idx]
	}

	if idx := strings.Index(value, "/"); idx >= 0 {
		return value[:idx] + value[idx+1:]
	}

	for _, quote := range []string{"USDT", "BUSD", "USDC"} {
		if strings.HasSuffix(value, quote) {
			return value
		}
	}

	return value + "USDT"
}

// extractCoin 从币安合约符号提取币种
// 例如: BTCUSDT -> BTC
func extractCoin(exchangeSymbol string) string {
	if exchangeSymbol == "" {
		return ""
	}

	value := strings.ToUpper(exchangeSymbol)
	if idx := strings.Index(value, ":"); idx >= 0 {
		value = value[:idx]
	}
	if idx := strings.Index(value, "/"); idx >= 0 {
		return value[:idx]
	}

	for _, quote := range []string{"USDT", "BUSD", "USDC"} {
		if strings.HasSuffix(value, quote) && len(value) > len(quote) {
			return value[:len(value)-len(quote)]
		}
	}

	return value
}

// mapTimeInForce 将通用 time-in-force 映射为币安取值
// alo（post-only）对应币安合约的 GTX
func mapTimeInForce(timeInForce string) string {
	switch strings.ToLower(strings.TrimSpace(timeInForce)) {
	case "gtc":
		return "GTC"
	case "alo":
		return "GTX"
	default:
		return "IOC"
	}
}

// decimalToString 渲染 decimal，去掉小数部分的尾随零
// 币安的字符串参数不接受 "0.0010" 这种形式
func decimalToString(d decimal.Decimal) string {
	text := d.String()
	if strings.Contains(text, ".") {
		text = strings.TrimRight(text, "0")
		text = strings.TrimRight(text, ".")
	}
	if text == "" || text == "-" {
		return "0"
	}
	return text
}

// roundToStep 向下取整到 step 的整数倍（精确十进制运算，不走浮点）
func roundToStep(value, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return value
	}
	steps := value.Div(step).Floor()
	return steps.Mul(step)
}

// parseFilterDecimal 解析过滤器里的十进制字符串，解析失败视为 0
func parseFilterDecimal(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// normalizeQuantity 将数量归一化到交易对的 stepSize 精度
// 取绝对值后向下取整；低于 minQty 或取整后为 0 都返回错误（绝不向上补齐）
func (t *FuturesTrader) normalizeQuantity(symbol string, quantity float64) (string, error) {
	qty := decimal.NewFromFloat(math.Abs(quantity))
	if qty.Sign() <= 0 {
		return "", fmt.Errorf("订单数量必须大于 0")
	}

	filter := t.getSymbolFilter(symbol)
	if filter != nil {
		if step := parseFilterDecimal(filter.stepSize); step.Sign() > 0 {
			qty = roundToStep(qty, step)
		}
		if minQty := parseFilterDecimal(filter.minQty); minQty.Sign() > 0 && qty.LessThan(minQty) {
			return "", fmt.Errorf("订单数量低于 %s 的最小数量 %s", symbol, filter.minQty)
		}
	}

	if qty.Sign() <= 0 {
		return "", fmt.Errorf("订单数量在 %s 精度归一化后为 0", symbol)
	}

	return decimalToString(qty), nil
}

// normalizePrice 将价格归一化到交易对的 tickSize 精度
func (t *FuturesTrader) normalizePrice(symbol string, price float64) (string, error) {
	px := decimal.NewFromFloat(price)
	if px.Sign() <= 0 {
		return "", fmt.Errorf("价格必须大于 0")
	}

	filter := t.getSymbolFilter(symbol)
	if filter != nil {
		if tick := parseFilterDecimal(filter.tickSize); tick.Sign() > 0 {
			px = roundToStep(px, tick)
		}
	}

	if px.Sign() <= 0 {
		return "", fmt.Errorf("价格在 %s 精度归一化后为 0", symbol)
	}

	return decimalToString(px), nil
}

// firstNonEmpty 返回第一个非空字符串
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
