package api

import (
	"fmt"
	"futurex/config"
	"futurex/logger"
	"futurex/trader/types"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
)

// demoAccountID 演示账户：凭据来自环境变量而不是数据库
const demoAccountID = "demo"

func (s *Server) handleListAccounts(c *gin.Context) {
	accounts, err := s.store.Account().List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := s.store.Account().Create(req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	accountID := c.Param("id")

	if err := s.store.Account().Delete(accountID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// 账户删除后必须移除缓存的交易器，避免复用已失效的凭据
	removed := s.traderManager.Invalidate(accountID, "")
	c.JSON(http.StatusOK, gin.H{"success": true, "traders_removed": removed})
}

// handleSetupCredentials 创建或更新某账户在某环境下的 API 凭据
func (s *Server) handleSetupCredentials(c *gin.Context) {
	var req struct {
		AccountID   string `json:"account_id" binding:"required"`
		Environment string `json:"environment" binding:"required"`
		APIKey      string `json:"api_key" binding:"required"`
		APISecret   string `json:"api_secret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !types.ValidEnvironment(req.Environment) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "environment must be 'mainnet' or 'testnet'"})
		return
	}

	if _, err := s.store.Account().Get(req.AccountID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	cred, err := s.store.Credential().Save(req.AccountID, req.Environment, req.APIKey, req.APISecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// 凭据轮换后旧客户端必须失效
	s.traderManager.Invalidate(req.AccountID, req.Environment)
	logger.Infof("🔑 已更新币安凭据: account=%s env=%s", req.AccountID, req.Environment)

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"account_id":    req.AccountID,
		"environment":   req.Environment,
		"credential_id": cred.ID,
	})
}

func (s *Server) handleCredentialStatus(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
		return
	}

	envs, err := s.store.Credential().ListEnvironments(accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "environments": envs})
}

func (s *Server) handleDeleteCredentials(c *gin.Context) {
	accountID := c.Query("account_id")
	environment := c.Query("environment")
	if accountID == "" || environment == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id and environment are required"})
		return
	}

	deleted, err := s.store.Credential().Delete(accountID, environment)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	removed := s.traderManager.Invalidate(accountID, environment)
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "traders_removed": removed})
}

// getTraderFromQuery 按 account_id + environment 取得（或构造）交易器
// environment 缺省时使用全局配置的默认环境
func (s *Server) getTraderFromQuery(c *gin.Context) (types.Trader, error) {
	accountID := c.Query("account_id")
	if accountID == "" {
		return nil, fmt.Errorf("account_id is required")
	}

	environment := c.Query("environment")
	if environment == "" {
		environment = config.Get().BinanceEnvironment
	}
	if !types.ValidEnvironment(environment) {
		return nil, fmt.Errorf("invalid environment: %s", environment)
	}

	var apiKey, apiSecret string
	if accountID == demoAccountID {
		apiKey = os.Getenv(config.DemoBinanceAPIKeyEnv)
		apiSecret = os.Getenv(config.DemoBinanceSecretKeyEnv)
		if apiKey == "" || apiSecret == "" {
			return nil, fmt.Errorf("demo credentials not configured")
		}
	} else {
		cred, err := s.store.Credential().Get(accountID, environment)
		if err != nil {
			return nil, err
		}
		apiKey = cred.APIKey
		apiSecret = cred.APISecret
	}

	return s.traderManager.GetOrCreate(accountID, apiKey, apiSecret, environment)
}

func (s *Server) handleTestConnection(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := t.TestConnection()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleAccountState(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := t.GetAccountState()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handlePositions(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	positions, err := t.GetPositions()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handleOpenOrders(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orders, err := t.GetOpenOrders(c.Query("symbol"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// handlePlaceOrder 下单（含自动止盈止损）
// 下单结果永远以 200 + 结构化结果返回，status 字段区分成败
func (s *Server) handlePlaceOrder(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req types.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	// 杠杆缺省用全局默认值，超出上限时收紧
	if req.Leverage <= 0 {
		req.Leverage = config.BinanceDefaultLeverage
	} else if req.Leverage > config.BinanceDefaultMaxLeverage {
		req.Leverage = config.BinanceDefaultMaxLeverage
	}

	result := t.PlaceOrderWithTPSL(&req)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orderID := c.Param("order_id")
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	success := t.CancelOrder(orderID, symbol)
	c.JSON(http.StatusOK, gin.H{"success": success})
}

func (s *Server) handleRecentTrades(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := 5
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	trades, err := t.GetRecentClosedTrades(limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}
