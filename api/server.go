package api

import (
	"context"
	"fmt"
	"futurex/auth"
	"futurex/config"
	"futurex/logger"
	"futurex/manager"
	"futurex/store"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Server HTTP API server
type Server struct {
	router        *gin.Engine
	traderManager *manager.TraderManager
	store         *store.Store
	httpServer    *http.Server

	adminHash string
}

// NewServer creates the API server
func NewServer(traderManager *manager.TraderManager, st *store.Store, port int) *Server {
	// Set to Release mode (reduce log output)
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()

	// Enable CORS
	router.Use(corsMiddleware())

	s := &Server{
		router:        router,
		traderManager: traderManager,
		store:         st,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		},
	}

	if pw := config.Get().AdminPassword; pw != "" {
		hash, err := auth.HashPassword(pw)
		if err != nil {
			logger.Errorf("❌ Failed to hash admin password: %v", err)
		} else {
			s.adminHash = hash
		}
	}

	// Setup routes
	s.setupRoutes()

	return s
}

// corsMiddleware CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// authMiddleware JWT authentication middleware
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing Authorization header"})
			c.Abort()
			return
		}

		// Check Bearer token format
		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid Authorization format"})
			c.Abort()
			return
		}

		claims, err := auth.ValidateJWT(tokenParts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token: " + err.Error()})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		// Public routes
		api.GET("/health", s.handleHealth)
		api.POST("/auth/login", s.handleLogin)

		// Protected routes
		protected := api.Group("/", s.authMiddleware())
		{
			protected.GET("/accounts", s.handleListAccounts)
			protected.POST("/accounts", s.handleCreateAccount)
			protected.DELETE("/accounts/:id", s.handleDeleteAccount)

			protected.POST("/binance/credentials", s.handleSetupCredentials)
			protected.GET("/binance/credentials/status", s.handleCredentialStatus)
			protected.DELETE("/binance/credentials", s.handleDeleteCredentials)

			protected.GET("/binance/test-connection", s.handleTestConnection)
			protected.GET("/binance/account", s.handleAccountState)
			protected.GET("/binance/positions", s.handlePositions)
			protected.GET("/binance/open-orders", s.handleOpenOrders)
			protected.POST("/binance/orders", s.handlePlaceOrder)
			protected.DELETE("/binance/orders/:order_id", s.handleCancelOrder)
			protected.GET("/binance/recent-trades", s.handleRecentTrades)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.adminHash == "" || !auth.CheckPassword(req.Password, s.adminHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Password incorrect"})
		return
	}

	token, err := auth.GenerateJWT("admin")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Start runs the HTTP server (blocking).
// Returns http.ErrServerClosed after a graceful Stop.
func (s *Server) Start() error {
	logger.Infof("🌐 API server starting at http://localhost%s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
