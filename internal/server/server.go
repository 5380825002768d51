package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dexbot/godex/internal/services"
)

var serverLog = logrus.WithField("component", "http_server")

// Server 订单服务的 HTTP 外壳
// 只做参数搬运和状态码映射，业务都在订单服务里。
type Server struct {
	svc *services.OrderService
}

// New 创建 HTTP 外壳
func New(svc *services.OrderService) *Server {
	return &Server{svc: svc}
}

// Router 组装路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api/v1")
	{
		api.POST("/orders/prepare", s.handlePrepare)
		api.POST("/orders", s.handleCreate)
		api.GET("/orders", s.handleList)
		api.GET("/orders/:id", s.handleGet)
		api.POST("/orders/cancel", s.handleCancel)
		api.GET("/orderbook", s.handleOrderBook)
		api.GET("/trades", s.handleTrades)
		api.POST("/batch", s.handleBatch)
		api.POST("/market-price", s.handleMarketPrice)
	}

	serverLog.Info("routes registered")
	return r
}

func (s *Server) handlePrepare(c *gin.Context) {
	var draft services.OrderDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prepared, err := s.svc.Prepare(c.Request.Context(), &draft)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, prepared)
}

func (s *Server) handleCreate(c *gin.Context) {
	var draft services.OrderDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.svc.Create(c.Request.Context(), &draft)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleList(c *gin.Context) {
	filter := services.ListFilter{
		BaseToken:  c.Query("baseToken"),
		QuoteToken: c.Query("quoteToken"),
		Trader:     c.Query("trader"),
		Status:     c.Query("status"),
	}
	orders, err := s.svc.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) handleGet(c *gin.Context) {
	rec, err := s.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleCancel(c *gin.Context) {
	var req struct {
		ID     string `json:"id" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.svc.Cancel(c.Request.Context(), req.ID, req.Reason)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleOrderBook(c *gin.Context) {
	base := c.Query("baseToken")
	quote := c.Query("quoteToken")
	if base == "" || quote == "" {
		books, err := s.svc.AllOrderBooks(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, books)
		return
	}
	snap, err := s.svc.OrderBook(c.Request.Context(), base, quote)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleTrades(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	trades, err := s.svc.RecentTrades(c.Request.Context(), c.Query("baseToken"), c.Query("quoteToken"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) handleBatch(c *gin.Context) {
	var req struct {
		OrderIDs  []string `json:"orderIds" binding:"required"`
		Tolerance float64  `json:"tolerance"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.svc.ExecuteBatch(c.Request.Context(), req.OrderIDs, req.Tolerance)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleMarketPrice(c *gin.Context) {
	var req struct {
		BaseToken  string  `json:"baseToken" binding:"required"`
		QuoteToken string  `json:"quoteToken" binding:"required"`
		Price      float64 `json:"price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	price, err := s.svc.UpdateMarketPrice(c.Request.Context(), req.BaseToken, req.QuoteToken, req.Price)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"price": price})
}
