// Package http 保证金风险服务接口
package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/application"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
)

type Handler struct {
	accounts    *application.AccountService
	positions   *application.PositionService
	liquidation *application.LiquidationEngine
	funding     *application.FundingService
	limits      *application.RiskLimitsRegistry
}

func NewHandler(
	accounts *application.AccountService,
	positions *application.PositionService,
	liquidation *application.LiquidationEngine,
	funding *application.FundingService,
	limits *application.RiskLimitsRegistry,
) *Handler {
	return &Handler{
		accounts:    accounts,
		positions:   positions,
		liquidation: liquidation,
		funding:     funding,
		limits:      limits,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/margin")
	{
		g.POST("/accounts", h.CreateAccount)
		g.GET("/accounts/:id", h.GetAccount)
		g.POST("/accounts/deposit", h.Deposit)
		g.POST("/accounts/withdraw", h.Withdraw)
		g.GET("/accounts/:id/liquidations", h.LiquidationHistory)

		g.POST("/positions", h.OpenPosition)
		g.POST("/positions/close", h.ClosePosition)
		g.GET("/positions", h.GetPositions)
		g.POST("/risk/validate", h.ValidateRisk)
		g.POST("/risk/score", h.UpdateRiskScore)
		g.GET("/risk/limits", h.GetRiskLimits)
		g.POST("/liquidations", h.ForceLiquidate)

		g.GET("/segregation", h.GetFundSegregation)
		g.GET("/funding-rates", h.GetFundingRates)
	}
}

// writeError 将领域错误映射为稳定错误码与 HTTP 状态
func writeError(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case domain.CodeAccountExists:
		status = http.StatusConflict
	case domain.CodeAccountNotFound, domain.CodePositionNotFound:
		status = http.StatusNotFound
	case domain.CodeInsufficientMargin, domain.CodeRiskValidationFailed, domain.CodePositionNotOpen:
		status = http.StatusUnprocessableEntity
	case domain.CodeInvalidLeverage, domain.CodeInvalidAmount:
		status = http.StatusBadRequest
	case domain.CodePriceUnavailable:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"code": string(code), "error": err.Error()})
}

func (h *Handler) CreateAccount(c *gin.Context) {
	var req application.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.accounts.Create(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (h *Handler) GetAccount(c *gin.Context) {
	account, err := h.accounts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *Handler) Deposit(c *gin.Context) {
	var req application.BalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.accounts.Deposit(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *Handler) Withdraw(c *gin.Context) {
	var req application.BalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.accounts.Withdraw(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *Handler) OpenPosition(c *gin.Context) {
	var req application.OpenPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	position, err := h.positions.Open(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, position)
}

func (h *Handler) ClosePosition(c *gin.Context) {
	var req application.ClosePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.positions.Close(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetPositions(c *gin.Context) {
	userID := c.Query("user_id")
	tenantID := c.Query("tenant_id")
	brokerID := c.Query("broker_id")
	if userID == "" || tenantID == "" || brokerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id and broker_id are required"})
		return
	}

	positions, err := h.positions.GetPositions(c.Request.Context(), userID, tenantID, brokerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (h *Handler) ValidateRisk(c *gin.Context) {
	var req application.OpenPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.positions.ValidateOpen(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type UpdateRiskScoreReq struct {
	UserID   string `json:"user_id" binding:"required"`
	TenantID string `json:"tenant_id" binding:"required"`
	BrokerID string `json:"broker_id" binding:"required"`
	Score    string `json:"score" binding:"required"`
}

func (h *Handler) UpdateRiskScore(c *gin.Context) {
	var req UpdateRiskScoreReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	score, err := decimal.NewFromString(req.Score)
	if err != nil || score.LessThan(decimal.Zero) {
		writeError(c, fmt.Errorf("%w: bad score", domain.ErrInvalidAmount))
		return
	}

	result, err := h.accounts.UpdateUserRiskScore(c.Request.Context(), req.UserID, req.TenantID, req.BrokerID, score)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetFundSegregation(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		views, err := h.accounts.GetAllFundSegregations(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"segregations": views})
		return
	}

	views, err := h.accounts.GetFundSegregation(c.Request.Context(), userID, c.Query("tenant_id"), c.Query("broker_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"segregations": views})
}

func (h *Handler) LiquidationHistory(c *gin.Context) {
	events, err := h.liquidation.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) GetRiskLimits(c *gin.Context) {
	userID := c.Query("user_id")
	tenantID := c.Query("tenant_id")
	brokerID := c.Query("broker_id")
	if userID == "" || tenantID == "" || brokerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id and broker_id are required"})
		return
	}

	limits, err := h.limits.Get(c.Request.Context(), userID, tenantID, brokerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, limits)
}

type ForceLiquidateReq struct {
	PositionID string `json:"position_id" binding:"required"`
}

// ForceLiquidate 运营侧手工强平
func (h *Handler) ForceLiquidate(c *gin.Context) {
	var req ForceLiquidateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.liquidation.Liquidate(c.Request.Context(), req.PositionID, domain.LiquidationReasonManual)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *Handler) GetFundingRates(c *gin.Context) {
	rates, err := h.funding.GetFundingRates(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rates": rates})
}
