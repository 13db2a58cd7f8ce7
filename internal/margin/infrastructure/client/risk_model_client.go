package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
)

// RiskModelClient 外部量化风险模型适配器，实现 domain.RiskModel
// 不可用时调用方降级放行，本客户端只负责传输
type RiskModelClient struct {
	http *resty.Client
}

// NewRiskModelClient 创建量化模型客户端
func NewRiskModelClient(baseURL string, timeout time.Duration) *RiskModelClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)

	return &RiskModelClient{http: httpClient}
}

type riskScoreRequest struct {
	UserID        string `json:"user_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	Price         string `json:"price"`
	Leverage      string `json:"leverage"`
	PositionValue string `json:"position_value"`
}

type riskScoreResponse struct {
	Score float64 `json:"score"`
}

// Score 实现 domain.RiskModel.Score
func (c *RiskModelClient) Score(ctx context.Context, req domain.RiskModelRequest) (float64, error) {
	body := riskScoreRequest{
		UserID:        req.UserID,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Size:          req.Size.String(),
		Price:         req.Price.String(),
		Leverage:      req.Leverage.String(),
		PositionValue: req.PositionValue.String(),
	}

	var out riskScoreResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/api/v1/risk/score")
	if err != nil {
		return 0, fmt.Errorf("failed to score risk: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("risk model rejected request: status %d", resp.StatusCode())
	}
	return out.Score, nil
}
