package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/pkg/logging"
)

// ExecutionClient 外部执行场所适配器，实现 domain.ExecutionVenue
type ExecutionClient struct {
	http *resty.Client
}

// NewExecutionClient 创建执行场所客户端
func NewExecutionClient(baseURL string, timeout time.Duration) *ExecutionClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)

	return &ExecutionClient{http: httpClient}
}

type submitOrderRequest struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Size   string `json:"size"`
	Price  string `json:"price"`
	Type   string `json:"type"`
}

type submitOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// SubmitOrder 实现 domain.ExecutionVenue.SubmitOrder
func (c *ExecutionClient) SubmitOrder(ctx context.Context, symbol string, side domain.PositionSide, size, price decimal.Decimal) (string, error) {
	body := submitOrderRequest{
		Symbol: symbol,
		Side:   string(side),
		Size:   size.String(),
		Price:  price.String(),
		Type:   string(domain.OrderTypeMarket),
	}

	var out submitOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/api/v1/orders")
	if err != nil {
		logging.Error(ctx, "order submission failed", "symbol", symbol, "error", err)
		return "", fmt.Errorf("failed to submit order: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("order rejected: status %d", resp.StatusCode())
	}
	return out.OrderID, nil
}
