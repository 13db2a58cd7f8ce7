package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/pkg/logging"
)

// LedgerClient 外部账务系统适配器，实现 domain.Ledger
// 账务系统是资金变动的最终记录，本服务内的余额只是它的派生缓存
type LedgerClient struct {
	http *resty.Client
}

// NewLedgerClient 创建账务客户端
func NewLedgerClient(baseURL string, timeout time.Duration) *LedgerClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond)

	return &LedgerClient{http: httpClient}
}

type ledgerLegRequest struct {
	Account string `json:"account"`
	Debit   string `json:"debit"`
	Credit  string `json:"credit"`
}

type ledgerTransactionRequest struct {
	Description string             `json:"description"`
	Legs        []ledgerLegRequest `json:"legs"`
	BrokerID    string             `json:"broker_id"`
	Asset       string             `json:"asset"`
	Type        string             `json:"type"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
}

type ledgerTransactionResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// RecordTransaction 实现 domain.Ledger.RecordTransaction
func (c *LedgerClient) RecordTransaction(ctx context.Context, description string, legs []domain.LedgerLeg, brokerID, asset, txnType string, metadata map[string]string) (string, error) {
	req := ledgerTransactionRequest{
		Description: description,
		Legs:        make([]ledgerLegRequest, len(legs)),
		BrokerID:    brokerID,
		Asset:       asset,
		Type:        txnType,
		Metadata:    metadata,
	}
	for i, leg := range legs {
		req.Legs[i] = ledgerLegRequest{
			Account: leg.Account,
			Debit:   leg.Debit.String(),
			Credit:  leg.Credit.String(),
		}
	}

	var out ledgerTransactionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/api/v1/transactions")
	if err != nil {
		logging.Error(ctx, "ledger transaction failed", "type", txnType, "error", err)
		return "", fmt.Errorf("failed to record ledger transaction: %w", err)
	}
	if resp.IsError() {
		logging.Error(ctx, "ledger transaction rejected", "type", txnType, "status", resp.StatusCode())
		return "", fmt.Errorf("ledger transaction rejected: status %d", resp.StatusCode())
	}
	return out.TransactionID, nil
}
