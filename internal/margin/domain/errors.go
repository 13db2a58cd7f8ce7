package domain

import "errors"

var (
	ErrAccountExists        = errors.New("margin account already exists")
	ErrAccountNotFound      = errors.New("margin account not found")
	ErrPositionNotFound     = errors.New("position not found")
	ErrPositionNotOpen      = errors.New("position is not open")
	ErrInsufficientMargin   = errors.New("insufficient margin")
	ErrInvalidLeverage      = errors.New("invalid leverage")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrRiskValidationFailed = errors.New("risk validation failed")
	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrLimitsUnavailable    = errors.New("risk limits unavailable")
)

// ErrorCode 对外暴露的稳定错误码
// HTTP/RPC 层通过 CodeOf 将领域错误映射为错误码
type ErrorCode string

const (
	CodeAccountExists        ErrorCode = "ACCOUNT_EXISTS"
	CodeAccountNotFound      ErrorCode = "ACCOUNT_NOT_FOUND"
	CodePositionNotFound     ErrorCode = "POSITION_NOT_FOUND"
	CodePositionNotOpen      ErrorCode = "POSITION_NOT_OPEN"
	CodeInsufficientMargin   ErrorCode = "INSUFFICIENT_MARGIN"
	CodeInvalidLeverage      ErrorCode = "INVALID_LEVERAGE"
	CodeInvalidAmount        ErrorCode = "INVALID_AMOUNT"
	CodeRiskValidationFailed ErrorCode = "RISK_VALIDATION_FAILED"
	CodePriceUnavailable     ErrorCode = "PRICE_UNAVAILABLE"
	CodeInternal             ErrorCode = "INTERNAL"
)

// CodeOf 返回领域错误对应的稳定错误码
func CodeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrAccountExists):
		return CodeAccountExists
	case errors.Is(err, ErrAccountNotFound):
		return CodeAccountNotFound
	case errors.Is(err, ErrPositionNotFound):
		return CodePositionNotFound
	case errors.Is(err, ErrPositionNotOpen):
		return CodePositionNotOpen
	case errors.Is(err, ErrInsufficientMargin):
		return CodeInsufficientMargin
	case errors.Is(err, ErrInvalidLeverage):
		return CodeInvalidLeverage
	case errors.Is(err, ErrInvalidAmount):
		return CodeInvalidAmount
	case errors.Is(err, ErrRiskValidationFailed):
		return CodeRiskValidationFailed
	case errors.Is(err, ErrPriceUnavailable):
		return CodePriceUnavailable
	default:
		return CodeInternal
	}
}
