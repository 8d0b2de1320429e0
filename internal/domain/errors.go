package domain

import (
	"errors"
	"fmt"
)

// Error codes exposed to collaborators
const (
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeProductNotFound   = "PRODUCT_NOT_FOUND"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeInternal          = "INTERNAL_ERROR"
)

// Common errors returned by the engine
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternal          = errors.New("internal error")
)

// InsufficientStockError reports a failed guard together with the quantity visible at failure time
type InsufficientStockError struct {
	ProductID string
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	key := StockKey{ProductID: e.ProductID, VariantID: e.VariantID}
	return fmt.Sprintf("insufficient stock for %s: requested %d, only %d available", key, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Code maps an error onto the collaborator-facing taxonomy
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientStock):
		return CodeInsufficientStock
	case errors.Is(err, ErrProductNotFound):
		return CodeProductNotFound
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	default:
		return CodeInternal
	}
}

// AvailableFrom extracts the available quantity carried by an insufficient stock error
func AvailableFrom(err error) (int, bool) {
	var ise *InsufficientStockError
	if errors.As(err, &ise) {
		return ise.Available, true
	}
	return 0, false
}

// InvalidInput wraps ErrInvalidInput with a formatted detail
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Internal wraps err as ErrInternal, keeping its message
func Internal(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
}
