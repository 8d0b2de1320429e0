package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fjod/go_cart/inventory-service/internal/domain"
	"github.com/fjod/go_cart/inventory-service/internal/repository"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   string `json:"details,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError maps engine and repository errors onto HTTP responses.
// Anything unrecognised is logged and reported as a generic failure.
func handleError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		resp := ErrorResponse{Code: domain.CodeInsufficientStock, Error: "insufficient stock"}
		if available, ok := domain.AvailableFrom(err); ok {
			resp.Error = fmt.Sprintf("only %d items available", max(available, 0))
			resp.Available = &available
		}
		respondJSON(w, http.StatusConflict, resp)
	case errors.Is(err, domain.ErrProductNotFound):
		respondError(w, http.StatusNotFound, domain.CodeProductNotFound, "product not found")
	case errors.Is(err, repository.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
	case errors.Is(err, repository.ErrPurchaseOrderNotFound):
		respondError(w, http.StatusNotFound, "PURCHASE_ORDER_NOT_FOUND", "purchase order not found")
	case errors.Is(err, domain.ErrInvalidInput):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid input",
			Code:    domain.CodeInvalidInput,
			Details: err.Error(),
		})
	default:
		logger.Error("request failed", zap.String("error_code", domain.Code(err)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, domain.CodeInternal, "internal server error")
	}
}
