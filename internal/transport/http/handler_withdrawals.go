package httptransport

import (
	"errors"
	"net/http"
	"strings"

	"chip-settlement/internal/economics"
	"chip-settlement/internal/store"
	"chip-settlement/internal/withdrawal"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type WithdrawalHandlers struct {
	repo     store.Repository
	pipeline *withdrawal.Pipeline
}

func NewWithdrawalHandlers(repo store.Repository, pipeline *withdrawal.Pipeline) *WithdrawalHandlers {
	return &WithdrawalHandlers{repo: repo, pipeline: pipeline}
}

type withdrawalBody struct {
	// Address is optional; when present it must name the authenticated account.
	Address     string `json:"address"`
	Destination string `json:"destination_address" validate:"required"`
	Chips       int64  `json:"chip_amount" validate:"required,gt=0"`
}

// Create runs a withdrawal to completion for the account the gateway
// authenticated. A settlement failure still returns the failed withdrawal
// so the caller sees the refund.
func (h *WithdrawalHandlers) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			WriteHTTPError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var body withdrawalBody
		if err := decodeBody(w, r, &body); err != nil {
			writeDecodeError(w, err)
			return
		}
		if a := strings.TrimSpace(body.Address); a != "" && a != account {
			log.Warn().Str("address", account).Str("requested_address", a).Msg("withdrawal for another account refused")
			WriteHTTPError(w, http.StatusForbidden, "address_mismatch")
			return
		}
		req := withdrawal.Request{
			Address:     account,
			Destination: strings.TrimSpace(body.Destination),
			Chips:       body.Chips,
		}

		wd, err := h.pipeline.Submit(r.Context(), req)
		if err == nil {
			writeJSON(w, http.StatusCreated, map[string]any{"withdrawal": wd})
			return
		}
		var verr *withdrawal.ValidationError
		switch {
		case errors.As(err, &verr):
			body := map[string]any{"error": verr.Reason}
			if wd.ID != "" {
				body["withdrawal"] = wd
			}
			writeJSON(w, validationStatus(verr), body)
		case errors.Is(err, withdrawal.ErrSettlementFailed):
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":      "settlement_failed",
				"reason":     wd.FailureReason,
				"withdrawal": wd,
			})
		default:
			log.Error().Err(err).Str("address", req.Address).Msg("withdrawal submit failed")
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
		}
	}
}

func validationStatus(verr *withdrawal.ValidationError) int {
	switch {
	case errors.Is(verr, withdrawal.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(verr, store.ErrInsufficientBalance),
		errors.Is(verr, store.ErrDailyCapExceeded),
		errors.Is(verr, store.ErrAccountClosed):
		return http.StatusConflict
	case errors.Is(verr, economics.ErrBelowMinWithdraw),
		errors.Is(verr, economics.ErrAmountTooSmall),
		errors.Is(verr, economics.ErrInvalidAmount),
		errors.Is(verr, store.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (h *WithdrawalHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		wd, err := h.repo.GetWithdrawal(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			WriteHTTPError(w, http.StatusNotFound, "withdrawal_not_found")
			return
		}
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"withdrawal": wd})
	}
}
