package httptransport

import (
	"errors"
	"net/http"
	"strings"

	"chip-settlement/internal/deposit"
	"chip-settlement/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const maxAddressLen = 128

type AccountHandlers struct {
	repo     store.Repository
	deposits *deposit.Pipeline
}

func NewAccountHandlers(repo store.Repository, deposits *deposit.Pipeline) *AccountHandlers {
	return &AccountHandlers{repo: repo, deposits: deposits}
}

func addressParam(r *http.Request) (string, bool) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	return address, address != "" && len(address) <= maxAddressLen
}

func (h *AccountHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, ok := addressParam(r)
		if !ok {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_address")
			return
		}
		acct, err := h.repo.GetAccount(r.Context(), address)
		if errors.Is(err, store.ErrNotFound) {
			WriteHTTPError(w, http.StatusNotFound, "account_not_found")
			return
		}
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"account":   acct,
			"available": acct.Available(),
		})
	}
}

func (h *AccountHandlers) Transactions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, ok := addressParam(r)
		if !ok {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_address")
			return
		}
		limit, offset := ParsePagination(r)
		items, err := h.repo.ListAccountTransactions(r.Context(), address, limit, offset)
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		if items == nil {
			items = []store.Transaction{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
	}
}

func (h *AccountHandlers) Withdrawals() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, ok := addressParam(r)
		if !ok {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_address")
			return
		}
		limit, offset := ParsePagination(r)
		items, err := h.repo.ListAccountWithdrawals(r.Context(), address, limit, offset)
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		if items == nil {
			items = []store.Withdrawal{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
	}
}

func (h *AccountHandlers) Watch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, ok := addressParam(r)
		if !ok {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_address")
			return
		}
		watch, err := h.deposits.Watch(r.Context(), address)
		if err != nil {
			log.Error().Err(err).Str("address", address).Msg("watch address failed")
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "watch": watch})
	}
}

func (h *AccountHandlers) Unwatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, ok := addressParam(r)
		if !ok {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_address")
			return
		}
		err := h.deposits.Unwatch(r.Context(), address)
		if errors.Is(err, store.ErrNotFound) {
			WriteHTTPError(w, http.StatusNotFound, "watch_not_found")
			return
		}
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
