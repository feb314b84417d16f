package httptransport

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"chip-settlement/internal/deposit"
	"chip-settlement/internal/ledger"
	"chip-settlement/internal/scheduler"
	"chip-settlement/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type AdminHandlers struct {
	repo     store.Repository
	ledger   *ledger.Ledger
	deposits *deposit.Pipeline
	jobs     *scheduler.Scheduler
}

func NewAdminHandlers(repo store.Repository, l *ledger.Ledger, deposits *deposit.Pipeline, jobs *scheduler.Scheduler) *AdminHandlers {
	return &AdminHandlers{repo: repo, ledger: l, deposits: deposits, jobs: jobs}
}

func (h *AdminHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "db": "down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "db": "up"})
	}
}

func (h *AdminHandlers) Alerts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := ParsePagination(r)
		q := r.URL.Query()
		f := store.AlertFilter{
			ActiveOnly: q.Get("active") == "true",
			Type:       strings.ToUpper(strings.TrimSpace(q.Get("type"))),
			Subject:    strings.TrimSpace(q.Get("subject")),
		}
		items, err := h.repo.ListAlerts(r.Context(), f, limit, offset)
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		if items == nil {
			items = []store.Alert{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
	}
}

func (h *AdminHandlers) ResolveAlert() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := h.repo.ResolveAlert(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			WriteHTTPError(w, http.StatusNotFound, "alert_not_found")
			return
		}
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		metricAdminActionsTotal.WithLabelValues("resolve_alert").Inc()
		log.Info().Str("alert_id", id).Msg("alert resolved")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (h *AdminHandlers) Stats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := h.repo.Stats(r.Context())
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// Monitors lists watched addresses, live pollers and scheduled jobs.
func (h *AdminHandlers) Monitors() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		watches, err := h.repo.ListWatched(r.Context(), r.URL.Query().Get("active") == "true")
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		if watches == nil {
			watches = []store.WatchedAddress{}
		}
		resp := map[string]any{"watches": watches, "jobs": []scheduler.JobStatus{}}
		if h.deposits != nil {
			resp["active_pollers"] = h.deposits.ActivePollers()
		}
		if h.jobs != nil {
			resp["jobs"] = h.jobs.Jobs()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *AdminHandlers) Ledger() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := ParsePagination(r)
		f := store.LedgerFilter{Address: r.URL.Query().Get("address")}
		if v := r.URL.Query().Get("from"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				f.From = &t
			}
		}
		if v := r.URL.Query().Get("to"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				f.To = &t
			}
		}
		items, err := h.repo.ListLedgerEntries(r.Context(), f, limit, offset)
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		if items == nil {
			items = []store.LedgerEntry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
	}
}

type chipAdjustment struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Ref    string `json:"ref" validate:"required,max=128"`
}

// Credit and Debit are the game-layer boundary: idempotent on ref.
func (h *AdminHandlers) Credit() http.HandlerFunc {
	return h.adjust("credit", h.ledger.Credit)
}

func (h *AdminHandlers) Debit() http.HandlerFunc {
	return h.adjust("debit", h.ledger.Debit)
}

type adjustFunc func(ctx context.Context, address string, amount int64, ref string) (int64, error)

func (h *AdminHandlers) adjust(action string, apply adjustFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, ok := addressParam(r)
		if !ok {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_address")
			return
		}
		var body chipAdjustment
		if err := decodeBody(w, r, &body); err != nil {
			writeDecodeError(w, err)
			return
		}
		balance, err := apply(r.Context(), address, body.Amount, action+":"+body.Ref)
		switch {
		case errors.Is(err, store.ErrDuplicateTransaction):
			WriteHTTPError(w, http.StatusConflict, "duplicate_reference")
			return
		case errors.Is(err, store.ErrInsufficientBalance):
			WriteHTTPError(w, http.StatusConflict, "insufficient_balance")
			return
		case errors.Is(err, store.ErrNotFound):
			WriteHTTPError(w, http.StatusNotFound, "account_not_found")
			return
		case err != nil:
			log.Error().Err(err).Str("address", address).Str("action", action).Msg("chip adjustment failed")
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		metricAdminActionsTotal.WithLabelValues(action).Inc()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "chip_balance": balance})
	}
}

func (h *AdminHandlers) RunJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.jobs == nil {
			WriteHTTPError(w, http.StatusNotFound, "job_not_found")
			return
		}
		name := chi.URLParam(r, "name")
		err := h.jobs.RunNow(r.Context(), name)
		if errors.Is(err, scheduler.ErrUnknownJob) {
			WriteHTTPError(w, http.StatusNotFound, "job_not_found")
			return
		}
		metricAdminActionsTotal.WithLabelValues("run_job").Inc()
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"ok": false, "job": name, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": name})
	}
}
