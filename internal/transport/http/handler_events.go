package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"chip-settlement/internal/events"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

var ssePingInterval = 15 * time.Second

// EventsSSEHandler streams one account's events. Last-Event-ID replays
// buffered events newer than that sequence before going live.
func EventsSSEHandler(buf *events.Buffer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, ok := addressParam(r)
		if !ok {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_address")
			return
		}
		if buf == nil {
			WriteHTTPError(w, http.StatusServiceUnavailable, "stream_unavailable")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteHTTPError(w, http.StatusInternalServerError, "stream_not_supported")
			return
		}

		metricSSEConnectionsTotal.Inc()
		metricSSEConnectionsActive.Inc()
		defer metricSSEConnectionsActive.Dec()

		ch := buf.Subscribe()
		defer buf.Unsubscribe(ch)

		events.SetSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		log.Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("address", address).
			Msg("sse stream opened")

		lastSeq := r.Header.Get("Last-Event-ID")
		for _, ev := range buf.ReplayAfter(address, lastSeq) {
			if err := events.WriteSSE(w, ev); err != nil {
				return
			}
			lastSeq = ev.Seq
		}
		flusher.Flush()

		ticker := time.NewTicker(ssePingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				log.Info().
					Str("request_id", chimw.GetReqID(r.Context())).
					Str("address", address).
					Err(r.Context().Err()).
					Msg("sse stream closed")
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Address != address || !newerSeq(ev.Seq, lastSeq) {
					continue
				}
				if err := events.WriteSSE(w, ev); err != nil {
					return
				}
				lastSeq = ev.Seq
				flusher.Flush()
			case <-ticker.C:
				ping := events.Event{Kind: "ping", ServerTS: time.Now().UnixMilli(), Data: map[string]any{"ts": time.Now().UnixMilli()}}
				if err := events.WriteSSE(w, ping); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// newerSeq drops live events already sent during replay.
func newerSeq(seq, last string) bool {
	l, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return true
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	return err == nil && n > l
}
