package httptransport

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"chip-settlement/internal/config"
	"chip-settlement/internal/deposit"
	"chip-settlement/internal/events"
	"chip-settlement/internal/ledger"
	"chip-settlement/internal/scheduler"
	"chip-settlement/internal/store"
	"chip-settlement/internal/withdrawal"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Deps are the components the HTTP surface reads and drives. Jobs and MCP
// are optional.
type Deps struct {
	Repo        store.Repository
	Ledger      *ledger.Ledger
	Deposits    *deposit.Pipeline
	Withdrawals *withdrawal.Pipeline
	Events      *events.Buffer
	Jobs        *scheduler.Scheduler
	MCP         http.Handler
}

func NewRouter(cfg config.ServerConfig, d Deps) *chi.Mux {
	accountHandlers := NewAccountHandlers(d.Repo, d.Deposits)
	withdrawalHandlers := NewWithdrawalHandlers(d.Repo, d.Withdrawals)
	adminHandlers := NewAdminHandlers(d.Repo, d.Ledger, d.Deposits, d.Jobs)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", adminHandlers.Health())
	r.Handle("/metrics", promhttp.Handler())

	if d.MCP != nil {
		r.Group(func(r chi.Router) {
			r.Use(APILogMiddleware())
			r.MethodFunc(http.MethodOptions, "/mcp", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Allow", "POST, GET, DELETE, OPTIONS")
				w.WriteHeader(http.StatusNoContent)
			})
			r.Group(func(r chi.Router) {
				r.Use(AdminAuthMiddleware(cfg.AdminAPIKey))
				r.Method(http.MethodPost, "/mcp", d.MCP)
				r.Method(http.MethodGet, "/mcp", d.MCP)
				r.Method(http.MethodDelete, "/mcp", d.MCP)
			})
		})
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Get("/accounts/{address}", accountHandlers.Get())
		r.Get("/accounts/{address}/transactions", accountHandlers.Transactions())
		r.Get("/accounts/{address}/withdrawals", accountHandlers.Withdrawals())
		r.Post("/accounts/{address}/watch", accountHandlers.Watch())
		r.Delete("/accounts/{address}/watch", accountHandlers.Unwatch())
		r.Get("/accounts/{address}/events", EventsSSEHandler(d.Events))

		r.With(GatewayAuthMiddleware(cfg.GatewayAPIKey)).Post("/withdrawals", withdrawalHandlers.Create())
		r.Get("/withdrawals/{id}", withdrawalHandlers.Get())

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminAPIKey))
			r.Use(BodyCaptureMiddleware(4096))
			r.Get("/alerts", adminHandlers.Alerts())
			r.Post("/alerts/{id}/resolve", adminHandlers.ResolveAlert())
			r.Get("/stats", adminHandlers.Stats())
			r.Get("/monitors", adminHandlers.Monitors())
			r.Get("/ledger", adminHandlers.Ledger())
			r.Post("/accounts/{address}/credit", adminHandlers.Credit())
			r.Post("/accounts/{address}/debit", adminHandlers.Debit())
			r.Post("/jobs/{name}/run", adminHandlers.RunJob())
		})
	})
	return r
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 32)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
