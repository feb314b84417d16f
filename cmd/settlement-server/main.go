package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chip-settlement/internal/chain"
	"chip-settlement/internal/config"
	"chip-settlement/internal/deposit"
	"chip-settlement/internal/economics"
	"chip-settlement/internal/events"
	"chip-settlement/internal/ledger"
	"chip-settlement/internal/logging"
	"chip-settlement/internal/mcpserver"
	"chip-settlement/internal/monitor"
	"chip-settlement/internal/notify"
	"chip-settlement/internal/scheduler"
	"chip-settlement/internal/store"
	"chip-settlement/internal/tracing"
	httptransport "chip-settlement/internal/transport/http"
	"chip-settlement/internal/withdrawal"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		panic(err)
	}
	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing init failed")
	}

	repo, closeStore := openStore(ctx, cfg.Server)
	defer closeStore()

	observer := chain.NewUniSatClient(cfg.Chain)
	signer, err := chain.NewRemoteSigner(cfg.Chain)
	if err != nil {
		log.Fatal().Err(err).Msg("signer config invalid")
	}

	bus := events.NewBus()
	buffer := events.NewBuffer(2000)
	bus.Subscribe("sse_buffer", buffer.Handle)
	if cfg.Redis.URL != "" {
		rdb, err := events.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("redis config invalid")
		}
		defer rdb.Close()
		bus.Subscribe("redis_stream", events.NewRedisSink(rdb, cfg.Redis).Handle)
	}

	var pager monitor.Pager
	if cfg.Monitor.PagerSendGridKey != "" {
		emailPager, err := monitor.NewEmailPager(cfg.Monitor)
		if err != nil {
			log.Fatal().Err(err).Msg("pager config invalid")
		}
		pager = emailPager
	} else {
		log.Warn().Msg("no pager configured; critical alerts are stored and notified only")
	}
	mon := monitor.New(monitor.ConfigFrom(cfg.Monitor, cfg.Economics, cfg.Chain), repo, observer, bus, pager)
	bus.Subscribe("monitor", mon.Handle)

	notifyCfg, err := notify.ConfigFrom(cfg.Notify)
	if err != nil {
		log.Fatal().Err(err).Msg("notify config invalid")
	}
	notifier := notify.NewManager(notifyCfg)
	bus.Subscribe("notify", notifier.Handle)

	led := ledger.New(repo, economics.FromConfig(cfg.Economics))
	deposits := deposit.New(deposit.ConfigFrom(cfg.Economics, cfg.Chain), repo, led, observer, bus, mon)
	withdrawals := withdrawal.New(withdrawal.ConfigFrom(cfg.Economics, cfg.Chain), repo, led, observer, signer, bus)

	jobs := scheduler.New()
	err = scheduler.Register(jobs, scheduler.SettlementJobs(cfg.Monitor, cfg.Chain, scheduler.Deps{
		Monitor:     mon,
		Withdrawals: withdrawals,
		Alerts:      repo,
		Deposits:    deposits,
	}))
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler config invalid")
	}

	if cfg.Server.GatewayAPIKey == "" {
		log.Warn().Msg("GATEWAY_API_KEY not set; withdrawal requests will be refused")
	}
	var mcpHandler http.Handler
	if cfg.Server.MCPEnabled {
		mcpHandler = mcpserver.New(repo, observer, cfg.Chain.HouseWalletAddress).Handler()
	}
	r := httptransport.NewRouter(cfg.Server, httptransport.Deps{
		Repo:        repo,
		Ledger:      led,
		Deposits:    deposits,
		Withdrawals: withdrawals,
		Events:      buffer,
		Jobs:        jobs,
		MCP:         mcpHandler,
	})
	httptransport.LogRoutes(r)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Withdrawal submits block through broadcast.
		WriteTimeout: cfg.Economics.WithdrawalBroadcastTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deposits.Run(gctx)
	})
	g.Go(func() error {
		if err := notifier.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		notifier.Wait()
		return nil
	})
	g.Go(func() error {
		jobs.Start(gctx)
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		jobs.Stop(sctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
	}
	bus.Close()
	buffer.Close()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdownTracing(sctx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
	log.Info().Msg("settlement server stopped")
}

func openStore(ctx context.Context, cfg config.ServerConfig) (store.Repository, func()) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn().Msg("using in-memory store; balances are lost on restart")
		return store.NewMemoryStore(), func() {}
	}
	if cfg.AutoMigrate {
		if err := store.Migrate(cfg.PostgresDSN); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
	}
	st, err := store.New(cfg.PostgresDSN, store.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MaxConnLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	if err := st.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	return st, st.Close
}
