package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fuelstation-cloud/internal/audit"
	"fuelstation-cloud/internal/auth"
	"fuelstation-cloud/internal/config"
	deliveryapp "fuelstation-cloud/internal/delivery/application"
	deliveryhttp "fuelstation-cloud/internal/delivery/interfaces/http"
	masterdataapp "fuelstation-cloud/internal/masterdata/application"
	notifyapp "fuelstation-cloud/internal/notification/application"
	notifyrepo "fuelstation-cloud/internal/notification/infrastructure/postgres"
	"fuelstation-cloud/internal/observability/metrics"
	pricing "fuelstation-cloud/internal/pricing/domain"
	"fuelstation-cloud/internal/pricing/infrastructure/fixed"
	pricingrepo "fuelstation-cloud/internal/pricing/infrastructure/postgres"
	shiftapp "fuelstation-cloud/internal/shift/application"
	shift "fuelstation-cloud/internal/shift/domain"
	shiftrepo "fuelstation-cloud/internal/shift/infrastructure/postgres"
	shifthttp "fuelstation-cloud/internal/shift/interfaces/http"
	"fuelstation-cloud/pkg/logger"
)

func main() {
	envFile := flag.String("env", "", "optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.Must(logger.New("info")).Fatal("config error", zap.Error(err))
	}
	log := logger.Must(logger.New(cfg.LogLevel))
	defer func() { _ = log.Sync() }()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db open error", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("db ping error", zap.Error(err))
	}

	metrics.Init(db, logger.Named(log, "metrics"))
	auditRepo := audit.NewRepository(db)

	shiftStore, err := shiftrepo.NewStore(db,
		shiftrepo.WithLockTimeout(cfg.Shift.LockTimeout),
		shiftrepo.WithStatementTimeout(cfg.Shift.StatementTimeout),
	)
	if err != nil {
		log.Fatal("shift store error", zap.Error(err))
	}

	prices, err := buildPriceProvider(db, cfg.Shift.FixedPrices)
	if err != nil {
		log.Fatal("price provider error", zap.Error(err))
	}
	if cfg.Shift.FixedPrices != "" {
		log.Warn("using fixed fuel prices", zap.String("prices", cfg.Shift.FixedPrices))
	}

	meter, err := shift.NewMeterCalculator(cfg.Shift.MeterMax)
	if err != nil {
		log.Fatal("meter config error", zap.Error(err))
	}

	toleranceCfg, err := masterdataapp.LoadToleranceConfig(cfg.Shift.ToleranceFile)
	if err != nil {
		log.Fatal("tolerance config error", zap.String("path", cfg.Shift.ToleranceFile), zap.Error(err))
	}

	alertTemplate, err := notifyapp.NewTemplate(cfg.Alerts.Template)
	if err != nil {
		log.Fatal("alert template error", zap.Error(err))
	}
	notifier, err := notifyapp.NewVarianceNotifier(
		notifyrepo.NewUserDirectory(db, ""),
		notifyapp.NewMultiSink(
			notifyrepo.NewNotificationRepository(db, ""),
			notifyapp.NewLogSink(logger.Named(log, "notify.log")),
		),
		alertTemplate,
		notifyapp.WithExecutiveRoles(cfg.Alerts.ExecutiveRoles),
		notifyapp.WithLinkBase(cfg.Alerts.LinkBase),
		notifyapp.WithDedupeWindow(cfg.Alerts.DedupeWindow),
		notifyapp.WithLogger(logger.Named(log, "notify")),
	)
	if err != nil {
		log.Fatal("variance notifier error", zap.Error(err))
	}

	shiftService, err := shiftapp.NewService(shiftStore, prices,
		shiftapp.WithMeterCalculator(meter),
		shiftapp.WithToleranceSource(masterdataapp.NewToleranceResolver(toleranceCfg)),
		shiftapp.WithAlertNotifier(notifier),
		shiftapp.WithAuditLogger(auditRepo),
		shiftapp.WithCloseTimeout(cfg.Shift.CloseTimeout),
		shiftapp.WithLogger(logger.Named(log, "svc.shift")),
	)
	if err != nil {
		log.Fatal("shift service error", zap.Error(err))
	}
	shiftHandler, err := shifthttp.NewHandler(shiftService, logger.Named(log, "http.shift"))
	if err != nil {
		log.Fatal("shift handler error", zap.Error(err))
	}

	deliveryService, err := deliveryapp.NewService(shiftStore, auditRepo, shiftapp.SystemClock{},
		logger.Named(log, "svc.delivery"),
		deliveryapp.WithStationGuard(auth.EnsureStationScope),
	)
	if err != nil {
		log.Fatal("delivery service error", zap.Error(err))
	}
	deliveryHandler, err := deliveryhttp.NewHandler(deliveryService)
	if err != nil {
		log.Fatal("delivery handler error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watchdog, err := shiftapp.NewWatchdog(shiftStore, cfg.Watchdog.MaxOpen, shiftapp.SystemClock{}, logger.Named(log, "shift.watchdog"))
	if err != nil {
		log.Fatal("watchdog error", zap.Error(err))
	}
	if err := watchdog.Start(ctx, cfg.Watchdog.Schedule); err != nil {
		log.Fatal("watchdog schedule error", zap.String("schedule", cfg.Watchdog.Schedule), zap.Error(err))
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.AccessLog(log))
	r.Use(audit.RequestMetaMiddleware)
	r.Use(authMiddleware.Wrap)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	shiftHandler.Routes(r)
	deliveryHandler.Routes(r)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error", zap.Error(err))
	}
	watchdog.Stop()
}

func buildPriceProvider(db *sql.DB, fixedPrices string) (pricing.Provider, error) {
	if fixedPrices == "" {
		return pricingrepo.NewPriceProvider(db), nil
	}
	snapshot, err := fixed.ParseSnapshot(fixedPrices)
	if err != nil {
		return nil, err
	}
	provider, err := fixed.NewPriceProvider(snapshot)
	if err != nil {
		return nil, err
	}
	return provider, nil
}
