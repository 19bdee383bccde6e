// Command panelauth serves the panel authentication API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/MrEthical07/panelauth"
	"github.com/MrEthical07/panelauth/internal/appconfig"
	"github.com/MrEthical07/panelauth/internal/httpapi"
	"github.com/MrEthical07/panelauth/internal/logging"
	"github.com/MrEthical07/panelauth/mail"
	otelexport "github.com/MrEthical07/panelauth/metrics/export/otel"
	"github.com/MrEthical07/panelauth/metrics/export/prometheus"
	"github.com/MrEthical07/panelauth/middleware"
	"github.com/MrEthical07/panelauth/store/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "panelauth: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := appconfig.Load("panelauth", os.Args[1:])
	if err != nil {
		return err
	}
	log := logging.NewJSON(os.Stderr, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// -------- STORAGE --------
	db, err := postgres.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info(ctx, "migrations applied")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	// -------- ENGINE --------
	b := panelauth.New().
		WithConfig(cfg.EngineConfig()).
		WithStore(postgres.New(db)).
		WithRedis(rdb).
		WithLogger(log)
	if smtp, ok := cfg.Mail(); ok {
		b = b.WithMailer(mail.NewSMTPSender(smtp))
	} else {
		log.Warn(ctx, "smtp not configured, email flows disabled")
	}
	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	// -------- METRICS --------
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus {
		metricsHandler = prometheus.NewExporter(engine).Handler()
	}
	if cfg.Metrics.Enabled && cfg.Metrics.OTel {
		exp, err := otelexport.NewExporter(otel.GetMeterProvider().Meter("github.com/MrEthical07/panelauth"), engine)
		if err != nil {
			return fmt.Errorf("otel exporter: %w", err)
		}
		defer exp.Close()
	}

	// -------- HTTP --------
	handler := httpapi.New(engine, httpapi.Options{
		Transport:  &middleware.CookieTransport{Insecure: cfg.HTTP.InsecureCookies},
		Logger:     log,
		TrustProxy: cfg.HTTP.TrustProxy,
		Metrics:    metricsHandler,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout.Duration,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout.Duration,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info(ctx, "listening", "addr", cfg.HTTP.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
