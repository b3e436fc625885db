// Command coordinator runs the prime-search coordination service: the
// scheduler, worker registry, verification pipeline, cost model, and
// release engine, all fronted by one HTTP API.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oddurs/prime-coordinator/internal/app"
	"github.com/oddurs/prime-coordinator/internal/app/metrics"
	"github.com/oddurs/prime-coordinator/internal/app/services/verification"
	"github.com/oddurs/prime-coordinator/internal/config"
	"github.com/oddurs/prime-coordinator/internal/platform/database"
	"github.com/oddurs/prime-coordinator/internal/platform/migrations"
	"github.com/oddurs/prime-coordinator/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file overlaying the environment")
	addr := flag.String("addr", "", "HTTP listen address (overrides config/env)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory storage)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if trimmed := strings.TrimSpace(*addr); trimmed != "" {
		cfg.ListenAddr = trimmed
	}

	log := logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	rootCtx := context.Background()

	var db *sql.DB
	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		db, err = database.Open(rootCtx, dsn)
		if err != nil {
			log.WithError(err).Fatal("connect to postgres")
		}
		configurePool(db, cfg)
		if *runMigrations {
			if err := migrations.Apply(rootCtx, db); err != nil {
				log.WithError(err).Fatal("apply migrations")
			}
		}
	}
	if db != nil {
		defer db.Close()
	}

	stores := app.NewStores(db)
	application, err := app.New(cfg, stores, verificationRunner(), log)
	if err != nil {
		log.WithError(err).Fatal("initialise application")
	}

	if err := application.Start(rootCtx); err != nil {
		log.WithError(err).Fatal("start application")
	}
	log.WithField("addr", cfg.ListenAddr).Info("coordinator starting")

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: application.Handler()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Warn("metrics server failed")
			}
		}()
		log.WithField("addr", cfg.MetricsAddr).Info("metrics endpoint listening")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("metrics server shutdown")
		}
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Fatal("stop application")
	}
}

// loadConfig reads environment-derived configuration, optionally overlaid
// by a YAML file when path is non-empty.
func loadConfig(path string) (*config.Config, error) {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return config.LoadFile(trimmed)
	}
	return config.Load()
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg.DBMaxConnections > 0 {
		db.SetMaxOpenConns(cfg.DBMaxConnections)
		db.SetMaxIdleConns(cfg.DBMaxConnections)
	}
	if cfg.DBConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)
	}
}

// verificationRunner supplies the verification pipeline's numeric engine.
// The coordinator ships a general Baillie-PSW/Miller-Rabin prober good for
// tier 2; form-specific deterministic provers that earn tier 1 are a
// distinct capability a future Runner can add without changing this wiring.
func verificationRunner() verification.Runner {
	return verification.NewBigIntRunner()
}
