package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	genesiscfg "veralend/config"
	"veralend/core/events"
	"veralend/native/common"
	"veralend/observability/logging"
	"veralend/services/marketd/config"
	"veralend/services/marketd/server"
	"veralend/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/marketd/marketd.yaml", "path to marketd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("VERALEND_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.SetupWithFile("marketd", env, logging.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	genesis, err := genesiscfg.Load(cfg.GenesisPath)
	if err != nil {
		log.Fatalf("load genesis: %v", err)
	}

	var db storage.Database
	if strings.TrimSpace(cfg.DataDir) != "" {
		db, err = storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
	} else {
		logger.Warn("no data_dir configured, state is in-memory only")
		db = storage.NewMemDB()
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("close database", "err", err)
		}
	}()

	ledger := server.NewMemoryLedger()
	engine, sources, err := server.Build(context.Background(), genesis, db, ledger, common.SystemClock(), events.NoopEmitter{})
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	auth := server.NewAuthenticator(cfg.Auth.AdminSecret)
	if !auth.Enabled() {
		logger.Warn("admin surface disabled: no admin secret configured")
	}

	api := server.New(engine, ledger, sources, logger, auth)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.Router(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("marketd listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	logger.Info("marketd stopped")
}
