package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/franckalain/plateswipe/internal/config"
	"github.com/franckalain/plateswipe/internal/database"
	"github.com/franckalain/plateswipe/internal/logger"
	"github.com/franckalain/plateswipe/internal/ml"
	"github.com/franckalain/plateswipe/internal/openfoodfacts"
	"github.com/franckalain/plateswipe/internal/resolver"
	"github.com/franckalain/plateswipe/internal/server"
)

func main() {
	config.LoadEnv()

	configPath := flag.String("config", config.GetConfigPath(), "path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Server.LogMode, cfg.Server.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize primary store
	store, err := database.Open(ctx, cfg.Store.Type, database.Options{
		Path:          cfg.Store.Path,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		RedisPrefix:   cfg.Store.RedisPrefix,
	}, log)
	if err != nil {
		log.Fatal("Failed to open ingredient store", "type", cfg.Store.Type, "error", err)
	}
	defer store.Close()

	// Initialize fallback source
	off := openfoodfacts.New(openfoodfacts.Config{
		BaseURL:   cfg.OpenFoodFacts.BaseURL,
		UserAgent: cfg.OpenFoodFacts.UserAgent,
		Timeout:   time.Duration(cfg.OpenFoodFacts.Timeout),
	}, log)

	res := resolver.New(store, off, resolver.Config{
		NetworkTimeout:     time.Duration(cfg.Resolver.NetworkTimeout),
		BackfillTimeout:    time.Duration(cfg.Resolver.BackfillTimeout),
		DefaultSearchCount: cfg.Resolver.DefaultSearchCount,
	}, log)

	// Initialize label reader (optional)
	reader, err := ml.NewLabelReader(cfg.ML.Type, cfg.ML.ConfigPath, log)
	if err != nil {
		log.Fatal("Failed to create label reader", "type", cfg.ML.Type, "error", err)
	}
	if reader != nil {
		if err := reader.Load(ctx); err != nil {
			log.Fatal("Failed to load label reader", "error", err)
		}
	}

	srv := server.New(res, reader, server.Options{
		ScanThreshold: cfg.Scan.Threshold,
		StaticDir:     cfg.Server.StaticDir,
		Debug:         cfg.Server.Debug,
	}, log)
	if err := srv.Start(ctx, ":"+cfg.Server.Port); err != nil {
		log.Error("Server stopped with error", "error", err)
	}

	// let pending backfills land before the store closes
	res.Wait()
	log.Info("Shutdown complete")
}
