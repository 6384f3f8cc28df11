package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/flightdeck/skyboard/internal/analyst"
	"github.com/flightdeck/skyboard/internal/config"
	"github.com/flightdeck/skyboard/internal/dashboard"
	"github.com/flightdeck/skyboard/internal/logger"
	"github.com/flightdeck/skyboard/internal/warehouse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFile(cfg.Logging.File)

	querier, auth, err := buildWarehouse(cfg)
	if err != nil {
		logger.L.Error("failed to initialize warehouse", "error", err)
		os.Exit(1)
	}

	client, err := buildAnalyst(cfg, auth)
	if err != nil {
		logger.L.Error("failed to initialize analyst client", "error", err)
		os.Exit(1)
	}

	cache := dashboard.NewCache(cfg.Cache.RedisAddr, cfg.Cache.TTL())
	store := dashboard.NewStore(querier, cfg.Warehouse.Table, cache)
	server := dashboard.NewServer(store, querier, client, cfg.Analyst.SemanticView)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.L.Info("starting server", "address", addr)
	if err := http.ListenAndServe(addr, server.Mux()); err != nil {
		logger.L.Error("failed to start server", "error", err)
		os.Exit(1)
	}
}

func buildWarehouse(cfg *config.Config) (warehouse.Querier, *warehouse.KeyPairAuth, error) {
	switch cfg.Warehouse.Driver {
	case "snowflake":
		key, err := warehouse.LoadPrivateKey(cfg.Warehouse.PrivateKeyPath)
		if err != nil {
			return nil, nil, err
		}
		auth := warehouse.NewKeyPairAuth(cfg.Warehouse.Account, cfg.Warehouse.User, key)
		querier := warehouse.NewRestQuerier(auth.AccountURL(), auth,
			cfg.Warehouse.Database, cfg.Warehouse.Schema, cfg.Warehouse.Warehouse, cfg.Warehouse.Role)
		return querier, auth, nil
	case "sqlite":
		querier, err := warehouse.OpenSQLite(cfg.Warehouse.SQLitePath)
		return querier, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown warehouse driver %q", cfg.Warehouse.Driver)
	}
}

func buildAnalyst(cfg *config.Config, auth *warehouse.KeyPairAuth) (analyst.Client, error) {
	switch cfg.Analyst.Provider {
	case "cortex":
		baseURL := cfg.Analyst.BaseURL
		if baseURL == "" && auth != nil {
			baseURL = auth.AccountURL()
		}
		if baseURL == "" {
			return nil, fmt.Errorf("cortex analyst needs a base_url or a snowflake warehouse")
		}
		var tokens analyst.TokenSource
		if auth != nil {
			tokens = auth
		}
		return analyst.NewCortexClient(baseURL, tokens, cfg.Analyst.Timeout()), nil
	case "chat":
		return analyst.NewChatClient(cfg.Analyst.BaseURL, cfg.Analyst.APIKey, cfg.Analyst.Model), nil
	default:
		return nil, fmt.Errorf("unknown analyst provider %q", cfg.Analyst.Provider)
	}
}
