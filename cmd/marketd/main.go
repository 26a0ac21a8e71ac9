package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"nftmarket/config"
	"nftmarket/core"
	marketstate "nftmarket/core/state"
	"nftmarket/core/types"
	"nftmarket/integrations/localassets"
	"nftmarket/native/market"
	"nftmarket/observability/logging"
	"nftmarket/rpc"
	"nftmarket/storage"
)

const royaltyBpsEnv = "MARKET_DEV_ROYALTY_BPS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MARKET_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var logOut io.Writer
	if strings.TrimSpace(cfg.LogDir) != "" {
		logOut = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "marketd.log"),
			MaxSize:    64, // megabytes
			MaxBackups: 5,
			Compress:   true,
		}
	}
	logger := logging.Setup("marketd", env, logOut)

	owner, err := cfg.OwnerAddress()
	if err != nil {
		logger.Error("Invalid owner address", slog.Any("error", err))
		os.Exit(1)
	}
	vault, err := cfg.VaultAddress()
	if err != nil {
		logger.Error("Invalid vault address", slog.Any("error", err))
		os.Exit(1)
	}
	feeDestination, err := cfg.FeeDestinationAddress()
	if err != nil {
		logger.Error("Invalid fee destination", slog.Any("error", err))
		os.Exit(1)
	}
	currencies, err := cfg.Currencies()
	if err != nil {
		logger.Error("Invalid currency allow-list", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storageOpen(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := marketstate.NewManager(db)
	kv := manager.KV()
	engine := market.NewEngine(owner, vault)
	engine.SetRegistry(localassets.NewRegistry(kv, feeDestination, devRoyaltyBps()))
	engine.SetTokens(localassets.NewTokenLedger(kv, vault))

	node := core.NewNode(manager, engine)

	// Fee policy lives in state; the config values only seed a fresh database
	// so runtime admin changes survive restarts.
	if _, ok, err := manager.FeeConfigGet(); err != nil {
		logger.Error("Failed to read fee policy", slog.Any("error", err))
		os.Exit(1)
	} else if !ok {
		if err := engine.SetFeeRates(cfg.NativeFeeBps, cfg.TokenFeeBps); err != nil {
			logger.Error("Failed to seed fee rates", slog.Any("error", err))
			os.Exit(1)
		}
		if err := engine.SetFeeDestination(feeDestination); err != nil {
			logger.Error("Failed to seed fee destination", slog.Any("error", err))
			os.Exit(1)
		}
	}

	for _, currency := range currencies {
		if err := engine.AddCurrency(owner, currency); err != nil {
			logger.Error("Failed to seed currency allow-list",
				slog.String("currency", types.FormatAddress(currency)),
				slog.Any("error", err))
			os.Exit(1)
		}
	}
	manager.DiscardJournal()

	server := rpc.NewServer(node)
	server.SetRegistryResolver(localassets.NewRegistryHub(kv, feeDestination, devRoyaltyBps()))
	logger.Info("Starting marketplace JSON-RPC server",
		slog.String("address", cfg.RPCAddress),
		slog.String("owner", types.FormatAddress(owner)))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func storageOpen(dataDir string) (storage.Database, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return storage.NewLevelDB(filepath.Join(dataDir, "market"))
}

func devRoyaltyBps() uint32 {
	raw := strings.TrimSpace(os.Getenv(royaltyBpsEnv))
	if raw == "" {
		return 0
	}
	var bps uint32
	if _, err := fmt.Sscanf(raw, "%d", &bps); err != nil || bps > 10_000 {
		return 0
	}
	return bps
}
