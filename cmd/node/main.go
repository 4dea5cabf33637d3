package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yjkwon/monadex/params"
	"github.com/yjkwon/monadex/pkg/api"
	"github.com/yjkwon/monadex/pkg/dex/engine"
	"github.com/yjkwon/monadex/pkg/dex/token"
	"github.com/yjkwon/monadex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Token vault and matching engine ----
	vault := token.NewVault()

	eng, err := engine.New(engine.Config{
		Owner:        cfg.Exchange.Owner,
		FeeRecipient: cfg.Exchange.FeeRecipient,
		Vault:        vault,
		DBPath:       cfg.Node.DataDir,
		Logger:       sugar,
	})
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}
	defer eng.Close()

	sugar.Infow("engine_initialized",
		"owner", cfg.Exchange.Owner.Hex(),
		"fee_recipient", cfg.Exchange.FeeRecipient.Hex(),
		"data_dir", cfg.Node.DataDir,
		"dev_mode", cfg.Node.DevMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API server ----
	apiServer := api.NewServer(eng, vault, sugar, cfg.Node.DevMode)
	go func() {
		if err := apiServer.Start(cfg.API.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("node_shutting_down")
}
