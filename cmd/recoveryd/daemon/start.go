package daemon

import (
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/recoverylabs/recoveryd/dispatch"
	"github.com/recoverylabs/recoveryd/ledger"
	"github.com/recoverylabs/recoveryd/log"
	"github.com/recoverylabs/recoveryd/metrics"
	"github.com/recoverylabs/recoveryd/recovery/api"
	rcfg "github.com/recoverylabs/recoveryd/recovery/config"
	"github.com/recoverylabs/recoveryd/recovery/service"
	"github.com/recoverylabs/recoveryd/types"
)

func NewStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the recovery daemon",
		Long:  "Start the recovery daemon and run it until shutdown.",
		RunE:  startFn,
	}

	cmd.Flags().String(apiListenerFlag, "", "The address that the API server listens to")

	return cmd
}

func startFn(cmd *cobra.Command, _ []string) error {
	homePath, err := getHomePath(cmd)
	if err != nil {
		return fmt.Errorf("failed to load home flag: %w", err)
	}

	cfg, err := rcfg.LoadConfig(homePath)
	if err != nil {
		return fmt.Errorf("failed to load config at %s: %w", homePath, err)
	}

	apiListener, err := cmd.Flags().GetString(apiListenerFlag)
	if err != nil {
		return fmt.Errorf("failed to get API listener flag: %w", err)
	}
	if apiListener != "" {
		if _, err := net.ResolveTCPAddr("tcp", apiListener); err != nil {
			return fmt.Errorf("invalid API listener address %s: %w", apiListener, err)
		}
		cfg.APIListener = apiListener
	}

	logger, err := log.NewRootLoggerWithFile(rcfg.LogFile(homePath), cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to load the logger: %w", err)
	}

	db, err := cfg.DatabaseConfig.GetDBBackend()
	if err != nil {
		return fmt.Errorf("failed to create db backend: %w", err)
	}

	bank, err := ledger.NewBankLedger(db)
	if err != nil {
		return fmt.Errorf("failed to create bank ledger: %w", err)
	}

	params, err := service.ParamsFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to build protocol params: %w", err)
	}

	resolver := types.HexResolver{}
	promMetrics := metrics.NewRecoveryMetrics()

	mgr, err := service.NewRecoveryManager(
		params, db, bank,
		dispatch.NewLedgerDispatcher(bank, resolver, logger),
		service.NewUnixTimeSource(),
		service.NewZapEventSink(logger),
		promMetrics, logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create recovery manager: %w", err)
	}

	mux := http.NewServeMux()
	api.NewHandler(mgr, bank, resolver, logger).RegisterRoutes(mux)
	handler := api.HMACMiddleware(cfg.HMACKey, logger, mux)

	srv := service.NewRecoveryServer(cfg, logger, handler, db, promMetrics.Registry)

	return srv.RunUntilShutdown(cmd.Context())
}
