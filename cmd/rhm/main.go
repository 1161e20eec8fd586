package main

import (
	"context"
	"fmt"
	"os"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/kinetic-fi/rhm/internal/config"
	"github.com/kinetic-fi/rhm/internal/engine"
	"github.com/kinetic-fi/rhm/internal/exchange"
	"github.com/kinetic-fi/rhm/internal/logger"
	"github.com/kinetic-fi/rhm/internal/oracle"
	"github.com/kinetic-fi/rhm/internal/rhm"
	"github.com/kinetic-fi/rhm/internal/state"
	"github.com/kinetic-fi/rhm/internal/types"
	"github.com/kinetic-fi/rhm/internal/vaultwrap"
	"github.com/kinetic-fi/rhm/internal/web"
)

const (
	// Seed reserves for the managed pool. Price starts at 1.
	SEED_RESERVE_0 = 1_000_000_000
	SEED_RESERVE_1 = 1_000_000_000

	// Pool shares the operator rehypothecates at startup so the vault side
	// has working capital from cycle one.
	SEED_POOL_SHARES = 500_000_000

	// JIT range half-width in ticks around the initial tick.
	JIT_HALF_WIDTH = 1_000

	VAULT_ID_CURRENCY_0 = "sim/lend-0"
	VAULT_ID_CURRENCY_1 = "sim/lend-1"
)

// main is the entry point for the RHM daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("RHM Core Logic Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Venue and Simulated Yield Sources ---
	poolID := types.PoolID(config.PoolID)

	venue := exchange.NewInMemoryExchange()
	err := venue.CreatePool(poolID,
		sdkmath.NewInt(SEED_RESERVE_0), sdkmath.NewInt(SEED_RESERVE_1),
		config.DefaultInitialFee)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create venue pool")
	}

	simVaults := map[types.CurrencySlot]*vaultwrap.SimulatedYieldVault{
		types.Currency0: vaultwrap.NewSimulatedYieldVault(VAULT_ID_CURRENCY_0),
		types.Currency1: vaultwrap.NewSimulatedYieldVault(VAULT_ID_CURRENCY_1),
	}
	vaultFactory := func(vaultID string) (vaultwrap.YieldVault, error) {
		for _, v := range simVaults {
			if v.ID() == vaultID {
				return v, nil
			}
		}
		return nil, fmt.Errorf("unknown vault id: %s", vaultID)
	}

	// --- 3. Engine Assembly ---
	authorizer := engine.NewStaticAuthorizer().Grant(rhm.OperatorAccount,
		engine.OpInitializePool, engine.OpPoke, engine.OpSetYieldSource,
		engine.OpPause, engine.OpCollectFees, engine.OpSetVaultFee,
		engine.OpProvideLiquidity)

	eng, err := engine.New(engine.Config{
		Venue:        venue,
		Authorizer:   authorizer,
		VaultFactory: vaultFactory,
		Treasury:     "rhm/treasury",
		VaultFeeBps:  config.VaultFeeBps,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}

	initialTick, err := venue.CurrentTick(poolID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read initial tick")
	}

	err = eng.InitializePool(rhm.OperatorAccount, poolID,
		config.DefaultInitialFee, config.DefaultTargetRatio, config.DefaultPoolParams,
		initialTick-JIT_HALF_WIDTH, initialTick+JIT_HALF_WIDTH)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pool")
	}

	for slot, vault := range simVaults {
		if err := eng.SetYieldSource(rhm.OperatorAccount, poolID, slot, vault.ID()); err != nil {
			log.Fatal().Err(err).Uint8("slot", uint8(slot)).Msg("Failed to configure yield source")
		}
	}

	// Seed rehypothecated liquidity so the JIT manager has capital to deploy.
	price, err := venue.CurrentPrice(poolID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read initial price")
	}
	used0, used1, err := eng.AddReHypothecatedLiquidity(rhm.OperatorAccount, poolID,
		sdkmath.NewInt(SEED_POOL_SHARES), price, 100)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed rehypothecated liquidity")
	}
	log.Info().
		Str("amount0", used0.String()).
		Str("amount1", used1.String()).
		Msg("Seed liquidity rehypothecated")

	// --- 4. Start Web Server ---
	webPort := fmt.Sprintf("%d", config.WebPort)
	webServer := web.NewWebServer(webPort, eng)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting RHM web API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Create RHM Instance with Dependency Injection ---
	log.Info().Msg("Creating RHM instance with dependency injection...")

	ratioOracle, err := oracle.NewRatioOracle(venue, poolID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ratio oracle")
	}

	rhmInstance, err := rhm.NewRHM(rhm.Config{
		Engine:      eng,
		Venue:       venue,
		Oracle:      ratioOracle,
		SimVaults:   simVaults,
		PoolID:      poolID,
		SimYieldBps: config.SimYieldBps,
		SimSlashBps: config.SimSlashBps,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RHM instance")
	}

	log.Info().Msg("RHM instance created successfully")

	// --- 6. Start RHM Main Loop ---
	log.Info().Str("interval", config.CycleInterval.String()).Msg("Starting RHM main loop")

	ctx := context.Background()

	// Start the RHM loop (this will run indefinitely)
	rhmInstance.RunLoop(ctx, config.CycleInterval)
}
