package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	x402 "github.com/ticketchain/x402-tickets"
	"github.com/ticketchain/x402-tickets/config"
	tickethttp "github.com/ticketchain/x402-tickets/http"
	"github.com/ticketchain/x402-tickets/mechanisms/evm"
	x402move "github.com/ticketchain/x402-tickets/mechanisms/move"
	"github.com/ticketchain/x402-tickets/reconcile"
	evmsigner "github.com/ticketchain/x402-tickets/signers/evm"
	movesigner "github.com/ticketchain/x402-tickets/signers/move"
)

type app struct {
	router *gin.Engine
	store  reconcile.Store
	close  func()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "ticketd").Logger()
}

func tokenDomain(cfg config.PaymentConfig) evm.TypedDataDomain {
	return evm.TypedDataDomain{
		Name:              cfg.TokenName,
		Version:           cfg.TokenVersion,
		ChainID:           big.NewInt(cfg.ChainID),
		VerifyingContract: cfg.Token,
	}
}

func newStore(ctx context.Context, cfg config.ReconcileConfig) (reconcile.Store, func(), error) {
	if cfg.Backend != "redis" {
		return reconcile.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return reconcile.NewRedisStore(client, cfg.KeyPrefix), func() { client.Close() }, nil
}

// buildApp wires every component from the validated configuration. Custodial keys are
// parsed here once; a bad key fails startup.
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	fallback, err := cfg.FallbackPrice()
	if err != nil {
		return nil, err
	}

	moveClient, err := movesigner.NewProcessorClient(cfg.Fulfillment.RPCURL, cfg.Fulfillment.ProcessorKey,
		movesigner.WithMaxGasAmount(cfg.Fulfillment.MaxGasAmount),
		movesigner.WithLogger(logger.With().Str("component", "move").Logger()),
	)
	if err != nil {
		return nil, err
	}
	module := cfg.Fulfillment.ModuleAddress

	oracle := x402move.NewPriceOracle(moveClient, module,
		x402move.WithFallbackPrice(fallback),
		x402move.WithOracleLogger(logger.With().Str("component", "oracle").Logger()),
	)
	catalog := x402move.NewCatalog(moveClient, module)
	minter := x402move.NewFulfillmentMinter(moveClient, module,
		x402move.WithMintTimeout(cfg.Fulfillment.MintTimeout),
		x402move.WithMinterLogger(logger.With().Str("component", "minter").Logger()),
	)

	policy := x402.PolicyEnforce
	var (
		verifier x402.AuthorizationVerifier
		settler  x402.Settler
	)
	if cfg.Payment.Bypass {
		policy = x402.PolicyBypassForTesting
	} else {
		relayer, err := evmsigner.DialRelayer(ctx, cfg.Payment.RelayerKey, cfg.Payment.RPCURL,
			evmsigner.WithRelayerLogger(logger.With().Str("component", "relayer").Logger()),
		)
		if err != nil {
			return nil, err
		}
		if relayer.ChainID().Int64() != cfg.Payment.ChainID {
			return nil, fmt.Errorf("BASE_RPC_URL serves chain %s, configured chain is %d", relayer.ChainID(), cfg.Payment.ChainID)
		}
		domain := tokenDomain(cfg.Payment)
		if err := evm.CheckTokenDomain(ctx, relayer, domain, int(cfg.Payment.Decimals)); err != nil {
			return nil, err
		}
		verifier = evm.NewEIP3009Verifier(domain)
		settler = evm.NewSettlementExecutor(relayer, cfg.Payment.Token, cfg.Payment.Network,
			evm.WithSettlementTimeout(cfg.Payment.SettlementTimeout),
			evm.WithSettlementLogger(logger.With().Str("component", "settlement").Logger()),
		)
		logger.Info().Str("relayer", relayer.Address()).Str("processor", moveClient.Address()).Msg("custodial accounts loaded")
	}

	gate, err := x402.NewPaymentGate(x402.GateConfig{
		Network:    cfg.Payment.Network,
		ChainID:    cfg.Payment.ChainID,
		Token:      cfg.Payment.Token,
		Receiver:   cfg.Payment.Receiver,
		Decimals:   cfg.Payment.Decimals,
		Policy:     policy,
		Production: cfg.Production(),
	}, oracle, verifier, settler, x402.WithGateLogger(logger.With().Str("component", "gate").Logger()))
	if err != nil {
		return nil, err
	}

	store, closeStore, err := newStore(ctx, cfg.Reconcile)
	if err != nil {
		return nil, err
	}

	orchestrator := x402.NewPurchaseOrchestrator(gate, oracle, minter,
		x402.WithRecorder(store),
		x402.WithOrchestratorLogger(logger.With().Str("component", "purchase").Logger()),
	)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := tickethttp.NewRouter(orchestrator, oracle, catalog,
		tickethttp.WithPrefix(cfg.Server.Prefix),
		tickethttp.WithLogger(logger.With().Str("component", "http").Logger()),
	)

	return &app{router: router, store: store, close: closeStore}, nil
}
