// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/amm/pkg/asset"
	"github.com/luxfi/amm/pkg/bridge"
	"github.com/luxfi/amm/pkg/engine"
	"github.com/luxfi/amm/pkg/events"
	"github.com/luxfi/amm/pkg/flashloan"
	"github.com/luxfi/amm/pkg/governance"
	"github.com/luxfi/amm/pkg/ids"
	"github.com/luxfi/amm/pkg/ledger"
	"github.com/luxfi/amm/pkg/log"
	"github.com/luxfi/amm/pkg/metric"
	"github.com/luxfi/amm/pkg/oracle"
	"github.com/luxfi/amm/pkg/storage"
)

var (
	// Node configuration flags
	dataDir  = flag.String("data-dir", "/tmp/ammd", "Data directory")
	dbType   = flag.String("db", "badger", "Database backend: badger, memory")
	port     = flag.Int("port", 8000, "HTTP port")
	logLevel = flag.String("log-level", "info", "Log level")

	// Protocol parameters
	feeRateBps     = flag.Uint64("fee-bps", 30, "Swap fee in basis points")
	flashFeeBps    = flag.Uint64("flash-fee-bps", 9, "Flash-loan fee in basis points")
	timelockDelay  = flag.Duration("timelock-delay", governance.DefaultDelay, "Governance timelock delay")
	ownerHex       = flag.String("owner", "", "Governance owner account (32-byte hex)")
	emergencyHex   = flag.String("emergency-owner", "", "Emergency pause account (32-byte hex, defaults to owner)")
	treasuryHex    = flag.String("treasury", "", "Treasury account (32-byte hex)")
	protocolFeeHex = flag.String("protocol-fee-to", "", "Protocol-fee share recipient (32-byte hex, empty disables)")
	devFaucet      = flag.Bool("dev-faucet", false, "Enable the /faucet endpoint (development only)")

	// Version info
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server bundles the engine and its HTTP surface
type Server struct {
	engine  *engine.Engine
	lender  *flashloan.Lender
	relay   *bridge.Relay
	ledger  *ledger.Ledger
	oracle  *oracle.Oracle
	gov     *governance.Timelock
	bank    *asset.Bank
	bus     *events.Bus
	store   *storage.Storage
	metrics *metric.Metrics

	httpServer *http.Server
	log        log.Logger
}

func main() {
	flag.Parse()

	fmt.Printf("AMM Daemon (ammd) %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)

	logger := log.NewWithLevel(*logLevel)
	defer logger.Sync()

	srv, err := NewServer(logger)
	if err != nil {
		fmt.Printf("Failed to create server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Printf("Failed to start server: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		fmt.Printf("Error during shutdown: %v\n", err)
	}

	fmt.Println("Daemon stopped")
}

// parseAccount reads a 32-byte hex account flag, generating one when empty
func parseAccount(name, value string, logger log.Logger) (ids.ID, error) {
	if value == "" {
		id := ids.GenerateTestID()
		logger.Warn("account not configured, generated ephemeral id", "flag", name, "id", id)
		return id, nil
	}
	id, err := ids.FromString(value)
	if err != nil {
		return ids.Empty, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return id, nil
}

// NewServer wires every component
func NewServer(logger log.Logger) (*Server, error) {
	owner, err := parseAccount("owner", *ownerHex, logger)
	if err != nil {
		return nil, err
	}

	emergency := owner
	if *emergencyHex != "" {
		if emergency, err = ids.FromString(*emergencyHex); err != nil {
			return nil, fmt.Errorf("invalid --emergency-owner: %w", err)
		}
	}

	treasury, err := parseAccount("treasury", *treasuryHex, logger)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(*dbType, *dataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	metrics, err := metric.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	bus := events.NewBus(logger)
	bus.SetSink(storage.NewEventJournal(store))

	clock := ledger.SystemClock{}
	led := ledger.New(clock, logger)
	orc := oracle.New(clock, oracle.DefaultConfig(), bus, logger)
	bank := asset.NewBank()

	params := governance.DefaultParams()
	params.FeeRateBps = *feeRateBps
	params.FlashFeeRateBps = *flashFeeBps
	gov := governance.New(clock, *timelockDelay, owner, emergency, params, bus, metrics, logger)

	eng := engine.New(led, orc, gov, bank, bus, metrics, logger)
	if *protocolFeeHex != "" {
		feeTo, err := ids.FromString(*protocolFeeHex)
		if err != nil {
			return nil, fmt.Errorf("invalid --protocol-fee-to: %w", err)
		}
		eng.SetFeeTo(feeTo)
	}

	lender := flashloan.New(led, gov, bank, bus, metrics, treasury, logger)

	relay, err := bridge.New(eng, gov, store, clock, bus, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("init bridge relay: %w", err)
	}

	return &Server{
		engine:  eng,
		lender:  lender,
		relay:   relay,
		ledger:  led,
		oracle:  orc,
		gov:     gov,
		bank:    bank,
		bus:     bus,
		store:   store,
		metrics: metrics,
		log:     logger,
	}, nil
}

// Start brings up the HTTP API
func (s *Server) Start() error {
	s.log.Info("starting amm server",
		"port", *port,
		"db", *dbType,
		"fee_bps", s.gov.FeeRateBps(),
		"flash_fee_bps", s.gov.FlashFeeRateBps())

	router := s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Shutdown stops the API and closes storage
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("http server shutdown error", "error", err)
	}
	return s.store.Close()
}
