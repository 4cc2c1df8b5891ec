// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/blinklabs-io/mamba/internal/chain"
	"github.com/blinklabs-io/mamba/internal/config"
	"github.com/blinklabs-io/mamba/internal/indexer"
	"github.com/blinklabs-io/mamba/internal/logging"
	"github.com/blinklabs-io/mamba/internal/notify"
	"github.com/blinklabs-io/mamba/internal/scripts"
	"github.com/blinklabs-io/mamba/internal/solver"
	"github.com/blinklabs-io/mamba/internal/storage"
	"github.com/blinklabs-io/mamba/internal/txbuilder"
	"github.com/blinklabs-io/mamba/internal/version"
	"github.com/blinklabs-io/mamba/internal/wallet"

	_ "go.uber.org/automaxprocs"
)

const (
	programName = "mamba"
)

var cmdlineFlags struct {
	configFile string
	version    bool
}

func main() {
	flag.StringVar(&cmdlineFlags.configFile, "config", "", "path to config file to load")
	flag.BoolVar(&cmdlineFlags.version, "version", false, "show version")
	flag.Parse()

	if cmdlineFlags.version {
		fmt.Printf("%s %s\n", programName, version.GetVersionString())
		os.Exit(0)
	}

	// Load config
	cfg, err := config.Load(cmdlineFlags.configFile)
	if err != nil {
		fmt.Printf("Failed to load config: %s\n", err)
		os.Exit(1)
	}

	// Configure logging
	logging.Configure()
	logger := logging.GetLogger()

	// Start debug listener
	if cfg.Debug.ListenPort > 0 {
		logger.Info(fmt.Sprintf(
			"starting debug listener on %s:%d",
			cfg.Debug.ListenAddress,
			cfg.Debug.ListenPort,
		))
		go func() {
			err := http.ListenAndServe(
				fmt.Sprintf(
					"%s:%d",
					cfg.Debug.ListenAddress,
					cfg.Debug.ListenPort,
				),
				nil,
			)
			if err != nil {
				logger.Error(
					"failed to start debug listener",
					"error", err,
				)
				os.Exit(1)
			}
		}()
	}

	// Load storage
	if err := storage.GetStorage().Load(); err != nil {
		logger.Error("failed to load storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := storage.GetStorage().Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	// Setup wallet
	if err := wallet.Setup(); err != nil {
		logger.Error("failed to setup wallet", "error", err)
		os.Exit(1)
	}

	// Load validator blueprint and build the script resolver
	bp, err := scripts.LoadBlueprint(cfg.Protocol.BlueprintFile)
	if err != nil {
		logger.Error("failed to load blueprint", "error", err)
		os.Exit(1)
	}
	adminKeyHash, err := hex.DecodeString(cfg.Protocol.AdminKeyHash)
	if err != nil {
		logger.Error("invalid admin key hash", "error", err)
		os.Exit(1)
	}
	resolver, err := scripts.NewResolver(bp, adminKeyHash)
	if err != nil {
		logger.Error("failed to resolve validators", "error", err)
		os.Exit(1)
	}

	// Chain provider and transaction builder
	provider := chain.NewStorageProvider(storage.GetStorage(), cfg.Submit.Url)
	builder := txbuilder.NewBuilder(resolver, provider, cfg.Network).
		WithWallet(wallet.GetWallet())

	// In-memory mirrors fed by the indexer, read by the solver
	intents := solver.NewMemoryIntents()
	orders := solver.NewMemoryOrders()
	pools := solver.NewMemoryPools(builder.LoadPool)

	// Determine script addresses to watch
	escrowAddress, err := builder.ScriptAddress(scripts.RoleEscrow)
	if err != nil {
		logger.Error("failed to derive escrow address", "error", err)
		os.Exit(1)
	}
	poolAddress, err := builder.ScriptAddress(scripts.RolePool)
	if err != nil {
		logger.Error("failed to derive pool address", "error", err)
		os.Exit(1)
	}
	orderAddress, err := builder.ScriptAddress(scripts.RoleOrder)
	if err != nil {
		logger.Error("failed to derive order address", "error", err)
		os.Exit(1)
	}

	// Start indexer
	idx := indexer.New(
		indexer.WatchedAddresses{
			Wallet: wallet.GetWallet().PaymentAddress,
			Escrow: escrowAddress,
			Pool:   poolAddress,
			Order:  orderAddress,
		},
		intents,
		orders,
		pools,
	)
	if err := idx.Start(); err != nil {
		logger.Error("failed to start indexer", "error", err)
		os.Exit(1)
	}

	// Start notification hub
	hub := notify.NewHub()
	if err := hub.Start(cfg.Notify.ListenAddress, cfg.Notify.ListenPort); err != nil {
		logger.Error("failed to start notification hub", "error", err)
		os.Exit(1)
	}

	// Start solver engine
	engine := solver.New(
		solver.ConfigFromGlobal(),
		intents,
		orders,
		pools,
		solver.NewTxSettler(builder),
		provider,
		hub,
	)
	if err := engine.Start(); err != nil {
		logger.Error("failed to start solver", "error", err)
		os.Exit(1)
	}

	// Wait for shutdown signal
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	sig := <-signalChan
	logger.Info(fmt.Sprintf("received signal %s, shutting down", sig))
	engine.Stop()
	hub.Stop()
}
