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

package config

import (
	"fmt"
	"os"

	ouroboros "github.com/blinklabs-io/gouroboros"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Logging      LoggingConfig  `yaml:"logging"`
	Debug        DebugConfig    `yaml:"debug"`
	Storage      StorageConfig  `yaml:"storage"`
	Indexer      IndexerConfig  `yaml:"indexer"`
	Submit       SubmitConfig   `yaml:"submit"`
	Wallet       WalletConfig   `yaml:"wallet"`
	Solver       SolverConfig   `yaml:"solver"`
	Protocol     ProtocolConfig `yaml:"protocol"`
	Notify       NotifyConfig   `yaml:"notify"`
	Network      string         `yaml:"network" envconfig:"NETWORK"`
	NetworkMagic uint32
}

type LoggingConfig struct {
	Level string `yaml:"level" envconfig:"LOGGING_LEVEL"`
}

type DebugConfig struct {
	ListenAddress string `yaml:"address" envconfig:"DEBUG_ADDRESS"`
	ListenPort    uint   `yaml:"port" envconfig:"DEBUG_PORT"`
}

type StorageConfig struct {
	Directory string `yaml:"dir" envconfig:"STORAGE_DIR"`
}

type IndexerConfig struct {
	Address       string `yaml:"address" envconfig:"INDEXER_ADDRESS"`
	InterceptSlot uint64 `yaml:"interceptSlot" envconfig:"INDEXER_INTERCEPT_SLOT"`
	InterceptHash string `yaml:"interceptHash" envconfig:"INDEXER_INTERCEPT_HASH"`
}

type SubmitConfig struct {
	Url string `yaml:"url" envconfig:"SUBMIT_URL"`
}

type WalletConfig struct {
	Mnemonic string `yaml:"mnemonic" envconfig:"WALLET_MNEMONIC"`
}

// SolverConfig tunes the settlement loop
type SolverConfig struct {
	IntervalSeconds       uint   `yaml:"interval" envconfig:"SOLVER_INTERVAL"`
	MaxRetries            uint   `yaml:"maxRetries" envconfig:"SOLVER_MAX_RETRIES"`
	MinSurplus            uint64 `yaml:"minSurplus" envconfig:"SOLVER_MIN_SURPLUS"`
	ConfirmTimeoutSeconds uint   `yaml:"confirmTimeout" envconfig:"SOLVER_CONFIRM_TIMEOUT"`
	BackoffMinMs          uint   `yaml:"backoffMinMs" envconfig:"SOLVER_BACKOFF_MIN_MS"`
	BackoffMaxMs          uint   `yaml:"backoffMaxMs" envconfig:"SOLVER_BACKOFF_MAX_MS"`
	MaxBatchSize          uint   `yaml:"maxBatchSize" envconfig:"SOLVER_MAX_BATCH_SIZE"`
}

// ProtocolConfig carries the on-chain protocol parameters
type ProtocolConfig struct {
	BlueprintFile string `yaml:"blueprintFile" envconfig:"PROTOCOL_BLUEPRINT_FILE"`
	AdminKeyHash  string `yaml:"adminKeyHash" envconfig:"PROTOCOL_ADMIN_KEY_HASH"`
}

type NotifyConfig struct {
	ListenAddress string `yaml:"address" envconfig:"NOTIFY_ADDRESS"`
	ListenPort    uint   `yaml:"port" envconfig:"NOTIFY_PORT"`
}

// Singleton config instance with default values
var globalConfig = &Config{
	Network: "mainnet",
	Logging: LoggingConfig{
		Level: "info",
	},
	Debug: DebugConfig{
		ListenAddress: "localhost",
		ListenPort:    0,
	},
	Storage: StorageConfig{
		Directory: "./.mamba",
	},
	Solver: SolverConfig{
		IntervalSeconds:       10,
		MaxRetries:            3,
		MinSurplus:            0,
		ConfirmTimeoutSeconds: 120,
		BackoffMinMs:          500,
		BackoffMaxMs:          5_000,
		MaxBatchSize:          8,
	},
	Notify: NotifyConfig{
		ListenAddress: "localhost",
		ListenPort:    0,
	},
}

func Load(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %s", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %s", err)
		}
	}
	// Load config values from environment variables
	// We use "dummy" as the app name here to (mostly) prevent picking up env
	// vars that we hadn't explicitly specified in annotations above
	err := envconfig.Process("dummy", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %s", err)
	}
	// Populate network magic from network name
	network := ouroboros.NetworkByName(globalConfig.Network)
	if network == ouroboros.NetworkInvalid {
		return nil, fmt.Errorf("unknown network name: %s", globalConfig.Network)
	}
	globalConfig.NetworkMagic = network.NetworkMagic
	return globalConfig, nil
}

// Return global config instance
func GetConfig() *Config {
	return globalConfig
}
