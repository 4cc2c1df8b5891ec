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

package wallet

import (
	"fmt"

	"github.com/blinklabs-io/bursa"
	"github.com/blinklabs-io/mamba/internal/config"
	"github.com/blinklabs-io/mamba/internal/logging"
)

var globalWallet *bursa.Wallet

func Setup() error {
	cfg := config.GetConfig()
	logger := logging.GetLogger()
	mnemonic := cfg.Wallet.Mnemonic
	if mnemonic == "" {
		var err error
		mnemonic, err = bursa.NewMnemonic()
		if err != nil {
			return fmt.Errorf("failed to generate mnemonic: %w", err)
		}
		logger.Warn(
			"no mnemonic provided, generated new wallet",
		)
		logger.Warn(
			"record the generated mnemonic and fund the payment address to use this wallet across restarts",
		)
		logger.Warn(fmt.Sprintf("MNEMONIC=%s", mnemonic))
	}
	wallet, err := bursa.NewWallet(
		mnemonic,
		cfg.Network,
		0, // accountId
		0, // paymentId
		0, // stakeId
		0, // addressId
	)
	if err != nil {
		return fmt.Errorf("failed to initialize wallet: %w", err)
	}
	globalWallet = wallet
	logger.Info(
		fmt.Sprintf("loaded wallet with address %s", wallet.PaymentAddress),
	)
	return nil
}

func GetWallet() *bursa.Wallet {
	return globalWallet
}
