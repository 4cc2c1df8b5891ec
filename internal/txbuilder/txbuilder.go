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

package txbuilder

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/bursa"
	"github.com/blinklabs-io/mamba/internal/chain"
	"github.com/blinklabs-io/mamba/internal/scripts"
)

const (
	// txTtlSlots is the TTL for built transactions in slots
	txTtlSlots = 180

	// txFee is the estimated transaction fee in lovelace
	txFee = 500_000

	// minUtxoLovelace is the minimum lovelace required for a UTxO
	minUtxoLovelace = 2_000_000

	// script execution budget per redeemer
	exUnitsMem   = 400_000
	exUnitsSteps = 200_000_000
)

var (
	ErrMissingUtxo       = errors.New("required UTxO not found")
	ErrSlippage          = errors.New("minimum output not satisfied")
	ErrOrderNotRipe      = errors.New("order interval has not elapsed")
	ErrNotExpired        = errors.New("deadline has not passed")
	ErrPriceNotMet       = errors.New("order price not met")
	ErrMixedDirections   = errors.New("batch escrows resolve to different swap directions")
	ErrNoWallet          = errors.New("no wallet available for signing")
	ErrEmptyBatch        = errors.New("batch contains no escrows")
	ErrAssetMismatch     = errors.New("asset does not belong to pool")
	ErrInvariantDecrease = errors.New("pool invariant would decrease")
)

// BuildError is the single failure type surfaced by all build operations.
// It wraps the underlying cause and names the operation that failed. No
// partially constructed transaction is ever returned alongside one.
type BuildError struct {
	Op  string
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: build failed: %s", e.Op, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func buildErr(op string, err error) error {
	return &BuildError{Op: op, Err: err}
}

// MintedAsset describes a token minted (positive) or burned (negative) by a
// built transaction, for callers that mirror chain state off-chain
type MintedAsset struct {
	PolicyId string
	NameHex  string
	Amount   int64
}

// BuiltTx is the result of a build operation. TxBytes is signed when the
// builder holds a wallet and the operation is solver-initiated, otherwise it
// is the unsigned transaction for external signing.
type BuiltTx struct {
	TxBytes []byte
	TxHash  string
	Signed  bool
	Mint    []MintedAsset
}

// Builder composes one transaction per exchange operation. A Builder without
// a wallet produces unsigned transactions only; use WithWallet to enable
// signing for solver-initiated settlement flows.
type Builder struct {
	resolver *scripts.Resolver
	provider chain.Provider
	network  string
	wallet   *bursa.Wallet
}

func NewBuilder(
	resolver *scripts.Resolver,
	provider chain.Provider,
	network string,
) *Builder {
	return &Builder{
		resolver: resolver,
		provider: provider,
		network:  network,
	}
}

// WithWallet returns a copy of the builder that signs solver-initiated
// transactions with the given wallet
func (b *Builder) WithWallet(w *bursa.Wallet) *Builder {
	ret := *b
	ret.wallet = w
	return &ret
}

func (b *Builder) networkId() byte {
	if b.network == "mainnet" {
		return 1
	}
	return 0
}

// ScriptAddress returns the bech32 address of a resolved validator, for
// callers that watch script addresses on-chain
func (b *Builder) ScriptAddress(role scripts.Role) (string, error) {
	s, err := b.resolver.Get(role)
	if err != nil {
		return "", err
	}
	return b.scriptAddress(s).String(), nil
}
