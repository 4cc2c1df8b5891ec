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
	"fmt"

	"github.com/blinklabs-io/mamba/internal/common"
	"github.com/blinklabs-io/mamba/internal/datum"
)

// Escrow is the off-chain view of an on-chain escrowed intent: the UTxO
// holding the locked funds plus its decoded datum
type Escrow struct {
	Ref   common.TxOutRef
	Datum datum.EscrowDatum
}

// Pool is the off-chain view of a liquidity pool UTxO. Reserves are derived
// from the UTxO's held value minus accrued protocol fees, never stored in
// the datum itself.
type Pool struct {
	Ref      common.TxOutRef
	Datum    datum.PoolDatum
	ReserveA uint64
	ReserveB uint64
}

// Direction returns the swap direction for the given input asset, or an
// error if the asset belongs to neither side of the pool
func (p *Pool) Direction(input common.AssetClass) (datum.SwapDirection, error) {
	if input.Equals(p.Datum.AssetA) {
		return datum.SwapDirectionAToB, nil
	}
	if input.Equals(p.Datum.AssetB) {
		return datum.SwapDirectionBToA, nil
	}
	return 0, fmt.Errorf(
		"%w: %s not in pool %s/%s",
		ErrAssetMismatch,
		input.String(),
		p.Datum.AssetA.String(),
		p.Datum.AssetB.String(),
	)
}

// Reserves returns (reserveIn, reserveOut) for the given direction
func (p *Pool) Reserves(dir datum.SwapDirection) (uint64, uint64) {
	if dir == datum.SwapDirectionAToB {
		return p.ReserveA, p.ReserveB
	}
	return p.ReserveB, p.ReserveA
}

// Order is the off-chain view of an on-chain advanced order UTxO
type Order struct {
	Ref   common.TxOutRef
	Datum datum.OrderDatum
}

// LoadPool fetches a pool UTxO by reference, decodes its datum, and derives
// the current reserves from the held value
func (b *Builder) LoadPool(ref common.TxOutRef) (*Pool, error) {
	utxo, datumBytes, err := b.fetchUtxo(ref)
	if err != nil {
		return nil, err
	}
	var poolDatum datum.PoolDatum
	if err := poolDatum.UnmarshalCBOR(datumBytes); err != nil {
		return nil, fmt.Errorf("failed to decode pool datum: %w", err)
	}
	heldA := utxoAssetAmount(utxo, poolDatum.AssetA)
	heldB := utxoAssetAmount(utxo, poolDatum.AssetB)
	if heldA < poolDatum.ProtocolFeeA || heldB < poolDatum.ProtocolFeeB {
		return nil, fmt.Errorf(
			"pool %s held value is less than accrued protocol fees",
			ref.String(),
		)
	}
	return &Pool{
		Ref:      ref,
		Datum:    poolDatum,
		ReserveA: heldA - poolDatum.ProtocolFeeA,
		ReserveB: heldB - poolDatum.ProtocolFeeB,
	}, nil
}

// LoadEscrow fetches an escrow UTxO by reference and decodes its datum
func (b *Builder) LoadEscrow(ref common.TxOutRef) (*Escrow, error) {
	_, datumBytes, err := b.fetchUtxo(ref)
	if err != nil {
		return nil, err
	}
	var escrowDatum datum.EscrowDatum
	if err := escrowDatum.UnmarshalCBOR(datumBytes); err != nil {
		return nil, fmt.Errorf("failed to decode escrow datum: %w", err)
	}
	return &Escrow{
		Ref:   ref,
		Datum: escrowDatum,
	}, nil
}

// LoadOrder fetches an order UTxO by reference and decodes its datum
func (b *Builder) LoadOrder(ref common.TxOutRef) (*Order, error) {
	_, datumBytes, err := b.fetchUtxo(ref)
	if err != nil {
		return nil, err
	}
	var orderDatum datum.OrderDatum
	if err := orderDatum.UnmarshalCBOR(datumBytes); err != nil {
		return nil, fmt.Errorf("failed to decode order datum: %w", err)
	}
	return &Order{
		Ref:   ref,
		Datum: orderDatum,
	}, nil
}
