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
	"math/big"

	"github.com/Salvionied/apollo"
	serAddress "github.com/Salvionied/apollo/serialization/Address"
	"github.com/Salvionied/apollo/serialization/PlutusData"
	"github.com/Salvionied/apollo/serialization/UTxO"

	"github.com/blinklabs-io/mamba/internal/amm"
	"github.com/blinklabs-io/mamba/internal/common"
	"github.com/blinklabs-io/mamba/internal/datum"
	"github.com/blinklabs-io/mamba/internal/logging"
	"github.com/blinklabs-io/mamba/internal/scripts"
)

// EscrowFill describes how one escrow was settled within a batch
type EscrowFill struct {
	Ref      common.TxOutRef
	Consumed uint64
	Output   uint64
	Complete bool
}

// SettleResult is the outcome of building a settlement transaction,
// including everything the caller needs to mirror the new chain state
type SettleResult struct {
	Tx           *BuiltTx
	Fills        []EscrowFill
	Direction    datum.SwapDirection
	NewReserveA  uint64
	NewReserveB  uint64
	ProtocolFees uint64 // Accrued on the input side by this settlement
}

// BuildSettleBatch builds the signed settlement transaction for a batch of
// escrows against a single pool UTxO. Every escrow must resolve to the same
// swap direction; mixed batches are rejected rather than silently mispriced.
// Escrows are applied sequentially against the evolving reserves, partial
// fills engage when liquidity is insufficient and the intent permits them,
// and each owner's minimum output is enforced pro-rated to the amount
// actually consumed.
func (b *Builder) BuildSettleBatch(
	pool *Pool,
	escrows []*Escrow,
) (*SettleResult, error) {
	const op = "settle-batch"
	logger := logging.GetLogger()
	if len(escrows) == 0 {
		return nil, buildErr(op, ErrEmptyBatch)
	}
	if b.wallet == nil {
		return nil, buildErr(op, ErrNoWallet)
	}

	// The pool redeemer carries a single direction, taken from the first
	// escrow. Homogeneity is a hard precondition, not an inference.
	direction, err := pool.Direction(escrows[0].Datum.InputAsset)
	if err != nil {
		return nil, buildErr(op, err)
	}
	for _, escrow := range escrows[1:] {
		dir, err := pool.Direction(escrow.Datum.InputAsset)
		if err != nil {
			return nil, buildErr(op, err)
		}
		if dir != direction {
			return nil, buildErr(op, ErrMixedDirections)
		}
	}

	inputAsset := pool.Datum.AssetA
	outputAsset := pool.Datum.AssetB
	if direction == datum.SwapDirectionBToA {
		inputAsset, outputAsset = outputAsset, inputAsset
	}

	// Apply each escrow against the evolving reserves
	reserveIn, reserveOut := pool.Reserves(direction)
	plan, err := planBatchFills(reserveIn, reserveOut, pool.Datum.FeeBps, escrows)
	if err != nil {
		return nil, buildErr(op, err)
	}
	fills := plan.fills
	totalProtocolFee := plan.protocolFee

	// Recompute the invariant for the new pool record
	newReserveA, newReserveB := plan.newReserveIn, plan.newReserveOut
	if direction == datum.SwapDirectionBToA {
		newReserveA, newReserveB = plan.newReserveOut, plan.newReserveIn
	}
	newRootK := amm.RootK(newReserveA, newReserveB)
	if newRootK < pool.Datum.RootK {
		return nil, buildErr(op, ErrInvariantDecrease)
	}
	newPoolDatum := pool.Datum
	newPoolDatum.RootK = newRootK
	if direction == datum.SwapDirectionAToB {
		newPoolDatum.ProtocolFeeA += totalProtocolFee
	} else {
		newPoolDatum.ProtocolFeeB += totalProtocolFee
	}

	// Assemble the transaction
	poolScript := b.resolver.MustGet(scripts.RolePool)
	escrowScript := b.resolver.MustGet(scripts.RoleEscrow)
	tokenPolicy := b.resolver.MustGet(scripts.RoleIntentTokenPolicy)

	walletAddr, err := serAddress.DecodeAddress(b.wallet.PaymentAddress)
	if err != nil {
		return nil, buildErr(op, fmt.Errorf("invalid wallet address: %w", err))
	}
	walletUtxos, err := b.utxosAt(b.wallet.PaymentAddress)
	if err != nil {
		return nil, buildErr(op, err)
	}
	if len(walletUtxos) == 0 {
		return nil, buildErr(op, fmt.Errorf("%w: no wallet UTxOs for fees", ErrMissingUtxo))
	}

	cc := apollo.NewEmptyBackend()
	apollob := apollo.New(&cc)
	apollob = apollob.
		AddInputAddress(walletAddr).
		AddLoadedUTxOs(walletUtxos...).
		SetTtl(int64(b.currentSlot() + txTtlSlots)).
		AttachV2Script(PlutusData.PlutusV2Script(poolScript.Bytes)).
		AttachV2Script(PlutusData.PlutusV2Script(escrowScript.Bytes))

	// Consume the pool UTxO
	poolUtxo, _, err := b.fetchUtxo(pool.Ref)
	if err != nil {
		return nil, buildErr(op, err)
	}
	poolRedeemer, err := spendRedeemer(&datum.PoolRedeemer{
		Action:    datum.PoolActionSwap,
		Direction: direction,
	})
	if err != nil {
		return nil, buildErr(op, err)
	}
	apollob = apollob.CollectFrom(poolUtxo, poolRedeemer)

	// Consume each escrow and pay its owner
	mint := []MintedAsset{}
	burnsToken := false
	for i, escrow := range escrows {
		fill := fills[i]
		escrowUtxo, _, err := b.fetchUtxo(escrow.Ref)
		if err != nil {
			return nil, buildErr(op, err)
		}
		escrowRedeemer, err := spendRedeemer(&datum.EscrowRedeemer{
			Action:         datum.EscrowActionFill,
			ConsumedAmount: fill.Consumed,
		})
		if err != nil {
			return nil, buildErr(op, err)
		}
		apollob = apollob.CollectFrom(escrowUtxo, escrowRedeemer)

		// Deliver the owner's output
		ownerAddr := b.ownerAddress(escrow.Datum.Owner)
		ownerLovelace, ownerUnits := paymentValue(outputAsset, fill.Output)
		apollob = apollob.PayToAddress(ownerAddr, int(ownerLovelace), ownerUnits...)

		if fill.Complete {
			// Complete fill burns the identity token
			apollob = apollob.MintAssetsWithRedeemer(
				apollo.NewUnit(
					tokenPolicy.PolicyId(),
					string(escrow.Datum.TokenName),
					-1,
				),
				mintRedeemer(true),
			)
			burnsToken = true
			mint = append(mint, MintedAsset{
				PolicyId: tokenPolicy.PolicyId(),
				NameHex:  fmt.Sprintf("%x", escrow.Datum.TokenName),
				Amount:   -1,
			})
		} else {
			// Partial fill re-outputs the escrow with updated progress
			newEscrowDatum := applyFill(escrow.Datum, fill)
			escrowPd, err := plutusDataFor(&newEscrowDatum)
			if err != nil {
				return nil, buildErr(op, err)
			}
			escrowLovelace, escrowUnits := escrowValueAfterFill(
				escrowUtxo,
				inputAsset,
				fill.Consumed,
			)
			apollob = apollob.PayToContract(
				b.scriptAddress(escrowScript),
				escrowPd,
				int(escrowLovelace),
				true,
				escrowUnits...,
			)
		}
	}
	if burnsToken {
		apollob = apollob.AttachV2Script(
			PlutusData.PlutusV2Script(tokenPolicy.Bytes),
		)
	}

	// Re-output the pool with updated reserves, fees, and invariant
	poolPd, err := plutusDataFor(&newPoolDatum)
	if err != nil {
		return nil, buildErr(op, err)
	}
	poolLovelace, poolUnits := poolOutputValue(poolUtxo, &newPoolDatum, newReserveA, newReserveB)
	apollob = apollob.PayToContract(
		b.scriptAddress(poolScript),
		poolPd,
		int(poolLovelace),
		true,
		poolUnits...,
	)

	tx, err := b.finish(apollob, true, mint)
	if err != nil {
		return nil, buildErr(op, err)
	}
	logger.Debug(
		"built settlement transaction",
		"txHash", tx.TxHash,
		"escrows", len(escrows),
		"direction", uint(direction),
		"newReserveA", newReserveA,
		"newReserveB", newReserveB,
	)
	return &SettleResult{
		Tx:           tx,
		Fills:        fills,
		Direction:    direction,
		NewReserveA:  newReserveA,
		NewReserveB:  newReserveB,
		ProtocolFees: totalProtocolFee,
	}, nil
}

// fillPlan is the pure outcome of walking a batch against pool reserves
type fillPlan struct {
	fills         []EscrowFill
	newReserveIn  uint64
	newReserveOut uint64
	protocolFee   uint64
}

// planBatchFills applies each escrow in order against the evolving reserves,
// engaging partial-fill capping where the intent permits it and enforcing
// each intent's pro-rated minimum output. Pure; no I/O.
func planBatchFills(
	reserveIn uint64,
	reserveOut uint64,
	feeBps uint64,
	escrows []*Escrow,
) (*fillPlan, error) {
	plan := &fillPlan{
		fills:         make([]EscrowFill, 0, len(escrows)),
		newReserveIn:  reserveIn,
		newReserveOut: reserveOut,
	}
	for _, escrow := range escrows {
		res, err := amm.Swap(
			plan.newReserveIn,
			plan.newReserveOut,
			escrow.Datum.RemainingInput,
			feeBps,
			escrow.Datum.AllowsPartialFill(),
		)
		if err != nil {
			return nil, fmt.Errorf("escrow %s: %w", escrow.Ref.String(), err)
		}
		if err := checkProRatedMinOutput(escrow.Datum, res.InputConsumed, res.Output); err != nil {
			return nil, fmt.Errorf("escrow %s: %w", escrow.Ref.String(), err)
		}
		plan.newReserveIn += res.InputConsumed - res.ProtocolFee
		plan.newReserveOut -= res.Output
		plan.protocolFee += res.ProtocolFee
		plan.fills = append(plan.fills, EscrowFill{
			Ref:      escrow.Ref,
			Consumed: res.InputConsumed,
			Output:   res.Output,
			Complete: res.InputConsumed == escrow.Datum.RemainingInput,
		})
	}
	return plan, nil
}

// applyFill returns the escrow datum for a partial-fill re-output
func applyFill(escrowDatum datum.EscrowDatum, fill EscrowFill) datum.EscrowDatum {
	ret := escrowDatum
	ret.RemainingInput -= fill.Consumed
	ret.FillCount++
	return ret
}

// checkProRatedMinOutput enforces the intent's slippage bound scaled to the
// proportion of input actually consumed: output * input_amount must be at
// least min_output * consumed. Computed in big integers to avoid overflow.
func checkProRatedMinOutput(
	escrow datum.EscrowDatum,
	consumed uint64,
	output uint64,
) error {
	if escrow.InputAmount == 0 {
		return fmt.Errorf("%w: zero input amount", ErrSlippage)
	}
	lhs := new(big.Int).Mul(
		new(big.Int).SetUint64(output),
		new(big.Int).SetUint64(escrow.InputAmount),
	)
	rhs := new(big.Int).Mul(
		new(big.Int).SetUint64(escrow.MinOutput),
		new(big.Int).SetUint64(consumed),
	)
	if lhs.Cmp(rhs) < 0 {
		return fmt.Errorf(
			"%w: output %d for consumed %d below pro-rated minimum",
			ErrSlippage,
			output,
			consumed,
		)
	}
	return nil
}

// escrowValueAfterFill computes the value of a partially filled escrow
// re-output: the original held value minus the consumed input
func escrowValueAfterFill(
	escrowUtxo UTxO.UTxO,
	inputAsset common.AssetClass,
	consumed uint64,
) (uint64, []apollo.Unit) {
	lovelace := uint64(escrowUtxo.Output.GetAmount().GetCoin())
	var units []apollo.Unit
	if inputAsset.IsLovelace() {
		if lovelace > consumed {
			lovelace -= consumed
		} else {
			lovelace = minUtxoLovelace
		}
	}
	assets := escrowUtxo.Output.GetAmount().GetAssets()
	if assets != nil {
		for policyId, names := range assets {
			for assetName, amount := range names {
				newAmount := uint64(amount)
				if policyId.Value == inputAsset.PolicyIdHex() &&
					assetName.String() == string(inputAsset.Name) {
					if newAmount < consumed {
						continue
					}
					newAmount -= consumed
					if newAmount == 0 {
						continue
					}
				}
				units = append(units, apollo.NewUnit(
					policyId.Value,
					assetName.String(),
					int(newAmount),
				))
			}
		}
	}
	if lovelace < minUtxoLovelace {
		lovelace = minUtxoLovelace
	}
	return lovelace, units
}

// poolOutputValue computes the full value the pool output must hold:
// reserves plus accrued protocol fees plus the pool NFT
func poolOutputValue(
	poolUtxo UTxO.UTxO,
	poolDatum *datum.PoolDatum,
	reserveA uint64,
	reserveB uint64,
) (uint64, []apollo.Unit) {
	heldA := reserveA + poolDatum.ProtocolFeeA
	heldB := reserveB + poolDatum.ProtocolFeeB
	lovelace := uint64(minUtxoLovelace)
	var units []apollo.Unit
	if poolDatum.AssetA.IsLovelace() {
		lovelace = heldA
	} else {
		units = append(units, apollo.NewUnit(
			poolDatum.AssetA.PolicyIdHex(),
			string(poolDatum.AssetA.Name),
			int(heldA),
		))
	}
	if poolDatum.AssetB.IsLovelace() {
		lovelace = heldB
	} else {
		units = append(units, apollo.NewUnit(
			poolDatum.AssetB.PolicyIdHex(),
			string(poolDatum.AssetB.Name),
			int(heldB),
		))
	}
	units = append(units, apollo.NewUnit(
		poolDatum.PoolNft.PolicyIdHex(),
		string(poolDatum.PoolNft.Name),
		1,
	))
	// Preserve any extra lovelace the pool UTxO carries beyond the reserve
	// (min-ada padding on non-lovelace pools)
	if !poolDatum.AssetA.IsLovelace() && !poolDatum.AssetB.IsLovelace() {
		if coin := uint64(poolUtxo.Output.GetAmount().GetCoin()); coin > lovelace {
			lovelace = coin
		}
	}
	return lovelace, units
}
