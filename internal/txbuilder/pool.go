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

	"github.com/Salvionied/apollo"
	serAddress "github.com/Salvionied/apollo/serialization/Address"
	"github.com/Salvionied/apollo/serialization/PlutusData"
	"github.com/Salvionied/apollo/serialization/UTxO"

	"github.com/blinklabs-io/mamba/internal/amm"
	"github.com/blinklabs-io/mamba/internal/common"
	"github.com/blinklabs-io/mamba/internal/datum"
	"github.com/blinklabs-io/mamba/internal/scripts"
)

// CreatePoolParams describes a new liquidity pool
type CreatePoolParams struct {
	CreatorAddress string
	AssetA         common.AssetClass
	AssetB         common.AssetClass
	AmountA        uint64
	AmountB        uint64
	FeeBps         uint64
}

// BuildCreatePool builds an unsigned transaction creating a pool from the
// creator's initial deposit. The pool NFT and LP token names are derived
// from the consumed seed UTxO. The fixed minimum-liquidity share of LP
// tokens stays locked in the pool UTxO forever.
func (b *Builder) BuildCreatePool(params CreatePoolParams) (*BuiltTx, error) {
	const op = "create-pool"
	creatorAddr, err := serAddress.DecodeAddress(params.CreatorAddress)
	if err != nil {
		return nil, buildErr(op, fmt.Errorf("invalid creator address: %w", err))
	}
	creatorUtxos, err := b.utxosAt(params.CreatorAddress)
	if err != nil {
		return nil, buildErr(op, err)
	}
	if len(creatorUtxos) == 0 {
		return nil, buildErr(op, fmt.Errorf("%w: no creator UTxOs", ErrMissingUtxo))
	}
	seed := creatorUtxos[0]
	tokenName := identityTokenName(refFromInput(seed))

	lpAmount, err := amm.InitialLpAmount(params.AmountA, params.AmountB)
	if err != nil {
		return nil, buildErr(op, err)
	}
	totalLp := lpAmount + amm.MinLiquidity

	poolScript := b.resolver.MustGet(scripts.RolePool)
	nftPolicy := b.resolver.MustGet(scripts.RolePoolNftPolicy)
	lpPolicy := b.resolver.MustGet(scripts.RoleLpPolicy)

	poolDatum := datum.PoolDatum{
		PoolNft: common.AssetClass{
			PolicyId: nftPolicy.Hash,
			Name:     tokenName,
		},
		AssetA: params.AssetA,
		AssetB: params.AssetB,
		LpAsset: common.AssetClass{
			PolicyId: lpPolicy.Hash,
			Name:     tokenName,
		},
		FeeBps:        params.FeeBps,
		TotalLpSupply: totalLp,
		RootK:         amm.RootK(params.AmountA, params.AmountB),
	}
	poolPd, err := plutusDataFor(&poolDatum)
	if err != nil {
		return nil, buildErr(op, err)
	}

	// Pool output: both deposits, the NFT, and the locked LP share
	poolLovelace := uint64(minUtxoLovelace)
	var poolUnits []apollo.Unit
	if params.AssetA.IsLovelace() {
		poolLovelace = params.AmountA
	} else {
		poolUnits = append(poolUnits, apollo.NewUnit(
			params.AssetA.PolicyIdHex(),
			string(params.AssetA.Name),
			int(params.AmountA),
		))
	}
	if params.AssetB.IsLovelace() {
		poolLovelace = params.AmountB
	} else {
		poolUnits = append(poolUnits, apollo.NewUnit(
			params.AssetB.PolicyIdHex(),
			string(params.AssetB.Name),
			int(params.AmountB),
		))
	}
	poolUnits = append(
		poolUnits,
		apollo.NewUnit(nftPolicy.PolicyId(), string(tokenName), 1),
		apollo.NewUnit(lpPolicy.PolicyId(), string(tokenName), int(amm.MinLiquidity)),
	)

	cc := apollo.NewEmptyBackend()
	apollob := apollo.New(&cc)
	apollob = apollob.
		AddInputAddress(creatorAddr).
		AddInput(seed).
		AddLoadedUTxOs(creatorUtxos...).
		SetTtl(int64(b.currentSlot() + txTtlSlots)).
		MintAssetsWithRedeemer(
			apollo.NewUnit(nftPolicy.PolicyId(), string(tokenName), 1),
			mintRedeemer(false),
		).
		AttachV2Script(PlutusData.PlutusV2Script(nftPolicy.Bytes)).
		MintAssetsWithRedeemer(
			apollo.NewUnit(lpPolicy.PolicyId(), string(tokenName), int(totalLp)),
			mintRedeemer(false),
		).
		AttachV2Script(PlutusData.PlutusV2Script(lpPolicy.Bytes)).
		PayToContract(
			b.scriptAddress(poolScript),
			poolPd,
			int(poolLovelace),
			true,
			poolUnits...,
		).
		PayToAddress(
			creatorAddr,
			minUtxoLovelace,
			apollo.NewUnit(lpPolicy.PolicyId(), string(tokenName), int(lpAmount)),
		)

	mint := []MintedAsset{
		{PolicyId: nftPolicy.PolicyId(), NameHex: fmt.Sprintf("%x", tokenName), Amount: 1},
		{PolicyId: lpPolicy.PolicyId(), NameHex: fmt.Sprintf("%x", tokenName), Amount: int64(totalLp)},
	}
	ret, err := b.finish(apollob, false, mint)
	if err != nil {
		return nil, buildErr(op, err)
	}
	return ret, nil
}

// DepositParams describes adding liquidity to an existing pool
type DepositParams struct {
	DepositorAddress string
	PoolRef          common.TxOutRef
	AmountA          uint64
	AmountB          uint64
}

// BuildDeposit builds an unsigned transaction adding liquidity and minting
// LP tokens to the depositor. Pool reserves are re-derived from the pool
// UTxO's actual held value, never from an off-chain mirror.
func (b *Builder) BuildDeposit(params DepositParams) (*BuiltTx, error) {
	const op = "deposit"
	pool, err := b.LoadPool(params.PoolRef)
	if err != nil {
		return nil, buildErr(op, err)
	}
	lpAmount, err := amm.LpAmount(
		pool.ReserveA,
		pool.ReserveB,
		pool.Datum.TotalLpSupply,
		params.AmountA,
		params.AmountB,
	)
	if err != nil {
		return nil, buildErr(op, err)
	}
	newReserveA := pool.ReserveA + params.AmountA
	newReserveB := pool.ReserveB + params.AmountB
	newPoolDatum := pool.Datum
	newPoolDatum.TotalLpSupply += lpAmount
	newPoolDatum.RootK = amm.RootK(newReserveA, newReserveB)

	depositorAddr, err := serAddress.DecodeAddress(params.DepositorAddress)
	if err != nil {
		return nil, buildErr(op, fmt.Errorf("invalid depositor address: %w", err))
	}
	depositorUtxos, err := b.utxosAt(params.DepositorAddress)
	if err != nil {
		return nil, buildErr(op, err)
	}
	if len(depositorUtxos) == 0 {
		return nil, buildErr(op, fmt.Errorf("%w: no depositor UTxOs", ErrMissingUtxo))
	}

	apollob, poolUtxo, err := b.startPoolSpend(pool, datum.PoolActionDeposit)
	if err != nil {
		return nil, buildErr(op, err)
	}
	lpPolicy := b.resolver.MustGet(scripts.RoleLpPolicy)
	poolScript := b.resolver.MustGet(scripts.RolePool)
	poolPd, err := plutusDataFor(&newPoolDatum)
	if err != nil {
		return nil, buildErr(op, err)
	}
	poolLovelace, poolUnits := poolOutputValue(poolUtxo, &newPoolDatum, newReserveA, newReserveB)
	apollob = apollob.
		AddInputAddress(depositorAddr).
		AddLoadedUTxOs(depositorUtxos...).
		MintAssetsWithRedeemer(
			apollo.NewUnit(
				lpPolicy.PolicyId(),
				string(pool.Datum.LpAsset.Name),
				int(lpAmount),
			),
			mintRedeemer(false),
		).
		AttachV2Script(PlutusData.PlutusV2Script(lpPolicy.Bytes)).
		PayToContract(
			b.scriptAddress(poolScript),
			poolPd,
			int(poolLovelace),
			true,
			poolUnits...,
		).
		PayToAddress(
			depositorAddr,
			minUtxoLovelace,
			apollo.NewUnit(
				lpPolicy.PolicyId(),
				string(pool.Datum.LpAsset.Name),
				int(lpAmount),
			),
		)

	mint := []MintedAsset{
		{
			PolicyId: lpPolicy.PolicyId(),
			NameHex:  fmt.Sprintf("%x", pool.Datum.LpAsset.Name),
			Amount:   int64(lpAmount),
		},
	}
	ret, err := b.finish(apollob, false, mint)
	if err != nil {
		return nil, buildErr(op, err)
	}
	return ret, nil
}

// WithdrawParams describes removing liquidity from a pool
type WithdrawParams struct {
	OwnerAddress string
	PoolRef      common.TxOutRef
	LpBurned     uint64
}

// BuildWithdraw builds an unsigned transaction burning LP tokens and paying
// out the proportional share of both reserves
func (b *Builder) BuildWithdraw(params WithdrawParams) (*BuiltTx, error) {
	const op = "withdraw"
	pool, err := b.LoadPool(params.PoolRef)
	if err != nil {
		return nil, buildErr(op, err)
	}
	amountA, amountB, err := amm.WithdrawAmounts(
		pool.ReserveA,
		pool.ReserveB,
		pool.Datum.TotalLpSupply,
		params.LpBurned,
	)
	if err != nil {
		return nil, buildErr(op, err)
	}
	newReserveA := pool.ReserveA - amountA
	newReserveB := pool.ReserveB - amountB
	newPoolDatum := pool.Datum
	newPoolDatum.TotalLpSupply -= params.LpBurned
	newPoolDatum.RootK = amm.RootK(newReserveA, newReserveB)

	ownerAddr, err := serAddress.DecodeAddress(params.OwnerAddress)
	if err != nil {
		return nil, buildErr(op, fmt.Errorf("invalid owner address: %w", err))
	}
	ownerUtxos, err := b.utxosAt(params.OwnerAddress)
	if err != nil {
		return nil, buildErr(op, err)
	}
	// The owner's LP tokens must be present in the consumed inputs for the
	// burn to balance
	lpUtxos := []int{}
	for i, utxo := range ownerUtxos {
		if utxoAssetAmount(utxo, pool.Datum.LpAsset) > 0 {
			lpUtxos = append(lpUtxos, i)
		}
	}
	if len(lpUtxos) == 0 {
		return nil, buildErr(op, fmt.Errorf("%w: no LP tokens held by owner", ErrMissingUtxo))
	}

	apollob, poolUtxo, err := b.startPoolSpend(pool, datum.PoolActionWithdraw)
	if err != nil {
		return nil, buildErr(op, err)
	}
	lpPolicy := b.resolver.MustGet(scripts.RoleLpPolicy)
	poolScript := b.resolver.MustGet(scripts.RolePool)
	poolPd, err := plutusDataFor(&newPoolDatum)
	if err != nil {
		return nil, buildErr(op, err)
	}
	poolLovelace, poolUnits := poolOutputValue(poolUtxo, &newPoolDatum, newReserveA, newReserveB)

	apollob = apollob.
		AddInputAddress(ownerAddr).
		AddLoadedUTxOs(ownerUtxos...)
	for _, i := range lpUtxos {
		apollob = apollob.AddInput(ownerUtxos[i])
	}

	// Withdrawn amounts in a single owner payment
	ownerLovelace := uint64(minUtxoLovelace)
	var ownerUnits []apollo.Unit
	if pool.Datum.AssetA.IsLovelace() {
		ownerLovelace = amountA
	} else {
		ownerUnits = append(ownerUnits, apollo.NewUnit(
			pool.Datum.AssetA.PolicyIdHex(),
			string(pool.Datum.AssetA.Name),
			int(amountA),
		))
	}
	if pool.Datum.AssetB.IsLovelace() {
		ownerLovelace = amountB
	} else {
		ownerUnits = append(ownerUnits, apollo.NewUnit(
			pool.Datum.AssetB.PolicyIdHex(),
			string(pool.Datum.AssetB.Name),
			int(amountB),
		))
	}

	apollob = apollob.
		MintAssetsWithRedeemer(
			apollo.NewUnit(
				lpPolicy.PolicyId(),
				string(pool.Datum.LpAsset.Name),
				-int(params.LpBurned),
			),
			mintRedeemer(true),
		).
		AttachV2Script(PlutusData.PlutusV2Script(lpPolicy.Bytes)).
		PayToContract(
			b.scriptAddress(poolScript),
			poolPd,
			int(poolLovelace),
			true,
			poolUnits...,
		).
		PayToAddress(ownerAddr, int(ownerLovelace), ownerUnits...)

	mint := []MintedAsset{
		{
			PolicyId: lpPolicy.PolicyId(),
			NameHex:  fmt.Sprintf("%x", pool.Datum.LpAsset.Name),
			Amount:   -int64(params.LpBurned),
		},
	}
	ret, err := b.finish(apollob, false, mint)
	if err != nil {
		return nil, buildErr(op, err)
	}
	return ret, nil
}

// BuildCollectFees builds an unsigned transaction paying accrued protocol
// fees to the admin and zeroing the pool's fee counters. Reserves and the
// invariant are unchanged. Requires the admin's signature.
func (b *Builder) BuildCollectFees(
	poolRef common.TxOutRef,
	adminAddress string,
) (*BuiltTx, error) {
	const op = "collect-fees"
	pool, err := b.LoadPool(poolRef)
	if err != nil {
		return nil, buildErr(op, err)
	}
	feeA := pool.Datum.ProtocolFeeA
	feeB := pool.Datum.ProtocolFeeB
	if feeA == 0 && feeB == 0 {
		return nil, buildErr(op, fmt.Errorf("no protocol fees accrued"))
	}
	newPoolDatum := pool.Datum
	newPoolDatum.ProtocolFeeA = 0
	newPoolDatum.ProtocolFeeB = 0

	adminAddr, err := serAddress.DecodeAddress(adminAddress)
	if err != nil {
		return nil, buildErr(op, fmt.Errorf("invalid admin address: %w", err))
	}
	adminUtxos, err := b.utxosAt(adminAddress)
	if err != nil {
		return nil, buildErr(op, err)
	}
	if len(adminUtxos) == 0 {
		return nil, buildErr(op, fmt.Errorf("%w: no admin UTxOs for fees", ErrMissingUtxo))
	}

	apollob, poolUtxo, err := b.startPoolSpend(pool, datum.PoolActionCollectFees)
	if err != nil {
		return nil, buildErr(op, err)
	}
	poolScript := b.resolver.MustGet(scripts.RolePool)
	poolPd, err := plutusDataFor(&newPoolDatum)
	if err != nil {
		return nil, buildErr(op, err)
	}
	// Held value drops by exactly the collected fees
	poolLovelace, poolUnits := poolOutputValue(poolUtxo, &newPoolDatum, pool.ReserveA, pool.ReserveB)

	feeLovelace := uint64(minUtxoLovelace)
	var feeUnits []apollo.Unit
	if pool.Datum.AssetA.IsLovelace() {
		feeLovelace = feeA
		if feeLovelace < minUtxoLovelace {
			feeLovelace = minUtxoLovelace
		}
	} else if feeA > 0 {
		feeUnits = append(feeUnits, apollo.NewUnit(
			pool.Datum.AssetA.PolicyIdHex(),
			string(pool.Datum.AssetA.Name),
			int(feeA),
		))
	}
	if pool.Datum.AssetB.IsLovelace() {
		feeLovelace = feeB
		if feeLovelace < minUtxoLovelace {
			feeLovelace = minUtxoLovelace
		}
	} else if feeB > 0 {
		feeUnits = append(feeUnits, apollo.NewUnit(
			pool.Datum.AssetB.PolicyIdHex(),
			string(pool.Datum.AssetB.Name),
			int(feeB),
		))
	}

	apollob = apollob.
		AddInputAddress(adminAddr).
		AddLoadedUTxOs(adminUtxos...).
		AddRequiredSigner(requiredSigner(b.resolver.AdminKeyHash())).
		PayToContract(
			b.scriptAddress(poolScript),
			poolPd,
			int(poolLovelace),
			true,
			poolUnits...,
		).
		PayToAddress(adminAddr, int(feeLovelace), feeUnits...)

	ret, err := b.finish(apollob, false, nil)
	if err != nil {
		return nil, buildErr(op, err)
	}
	return ret, nil
}

// BuildUpdateSettings builds an unsigned transaction replacing the protocol
// settings record at the factory address. Requires the current admin's
// signature.
func (b *Builder) BuildUpdateSettings(
	settingsRef common.TxOutRef,
	newSettings datum.SettingsDatum,
	adminAddress string,
) (*BuiltTx, error) {
	const op = "update-settings"
	settingsUtxo, datumBytes, err := b.fetchUtxo(settingsRef)
	if err != nil {
		return nil, buildErr(op, err)
	}
	var currentSettings datum.SettingsDatum
	if err := currentSettings.UnmarshalCBOR(datumBytes); err != nil {
		return nil, buildErr(op, fmt.Errorf("failed to decode settings datum: %w", err))
	}

	adminAddr, err := serAddress.DecodeAddress(adminAddress)
	if err != nil {
		return nil, buildErr(op, fmt.Errorf("invalid admin address: %w", err))
	}
	adminUtxos, err := b.utxosAt(adminAddress)
	if err != nil {
		return nil, buildErr(op, err)
	}
	if len(adminUtxos) == 0 {
		return nil, buildErr(op, fmt.Errorf("%w: no admin UTxOs for fees", ErrMissingUtxo))
	}

	factoryScript := b.resolver.MustGet(scripts.RoleFactory)
	redeemer, err := spendRedeemer(&datum.PoolRedeemer{
		Action: datum.PoolActionSettings,
	})
	if err != nil {
		return nil, buildErr(op, err)
	}
	settingsPd, err := plutusDataFor(&newSettings)
	if err != nil {
		return nil, buildErr(op, err)
	}
	settingsLovelace, settingsUnits := utxoValueExcluding(
		settingsUtxo,
		common.Lovelace(),
	)

	cc := apollo.NewEmptyBackend()
	apollob := apollo.New(&cc)
	apollob = apollob.
		AddInputAddress(adminAddr).
		AddLoadedUTxOs(adminUtxos...).
		SetTtl(int64(b.currentSlot() + txTtlSlots)).
		CollectFrom(settingsUtxo, redeemer).
		AttachV2Script(PlutusData.PlutusV2Script(factoryScript.Bytes)).
		AddRequiredSigner(requiredSigner(currentSettings.AdminKeyHash)).
		PayToContract(
			b.scriptAddress(factoryScript),
			settingsPd,
			int(settingsLovelace),
			true,
			settingsUnits...,
		)

	ret, err := b.finish(apollob, false, nil)
	if err != nil {
		return nil, buildErr(op, err)
	}
	return ret, nil
}

// startPoolSpend begins a transaction that consumes a pool UTxO with the
// given redeemer action
func (b *Builder) startPoolSpend(
	pool *Pool,
	action datum.PoolAction,
) (*apollo.Apollo, UTxO.UTxO, error) {
	poolUtxo, _, err := b.fetchUtxo(pool.Ref)
	if err != nil {
		return nil, poolUtxo, err
	}
	poolScript := b.resolver.MustGet(scripts.RolePool)
	redeemer, err := spendRedeemer(&datum.PoolRedeemer{Action: action})
	if err != nil {
		return nil, poolUtxo, err
	}
	cc := apollo.NewEmptyBackend()
	apollob := apollo.New(&cc)
	apollob = apollob.
		SetTtl(int64(b.currentSlot() + txTtlSlots)).
		CollectFrom(poolUtxo, redeemer).
		AttachV2Script(PlutusData.PlutusV2Script(poolScript.Bytes))
	return apollob, poolUtxo, nil
}
