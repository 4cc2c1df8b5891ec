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
	"time"

	"github.com/Salvionied/apollo"
	serAddress "github.com/Salvionied/apollo/serialization/Address"
	"github.com/Salvionied/apollo/serialization/PlutusData"
	"github.com/Salvionied/apollo/serialization/UTxO"

	"github.com/blinklabs-io/mamba/internal/amm"
	"github.com/blinklabs-io/mamba/internal/common"
	"github.com/blinklabs-io/mamba/internal/datum"
	"github.com/blinklabs-io/mamba/internal/scripts"
)

// CreateOrderParams describes a new advanced order
type CreateOrderParams struct {
	OwnerAddress      string
	Kind              datum.OrderKind
	AssetIn           common.AssetClass
	AssetOut          common.AssetClass
	PriceNumerator    int64
	PriceDenominator  int64
	AmountPerInterval uint64
	MinInterval       int64 // ms; only meaningful for DCA
	Budget            uint64
	Deadline          int64 // POSIX ms
}

// BuildCreateOrder builds an unsigned transaction locking the order budget
// at the order script with a freshly minted identity token
func (b *Builder) BuildCreateOrder(params CreateOrderParams) (*BuiltTx, error) {
	const op = "create-order"
	ownerAddr, err := serAddress.DecodeAddress(params.OwnerAddress)
	if err != nil {
		return nil, buildErr(op, fmt.Errorf("invalid owner address: %w", err))
	}
	ownerUtxos, err := b.utxosAt(params.OwnerAddress)
	if err != nil {
		return nil, buildErr(op, err)
	}
	if len(ownerUtxos) == 0 {
		return nil, buildErr(op, fmt.Errorf("%w: no owner UTxOs", ErrMissingUtxo))
	}
	seed := ownerUtxos[0]
	tokenName := identityTokenName(refFromInput(seed))

	orderScript := b.resolver.MustGet(scripts.RoleOrder)
	tokenPolicy := b.resolver.MustGet(scripts.RoleIntentTokenPolicy)

	orderDatum := datum.OrderDatum{
		Owner:   addressDatum(ownerAddr),
		Kind:    params.Kind,
		AssetIn: params.AssetIn,
		AssetOut: params.AssetOut,
		Price: datum.Rational{
			Numerator:   params.PriceNumerator,
			Denominator: params.PriceDenominator,
		},
		AmountPerInterval: params.AmountPerInterval,
		MinInterval:       params.MinInterval,
		LastFillTime:      0,
		RemainingBudget:   params.Budget,
		Deadline:          params.Deadline,
		TokenName:         tokenName,
	}
	orderPd, err := plutusDataFor(&orderDatum)
	if err != nil {
		return nil, buildErr(op, err)
	}

	lovelace, units := paymentValue(params.AssetIn, params.Budget)
	if params.AssetIn.IsLovelace() {
		lovelace += minUtxoLovelace
	}
	units = append(units, apollo.NewUnit(
		tokenPolicy.PolicyId(),
		string(tokenName),
		1,
	))

	cc := apollo.NewEmptyBackend()
	apollob := apollo.New(&cc)
	apollob = apollob.
		AddInputAddress(ownerAddr).
		AddInput(seed).
		AddLoadedUTxOs(ownerUtxos...).
		SetTtl(int64(b.currentSlot() + txTtlSlots)).
		MintAssetsWithRedeemer(
			apollo.NewUnit(tokenPolicy.PolicyId(), string(tokenName), 1),
			mintRedeemer(false),
		).
		AttachV2Script(PlutusData.PlutusV2Script(tokenPolicy.Bytes)).
		PayToContract(
			b.scriptAddress(orderScript),
			orderPd,
			int(lovelace),
			true,
			units...,
		)

	mint := []MintedAsset{
		{
			PolicyId: tokenPolicy.PolicyId(),
			NameHex:  fmt.Sprintf("%x", tokenName),
			Amount:   1,
		},
	}
	ret, err := b.finish(apollob, false, mint)
	if err != nil {
		return nil, buildErr(op, err)
	}
	return ret, nil
}

// BuildCancelOrder builds an unsigned transaction returning an order's
// remaining budget to its owner. Requires the owner's signature.
func (b *Builder) BuildCancelOrder(ref common.TxOutRef) (*BuiltTx, error) {
	const op = "cancel-order"
	orderUtxo, datumBytes, err := b.fetchUtxo(ref)
	if err != nil {
		return nil, buildErr(op, err)
	}
	var orderDatum datum.OrderDatum
	if err := orderDatum.UnmarshalCBOR(datumBytes); err != nil {
		return nil, buildErr(op, fmt.Errorf("failed to decode order datum: %w", err))
	}

	orderScript := b.resolver.MustGet(scripts.RoleOrder)
	tokenPolicy := b.resolver.MustGet(scripts.RoleIntentTokenPolicy)
	tokenAsset := common.AssetClass{
		PolicyId: tokenPolicy.Hash,
		Name:     orderDatum.TokenName,
	}
	redeemer, err := spendRedeemer(&datum.OrderRedeemer{
		Action: datum.OrderActionCancel,
	})
	if err != nil {
		return nil, buildErr(op, err)
	}
	ownerAddr := b.ownerAddress(orderDatum.Owner)
	ownerUtxos, err := b.utxosAt(ownerAddr.String())
	if err != nil {
		return nil, buildErr(op, err)
	}
	if len(ownerUtxos) == 0 {
		return nil, buildErr(op, fmt.Errorf("%w: no owner UTxOs for fees", ErrMissingUtxo))
	}
	lovelace, units := utxoValueExcluding(orderUtxo, tokenAsset)

	cc := apollo.NewEmptyBackend()
	apollob := apollo.New(&cc)
	apollob = apollob.
		AddInputAddress(ownerAddr).
		AddLoadedUTxOs(ownerUtxos...).
		SetTtl(int64(b.currentSlot() + txTtlSlots)).
		CollectFrom(orderUtxo, redeemer).
		AttachV2Script(PlutusData.PlutusV2Script(orderScript.Bytes)).
		MintAssetsWithRedeemer(
			apollo.NewUnit(tokenPolicy.PolicyId(), string(orderDatum.TokenName), -1),
			mintRedeemer(true),
		).
		AttachV2Script(PlutusData.PlutusV2Script(tokenPolicy.Bytes)).
		AddRequiredSigner(
			requiredSigner(orderDatum.Owner.PaymentCredential.Hash),
		).
		PayToAddress(ownerAddr, int(lovelace), units...)

	mint := []MintedAsset{
		{
			PolicyId: tokenPolicy.PolicyId(),
			NameHex:  fmt.Sprintf("%x", orderDatum.TokenName),
			Amount:   -1,
		},
	}
	ret, err := b.finish(apollob, false, mint)
	if err != nil {
		return nil, buildErr(op, err)
	}
	return ret, nil
}

// OrderExecResult is the outcome of building an order execution
type OrderExecResult struct {
	Tx          *BuiltTx
	Consumed    uint64
	Output      uint64
	Complete    bool
	NewReserveA uint64
	NewReserveB uint64
}

// BuildExecuteOrder builds the signed transaction executing one order
// against a pool. LIMIT and STOP_LOSS orders consume their full remaining
// budget and enforce the encoded price; DCA orders consume one interval's
// amount and are only executable after the minimum interval has elapsed
// since the last fill.
func (b *Builder) BuildExecuteOrder(
	ref common.TxOutRef,
	pool *Pool,
) (*OrderExecResult, error) {
	const op = "execute-order"
	if b.wallet == nil {
		return nil, buildErr(op, ErrNoWallet)
	}
	orderUtxo, datumBytes, err := b.fetchUtxo(ref)
	if err != nil {
		return nil, buildErr(op, err)
	}
	var orderDatum datum.OrderDatum
	if err := orderDatum.UnmarshalCBOR(datumBytes); err != nil {
		return nil, buildErr(op, fmt.Errorf("failed to decode order datum: %w", err))
	}

	now := time.Now().UnixMilli()
	var consumed uint64
	switch orderDatum.Kind {
	case datum.OrderKindDca:
		// The ripeness check happens before anything is built
		if now-orderDatum.LastFillTime < orderDatum.MinInterval {
			return nil, buildErr(op, fmt.Errorf(
				"%w: %dms since last fill, interval %dms",
				ErrOrderNotRipe,
				now-orderDatum.LastFillTime,
				orderDatum.MinInterval,
			))
		}
		consumed = orderDatum.AmountPerInterval
		if consumed > orderDatum.RemainingBudget {
			consumed = orderDatum.RemainingBudget
		}
	default:
		consumed = orderDatum.RemainingBudget
	}
	if consumed == 0 {
		return nil, buildErr(op, fmt.Errorf("order has no remaining budget"))
	}
	complete := consumed == orderDatum.RemainingBudget

	direction, err := pool.Direction(orderDatum.AssetIn)
	if err != nil {
		return nil, buildErr(op, err)
	}
	reserveIn, reserveOut := pool.Reserves(direction)
	res, err := amm.Swap(reserveIn, reserveOut, consumed, pool.Datum.FeeBps, false)
	if err != nil {
		return nil, buildErr(op, err)
	}
	if orderDatum.Kind != datum.OrderKindDca {
		if err := checkOrderPrice(orderDatum.Price, res.InputConsumed, res.Output); err != nil {
			return nil, buildErr(op, err)
		}
	}

	newReserveIn := reserveIn + res.InputConsumed - res.ProtocolFee
	newReserveOut := reserveOut - res.Output
	newReserveA, newReserveB := newReserveIn, newReserveOut
	if direction == datum.SwapDirectionBToA {
		newReserveA, newReserveB = newReserveOut, newReserveIn
	}
	newPoolDatum := pool.Datum
	newPoolDatum.RootK = amm.RootK(newReserveA, newReserveB)
	if newPoolDatum.RootK < pool.Datum.RootK {
		return nil, buildErr(op, ErrInvariantDecrease)
	}
	if direction == datum.SwapDirectionAToB {
		newPoolDatum.ProtocolFeeA += res.ProtocolFee
	} else {
		newPoolDatum.ProtocolFeeB += res.ProtocolFee
	}

	orderScript := b.resolver.MustGet(scripts.RoleOrder)
	poolScript := b.resolver.MustGet(scripts.RolePool)
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

	orderRedeemer, err := spendRedeemer(&datum.OrderRedeemer{
		Action:         datum.OrderActionExecute,
		ConsumedAmount: res.InputConsumed,
	})
	if err != nil {
		return nil, buildErr(op, err)
	}

	apollob, poolUtxo, err := b.startPoolSpendWithDirection(pool, direction)
	if err != nil {
		return nil, buildErr(op, err)
	}
	apollob = apollob.
		AddInputAddress(walletAddr).
		AddLoadedUTxOs(walletUtxos...).
		CollectFrom(orderUtxo, orderRedeemer).
		AttachV2Script(PlutusData.PlutusV2Script(orderScript.Bytes))

	// Pay the owner's output
	ownerAddr := b.ownerAddress(orderDatum.Owner)
	ownerLovelace, ownerUnits := paymentValue(orderDatum.AssetOut, res.Output)
	apollob = apollob.PayToAddress(ownerAddr, int(ownerLovelace), ownerUnits...)

	var mint []MintedAsset
	if complete {
		apollob = apollob.
			MintAssetsWithRedeemer(
				apollo.NewUnit(
					tokenPolicy.PolicyId(),
					string(orderDatum.TokenName),
					-1,
				),
				mintRedeemer(true),
			).
			AttachV2Script(PlutusData.PlutusV2Script(tokenPolicy.Bytes))
		mint = append(mint, MintedAsset{
			PolicyId: tokenPolicy.PolicyId(),
			NameHex:  fmt.Sprintf("%x", orderDatum.TokenName),
			Amount:   -1,
		})
	} else {
		newOrderDatum := orderDatum
		newOrderDatum.RemainingBudget -= res.InputConsumed
		newOrderDatum.LastFillTime = now
		orderPd, err := plutusDataFor(&newOrderDatum)
		if err != nil {
			return nil, buildErr(op, err)
		}
		orderLovelace, orderUnits := escrowValueAfterFill(
			orderUtxo,
			orderDatum.AssetIn,
			res.InputConsumed,
		)
		apollob = apollob.PayToContract(
			b.scriptAddress(orderScript),
			orderPd,
			int(orderLovelace),
			true,
			orderUnits...,
		)
	}

	// Re-output the pool
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
	return &OrderExecResult{
		Tx:          tx,
		Consumed:    res.InputConsumed,
		Output:      res.Output,
		Complete:    complete,
		NewReserveA: newReserveA,
		NewReserveB: newReserveB,
	}, nil
}

// checkOrderPrice enforces output/consumed >= numerator/denominator
func checkOrderPrice(price datum.Rational, consumed, output uint64) error {
	if price.Denominator <= 0 || price.Numerator < 0 {
		return fmt.Errorf("%w: invalid price %d/%d", ErrPriceNotMet, price.Numerator, price.Denominator)
	}
	lhs := new(big.Int).Mul(
		new(big.Int).SetUint64(output),
		big.NewInt(price.Denominator),
	)
	rhs := new(big.Int).Mul(
		new(big.Int).SetUint64(consumed),
		big.NewInt(price.Numerator),
	)
	if lhs.Cmp(rhs) < 0 {
		return fmt.Errorf(
			"%w: output %d for consumed %d below %d/%d",
			ErrPriceNotMet,
			output,
			consumed,
			price.Numerator,
			price.Denominator,
		)
	}
	return nil
}

// startPoolSpendWithDirection begins a transaction consuming a pool UTxO
// with a swap redeemer carrying the given direction
func (b *Builder) startPoolSpendWithDirection(
	pool *Pool,
	direction datum.SwapDirection,
) (*apollo.Apollo, UTxO.UTxO, error) {
	poolUtxo, _, err := b.fetchUtxo(pool.Ref)
	if err != nil {
		return nil, poolUtxo, err
	}
	poolScript := b.resolver.MustGet(scripts.RolePool)
	redeemer, err := spendRedeemer(&datum.PoolRedeemer{
		Action:    datum.PoolActionSwap,
		Direction: direction,
	})
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
