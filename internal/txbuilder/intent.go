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
	"time"

	"github.com/Salvionied/apollo"
	serAddress "github.com/Salvionied/apollo/serialization/Address"
	"github.com/Salvionied/apollo/serialization/PlutusData"
	"github.com/Salvionied/apollo/serialization/UTxO"

	"github.com/blinklabs-io/mamba/internal/common"
	"github.com/blinklabs-io/mamba/internal/datum"
	"github.com/blinklabs-io/mamba/internal/logging"
	"github.com/blinklabs-io/mamba/internal/scripts"
)

// CreateIntentParams describes a new escrowed trade intent
type CreateIntentParams struct {
	OwnerAddress    string
	InputAsset      common.AssetClass
	InputAmount     uint64
	OutputAsset     common.AssetClass
	MinOutput       uint64
	Deadline        int64 // POSIX ms
	MaxPartialFills uint64
}

// BuildCreateIntent builds an unsigned transaction that locks the owner's
// input funds at the escrow script together with a freshly minted identity
// token. The token name is derived from the seed UTxO consumed by the
// transaction, so it can never be precomputed or collided.
func (b *Builder) BuildCreateIntent(params CreateIntentParams) (*BuiltTx, error) {
	const op = "create-intent"
	logger := logging.GetLogger()
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
	// The first owner UTxO is consumed as the uniqueness seed
	seed := ownerUtxos[0]
	tokenName := identityTokenName(refFromInput(seed))

	escrowScript := b.resolver.MustGet(scripts.RoleEscrow)
	tokenPolicy := b.resolver.MustGet(scripts.RoleIntentTokenPolicy)

	escrowDatum := datum.EscrowDatum{
		Owner:           addressDatum(ownerAddr),
		InputAsset:      params.InputAsset,
		InputAmount:     params.InputAmount,
		OutputAsset:     params.OutputAsset,
		MinOutput:       params.MinOutput,
		Deadline:        params.Deadline,
		MaxPartialFills: params.MaxPartialFills,
		FillCount:       0,
		RemainingInput:  params.InputAmount,
		TokenName:       tokenName,
	}
	escrowPd, err := plutusDataFor(&escrowDatum)
	if err != nil {
		return nil, buildErr(op, err)
	}

	lovelace, units := paymentValue(params.InputAsset, params.InputAmount)
	if params.InputAsset.IsLovelace() {
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
			b.scriptAddress(escrowScript),
			escrowPd,
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
	logger.Debug(
		"built create-intent transaction",
		"txHash", ret.TxHash,
		"inputAsset", params.InputAsset.String(),
		"inputAmount", params.InputAmount,
	)
	return ret, nil
}

// BuildCancelIntent builds an unsigned transaction returning escrowed funds
// to the owner. The owner's signature is required by the validator, so the
// owner's payment key hash is listed as a required signer.
func (b *Builder) BuildCancelIntent(ref common.TxOutRef) (*BuiltTx, error) {
	const op = "cancel-intent"
	escrowUtxo, datumBytes, err := b.fetchUtxo(ref)
	if err != nil {
		return nil, buildErr(op, err)
	}
	var escrowDatum datum.EscrowDatum
	if err := escrowDatum.UnmarshalCBOR(datumBytes); err != nil {
		return nil, buildErr(op, fmt.Errorf("failed to decode escrow datum: %w", err))
	}
	return b.buildEscrowExit(op, escrowUtxo, escrowDatum, datum.EscrowActionCancel)
}

// BuildReclaim builds a transaction recovering an expired escrow. Reclaiming
// is permissionless: any keeper may submit it after the deadline, paying
// network fees without further compensation. The transaction's validity
// interval starts after the encoded deadline so the validator can verify
// expiry.
func (b *Builder) BuildReclaim(ref common.TxOutRef) (*BuiltTx, error) {
	const op = "reclaim"
	escrowUtxo, datumBytes, err := b.fetchUtxo(ref)
	if err != nil {
		return nil, buildErr(op, err)
	}
	var escrowDatum datum.EscrowDatum
	if err := escrowDatum.UnmarshalCBOR(datumBytes); err != nil {
		return nil, buildErr(op, fmt.Errorf("failed to decode escrow datum: %w", err))
	}
	now := time.Now().UnixMilli()
	if now <= escrowDatum.Deadline {
		return nil, buildErr(op, fmt.Errorf(
			"%w: deadline %d, now %d",
			ErrNotExpired,
			escrowDatum.Deadline,
			now,
		))
	}
	return b.buildEscrowExit(op, escrowUtxo, escrowDatum, datum.EscrowActionReclaim)
}

// buildEscrowExit assembles the shared cancel/reclaim flow: consume the
// escrow, burn the identity token, and return all remaining value to the
// owner
func (b *Builder) buildEscrowExit(
	op string,
	escrowUtxo UTxO.UTxO,
	escrowDatum datum.EscrowDatum,
	action datum.EscrowAction,
) (*BuiltTx, error) {
	escrowScript := b.resolver.MustGet(scripts.RoleEscrow)
	tokenPolicy := b.resolver.MustGet(scripts.RoleIntentTokenPolicy)
	tokenAsset := common.AssetClass{
		PolicyId: tokenPolicy.Hash,
		Name:     escrowDatum.TokenName,
	}
	redeemer, err := spendRedeemer(&datum.EscrowRedeemer{Action: action})
	if err != nil {
		return nil, buildErr(op, err)
	}
	ownerAddr := b.ownerAddress(escrowDatum.Owner)
	lovelace, units := utxoValueExcluding(escrowUtxo, tokenAsset)

	cc := apollo.NewEmptyBackend()
	apollob := apollo.New(&cc)
	apollob = apollob.
		SetTtl(int64(b.currentSlot() + txTtlSlots)).
		CollectFrom(escrowUtxo, redeemer).
		AttachV2Script(PlutusData.PlutusV2Script(escrowScript.Bytes)).
		MintAssetsWithRedeemer(
			apollo.NewUnit(tokenPolicy.PolicyId(), string(escrowDatum.TokenName), -1),
			mintRedeemer(true),
		).
		AttachV2Script(PlutusData.PlutusV2Script(tokenPolicy.Bytes)).
		PayToAddress(ownerAddr, int(lovelace), units...)

	sign := false
	switch action {
	case datum.EscrowActionCancel:
		// Owner authorizes and pays fees; signed externally
		apollob = apollob.AddRequiredSigner(
			requiredSigner(escrowDatum.Owner.PaymentCredential.Hash),
		)
		ownerUtxos, err := b.utxosAt(ownerAddr.String())
		if err != nil {
			return nil, buildErr(op, err)
		}
		if len(ownerUtxos) == 0 {
			return nil, buildErr(op, fmt.Errorf("%w: no owner UTxOs for fees", ErrMissingUtxo))
		}
		apollob = apollob.
			AddInputAddress(ownerAddr).
			AddLoadedUTxOs(ownerUtxos...)
	case datum.EscrowActionReclaim:
		// Keeper pays fees from its own wallet; validity start proves expiry
		if b.wallet == nil {
			return nil, buildErr(op, ErrNoWallet)
		}
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
		apollob = apollob.
			AddInputAddress(walletAddr).
			AddLoadedUTxOs(walletUtxos...).
			SetValidityStart(int64(b.currentSlot()))
		sign = true
	default:
		return nil, buildErr(op, fmt.Errorf("unsupported escrow action: %d", action))
	}

	mint := []MintedAsset{
		{
			PolicyId: tokenPolicy.PolicyId(),
			NameHex:  fmt.Sprintf("%x", escrowDatum.TokenName),
			Amount:   -1,
		},
	}
	ret, err := b.finish(apollob, sign, mint)
	if err != nil {
		return nil, buildErr(op, err)
	}
	return ret, nil
}
