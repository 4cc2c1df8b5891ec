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
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Salvionied/apollo"
	"github.com/Salvionied/apollo/serialization"
	serAddress "github.com/Salvionied/apollo/serialization/Address"
	"github.com/Salvionied/apollo/serialization/Key"
	"github.com/Salvionied/apollo/serialization/PlutusData"
	"github.com/Salvionied/apollo/serialization/Redeemer"
	"github.com/Salvionied/apollo/serialization/UTxO"
	"golang.org/x/crypto/blake2b"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blinklabs-io/gouroboros/ledger"
	"github.com/blinklabs-io/mamba/internal/common"
	"github.com/blinklabs-io/mamba/internal/config"
	"github.com/blinklabs-io/mamba/internal/datum"
	"github.com/blinklabs-io/mamba/internal/scripts"
	"github.com/blinklabs-io/mamba/internal/storage"
)

// fetchUtxo retrieves a UTxO by reference and returns both the Apollo
// representation for transaction building and the raw inline datum bytes
func (b *Builder) fetchUtxo(
	ref common.TxOutRef,
) (UTxO.UTxO, []byte, error) {
	var ret UTxO.UTxO
	utxoBytes, err := b.provider.GetUtxoByRef(ref.StorageId())
	if err != nil {
		return ret, nil, fmt.Errorf("%w: %s: %w", ErrMissingUtxo, ref.String(), err)
	}
	if _, err := cbor.Decode(utxoBytes, &ret); err != nil {
		return ret, nil, fmt.Errorf("failed to decode UTxO %s: %w", ref.String(), err)
	}
	// Decode again through the ledger types to get at the inline datum
	var ledgerUtxo storage.Utxo
	if err := ledgerUtxo.UnmarshalCBOR(utxoBytes); err != nil {
		return ret, nil, fmt.Errorf("failed to decode UTxO %s: %w", ref.String(), err)
	}
	var datumBytes []byte
	if d := ledgerUtxo.Output.Datum(); d != nil {
		datumBytes = d.Cbor()
	}
	return ret, datumBytes, nil
}

// utxosAt fetches and decodes all UTxOs at an address
func (b *Builder) utxosAt(address string) ([]UTxO.UTxO, error) {
	utxosBytes, err := b.provider.GetUtxosAt(address)
	if err != nil {
		return nil, err
	}
	ret := []UTxO.UTxO{}
	for _, utxoBytes := range utxosBytes {
		var utxo UTxO.UTxO
		if _, err := cbor.Decode(utxoBytes, &utxo); err != nil {
			continue
		}
		ret = append(ret, utxo)
	}
	return ret, nil
}

// plutusDataFor wraps an already-encodable datum value for Apollo
func plutusDataFor(v any) (*PlutusData.PlutusData, error) {
	dataBytes, err := cbor.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode datum: %w", err)
	}
	return &PlutusData.PlutusData{
		Value: cbor.RawMessage(dataBytes),
	}, nil
}

// spendRedeemer builds a spend redeemer carrying the given redeemer value
func spendRedeemer(v any) (Redeemer.Redeemer, error) {
	data, err := plutusDataFor(v)
	if err != nil {
		return Redeemer.Redeemer{}, err
	}
	return Redeemer.Redeemer{
		Tag: Redeemer.SPEND,
		ExUnits: Redeemer.ExecutionUnits{
			Mem:   exUnitsMem,
			Steps: exUnitsSteps,
		},
		Data: *data,
	}, nil
}

// mintRedeemer builds a mint-policy redeemer: constructor 0 to mint,
// constructor 1 to burn
func mintRedeemer(burn bool) Redeemer.Redeemer {
	idx := uint(0)
	if burn {
		idx = 1
	}
	return Redeemer.Redeemer{
		Tag: Redeemer.MINT,
		ExUnits: Redeemer.ExecutionUnits{
			Mem:   exUnitsMem,
			Steps: exUnitsSteps,
		},
		Data: PlutusData.PlutusData{
			Value: cbor.NewConstructor(idx, cbor.IndefLengthList{}),
		},
	}
}

// identityTokenName derives a globally unique token name from the UTxO
// reference consumed as the minting seed
func identityTokenName(seed common.TxOutRef) []byte {
	tmp := make([]byte, 0, len(seed.TxHash)+4)
	tmp = append(tmp, seed.TxHash...)
	tmp = binary.BigEndian.AppendUint32(tmp, seed.Index)
	hash := blake2b.Sum256(tmp)
	return hash[:]
}

// addressFromParts constructs a Cardano address from credential hashes
func addressFromParts(
	paymentHash []byte,
	paymentIsScript bool,
	stakingHash []byte,
	stakingIsScript bool,
	networkId byte,
) serAddress.Address {
	var header byte
	if len(stakingHash) > 0 {
		// Base address
		header = networkId
		if paymentIsScript {
			header |= 0x10
		}
		if stakingIsScript {
			header |= 0x20
		}
	} else {
		// Enterprise address (no staking)
		header = 0x60 | networkId
		if paymentIsScript {
			header |= 0x10
		}
	}
	addr := serAddress.Address{
		PaymentPart: paymentHash,
		StakingPart: stakingHash,
		AddressType: (header >> 4) & 0x0f,
		Network:     networkId,
		HeaderByte:  header,
	}
	if addr.Network == serAddress.MAINNET {
		addr.Hrp = "addr"
	} else {
		addr.Hrp = "addr_test"
	}
	return addr
}

// scriptAddress returns the enterprise address for a resolved script
func (b *Builder) scriptAddress(s scripts.Script) serAddress.Address {
	return addressFromParts(s.Hash, true, nil, false, b.networkId())
}

// ownerAddress reconstructs a Cardano address from an encoded owner datum
func (b *Builder) ownerAddress(owner datum.Address) serAddress.Address {
	var stakingHash []byte
	var stakingIsScript bool
	if owner.StakingCredential.IsPresent {
		stakingHash = owner.StakingCredential.Credential.Hash
		stakingIsScript = owner.StakingCredential.Credential.Type == 1
	}
	return addressFromParts(
		owner.PaymentCredential.Hash,
		owner.PaymentCredential.Type == 1,
		stakingHash,
		stakingIsScript,
		b.networkId(),
	)
}

// paymentValue splits an asset amount into the lovelace and native-token
// portions of an output, enforcing the minimum UTxO lovelace
func paymentValue(
	asset common.AssetClass,
	amount uint64,
) (uint64, []apollo.Unit) {
	if asset.IsLovelace() {
		lovelace := amount
		if lovelace < minUtxoLovelace {
			lovelace = minUtxoLovelace
		}
		return lovelace, nil
	}
	units := []apollo.Unit{
		apollo.NewUnit(
			asset.PolicyIdHex(),
			string(asset.Name),
			int(amount),
		),
	}
	return minUtxoLovelace, units
}

// utxoAssetAmount returns the amount of an asset held by a UTxO
func utxoAssetAmount(utxo UTxO.UTxO, asset common.AssetClass) uint64 {
	if asset.IsLovelace() {
		return uint64(utxo.Output.GetAmount().GetCoin())
	}
	assets := utxo.Output.GetAmount().GetAssets()
	if assets == nil {
		return 0
	}
	for policyId, names := range assets {
		if policyId.Value != asset.PolicyIdHex() {
			continue
		}
		for assetName, amount := range names {
			if assetName.String() == string(asset.Name) {
				return uint64(amount)
			}
		}
	}
	return 0
}

// utxoValueExcluding returns a UTxO's held value as (lovelace, units),
// omitting the given asset (used to drop an identity token being burned)
func utxoValueExcluding(
	utxo UTxO.UTxO,
	exclude common.AssetClass,
) (uint64, []apollo.Unit) {
	lovelace := uint64(utxo.Output.GetAmount().GetCoin())
	var units []apollo.Unit
	assets := utxo.Output.GetAmount().GetAssets()
	if assets != nil {
		for policyId, names := range assets {
			for assetName, amount := range names {
				if policyId.Value == exclude.PolicyIdHex() &&
					assetName.String() == string(exclude.Name) {
					continue
				}
				units = append(units, apollo.NewUnit(
					policyId.Value,
					assetName.String(),
					int(amount),
				))
			}
		}
	}
	return lovelace, units
}

// addressDatum converts a bech32 address into its datum representation
func addressDatum(addr serAddress.Address) datum.Address {
	ret := datum.Address{
		PaymentCredential: datum.Credential{
			Type: 0,
			Hash: addr.PaymentPart,
		},
	}
	// Script payment credential
	if addr.AddressType&0x01 == 0x01 {
		ret.PaymentCredential.Type = 1
	}
	if len(addr.StakingPart) > 0 {
		ret.StakingCredential = datum.OptionalCredential{
			IsPresent: true,
			Credential: datum.Credential{
				Type: int((addr.AddressType >> 1) & 0x01),
				Hash: addr.StakingPart,
			},
		}
	}
	return ret
}

// refFromInput converts an Apollo transaction input to a TxOutRef
func refFromInput(utxo UTxO.UTxO) common.TxOutRef {
	return common.TxOutRef{
		TxHash: utxo.Input.TransactionId,
		Index:  uint32(utxo.Input.Index),
	}
}

// requiredSigner converts a raw key hash for Apollo's required-signers list
func requiredSigner(keyHash []byte) serialization.PubKeyHash {
	var pkh serialization.PubKeyHash
	copy(pkh[:], keyHash)
	return pkh
}

// unixTimeToSlot converts a Unix timestamp to a slot number
func unixTimeToSlot(network string, unixTime int64) uint64 {
	networkCfg, ok := config.Networks[network]
	if !ok {
		networkCfg = config.Networks["mainnet"]
	}
	if networkCfg.ShelleyOffsetTime == 0 {
		return 0
	}
	return networkCfg.ShelleyOffsetSlot + uint64(
		unixTime-networkCfg.ShelleyOffsetTime,
	)
}

func (b *Builder) currentSlot() uint64 {
	return unixTimeToSlot(b.network, time.Now().Unix())
}

// finish completes the assembled transaction, signs it when the builder
// holds a wallet and signing was requested, and computes the hash
func (b *Builder) finish(
	apollob *apollo.Apollo,
	sign bool,
	mint []MintedAsset,
) (*BuiltTx, error) {
	tx, err := apollob.
		DisableExecutionUnitsEstimation().
		CompleteExact(txFee)
	if err != nil {
		return nil, fmt.Errorf("failed to complete transaction: %w", err)
	}
	signed := false
	if sign {
		if b.wallet == nil {
			return nil, ErrNoWallet
		}
		vKeyBytes, err := hex.DecodeString(b.wallet.PaymentVKey.CborHex)
		if err != nil {
			return nil, fmt.Errorf("failed to decode vkey: %w", err)
		}
		sKeyBytes, err := hex.DecodeString(b.wallet.PaymentExtendedSKey.CborHex)
		if err != nil {
			return nil, fmt.Errorf("failed to decode skey: %w", err)
		}
		// Strip CBOR prefix (2 bytes)
		vKeyBytes = vKeyBytes[2:]
		sKeyBytes = sKeyBytes[2:]
		// Strip public key portion from extended private key
		sKeyBytes = append(sKeyBytes[:64], sKeyBytes[96:]...)
		vkey := Key.VerificationKey{Payload: vKeyBytes}
		skey := Key.SigningKey{Payload: sKeyBytes}
		tx, err = tx.SignWithSkey(vkey, skey)
		if err != nil {
			return nil, fmt.Errorf("failed to sign transaction: %w", err)
		}
		signed = true
	}
	txBytes, err := tx.GetTx().Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	txHash, err := txHashHex(txBytes)
	if err != nil {
		return nil, err
	}
	return &BuiltTx{
		TxBytes: txBytes,
		TxHash:  txHash,
		Signed:  signed,
		Mint:    mint,
	}, nil
}

// txHashHex computes the transaction hash from serialized transaction bytes
func txHashHex(txBytes []byte) (string, error) {
	txType, err := ledger.DetermineTransactionType(txBytes)
	if err != nil {
		return "", fmt.Errorf("could not determine transaction type: %w", err)
	}
	tx, err := ledger.NewTransactionFromCbor(txType, txBytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse transaction CBOR: %w", err)
	}
	return fmt.Sprintf("%s", tx.Hash()), nil
}
