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

package datum_test

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/blinklabs-io/mamba/internal/common"
	"github.com/blinklabs-io/mamba/internal/datum"

	"github.com/blinklabs-io/gouroboros/cbor"
)

func testKeyHash(b byte) []byte {
	hash := make([]byte, 28)
	for i := range hash {
		hash[i] = b
	}
	return hash
}

func testOwner() datum.Address {
	return datum.Address{
		PaymentCredential: datum.Credential{
			Type: 0,
			Hash: testKeyHash(0x01),
		},
		StakingCredential: datum.OptionalCredential{
			IsPresent: true,
			Credential: datum.Credential{
				Type: 0,
				Hash: testKeyHash(0x02),
			},
		},
	}
}

func testAssetA() common.AssetClass {
	return common.AssetClass{
		PolicyId: testKeyHash(0xaa),
		Name:     []byte("TOKA"),
	}
}

func testAssetB() common.AssetClass {
	return common.AssetClass{
		PolicyId: testKeyHash(0xbb),
		Name:     []byte("TOKB"),
	}
}

func TestEscrowDatumRoundTrip(t *testing.T) {
	orig := datum.EscrowDatum{
		Owner:           testOwner(),
		InputAsset:      testAssetA(),
		InputAmount:     5_000_000,
		OutputAsset:     testAssetB(),
		MinOutput:       9_500_000,
		Deadline:        1_700_000_000_000,
		MaxPartialFills: 3,
		FillCount:       1,
		RemainingInput:  3_000_000,
		TokenName:       testKeyHash(0x33),
	}
	cborData, err := cbor.Encode(&orig)
	if err != nil {
		t.Fatalf("failed to encode: %s", err)
	}
	var decoded datum.EscrowDatum
	if _, err := cbor.Decode(cborData, &decoded); err != nil {
		t.Fatalf("failed to decode: %s", err)
	}
	if !reflect.DeepEqual(orig, decoded) {
		t.Fatalf(
			"escrow datum did not round-trip\n  got: %#v\n  wanted: %#v",
			decoded,
			orig,
		)
	}
}

func TestEscrowDatumWrongConstructor(t *testing.T) {
	redeemer := datum.EscrowRedeemer{Action: datum.EscrowActionCancel}
	cborData, err := cbor.Encode(&redeemer)
	if err != nil {
		t.Fatalf("failed to encode: %s", err)
	}
	var decoded datum.EscrowDatum
	if _, err := cbor.Decode(cborData, &decoded); err == nil {
		t.Fatal("expected error decoding wrong constructor as escrow datum")
	}
}

func TestEscrowAllowsPartialFill(t *testing.T) {
	escrow := datum.EscrowDatum{MaxPartialFills: 2, FillCount: 1}
	if !escrow.AllowsPartialFill() {
		t.Error("expected partial fill to be allowed")
	}
	escrow.FillCount = 2
	if escrow.AllowsPartialFill() {
		t.Error("expected partial fill to be exhausted")
	}
	escrow = datum.EscrowDatum{MaxPartialFills: 0}
	if escrow.AllowsPartialFill() {
		t.Error("expected partial fill to be disallowed")
	}
}

func TestPoolDatumRoundTrip(t *testing.T) {
	orig := datum.PoolDatum{
		PoolNft: common.AssetClass{
			PolicyId: testKeyHash(0xcc),
			Name:     []byte("POOL_NFT"),
		},
		AssetA: common.AssetClass{
			PolicyId: []byte{},
			Name:     []byte{},
		},
		AssetB: testAssetB(),
		LpAsset: common.AssetClass{
			PolicyId: testKeyHash(0xdd),
			Name:     []byte("POOL_LP"),
		},
		FeeBps:        30,
		TotalLpSupply: 1_414_212_562,
		ProtocolFeeA:  12_345,
		ProtocolFeeB:  0,
		RootK:         1_414_213_562,
	}
	cborData, err := cbor.Encode(&orig)
	if err != nil {
		t.Fatalf("failed to encode: %s", err)
	}
	var decoded datum.PoolDatum
	if _, err := cbor.Decode(cborData, &decoded); err != nil {
		t.Fatalf("failed to decode: %s", err)
	}
	if !reflect.DeepEqual(orig, decoded) {
		t.Fatalf(
			"pool datum did not round-trip\n  got: %#v\n  wanted: %#v",
			decoded,
			orig,
		)
	}
}

func TestOrderDatumRoundTrip(t *testing.T) {
	for _, kind := range []datum.OrderKind{
		datum.OrderKindLimit,
		datum.OrderKindDca,
		datum.OrderKindStopLoss,
	} {
		orig := datum.OrderDatum{
			Owner:             testOwner(),
			Kind:              kind,
			AssetIn:           testAssetA(),
			AssetOut:          testAssetB(),
			Price:             datum.Rational{Numerator: 3, Denominator: 2},
			AmountPerInterval: 1_000_000,
			MinInterval:       86_400_000,
			LastFillTime:      1_700_000_000_000,
			RemainingBudget:   10_000_000,
			Deadline:          1_800_000_000_000,
			TokenName:         testKeyHash(0x44),
		}
		cborData, err := cbor.Encode(&orig)
		if err != nil {
			t.Fatalf("failed to encode %s order: %s", kind, err)
		}
		var decoded datum.OrderDatum
		if _, err := cbor.Decode(cborData, &decoded); err != nil {
			t.Fatalf("failed to decode %s order: %s", kind, err)
		}
		if !reflect.DeepEqual(orig, decoded) {
			t.Fatalf(
				"%s order datum did not round-trip\n  got: %#v\n  wanted: %#v",
				kind,
				decoded,
				orig,
			)
		}
	}
}

func TestEscrowRedeemerRoundTrip(t *testing.T) {
	testDefs := []datum.EscrowRedeemer{
		{Action: datum.EscrowActionFill, ConsumedAmount: 123_456},
		{Action: datum.EscrowActionCancel},
		{Action: datum.EscrowActionReclaim},
	}
	for _, orig := range testDefs {
		cborData, err := cbor.Encode(&orig)
		if err != nil {
			t.Fatalf("failed to encode: %s", err)
		}
		var decoded datum.EscrowRedeemer
		if _, err := cbor.Decode(cborData, &decoded); err != nil {
			t.Fatalf("failed to decode: %s", err)
		}
		if decoded != orig {
			t.Fatalf(
				"escrow redeemer did not round-trip\n  got: %#v\n  wanted: %#v",
				decoded,
				orig,
			)
		}
	}
}

func TestPoolRedeemerRoundTrip(t *testing.T) {
	testDefs := []datum.PoolRedeemer{
		{Action: datum.PoolActionSwap, Direction: datum.SwapDirectionAToB},
		{Action: datum.PoolActionSwap, Direction: datum.SwapDirectionBToA},
		{Action: datum.PoolActionDeposit},
		{Action: datum.PoolActionWithdraw},
		{Action: datum.PoolActionCollectFees},
		{Action: datum.PoolActionSettings},
	}
	for _, orig := range testDefs {
		cborData, err := cbor.Encode(&orig)
		if err != nil {
			t.Fatalf("failed to encode: %s", err)
		}
		var decoded datum.PoolRedeemer
		if _, err := cbor.Decode(cborData, &decoded); err != nil {
			t.Fatalf("failed to decode: %s", err)
		}
		if decoded != orig {
			t.Fatalf(
				"pool redeemer did not round-trip\n  got: %#v\n  wanted: %#v",
				decoded,
				orig,
			)
		}
	}
}

func TestOrderRedeemerRoundTrip(t *testing.T) {
	testDefs := []datum.OrderRedeemer{
		{Action: datum.OrderActionExecute, ConsumedAmount: 42},
		{Action: datum.OrderActionCancel},
		{Action: datum.OrderActionReclaim},
	}
	for _, orig := range testDefs {
		cborData, err := cbor.Encode(&orig)
		if err != nil {
			t.Fatalf("failed to encode: %s", err)
		}
		var decoded datum.OrderRedeemer
		if _, err := cbor.Decode(cborData, &decoded); err != nil {
			t.Fatalf("failed to decode: %s", err)
		}
		if decoded != orig {
			t.Fatalf(
				"order redeemer did not round-trip\n  got: %#v\n  wanted: %#v",
				decoded,
				orig,
			)
		}
	}
}

func TestSettingsDatumRoundTrip(t *testing.T) {
	orig := datum.SettingsDatum{
		AdminKeyHash:    testKeyHash(0x55),
		PoolCreationFee: 5_000_000,
	}
	cborData, err := cbor.Encode(&orig)
	if err != nil {
		t.Fatalf("failed to encode: %s", err)
	}
	var decoded datum.SettingsDatum
	if _, err := cbor.Decode(cborData, &decoded); err != nil {
		t.Fatalf("failed to decode: %s", err)
	}
	if !bytes.Equal(decoded.AdminKeyHash, orig.AdminKeyHash) ||
		decoded.PoolCreationFee != orig.PoolCreationFee {
		t.Fatalf(
			"settings datum did not round-trip\n  got: %#v\n  wanted: %#v",
			decoded,
			orig,
		)
	}
}

func TestOptionalCredentialAbsent(t *testing.T) {
	orig := datum.Address{
		PaymentCredential: datum.Credential{
			Type: 0,
			Hash: testKeyHash(0x01),
		},
		StakingCredential: datum.OptionalCredential{IsPresent: false},
	}
	cborData, err := cbor.Encode(&orig)
	if err != nil {
		t.Fatalf("failed to encode: %s", err)
	}
	var decoded datum.Address
	if _, err := cbor.Decode(cborData, &decoded); err != nil {
		t.Fatalf("failed to decode: %s", err)
	}
	if decoded.StakingCredential.IsPresent {
		t.Error("expected absent staking credential")
	}
	if !bytes.Equal(
		decoded.PaymentCredential.Hash,
		orig.PaymentCredential.Hash,
	) {
		t.Error("payment credential hash mismatch")
	}
}
