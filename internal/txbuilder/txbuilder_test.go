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
	"bytes"
	"errors"
	"testing"

	"github.com/blinklabs-io/mamba/internal/amm"
	"github.com/blinklabs-io/mamba/internal/common"
	"github.com/blinklabs-io/mamba/internal/datum"
)

func testRef(marker byte) common.TxOutRef {
	txHash := make([]byte, 32)
	for i := range txHash {
		txHash[i] = marker
	}
	return common.TxOutRef{TxHash: txHash, Index: 0}
}

func testKeyHash(marker byte) []byte {
	ret := make([]byte, 28)
	for i := range ret {
		ret[i] = marker
	}
	return ret
}

func testEscrow(
	marker byte,
	remaining uint64,
	inputAmount uint64,
	minOutput uint64,
	maxPartialFills uint64,
) *Escrow {
	return &Escrow{
		Ref: testRef(marker),
		Datum: datum.EscrowDatum{
			Owner:           datum.NewPubKeyAddress(testKeyHash(marker)),
			InputAsset:      common.AssetClass{PolicyId: []byte{}, Name: []byte{}},
			InputAmount:     inputAmount,
			OutputAsset:     common.AssetClass{PolicyId: testKeyHash(0xaa), Name: []byte("USDM")},
			MinOutput:       minOutput,
			Deadline:        1900000000000,
			MaxPartialFills: maxPartialFills,
			RemainingInput:  remaining,
			TokenName:       testKeyHash(marker),
		},
	}
}

func TestIdentityTokenName(t *testing.T) {
	name1 := identityTokenName(testRef(0x01))
	name2 := identityTokenName(testRef(0x01))
	if !bytes.Equal(name1, name2) {
		t.Fatalf("token name is not deterministic")
	}
	if len(name1) != 32 {
		t.Fatalf("unexpected token name length: %d", len(name1))
	}
	name3 := identityTokenName(testRef(0x02))
	if bytes.Equal(name1, name3) {
		t.Fatalf("different refs produced the same token name")
	}
	// Same tx hash, different output index
	ref := testRef(0x01)
	ref.Index = 1
	name4 := identityTokenName(ref)
	if bytes.Equal(name1, name4) {
		t.Fatalf("different output indexes produced the same token name")
	}
}

func TestAddressFromParts(t *testing.T) {
	testDefs := []struct {
		paymentIsScript  bool
		stakingHash      []byte
		networkId        byte
		expectedHeader   byte
		expectedHrp      string
	}{
		{false, nil, 1, 0x61, "addr"},
		{true, nil, 1, 0x71, "addr"},
		{false, nil, 0, 0x60, "addr_test"},
		{true, nil, 0, 0x70, "addr_test"},
		{false, testKeyHash(0x02), 1, 0x01, "addr"},
		{true, testKeyHash(0x02), 0, 0x10, "addr_test"},
	}
	for _, testDef := range testDefs {
		addr := addressFromParts(
			testKeyHash(0x01),
			testDef.paymentIsScript,
			testDef.stakingHash,
			false,
			testDef.networkId,
		)
		if addr.HeaderByte != testDef.expectedHeader {
			t.Fatalf(
				"unexpected header byte: got 0x%02x, wanted 0x%02x",
				addr.HeaderByte,
				testDef.expectedHeader,
			)
		}
		if addr.Hrp != testDef.expectedHrp {
			t.Fatalf("unexpected HRP: got %s, wanted %s", addr.Hrp, testDef.expectedHrp)
		}
		if !bytes.Equal(addr.PaymentPart, testKeyHash(0x01)) {
			t.Fatalf("unexpected payment part")
		}
	}
}

func TestAddressDatumRoundTrip(t *testing.T) {
	// Base address with both credentials
	addr := addressFromParts(testKeyHash(0x01), false, testKeyHash(0x02), false, 1)
	d := addressDatum(addr)
	if d.PaymentCredential.Type != 0 {
		t.Fatalf("unexpected payment credential type: %d", d.PaymentCredential.Type)
	}
	if !bytes.Equal(d.PaymentCredential.Hash, testKeyHash(0x01)) {
		t.Fatalf("unexpected payment credential hash")
	}
	if !d.StakingCredential.IsPresent {
		t.Fatalf("expected staking credential to be present")
	}
	if !bytes.Equal(d.StakingCredential.Credential.Hash, testKeyHash(0x02)) {
		t.Fatalf("unexpected staking credential hash")
	}
	// Enterprise script address
	addr2 := addressFromParts(testKeyHash(0x03), true, nil, false, 0)
	d2 := addressDatum(addr2)
	if d2.PaymentCredential.Type != 1 {
		t.Fatalf("expected script payment credential")
	}
	if d2.StakingCredential.IsPresent {
		t.Fatalf("expected no staking credential")
	}
}

func TestCheckProRatedMinOutput(t *testing.T) {
	testDefs := []struct {
		inputAmount uint64
		minOutput   uint64
		consumed    uint64
		output      uint64
		expectedErr error
	}{
		// Full fill meeting the minimum exactly
		{10_000, 19_000, 10_000, 19_000, nil},
		// Full fill below the minimum
		{10_000, 19_744, 10_000, 19_743, ErrSlippage},
		// Half fill at the pro-rated minimum
		{10_000, 19_000, 5_000, 9_500, nil},
		// Half fill just below the pro-rated minimum
		{10_000, 19_000, 5_000, 9_499, ErrSlippage},
		// Zero input amount is rejected
		{0, 1, 1, 1, ErrSlippage},
	}
	for _, testDef := range testDefs {
		escrowDatum := datum.EscrowDatum{
			InputAmount: testDef.inputAmount,
			MinOutput:   testDef.minOutput,
		}
		err := checkProRatedMinOutput(escrowDatum, testDef.consumed, testDef.output)
		if testDef.expectedErr == nil {
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
		} else if !errors.Is(err, testDef.expectedErr) {
			t.Fatalf("expected %s, got %v", testDef.expectedErr, err)
		}
	}
}

func TestCheckOrderPrice(t *testing.T) {
	testDefs := []struct {
		num         int64
		denom       int64
		consumed    uint64
		output      uint64
		expectedErr error
	}{
		// Price 2/1: 10k in must yield at least 20k out
		{2, 1, 10_000, 20_000, nil},
		{2, 1, 10_000, 19_999, ErrPriceNotMet},
		// Price 1/2: 10k in must yield at least 5k out
		{1, 2, 10_000, 5_000, nil},
		{1, 2, 10_000, 4_999, ErrPriceNotMet},
		// Invalid price
		{1, 0, 10_000, 10_000, ErrPriceNotMet},
	}
	for _, testDef := range testDefs {
		err := checkOrderPrice(
			datum.Rational{Numerator: testDef.num, Denominator: testDef.denom},
			testDef.consumed,
			testDef.output,
		)
		if testDef.expectedErr == nil {
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
		} else if !errors.Is(err, testDef.expectedErr) {
			t.Fatalf("expected %s, got %v", testDef.expectedErr, err)
		}
	}
}

func TestPoolDirection(t *testing.T) {
	assetA := common.AssetClass{PolicyId: []byte{}, Name: []byte{}}
	assetB := common.AssetClass{PolicyId: testKeyHash(0xaa), Name: []byte("USDM")}
	pool := &Pool{
		Datum: datum.PoolDatum{
			AssetA: assetA,
			AssetB: assetB,
		},
		ReserveA: 1_000_000,
		ReserveB: 2_000_000,
	}
	dir, err := pool.Direction(assetA)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if dir != datum.SwapDirectionAToB {
		t.Fatalf("unexpected direction: %d", dir)
	}
	rIn, rOut := pool.Reserves(dir)
	if rIn != 1_000_000 || rOut != 2_000_000 {
		t.Fatalf("unexpected reserves: %d / %d", rIn, rOut)
	}
	dir, err = pool.Direction(assetB)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if dir != datum.SwapDirectionBToA {
		t.Fatalf("unexpected direction: %d", dir)
	}
	rIn, rOut = pool.Reserves(dir)
	if rIn != 2_000_000 || rOut != 1_000_000 {
		t.Fatalf("unexpected reserves: %d / %d", rIn, rOut)
	}
	other := common.AssetClass{PolicyId: testKeyHash(0xbb), Name: []byte("OTHER")}
	if _, err := pool.Direction(other); !errors.Is(err, ErrAssetMismatch) {
		t.Fatalf("expected asset mismatch, got %v", err)
	}
}

func TestPlanBatchFillsSequential(t *testing.T) {
	// Two small escrows both selling asset A; the second gets a slightly
	// worse price because the first moved the reserves
	escrows := []*Escrow{
		testEscrow(0x01, 10_000, 10_000, 19_000, 0),
		testEscrow(0x02, 10_000, 10_000, 19_000, 0),
	}
	plan, err := planBatchFills(1_000_000, 2_000_000, 30, escrows)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(plan.fills) != 2 {
		t.Fatalf("unexpected fill count: %d", len(plan.fills))
	}
	if !plan.fills[0].Complete || !plan.fills[1].Complete {
		t.Fatalf("expected both fills to be complete")
	}
	if plan.fills[0].Output != 19_743 {
		t.Fatalf("unexpected first output: %d", plan.fills[0].Output)
	}
	if plan.fills[1].Output >= plan.fills[0].Output {
		t.Fatalf(
			"second fill should get a worse price: %d >= %d",
			plan.fills[1].Output,
			plan.fills[0].Output,
		)
	}
	if plan.newReserveOut >= 2_000_000 {
		t.Fatalf("output reserve did not decrease")
	}
	if plan.newReserveIn <= 1_000_000 {
		t.Fatalf("input reserve did not increase")
	}
}

func TestPlanBatchFillsPartialFill(t *testing.T) {
	// The second escrow requests more than available liquidity and allows
	// partial fills, so the cap engages
	escrows := []*Escrow{
		testEscrow(0x01, 10_000, 10_000, 19_000, 0),
		testEscrow(0x02, 2_000_000, 2_000_000, 800_000, 3),
	}
	plan, err := planBatchFills(1_000_000, 2_000_000, 30, escrows)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	fill := plan.fills[1]
	if fill.Complete {
		t.Fatalf("expected a partial fill")
	}
	if fill.Consumed == 0 || fill.Consumed >= 2_000_000 {
		t.Fatalf("unexpected consumed amount: %d", fill.Consumed)
	}
	newDatum := applyFill(escrows[1].Datum, fill)
	if newDatum.RemainingInput == 0 {
		t.Fatalf("partial fill should leave remaining input")
	}
	if newDatum.RemainingInput != 2_000_000-fill.Consumed {
		t.Fatalf("unexpected remaining input: %d", newDatum.RemainingInput)
	}
	if newDatum.FillCount != 1 {
		t.Fatalf("unexpected fill count: %d", newDatum.FillCount)
	}
}

func TestPlanBatchFillsInsufficientLiquidity(t *testing.T) {
	// Same oversized request but partial fills are not allowed
	escrows := []*Escrow{
		testEscrow(0x01, 2_000_000, 2_000_000, 0, 0),
	}
	_, err := planBatchFills(1_000_000, 2_000_000, 30, escrows)
	if !errors.Is(err, amm.ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
}

func TestPlanBatchFillsSlippage(t *testing.T) {
	escrows := []*Escrow{
		testEscrow(0x01, 10_000, 10_000, 19_744, 0),
	}
	_, err := planBatchFills(1_000_000, 2_000_000, 30, escrows)
	if !errors.Is(err, ErrSlippage) {
		t.Fatalf("expected slippage error, got %v", err)
	}
}

func TestPlanBatchFillsInvariantNonDecreasing(t *testing.T) {
	escrows := []*Escrow{
		testEscrow(0x01, 10_000, 10_000, 0, 0),
		testEscrow(0x02, 50_000, 50_000, 0, 0),
		testEscrow(0x03, 250_000, 250_000, 0, 0),
	}
	plan, err := planBatchFills(1_000_000, 2_000_000, 30, escrows)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	before := amm.RootK(1_000_000, 2_000_000)
	after := amm.RootK(plan.newReserveIn, plan.newReserveOut)
	if after < before {
		t.Fatalf("invariant decreased: %d -> %d", before, after)
	}
}

func TestPaymentValue(t *testing.T) {
	lovelace, units := paymentValue(common.Lovelace(), 5_000_000)
	if lovelace != 5_000_000 || len(units) != 0 {
		t.Fatalf("unexpected lovelace payment: %d / %d units", lovelace, len(units))
	}
	// Tiny lovelace payments are padded to the minimum
	lovelace, _ = paymentValue(common.Lovelace(), 100)
	if lovelace != minUtxoLovelace {
		t.Fatalf("expected min UTxO lovelace, got %d", lovelace)
	}
	asset := common.AssetClass{PolicyId: testKeyHash(0xaa), Name: []byte("USDM")}
	lovelace, units = paymentValue(asset, 42)
	if lovelace != minUtxoLovelace {
		t.Fatalf("expected min UTxO lovelace, got %d", lovelace)
	}
	if len(units) != 1 {
		t.Fatalf("expected one unit, got %d", len(units))
	}
}
