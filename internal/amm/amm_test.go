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

package amm

import (
	"errors"
	"testing"
)

func TestSwapOutputHandComputed(t *testing.T) {
	// rA=1,000,000, rB=2,000,000, fee=30bps, 10,000 A in
	// effective_in = 10000 * 9970 / 10000 = 9970
	// out = 2000000 * 9970 / (1000000 + 9970) = 19940000000 / 1009970 = 19743
	out, err := SwapOutput(1_000_000, 2_000_000, 10_000, 30)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if out != 19743 {
		t.Fatalf("expected output 19743, got %d", out)
	}
}

func TestSwapOutputNeverDrainsReserve(t *testing.T) {
	cases := []struct {
		reserveIn  uint64
		reserveOut uint64
		input      uint64
		feeBps     uint64
	}{
		{1_000_000, 2_000_000, 10_000, 30},
		{1_000_000, 2_000_000, 100_000_000_000, 30},
		{1, 1, 1_000_000_000, 0},
		{123_456_789, 987_654_321, 555_555_555, 9999},
		{1_000_000_000_000, 1_000_000_000_000, 1_000_000_000_000_000, 100},
	}
	for _, c := range cases {
		out, err := SwapOutput(c.reserveIn, c.reserveOut, c.input, c.feeBps)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if out >= c.reserveOut {
			t.Errorf(
				"swap output %d >= reserve %d for input %d",
				out, c.reserveOut, c.input,
			)
		}
	}
}

func TestSwapOutputInvalidFee(t *testing.T) {
	if _, err := SwapOutput(1000, 1000, 10, 10000); !errors.Is(err, ErrInvalidFee) {
		t.Errorf("expected ErrInvalidFee, got %v", err)
	}
}

func TestSwapInputForOutputRoundTrip(t *testing.T) {
	// Recomputing the output from a back-solved input never exceeds the
	// requested output and loses only integer rounding
	reserveIn := uint64(1_000_000)
	reserveOut := uint64(2_000_000)
	feeBps := uint64(30)
	for _, want := range []uint64{19743, 100_000, 500_000, 999_999} {
		in, err := SwapInputForOutput(reserveIn, reserveOut, want, feeBps)
		if err != nil {
			t.Fatalf("unexpected error for output %d: %s", want, err)
		}
		got, err := SwapOutput(reserveIn, reserveOut, in, feeBps)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if got > want {
			t.Errorf(
				"back-solved input %d produced %d, more than requested %d",
				in, got, want,
			)
		}
		// Allow a small floor-rounding loss
		if want-got > want/1000+3 {
			t.Errorf(
				"back-solved input %d produced %d, too far below %d",
				in, got, want,
			)
		}
	}
}

func TestSwapInputForOutputExceedsReserve(t *testing.T) {
	_, err := SwapInputForOutput(1000, 1000, 1000, 30)
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestSwapPartialFillCap(t *testing.T) {
	// Large swap against a small pool engages the capping path
	res, err := Swap(1_000_000, 2_000_000, 10_000_000, 30, true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !res.Capped {
		t.Fatal("expected capped fill")
	}
	if res.Output > 1_000_000 {
		t.Errorf("capped output %d exceeds half reserve", res.Output)
	}
	if res.InputConsumed >= 10_000_000 {
		t.Errorf(
			"capped fill should consume less than requested, consumed %d",
			res.InputConsumed,
		)
	}
}

func TestSwapPartialFillNotAllowed(t *testing.T) {
	_, err := Swap(1_000_000, 2_000_000, 10_000_000, 30, false)
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestSwapSmallFillNotCapped(t *testing.T) {
	res, err := Swap(1_000_000, 2_000_000, 10_000, 30, true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if res.Capped {
		t.Error("expected uncapped fill for small input")
	}
	if res.InputConsumed != 10_000 {
		t.Errorf("expected full input consumed, got %d", res.InputConsumed)
	}
	if res.Output != 19743 {
		t.Errorf("expected output 19743, got %d", res.Output)
	}
}

func TestProtocolFee(t *testing.T) {
	// (10000 * 30 / 10000) / 6 = 30 / 6 = 5
	if fee := ProtocolFee(10_000, 30); fee != 5 {
		t.Errorf("expected protocol fee 5, got %d", fee)
	}
	// Floor division: (100 * 30 / 10000) = 0
	if fee := ProtocolFee(100, 30); fee != 0 {
		t.Errorf("expected protocol fee 0, got %d", fee)
	}
}

func TestRootKNonDecreasingAfterSwap(t *testing.T) {
	reserveA := uint64(1_000_000)
	reserveB := uint64(2_000_000)
	feeBps := uint64(30)
	before := RootK(reserveA, reserveB)
	res, err := Swap(reserveA, reserveB, 10_000, feeBps, true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	after := RootK(reserveA+res.InputConsumed, reserveB-res.Output)
	if after < before {
		t.Errorf("root K decreased: %d -> %d", before, after)
	}
}

func TestInitialLpAmount(t *testing.T) {
	// floor(sqrt(1000000 * 4000000)) - 1000 = 2000000 - 1000
	lp, err := InitialLpAmount(1_000_000, 4_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if lp != 1_999_000 {
		t.Errorf("expected 1999000 LP, got %d", lp)
	}
}

func TestInitialLpAmountTooSmall(t *testing.T) {
	_, err := InitialLpAmount(10, 10)
	if !errors.Is(err, ErrInvalidDeposit) {
		t.Errorf("expected ErrInvalidDeposit, got %v", err)
	}
}

func TestLpAmountProportional(t *testing.T) {
	// Depositing 10% of each reserve mints 10% of supply
	lp, err := LpAmount(1_000_000, 2_000_000, 500_000, 100_000, 200_000)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if lp != 50_000 {
		t.Errorf("expected 50000 LP, got %d", lp)
	}
}

func TestLpAmountUnbalancedTakesMin(t *testing.T) {
	// Excess on one side is ignored
	lp, err := LpAmount(1_000_000, 2_000_000, 500_000, 100_000, 900_000)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if lp != 50_000 {
		t.Errorf("expected 50000 LP, got %d", lp)
	}
}

func TestWithdrawAmounts(t *testing.T) {
	amountA, amountB, err := WithdrawAmounts(1_000_000, 2_000_000, 500_000, 50_000)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if amountA != 100_000 || amountB != 200_000 {
		t.Errorf("expected (100000, 200000), got (%d, %d)", amountA, amountB)
	}
}

func TestWithdrawAmountsInvalid(t *testing.T) {
	if _, _, err := WithdrawAmounts(1000, 1000, 100, 0); !errors.Is(err, ErrInvalidLpAmount) {
		t.Errorf("expected ErrInvalidLpAmount for zero burn, got %v", err)
	}
	if _, _, err := WithdrawAmounts(1000, 1000, 100, 101); !errors.Is(err, ErrInvalidLpAmount) {
		t.Errorf("expected ErrInvalidLpAmount for excess burn, got %v", err)
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	// Deposit then immediately withdraw the same share returns the
	// original amounts minus integer-rounding loss only, never more
	reserveA := uint64(1_000_003)
	reserveB := uint64(2_000_007)
	totalLp := uint64(1_400_000)
	depositA := uint64(33_333)
	depositB := uint64(66_667)
	lp, err := LpAmount(reserveA, reserveB, totalLp, depositA, depositB)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	amountA, amountB, err := WithdrawAmounts(
		reserveA+depositA,
		reserveB+depositB,
		totalLp+lp,
		lp,
	)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if amountA > depositA {
		t.Errorf("withdrawal returned more A than deposited: %d > %d", amountA, depositA)
	}
	if amountB > depositB {
		t.Errorf("withdrawal returned more B than deposited: %d > %d", amountB, depositB)
	}
}

func TestPriceImpact(t *testing.T) {
	impact := PriceImpact(1_000_000, 10_000, 30)
	if impact <= 0 || impact >= 1 {
		t.Errorf("expected impact in (0, 1), got %f", impact)
	}
	// effective_in = 9970; 9970 / 1009970 ~= 0.00987
	if impact < 0.009 || impact > 0.011 {
		t.Errorf("impact outside expected range: %f", impact)
	}
}
