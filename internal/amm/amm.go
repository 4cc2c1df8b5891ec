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

// Package amm implements the constant-product pool arithmetic used by the
// on-chain validators. All amount math uses integer floor division; any
// divergence from the validator's arithmetic produces transactions the
// network will reject.
package amm

import (
	"errors"
	"math/big"
)

const (
	// FeeDenom is the fee denominator in basis points
	FeeDenom = 10000

	// MinLiquidity is the LP amount burned on pool creation
	MinLiquidity = 1000

	// protocolFeeDivisor is the share of the swap fee accrued to the protocol
	protocolFeeDivisor = 6
)

var (
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	ErrInvalidDeposit        = errors.New("deposit below minimum liquidity")
	ErrInvalidLpAmount       = errors.New("invalid LP token amount")
	ErrInvalidFee            = errors.New("fee must be below 10000 basis points")
	ErrEmptyReserves         = errors.New("pool reserves must be non-zero")
)

// SwapResult holds the outcome of a swap computation
type SwapResult struct {
	// InputConsumed is the input actually consumed (may be less than
	// requested when the fill was capped)
	InputConsumed uint64
	// Output is the amount paid out of the opposite reserve
	Output uint64
	// ProtocolFee is the protocol's share of the swap fee, accrued on the
	// input-side asset
	ProtocolFee uint64
	// Capped indicates the partial-fill path was taken
	Capped bool
}

// SwapOutput computes the constant-product output for a given input.
// effective_in = in * (10000 - feeBps) / 10000
// out = reserveOut * effective_in / (reserveIn + effective_in)
// We have to use big.Int because the intermediate multiplications overflow
// uint64 for realistic reserve sizes.
func SwapOutput(reserveIn, reserveOut, input uint64, feeBps uint64) (uint64, error) {
	if feeBps >= FeeDenom {
		return 0, ErrInvalidFee
	}
	if reserveIn == 0 || reserveOut == 0 {
		return 0, ErrEmptyReserves
	}
	effIn := effectiveInput(input, feeBps)
	bigReserveIn := new(big.Int).SetUint64(reserveIn)
	bigReserveOut := new(big.Int).SetUint64(reserveOut)
	out := new(big.Int).Div(
		new(big.Int).Mul(bigReserveOut, effIn),
		new(big.Int).Add(bigReserveIn, effIn),
	)
	return out.Uint64(), nil
}

// SwapInputForOutput back-solves the input required to produce exactly the
// given output, inverting the swap formula:
// in = reserveIn * out * 10000 / ((reserveOut - out) * (10000 - feeBps))
func SwapInputForOutput(reserveIn, reserveOut, output uint64, feeBps uint64) (uint64, error) {
	if feeBps >= FeeDenom {
		return 0, ErrInvalidFee
	}
	if output >= reserveOut {
		return 0, ErrInsufficientLiquidity
	}
	num := new(big.Int).Mul(
		new(big.Int).Mul(
			new(big.Int).SetUint64(reserveIn),
			new(big.Int).SetUint64(output),
		),
		big.NewInt(FeeDenom),
	)
	den := new(big.Int).Mul(
		new(big.Int).SetUint64(reserveOut-output),
		big.NewInt(FeeDenom-int64(feeBps)),
	)
	in := new(big.Int).Div(num, den)
	if in.Sign() <= 0 {
		return 0, ErrInsufficientLiquidity
	}
	return in.Uint64(), nil
}

// Swap computes a swap against the given reserves, engaging the
// partial-fill path when the computed output would exceed the half of the
// output reserve available to a single fill. When capped, the output is
// limited to half the output reserve, the input consumed is back-solved
// from that cap, and the output is recomputed from the capped input.
// Intents that do not permit partial fills fail instead of capping.
func Swap(reserveIn, reserveOut, input uint64, feeBps uint64, allowPartial bool) (SwapResult, error) {
	out, err := SwapOutput(reserveIn, reserveOut, input, feeBps)
	if err != nil {
		return SwapResult{}, err
	}
	consumed := input
	capped := false
	maxOutput := reserveOut / 2
	if out >= maxOutput {
		if !allowPartial {
			return SwapResult{}, ErrInsufficientLiquidity
		}
		consumed, err = SwapInputForOutput(reserveIn, reserveOut, maxOutput, feeBps)
		if err != nil {
			return SwapResult{}, err
		}
		out, err = SwapOutput(reserveIn, reserveOut, consumed, feeBps)
		if err != nil {
			return SwapResult{}, err
		}
		capped = true
	}
	return SwapResult{
		InputConsumed: consumed,
		Output:        out,
		ProtocolFee:   ProtocolFee(consumed, feeBps),
		Capped:        capped,
	}, nil
}

// ProtocolFee computes the protocol's share of the swap fee:
// (in * feeBps / 10000) / 6, accrued on the input-side asset
func ProtocolFee(input, feeBps uint64) uint64 {
	fee := new(big.Int).Div(
		new(big.Int).Mul(
			new(big.Int).SetUint64(input),
			new(big.Int).SetUint64(feeBps),
		),
		big.NewInt(FeeDenom),
	)
	return new(big.Int).Div(fee, big.NewInt(protocolFeeDivisor)).Uint64()
}

// InitialLpAmount computes the LP tokens minted for the first deposit:
// floor(sqrt(depositA * depositB)) - 1000
func InitialLpAmount(depositA, depositB uint64) (uint64, error) {
	lp := new(big.Int).Sqrt(
		new(big.Int).Mul(
			new(big.Int).SetUint64(depositA),
			new(big.Int).SetUint64(depositB),
		),
	)
	lp.Sub(lp, big.NewInt(MinLiquidity))
	if lp.Sign() <= 0 {
		return 0, ErrInvalidDeposit
	}
	return lp.Uint64(), nil
}

// LpAmount computes the LP tokens minted for a subsequent deposit:
// min(totalLp * depositA / reserveA, totalLp * depositB / reserveB)
func LpAmount(reserveA, reserveB, totalLp, depositA, depositB uint64) (uint64, error) {
	if reserveA == 0 || reserveB == 0 {
		return 0, ErrEmptyReserves
	}
	bigTotal := new(big.Int).SetUint64(totalLp)
	lpA := new(big.Int).Div(
		new(big.Int).Mul(bigTotal, new(big.Int).SetUint64(depositA)),
		new(big.Int).SetUint64(reserveA),
	)
	lpB := new(big.Int).Div(
		new(big.Int).Mul(bigTotal, new(big.Int).SetUint64(depositB)),
		new(big.Int).SetUint64(reserveB),
	)
	lp := lpA
	if lpB.Cmp(lpA) < 0 {
		lp = lpB
	}
	if lp.Sign() <= 0 {
		return 0, ErrInvalidDeposit
	}
	return lp.Uint64(), nil
}

// WithdrawAmounts computes the assets returned for burning LP tokens:
// amountX = floor(reserveX * lpBurned / totalLp) for each side
func WithdrawAmounts(reserveA, reserveB, totalLp, lpBurned uint64) (uint64, uint64, error) {
	if lpBurned == 0 || lpBurned > totalLp {
		return 0, 0, ErrInvalidLpAmount
	}
	bigBurned := new(big.Int).SetUint64(lpBurned)
	bigTotal := new(big.Int).SetUint64(totalLp)
	amountA := new(big.Int).Div(
		new(big.Int).Mul(new(big.Int).SetUint64(reserveA), bigBurned),
		bigTotal,
	)
	amountB := new(big.Int).Div(
		new(big.Int).Mul(new(big.Int).SetUint64(reserveB), bigBurned),
		bigTotal,
	)
	return amountA.Uint64(), amountB.Uint64(), nil
}

// RootK computes the pool invariant floor(sqrt(reserveA * reserveB)). The
// validator requires this value to be non-decreasing across every
// fee-bearing operation, so it must be recomputed and supplied in the new
// pool datum after any reserve mutation.
func RootK(reserveA, reserveB uint64) uint64 {
	return new(big.Int).Sqrt(
		new(big.Int).Mul(
			new(big.Int).SetUint64(reserveA),
			new(big.Int).SetUint64(reserveB),
		),
	).Uint64()
}

// PriceImpact returns effective_in / (reserveIn + effective_in) as a
// fraction. Quoting only, never used in amount computations.
func PriceImpact(reserveIn, input uint64, feeBps uint64) float64 {
	effIn := effectiveInput(input, feeBps)
	den := new(big.Int).Add(new(big.Int).SetUint64(reserveIn), effIn)
	if den.Sign() == 0 {
		return 0
	}
	impact, _ := new(big.Float).Quo(
		new(big.Float).SetInt(effIn),
		new(big.Float).SetInt(den),
	).Float64()
	return impact
}

func effectiveInput(input, feeBps uint64) *big.Int {
	return new(big.Int).Div(
		new(big.Int).Mul(
			new(big.Int).SetUint64(input),
			new(big.Int).SetUint64(FeeDenom-feeBps),
		),
		big.NewInt(FeeDenom),
	)
}
