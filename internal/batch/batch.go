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

// Package batch groups routed intents into settlement batches. A batch
// targets exactly one pool UTxO and one swap direction; the totals and
// surplus computed here feed the solver's profitability gate. Everything
// in this package is pure and synchronous.
package batch

import (
	"fmt"
	"sort"

	"github.com/blinklabs-io/mamba/internal/amm"
	"github.com/blinklabs-io/mamba/internal/datum"
	"github.com/blinklabs-io/mamba/internal/router"
	"github.com/blinklabs-io/mamba/internal/txbuilder"
)

// Candidate pairs an active escrow with the route found for it
type Candidate struct {
	Escrow *txbuilder.Escrow
	Route  *router.Route
}

// Batch is an ephemeral settlement group for one solver iteration
type Batch struct {
	Pool      *router.PoolState
	Direction datum.SwapDirection
	Escrows   []*txbuilder.Escrow

	// Aggregate totals from walking the batch sequentially against the
	// pool reserves
	TotalInput  uint64
	TotalOutput uint64

	// NaiveOutput is the sum of each intent quoted independently against
	// the starting reserves; the gap to TotalOutput is the price-impact
	// cost of sharing one pool UTxO
	NaiveOutput uint64

	// Surplus is the solver's profit from batching, in lovelace: the
	// network fees saved by settling n intents in one transaction
	// instead of n
	Surplus int64
}

// Key identifies the batch's pool and direction
func (b *Batch) Key() string {
	return fmt.Sprintf("%s/%d", b.Pool.Nft.Fingerprint(), b.Direction)
}

// Build groups the candidates into per-pool, per-direction batches.
// Candidates without a direct single-pool route are skipped (two-hop
// routes are quote-only), as are intents the pool cannot fill at all.
// txFee is the estimated per-transaction network fee used for the
// surplus computation.
func Build(candidates []Candidate, txFee uint64) []*Batch {
	groups := make(map[string]*Batch)
	var keys []string
	for _, candidate := range candidates {
		pool := candidate.Route.Pool()
		if pool == nil {
			continue
		}
		direction, ok := swapDirection(pool, candidate.Escrow)
		if !ok {
			continue
		}
		key := fmt.Sprintf("%s/%d", pool.Nft.Fingerprint(), direction)
		group, exists := groups[key]
		if !exists {
			group = &Batch{
				Pool:      pool,
				Direction: direction,
			}
			groups[key] = group
			keys = append(keys, key)
		}
		group.Escrows = append(group.Escrows, candidate.Escrow)
	}

	// Deterministic batch order regardless of map iteration
	sort.Strings(keys)

	ret := make([]*Batch, 0, len(groups))
	for _, key := range keys {
		group := groups[key]
		computeTotals(group, txFee)
		if len(group.Escrows) > 0 {
			ret = append(ret, group)
		}
	}
	return ret
}

// computeTotals walks the batch sequentially against the pool reserves,
// dropping escrows that cannot fill, and fills in the aggregate totals
func computeTotals(b *Batch, txFee uint64) {
	reserveIn, reserveOut := poolReserves(b.Pool, b.Direction)
	startReserveIn, startReserveOut := reserveIn, reserveOut

	kept := make([]*txbuilder.Escrow, 0, len(b.Escrows))
	for _, escrow := range b.Escrows {
		res, err := amm.Swap(
			reserveIn,
			reserveOut,
			escrow.Datum.RemainingInput,
			b.Pool.FeeBps,
			escrow.Datum.AllowsPartialFill(),
		)
		if err != nil {
			continue
		}
		naive, err := amm.SwapOutput(
			startReserveIn,
			startReserveOut,
			res.InputConsumed,
			b.Pool.FeeBps,
		)
		if err != nil {
			continue
		}
		kept = append(kept, escrow)
		b.TotalInput += res.InputConsumed
		b.TotalOutput += res.Output
		b.NaiveOutput += naive
		reserveIn += res.InputConsumed - res.ProtocolFee
		reserveOut -= res.Output
	}
	b.Escrows = kept

	if len(b.Escrows) > 1 {
		b.Surplus = int64(len(b.Escrows)-1) * int64(txFee)
	}
}

// swapDirection compares the escrow's input asset to the pool's pair
func swapDirection(
	pool *router.PoolState,
	escrow *txbuilder.Escrow,
) (datum.SwapDirection, bool) {
	if escrow.Datum.InputAsset.Equals(pool.AssetA) {
		return datum.SwapDirectionAToB, true
	}
	if escrow.Datum.InputAsset.Equals(pool.AssetB) {
		return datum.SwapDirectionBToA, true
	}
	return 0, false
}

func poolReserves(
	pool *router.PoolState,
	direction datum.SwapDirection,
) (uint64, uint64) {
	if direction == datum.SwapDirectionAToB {
		return pool.ReserveA, pool.ReserveB
	}
	return pool.ReserveB, pool.ReserveA
}
