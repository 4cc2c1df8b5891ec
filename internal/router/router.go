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

// Package router finds execution routes for intents across the available
// liquidity pools: a direct pool for the requested pair, or two hops
// through the base asset when no direct pool exists.
package router

import (
	"fmt"
	"sync"

	"github.com/blinklabs-io/mamba/internal/amm"
	"github.com/blinklabs-io/mamba/internal/common"
)

// PoolState is the quoting snapshot of one pool: identity, pair, and
// reserves as last observed. Quotes derived from it are advisory; the
// transaction builder re-derives reserves from the pool UTxO at build
// time.
type PoolState struct {
	Ref      common.TxOutRef
	Nft      common.AssetClass
	AssetA   common.AssetClass
	AssetB   common.AssetClass
	ReserveA uint64
	ReserveB uint64
	FeeBps   uint64
}

// Quote computes the swap output for the given input against this pool.
// Returns false when the pool does not trade the asset or has no
// usable liquidity for the amount.
func (p *PoolState) Quote(inputAsset common.AssetClass, inputAmount uint64) (uint64, bool) {
	reserveIn, reserveOut, ok := p.reservesFor(inputAsset)
	if !ok {
		return 0, false
	}
	out, err := amm.SwapOutput(reserveIn, reserveOut, inputAmount, p.FeeBps)
	if err != nil || out == 0 {
		return 0, false
	}
	return out, true
}

// OutputAssetFor returns the opposite side of the pair for an input asset
func (p *PoolState) OutputAssetFor(inputAsset common.AssetClass) (common.AssetClass, bool) {
	if inputAsset.Equals(p.AssetA) {
		return p.AssetB, true
	}
	if inputAsset.Equals(p.AssetB) {
		return p.AssetA, true
	}
	return common.AssetClass{}, false
}

func (p *PoolState) reservesFor(inputAsset common.AssetClass) (uint64, uint64, bool) {
	if inputAsset.Equals(p.AssetA) {
		return p.ReserveA, p.ReserveB, true
	}
	if inputAsset.Equals(p.AssetB) {
		return p.ReserveB, p.ReserveA, true
	}
	return 0, 0, false
}

// Hop is one pool traversal within a route
type Hop struct {
	Pool        *PoolState
	InputAsset  common.AssetClass
	OutputAsset common.AssetClass
	Input       uint64
	Output      uint64
}

// Route is an execution plan for one intent: a single direct hop or two
// hops through the intermediate asset
type Route struct {
	InputAsset   common.AssetClass
	OutputAsset  common.AssetClass
	Hops         []Hop
	TotalInput   uint64
	TotalOutput  uint64
	PriceImpact  float64
	IsMultiHop   bool
	Intermediate common.AssetClass
}

// Pool returns the pool of a direct route. Multi-hop routes have no
// single settlement pool and are quoted only.
func (r *Route) Pool() *PoolState {
	if r == nil || r.IsMultiHop || len(r.Hops) != 1 {
		return nil
	}
	return r.Hops[0].Pool
}

// Index holds the current pool set keyed by normalized trading pair.
// Multiple pools may exist for one pair; routing picks whichever quotes
// the best output.
type Index struct {
	pools     map[string][]*PoolState
	baseAsset common.AssetClass
	mu        sync.RWMutex
}

// NewIndex creates an empty pool index routing through the given base asset
func NewIndex(baseAsset common.AssetClass) *Index {
	return &Index{
		pools:     make(map[string][]*PoolState),
		baseAsset: baseAsset,
	}
}

// SetPools replaces the entire pool set with a fresh snapshot
func (idx *Index) SetPools(pools []*PoolState) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.pools = make(map[string][]*PoolState)
	for _, pool := range pools {
		key := idx.pairKey(pool.AssetA, pool.AssetB)
		idx.pools[key] = append(idx.pools[key], pool)
	}
}

// AddPool adds or replaces one pool by its NFT identity
func (idx *Index) AddPool(pool *PoolState) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key := idx.pairKey(pool.AssetA, pool.AssetB)
	for i, existing := range idx.pools[key] {
		if existing.Nft.Equals(pool.Nft) {
			idx.pools[key][i] = pool
			return
		}
	}
	idx.pools[key] = append(idx.pools[key], pool)
}

// RemovePool removes a pool by its NFT identity
func (idx *Index) RemovePool(nft common.AssetClass) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for key, pools := range idx.pools {
		for i, pool := range pools {
			if pool.Nft.Equals(nft) {
				idx.pools[key] = append(pools[:i], pools[i+1:]...)
				if len(idx.pools[key]) == 0 {
					delete(idx.pools, key)
				}
				return
			}
		}
	}
}

// PoolCount returns the number of indexed pools
func (idx *Index) PoolCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	count := 0
	for _, pools := range idx.pools {
		count += len(pools)
	}
	return count
}

// PoolsFor returns the pools trading the given pair in either orientation
func (idx *Index) PoolsFor(a, b common.AssetClass) []*PoolState {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.pools[idx.pairKey(a, b)]
}

// FindRoute returns the best available route for the requested trade, or
// nil when no pool can serve it. An absent route is an expected outcome,
// not an error.
func (idx *Index) FindRoute(
	inputAsset common.AssetClass,
	outputAsset common.AssetClass,
	inputAmount uint64,
) *Route {
	if inputAmount == 0 || inputAsset.Equals(outputAsset) {
		return nil
	}

	direct := idx.findDirectRoute(inputAsset, outputAsset, inputAmount)

	// Two-hop routing only applies when neither side is the base asset;
	// a pair involving the base either has a direct pool or nothing
	if inputAsset.Equals(idx.baseAsset) || outputAsset.Equals(idx.baseAsset) {
		return direct
	}

	twoHop := idx.findTwoHopRoute(inputAsset, outputAsset, inputAmount)
	if direct == nil {
		return twoHop
	}
	if twoHop != nil && twoHop.TotalOutput > direct.TotalOutput {
		return twoHop
	}
	return direct
}

// findDirectRoute quotes every pool for the pair and keeps the best
func (idx *Index) findDirectRoute(
	inputAsset common.AssetClass,
	outputAsset common.AssetClass,
	inputAmount uint64,
) *Route {
	var bestPool *PoolState
	var bestOutput uint64
	for _, pool := range idx.PoolsFor(inputAsset, outputAsset) {
		poolOut, ok := pool.OutputAssetFor(inputAsset)
		if !ok || !poolOut.Equals(outputAsset) {
			continue
		}
		output, ok := pool.Quote(inputAsset, inputAmount)
		if !ok {
			continue
		}
		if output > bestOutput {
			bestOutput = output
			bestPool = pool
		}
	}
	if bestPool == nil {
		return nil
	}
	reserveIn, _, _ := bestPool.reservesFor(inputAsset)
	return &Route{
		InputAsset:  inputAsset,
		OutputAsset: outputAsset,
		Hops: []Hop{
			{
				Pool:        bestPool,
				InputAsset:  inputAsset,
				OutputAsset: outputAsset,
				Input:       inputAmount,
				Output:      bestOutput,
			},
		},
		TotalInput:  inputAmount,
		TotalOutput: bestOutput,
		PriceImpact: amm.PriceImpact(reserveIn, inputAmount, bestPool.FeeBps),
	}
}

// findTwoHopRoute chains input -> base -> output through two pools
func (idx *Index) findTwoHopRoute(
	inputAsset common.AssetClass,
	outputAsset common.AssetClass,
	inputAmount uint64,
) *Route {
	first := idx.findDirectRoute(inputAsset, idx.baseAsset, inputAmount)
	if first == nil {
		return nil
	}
	second := idx.findDirectRoute(idx.baseAsset, outputAsset, first.TotalOutput)
	if second == nil {
		return nil
	}
	return &Route{
		InputAsset:   inputAsset,
		OutputAsset:  outputAsset,
		Hops:         append(first.Hops, second.Hops...),
		TotalInput:   inputAmount,
		TotalOutput:  second.TotalOutput,
		PriceImpact:  first.PriceImpact + second.PriceImpact,
		IsMultiHop:   true,
		Intermediate: idx.baseAsset,
	}
}

// pairKey normalizes a pair so both orientations map to the same bucket.
// The base asset sorts first; otherwise fingerprint order decides.
func (idx *Index) pairKey(a, b common.AssetClass) string {
	first, second := a, b
	if b.Equals(idx.baseAsset) {
		first, second = b, a
	} else if !a.Equals(idx.baseAsset) && a.Fingerprint() > b.Fingerprint() {
		first, second = b, a
	}
	return fmt.Sprintf("%s/%s", first.Fingerprint(), second.Fingerprint())
}
