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

package solver

import (
	"context"
	"sort"
	"sync"

	"github.com/blinklabs-io/mamba/internal/common"
	"github.com/blinklabs-io/mamba/internal/router"
	"github.com/blinklabs-io/mamba/internal/txbuilder"
)

// IntentStatus is the off-chain lifecycle state of an intent or order
type IntentStatus string

const (
	StatusActive          IntentStatus = "ACTIVE"
	StatusFilling         IntentStatus = "FILLING"
	StatusFilled          IntentStatus = "FILLED"
	StatusPartiallyFilled IntentStatus = "PARTIALLY_FILLED"
	StatusCancelled       IntentStatus = "CANCELLED"
	StatusExpired         IntentStatus = "EXPIRED"
	StatusReclaimed       IntentStatus = "RECLAIMED"
)

// Terminal reports whether the status can never change again
func (s IntentStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusReclaimed:
		return true
	}
	return false
}

// IntentRepo is the repository port for escrowed intents. The engine
// reads the active set each iteration and drives status transitions;
// it never creates intents itself.
type IntentRepo interface {
	ActiveIntents() ([]*txbuilder.Escrow, error)
	SetStatus(ref common.TxOutRef, status IntentStatus) error
	RecordFill(fill txbuilder.EscrowFill) error
}

// OrderRepo is the repository port for advanced orders
type OrderRepo interface {
	ActiveOrders() ([]*txbuilder.Order, error)
	RecordExecution(
		ref common.TxOutRef,
		consumed uint64,
		output uint64,
		complete bool,
	) error
}

// PoolRepo is the repository port for the pool mirror. UpdateReserves is
// the optimistic mirror write after a confirmed settlement; Refresh
// re-reads one pool from chain state before a retry.
type PoolRepo interface {
	ActivePools() ([]*router.PoolState, error)
	UpdateReserves(nft common.AssetClass, reserveA, reserveB uint64) error
	Refresh(ctx context.Context, ref common.TxOutRef) error
}

// Notifier is the fire-and-forget notification sink
type Notifier interface {
	IntentStatus(ref common.TxOutRef, status IntentStatus)
	PoolReserves(nft common.AssetClass, reserveA, reserveB uint64)
}

// SettlementBuilder builds the solver-signed transactions. Implementations
// load the referenced pool/escrow/order UTxOs at build time so the
// transaction is always constructed against current chain state.
type SettlementBuilder interface {
	SettleBatch(
		poolRef common.TxOutRef,
		escrows []*txbuilder.Escrow,
	) (*txbuilder.SettleResult, error)
	ExecuteOrder(
		orderRef common.TxOutRef,
		poolRef common.TxOutRef,
	) (*txbuilder.OrderExecResult, error)
	Reclaim(escrowRef common.TxOutRef) (*txbuilder.BuiltTx, error)
}

// ChainClient submits transactions and waits for confirmation
type ChainClient interface {
	Submit(ctx context.Context, txRawBytes []byte) error
	AwaitConfirmation(ctx context.Context, txHash string) error
}

// txSettler adapts the transaction builder to the SettlementBuilder port
type txSettler struct {
	builder *txbuilder.Builder
}

// NewTxSettler wraps a wallet-capable transaction builder
func NewTxSettler(builder *txbuilder.Builder) SettlementBuilder {
	return &txSettler{builder: builder}
}

func (s *txSettler) SettleBatch(
	poolRef common.TxOutRef,
	escrows []*txbuilder.Escrow,
) (*txbuilder.SettleResult, error) {
	// Re-derive pool state from the UTxO, never from the mirror
	pool, err := s.builder.LoadPool(poolRef)
	if err != nil {
		return nil, err
	}
	return s.builder.BuildSettleBatch(pool, escrows)
}

func (s *txSettler) ExecuteOrder(
	orderRef common.TxOutRef,
	poolRef common.TxOutRef,
) (*txbuilder.OrderExecResult, error) {
	pool, err := s.builder.LoadPool(poolRef)
	if err != nil {
		return nil, err
	}
	return s.builder.BuildExecuteOrder(orderRef, pool)
}

func (s *txSettler) Reclaim(escrowRef common.TxOutRef) (*txbuilder.BuiltTx, error) {
	return s.builder.BuildReclaim(escrowRef)
}

// MemoryIntents is an in-memory IntentRepo fed by the indexer
type MemoryIntents struct {
	intents  map[string]*trackedIntent
	statuses map[string]IntentStatus
	mu       sync.RWMutex
}

type trackedIntent struct {
	escrow *txbuilder.Escrow
}

// NewMemoryIntents creates an empty intent store
func NewMemoryIntents() *MemoryIntents {
	return &MemoryIntents{
		intents:  make(map[string]*trackedIntent),
		statuses: make(map[string]IntentStatus),
	}
}

// Put adds or replaces an intent, marking it ACTIVE unless it already
// holds a terminal status
func (m *MemoryIntents) Put(escrow *txbuilder.Escrow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := escrow.Ref.String()
	m.intents[key] = &trackedIntent{escrow: escrow}
	if !m.statuses[key].Terminal() {
		m.statuses[key] = StatusActive
	}
}

// Remove drops an intent, as when its UTxO is consumed on-chain
func (m *MemoryIntents) Remove(ref common.TxOutRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.intents, ref.String())
	delete(m.statuses, ref.String())
}

func (m *MemoryIntents) ActiveIntents() ([]*txbuilder.Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key, status := range m.statuses {
		if status == StatusActive {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	ret := make([]*txbuilder.Escrow, 0, len(keys))
	for _, key := range keys {
		if tracked, ok := m.intents[key]; ok {
			ret = append(ret, tracked.escrow)
		}
	}
	return ret, nil
}

func (m *MemoryIntents) SetStatus(ref common.TxOutRef, status IntentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[ref.String()] = status
	return nil
}

// Status returns the current status of an intent
func (m *MemoryIntents) Status(ref common.TxOutRef) IntentStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[ref.String()]
}

func (m *MemoryIntents) RecordFill(fill txbuilder.EscrowFill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tracked, ok := m.intents[fill.Ref.String()]
	if !ok {
		return nil
	}
	newDatum := tracked.escrow.Datum
	newDatum.RemainingInput -= fill.Consumed
	newDatum.FillCount++
	tracked.escrow = &txbuilder.Escrow{
		Ref:   tracked.escrow.Ref,
		Datum: newDatum,
	}
	return nil
}

// MemoryOrders is an in-memory OrderRepo fed by the indexer
type MemoryOrders struct {
	orders map[string]*txbuilder.Order
	mu     sync.RWMutex
}

// NewMemoryOrders creates an empty order store
func NewMemoryOrders() *MemoryOrders {
	return &MemoryOrders{
		orders: make(map[string]*txbuilder.Order),
	}
}

// Put adds or replaces an order
func (m *MemoryOrders) Put(order *txbuilder.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.Ref.String()] = order
}

// Remove drops an order
func (m *MemoryOrders) Remove(ref common.TxOutRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, ref.String())
}

func (m *MemoryOrders) ActiveOrders() ([]*txbuilder.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.orders {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	ret := make([]*txbuilder.Order, 0, len(keys))
	for _, key := range keys {
		ret = append(ret, m.orders[key])
	}
	return ret, nil
}

func (m *MemoryOrders) RecordExecution(
	ref common.TxOutRef,
	consumed uint64,
	output uint64,
	complete bool,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if complete {
		delete(m.orders, ref.String())
		return nil
	}
	if order, ok := m.orders[ref.String()]; ok {
		newDatum := order.Datum
		newDatum.RemainingBudget -= consumed
		m.orders[ref.String()] = &txbuilder.Order{
			Ref:   order.Ref,
			Datum: newDatum,
		}
	}
	return nil
}

// PoolLoader loads fresh pool state from chain data, typically
// txbuilder.Builder.LoadPool
type PoolLoader func(ref common.TxOutRef) (*txbuilder.Pool, error)

// MemoryPools is an in-memory PoolRepo fed by the indexer
type MemoryPools struct {
	pools  map[string]*router.PoolState
	loader PoolLoader
	mu     sync.RWMutex
}

// NewMemoryPools creates an empty pool mirror. The loader is optional;
// without one, Refresh is a no-op.
func NewMemoryPools(loader PoolLoader) *MemoryPools {
	return &MemoryPools{
		pools:  make(map[string]*router.PoolState),
		loader: loader,
	}
}

// Put adds or replaces a pool by NFT identity
func (m *MemoryPools) Put(pool *router.PoolState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[pool.Nft.Fingerprint()] = pool
}

// Remove drops a pool
func (m *MemoryPools) Remove(nft common.AssetClass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pools, nft.Fingerprint())
}

func (m *MemoryPools) ActivePools() ([]*router.PoolState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.pools {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	ret := make([]*router.PoolState, 0, len(keys))
	for _, key := range keys {
		ret = append(ret, m.pools[key])
	}
	return ret, nil
}

func (m *MemoryPools) UpdateReserves(
	nft common.AssetClass,
	reserveA uint64,
	reserveB uint64,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[nft.Fingerprint()]
	if !ok {
		return nil
	}
	updated := *pool
	updated.ReserveA = reserveA
	updated.ReserveB = reserveB
	m.pools[nft.Fingerprint()] = &updated
	return nil
}

func (m *MemoryPools) Refresh(ctx context.Context, ref common.TxOutRef) error {
	if m.loader == nil {
		return nil
	}
	pool, err := m.loader(ref)
	if err != nil {
		return err
	}
	m.Put(&router.PoolState{
		Ref:      pool.Ref,
		Nft:      pool.Datum.PoolNft,
		AssetA:   pool.Datum.AssetA,
		AssetB:   pool.Datum.AssetB,
		ReserveA: pool.ReserveA,
		ReserveB: pool.ReserveB,
		FeeBps:   pool.Datum.FeeBps,
	})
	return nil
}
