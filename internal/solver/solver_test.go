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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/mamba/internal/common"
	"github.com/blinklabs-io/mamba/internal/datum"
	"github.com/blinklabs-io/mamba/internal/router"
	"github.com/blinklabs-io/mamba/internal/txbuilder"
)

var (
	testLovelace = common.Lovelace()
	testTokenX   = common.AssetClass{PolicyId: []byte{0x01}, Name: []byte("TOKX")}
)

func testConfig() Config {
	return Config{
		Interval:       time.Second,
		MaxRetries:     3,
		MinSurplus:     0,
		ConfirmTimeout: 50 * time.Millisecond,
		BackoffMin:     time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		MaxBatchSize:   8,
		TxFee:          500_000,
		BaseAsset:      testLovelace,
	}
}

func testRef(marker byte) common.TxOutRef {
	txHash := make([]byte, 32)
	txHash[0] = marker
	return common.TxOutRef{TxHash: txHash, Index: 0}
}

func testEscrow(marker byte, remaining uint64, deadline int64) *txbuilder.Escrow {
	keyHash := make([]byte, 28)
	keyHash[0] = marker
	return &txbuilder.Escrow{
		Ref: testRef(marker),
		Datum: datum.EscrowDatum{
			Owner:          datum.NewPubKeyAddress(keyHash),
			InputAsset:     testLovelace,
			InputAmount:    remaining,
			OutputAsset:    testTokenX,
			MinOutput:      1,
			Deadline:       deadline,
			RemainingInput: remaining,
			TokenName:      keyHash,
		},
	}
}

func futureDeadline() int64 {
	return time.Now().Add(time.Hour).UnixMilli()
}

func testPoolState() *router.PoolState {
	return &router.PoolState{
		Ref: testRef(0xf0),
		Nft: common.AssetClass{
			PolicyId: []byte{0xff},
			Name:     []byte("NFT"),
		},
		AssetA:   testLovelace,
		AssetB:   testTokenX,
		ReserveA: 1_000_000,
		ReserveB: 2_000_000,
		FeeBps:   30,
	}
}

// fakeBuilder returns canned results and counts calls
type fakeBuilder struct {
	settleErr  error
	settleErrs []error // Per-attempt errors, takes precedence when set
	orderErr   error
	reclaimErr error

	settleCalls  int
	orderCalls   int
	reclaimCalls int
	mu           sync.Mutex
}

func (f *fakeBuilder) SettleBatch(
	poolRef common.TxOutRef,
	escrows []*txbuilder.Escrow,
) (*txbuilder.SettleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt := f.settleCalls
	f.settleCalls++
	if len(f.settleErrs) > 0 {
		if attempt < len(f.settleErrs) && f.settleErrs[attempt] != nil {
			return nil, f.settleErrs[attempt]
		}
	} else if f.settleErr != nil {
		return nil, f.settleErr
	}
	fills := make([]txbuilder.EscrowFill, 0, len(escrows))
	for _, escrow := range escrows {
		fills = append(fills, txbuilder.EscrowFill{
			Ref:      escrow.Ref,
			Consumed: escrow.Datum.RemainingInput,
			Output:   escrow.Datum.RemainingInput * 2,
			Complete: true,
		})
	}
	return &txbuilder.SettleResult{
		Tx: &txbuilder.BuiltTx{
			TxBytes: []byte{0x84},
			TxHash:  fmt.Sprintf("settle%d", attempt),
			Signed:  true,
		},
		Fills:       fills,
		Direction:   datum.SwapDirectionAToB,
		NewReserveA: 1_020_000,
		NewReserveB: 1_960_000,
	}, nil
}

func (f *fakeBuilder) ExecuteOrder(
	orderRef common.TxOutRef,
	poolRef common.TxOutRef,
) (*txbuilder.OrderExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	return &txbuilder.OrderExecResult{
		Tx: &txbuilder.BuiltTx{
			TxBytes: []byte{0x84},
			TxHash:  "order0",
			Signed:  true,
		},
		Consumed:    10_000,
		Output:      19_000,
		Complete:    false,
		NewReserveA: 1_010_000,
		NewReserveB: 1_981_000,
	}, nil
}

func (f *fakeBuilder) Reclaim(escrowRef common.TxOutRef) (*txbuilder.BuiltTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaimCalls++
	if f.reclaimErr != nil {
		return nil, f.reclaimErr
	}
	return &txbuilder.BuiltTx{TxBytes: []byte{0x84}, TxHash: "reclaim0"}, nil
}

// fakeChain answers submissions/confirmations from error queues
type fakeChain struct {
	submitErrs  []error
	confirmErrs []error

	submitCalls  int
	confirmCalls int
	mu           sync.Mutex
}

func (f *fakeChain) Submit(ctx context.Context, txRawBytes []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.submitCalls
	f.submitCalls++
	if call < len(f.submitErrs) {
		return f.submitErrs[call]
	}
	return nil
}

func (f *fakeChain) AwaitConfirmation(ctx context.Context, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.confirmCalls
	f.confirmCalls++
	if call < len(f.confirmErrs) {
		return f.confirmErrs[call]
	}
	return nil
}

// fakeNotifier records emitted events
type fakeNotifier struct {
	statuses []IntentStatus
	reserves int
	mu       sync.Mutex
}

func (f *fakeNotifier) IntentStatus(ref common.TxOutRef, status IntentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

func (f *fakeNotifier) PoolReserves(nft common.AssetClass, reserveA, reserveB uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves++
}

type testHarness struct {
	engine   *Engine
	intents  *MemoryIntents
	orders   *MemoryOrders
	pools    *MemoryPools
	builder  *fakeBuilder
	chain    *fakeChain
	notifier *fakeNotifier
}

func newHarness(cfg Config) *testHarness {
	h := &testHarness{
		intents:  NewMemoryIntents(),
		orders:   NewMemoryOrders(),
		pools:    NewMemoryPools(nil),
		builder:  &fakeBuilder{},
		chain:    &fakeChain{},
		notifier: &fakeNotifier{},
	}
	h.engine = New(cfg, h.intents, h.orders, h.pools, h.builder, h.chain, h.notifier)
	return h
}

func TestIterationSettlesBatch(t *testing.T) {
	h := newHarness(testConfig())
	h.pools.Put(testPoolState())
	escrow1 := testEscrow(0x01, 10_000, futureDeadline())
	escrow2 := testEscrow(0x02, 10_000, futureDeadline())
	h.intents.Put(escrow1)
	h.intents.Put(escrow2)

	h.engine.RunIteration(context.Background())

	assert.Equal(t, 1, h.builder.settleCalls)
	assert.Equal(t, 1, h.chain.submitCalls)
	assert.Equal(t, StatusFilled, h.intents.Status(escrow1.Ref))
	assert.Equal(t, StatusFilled, h.intents.Status(escrow2.Ref))
	assert.Equal(t, 1, h.notifier.reserves)

	// Mirror reflects the settlement reserves
	pools, err := h.pools.ActivePools()
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, uint64(1_020_000), pools[0].ReserveA)
	assert.Equal(t, uint64(1_960_000), pools[0].ReserveB)
}

func TestBuildFailureLeavesIntentsActive(t *testing.T) {
	h := newHarness(testConfig())
	h.pools.Put(testPoolState())
	escrow := testEscrow(0x01, 10_000, futureDeadline())
	h.intents.Put(escrow)
	h.builder.settleErr = errors.New("missing utxo")

	h.engine.RunIteration(context.Background())

	// Build failed on every attempt: nothing was submitted and no status
	// ever left ACTIVE
	assert.Equal(t, 3, h.builder.settleCalls)
	assert.Equal(t, 0, h.chain.submitCalls)
	assert.Equal(t, StatusActive, h.intents.Status(escrow.Ref))
	for _, status := range h.notifier.statuses {
		assert.NotEqual(t, StatusFilled, status)
	}
}

func TestRejectionRevertsAndRetries(t *testing.T) {
	h := newHarness(testConfig())
	h.pools.Put(testPoolState())
	escrow := testEscrow(0x01, 10_000, futureDeadline())
	h.intents.Put(escrow)
	// First submission rejected, second accepted
	h.chain.submitErrs = []error{errors.New("rejected")}

	h.engine.RunIteration(context.Background())

	assert.Equal(t, 2, h.builder.settleCalls)
	assert.Equal(t, 2, h.chain.submitCalls)
	assert.Equal(t, StatusFilled, h.intents.Status(escrow.Ref))
	// The FILLING -> ACTIVE revert was observable before the second attempt
	assert.Contains(t, h.notifier.statuses, StatusActive)
}

func TestRejectionExhaustsRetries(t *testing.T) {
	h := newHarness(testConfig())
	h.pools.Put(testPoolState())
	escrow := testEscrow(0x01, 10_000, futureDeadline())
	h.intents.Put(escrow)
	h.chain.submitErrs = []error{
		errors.New("rejected"),
		errors.New("rejected"),
		errors.New("rejected"),
	}

	h.engine.RunIteration(context.Background())

	assert.Equal(t, 3, h.chain.submitCalls)
	assert.Equal(t, StatusActive, h.intents.Status(escrow.Ref))
	for _, status := range h.notifier.statuses {
		assert.NotEqual(t, StatusFilled, status)
	}
}

func TestConfirmationTimeoutRevertsWithoutRetry(t *testing.T) {
	h := newHarness(testConfig())
	h.pools.Put(testPoolState())
	escrow := testEscrow(0x01, 10_000, futureDeadline())
	h.intents.Put(escrow)
	h.chain.confirmErrs = []error{errors.New("confirmation timeout")}

	h.engine.RunIteration(context.Background())

	// One build, one submission, no retry after the timeout
	assert.Equal(t, 1, h.builder.settleCalls)
	assert.Equal(t, 1, h.chain.submitCalls)
	assert.Equal(t, StatusActive, h.intents.Status(escrow.Ref))

	// The next iteration must not resubmit against the same pool UTxO
	// while the window is open
	h.engine.RunIteration(context.Background())
	assert.Equal(t, 1, h.chain.submitCalls)
}

func TestProfitabilityGate(t *testing.T) {
	cfg := testConfig()
	cfg.MinSurplus = 10_000_000
	h := newHarness(cfg)
	h.pools.Put(testPoolState())
	h.intents.Put(testEscrow(0x01, 10_000, futureDeadline()))
	h.intents.Put(testEscrow(0x02, 10_000, futureDeadline()))

	h.engine.RunIteration(context.Background())

	// Two intents save one tx fee, well under the threshold
	assert.Equal(t, 0, h.builder.settleCalls)
	assert.Equal(t, 0, h.chain.submitCalls)
	assert.Equal(t, StatusActive, h.intents.Status(testRef(0x01)))
}

func TestUnroutableIntentSkipped(t *testing.T) {
	h := newHarness(testConfig())
	h.pools.Put(testPoolState())
	escrow := testEscrow(0x01, 10_000, futureDeadline())
	// An asset no pool trades
	escrow.Datum.InputAsset = common.AssetClass{
		PolicyId: []byte{0x99},
		Name:     []byte("NOPE"),
	}
	h.intents.Put(escrow)

	h.engine.RunIteration(context.Background())

	assert.Equal(t, 0, h.builder.settleCalls)
	assert.Equal(t, StatusActive, h.intents.Status(escrow.Ref))
}

func TestOrderNotRipeBuildsNoTransaction(t *testing.T) {
	h := newHarness(testConfig())
	h.pools.Put(testPoolState())
	h.builder.orderErr = fmt.Errorf(
		"execute-order: %w",
		txbuilder.ErrOrderNotRipe,
	)
	keyHash := make([]byte, 28)
	h.orders.Put(&txbuilder.Order{
		Ref: testRef(0x11),
		Datum: datum.OrderDatum{
			Owner:             datum.NewPubKeyAddress(keyHash),
			Kind:              datum.OrderKindDca,
			AssetIn:           testLovelace,
			AssetOut:          testTokenX,
			AmountPerInterval: 10_000,
			MinInterval:       60_000,
			RemainingBudget:   100_000,
			Deadline:          futureDeadline(),
			TokenName:         keyHash,
		},
	})

	h.engine.RunIteration(context.Background())

	assert.Equal(t, 1, h.builder.orderCalls)
	assert.Equal(t, 0, h.chain.submitCalls)
}

func TestOrderExecution(t *testing.T) {
	h := newHarness(testConfig())
	h.pools.Put(testPoolState())
	keyHash := make([]byte, 28)
	orderRef := testRef(0x11)
	h.orders.Put(&txbuilder.Order{
		Ref: orderRef,
		Datum: datum.OrderDatum{
			Owner:             datum.NewPubKeyAddress(keyHash),
			Kind:              datum.OrderKindDca,
			AssetIn:           testLovelace,
			AssetOut:          testTokenX,
			AmountPerInterval: 10_000,
			MinInterval:       60_000,
			RemainingBudget:   100_000,
			Deadline:          futureDeadline(),
			TokenName:         keyHash,
		},
	})

	h.engine.RunIteration(context.Background())

	assert.Equal(t, 1, h.builder.orderCalls)
	assert.Equal(t, 1, h.chain.submitCalls)

	// Partial execution decremented the budget
	orders, err := h.orders.ActiveOrders()
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, uint64(90_000), orders[0].Datum.RemainingBudget)
}

func TestExpiredEscrowReclaimed(t *testing.T) {
	h := newHarness(testConfig())
	h.pools.Put(testPoolState())
	expired := testEscrow(0x01, 10_000, time.Now().Add(-time.Hour).UnixMilli())
	h.intents.Put(expired)

	h.engine.RunIteration(context.Background())

	assert.Equal(t, 1, h.builder.reclaimCalls)
	assert.Equal(t, 0, h.builder.settleCalls)
	assert.Equal(t, StatusExpired, h.intents.Status(expired.Ref))
}

func TestStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 10 * time.Millisecond
	h := newHarness(cfg)

	require.NoError(t, h.engine.Start())
	time.Sleep(30 * time.Millisecond)
	h.engine.Stop()
	// Idempotent
	h.engine.Stop()
}

func TestMemoryIntentsLifecycle(t *testing.T) {
	intents := NewMemoryIntents()
	escrow := testEscrow(0x01, 10_000, futureDeadline())
	intents.Put(escrow)

	active, err := intents.ActiveIntents()
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, intents.SetStatus(escrow.Ref, StatusFilling))
	active, err = intents.ActiveIntents()
	require.NoError(t, err)
	assert.Empty(t, active)

	// Re-indexing the same UTxO must not resurrect a terminal intent
	require.NoError(t, intents.SetStatus(escrow.Ref, StatusFilled))
	intents.Put(escrow)
	assert.Equal(t, StatusFilled, intents.Status(escrow.Ref))

	require.NoError(t, intents.RecordFill(txbuilder.EscrowFill{
		Ref:      escrow.Ref,
		Consumed: 4_000,
		Output:   8_000,
	}))
	intents.Remove(escrow.Ref)
	active, err = intents.ActiveIntents()
	require.NoError(t, err)
	assert.Empty(t, active)
}
