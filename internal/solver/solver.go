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

// Package solver runs the settlement loop: collect active intents, route
// them through the pool index, group them into batches, and settle each
// profitable batch on-chain with bounded retries.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/blinklabs-io/mamba/internal/batch"
	"github.com/blinklabs-io/mamba/internal/common"
	"github.com/blinklabs-io/mamba/internal/config"
	"github.com/blinklabs-io/mamba/internal/logging"
	"github.com/blinklabs-io/mamba/internal/router"
	"github.com/blinklabs-io/mamba/internal/txbuilder"
)

// Config tunes the settlement loop
type Config struct {
	Interval       time.Duration
	MaxRetries     uint
	MinSurplus     int64
	ConfirmTimeout time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	MaxBatchSize   int
	TxFee          uint64
	BaseAsset      common.AssetClass
}

// ConfigFromGlobal derives the loop configuration from the process config
func ConfigFromGlobal() Config {
	cfg := config.GetConfig()
	return Config{
		Interval:       time.Duration(cfg.Solver.IntervalSeconds) * time.Second,
		MaxRetries:     cfg.Solver.MaxRetries,
		MinSurplus:     int64(cfg.Solver.MinSurplus),
		ConfirmTimeout: time.Duration(cfg.Solver.ConfirmTimeoutSeconds) * time.Second,
		BackoffMin:     time.Duration(cfg.Solver.BackoffMinMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Solver.BackoffMaxMs) * time.Millisecond,
		MaxBatchSize:   int(cfg.Solver.MaxBatchSize),
		TxFee:          500_000,
		BaseAsset:      common.Lovelace(),
	}
}

// Engine is the solver control loop
type Engine struct {
	cfg      Config
	intents  IntentRepo
	orders   OrderRepo
	pools    PoolRepo
	builder  SettlementBuilder
	chain    ChainClient
	notifier Notifier
	index    *router.Index

	// Reentrancy guard: a batch key being settled cannot be picked up
	// again until its settlement returns
	processing map[string]bool

	// Pool refs with a submitted-but-unconfirmed settlement; skipped to
	// avoid a duplicate submission for the same UTxO
	inFlight map[string]time.Time

	mu       sync.Mutex
	stopChan chan struct{}
	stopped  bool
	doneChan chan struct{}
}

// New creates a solver engine from its collaborator ports
func New(
	cfg Config,
	intents IntentRepo,
	orders OrderRepo,
	pools PoolRepo,
	builder SettlementBuilder,
	chainClient ChainClient,
	notifier Notifier,
) *Engine {
	return &Engine{
		cfg:        cfg,
		intents:    intents,
		orders:     orders,
		pools:      pools,
		builder:    builder,
		chain:      chainClient,
		notifier:   notifier,
		index:      router.NewIndex(cfg.BaseAsset),
		processing: make(map[string]bool),
		inFlight:   make(map[string]time.Time),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start launches the settlement loop
func (e *Engine) Start() error {
	logger := logging.GetLogger()
	go e.run()
	logger.Info(
		"solver started",
		"component", "solver",
		"interval", e.cfg.Interval.String(),
		"minSurplus", e.cfg.MinSurplus,
	)
	return nil
}

// Stop halts the loop after its current iteration (idempotent)
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()
	close(e.stopChan)
	<-e.doneChan
}

func (e *Engine) run() {
	defer close(e.doneChan)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		e.RunIteration(context.Background())
		select {
		case <-ticker.C:
		case <-e.stopChan:
			return
		}
	}
}

// RunIteration executes one collect/route/group/settle pass
func (e *Engine) RunIteration(ctx context.Context) {
	logger := logging.GetLogger()

	escrows, err := e.intents.ActiveIntents()
	if err != nil {
		logger.Error("failed to collect intents", "component", "solver", "error", err)
		return
	}
	pools, err := e.pools.ActivePools()
	if err != nil {
		logger.Error("failed to collect pools", "component", "solver", "error", err)
		return
	}
	e.index.SetPools(pools)
	e.expireInFlight()

	now := time.Now().UnixMilli()
	var candidates []batch.Candidate
	for _, escrow := range escrows {
		if escrow.Datum.Deadline < now {
			e.reclaimExpired(ctx, escrow)
			continue
		}
		route := e.index.FindRoute(
			escrow.Datum.InputAsset,
			escrow.Datum.OutputAsset,
			escrow.Datum.RemainingInput,
		)
		if route == nil {
			// Unroutable this iteration; not an error
			continue
		}
		candidates = append(candidates, batch.Candidate{
			Escrow: escrow,
			Route:  route,
		})
	}

	batches := batch.Build(candidates, e.cfg.TxFee)
	for _, b := range batches {
		if e.cfg.MaxBatchSize > 0 && len(b.Escrows) > e.cfg.MaxBatchSize {
			b.Escrows = b.Escrows[:e.cfg.MaxBatchSize]
		}
		if b.Surplus < e.cfg.MinSurplus {
			logger.Debug(
				"batch below surplus threshold",
				"component", "solver",
				"batch", b.Key(),
				"surplus", b.Surplus,
			)
			continue
		}
		if e.poolInFlight(b.Pool.Ref) {
			logger.Debug(
				"pool has an unconfirmed settlement, skipping",
				"component", "solver",
				"pool", b.Pool.Ref.String(),
			)
			continue
		}
		if !e.markProcessing(b.Key()) {
			continue
		}
		if err := e.settleBatch(ctx, b); err != nil {
			logger.Error(
				"batch settlement failed",
				"component", "solver",
				"batch", b.Key(),
				"error", err,
			)
		}
		e.clearProcessing(b.Key())
	}

	e.executeOrders(ctx, now)
}

// settleBatch runs the bounded retry loop for one batch. Intents move to
// FILLING only after a transaction has been built; any rejection reverts
// them to ACTIVE before the next attempt.
func (e *Engine) settleBatch(ctx context.Context, b *batch.Batch) error {
	logger := logging.GetLogger()
	var lastErr error
	for attempt := uint(0); attempt < e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// A competing solver may have moved the reserves
			if err := e.pools.Refresh(ctx, b.Pool.Ref); err != nil {
				logger.Warn(
					"pool refresh failed",
					"component", "solver",
					"pool", b.Pool.Ref.String(),
					"error", err,
				)
			}
			e.backoff(ctx)
		}

		result, err := e.builder.SettleBatch(b.Pool.Ref, b.Escrows)
		if err != nil {
			// Nothing was marked; safe to retry
			lastErr = err
			logger.Warn(
				"settlement build failed",
				"component", "solver",
				"batch", b.Key(),
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		e.setStatuses(b.Escrows, StatusFilling)

		if err := e.chain.Submit(ctx, result.Tx.TxBytes); err != nil {
			e.setStatuses(b.Escrows, StatusActive)
			lastErr = err
			logger.Warn(
				"settlement rejected",
				"component", "solver",
				"batch", b.Key(),
				"txHash", result.Tx.TxHash,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		confirmCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
		err = e.chain.AwaitConfirmation(confirmCtx, result.Tx.TxHash)
		cancel()
		if err != nil {
			// The transaction may still land; revert the optimistic state
			// and leave the pool alone until the window passes rather than
			// risking a duplicate submission
			e.setStatuses(b.Escrows, StatusActive)
			e.markInFlight(b.Pool.Ref)
			logger.Warn(
				"settlement not confirmed in time",
				"component", "solver",
				"batch", b.Key(),
				"txHash", result.Tx.TxHash,
			)
			return nil
		}

		e.applySettlement(b, result)
		logger.Info(
			"batch settled",
			"component", "solver",
			"batch", b.Key(),
			"txHash", result.Tx.TxHash,
			"escrows", len(b.Escrows),
			"direction", result.Direction,
		)
		return nil
	}
	e.setStatuses(b.Escrows, StatusActive)
	return fmt.Errorf("settlement retries exhausted: %w", lastErr)
}

// applySettlement records the post-confirmation effects: fill records,
// terminal statuses, the mirror's new reserves, and notifications. Every
// step is best-effort; the settlement itself is already final on-chain.
func (e *Engine) applySettlement(b *batch.Batch, result *txbuilder.SettleResult) {
	logger := logging.GetLogger()
	for _, fill := range result.Fills {
		if err := e.intents.RecordFill(fill); err != nil {
			logger.Error(
				"failed to record fill",
				"component", "solver",
				"escrow", fill.Ref.String(),
				"error", err,
			)
		}
		status := StatusPartiallyFilled
		if fill.Complete {
			status = StatusFilled
		}
		if err := e.intents.SetStatus(fill.Ref, status); err != nil {
			logger.Error(
				"failed to update intent status",
				"component", "solver",
				"escrow", fill.Ref.String(),
				"error", err,
			)
		}
		e.notifier.IntentStatus(fill.Ref, status)
	}
	if err := e.pools.UpdateReserves(
		b.Pool.Nft,
		result.NewReserveA,
		result.NewReserveB,
	); err != nil {
		logger.Error(
			"failed to update pool mirror",
			"component", "solver",
			"pool", b.Pool.Nft.Fingerprint(),
			"error", err,
		)
	}
	e.notifier.PoolReserves(b.Pool.Nft, result.NewReserveA, result.NewReserveB)
}

// executeOrders attempts one execution per active order. Orders that are
// not ripe or whose price is not met simply wait for a later iteration.
func (e *Engine) executeOrders(ctx context.Context, now int64) {
	logger := logging.GetLogger()
	orders, err := e.orders.ActiveOrders()
	if err != nil {
		logger.Error("failed to collect orders", "component", "solver", "error", err)
		return
	}
	for _, order := range orders {
		if order.Datum.Deadline < now {
			continue
		}
		amount := order.Datum.RemainingBudget
		if order.Datum.AmountPerInterval > 0 &&
			order.Datum.AmountPerInterval < amount {
			amount = order.Datum.AmountPerInterval
		}
		route := e.index.FindRoute(
			order.Datum.AssetIn,
			order.Datum.AssetOut,
			amount,
		)
		pool := route.Pool()
		if pool == nil {
			continue
		}
		if e.poolInFlight(pool.Ref) {
			continue
		}
		result, err := e.builder.ExecuteOrder(order.Ref, pool.Ref)
		if err != nil {
			if errors.Is(err, txbuilder.ErrOrderNotRipe) ||
				errors.Is(err, txbuilder.ErrPriceNotMet) {
				logger.Debug(
					"order not executable yet",
					"component", "solver",
					"order", order.Ref.String(),
					"reason", err,
				)
				continue
			}
			logger.Warn(
				"order execution build failed",
				"component", "solver",
				"order", order.Ref.String(),
				"error", err,
			)
			continue
		}
		if err := e.chain.Submit(ctx, result.Tx.TxBytes); err != nil {
			logger.Warn(
				"order execution rejected",
				"component", "solver",
				"order", order.Ref.String(),
				"txHash", result.Tx.TxHash,
				"error", err,
			)
			continue
		}
		confirmCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
		err = e.chain.AwaitConfirmation(confirmCtx, result.Tx.TxHash)
		cancel()
		if err != nil {
			e.markInFlight(pool.Ref)
			logger.Warn(
				"order execution not confirmed in time",
				"component", "solver",
				"order", order.Ref.String(),
				"txHash", result.Tx.TxHash,
			)
			continue
		}
		if err := e.orders.RecordExecution(
			order.Ref,
			result.Consumed,
			result.Output,
			result.Complete,
		); err != nil {
			logger.Error(
				"failed to record order execution",
				"component", "solver",
				"order", order.Ref.String(),
				"error", err,
			)
		}
		status := StatusPartiallyFilled
		if result.Complete {
			status = StatusFilled
		}
		e.notifier.IntentStatus(order.Ref, status)
		if err := e.pools.UpdateReserves(
			pool.Nft,
			result.NewReserveA,
			result.NewReserveB,
		); err != nil {
			logger.Error(
				"failed to update pool mirror",
				"component", "solver",
				"pool", pool.Nft.Fingerprint(),
				"error", err,
			)
		}
		e.notifier.PoolReserves(pool.Nft, result.NewReserveA, result.NewReserveB)
		logger.Info(
			"order executed",
			"component", "solver",
			"order", order.Ref.String(),
			"txHash", result.Tx.TxHash,
			"consumed", result.Consumed,
			"output", result.Output,
			"complete", result.Complete,
		)
	}
}

// reclaimExpired builds and submits a permissionless reclaim for an
// escrow past its deadline. Fire-and-forget; the indexer observing the
// consumed UTxO is what finally removes the intent.
func (e *Engine) reclaimExpired(ctx context.Context, escrow *txbuilder.Escrow) {
	logger := logging.GetLogger()
	built, err := e.builder.Reclaim(escrow.Ref)
	if err != nil {
		logger.Warn(
			"reclaim build failed",
			"component", "solver",
			"escrow", escrow.Ref.String(),
			"error", err,
		)
		return
	}
	if err := e.chain.Submit(ctx, built.TxBytes); err != nil {
		logger.Warn(
			"reclaim rejected",
			"component", "solver",
			"escrow", escrow.Ref.String(),
			"error", err,
		)
		return
	}
	if err := e.intents.SetStatus(escrow.Ref, StatusExpired); err != nil {
		logger.Error(
			"failed to mark intent expired",
			"component", "solver",
			"escrow", escrow.Ref.String(),
			"error", err,
		)
	}
	e.notifier.IntentStatus(escrow.Ref, StatusExpired)
	logger.Info(
		"reclaim submitted",
		"component", "solver",
		"escrow", escrow.Ref.String(),
		"txHash", built.TxHash,
	)
}

func (e *Engine) setStatuses(escrows []*txbuilder.Escrow, status IntentStatus) {
	logger := logging.GetLogger()
	for _, escrow := range escrows {
		if err := e.intents.SetStatus(escrow.Ref, status); err != nil {
			logger.Error(
				"failed to update intent status",
				"component", "solver",
				"escrow", escrow.Ref.String(),
				"status", string(status),
				"error", err,
			)
		}
		e.notifier.IntentStatus(escrow.Ref, status)
	}
}

func (e *Engine) markProcessing(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.processing[key] {
		return false
	}
	e.processing[key] = true
	return true
}

func (e *Engine) clearProcessing(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.processing, key)
}

func (e *Engine) markInFlight(poolRef common.TxOutRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight[poolRef.String()] = time.Now().Add(e.cfg.ConfirmTimeout)
}

func (e *Engine) poolInFlight(poolRef common.TxOutRef) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.inFlight[poolRef.String()]
	return ok && time.Now().Before(until)
}

func (e *Engine) expireInFlight() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	for key, until := range e.inFlight {
		if now.After(until) {
			delete(e.inFlight, key)
		}
	}
}

// backoff sleeps a randomized interval to desynchronize from competing
// solvers racing for the same pool UTxO
func (e *Engine) backoff(ctx context.Context) {
	min := e.cfg.BackoffMin
	max := e.cfg.BackoffMax
	if max <= min {
		max = min + time.Millisecond
	}
	delay := min + time.Duration(rand.Int63n(int64(max-min)))
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}
