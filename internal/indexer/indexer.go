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

package indexer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/blinklabs-io/mamba/internal/common"
	"github.com/blinklabs-io/mamba/internal/config"
	"github.com/blinklabs-io/mamba/internal/datum"
	"github.com/blinklabs-io/mamba/internal/logging"
	"github.com/blinklabs-io/mamba/internal/router"
	"github.com/blinklabs-io/mamba/internal/solver"
	"github.com/blinklabs-io/mamba/internal/storage"
	"github.com/blinklabs-io/mamba/internal/txbuilder"

	"github.com/blinklabs-io/adder/event"
	input_chainsync "github.com/blinklabs-io/adder/input/chainsync"
	output_embedded "github.com/blinklabs-io/adder/output/embedded"
	"github.com/blinklabs-io/adder/pipeline"
	"github.com/blinklabs-io/gouroboros/ledger"
	ocommon "github.com/blinklabs-io/gouroboros/protocol/common"
)

const (
	syncStatusLogInterval = 30 * time.Second
)

// WatchedAddresses is the set of script and wallet addresses whose UTxOs
// the indexer tracks
type WatchedAddresses struct {
	Wallet string
	Escrow string
	Pool   string
	Order  string
}

// Indexer follows the chain and maintains both the UTxO storage and the
// in-memory intent/order/pool mirrors the solver reads from
type Indexer struct {
	pipeline     *pipeline.Pipeline
	cursorSlot   uint64
	cursorHash   string
	tipSlot      uint64
	tipHash      string
	tipReached   bool
	syncLogTimer *time.Timer
	eventFuncs   []EventFunc
	watched      WatchedAddresses
	intents      *solver.MemoryIntents
	orders       *solver.MemoryOrders
	pools        *solver.MemoryPools
}

type EventFunc func(event.Event) error

func New(
	watched WatchedAddresses,
	intents *solver.MemoryIntents,
	orders *solver.MemoryOrders,
	pools *solver.MemoryPools,
) *Indexer {
	return &Indexer{
		watched: watched,
		intents: intents,
		orders:  orders,
		pools:   pools,
	}
}

func (i *Indexer) Start() error {
	cfg := config.GetConfig()
	logger := logging.GetLogger()
	// Create pipeline
	i.pipeline = pipeline.New()
	// Configure pipeline input
	inputOpts := []input_chainsync.ChainSyncOptionFunc{
		input_chainsync.WithBulkMode(true),
		input_chainsync.WithAutoReconnect(true),
		input_chainsync.WithLogger(logging.GetLogger()),
		input_chainsync.WithStatusUpdateFunc(i.updateStatus),
		input_chainsync.WithNetwork(cfg.Network),
		input_chainsync.WithIncludeCbor(true),
	}
	if cfg.Indexer.Address != "" {
		inputOpts = append(
			inputOpts,
			input_chainsync.WithAddress(cfg.Indexer.Address),
		)
	}
	cursorSlotNumber, cursorBlockHash, err := storage.GetStorage().GetCursor()
	if err != nil {
		return err
	}
	if cursorSlotNumber > 0 {
		logger.Info(
			"found previous chainsync cursor",
			"slotNumber", cursorSlotNumber,
			"blockHash", cursorBlockHash,
		)
		hashBytes, err := hex.DecodeString(cursorBlockHash)
		if err != nil {
			return err
		}
		inputOpts = append(
			inputOpts,
			input_chainsync.WithIntersectPoints(
				[]ocommon.Point{
					{
						Hash: hashBytes,
						Slot: cursorSlotNumber,
					},
				},
			),
		)
	} else {
		if cfg.Indexer.InterceptSlot == 0 {
			return errors.New(
				"no chainsync cursor and no intercept point configured",
			)
		}
		hashBytes, err := hex.DecodeString(cfg.Indexer.InterceptHash)
		if err != nil {
			return err
		}
		inputOpts = append(
			inputOpts,
			input_chainsync.WithIntersectPoints(
				[]ocommon.Point{
					{
						Hash: hashBytes,
						Slot: cfg.Indexer.InterceptSlot,
					},
				},
			),
		)
	}
	input := input_chainsync.New(
		inputOpts...,
	)
	i.pipeline.AddInput(input)
	// Configure pipeline output
	output := output_embedded.New(
		output_embedded.WithCallbackFunc(
			func(evt event.Event) error {
				// Call each registered event handler func
				for _, eventFunc := range i.eventFuncs {
					if err := eventFunc(evt); err != nil {
						return err
					}
				}
				return nil
			},
		),
	)
	i.pipeline.AddOutput(output)
	// Add our event handler
	i.AddEventFunc(i.handleEvent)
	// Start pipeline
	if err := i.pipeline.Start(); err != nil {
		logger.Error("failed to start pipeline:", "error", err)
		os.Exit(1)
	}
	// Start error handler
	go func() {
		err, ok := <-i.pipeline.ErrorChan()
		if ok {
			logger.Error("pipeline failed:", "error", err)
			os.Exit(1)
		}
	}()
	// Schedule periodic catch-up sync log messages
	i.scheduleSyncStatusLog()
	return nil
}

func (i *Indexer) AddEventFunc(eventFunc EventFunc) {
	i.eventFuncs = append(i.eventFuncs, eventFunc)
}

func (i *Indexer) handleEvent(evt event.Event) error {
	switch payload := evt.Payload.(type) {
	case input_chainsync.TransactionEvent:
		eventCtx := evt.Context.(input_chainsync.TransactionContext)
		return i.handleTransaction(payload, eventCtx)
	case event.RollbackEvent:
		logger := logging.GetLogger()
		// Stale mirror entries self-heal: each settle attempt re-reads the
		// pool UTxO before building
		logger.Warn(
			"rollback detected",
			"slot", payload.SlotNumber,
			"blockHash", payload.BlockHash,
		)
	}
	return nil
}

func (i *Indexer) handleTransaction(
	eventTx input_chainsync.TransactionEvent,
	eventCtx input_chainsync.TransactionContext,
) error {
	store := storage.GetStorage()
	// Record the TX hash for settlement confirmation detection
	if err := store.MarkTxSeen(
		eventCtx.TransactionHash,
		eventCtx.SlotNumber,
	); err != nil {
		return err
	}
	// Delete used UTxOs
	for _, txInput := range eventTx.Transaction.Consumed() {
		if err := store.RemoveUtxo(txInput.Id().String(), txInput.Index()); err != nil {
			return err
		}
		// Consumed escrow/order UTxOs leave the solver's view. A replacement
		// output from a partial fill comes back through the produced side of
		// the same transaction.
		consumedRef := common.TxOutRef{
			TxHash: txInput.Id().Bytes(),
			Index:  txInput.Index(),
		}
		i.intents.Remove(consumedRef)
		i.orders.Remove(consumedRef)
	}
	// Store UTxOs at watched addresses
	for _, utxo := range eventTx.Transaction.Produced() {
		txOutputAddress := utxo.Output.Address().String()
		switch txOutputAddress {
		case i.watched.Wallet,
			i.watched.Escrow,
			i.watched.Pool,
			i.watched.Order:
		default:
			continue
		}
		// Write UTxO to storage
		if err := store.AddUtxo(
			txOutputAddress,
			eventCtx.TransactionHash,
			utxo.Id.Index(),
			utxo.Output.Cbor(),
		); err != nil {
			return err
		}
		ref, err := common.NewTxOutRef(
			eventCtx.TransactionHash,
			utxo.Id.Index(),
		)
		if err != nil {
			return err
		}
		switch txOutputAddress {
		case i.watched.Escrow:
			i.handleEscrowOutput(ref, utxo.Output)
		case i.watched.Order:
			i.handleOrderOutput(ref, utxo.Output)
		case i.watched.Pool:
			i.handlePoolOutput(ref, utxo.Output)
		}
	}
	return nil
}

func (i *Indexer) handleEscrowOutput(
	ref common.TxOutRef,
	txOutput ledger.TransactionOutput,
) {
	logger := logging.GetLogger()
	if txOutput.Datum() == nil {
		return
	}
	var escrowDatum datum.EscrowDatum
	if err := escrowDatum.UnmarshalCBOR(txOutput.Datum().Cbor()); err != nil {
		// Not an escrow datum, ignore
		logger.Debug(
			"skipping escrow output with undecodable datum",
			"ref", ref.String(),
			"error", err,
		)
		return
	}
	i.intents.Put(&txbuilder.Escrow{
		Ref:   ref,
		Datum: escrowDatum,
	})
	logger.Debug(
		"tracking escrowed intent",
		"ref", ref.String(),
		"remainingInput", escrowDatum.RemainingInput,
	)
}

func (i *Indexer) handleOrderOutput(
	ref common.TxOutRef,
	txOutput ledger.TransactionOutput,
) {
	logger := logging.GetLogger()
	if txOutput.Datum() == nil {
		return
	}
	var orderDatum datum.OrderDatum
	if err := orderDatum.UnmarshalCBOR(txOutput.Datum().Cbor()); err != nil {
		logger.Debug(
			"skipping order output with undecodable datum",
			"ref", ref.String(),
			"error", err,
		)
		return
	}
	i.orders.Put(&txbuilder.Order{
		Ref:   ref,
		Datum: orderDatum,
	})
	logger.Debug(
		"tracking order",
		"ref", ref.String(),
		"kind", orderDatum.Kind.String(),
		"remainingBudget", orderDatum.RemainingBudget,
	)
}

func (i *Indexer) handlePoolOutput(
	ref common.TxOutRef,
	txOutput ledger.TransactionOutput,
) {
	logger := logging.GetLogger()
	if txOutput.Datum() == nil {
		return
	}
	var poolDatum datum.PoolDatum
	if err := poolDatum.UnmarshalCBOR(txOutput.Datum().Cbor()); err != nil {
		logger.Debug(
			"skipping pool output with undecodable datum",
			"ref", ref.String(),
			"error", err,
		)
		return
	}
	// Reserves are the held value minus accrued protocol fees
	heldA := outputAssetAmount(txOutput, poolDatum.AssetA)
	heldB := outputAssetAmount(txOutput, poolDatum.AssetB)
	if heldA < poolDatum.ProtocolFeeA || heldB < poolDatum.ProtocolFeeB {
		logger.Warn(
			"pool output held value is less than accrued protocol fees",
			"ref", ref.String(),
		)
		return
	}
	i.pools.Put(&router.PoolState{
		Ref:      ref,
		Nft:      poolDatum.PoolNft,
		AssetA:   poolDatum.AssetA,
		AssetB:   poolDatum.AssetB,
		ReserveA: heldA - poolDatum.ProtocolFeeA,
		ReserveB: heldB - poolDatum.ProtocolFeeB,
		FeeBps:   poolDatum.FeeBps,
	})
	logger.Debug(
		"updated pool mirror",
		"ref", ref.String(),
		"reserveA", heldA-poolDatum.ProtocolFeeA,
		"reserveB", heldB-poolDatum.ProtocolFeeB,
	)
}

func outputAssetAmount(
	txOutput ledger.TransactionOutput,
	asset common.AssetClass,
) uint64 {
	if asset.IsLovelace() {
		amount := txOutput.Amount()
		return amount.Uint64()
	}
	amount := txOutput.Assets().Asset(
		ledger.NewBlake2b224(asset.PolicyId),
		asset.Name,
	)
	return amount.Uint64()
}

func (i *Indexer) scheduleSyncStatusLog() {
	i.syncLogTimer = time.AfterFunc(syncStatusLogInterval, i.syncStatusLog)
}

func (i *Indexer) syncStatusLog() {
	logger := logging.GetLogger()
	logger.Info(fmt.Sprintf(
		"catch-up sync in progress: at %d.%s (current tip slot is %d)",
		i.cursorSlot,
		i.cursorHash,
		i.tipSlot),
	)
	i.scheduleSyncStatusLog()
}

func (i *Indexer) updateStatus(status input_chainsync.ChainSyncStatus) {
	logger := logging.GetLogger()
	// Check if we've hit chain tip
	if !i.tipReached && status.TipReached {
		if i.syncLogTimer != nil {
			i.syncLogTimer.Stop()
		}
		i.tipReached = true
	}
	i.cursorSlot = status.SlotNumber
	i.cursorHash = status.BlockHash
	i.tipSlot = status.TipSlotNumber
	i.tipHash = status.TipBlockHash
	if err := storage.GetStorage().UpdateCursor(status.SlotNumber, status.BlockHash); err != nil {
		logger.Error("failed to update cursor:", "error", err)
	}
}
