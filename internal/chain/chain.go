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

package chain

import (
	"context"
	"errors"
	"time"

	"github.com/blinklabs-io/mamba/internal/storage"
)

// ErrConfirmTimeout is returned when a submitted transaction is not observed
// on-chain within the confirmation window
var ErrConfirmTimeout = errors.New("transaction confirmation timed out")

// ErrTxRejected wraps submission failures from the upstream node or API
var ErrTxRejected = errors.New("transaction rejected")

// Provider abstracts chain reads and transaction submission. UTxOs are
// returned as the stored CBOR wrapping of (input ref, output), and callers
// decode into whichever representation they need. The production
// implementation reads from local indexed storage and submits via the
// configured submit API. Tests substitute their own.
type Provider interface {
	// GetUtxosAt returns the raw stored UTxOs at an address
	GetUtxosAt(address string) ([][]byte, error)
	// GetUtxoByRef returns a single UTxO by "txhash.index" ID
	GetUtxoByRef(utxoId string) ([]byte, error)
	// Submit sends a signed transaction to the network
	Submit(ctx context.Context, txRawBytes []byte) error
	// AwaitConfirmation blocks until the transaction is observed on-chain
	// or the context expires, returning ErrConfirmTimeout in the latter case
	AwaitConfirmation(ctx context.Context, txHash string) error
}

const confirmPollInterval = 2 * time.Second

// StorageProvider implements Provider using the local badger store for reads
// and the submit API for writes
type StorageProvider struct {
	store     *storage.Storage
	submitUrl string
}

func NewStorageProvider(store *storage.Storage, submitUrl string) *StorageProvider {
	return &StorageProvider{
		store:     store,
		submitUrl: submitUrl,
	}
}

func (p *StorageProvider) GetUtxosAt(address string) ([][]byte, error) {
	return p.store.GetUtxos(address)
}

func (p *StorageProvider) GetUtxoByRef(utxoId string) ([]byte, error) {
	return p.store.GetUtxoById(utxoId)
}

func (p *StorageProvider) Submit(ctx context.Context, txRawBytes []byte) error {
	return submitTxApi(ctx, txRawBytes, p.submitUrl)
}

func (p *StorageProvider) AwaitConfirmation(
	ctx context.Context,
	txHash string,
) error {
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()
	for {
		seen, err := p.store.IsTxSeen(txHash)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrConfirmTimeout
		case <-ticker.C:
		}
	}
}
