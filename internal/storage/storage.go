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

package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blinklabs-io/mamba/internal/config"
	"github.com/blinklabs-io/mamba/internal/logging"
	"github.com/dgraph-io/badger/v4"
)

const (
	chainsyncCursorKey = "chainsync_cursor"
	fingerprintKey     = "config_fingerprint"
)

type Storage struct {
	db *badger.DB
}

var globalStorage = &Storage{}

func (s *Storage) Load() error {
	cfg := config.GetConfig()
	badgerOpts := badger.DefaultOptions(cfg.Storage.Directory).
		WithLogger(NewBadgerLogger()).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return err
	}
	s.db = db
	if err := s.compareFingerprint(); err != nil {
		return err
	}
	return nil
}

func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// compareFingerprint ensures the DB wasn't populated for a different
// network or protocol instance
func (s *Storage) compareFingerprint() error {
	cfg := config.GetConfig()
	fingerprint := fmt.Sprintf(
		"network=%s,admin=%s",
		cfg.Network,
		cfg.Protocol.AdminKeyHash,
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(fingerprintKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return txn.Set([]byte(fingerprintKey), []byte(fingerprint))
			}
			return err
		}
		return item.Value(func(v []byte) error {
			if string(v) != fingerprint {
				return fmt.Errorf(
					"config fingerprint in DB doesn't match current config: %s",
					v,
				)
			}
			return nil
		})
	})
	return err
}

func (s *Storage) UpdateCursor(slotNumber uint64, blockHash string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		val := fmt.Sprintf("%d,%s", slotNumber, blockHash)
		return txn.Set([]byte(chainsyncCursorKey), []byte(val))
	})
}

func (s *Storage) GetCursor() (uint64, string, error) {
	var slotNumber uint64
	var blockHash string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(chainsyncCursorKey))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			var err error
			cursorParts := strings.Split(string(v), ",")
			slotNumber, err = strconv.ParseUint(cursorParts[0], 10, 64)
			if err != nil {
				return err
			}
			blockHash = cursorParts[1]
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, "", nil
	}
	return slotNumber, blockHash, err
}

func (s *Storage) AddUtxo(
	address string,
	txId string,
	txOutIdx uint32,
	txOutBytes []byte,
) error {
	logger := logging.GetLogger()
	utxoId := fmt.Sprintf("%s.%d", txId, txOutIdx)
	logger.Debug("adding UTxO to storage", "utxoId", utxoId)
	utxoKey := "utxo_" + utxoId
	utxoAddressKey := utxoKey + "_address"
	addressKey := "address_" + address
	err := s.db.Update(func(txn *badger.Txn) error {
		// Wrap TX output in UTxO structure to make it easier to consume later
		txIdBytes, err := hex.DecodeString(txId)
		if err != nil {
			return err
		}
		utxoTmp := []any{
			// Transaction output reference
			[]any{
				txIdBytes,
				uint32(txOutIdx),
			},
			// Transaction output CBOR
			cbor.RawMessage(txOutBytes),
		}
		cborBytes, err := cbor.Encode(&utxoTmp)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(utxoKey), cborBytes); err != nil {
			return err
		}
		// Set address for UTxO
		if err := txn.Set([]byte(utxoAddressKey), []byte(address)); err != nil {
			return err
		}
		// Update UTxOs for address
		var oldVal []byte
		addressItem, err := txn.Get([]byte(addressKey))
		if err != nil {
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		} else {
			err = addressItem.Value(func(val []byte) error {
				oldVal = append([]byte{}, val...)
				return nil
			})
			if err != nil {
				return err
			}
		}
		var newVal string
		if len(oldVal) == 0 {
			newVal = utxoId
		} else {
			newVal = fmt.Sprintf("%s,%s", oldVal, utxoId)
		}
		return txn.Set([]byte(addressKey), []byte(newVal))
	})
	return err
}

func (s *Storage) RemoveUtxo(
	txId string,
	utxoIdx uint32,
) error {
	logger := logging.GetLogger()
	utxoId := fmt.Sprintf("%s.%d", txId, utxoIdx)
	utxoKey := "utxo_" + utxoId
	utxoAddressKey := utxoKey + "_address"
	err := s.db.Update(func(txn *badger.Txn) error {
		// Lookup current address for UTxO
		// This also allows us to shortcut the rest if we don't have the UTxO
		// in storage at all
		utxoAddressItem, err := txn.Get([]byte(utxoAddressKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		logger.Debug("removing UTxO from storage", "utxoId", utxoId)
		err = utxoAddressItem.Value(func(addressVal []byte) error {
			// Delete UTxO key
			if err := txn.Delete([]byte(utxoKey)); err != nil {
				return fmt.Errorf("failed to delete UTxO key: %w", err)
			}
			// Get UTxO list for address
			addressKey := fmt.Sprintf("address_%s", addressVal)
			addressItem, err := txn.Get([]byte(addressKey))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return nil
				}
				return fmt.Errorf("failed to lookup UTxO address: %w", err)
			}
			return addressItem.Value(func(utxosVal []byte) error {
				// Remove UTxO from list
				var newUtxos []string
				utxoItems := strings.Split(string(utxosVal), ",")
				for _, utxoItem := range utxoItems {
					if utxoItem != utxoId {
						newUtxos = append(newUtxos, utxoItem)
					}
				}
				newVal := strings.Join(newUtxos, ",")
				return txn.Set([]byte(addressKey), []byte(newVal))
			})
		})
		if err != nil {
			return err
		}
		// Delete UTxO address key
		return txn.Delete([]byte(utxoAddressKey))
	})
	return err
}

func (s *Storage) GetUtxos(address string) ([][]byte, error) {
	ret := [][]byte{}
	// Get list of UTxO IDs for address
	addressKey := "address_" + address
	var utxoIds []string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(addressKey))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			utxoIds = strings.Split(string(v), ",")
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ret, nil
		}
		return nil, err
	}
	// Retrieve UTxOs
	for _, utxoId := range utxoIds {
		if utxoId == "" {
			continue
		}
		tmpUtxo, err := s.GetUtxoById(utxoId)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		ret = append(ret, tmpUtxo)
	}
	return ret, nil
}

func (s *Storage) GetUtxoById(utxoId string) ([]byte, error) {
	var ret []byte
	key := "utxo_" + utxoId
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			ret = append([]byte{}, v...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// MarkTxSeen records a transaction hash observed on-chain, used for
// settlement confirmation detection
func (s *Storage) MarkTxSeen(txHash string, slotNumber uint64) error {
	key := "tx_seen_" + txHash
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(
			[]byte(key),
			[]byte(strconv.FormatUint(slotNumber, 10)),
		)
	})
}

// IsTxSeen reports whether a transaction hash has been observed on-chain
func (s *Storage) IsTxSeen(txHash string) (bool, error) {
	key := "tx_seen_" + txHash
	var seen bool
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		seen = true
		return nil
	})
	return seen, err
}

// Return global storage instance
func GetStorage() *Storage {
	return globalStorage
}
