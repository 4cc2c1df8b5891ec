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
	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blinklabs-io/gouroboros/ledger"
)

type Utxo struct {
	cbor.DecodeStoreCbor
	Ref    ledger.ShelleyTransactionInput
	Output ledger.TransactionOutput
}

func (u *Utxo) UnmarshalCBOR(data []byte) error {
	tmpUnwrap := []cbor.RawMessage{}
	if _, err := cbor.Decode(data, &tmpUnwrap); err != nil {
		return err
	}
	if _, err := cbor.Decode(tmpUnwrap[0], &(u.Ref)); err != nil {
		return err
	}
	txOutput, err := ledger.NewTransactionOutputFromCbor(tmpUnwrap[1])
	if err != nil {
		return err
	}
	u.Output = txOutput
	return nil
}
