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

package datum

import (
	"errors"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blinklabs-io/mamba/internal/common"
)

// ErrNotEscrowDatum is returned when CBOR data is not a valid escrow datum
var ErrNotEscrowDatum = errors.New("not an escrow datum (constructor != 0)")

// EscrowDatum is the on-chain record backing an intent. The identity token
// name is derived from a hash of the UTxO consumed at creation, which makes
// it globally unique and replay-proof.
type EscrowDatum struct {
	cbor.StructAsArray
	Owner           Address           // Address paid on settlement
	InputAsset      common.AssetClass // Asset locked in escrow
	InputAmount     uint64            // Amount locked at creation
	OutputAsset     common.AssetClass // Asset wanted
	MinOutput       uint64            // Minimum acceptable total output
	Deadline        int64             // POSIX ms; reclaimable after this
	MaxPartialFills uint64            // 0 = no partial fills allowed
	FillCount       uint64            // Fills applied so far
	RemainingInput  uint64            // Decreases on each partial fill
	TokenName       []byte            // Identity token name
}

func (e *EscrowDatum) UnmarshalCBOR(cborData []byte) error {
	var tmpConstr cbor.Constructor
	if _, err := cbor.Decode(cborData, &tmpConstr); err != nil {
		return err
	}
	if tmpConstr.Constructor() != 0 {
		return ErrNotEscrowDatum
	}
	return cbor.DecodeGeneric(tmpConstr.FieldsCbor(), e)
}

func (e *EscrowDatum) MarshalCBOR() ([]byte, error) {
	tmpConstr := cbor.NewConstructor(
		0,
		cbor.IndefLengthList{
			&e.Owner,
			&e.InputAsset,
			e.InputAmount,
			&e.OutputAsset,
			e.MinOutput,
			e.Deadline,
			e.MaxPartialFills,
			e.FillCount,
			e.RemainingInput,
			e.TokenName,
		},
	)
	return cbor.Encode(&tmpConstr)
}

// AllowsPartialFill reports whether another partial fill is permitted
func (e *EscrowDatum) AllowsPartialFill() bool {
	return e.MaxPartialFills > 0 && e.FillCount < e.MaxPartialFills
}

// EscrowRedeemer is the spending redeemer for an escrow UTxO
type EscrowRedeemer struct {
	Action         EscrowAction
	ConsumedAmount uint64 // Input consumed; only meaningful for fills
}

// EscrowAction enumerates the escrow validator's redeemer constructors
type EscrowAction uint

const (
	EscrowActionFill    EscrowAction = 0
	EscrowActionCancel  EscrowAction = 1
	EscrowActionReclaim EscrowAction = 2
)

func (r *EscrowRedeemer) UnmarshalCBOR(cborData []byte) error {
	var tmpConstr cbor.Constructor
	if _, err := cbor.Decode(cborData, &tmpConstr); err != nil {
		return err
	}
	switch tmpConstr.Constructor() {
	case uint(EscrowActionFill):
		r.Action = EscrowActionFill
		var wrapper struct {
			cbor.StructAsArray
			ConsumedAmount uint64
		}
		if err := cbor.DecodeGeneric(tmpConstr.FieldsCbor(), &wrapper); err != nil {
			return err
		}
		r.ConsumedAmount = wrapper.ConsumedAmount
	case uint(EscrowActionCancel):
		r.Action = EscrowActionCancel
		r.ConsumedAmount = 0
	case uint(EscrowActionReclaim):
		r.Action = EscrowActionReclaim
		r.ConsumedAmount = 0
	default:
		return ErrUnknownConstructor
	}
	return nil
}

func (r *EscrowRedeemer) MarshalCBOR() ([]byte, error) {
	var tmpConstr cbor.Constructor
	if r.Action == EscrowActionFill {
		tmpConstr = cbor.NewConstructor(
			uint(EscrowActionFill),
			cbor.IndefLengthList{
				r.ConsumedAmount,
			},
		)
	} else {
		tmpConstr = cbor.NewConstructor(uint(r.Action), cbor.IndefLengthList{})
	}
	return cbor.Encode(&tmpConstr)
}
