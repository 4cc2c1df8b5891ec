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

// ErrNotPoolDatum is returned when CBOR data is not a valid pool datum
var ErrNotPoolDatum = errors.New("not a pool datum (constructor != 0)")

// PoolDatum is the on-chain pool record. Reserves are NOT a datum field;
// they are derived from the value held by the pool UTxO. RootK is the
// cached invariant the validator checks for monotonic non-decrease.
type PoolDatum struct {
	cbor.StructAsArray
	PoolNft       common.AssetClass // Identity NFT
	AssetA        common.AssetClass
	AssetB        common.AssetClass
	LpAsset       common.AssetClass
	FeeBps        uint64 // Swap fee in basis points
	TotalLpSupply uint64
	ProtocolFeeA  uint64 // Accrued, zeroed on collection
	ProtocolFeeB  uint64
	RootK         uint64 // floor(sqrt(reserveA * reserveB))
}

func (p *PoolDatum) UnmarshalCBOR(cborData []byte) error {
	var tmpConstr cbor.Constructor
	if _, err := cbor.Decode(cborData, &tmpConstr); err != nil {
		return err
	}
	if tmpConstr.Constructor() != 0 {
		return ErrNotPoolDatum
	}
	return cbor.DecodeGeneric(tmpConstr.FieldsCbor(), p)
}

func (p *PoolDatum) MarshalCBOR() ([]byte, error) {
	tmpConstr := cbor.NewConstructor(
		0,
		cbor.IndefLengthList{
			&p.PoolNft,
			&p.AssetA,
			&p.AssetB,
			&p.LpAsset,
			p.FeeBps,
			p.TotalLpSupply,
			p.ProtocolFeeA,
			p.ProtocolFeeB,
			p.RootK,
		},
	)
	return cbor.Encode(&tmpConstr)
}

// SwapDirection is the single direction a pool redeemer carries; every
// escrow in a batch must resolve to the same direction.
type SwapDirection uint

const (
	SwapDirectionAToB SwapDirection = 0
	SwapDirectionBToA SwapDirection = 1
)

// PoolAction enumerates the pool validator's redeemer constructors
type PoolAction uint

const (
	PoolActionSwap        PoolAction = 0
	PoolActionDeposit     PoolAction = 1
	PoolActionWithdraw    PoolAction = 2
	PoolActionCollectFees PoolAction = 3
	PoolActionSettings    PoolAction = 4
)

// PoolRedeemer is the spending redeemer for a pool UTxO
type PoolRedeemer struct {
	Action    PoolAction
	Direction SwapDirection // Only meaningful for swaps
}

func (r *PoolRedeemer) UnmarshalCBOR(cborData []byte) error {
	var tmpConstr cbor.Constructor
	if _, err := cbor.Decode(cborData, &tmpConstr); err != nil {
		return err
	}
	switch tmpConstr.Constructor() {
	case uint(PoolActionSwap):
		r.Action = PoolActionSwap
		var wrapper struct {
			cbor.StructAsArray
			Direction uint
		}
		if err := cbor.DecodeGeneric(tmpConstr.FieldsCbor(), &wrapper); err != nil {
			return err
		}
		if wrapper.Direction > uint(SwapDirectionBToA) {
			return ErrUnknownConstructor
		}
		r.Direction = SwapDirection(wrapper.Direction)
	case uint(PoolActionDeposit),
		uint(PoolActionWithdraw),
		uint(PoolActionCollectFees),
		uint(PoolActionSettings):
		r.Action = PoolAction(tmpConstr.Constructor())
		r.Direction = SwapDirectionAToB
	default:
		return ErrUnknownConstructor
	}
	return nil
}

func (r *PoolRedeemer) MarshalCBOR() ([]byte, error) {
	var tmpConstr cbor.Constructor
	if r.Action == PoolActionSwap {
		tmpConstr = cbor.NewConstructor(
			uint(PoolActionSwap),
			cbor.IndefLengthList{
				uint(r.Direction),
			},
		)
	} else {
		tmpConstr = cbor.NewConstructor(uint(r.Action), cbor.IndefLengthList{})
	}
	return cbor.Encode(&tmpConstr)
}

// SettingsDatum is the protocol settings record spent by admin operations
type SettingsDatum struct {
	cbor.StructAsArray
	AdminKeyHash    []byte
	PoolCreationFee uint64
}

func (s *SettingsDatum) UnmarshalCBOR(cborData []byte) error {
	var tmpConstr cbor.Constructor
	if _, err := cbor.Decode(cborData, &tmpConstr); err != nil {
		return err
	}
	if tmpConstr.Constructor() != 0 {
		return ErrUnknownConstructor
	}
	return cbor.DecodeGeneric(tmpConstr.FieldsCbor(), s)
}

func (s *SettingsDatum) MarshalCBOR() ([]byte, error) {
	tmpConstr := cbor.NewConstructor(
		0,
		cbor.IndefLengthList{
			s.AdminKeyHash,
			s.PoolCreationFee,
		},
	)
	return cbor.Encode(&tmpConstr)
}
