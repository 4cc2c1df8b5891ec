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

// ErrNotOrderDatum is returned when CBOR data is not a valid order datum
var ErrNotOrderDatum = errors.New("not an order datum (constructor != 0)")

// OrderKind enumerates the advanced order types
type OrderKind uint

const (
	OrderKindLimit    OrderKind = 0
	OrderKindDca      OrderKind = 1
	OrderKindStopLoss OrderKind = 2
)

func (k OrderKind) String() string {
	switch k {
	case OrderKindLimit:
		return "limit"
	case OrderKindDca:
		return "dca"
	case OrderKindStopLoss:
		return "stop_loss"
	}
	return "unknown"
}

// orderKindDatum carries the kind as a bare constructor
type orderKindDatum struct {
	Kind OrderKind
}

func (o *orderKindDatum) UnmarshalCBOR(cborData []byte) error {
	var tmpConstr cbor.Constructor
	if _, err := cbor.Decode(cborData, &tmpConstr); err != nil {
		return err
	}
	if tmpConstr.Constructor() > uint(OrderKindStopLoss) {
		return ErrUnknownConstructor
	}
	o.Kind = OrderKind(tmpConstr.Constructor())
	return nil
}

func (o *orderKindDatum) MarshalCBOR() ([]byte, error) {
	tmpConstr := cbor.NewConstructor(uint(o.Kind), cbor.IndefLengthList{})
	return cbor.Encode(&tmpConstr)
}

// OrderDatum is the on-chain record for a LIMIT, DCA, or STOP_LOSS order.
// For non-DCA orders AmountPerInterval, MinInterval, and LastFillTime are
// zero and execution consumes the full remaining budget.
type OrderDatum struct {
	Owner             Address
	Kind              OrderKind
	AssetIn           common.AssetClass
	AssetOut          common.AssetClass
	Price             Rational // Target or limit price
	AmountPerInterval uint64   // DCA tranche size
	MinInterval       int64    // DCA minimum interval, ms
	LastFillTime      int64    // POSIX ms; 0 = never filled
	RemainingBudget   uint64   // Monotonically decreasing
	Deadline          int64    // POSIX ms
	TokenName         []byte   // Identity token name
}

func (o *OrderDatum) UnmarshalCBOR(cborData []byte) error {
	var tmpConstr cbor.Constructor
	if _, err := cbor.Decode(cborData, &tmpConstr); err != nil {
		return err
	}
	if tmpConstr.Constructor() != 0 {
		return ErrNotOrderDatum
	}
	var wrapper struct {
		cbor.StructAsArray
		Owner             Address
		Kind              orderKindDatum
		AssetIn           common.AssetClass
		AssetOut          common.AssetClass
		Price             Rational
		AmountPerInterval uint64
		MinInterval       int64
		LastFillTime      int64
		RemainingBudget   uint64
		Deadline          int64
		TokenName         []byte
	}
	if err := cbor.DecodeGeneric(tmpConstr.FieldsCbor(), &wrapper); err != nil {
		return err
	}
	o.Owner = wrapper.Owner
	o.Kind = wrapper.Kind.Kind
	o.AssetIn = wrapper.AssetIn
	o.AssetOut = wrapper.AssetOut
	o.Price = wrapper.Price
	o.AmountPerInterval = wrapper.AmountPerInterval
	o.MinInterval = wrapper.MinInterval
	o.LastFillTime = wrapper.LastFillTime
	o.RemainingBudget = wrapper.RemainingBudget
	o.Deadline = wrapper.Deadline
	o.TokenName = wrapper.TokenName
	return nil
}

func (o *OrderDatum) MarshalCBOR() ([]byte, error) {
	kind := orderKindDatum{Kind: o.Kind}
	tmpConstr := cbor.NewConstructor(
		0,
		cbor.IndefLengthList{
			&o.Owner,
			&kind,
			&o.AssetIn,
			&o.AssetOut,
			&o.Price,
			o.AmountPerInterval,
			o.MinInterval,
			o.LastFillTime,
			o.RemainingBudget,
			o.Deadline,
			o.TokenName,
		},
	)
	return cbor.Encode(&tmpConstr)
}

// OrderAction enumerates the order validator's redeemer constructors
type OrderAction uint

const (
	OrderActionExecute OrderAction = 0
	OrderActionCancel  OrderAction = 1
	OrderActionReclaim OrderAction = 2
)

// OrderRedeemer is the spending redeemer for an order UTxO
type OrderRedeemer struct {
	Action         OrderAction
	ConsumedAmount uint64 // Budget consumed; only meaningful for executes
}

func (r *OrderRedeemer) UnmarshalCBOR(cborData []byte) error {
	var tmpConstr cbor.Constructor
	if _, err := cbor.Decode(cborData, &tmpConstr); err != nil {
		return err
	}
	switch tmpConstr.Constructor() {
	case uint(OrderActionExecute):
		r.Action = OrderActionExecute
		var wrapper struct {
			cbor.StructAsArray
			ConsumedAmount uint64
		}
		if err := cbor.DecodeGeneric(tmpConstr.FieldsCbor(), &wrapper); err != nil {
			return err
		}
		r.ConsumedAmount = wrapper.ConsumedAmount
	case uint(OrderActionCancel):
		r.Action = OrderActionCancel
		r.ConsumedAmount = 0
	case uint(OrderActionReclaim):
		r.Action = OrderActionReclaim
		r.ConsumedAmount = 0
	default:
		return ErrUnknownConstructor
	}
	return nil
}

func (r *OrderRedeemer) MarshalCBOR() ([]byte, error) {
	var tmpConstr cbor.Constructor
	if r.Action == OrderActionExecute {
		tmpConstr = cbor.NewConstructor(
			uint(OrderActionExecute),
			cbor.IndefLengthList{
				r.ConsumedAmount,
			},
		)
	} else {
		tmpConstr = cbor.NewConstructor(uint(r.Action), cbor.IndefLengthList{})
	}
	return cbor.Encode(&tmpConstr)
}
