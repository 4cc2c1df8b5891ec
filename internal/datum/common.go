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

// Package datum implements the tagged-constructor CBOR structures shared
// with the on-chain validators. Field order within each constructor is part
// of the wire contract and must never change.
package datum

import (
	"errors"

	"github.com/blinklabs-io/gouroboros/cbor"
)

var ErrUnknownConstructor = errors.New("unknown constructor index")

// Credential represents a payment or staking credential
type Credential struct {
	Type int // 0 = PubKeyHash, 1 = ScriptHash
	Hash []byte
}

func (c *Credential) UnmarshalCBOR(cborData []byte) error {
	var tmpConstr cbor.Constructor
	if _, err := cbor.Decode(cborData, &tmpConstr); err != nil {
		return err
	}
	if tmpConstr.Constructor() > 1 {
		return ErrUnknownConstructor
	}
	c.Type = int(tmpConstr.Constructor())
	var wrapper struct {
		cbor.StructAsArray
		Hash []byte
	}
	if err := cbor.DecodeGeneric(tmpConstr.FieldsCbor(), &wrapper); err != nil {
		return err
	}
	c.Hash = wrapper.Hash
	return nil
}

func (c *Credential) MarshalCBOR() ([]byte, error) {
	tmpConstr := cbor.NewConstructor(
		uint(c.Type),
		cbor.IndefLengthList{
			c.Hash,
		},
	)
	return cbor.Encode(&tmpConstr)
}

// OptionalCredential represents an optional staking credential
type OptionalCredential struct {
	IsPresent  bool
	Credential Credential
}

func (o *OptionalCredential) UnmarshalCBOR(cborData []byte) error {
	var tmpConstr cbor.Constructor
	if _, err := cbor.Decode(cborData, &tmpConstr); err != nil {
		return err
	}
	if tmpConstr.Constructor() == 1 {
		o.IsPresent = false
		o.Credential = Credential{} // Reset to avoid stale data
		return nil
	}
	o.IsPresent = true
	var wrapper struct {
		cbor.StructAsArray
		Inner Credential
	}
	if err := cbor.DecodeGeneric(tmpConstr.FieldsCbor(), &wrapper); err != nil {
		return err
	}
	o.Credential = wrapper.Inner
	return nil
}

func (o *OptionalCredential) MarshalCBOR() ([]byte, error) {
	var tmpConstr cbor.Constructor
	if o.IsPresent {
		tmpConstr = cbor.NewConstructor(
			0,
			cbor.IndefLengthList{
				&o.Credential,
			},
		)
	} else {
		tmpConstr = cbor.NewConstructor(1, cbor.IndefLengthList{})
	}
	return cbor.Encode(&tmpConstr)
}

// Address represents a Cardano address in datum form
type Address struct {
	cbor.StructAsArray
	PaymentCredential Credential
	StakingCredential OptionalCredential
}

func (a *Address) UnmarshalCBOR(cborData []byte) error {
	var tmpConstr cbor.Constructor
	if _, err := cbor.Decode(cborData, &tmpConstr); err != nil {
		return err
	}
	return cbor.DecodeGeneric(tmpConstr.FieldsCbor(), a)
}

func (a *Address) MarshalCBOR() ([]byte, error) {
	tmpConstr := cbor.NewConstructor(
		0,
		cbor.IndefLengthList{
			&a.PaymentCredential,
			&a.StakingCredential,
		},
	)
	return cbor.Encode(&tmpConstr)
}

// NewPubKeyAddress builds an Address datum for a payment key hash
func NewPubKeyAddress(keyHash []byte) Address {
	return Address{
		PaymentCredential: Credential{
			Type: 0,
			Hash: keyHash,
		},
	}
}

// Rational represents a rational number datum
type Rational struct {
	Numerator   int64
	Denominator int64
}

func (r *Rational) UnmarshalCBOR(cborData []byte) error {
	var tmpConstr cbor.Constructor
	if _, err := cbor.Decode(cborData, &tmpConstr); err != nil {
		return err
	}
	var wrapper struct {
		cbor.StructAsArray
		Numerator   int64
		Denominator int64
	}
	if err := cbor.DecodeGeneric(tmpConstr.FieldsCbor(), &wrapper); err != nil {
		return err
	}
	r.Numerator = wrapper.Numerator
	r.Denominator = wrapper.Denominator
	return nil
}

func (r *Rational) MarshalCBOR() ([]byte, error) {
	tmpConstr := cbor.NewConstructor(
		0,
		cbor.IndefLengthList{
			r.Numerator,
			r.Denominator,
		},
	)
	return cbor.Encode(&tmpConstr)
}

// ToFloat64 converts to float64 for quoting only
func (r Rational) ToFloat64() float64 {
	if r.Denominator == 0 {
		return 0
	}
	return float64(r.Numerator) / float64(r.Denominator)
}
