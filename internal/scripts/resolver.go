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

// Package scripts resolves the parameterized on-chain validators from a
// compiled blueprint. Each script's hash is an applied parameter of the
// next script in the dependency chain, so resolution follows a pinned DAG:
// escrow -> pool -> intent token policy -> factory -> LP policy ->
// pool NFT policy -> order. Resolution is pure given (blueprint, admin key
// hash) and happens once at construction.
package scripts

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/blinklabs-io/gouroboros/cbor"
	"golang.org/x/crypto/blake2b"
)

// ErrMissingValidator indicates a fatal configuration error: the blueprint
// does not contain a validator this protocol requires. Never retried.
var ErrMissingValidator = errors.New("validator missing from blueprint")

// Role identifies a validator within the protocol
type Role string

const (
	RoleEscrow            Role = "escrow"
	RolePool              Role = "pool"
	RoleIntentTokenPolicy Role = "intent_token_policy"
	RoleFactory           Role = "factory"
	RoleLpPolicy          Role = "lp_policy"
	RolePoolNftPolicy     Role = "pool_nft_policy"
	RoleOrder             Role = "order"
)

// scriptHashPrefix tags the script bytes before hashing, per the ledger's
// script hashing rule for the Plutus version in use
const scriptHashPrefix = 0x02

// Script is a fully-applied validator
type Script struct {
	Role  Role
	Bytes []byte // Parameterized script bytes
	Hash  []byte // blake2b-224 script hash / policy ID
}

// PolicyId returns the script hash as a hex policy ID
func (s Script) PolicyId() string {
	return hex.EncodeToString(s.Hash)
}

// Resolver derives and caches every protocol script for the process
// lifetime. Immutable after construction.
type Resolver struct {
	adminKeyHash []byte
	scripts      map[Role]Script
}

// NewResolver resolves the full script DAG from a blueprint and admin key
// hash. A validator missing from the blueprint fails construction.
func NewResolver(bp *Blueprint, adminKeyHash []byte) (*Resolver, error) {
	r := &Resolver{
		adminKeyHash: adminKeyHash,
		scripts:      make(map[Role]Script),
	}
	// Resolution order is load-bearing: each script's hash parameterizes
	// the next
	escrow, err := r.resolve(bp, RoleEscrow, adminKeyHash)
	if err != nil {
		return nil, err
	}
	pool, err := r.resolve(bp, RolePool, escrow.Hash, adminKeyHash)
	if err != nil {
		return nil, err
	}
	intentPolicy, err := r.resolve(bp, RoleIntentTokenPolicy, escrow.Hash)
	if err != nil {
		return nil, err
	}
	factory, err := r.resolve(bp, RoleFactory, pool.Hash, intentPolicy.Hash)
	if err != nil {
		return nil, err
	}
	if _, err := r.resolve(bp, RoleLpPolicy, factory.Hash); err != nil {
		return nil, err
	}
	if _, err := r.resolve(bp, RolePoolNftPolicy, factory.Hash); err != nil {
		return nil, err
	}
	if _, err := r.resolve(bp, RoleOrder, pool.Hash, adminKeyHash); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the resolved script for a role
func (r *Resolver) Get(role Role) (Script, error) {
	script, ok := r.scripts[role]
	if !ok {
		return Script{}, fmt.Errorf("%w: %s", ErrMissingValidator, role)
	}
	return script, nil
}

// MustGet returns the resolved script for a role; the resolver only
// constructs successfully with the full DAG present, so a miss here is a
// programming error
func (r *Resolver) MustGet(role Role) Script {
	script, err := r.Get(role)
	if err != nil {
		panic(err)
	}
	return script
}

// AdminKeyHash returns the admin key hash the scripts were resolved with
func (r *Resolver) AdminKeyHash() []byte {
	return r.adminKeyHash
}

func (r *Resolver) resolve(
	bp *Blueprint,
	role Role,
	params ...[]byte,
) (Script, error) {
	validator, err := bp.validator(string(role))
	if err != nil {
		return Script{}, err
	}
	code, err := validator.compiledCodeBytes()
	if err != nil {
		return Script{}, err
	}
	applied, err := applyParams(code, params...)
	if err != nil {
		return Script{}, fmt.Errorf(
			"failed to apply parameters to validator %q: %w",
			role,
			err,
		)
	}
	hash, err := scriptHash(applied)
	if err != nil {
		return Script{}, err
	}
	script := Script{
		Role:  role,
		Bytes: applied,
		Hash:  hash,
	}
	r.scripts[role] = script
	return script, nil
}

// applyParams wraps the compiled code together with its applied parameter
// list. The result is deterministic for a given (code, params) pair, so
// script identities are stable across processes.
func applyParams(code []byte, params ...[]byte) ([]byte, error) {
	if len(params) == 0 {
		return code, nil
	}
	paramList := make(cbor.IndefLengthList, 0, len(params))
	for _, param := range params {
		paramList = append(paramList, param)
	}
	wrapper := []any{
		code,
		paramList,
	}
	return cbor.Encode(&wrapper)
}

// scriptHash computes the blake2b-224 hash over the tagged script bytes
func scriptHash(script []byte) ([]byte, error) {
	hasher, err := blake2b.New(28, nil)
	if err != nil {
		return nil, err
	}
	hasher.Write([]byte{scriptHashPrefix})
	hasher.Write(script)
	return hasher.Sum(nil), nil
}
