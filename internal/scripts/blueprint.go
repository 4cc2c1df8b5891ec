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

package scripts

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Blueprint is a compiled validator blueprint (CIP-57 plutus.json)
type Blueprint struct {
	Preamble   BlueprintPreamble    `json:"preamble"`
	Validators []BlueprintValidator `json:"validators"`
}

type BlueprintPreamble struct {
	Title         string `json:"title"`
	Version       string `json:"version"`
	PlutusVersion string `json:"plutusVersion"`
}

type BlueprintValidator struct {
	Title        string `json:"title"`
	CompiledCode string `json:"compiledCode"`
	Hash         string `json:"hash"`
}

// LoadBlueprint reads and parses a blueprint file
func LoadBlueprint(path string) (*Blueprint, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading blueprint file: %w", err)
	}
	var bp Blueprint
	if err := json.Unmarshal(buf, &bp); err != nil {
		return nil, fmt.Errorf("error parsing blueprint file: %w", err)
	}
	return &bp, nil
}

// validator looks up a validator by title prefix. Blueprint titles are of
// the form "escrow.spend" or "escrow.escrow.spend" depending on compiler
// version, so we match on the leading component.
func (bp *Blueprint) validator(name string) (*BlueprintValidator, error) {
	for idx := range bp.Validators {
		v := &bp.Validators[idx]
		if v.Title == name ||
			strings.HasPrefix(v.Title, name+".") {
			return v, nil
		}
	}
	return nil, fmt.Errorf(
		"%w: validator %q not present in blueprint",
		ErrMissingValidator,
		name,
	)
}

func (v *BlueprintValidator) compiledCodeBytes() ([]byte, error) {
	code, err := hex.DecodeString(v.CompiledCode)
	if err != nil {
		return nil, fmt.Errorf(
			"invalid compiled code for validator %q: %w",
			v.Title,
			err,
		)
	}
	return code, nil
}
