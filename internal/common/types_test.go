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

package common_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/blinklabs-io/mamba/internal/common"

	"github.com/blinklabs-io/gouroboros/cbor"
)

var assetClassTestDefs = []struct {
	cborHex  string
	assetObj common.AssetClass
}{
	{
		// Constructor 0 [ policyId, name ]
		cborHex: "d8799f581cf66d78b4a3cb3d37afa0ec36461e51ecbde00f26c8f0a68f94b698804469425443ff",
		assetObj: common.AssetClass{
			PolicyId: mustDecodeHex("f66d78b4a3cb3d37afa0ec36461e51ecbde00f26c8f0a68f94b69880"),
			Name:     []byte("iBTC"),
		},
	},
	{
		// ADA is encoded as empty policy ID and name
		cborHex: "d8799f4040ff",
		assetObj: common.AssetClass{
			PolicyId: []byte{},
			Name:     []byte{},
		},
	},
}

func mustDecodeHex(hexData string) []byte {
	data, err := hex.DecodeString(hexData)
	if err != nil {
		panic("failed to decode hex: " + err.Error())
	}
	return data
}

func TestAssetClassDecode(t *testing.T) {
	for _, testDef := range assetClassTestDefs {
		cborData := mustDecodeHex(testDef.cborHex)
		var tmpAsset common.AssetClass
		if _, err := cbor.Decode(cborData, &tmpAsset); err != nil {
			t.Fatalf("failed to decode test CBOR: %s", err)
		}
		if !tmpAsset.Equals(testDef.assetObj) {
			t.Fatalf(
				"CBOR did not decode to expected object\n  got: %s\n  wanted: %s",
				tmpAsset.String(),
				testDef.assetObj.String(),
			)
		}
	}
}

func TestAssetClassEncode(t *testing.T) {
	for _, testDef := range assetClassTestDefs {
		cborData, err := cbor.Encode(&testDef.assetObj)
		if err != nil {
			t.Fatalf("failed to encode test object to CBOR: %s", err)
		}
		cborHex := hex.EncodeToString(cborData)
		if cborHex != strings.ToLower(testDef.cborHex) {
			t.Fatalf(
				"test object did not encode to expected CBOR\n  got: %s\n  wanted: %s",
				cborHex,
				strings.ToLower(testDef.cborHex),
			)
		}
	}
}

func TestAssetClassIsLovelace(t *testing.T) {
	if !common.Lovelace().IsLovelace() {
		t.Error("expected Lovelace() to report IsLovelace")
	}
	asset := common.AssetClass{PolicyId: []byte{0x01}, Name: []byte("TOKEN")}
	if asset.IsLovelace() {
		t.Error("expected non-empty asset to not report IsLovelace")
	}
}

func TestParseTxOutRef(t *testing.T) {
	refStr := "7d0d434bd80d8a2fb9802fcc437ada8bd3f231e74058b4693e013ce1f8ae5604#2"
	ref, err := common.ParseTxOutRef(refStr)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if ref.Index != 2 {
		t.Errorf("expected index 2, got %d", ref.Index)
	}
	if ref.String() != refStr {
		t.Errorf("expected round-trip %s, got %s", refStr, ref.String())
	}
}

func TestParseTxOutRefInvalid(t *testing.T) {
	if _, err := common.ParseTxOutRef("no-separator"); err == nil {
		t.Error("expected error for missing separator")
	}
	if _, err := common.ParseTxOutRef("abcd#notanumber"); err == nil {
		t.Error("expected error for bad index")
	}
}
