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

package config

// NetworkConfig holds per-network slot arithmetic parameters. Slot length is
// one second on every network since the Shelley era
type NetworkConfig struct {
	ShelleyOffsetSlot uint64
	ShelleyOffsetTime int64
}

var Networks = map[string]NetworkConfig{
	"mainnet": {
		ShelleyOffsetSlot: 4492800,
		ShelleyOffsetTime: 1596059091,
	},
	"preprod": {
		ShelleyOffsetSlot: 86400,
		ShelleyOffsetTime: 1655769600,
	},
	"preview": {
		ShelleyOffsetSlot: 0,
		ShelleyOffsetTime: 1666656000,
	},
}
