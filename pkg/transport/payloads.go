// Copyright 2025 UMH Systems GmbH
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

package transport

// LoadPayload is the data of a load message: the state of every module.
type LoadPayload map[string]any

// UpdatePayload is the data of an update message.
type UpdatePayload struct {
	Module string `json:"module"`
	State  any    `json:"state"`
}

// SavePayload is the data of a save message. Seq is the sender's local write
// sequence the state includes.
type SavePayload struct {
	Module string `json:"module"`
	Seq    uint64 `json:"seq"`
	State  any    `json:"state"`
}

// AckPayload confirms that the save with Seq of Module was applied.
type AckPayload struct {
	Module string `json:"module"`
	Seq    uint64 `json:"seq"`
}
