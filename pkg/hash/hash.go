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

package hash

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Sha3Hash returns the hex encoded SHA3-256 digest of input.
func Sha3Hash(input []byte) string {
	h := sha3.New256()
	_, _ = h.Write(input)

	return hex.EncodeToString(h.Sum(nil))
}

// Sha3HashString is Sha3Hash for strings.
func Sha3HashString(input string) string {
	return Sha3Hash([]byte(input))
}
