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

import "unicode/utf8"

// DefaultChunkSize is the largest chunk, in bytes, a packet carries.
const DefaultChunkSize = 10000

// Split cuts text into chunks of at most size bytes without splitting a UTF-8
// sequence. Empty text yields one empty chunk so every message has a packet.
func Split(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}

	if len(text) <= size {
		return []string{text}
	}

	chunks := make([]string, 0, len(text)/size+1)

	for len(text) > 0 {
		end := size
		if end >= len(text) {
			chunks = append(chunks, text)

			break
		}

		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}

		// a single rune wider than size
		if end == 0 {
			_, width := utf8.DecodeRuneInString(text)
			end = width
		}

		chunks = append(chunks, text[:end])
		text = text[end:]
	}

	return chunks
}
