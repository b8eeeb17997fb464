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

// Package encoding turns wire envelopes into chunkable text and back.
// Payloads at or above CompressionThreshold are zstd compressed and base64
// encoded; smaller payloads travel as plain JSON.
package encoding

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/united-manufacturing-hub/statesync/pkg/safejson"
)

// CompressionThreshold is the size in bytes above which payloads are compressed.
const CompressionThreshold = 1024

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

var (
	encoderPool = sync.Pool{
		New: func() interface{} {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))

			return enc
		},
	}

	decoderPool = sync.Pool{
		New: func() interface{} {
			dec, _ := zstd.NewReader(nil)

			return dec
		},
	}
)

// Compress zstd-compresses message. Messages below CompressionThreshold are
// returned as a copy.
func Compress(message []byte) ([]byte, error) {
	if len(message) < CompressionThreshold {
		return bytes.Clone(message), nil
	}

	enc, ok := encoderPool.Get().(*zstd.Encoder)
	if !ok || enc == nil {
		var err error

		enc, err = zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
	}
	defer encoderPool.Put(enc)

	return enc.EncodeAll(message, make([]byte, 0, len(message)/2)), nil
}

// Decompress reverses Compress. Input without the zstd magic is returned as a copy.
func Decompress(message []byte) ([]byte, error) {
	if !IsCompressed(message) {
		return bytes.Clone(message), nil
	}

	dec, ok := decoderPool.Get().(*zstd.Decoder)
	if !ok || dec == nil {
		var err error

		dec, err = zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
	}
	defer decoderPool.Put(dec)

	if err := dec.Reset(bytes.NewReader(message)); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if _, err := io.Copy(&out, dec); err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}

// IsCompressed reports whether data starts with the zstd frame magic.
func IsCompressed(data []byte) bool {
	return len(data) >= len(zstdMagic) && bytes.Equal(data[:len(zstdMagic)], zstdMagic)
}

// Encode serializes v to wire text. When compress is true and the JSON is large
// enough, the result is base64(zstd(json)); otherwise it is the JSON itself.
func Encode(v any, compress bool) (string, error) {
	raw, err := safejson.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	if !compress || len(raw) < CompressionThreshold {
		return string(raw), nil
	}

	packed, err := Compress(raw)
	if err != nil {
		return "", fmt.Errorf("failed to compress payload: %w", err)
	}

	return base64.StdEncoding.EncodeToString(packed), nil
}

// Decode is the inverse of Encode. Plain JSON objects and arrays are detected by
// their first byte; anything else is treated as base64 encoded zstd.
func Decode(text string, v any) error {
	raw := []byte(text)

	if !isPlainJSON(raw) {
		packed, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return fmt.Errorf("failed to decode base64 payload: %w", err)
		}

		raw, err = Decompress(packed)
		if err != nil {
			return fmt.Errorf("failed to decompress payload: %w", err)
		}
	}

	if err := safejson.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return nil
}

func isPlainJSON(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")

	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}
