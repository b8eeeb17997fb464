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

// Package safejson wraps goccy/go-json and falls back to encoding/json whenever
// the fast path panics.
package safejson

import (
	jsonstd "encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Unmarshal decodes val into decoded, which must be a non-nil pointer.
func Unmarshal(val []byte, decoded any) (err error) {
	ptr := reflect.ValueOf(decoded)
	if !ptr.IsValid() || ptr.Kind() != reflect.Ptr || ptr.IsNil() {
		return errors.New("decoded must be a non-nil pointer")
	}

	defer func() {
		if r := recover(); r != nil {
			zap.S().Warnf("goccy failed to decode, retrying with stdlib: %v", r)

			fresh := reflect.New(ptr.Elem().Type())
			if err = jsonstd.Unmarshal(val, fresh.Interface()); err == nil {
				ptr.Elem().Set(fresh.Elem())
			}
		}
	}()

	return json.Unmarshal(val, decoded)
}

// Marshal encodes val. Map keys are emitted in sorted order, so equal values
// always encode to equal bytes.
func Marshal(val any) (encoded []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Warnf("goccy failed to encode, retrying with stdlib: %v", r)

			encoded, err = jsonstd.Marshal(val)
		}
	}()

	return json.Marshal(val)
}

func MarshalIndent(val any, prefix, indent string) (encoded []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Warnf("goccy failed to encode, retrying with stdlib: %v", r)

			encoded, err = jsonstd.MarshalIndent(val, prefix, indent)
		}
	}()

	return json.MarshalIndent(val, prefix, indent)
}

// MustMarshal panics if val cannot be encoded.
func MustMarshal(val any) []byte {
	encoded, err := Marshal(val)
	if err != nil {
		panic(fmt.Errorf("safejson: %w", err))
	}

	return encoded
}

// Normalize round-trips val through JSON so that typed structs become the generic
// map[string]any / []any / float64 shape used for state trees.
func Normalize(val any) (any, error) {
	raw, err := Marshal(val)
	if err != nil {
		return nil, err
	}

	var out any
	if err := Unmarshal(raw, &out); err != nil {
		return nil, err
	}

	return out, nil
}
