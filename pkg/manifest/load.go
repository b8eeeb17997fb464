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

package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Module binds a manifest to the top-level module name it describes.
type Module struct {
	Name string `yaml:"module" json:"module"`
	Root *Node  `yaml:"root" json:"root"`
}

// Set maps module names to their manifests.
type Set map[string]*Module

// Root returns the manifest root for module.
func (s Set) Root(module string) (*Node, bool) {
	m, ok := s[module]
	if !ok || m == nil || m.Root == nil {
		return nil, false
	}

	return m.Root, true
}

// Parse reads a module manifest from YAML. JSON documents are accepted as well.
func Parse(data []byte) (*Module, error) {
	var m Module
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if m.Name == "" {
		return nil, fmt.Errorf("manifest has no module name")
	}

	if err := m.Root.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest for module %s: %w", m.Name, err)
	}

	return &m, nil
}

// LoadDir parses every .yaml, .yml and .json file in dir.
func LoadDir(dir string) (Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest directory %s: %w", dir, err)
	}

	set := make(Set)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest %s: %w", entry.Name(), err)
		}

		m, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}

		if _, dup := set[m.Name]; dup {
			return nil, fmt.Errorf("module %s is described by more than one manifest", m.Name)
		}

		set[m.Name] = m
	}

	return set, nil
}
