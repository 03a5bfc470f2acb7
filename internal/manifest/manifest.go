// Package manifest parses the descriptor file a plugin directory must
// carry to be installable.
package manifest

import (
	"encoding/json"
	"fmt"
)

// FileName is the descriptor file name inside a plugin directory.
const FileName = "manifest.json"

// Manifest is the key-value descriptor declared by a plugin.
type Manifest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Parse decodes a descriptor document. fallbackID is used when the
// document does not declare its own id - conventionally the name of the
// directory it was found in.
func Parse(data []byte, fallbackID string) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.ID == "" {
		m.ID = fallbackID
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	return &m, nil
}
