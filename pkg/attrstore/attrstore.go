// Package attrstore provides access to attribute documents: the JSON value
// associated with one identity and one namespaced attribute name.
package attrstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// ErrNotFound reports that no document exists for the identity/attribute
// pair. Section rendering treats it as "no cards", not as a failure.
var ErrNotFound = errors.New("attrstore: attribute not found")

// Store reads attribute documents.
type Store interface {
	// Get returns the parsed document for one identity and attribute.
	// Returns ErrNotFound when no document exists.
	Get(ctx context.Context, identity, attribute string) (any, error)
}

// FileStore reads documents from an fs.FS, one JSON file per
// identity/attribute pair. The batch transformer writes files in the same
// layout.
type FileStore struct {
	fsys fs.FS
}

// NewFileStore builds a store over a document directory.
func NewFileStore(fsys fs.FS) *FileStore {
	return &FileStore{fsys: fsys}
}

// Filename maps an identity and attribute to the document file name.
// Namespace separators in the attribute become underscores:
// ("P123", "_EHR/appointments") -> "P123__EHR_appointments.json".
func Filename(identity, attribute string) string {
	return identity + "_" + strings.ReplaceAll(attribute, "/", "_") + ".json"
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, identity, attribute string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := Filename(identity, attribute)
	data, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s for %s", ErrNotFound, attribute, identity)
		}
		return nil, fmt.Errorf("attrstore: reading %s: %w", name, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("attrstore: parsing %s: %w", name, err)
	}
	return doc, nil
}

// Identities lists every identity that has at least one document, derived
// from the file names in the store.
func (s *FileStore) Identities() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("attrstore: listing documents: %w", err)
	}

	seen := make(map[string]struct{})
	var identities []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		idx := strings.Index(name, "_")
		if idx <= 0 {
			continue
		}
		identity := name[:idx]
		if _, ok := seen[identity]; ok {
			continue
		}
		seen[identity] = struct{}{}
		identities = append(identities, identity)
	}
	return identities, nil
}
