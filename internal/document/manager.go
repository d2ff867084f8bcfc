// Package document keeps the text and version of every host document the
// editor has open.
package document

import (
	"errors"
	"fmt"
	"sync"

	"embedlsp/internal/textutil"
)

// ErrNotOpen is returned for a URI the editor has not opened.
var ErrNotOpen = errors.New("document not open")

// Snapshot is an immutable view of one document version.
type Snapshot struct {
	URI        string
	LanguageID string
	Version    int32
	Text       string
}

// Manager encapsulates document state for each open URI.
type Manager struct {
	mu   sync.Mutex
	docs map[string]Snapshot
}

// NewManager creates an initialized Manager.
func NewManager() *Manager {
	return &Manager{docs: make(map[string]Snapshot)}
}

// Open stores the initial text of a document.
func (m *Manager) Open(uri, languageID string, version int32, text string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{URI: uri, LanguageID: languageID, Version: version, Text: text}
	m.docs[uri] = s
	return s
}

// Change applies content changes in order and records the new version.
// On error the stored document is left untouched.
func (m *Manager) Change(uri string, version int32, changes []any) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.docs[uri]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotOpen, uri)
	}
	text := s.Text
	for i, change := range changes {
		var err error
		if text, err = textutil.ApplyChange(text, change); err != nil {
			return Snapshot{}, fmt.Errorf("change %d of %s: %w", i, uri, err)
		}
	}
	s.Text = text
	s.Version = version
	m.docs[uri] = s
	return s, nil
}

// Close releases a document.
func (m *Manager) Close(uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, uri)
}

// Get returns the current snapshot of uri.
func (m *Manager) Get(uri string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.docs[uri]
	return s, ok
}

// Version returns the current version of uri.
func (m *Manager) Version(uri string) (int32, bool) {
	s, ok := m.Get(uri)
	return s.Version, ok
}

