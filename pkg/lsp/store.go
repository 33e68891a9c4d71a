package lsp

import (
	"slices"
	"sync"

	"github.com/Sumatoshi-tech/jsbridge/pkg/host"
)

// document is an open buffer and the issues of its last analysis.
type document struct {
	text   string
	issues []host.Issue
}

// DocumentStore is a thread-safe store of open documents keyed by URI.
type DocumentStore struct {
	documents map[string]*document
	mu        sync.RWMutex
}

// NewDocumentStore creates an empty DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{documents: make(map[string]*document)}
}

// Set stores the text of uri and forgets its previous issues.
func (ds *DocumentStore) Set(uri, text string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.documents[uri] = &document{text: text}
}

// Get returns the text of uri.
func (ds *DocumentStore) Get(uri string) (string, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	doc, ok := ds.documents[uri]
	if !ok {
		return "", false
	}

	return doc.text, true
}

// SetIssues records the issues found in uri. Closed documents are ignored.
func (ds *DocumentStore) SetIssues(uri string, issues []host.Issue) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if doc, ok := ds.documents[uri]; ok {
		doc.issues = slices.Clone(issues)
	}
}

// Issues returns the issues of the last analysis of uri.
func (ds *DocumentStore) Issues(uri string) []host.Issue {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	doc, ok := ds.documents[uri]
	if !ok {
		return nil
	}

	return slices.Clone(doc.issues)
}

// Delete removes uri.
func (ds *DocumentStore) Delete(uri string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	delete(ds.documents, uri)
}
