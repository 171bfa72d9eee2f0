package artifact

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// InMemStore is an in-process Store used for tests and single-node demos.
type InMemStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte // key: workerID + "/" + kind
	owners  map[string]string // workerID -> ownerID
}

// NewInMemStore builds an empty in-memory artifact store.
func NewInMemStore() *InMemStore {
	return &InMemStore{blobs: map[string][]byte{}, owners: map[string]string{}}
}

func blobKey(workerID string, kind Kind) string { return workerID + "/" + string(kind) }

// Put implements Store.
func (s *InMemStore) Put(_ context.Context, workerID string, kind Kind, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(content))
	copy(cp, content)
	s.blobs[blobKey(workerID, kind)] = cp
	if kind == KindMetadata {
		var md Metadata
		if err := json.Unmarshal(content, &md); err == nil && md.OwnerID != "" {
			s.owners[workerID] = md.OwnerID
		}
	}
	return nil
}

// Get implements Store.
func (s *InMemStore) Get(_ context.Context, workerID string, kind Kind) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[blobKey(workerID, kind)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

// Metadata implements Store.
func (s *InMemStore) Metadata(ctx context.Context, workerID, ownerID string) (Metadata, error) {
	s.mu.RLock()
	owner, hasOwner := s.owners[workerID]
	s.mu.RUnlock()
	if hasOwner && owner != ownerID {
		return Metadata{}, ErrForbidden
	}
	raw, err := s.Get(ctx, workerID, KindMetadata)
	if err != nil {
		return Metadata{}, err
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

// Search implements Store with a naive in-memory line scan, sufficient for
// tests and small single-node deployments.
func (s *InMemStore) Search(_ context.Context, pattern string, globs []string, workerIDs []string) ([]SearchHit, error) {
	kinds := []Kind{KindResult}
	if len(globs) > 0 {
		kinds = nil
		for _, g := range globs {
			kinds = append(kinds, Kind(g))
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hits []SearchHit
	for _, wid := range workerIDs {
		for _, k := range kinds {
			b, ok := s.blobs[blobKey(wid, k)]
			if !ok {
				continue
			}
			scanner := bufio.NewScanner(bytes.NewReader(b))
			lineNo := 0
			for scanner.Scan() {
				lineNo++
				line := scanner.Text()
				if strings.Contains(line, pattern) {
					hits = append(hits, SearchHit{WorkerID: wid, Kind: k, Line: line, LineNo: lineNo})
				}
			}
		}
	}
	return hits, nil
}
