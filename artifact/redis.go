package artifact

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, used for production deployments
// where artifacts must outlive a single process (spec.md §6). Keys are
// content-addressed by (workerID, kind); owner metadata is tracked in a
// side hash so Metadata can enforce ownerID without re-reading the full
// metadata blob.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore builds a Store backed by the given Redis client. keyPrefix
// namespaces all keys (e.g. "conductor:artifact:") to allow multiple
// deployments to share one Redis instance.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "conductor:artifact:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) blobKey(workerID string, kind Kind) string {
	return fmt.Sprintf("%s%s:%s", s.keyPrefix, workerID, kind)
}

func (s *RedisStore) ownerKey(workerID string) string {
	return fmt.Sprintf("%sowner:%s", s.keyPrefix, workerID)
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, workerID string, kind Kind, content []byte) error {
	if err := s.client.Set(ctx, s.blobKey(workerID, kind), content, 0).Err(); err != nil {
		return fmt.Errorf("artifact redis put %s/%s: %w", workerID, kind, err)
	}
	if kind == KindMetadata {
		var md Metadata
		if err := json.Unmarshal(content, &md); err == nil && md.OwnerID != "" {
			if err := s.client.Set(ctx, s.ownerKey(workerID), md.OwnerID, 0).Err(); err != nil {
				return fmt.Errorf("artifact redis put owner %s: %w", workerID, err)
			}
		}
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, workerID string, kind Kind) ([]byte, error) {
	b, err := s.client.Get(ctx, s.blobKey(workerID, kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifact redis get %s/%s: %w", workerID, kind, err)
	}
	return b, nil
}

// Metadata implements Store.
func (s *RedisStore) Metadata(ctx context.Context, workerID, ownerID string) (Metadata, error) {
	owner, err := s.client.Get(ctx, s.ownerKey(workerID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Metadata{}, fmt.Errorf("artifact redis get owner %s: %w", workerID, err)
	}
	if owner != "" && owner != ownerID {
		return Metadata{}, ErrForbidden
	}
	raw, err := s.Get(ctx, workerID, KindMetadata)
	if err != nil {
		return Metadata{}, err
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return Metadata{}, fmt.Errorf("artifact decode metadata %s: %w", workerID, err)
	}
	return md, nil
}

// Search implements Store with one GET per (worker, kind) pair; there is no
// key scan, so only the listed workerIDs are searched. Suitable for moderate
// artifact volumes; large-scale deployments should pair this with an
// external search index (out of scope here).
func (s *RedisStore) Search(ctx context.Context, pattern string, globs []string, workerIDs []string) ([]SearchHit, error) {
	kinds := []Kind{KindResult}
	if len(globs) > 0 {
		kinds = nil
		for _, g := range globs {
			kinds = append(kinds, Kind(g))
		}
	}
	var hits []SearchHit
	for _, wid := range workerIDs {
		for _, k := range kinds {
			b, err := s.Get(ctx, wid, k)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
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
