package plugin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersion = "1"

// CacheDoc is the persisted discovery cache: a map of plugin name to
// metadata keyed by modification time. The document is fully disposable;
// deleting it only costs a re-scan.
type CacheDoc struct {
	Version string                 `json:"version"`
	Plugins map[string]*CacheEntry `json:"plugins"`
}

// CacheEntry is one cached plugin. Path is root-relative for portability.
type CacheEntry struct {
	Path              string   `json:"path"`
	ModTime           int64    `json:"mtime"`
	Matches           []string `json:"matches"`
	Requires          string   `json:"requires,omitempty"`
	Dependencies      []string `json:"dependencies,omitempty"`
	Role              Role     `json:"role,omitempty"`
	Category          string   `json:"category,omitempty"`
	SupportsRaw       bool     `json:"supports_raw,omitempty"`
	ManagesParameters bool     `json:"manages_parameters,omitempty"`
}

// clone materializes a Metadata from a cache entry. The caller fills in
// the absolute path.
func (e *CacheEntry) clone() *Metadata {
	matches := e.Matches
	if matches == nil {
		matches = []string{}
	}
	return &Metadata{
		Path:              e.Path,
		ModTime:           e.ModTime,
		Matches:           matches,
		Requires:          e.Requires,
		Dependencies:      e.Dependencies,
		Role:              e.Role,
		Category:          e.Category,
		SupportsRaw:       e.SupportsRaw,
		ManagesParameters: e.ManagesParameters,
	}
}

func entryFromMetadata(m *Metadata) *CacheEntry {
	return &CacheEntry{
		Path:              m.Path,
		ModTime:           m.ModTime,
		Matches:           m.Matches,
		Requires:          m.Requires,
		Dependencies:      m.Dependencies,
		Role:              m.Role,
		Category:          m.Category,
		SupportsRaw:       m.SupportsRaw,
		ManagesParameters: m.ManagesParameters,
	}
}

// Store persists the discovery cache. Writes are wholesale: Save replaces
// the entire document, never a partial update. A corrupt or missing cache
// loads as empty and is rebuilt on the next dirty discovery.
type Store interface {
	Load() *CacheDoc
	Save(doc *CacheDoc) error
}

func emptyDoc() *CacheDoc {
	return &CacheDoc{Version: cacheVersion, Plugins: map[string]*CacheEntry{}}
}

// FileStore persists the cache as a JSON document on disk.
type FileStore struct {
	Path string
}

// NewFileStore creates a file-backed cache store.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the cache document. Missing or corrupt files load as empty.
func (s *FileStore) Load() *CacheDoc {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return emptyDoc()
	}
	var doc CacheDoc
	if err := json.Unmarshal(data, &doc); err != nil || doc.Plugins == nil {
		return emptyDoc()
	}
	return &doc
}

// Save writes the full cache document.
func (s *FileStore) Save(doc *CacheDoc) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, data, 0o644)
}

// RedisStore persists the cache as a single JSON value in Redis, useful
// when many hosts share one plugin tree (CI fleets). The whole document
// lives in one key so writes stay wholesale.
type RedisStore struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// NewRedisStore creates a Redis-backed cache store.
func NewRedisStore(addr, key string) *RedisStore {
	return &RedisStore{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		key:     key,
		timeout: 5 * time.Second,
	}
}

// Load reads the cache document. Connection failures and corrupt values
// load as empty; the cache is always re-derivable from source files.
func (s *RedisStore) Load() *CacheDoc {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		return emptyDoc()
	}
	var doc CacheDoc
	if err := json.Unmarshal(data, &doc); err != nil || doc.Plugins == nil {
		return emptyDoc()
	}
	return &doc
}

// Save writes the full cache document.
func (s *RedisStore) Save(doc *CacheDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Set(ctx, s.key, data, 0).Err()
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
