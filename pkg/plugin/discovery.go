package plugin

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Discover walks a plugin root and extracts metadata from every candidate
// script. Package-init and test-named files are skipped, as is any file
// without a valid metadata block. Only a failure to read the root itself
// yields an empty result; individual unreadable files are skipped.
func Discover(root string) map[string]*Metadata {
	plugins := make(map[string]*Metadata)
	if root == "" {
		return plugins
	}
	if _, err := os.Stat(root); err != nil {
		return plugins
	}

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() || !isCandidate(d.Name()) {
			return nil
		}
		if meta, ok := Extract(path); ok {
			plugins[meta.Name] = meta
		}
		return nil
	})
	return plugins
}

// isCandidate reports whether a file name is a plugin candidate.
func isCandidate(name string) bool {
	if !strings.HasSuffix(name, ".py") {
		return false
	}
	if name == "__init__.py" {
		return false
	}
	if strings.HasPrefix(name, "test_") || strings.HasSuffix(name, "_test.py") {
		return false
	}
	return true
}

// DiscoverCached discovers plugins under root, reusing cached metadata for
// any file whose modification time has not advanced past the cached value.
// Cache entries without a corresponding file are dropped. The cache is
// rewritten wholesale whenever anything changed.
func DiscoverCached(root string, store Store) map[string]*Metadata {
	if store == nil {
		return Discover(root)
	}

	doc := store.Load()
	result := make(map[string]*Metadata)
	dirty := false

	current := enumerate(root)
	for name, path := range current {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		mtime := info.ModTime().UnixNano()

		if cached, ok := doc.Plugins[name]; ok && mtime <= cached.ModTime {
			meta := cached.clone()
			meta.Name = name
			meta.Path = filepath.Join(root, cached.Path)
			result[name] = meta
			continue
		}

		meta, ok := Extract(path)
		if !ok {
			// Previously cached but no longer parseable as a plugin.
			if _, had := doc.Plugins[name]; had {
				dirty = true
			}
			continue
		}
		result[name] = meta
		dirty = true
	}

	for name := range doc.Plugins {
		if _, ok := current[name]; !ok {
			dirty = true
		}
	}

	if dirty {
		fresh := &CacheDoc{Version: cacheVersion, Plugins: make(map[string]*CacheEntry, len(result))}
		for name, meta := range result {
			rel, err := filepath.Rel(root, meta.Path)
			if err != nil {
				rel = meta.Path
			}
			entry := entryFromMetadata(meta)
			entry.Path = rel
			fresh.Plugins[name] = entry
		}
		if err := store.Save(fresh); err != nil {
			// The cache is always re-derivable; a failed write only costs
			// a re-scan next time.
			logrus.WithError(err).Debug("plugin cache write failed")
		}
	}

	return result
}

// enumerate lists candidate files under root keyed by plugin name, without
// extracting metadata.
func enumerate(root string) map[string]string {
	files := make(map[string]string)
	if root == "" {
		return files
	}
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && isCandidate(d.Name()) {
			files[stem(path)] = path
		}
		return nil
	})
	return files
}

// DiscoverWithFallback merges a small built-in plugin root, discovered
// fresh on every call, with a cached user root. Same-named user plugins
// override built-ins.
func DiscoverWithFallback(builtinRoot, userRoot string, store Store) map[string]*Metadata {
	result := Discover(builtinRoot)
	for name, meta := range DiscoverCached(userRoot, store) {
		result[name] = meta
	}
	return result
}

// ByName returns the plugin with the exact given name.
func ByName(name string, plugins map[string]*Metadata) (*Metadata, bool) {
	meta, ok := plugins[name]
	return meta, ok
}
