// Package profile resolves named profile references (@namespace/component)
// to concrete URLs and headers through hierarchical JSON profile stores.
//
// Layout for the HTTP store:
//
//	profiles/http/<api>/_meta.json    connection info (base_url, headers)
//	profiles/http/<api>/<source>.json source definition (path, params)
//
// A reference @genomoncology/annotations merges _meta.json with
// annotations.json. Search order is project, then user, then bundled.
package profile

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Error reports a failure inside a profile store. The address resolver
// re-wraps it as a resolution error.
type Error struct {
	Reference string
	Reason    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("profile %s: %s", e.Reference, e.Reason)
}

// Store resolves a profile component within one namespace to a URL and
// optional headers. Parameters carry the address's query parameters;
// multi-valued parameters arrive joined with "||".
type Store interface {
	Resolve(namespace, component string, params map[string]string) (string, map[string]string, error)
}

// HTTPStore is the default file-backed store for REST API profiles.
type HTTPStore struct {
	// SearchPaths are profile directories in priority order.
	SearchPaths []string
}

// NewHTTPStore builds a store searching, in order: ./.jn/profiles/http,
// <home>/profiles/http for the given jn home directory.
func NewHTTPStore(jnHome string) *HTTPStore {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".jn", "profiles", "http"))
	}
	if jnHome != "" {
		paths = append(paths, filepath.Join(jnHome, "profiles", "http"))
	}
	return &HTTPStore{SearchPaths: paths}
}

type profileDoc struct {
	BaseURL string            `json:"base_url"`
	Path    string            `json:"path"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Params  []string          `json:"params"`
}

// Resolve merges _meta.json with the component document and builds the
// final URL, substituting ${VAR} environment references in base URL and
// header values.
func (s *HTTPStore) Resolve(namespace, component string, params map[string]string) (string, map[string]string, error) {
	ref := "@" + namespace + "/" + component

	merged, err := s.load(namespace, component)
	if err != nil {
		return "", nil, err
	}

	base, err := substituteEnv(merged.BaseURL)
	if err != nil {
		return "", nil, &Error{Reference: ref, Reason: err.Error()}
	}

	u := strings.TrimRight(base, "/")
	if p := strings.TrimLeft(merged.Path, "/"); p != "" {
		u = u + "/" + p
	}
	if len(params) > 0 {
		u = u + "?" + encodeParams(params)
	}

	headers := make(map[string]string, len(merged.Headers))
	for k, v := range merged.Headers {
		hv, err := substituteEnv(v)
		if err != nil {
			return "", nil, &Error{Reference: ref, Reason: err.Error()}
		}
		headers[k] = hv
	}
	if len(headers) == 0 {
		headers = nil
	}
	return u, headers, nil
}

// Exists reports whether any search path holds a profile directory for
// the namespace.
func (s *HTTPStore) Exists(namespace string) bool {
	for _, dir := range s.SearchPaths {
		if info, err := os.Stat(filepath.Join(dir, namespace)); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

func (s *HTTPStore) load(namespace, component string) (*profileDoc, error) {
	ref := "@" + namespace + "/" + component

	for _, dir := range s.SearchPaths {
		apiDir := filepath.Join(dir, namespace)
		metaPath := filepath.Join(apiDir, "_meta.json")

		metaData, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		var meta profileDoc
		if err := json.Unmarshal(metaData, &meta); err != nil {
			return nil, &Error{Reference: ref, Reason: fmt.Sprintf("invalid JSON in %s: %v", metaPath, err)}
		}

		srcPath := filepath.Join(apiDir, component+".json")
		srcData, err := os.ReadFile(srcPath)
		if err != nil {
			return nil, &Error{Reference: ref, Reason: fmt.Sprintf("source not found: %s/%s", namespace, component)}
		}
		var src profileDoc
		if err := json.Unmarshal(srcData, &src); err != nil {
			return nil, &Error{Reference: ref, Reason: fmt.Sprintf("invalid JSON in %s: %v", srcPath, err)}
		}

		// Source fields override connection defaults.
		if src.BaseURL != "" {
			meta.BaseURL = src.BaseURL
		}
		if src.Path != "" {
			meta.Path = src.Path
		}
		if src.Method != "" {
			meta.Method = src.Method
		}
		for k, v := range src.Headers {
			if meta.Headers == nil {
				meta.Headers = map[string]string{}
			}
			meta.Headers[k] = v
		}
		return &meta, nil
	}

	return nil, &Error{Reference: ref, Reason: "profile not found: " + namespace}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv replaces ${VAR} references. An unset variable is an error
// so missing credentials fail loudly instead of producing a broken URL.
func substituteEnv(value string) (string, error) {
	var missing string
	out := envVarPattern.ReplaceAllStringFunc(value, func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = name
			return m
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("environment variable %s not set", missing)
	}
	return out, nil
}

// encodeParams builds a deterministic query string. "||"-joined values
// become repeated keys so OR-sets survive the trip to the remote API.
func encodeParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		for _, v := range strings.Split(params[k], "||") {
			pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(pairs, "&")
}
