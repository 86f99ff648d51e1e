// Package registry compiles plugin activation patterns into a
// specificity-ordered matcher. The registry is pure: callers rebuild it
// whenever the discovery map changes and pass it by reference to the
// functions that need it.
package registry

import (
	"regexp"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/botassembly/jn/pkg/plugin"
)

// matchMemoSize bounds the per-registry memo of match results. Resolution
// hits the same handful of sources repeatedly within one invocation.
const matchMemoSize = 256

type entry struct {
	pattern     *regexp.Regexp
	pluginName  string
	specificity int
	category    string
}

// Registry answers "which plugin matches this string". Longer patterns are
// preferred; ties keep insertion order.
type Registry struct {
	entries []entry
	memo    *lru.Cache[string, string]
}

// Build compiles the activation patterns of every plugin. Invalid patterns
// are dropped silently. Plugins are registered in lexical name order so the
// tie-break between equal-length patterns is deterministic across runs.
func Build(plugins map[string]*plugin.Metadata) *Registry {
	names := make([]string, 0, len(plugins))
	for name := range plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	r := &Registry{}
	r.memo, _ = lru.New[string, string](matchMemoSize)

	for _, name := range names {
		meta := plugins[name]
		for _, pat := range meta.Matches {
			re, err := regexp.Compile(pat)
			if err != nil {
				continue
			}
			r.entries = append(r.entries, entry{
				pattern:     re,
				pluginName:  meta.Name,
				specificity: len(pat),
				category:    meta.Category,
			})
		}
	}

	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].specificity > r.entries[j].specificity
	})
	return r
}

// Match returns the plugin whose most specific pattern matches source.
func (r *Registry) Match(source string) (string, bool) {
	if name, ok := r.memo.Get(source); ok {
		return name, name != ""
	}
	name := ""
	for _, e := range r.entries {
		if e.pattern.MatchString(source) {
			name = e.pluginName
			break
		}
	}
	r.memo.Add(source, name)
	return name, name != ""
}

// MatchCategory returns the most specific match among plugins of one
// category (protocol, format, filter).
func (r *Registry) MatchCategory(source, category string) (string, bool) {
	for _, e := range r.entries {
		if e.category != category {
			continue
		}
		if e.pattern.MatchString(source) {
			return e.pluginName, true
		}
	}
	return "", false
}

// PlanForRead returns the ordered plugin names needed to read a source.
// When a raw-capable protocol plugin and a format plugin both match, the
// read is a two-stage plan: fetch raw bytes, then parse them. Otherwise
// the single best match wins.
func (r *Registry) PlanForRead(source string, plugins map[string]*plugin.Metadata) []string {
	proto, protoOK := r.MatchCategory(source, "protocol")
	format, fmtOK := r.MatchCategory(source, "format")

	if protoOK && fmtOK {
		if meta, ok := plugins[proto]; ok && meta.SupportsRaw {
			return []string{proto, format}
		}
	}
	if name, ok := r.Match(source); ok {
		return []string{name}
	}
	return nil
}

// Len reports the number of compiled patterns.
func (r *Registry) Len() int {
	return len(r.entries)
}
