// Package address implements the uniform addressing system: parsing
// address strings of the form base[~format][?parameters] and resolving
// them to concrete plugins and invocation configurations.
package address

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an address for resolution strategy.
type Kind string

const (
	// KindFile is a filesystem path (the default).
	KindFile Kind = "file"
	// KindProtocol is a URL with a scheme (http://, s3://, gmail://).
	KindProtocol Kind = "protocol"
	// KindProfile is a named profile reference (@namespace/component).
	KindProfile Kind = "profile"
	// KindPlugin is a direct plugin reference (@plugin).
	KindPlugin Kind = "plugin"
	// KindStdio is stdin/stdout ("-", "stdin", "stdout").
	KindStdio Kind = "stdio"
)

// Address is a parsed address. It is created once per invocation by Parse
// and never mutated afterwards.
type Address struct {
	// Raw is the original address string as supplied by the user.
	Raw string

	// Base is the address without format override or parameters,
	// e.g. "file.csv", "http://example.com", "@gmail/inbox", "-".
	Base string

	// FormatOverride is the format forced with the ~ operator, if any.
	// Shorthand variants are expanded by the parser ("table.grid" → "table").
	FormatOverride string

	// Parameters holds query parameters from the ? operator. Relational
	// operators are kept as key suffixes ("revenue>=" → "1000"), and
	// repeated keys are joined with "||".
	Parameters map[string]string

	// Kind selects the resolution strategy.
	Kind Kind

	// Compression is a trailing compression tag stripped from Base
	// ("gz", "bz2", "xz"), or empty.
	Compression string
}

// ParseError reports malformed address syntax. Parse errors are always
// fatal to the current command and name the offending input.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Input, e.Reason)
}

// String reconstructs an address string equivalent to the parsed input.
// Re-parsing the result yields an Address with the same base, format,
// kind, and parameter multiset.
func (a *Address) String() string {
	var sb strings.Builder
	sb.WriteString(a.Base)
	if a.Compression != "" {
		sb.WriteString("." + a.Compression)
	}
	if a.FormatOverride != "" {
		sb.WriteString("~" + a.FormatOverride)
	}
	if len(a.Parameters) > 0 {
		keys := make([]string, 0, len(a.Parameters))
		for k := range a.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var pairs []string
		for _, k := range keys {
			for _, v := range strings.Split(a.Parameters[k], "||") {
				if hasOperatorSuffix(k) {
					// Operator-suffixed key already carries its own
					// separator: "revenue>=" + "1000".
					pairs = append(pairs, k+v)
				} else {
					pairs = append(pairs, k+"="+v)
				}
			}
		}
		sb.WriteString("?" + strings.Join(pairs, "&"))
	}
	return sb.String()
}

// hasOperatorSuffix reports whether a parameter key carries a relational
// operator rewritten from the compact query form.
func hasOperatorSuffix(key string) bool {
	return strings.HasSuffix(key, ">=") ||
		strings.HasSuffix(key, "<=") ||
		strings.HasSuffix(key, "!=")
}
