package address

import (
	"net/url"
	"strings"
)

// compressionTags are recognized trailing compression suffixes, stripped
// from the base after format and parameter extraction so the remaining
// extension still drives format detection.
var compressionTags = []string{".gz", ".bz2", ".xz"}

// Parse parses an address string of the form base[~format[.variant]][?query].
//
// For protocol-shaped bases (containing "://") a trailing ?query belongs to
// the URL itself unless a ~format marker is present; everything after the
// marker, including any nested "?", is addressing syntax.
func Parse(raw string) (*Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &ParseError{Input: raw, Reason: "address cannot be empty"}
	}

	isProtocol := strings.Contains(trimmed, "://")

	var (
		base       string
		format     string
		parameters map[string]string
		err        error
	)

	if idx := strings.LastIndex(trimmed, "~"); idx >= 0 {
		base = trimmed[:idx]
		formatPart := trimmed[idx+1:]

		if q := strings.Index(formatPart, "?"); q >= 0 {
			parameters, err = parseQuery(formatPart[q+1:])
			if err != nil {
				return nil, &ParseError{Input: raw, Reason: err.Error()}
			}
			formatPart = formatPart[:q]
		} else {
			parameters = map[string]string{}
		}

		if formatPart == "" {
			return nil, &ParseError{Input: raw, Reason: "format override cannot be empty"}
		}

		if dot := strings.Index(formatPart, "."); dot >= 0 {
			format = formatPart[:dot]
			for k, v := range expandShorthand(format, formatPart[dot+1:]) {
				parameters[k] = v
			}
		} else {
			format = formatPart
		}
	} else if q := strings.Index(trimmed, "?"); q >= 0 && !isProtocol {
		base = trimmed[:q]
		parameters, err = parseQuery(trimmed[q+1:])
		if err != nil {
			return nil, &ParseError{Input: raw, Reason: err.Error()}
		}
	} else {
		base = trimmed
		parameters = map[string]string{}
	}

	var compression string
	for _, tag := range compressionTags {
		if strings.HasSuffix(base, tag) {
			compression = tag[1:]
			base = base[:len(base)-len(tag)]
			break
		}
	}

	kind := classify(base)

	addr := &Address{
		Raw:            trimmed,
		Base:           base,
		FormatOverride: format,
		Parameters:     parameters,
		Kind:           kind,
		Compression:    compression,
	}
	if err := validate(addr); err != nil {
		return nil, err
	}
	return addr, nil
}

// classify determines the address kind from the base string.
func classify(base string) Kind {
	switch {
	case base == "-" || base == "stdin" || base == "stdout":
		return KindStdio
	case strings.HasPrefix(base, "@"):
		if strings.Contains(base, "/") {
			return KindProfile
		}
		return KindPlugin
	case strings.Contains(base, "://"):
		return KindProtocol
	default:
		return KindFile
	}
}

// parseQuery parses a query string into a parameter map.
//
// Plain key=value pairs are accepted alongside the compact relational form
// (field>=value, field<=value, field!=value). Percent-encoded operator
// sequences are decoded before detection. The relational forms are rewritten
// to an operator-suffixed key with a bare value ("revenue>=1000" →
// {"revenue>=": "1000"}). Repeated keys are joined with a literal "||"
// separator to preserve OR-set semantics for downstream filtering.
func parseQuery(query string) (map[string]string, error) {
	params := map[string]string{}
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		decoded, err := url.QueryUnescape(pair)
		if err != nil {
			return nil, err
		}

		key, value := splitPair(decoded)
		if key == "" {
			continue
		}
		if prev, ok := params[key]; ok {
			params[key] = prev + "||" + value
		} else {
			params[key] = value
		}
	}
	return params, nil
}

// splitPair splits a decoded query pair on its earliest operator. Two-char
// relational operators win over plain equality when they appear first, so
// "a>=1" keys on "a>=" while "expr=a!=b" keys on "expr".
func splitPair(pair string) (key, value string) {
	eq := strings.Index(pair, "=")

	best := -1
	opLen := 0
	for _, op := range []string{">=", "<=", "!="} {
		if i := strings.Index(pair, op); i >= 0 && (best < 0 || i < best) {
			best = i
			opLen = len(op)
		}
	}

	if best >= 0 && (eq < 0 || best <= eq) {
		return pair[:best+opLen], pair[best+opLen:]
	}
	if eq >= 0 {
		return pair[:eq], pair[eq+1:]
	}
	// Bare key with no value.
	return pair, ""
}

// expandShorthand expands a dotted format variant into named parameters.
// Only the table format defines variants today; other formats ignore the
// variant, leaving room for future shorthands like json.compact.
func expandShorthand(format, variant string) map[string]string {
	if format == "table" {
		return map[string]string{"tablefmt": variant}
	}
	return nil
}

func validate(a *Address) error {
	if a.Base == "" {
		return &ParseError{Input: a.Raw, Reason: "base address cannot be empty"}
	}

	switch a.Kind {
	case KindProfile:
		parts := strings.Split(strings.TrimPrefix(a.Base, "@"), "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return &ParseError{Input: a.Raw, Reason: "profile reference must be @namespace/component"}
		}
	case KindPlugin:
		if strings.TrimPrefix(a.Base, "@") == "" {
			return &ParseError{Input: a.Raw, Reason: "plugin name cannot be empty"}
		}
	case KindProtocol:
		if scheme := a.Base[:strings.Index(a.Base, "://")]; scheme == "" {
			return &ParseError{Input: a.Raw, Reason: "protocol scheme cannot be empty"}
		}
	}

	if a.FormatOverride != "" {
		if strings.ContainsAny(a.FormatOverride, "/@") {
			return &ParseError{
				Input:  a.Raw,
				Reason: "invalid format name " + a.FormatOverride + ": format names are simple identifiers like csv, json, table",
			}
		}
	}
	return nil
}
