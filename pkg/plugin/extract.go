package plugin

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// blockPattern matches a fenced script metadata block:
//
//	# /// script
//	# requires = ">=3.10"
//	# dependencies = []
//	#
//	# [tool.jn]
//	# matches = ["\\.csv$"]
//	# ///
//
// Interior lines are comment lines; the leader is stripped before the body
// is parsed as TOML.
var blockPattern = regexp.MustCompile(`(?m)^# /// (?P<type>[a-zA-Z0-9-]+)[ \t]*\r?\n(?P<content>(?:#(?:| .*)\r?\n)+)# ///[ \t]*\r?$`)

// metadataDoc mirrors the structured document inside a metadata block.
type metadataDoc struct {
	Requires     string   `toml:"requires"`
	Dependencies []string `toml:"dependencies"`
	Tool         struct {
		JN struct {
			Matches           []string `toml:"matches"`
			Role              string   `toml:"role"`
			SupportsRaw       bool     `toml:"supports_raw"`
			ManagesParameters bool     `toml:"manages_parameters"`
		} `toml:"jn"`
	} `toml:"tool"`
}

// Extract reads the metadata block from a candidate script without
// executing it. The second return value is false when the file is not a
// plugin: no block, a block of the wrong type, an unreadable file, or a
// body that fails to parse. Absence is never an error; a skipped candidate
// and a parsed-but-empty block are distinct results.
func Extract(path string) (*Metadata, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	// Only the first block declaring the reserved "script" type counts.
	var body string
	for _, match := range blockPattern.FindAllStringSubmatch(string(content), -1) {
		if match[1] == "script" {
			body = match[2]
			break
		}
	}
	if body == "" {
		return nil, false
	}

	var doc metadataDoc
	if _, err := toml.Decode(stripLeader(body), &doc); err != nil {
		return nil, false
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}

	meta := &Metadata{
		Name:              stem(path),
		Path:              path,
		ModTime:           info.ModTime().UnixNano(),
		Matches:           doc.Tool.JN.Matches,
		Requires:          doc.Requires,
		Dependencies:      doc.Dependencies,
		Role:              Role(doc.Tool.JN.Role),
		Category:          categoryFromPath(path),
		SupportsRaw:       doc.Tool.JN.SupportsRaw,
		ManagesParameters: doc.Tool.JN.ManagesParameters,
	}
	if meta.Matches == nil {
		meta.Matches = []string{}
	}
	return meta, true
}

// stripLeader removes the comment leader from the block's interior lines.
func stripLeader(body string) string {
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	out := make([]string, len(lines))
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "# "):
			out[i] = line[2:]
		case strings.HasPrefix(line, "#"):
			out[i] = line[1:]
		default:
			out[i] = line
		}
	}
	return strings.Join(out, "\n")
}

// stem returns the file name without its extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// categoryFromPath infers the plugin category from its directory layout.
func categoryFromPath(path string) string {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		switch part {
		case "protocols":
			return "protocol"
		case "formats":
			return "format"
		case "filters":
			return "filter"
		}
	}
	return ""
}
