package address

import (
	"strings"
	"testing"
)

func TestParse_Kinds(t *testing.T) {
	tests := []struct {
		input string
		kind  Kind
		base  string
	}{
		{"data.csv", KindFile, "data.csv"},
		{"./reports/q3.json", KindFile, "./reports/q3.json"},
		{"https://example.com/data.json", KindProtocol, "https://example.com/data.json"},
		{"s3://bucket/key.csv", KindProtocol, "s3://bucket/key.csv"},
		{"@github/repos", KindProfile, "@github/repos"},
		{"@jq", KindPlugin, "@jq"},
		{"-", KindStdio, "-"},
		{"stdin", KindStdio, "stdin"},
		{"stdout", KindStdio, "stdout"},
	}

	for _, tt := range tests {
		addr, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", tt.input, err)
			continue
		}
		if addr.Kind != tt.kind {
			t.Errorf("Parse(%q).Kind = %v, want %v", tt.input, addr.Kind, tt.kind)
		}
		if addr.Base != tt.base {
			t.Errorf("Parse(%q).Base = %q, want %q", tt.input, addr.Base, tt.base)
		}
	}
}

func TestParse_FormatOverride(t *testing.T) {
	addr, err := Parse("data.txt~csv")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if addr.Base != "data.txt" || addr.FormatOverride != "csv" {
		t.Errorf("got base=%q format=%q", addr.Base, addr.FormatOverride)
	}
}

func TestParse_ShorthandVariant(t *testing.T) {
	addr, err := Parse("data.csv~table.grid")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if addr.FormatOverride != "table" {
		t.Errorf("FormatOverride = %q, want table", addr.FormatOverride)
	}
	if addr.Parameters["tablefmt"] != "grid" {
		t.Errorf("tablefmt = %q, want grid", addr.Parameters["tablefmt"])
	}
}

func TestParse_ShorthandUnknownFormat(t *testing.T) {
	// Only table defines variants; others drop the variant silently.
	addr, err := Parse("data~json.compact")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if addr.FormatOverride != "json" {
		t.Errorf("FormatOverride = %q, want json", addr.FormatOverride)
	}
	if len(addr.Parameters) != 0 {
		t.Errorf("Parameters = %v, want empty", addr.Parameters)
	}
}

func TestParse_QueryParameters(t *testing.T) {
	addr, err := Parse("data.csv?delimiter=;&header=false")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if addr.Parameters["delimiter"] != ";" {
		t.Errorf("delimiter = %q", addr.Parameters["delimiter"])
	}
	if addr.Parameters["header"] != "false" {
		t.Errorf("header = %q", addr.Parameters["header"])
	}
}

func TestParse_RelationalOperators(t *testing.T) {
	tests := []struct {
		input string
		key   string
		value string
	}{
		{"data.csv?revenue>=1000", "revenue>=", "1000"},
		{"data.csv?age<=30", "age<=", "30"},
		{"data.csv?status!=closed", "status!=", "closed"},
		{"data.csv?expr=a!=b", "expr", "a!=b"},
		{"data.csv?name=alice", "name", "alice"},
		{"data.csv?flag", "flag", ""},
	}

	for _, tt := range tests {
		addr, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", tt.input, err)
			continue
		}
		got, ok := addr.Parameters[tt.key]
		if !ok {
			t.Errorf("Parse(%q): key %q missing, have %v", tt.input, tt.key, addr.Parameters)
			continue
		}
		if got != tt.value {
			t.Errorf("Parse(%q)[%q] = %q, want %q", tt.input, tt.key, got, tt.value)
		}
	}
}

func TestParse_RepeatedKeys(t *testing.T) {
	addr, err := Parse("data.csv?category=a&category=b&category=c")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if addr.Parameters["category"] != "a||b||c" {
		t.Errorf("category = %q, want a||b||c", addr.Parameters["category"])
	}
}

func TestParse_ProtocolQueryBelongsToURL(t *testing.T) {
	// Without a format marker, the query is part of the URL.
	addr, err := Parse("https://api.example.com/data?token=xyz&page=2")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if addr.Base != "https://api.example.com/data?token=xyz&page=2" {
		t.Errorf("Base = %q", addr.Base)
	}
	if len(addr.Parameters) != 0 {
		t.Errorf("Parameters = %v, want empty", addr.Parameters)
	}
}

func TestParse_ProtocolWithFormatMarker(t *testing.T) {
	// With a format marker, everything after it is addressing syntax and
	// the URL keeps its own query intact.
	addr, err := Parse("https://api.example.com/data?token=xyz~csv?delimiter=,")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if addr.Base != "https://api.example.com/data?token=xyz" {
		t.Errorf("Base = %q", addr.Base)
	}
	if addr.FormatOverride != "csv" {
		t.Errorf("FormatOverride = %q", addr.FormatOverride)
	}
	if addr.Parameters["delimiter"] != "," {
		t.Errorf("delimiter = %q", addr.Parameters["delimiter"])
	}
}

func TestParse_Compression(t *testing.T) {
	tests := []struct {
		input       string
		base        string
		compression string
	}{
		{"data.csv.gz", "data.csv", "gz"},
		{"logs.json.bz2", "logs.json", "bz2"},
		{"dump.xml.xz", "dump.xml", "xz"},
		{"plain.csv", "plain.csv", ""},
		{"https://example.com/data.csv.gz", "https://example.com/data.csv", "gz"},
	}

	for _, tt := range tests {
		addr, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", tt.input, err)
			continue
		}
		if addr.Base != tt.base {
			t.Errorf("Parse(%q).Base = %q, want %q", tt.input, addr.Base, tt.base)
		}
		if addr.Compression != tt.compression {
			t.Errorf("Parse(%q).Compression = %q, want %q", tt.input, addr.Compression, tt.compression)
		}
	}
}

func TestParse_CompressionWithFormatOverride(t *testing.T) {
	addr, err := Parse("data.csv.gz~csv?delimiter=;")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if addr.Base != "data.csv" || addr.Compression != "gz" {
		t.Errorf("base=%q compression=%q", addr.Base, addr.Compression)
	}
	if addr.FormatOverride != "csv" || addr.Parameters["delimiter"] != ";" {
		t.Errorf("format=%q params=%v", addr.FormatOverride, addr.Parameters)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		input  string
		reason string
	}{
		{"", "empty"},
		{"   ", "empty"},
		{"data.csv~", "format override cannot be empty"},
		{"@ns/", "profile reference"},
		{"@/comp", "profile reference"},
		{"@", "plugin name"},
		{"data~a/b", "format name"},
	}

	for _, tt := range tests {
		_, err := Parse(tt.input)
		if err == nil {
			t.Errorf("Parse(%q): expected error", tt.input)
			continue
		}
		if !strings.Contains(err.Error(), tt.reason) {
			t.Errorf("Parse(%q) error = %q, want substring %q", tt.input, err.Error(), tt.reason)
		}
	}
}

func TestAddress_StringRoundTrip(t *testing.T) {
	inputs := []string{
		"data.csv",
		"data.txt~csv",
		"data.csv?delimiter=;",
		"data.csv?revenue>=1000&category=a&category=b",
		"data.csv.gz~csv",
		"@github/repos?org=golang",
		"https://example.com/data.json",
		"-~csv",
	}

	for _, input := range inputs {
		first, err := Parse(input)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", input, err)
			continue
		}
		second, err := Parse(first.String())
		if err != nil {
			t.Errorf("re-Parse(%q) error: %v", first.String(), err)
			continue
		}
		if second.Base != first.Base || second.FormatOverride != first.FormatOverride ||
			second.Kind != first.Kind || second.Compression != first.Compression {
			t.Errorf("round trip %q → %q changed address: %+v vs %+v", input, first.String(), first, second)
		}
		for k, v := range first.Parameters {
			if second.Parameters[k] != v {
				t.Errorf("round trip %q: param %q = %q, want %q", input, k, second.Parameters[k], v)
			}
		}
	}
}

func TestParse_WhitespaceTrimmed(t *testing.T) {
	addr, err := Parse("  data.csv  ")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if addr.Base != "data.csv" {
		t.Errorf("Base = %q", addr.Base)
	}
}
