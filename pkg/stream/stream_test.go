package stream

import (
	"strings"
	"testing"
)

func TestHead(t *testing.T) {
	tests := []struct {
		name  string
		input string
		n     int
		want  string
	}{
		{"fewer than n", "a\nb\n", 5, "a\nb\n"},
		{"exactly n", "a\nb\nc\n", 3, "a\nb\nc\n"},
		{"more than n", "a\nb\nc\nd\ne\n", 2, "a\nb\n"},
		{"zero", "a\nb\n", 0, ""},
		{"empty input", "", 3, ""},
		{"no trailing newline", "a\nb", 5, "a\nb\n"},
	}

	for _, tt := range tests {
		var out strings.Builder
		if err := Head(strings.NewReader(tt.input), tt.n, &out); err != nil {
			t.Errorf("%s: Head error: %v", tt.name, err)
			continue
		}
		if out.String() != tt.want {
			t.Errorf("%s: Head = %q, want %q", tt.name, out.String(), tt.want)
		}
	}
}

// endlessReader produces "record\n" lines forever. Head must return
// without trying to drain it.
type endlessReader struct {
	reads int
}

func (e *endlessReader) Read(p []byte) (int, error) {
	e.reads++
	return copy(p, "record\nrecord\nrecord\nrecord\n"), nil
}

func TestHead_StopsScanning(t *testing.T) {
	r := &endlessReader{}
	var out strings.Builder
	if err := Head(r, 3, &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != "record\nrecord\nrecord\n" {
		t.Errorf("Head = %q", out.String())
	}
	// A single buffered read covers three short lines; anything close
	// to draining would never return at all.
	if r.reads > 2 {
		t.Errorf("Head issued %d reads for 3 lines", r.reads)
	}
}

func TestTail(t *testing.T) {
	tests := []struct {
		name  string
		input string
		n     int
		want  string
	}{
		{"fewer than n", "a\nb\n", 5, "a\nb\n"},
		{"exactly n", "a\nb\nc\n", 3, "a\nb\nc\n"},
		{"more than n", "a\nb\nc\nd\ne\n", 2, "d\ne\n"},
		{"single", "a\nb\nc\n", 1, "c\n"},
		{"zero drains", "a\nb\n", 0, ""},
		{"empty input", "", 3, ""},
	}

	for _, tt := range tests {
		var out strings.Builder
		if err := Tail(strings.NewReader(tt.input), tt.n, &out); err != nil {
			t.Errorf("%s: Tail error: %v", tt.name, err)
			continue
		}
		if out.String() != tt.want {
			t.Errorf("%s: Tail = %q, want %q", tt.name, out.String(), tt.want)
		}
	}
}

func TestTail_ConstantMemoryOrder(t *testing.T) {
	// The ring wraps many times over; order must survive the wrap.
	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		sb.WriteString(strings.Repeat("x", i%7) + "\n")
	}
	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")

	var out strings.Builder
	if err := Tail(strings.NewReader(sb.String()), 3, &out); err != nil {
		t.Fatal(err)
	}
	want := strings.Join(lines[len(lines)-3:], "\n") + "\n"
	if out.String() != want {
		t.Errorf("Tail = %q, want %q", out.String(), want)
	}
}
