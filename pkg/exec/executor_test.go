package exec

import (
	"bytes"
	"context"
	"strings"
	"syscall"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func sh(name string, role Role, script string) Stage {
	return Stage{Name: name, Role: role, Argv: []string{"/bin/sh", "-c", script}}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		stages []Stage
	}{
		{"empty pipeline", nil},
		{"empty argv", []Stage{{Name: "x", Role: RoleSource}}},
		{"target first", []Stage{sh("w", RoleTarget, "cat")}},
		{"source last", []Stage{
			sh("r", RoleSource, "cat"),
			sh("r2", RoleSource, "cat"),
		}},
	}

	for _, tt := range tests {
		if _, err := New(tt.stages); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestRun_TwoStagePipeline(t *testing.T) {
	stages := []Stage{
		sh("emit", RoleSource, "printf 'a\\nb\\nc\\n'"),
		sh("upper", RoleTarget, "tr a-z A-Z"),
	}
	p, err := New(stages)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := p.Run(context.Background(), Options{Stdout: &out}); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out.String() != "A\nB\nC\n" {
		t.Errorf("output = %q", out.String())
	}

	for i := range stages {
		st := p.Status(i)
		if st.State != StateExited || st.ExitCode != 0 {
			t.Errorf("stage %d status = %+v", i, st)
		}
	}
}

func TestRun_StdinFeedsFirstStage(t *testing.T) {
	p, err := New([]Stage{sh("pass", RoleSource, "cat")})
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	opts := Options{Stdin: strings.NewReader("hello\n"), Stdout: &out}
	if err := p.Run(context.Background(), opts); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out.String() != "hello\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRun_FailureCarriesStderr(t *testing.T) {
	p, err := New([]Stage{sh("boom", RoleSource, "echo broken pipe wiring >&2; exit 2")})
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err = p.Run(context.Background(), Options{Stdout: &out})
	if err == nil {
		t.Fatal("expected failure")
	}
	se, ok := err.(*StageError)
	if !ok {
		t.Fatalf("error type %T, want *StageError", err)
	}
	if se.Stage != "boom" || se.ExitCode != 2 {
		t.Errorf("StageError = %+v", se)
	}
	if !strings.Contains(se.Stderr, "broken pipe wiring") {
		t.Errorf("Stderr = %q", se.Stderr)
	}
}

func TestRun_FilterFailureNotMaskedByUpstreamSIGPIPE(t *testing.T) {
	// The source writes forever; the filter fails after one record. The
	// source's SIGPIPE death is a consequence, not the cause, and must
	// not displace the filter's error.
	stages := []Stage{
		sh("feed", RoleSource, "while :; do echo data; done"),
		sh("fail", RoleFilter, "read line; echo transform error >&2; exit 3"),
		sh("sink", RoleTarget, "cat >/dev/null"),
	}
	p, err := New(stages)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err = p.Run(context.Background(), Options{Stdout: &out})
	if err == nil {
		t.Fatal("expected failure")
	}
	se, ok := err.(*StageError)
	if !ok {
		t.Fatalf("error type %T, want *StageError", err)
	}
	if se.Stage != "fail" {
		t.Errorf("failing stage = %q, want fail", se.Stage)
	}
	if se.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", se.ExitCode)
	}
	if !strings.Contains(se.Stderr, "transform error") {
		t.Errorf("Stderr = %q", se.Stderr)
	}

	// The source was terminated by end-of-pipe, recorded but suppressed.
	feed := p.Status(0)
	if feed.State != StateExited {
		t.Errorf("source state = %v, want exited", feed.State)
	}
	if !feed.Signaled || feed.Signal != syscall.SIGPIPE {
		t.Errorf("source status = %+v, want SIGPIPE", feed)
	}
}

func TestRun_DownstreamEarlyExitZeroIsClean(t *testing.T) {
	// A downstream stage that exits zero after partial consumption is a
	// legitimate bounded consumer; the whole pipeline succeeds.
	stages := []Stage{
		sh("feed", RoleSource, "while :; do echo data; done"),
		sh("first", RoleTarget, "head -n 5"),
	}
	p, err := New(stages)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := p.Run(context.Background(), Options{Stdout: &out}); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got := strings.Count(out.String(), "\n"); got != 5 {
		t.Errorf("got %d lines, want 5", got)
	}

	// No stage may be left running after Run returns.
	for i := range stages {
		if st := p.Status(i); st.State != StateExited {
			t.Errorf("stage %d still %v", i, st.State)
		}
	}
}

func TestStream_BoundedConsumption(t *testing.T) {
	p, err := New([]Stage{sh("feed", RoleSource, "while :; do echo record; done")})
	if err != nil {
		t.Fatal(err)
	}

	s, err := p.Stream(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if !s.Scan() {
			t.Fatalf("Scan returned false at line %d", i)
		}
		if s.Text() != "record" {
			t.Errorf("line = %q", s.Text())
		}
	}

	// Early close: the infinite source dies of SIGPIPE, which is the
	// expected shutdown, not a failure.
	if err := s.Close(); err != nil {
		t.Errorf("Close error: %v", err)
	}

	st := p.Status(0)
	if st.State != StateExited {
		t.Errorf("source state = %v, want exited", st.State)
	}
	if !st.Signaled || st.Signal != syscall.SIGPIPE {
		t.Errorf("source status = %+v, want SIGPIPE exit", st)
	}
}

func TestStream_ExhaustionThenClose(t *testing.T) {
	p, err := New([]Stage{sh("emit", RoleSource, "printf 'x\\ny\\n'")})
	if err != nil {
		t.Fatal(err)
	}

	s, err := p.Stream(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	var lines []string
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	if len(lines) != 2 {
		t.Errorf("lines = %v", lines)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close error: %v", err)
	}
	// Idempotent
	if err := s.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
}

func TestStream_Copy(t *testing.T) {
	p, err := New([]Stage{sh("emit", RoleSource, "printf '1\\n2\\n3\\n'")})
	if err != nil {
		t.Fatal(err)
	}

	s, err := p.Stream(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if _, err := s.Copy(&out); err != nil {
		t.Fatalf("Copy error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close error: %v", err)
	}
	if out.String() != "1\n2\n3\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRun_EmitsStageSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	defer otel.SetTracerProvider(prev)

	stages := []Stage{
		sh("emit", RoleSource, "printf 'a\\nb\\n'"),
		sh("sink", RoleTarget, "cat >/dev/null"),
	}
	p, err := New(stages)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, span := range rec.Ended() {
		if span.Name() != "pipeline.stage" {
			continue
		}
		for _, attr := range span.Attributes() {
			if attr.Key == "jn.plugin" {
				got = append(got, attr.Value.AsString())
			}
		}
	}
	if len(got) != 2 || got[0] != "emit" || got[1] != "sink" {
		t.Errorf("stage spans = %v, want [emit sink]", got)
	}
}

func TestRunID_Unique(t *testing.T) {
	a, err := New([]Stage{sh("x", RoleSource, "true")})
	if err != nil {
		t.Fatal(err)
	}
	b, err := New([]Stage{sh("y", RoleSource, "true")})
	if err != nil {
		t.Fatal(err)
	}
	if a.RunID() == "" || a.RunID() == b.RunID() {
		t.Errorf("run IDs not unique: %q %q", a.RunID(), b.RunID())
	}
}
