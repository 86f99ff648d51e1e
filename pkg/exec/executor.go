package exec

import (
	"context"
	"io"
	"os"
	osexec "os/exec"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/botassembly/jn/pkg/telemetry"
)

// Options controls where the pipeline's outer ends are attached.
type Options struct {
	// Stdin feeds the first stage. nil attaches the null device; an
	// *os.File (including os.Stdin) is passed to the child directly.
	Stdin io.Reader

	// Stdout receives the last stage's output. nil inherits os.Stdout.
	Stdout io.Writer

	// Logger receives debug diagnostics. nil disables them.
	Logger *logrus.Logger
}

// Pipeline executes an ordered chain of stages. Construct with New, then
// call Run for a complete execution or Stream for line-by-line consumption
// of the terminal stage's output.
type Pipeline struct {
	stages []Stage
	states []*stageState
	procs  []*osexec.Cmd
	spans  []trace.Span
	runID  string

	// earlyClose marks that the caller intentionally stopped consuming the
	// terminal stage's output, making a SIGPIPE exit there expected.
	earlyClose bool
}

// New validates the stage list and prepares a pipeline. The first stage
// must be source-capable and the last target-capable; the check happens
// here, not at execution.
func New(stages []Stage) (*Pipeline, error) {
	if err := validate(stages); err != nil {
		return nil, err
	}
	states := make([]*stageState, len(stages))
	for i := range states {
		states[i] = &stageState{}
	}
	return &Pipeline{
		stages: stages,
		states: states,
		runID:  uuid.NewString(),
	}, nil
}

// RunID identifies this pipeline execution in logs.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Status returns the lifecycle snapshot of stage i.
func (p *Pipeline) Status(i int) Status {
	return p.states[i].snapshot()
}

// Stderr returns the captured standard error of stage i.
func (p *Pipeline) Stderr(i int) string {
	p.states[i].mu.Lock()
	defer p.states[i].mu.Unlock()
	return p.states[i].stderr.String()
}

// Run spawns every stage, wires adjacent standard streams, waits for all
// stages, and aggregates their exits. It returns nil when every stage
// exited zero or via an expected end-of-pipe termination.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	if err := p.start(ctx, opts.Stdin, stdout, opts.Logger); err != nil {
		return err
	}
	return p.wait(opts.Logger)
}

// start spawns the chain. Immediately after connecting stage n's stdout to
// stage n+1's stdin the parent closes its own duplicates of both pipe
// ends; a retained write end would keep the pipe alive and deny upstream
// the end-of-pipe notification that downstream early exit relies on.
func (p *Pipeline) start(ctx context.Context, stdin io.Reader, lastStdout io.Writer, log *logrus.Logger) error {
	last := len(p.stages) - 1
	var prevRead *os.File

	fail := func(err error) error {
		if prevRead != nil {
			prevRead.Close()
		}
		p.kill()
		return err
	}

	for i, st := range p.stages {
		cmd := osexec.CommandContext(ctx, st.Argv[0], st.Argv[1:]...)
		if len(st.Env) > 0 {
			cmd.Env = append(os.Environ(), st.Env...)
		}
		cmd.Stderr = &stderrWriter{state: p.states[i]}

		if i == 0 {
			cmd.Stdin = stdin
		} else {
			cmd.Stdin = prevRead
		}

		var nextRead, writeEnd *os.File
		if i < last {
			pr, pw, err := os.Pipe()
			if err != nil {
				return fail(err)
			}
			nextRead, writeEnd = pr, pw
			cmd.Stdout = pw
		} else {
			cmd.Stdout = lastStdout
		}

		if log != nil {
			log.WithFields(logrus.Fields{
				"run":   p.runID,
				"stage": st.Name,
				"role":  st.Role,
			}).Debugf("starting %v", st.Argv)
		}

		if err := cmd.Start(); err != nil {
			if writeEnd != nil {
				writeEnd.Close()
				nextRead.Close()
			}
			return fail(err)
		}
		p.procs = append(p.procs, cmd)
		p.states[i].setRunning()
		_, span := telemetry.StartStage(ctx, st.Name, i)
		p.spans = append(p.spans, span)

		// Close-upstream-handle transition: the child holds its own
		// copies now, the parent's must go.
		if writeEnd != nil {
			writeEnd.Close()
		}
		if prevRead != nil {
			prevRead.Close()
		}
		prevRead = nextRead
	}
	return nil
}

// wait reaps every stage, then reports the first genuine failure. An
// upstream stage killed by SIGPIPE after a legitimate downstream early
// exit is expected and suppressed; it never masks a real downstream
// failure, which is reported with the failing stage's stderr.
func (p *Pipeline) wait(log *logrus.Logger) error {
	var g errgroup.Group
	for i, cmd := range p.procs {
		i, cmd := i, cmd
		g.Go(func() error {
			err := cmd.Wait()
			code, sig, signaled := exitStatus(cmd, err)
			p.states[i].setExited(code, sig, signaled)
			return nil
		})
	}
	g.Wait()

	return p.aggregate(log)
}

func (p *Pipeline) aggregate(log *logrus.Logger) error {
	last := len(p.stages) - 1
	var firstErr error

	for i, st := range p.stages {
		status := p.states[i].snapshot()
		if status.State != StateExited {
			continue
		}
		if status.ExitCode == 0 && !status.Signaled {
			continue
		}

		if status.Signaled && status.Signal == syscall.SIGPIPE {
			// End-of-pipe shutdown. Expected for any non-terminal stage
			// whose consumer stopped early, and for the terminal stage
			// when the caller closed the stream intentionally.
			if i < last || p.earlyClose {
				if log != nil {
					log.WithFields(logrus.Fields{"run": p.runID, "stage": st.Name}).
						Debug("stage ended by end-of-pipe")
				}
				continue
			}
		}

		code := status.ExitCode
		if status.Signaled {
			code = 128 + int(status.Signal)
		}
		err := &StageError{Stage: st.Name, ExitCode: code, Stderr: p.Stderr(i)}
		if i < len(p.spans) {
			p.spans[i].RecordError(err)
		}
		if log != nil {
			log.WithFields(logrus.Fields{"run": p.runID, "stage": st.Name}).
				WithError(err).Debug("stage failed")
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	p.endSpans()
	return firstErr
}

// endSpans closes every open stage span. With no exporter configured the
// spans are the global no-op implementation and this costs nothing.
func (p *Pipeline) endSpans() {
	for _, span := range p.spans {
		span.End()
	}
	p.spans = nil
}

// kill terminates any stages started so far. Used only when wiring fails
// part way; normal shutdown is end-of-pipe propagation.
func (p *Pipeline) kill() {
	p.endSpans()
	for _, cmd := range p.procs {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}
	for i, cmd := range p.procs {
		err := cmd.Wait()
		code, sig, signaled := exitStatus(cmd, err)
		p.states[i].setExited(code, sig, signaled)
	}
}

// exitStatus extracts exit code and signal information from a Wait result.
func exitStatus(cmd *osexec.Cmd, err error) (code int, sig syscall.Signal, signaled bool) {
	if err == nil {
		return 0, 0, false
	}
	if ee, ok := err.(*osexec.ExitError); ok {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 0, ws.Signal(), true
			}
			return ws.ExitStatus(), 0, false
		}
		return ee.ExitCode(), 0, false
	}
	// Wait itself failed; treat as a generic failure.
	return 1, 0, false
}

// stderrWriter captures a stage's stderr under the state lock so Status
// and Stderr are safe during execution.
type stderrWriter struct {
	state *stageState
}

func (w *stderrWriter) Write(b []byte) (int, error) {
	w.state.mu.Lock()
	defer w.state.mu.Unlock()
	return w.state.stderr.Write(b)
}
