// jn - pipe-oriented data plumbing.
// Converts anything addressable into newline-delimited JSON and back,
// by composing small plugin processes over Unix pipes.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/botassembly/jn/pkg/address"
	"github.com/botassembly/jn/pkg/config"
	"github.com/botassembly/jn/pkg/exec"
	"github.com/botassembly/jn/pkg/plugin"
	"github.com/botassembly/jn/pkg/profile"
	"github.com/botassembly/jn/pkg/stream"
	"github.com/botassembly/jn/pkg/telemetry"
	"github.com/botassembly/jn/pkg/tui"
	"github.com/botassembly/jn/pkg/watch"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	verbose   bool
	lineCount int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		tui.PrintError(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "jn",
	Short: "jn - stream anything as newline-delimited JSON",
	Long: `jn converts files, URLs, and remote APIs to and from newline-delimited
JSON by composing plugin processes over Unix pipes.

Every command takes a uniform address: base[~format[.variant]][?query]

Examples:
  jn cat data.csv                        # CSV to NDJSON on stdout
  jn cat data.txt~csv                    # force the CSV reader
  jn cat "data.csv?delimiter=;"          # reader configuration
  jn cat https://api.example.com/x.json  # fetch then parse
  jn cat @github/repos?org=golang        # profile reference
  jn run data.csv out.json               # full conversion pipeline`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var catCmd = &cobra.Command{
	Use:   "cat <address>",
	Short: "Read an address and emit NDJSON on stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

var putCmd = &cobra.Command{
	Use:   "put <address>",
	Short: "Consume NDJSON from stdin and write it to an address",
	Args:  cobra.ExactArgs(1),
	RunE:  runPut,
}

var runCmd = &cobra.Command{
	Use:   "run <input> <output>",
	Short: "Convert input address to output address",
	Long: `Chains read and write pipelines with automatic backpressure.
Equivalent to: jn cat input | jn put output, without the extra copy.`,
	Args: cobra.ExactArgs(2),
	RunE: runRun,
}

var headCmd = &cobra.Command{
	Use:   "head [address]",
	Short: "Emit the first N records, stopping the source early",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHead,
}

var tailCmd = &cobra.Command{
	Use:   "tail [address]",
	Short: "Emit the last N records",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTail,
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List discovered plugins",
	Args:  cobra.NoArgs,
	RunE:  runPlugins,
}

var pluginsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one plugin's metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsShow,
}

var watchCmd = &cobra.Command{
	Use:   "watch <input> <output>",
	Short: "Rerun a conversion whenever the input file changes",
	Args:  cobra.ExactArgs(2),
	RunE:  runWatch,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	headCmd.Flags().IntVarP(&lineCount, "lines", "n", 10, "Number of records")
	tailCmd.Flags().IntVarP(&lineCount, "lines", "n", 10, "Number of records")

	pluginsCmd.AddCommand(pluginsShowCmd)

	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(headCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(watchCmd)
}

// app bundles the per-invocation state every command needs.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	plugins  map[string]*plugin.Metadata
	resolver *address.Resolver
	shutdown func(context.Context) error
}

func setup() (*app, error) {
	if err := config.Global().Load(); err != nil {
		return nil, err
	}
	cfg := config.Global().Get()

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	}

	var store plugin.Store
	if cfg.Cache.RedisURL != "" {
		store = plugin.NewRedisStore(cfg.Cache.RedisURL, "jn:plugins")
	} else {
		store = plugin.NewFileStore(cfg.Cache.Path)
	}

	plugins := plugin.DiscoverWithFallback(cfg.Plugins.BuiltinDir, cfg.Plugins.UserDir, store)
	log.WithField("count", len(plugins)).Debug("plugins discovered")

	profiles := profile.NewHTTPStore(cfg.Home)
	resolver := address.NewResolver(plugins, profiles, cfg.Runner.Command)

	a := &app{
		cfg:      cfg,
		log:      log,
		plugins:  plugins,
		resolver: resolver,
	}

	if cfg.Telemetry.Enabled {
		otlp := telemetry.DefaultOTLPConfig("jn")
		if cfg.Telemetry.Endpoint != "" {
			otlp.Endpoint = cfg.Telemetry.Endpoint
		}
		shutdown, err := telemetry.InitOTLP(otlp)
		if err != nil {
			log.WithError(err).Warn("telemetry disabled")
		} else {
			a.shutdown = shutdown
		}
	}

	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		a.shutdown(ctx)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// stdinFor picks the first stage's input. Local files are opened here
// and fed through the pipe; plugins never open paths themselves.
func stdinFor(addr *address.Address, stages []exec.Stage) (io.Reader, func(), error) {
	if len(stages) == 0 {
		return os.Stdin, func() {}, nil
	}
	switch addr.Kind {
	case address.KindFile:
		f, err := os.Open(addr.Base)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	case address.KindStdio:
		return os.Stdin, func() {}, nil
	default:
		// protocol, profile, plugin: the URL travels as an argument
		return nil, func() {}, nil
	}
}

// runPipeline executes stages with stdin/stdout wiring and reports
// failures on stderr. It is the shared tail of cat, put, and run.
func (a *app) runPipeline(ctx context.Context, stages []exec.Stage, stdin io.Reader, stdout io.Writer) error {
	p, err := exec.New(stages)
	if err != nil {
		return err
	}

	ctx, span := telemetry.StartRun(ctx, p.RunID(), len(stages))
	defer span.End()

	start := time.Now()
	err = p.Run(ctx, exec.Options{Stdin: stdin, Stdout: stdout, Logger: a.log})
	if err != nil {
		telemetry.RecordError(ctx, err)
		if verbose {
			a.dumpStages(stages, p)
		}
		return err
	}

	if verbose {
		a.log.WithField("elapsed", time.Since(start)).Debug("pipeline complete")
	}
	return nil
}

// dumpStages prints per-stage exit detail after a failure.
func (a *app) dumpStages(stages []exec.Stage, p *exec.Pipeline) {
	for i, s := range stages {
		st := p.Status(i)
		fmt.Fprintf(os.Stderr, "  stage %d: %s [%s] %s\n", i, s.Name, s.Role, strings.Join(s.Argv, " "))
		if st.State == exec.StateExited && st.ExitCode != 0 {
			tui.PrintStageFailure(s.Name, st.ExitCode, p.Stderr(i))
		}
	}
}

func runCat(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	defer a.close(ctx)

	addr, err := address.Parse(args[0])
	if err != nil {
		return err
	}
	stages, err := a.resolver.Plan(addr, address.ModeRead)
	if err != nil {
		return err
	}

	// Bare stdio with no override is a pure passthrough
	if len(stages) == 0 {
		_, err := io.Copy(os.Stdout, os.Stdin)
		return err
	}

	stdin, cleanup, err := stdinFor(addr, stages)
	if err != nil {
		return err
	}
	defer cleanup()

	if !verbose {
		return a.runPipeline(ctx, stages, stdin, os.Stdout)
	}
	out := &lineCountWriter{w: os.Stdout}
	start := time.Now()
	if err := a.runPipeline(ctx, stages, stdin, out); err != nil {
		return err
	}
	tui.PrintDone(out.lines, time.Since(start))
	return nil
}

// lineCountWriter counts emitted records for the verbose summary.
type lineCountWriter struct {
	w     io.Writer
	lines int64
}

func (l *lineCountWriter) Write(p []byte) (int, error) {
	l.lines += int64(bytes.Count(p, []byte{'\n'}))
	return l.w.Write(p)
}

func runPut(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	defer a.close(ctx)

	addr, err := address.Parse(args[0])
	if err != nil {
		return err
	}
	stages, err := a.resolver.Plan(addr, address.ModeWrite)
	if err != nil {
		return err
	}
	if len(stages) == 0 {
		_, err := io.Copy(os.Stdout, os.Stdin)
		return err
	}

	return a.runPipeline(ctx, stages, os.Stdin, os.Stdout)
}

// buildRunStages plans the read side and appends the write stage,
// fixing roles so only the final stage is the target.
func (a *app) buildRunStages(input, output string) (*address.Address, []exec.Stage, error) {
	inAddr, err := address.Parse(input)
	if err != nil {
		return nil, nil, err
	}
	outAddr, err := address.Parse(output)
	if err != nil {
		return nil, nil, err
	}

	readStages, err := a.resolver.Plan(inAddr, address.ModeRead)
	if err != nil {
		return nil, nil, err
	}
	writeStages, err := a.resolver.Plan(outAddr, address.ModeWrite)
	if err != nil {
		return nil, nil, err
	}

	stages := append(readStages, writeStages...)
	for i := range stages {
		switch i {
		case 0:
			stages[i].Role = exec.RoleSource
		case len(stages) - 1:
			stages[i].Role = exec.RoleTarget
		default:
			stages[i].Role = exec.RoleFilter
		}
	}
	if len(stages) == 1 {
		// read side was a stdio passthrough; the writer is the whole plan
		stages[0].Role = exec.RoleTarget
	}
	return inAddr, stages, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	defer a.close(ctx)

	inAddr, stages, err := a.buildRunStages(args[0], args[1])
	if err != nil {
		return err
	}

	stdin, cleanup, err := stdinFor(inAddr, stages)
	if err != nil {
		return err
	}
	defer cleanup()

	if verbose && inAddr.Kind == address.KindFile {
		if fi, statErr := os.Stat(inAddr.Base); statErr == nil {
			bar := tui.ShowProgress(fi.Size(), "reading "+filepath.Base(inAddr.Base))
			stdin = io.TeeReader(stdin, bar)
			defer bar.Finish()
		}
	}

	return a.runPipeline(ctx, stages, stdin, os.Stdout)
}

// addressArg returns the single optional address argument, defaulting
// to stdio.
func addressArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return "-"
}

func runHead(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	defer a.close(ctx)

	addr, err := address.Parse(addressArg(args))
	if err != nil {
		return err
	}
	stages, err := a.resolver.Plan(addr, address.ModeRead)
	if err != nil {
		return err
	}
	if len(stages) == 0 {
		return stream.Head(os.Stdin, lineCount, os.Stdout)
	}

	stdin, cleanup, err := stdinFor(addr, stages)
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := exec.New(stages)
	if err != nil {
		return err
	}
	s, err := p.Stream(ctx, exec.Options{Stdin: stdin, Logger: a.log})
	if err != nil {
		return err
	}

	for count := 0; count < lineCount && s.Scan(); count++ {
		fmt.Fprintln(os.Stdout, s.Text())
	}
	if err := s.Err(); err != nil {
		s.Close()
		return err
	}

	// Closing early tears the pipeline down; upstream SIGPIPE from the
	// early stop is expected and not an error.
	return s.Close()
}

func runTail(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	defer a.close(ctx)

	addr, err := address.Parse(addressArg(args))
	if err != nil {
		return err
	}
	stages, err := a.resolver.Plan(addr, address.ModeRead)
	if err != nil {
		return err
	}
	if len(stages) == 0 {
		return stream.Tail(os.Stdin, lineCount, os.Stdout)
	}

	stdin, cleanup, err := stdinFor(addr, stages)
	if err != nil {
		return err
	}
	defer cleanup()

	pr, pw := io.Pipe()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.runPipeline(ctx, stages, stdin, pw)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		return stream.Tail(pr, lineCount, os.Stdout)
	})
	return g.Wait()
}

func runPlugins(cmd *cobra.Command, args []string) error {
	done := make(chan bool)
	go tui.Spinner("discovering plugins", done)
	a, err := setup()
	done <- true
	if err != nil {
		return err
	}
	if len(a.plugins) == 0 {
		fmt.Println("No plugins found. Install plugins under " + a.cfg.Plugins.BuiltinDir)
		return nil
	}
	tui.PrintPluginList(a.plugins)
	return nil
}

func runPluginsShow(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	meta, ok := plugin.ByName(args[0], a.plugins)
	if !ok {
		return fmt.Errorf("plugin %q not found", args[0])
	}
	tui.PrintPluginDetail(meta)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	defer a.close(ctx)

	inAddr, err := address.Parse(args[0])
	if err != nil {
		return err
	}
	if inAddr.Kind != address.KindFile {
		return fmt.Errorf("watch requires a local file input, got %s", inAddr.Kind)
	}

	rerun := func(path string) error {
		tui.PrintWatchEvent(path, time.Now())
		_, stages, err := a.buildRunStages(args[0], args[1])
		if err != nil {
			return err
		}
		stdin, cleanup, err := stdinFor(inAddr, stages)
		if err != nil {
			return err
		}
		defer cleanup()
		return a.runPipeline(ctx, stages, stdin, os.Stdout)
	}

	w, err := watch.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	w.OnChange = rerun
	w.OnError = func(path string, err error) {
		a.log.WithField("path", path).WithError(err).Warn("watch error")
	}

	if err := w.Watch(inAddr.Base); err != nil {
		return err
	}

	// Initial run before settling into the watch loop
	if err := rerun(inAddr.Base); err != nil {
		tui.PrintError(err)
	}

	err = w.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}
