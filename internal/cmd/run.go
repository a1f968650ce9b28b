package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/gcodeml/internal/config"
	"github.com/3leaps/gcodeml/internal/observability"
	"github.com/3leaps/gcodeml/internal/server"
	"github.com/3leaps/gcodeml/pkg/arc"
	"github.com/3leaps/gcodeml/pkg/manifest"
	"github.com/3leaps/gcodeml/pkg/output"
	"github.com/3leaps/gcodeml/pkg/proxy"
	"github.com/3leaps/gcodeml/pkg/session"
	"github.com/3leaps/gcodeml/pkg/sessionstore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit and monitor a session from manifest",
	Long: `Run a session as defined in a YAML or JSON manifest file.

Every job is submitted once with ngsub, then ngstat is polled until all jobs
are terminal. Outputs of finished jobs are downloaded with ngget and
inspected, and the session is loaded into the task database when one is
configured.

Example:
  gcodeml run --manifest batch.yaml
  gcodeml run --manifest batch.yaml --events events.jsonl
  gcodeml run --manifest batch.yaml --no-monitor
  gcodeml run --manifest batch.yaml --dry-run`,
	RunE: runRun,
}

var (
	runManifestPath string
	runDryRun       bool
	runEvents       string
	runNoMonitor    bool
	runSessionRoot  string
	runMetricsAddr  string
)

// newRunner builds the tool runner for grid commands.
var newRunner = func(logger *zap.Logger) arc.Runner {
	return arc.NewExecRunner(logger)
}

// sleepFunc waits between status polls.
var sleepFunc session.Sleeper

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runManifestPath, "manifest", "m", "", "Path to session manifest (required)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Validate manifest and show plan without submitting")
	runCmd.Flags().StringVar(&runEvents, "events", "", "Write JSONL lifecycle events (stdout, file:<path> or <path>)")
	runCmd.Flags().BoolVar(&runNoMonitor, "no-monitor", false, "Submit only; continue later with 'gcodeml resume'")
	runCmd.Flags().StringVar(&runSessionRoot, "session-root", "", "Override the directory holding session work directories")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve /metrics and /health on host:port while running")

	_ = runCmd.MarkFlagRequired("manifest")
}

// runPlan is a resolved manifest ready to execute.
type runPlan struct {
	name       string
	root       string
	debugLevel int
	jobs       []manifest.JobSpec
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	m, err := manifest.Load(runManifestPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", runManifestPath),
			zap.Error(err))
		return exitError(exitCodeFor(err, foundry.ExitInvalidArgument), "Invalid manifest", err)
	}

	baseDir := filepath.Dir(runManifestPath)
	jobs, err := m.Resolve(baseDir)
	if err != nil {
		return exitError(exitCodeFor(err, foundry.ExitInvalidArgument), "Failed to resolve jobs", err)
	}

	plan := runPlan{
		name:       m.Session.Name,
		root:       sessionRoot(cfg, m, baseDir),
		debugLevel: cfg.Tools.DebugLevel,
		jobs:       jobs,
	}
	if m.Session.DebugLevel != nil {
		plan.debugLevel = *m.Session.DebugLevel
	}

	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", runManifestPath),
		zap.String("session", plan.name),
		zap.Int("jobs", len(plan.jobs)))

	if runDryRun {
		return showRunPlan(cfg, plan)
	}
	return executeRun(ctx, cfg, plan)
}

// sessionRoot picks, in order: --session-root, the manifest's session.root
// (relative to the manifest), the configured session.root.
func sessionRoot(cfg *config.Config, m *manifest.Manifest, baseDir string) string {
	if runSessionRoot != "" {
		return runSessionRoot
	}
	if root := m.Session.Root; root != "" {
		if filepath.IsAbs(root) {
			return root
		}
		return filepath.Join(baseDir, root)
	}
	return cfg.Session.Root
}

func showRunPlan(cfg *config.Config, plan runPlan) error {
	fmt.Println("=== Session Plan (dry-run) ===")
	fmt.Println()
	fmt.Printf("Session:     %s\n", plan.name)
	fmt.Printf("Work dir:    %s\n", filepath.Join(plan.root, plan.name))
	fmt.Printf("Debug level: %d\n", plan.debugLevel)
	fmt.Printf("Tools:       %s / %s / %s\n", cfg.Tools.Submit, cfg.Tools.Status, cfg.Tools.Get)
	if cfg.Proxy.Enabled {
		fmt.Printf("Proxy:       %s (vo=%s, validity=%s)\n", cfg.Tools.ProxyInfo, cfg.Proxy.VO, cfg.Proxy.Validity)
	}
	fmt.Printf("Poll every:  %s\n", cfg.Session.PollInterval)
	fmt.Println()

	fmt.Printf("Jobs (%d):\n", len(plan.jobs))
	for _, j := range plan.jobs {
		fmt.Printf("  - %s\n", j.Name)
		fmt.Printf("      dir:       %s\n", j.Dir)
		if len(j.Arguments) > 0 {
			fmt.Printf("      arguments: %s\n", strings.Join(j.Arguments, " "))
		}
		for _, in := range j.Inputs {
			fmt.Printf("      input:     %s\n", in)
		}
		for _, out := range j.Outputs {
			fmt.Printf("      output:    %s\n", out)
		}
		if j.Walltime != "" {
			fmt.Printf("      walltime:  %s\n", j.Walltime)
		}
		if j.Cluster != "" {
			fmt.Printf("      cluster:   %s\n", j.Cluster)
		}
	}
	fmt.Println()
	fmt.Println("No jobs submitted (dry-run).")
	return nil
}

func executeRun(ctx context.Context, cfg *config.Config, plan runPlan) error {
	logger := observability.CLILogger

	// Jobs are built before the work directory exists so a bad alignment
	// leaves nothing behind.
	jobs := make([]*session.Job, 0, len(plan.jobs))
	for _, spec := range plan.jobs {
		job, err := session.CreateJob(spec.Name, spec.Arguments, spec.Inputs, spec.Outputs, jobOptions(spec)...)
		if err != nil {
			logger.Error("Invalid job", zap.String("job", spec.Name), zap.Error(err))
			return exitError(exitCodeFor(err, foundry.ExitInvalidArgument), "Invalid job "+spec.Name, err)
		}
		jobs = append(jobs, job)
	}

	sessionID := uuid.NewString()
	events, cleanup, err := createEventWriter(runEvents, sessionID, plan.name)
	if err != nil {
		logger.Error("Failed to create event writer", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create event output", err)
	}
	defer cleanup()

	opts, stopMetrics, err := sessionOptions(ctx, cfg, plan.root, plan.debugLevel, events)
	if err != nil {
		return err
	}
	defer stopMetrics()

	sess, err := session.New(plan.root, plan.name, append(opts, session.WithID(sessionID))...)
	if err != nil {
		return exitError(exitCodeFor(err, foundry.ExitFileWriteError), "Failed to create session", err)
	}
	if err := sess.AddJob(jobs...); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to add jobs", err)
	}

	start := time.Now()
	sum, err := sess.Submit(ctx)
	if err != nil {
		return exitError(exitCodeFor(err, foundry.ExitExternalServiceUnavailable), "Submission failed", err)
	}
	logger.Info("Submission complete",
		zap.Int("submitted", sum.Submitted),
		zap.Int("failed", sum.Failed),
		zap.Duration("elapsed", time.Since(start)))

	if runNoMonitor {
		fmt.Printf("Submitted %d of %d jobs. Continue with: %s resume %s\n",
			sum.Submitted, len(jobs), binaryName, sess.WorkDir())
		return nil
	}
	return monitorAndFinish(ctx, cfg, sess, events)
}

// monitorAndFinish polls until every job is terminal, then harvests outputs,
// emits the summary and loads the session into the task database.
func monitorAndFinish(ctx context.Context, cfg *config.Config, sess *session.Session, events output.Writer) error {
	logger := observability.CLILogger

	if err := sess.Monitor(ctx, cfg.Session.PollInterval); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Monitoring interrupted; the session can be resumed",
				zap.String("work_dir", sess.WorkDir()))
			return exitError(foundry.ExitSignalInt, "Monitoring interrupted", err)
		}
		return exitError(exitCodeFor(err, foundry.ExitExternalServiceUnavailable), "Monitoring failed", err)
	}

	hsum, err := sess.Harvest(ctx)
	if err != nil {
		return exitError(exitCodeFor(err, foundry.ExitExternalServiceUnavailable), "Harvest failed", err)
	}
	logger.Info("Outputs harvested",
		zap.Int("fetched", hsum.Fetched),
		zap.Int("failed", hsum.Failed),
		zap.Int("skipped", hsum.Skipped))

	if err := events.WriteSummary(ctx, sess.Summary()); err != nil {
		logger.Warn("Failed to write summary record", zap.Error(err))
	}

	if taskDBConfigured(cfg) {
		if err := ingestRecord(ctx, cfg, sess.Snapshot()); err != nil {
			logger.Error("Failed to load session into task database", zap.Error(err))
			return exitError(foundry.ExitFileWriteError, "Task database ingest failed", err)
		}
	}

	if d, ok := sess.Duration(); ok {
		fmt.Printf("Session %s finished in %.1f seconds\n", sess.Name(), d)
	}
	return nil
}

// sessionOptions wires the grid tools, credential guard, pacing, snapshots,
// events and optional metrics into session options. The returned func stops
// the metrics listener.
func sessionOptions(ctx context.Context, cfg *config.Config, root string, debugLevel int, events output.Writer) ([]session.Option, func(), error) {
	logger := observability.CLILogger
	runner := newRunner(logger)

	client := arc.NewClient(runner, arc.Tools{
		Submit:     cfg.Tools.Submit,
		Status:     cfg.Tools.Status,
		Get:        cfg.Tools.Get,
		DebugLevel: debugLevel,
		IDScheme:   cfg.Tools.IDScheme,
	}, logger)

	opts := []session.Option{
		session.WithClient(client),
		session.WithLogger(logger),
		session.WithDebugLevel(debugLevel),
		session.WithStore(sessionstore.NewStore(root)),
		session.WithEventSink(events),
		session.WithSleeper(sleepFunc),
	}

	if cfg.Proxy.Enabled {
		opts = append(opts, session.WithGuard(proxy.NewVOMS(runner, proxy.Config{
			InfoTool: cfg.Tools.ProxyInfo,
			InitTool: cfg.Tools.ProxyInit,
			VO:       cfg.Proxy.VO,
			Validity: cfg.Proxy.Validity,
		}, logger)))
	}

	if cfg.Session.SubmitRate > 0 {
		burst := cfg.Session.SubmitBurst
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, session.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Session.SubmitRate), burst)))
	}

	stop := func() {}
	if runMetricsAddr != "" {
		metrics, srvStop, err := startMetricsServer(ctx, cfg, runMetricsAddr)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, session.WithMetrics(metrics))
		stop = srvStop
	}
	return opts, stop, nil
}

// startMetricsServer serves lifecycle metrics on addr for the duration of a
// run.
func startMetricsServer(ctx context.Context, cfg *config.Config, addr string) (*observability.Metrics, func(), error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid --metrics-addr", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Invalid --metrics-addr port", err)
	}

	metrics, handler, err := observability.NewMetrics(ctx)
	if err != nil {
		return nil, nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to initialize metrics", err)
	}

	srv := server.New(host, port,
		server.WithMetrics(metrics, handler),
		server.WithLogger(observability.CLILogger),
		server.WithVersion(versionInfo.Version))
	go func() {
		if err := srv.Start(); err != nil {
			observability.CLILogger.Warn("Metrics server stopped", zap.Error(err))
		}
	}()
	observability.CLILogger.Info("Serving metrics", zap.String("addr", addr))

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return metrics, stop, nil
}

func jobOptions(spec manifest.JobSpec) []session.JobOption {
	opts := []session.JobOption{
		session.WithWalltime(spec.Walltime),
		session.WithCluster(spec.Cluster),
		session.WithRuntimeEnvironment(spec.RuntimeEnvironment),
		session.WithExecutable(spec.Executable),
		session.WithInputDir(spec.Dir),
	}
	if spec.Rerun != nil {
		opts = append(opts, session.WithRerun(*spec.Rerun))
	}
	return opts
}

// createEventWriter opens the JSONL event destination. An empty dest
// discards events.
// Returns the writer, a cleanup function, and any error.
func createEventWriter(dest, sessionID, name string) (output.Writer, func(), error) {
	switch dest {
	case "":
		return output.Discard{}, func() {}, nil
	case "-", "stdout":
		w := output.NewJSONLWriter(os.Stdout, sessionID, name)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open event file %s: %w", path, err)
	}
	w := output.NewJSONLWriter(f, sessionID, name)
	return w, func() {
		_ = w.Close()
		_ = f.Close()
	}, nil
}
